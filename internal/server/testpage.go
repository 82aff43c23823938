// Package server serves the built-in browser page for trying rooms by hand.
package server

import (
	"fmt"
	"net/http"
)

// TestPageHandler serves an HTML page for exercising rooms by hand: create
// or join a room, authenticate the socket, and exchange messages.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPageHTML)
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>duochat test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        input[type="text"], input[type="password"] { width: 160px; padding: 5px; margin-right: 6px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>duochat</h1>
    <div>
        <input type="text" id="username" placeholder="username">
        <input type="password" id="password" placeholder="password">
        <input type="text" id="roomId" placeholder="room id">
        <button onclick="createRoom()">Create</button>
        <button onclick="joinRoom()">Join</button>
    </div>
    <div id="status" class="status disconnected">Disconnected</div>
    <div id="messages"></div>
    <div>
        <input type="text" id="text" placeholder="message">
        <button onclick="sendMessage()">Send</button>
    </div>
    <script>
        let ws = null;
        const $ = (id) => document.getElementById(id);

        function log(line) {
            const div = document.createElement('div');
            div.textContent = line;
            $('messages').appendChild(div);
            $('messages').scrollTop = $('messages').scrollHeight;
        }

        function setStatus(connected, label) {
            $('status').textContent = label;
            $('status').className = 'status ' + (connected ? 'connected' : 'disconnected');
        }

        async function post(path, body) {
            const resp = await fetch(path, {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify(body),
            });
            const data = await resp.json();
            if (!resp.ok) { throw new Error(data.error); }
            return data;
        }

        async function createRoom() {
            try {
                const data = await post('/create-room', { username: $('username').value, password: $('password').value });
                const info = await (await fetch('/room/' + data.room)).json();
                $('roomId').value = info.room_id;
                connect(data.room);
            } catch (e) { log('Error: ' + e.message); }
        }

        async function joinRoom() {
            try {
                const data = await post('/join-room-by-id', {
                    room_id: $('roomId').value, password: $('password').value, username: $('username').value,
                });
                connect(data.room);
            } catch (e) { log('Error: ' + e.message); }
        }

        function connect(handle) {
            if (ws) { ws.close(); }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws/' + handle);
            ws.onopen = () => {
                ws.send(JSON.stringify({ password: $('password').value, username: $('username').value }));
                setStatus(true, 'Connected to room ' + $('roomId').value);
            };
            ws.onmessage = (event) => {
                const msg = JSON.parse(event.data);
                log('[' + new Date(msg.timestamp).toLocaleTimeString() + '] ' + msg.username + ': ' + msg.text);
            };
            ws.onclose = (event) => {
                setStatus(false, 'Disconnected' + (event.reason ? ' (' + event.reason + ')' : ''));
                ws = null;
            };
        }

        function sendMessage() {
            const text = $('text').value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ type: 'message', text: text }));
                $('text').value = '';
            }
        }

        $('text').addEventListener('keypress', (e) => { if (e.key === 'Enter') { sendMessage(); } });
    </script>
</body>
</html>`
