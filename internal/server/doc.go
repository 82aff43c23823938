// Package server implements the HTTP and WebSocket shell of duochat.
//
// The shell accepts room sockets, runs the authentication handshake, and
// forwards chat frames to the relay engine. It also exposes the small HTTP
// surface used to create, list, and look up rooms. The implementation is
// organized into specialized files for configuration, client pumps, the
// connection hub, routing, and handlers.
package server
