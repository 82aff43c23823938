// Package protocol defines the JSON frames exchanged over a room socket.
//
// The first client frame is an Auth frame. Every later client frame is
// decoded into one of Chat or Unknown; Unknown frames are ignored by the
// server. The server sends Delivery frames.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TypeMessage is the type tag of a chat frame.
const TypeMessage = "message"

// ErrMalformed is returned for frames that are not JSON objects or lack
// required fields.
var ErrMalformed = errors.New("malformed message")

// Inbound is a decoded client frame: Auth, Chat or Unknown.
type Inbound interface {
	inbound()
}

// Auth carries handshake credentials.
type Auth struct {
	Password string `json:"password"`
	Username string `json:"username"`
}

// Chat is a message to broadcast to the room.
type Chat struct {
	Text string `json:"text"`
}

// Unknown is any other object-shaped frame.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (Auth) inbound()    {}
func (Chat) inbound()    {}
func (Unknown) inbound() {}

// Delivery is the payload handed to each recipient.
type Delivery struct {
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	return fields, nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := fields[name]
	if !ok {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}

// DecodeAuth decodes the handshake frame. Both fields must be present,
// strings, and non-blank.
func DecodeAuth(data []byte) (Auth, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return Auth{}, err
	}

	password, ok := stringField(fields, "password")
	if !ok || password == "" {
		return Auth{}, fmt.Errorf("%w: password required", ErrMalformed)
	}
	username, ok := stringField(fields, "username")
	username = strings.TrimSpace(username)
	if !ok || username == "" {
		return Auth{}, fmt.Errorf("%w: username required", ErrMalformed)
	}

	return Auth{Password: password, Username: username}, nil
}

// Decode classifies an in-session frame.
func Decode(data []byte) (Inbound, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return nil, err
	}

	typ, _ := stringField(fields, "type")
	if typ == TypeMessage {
		if text, ok := stringField(fields, "text"); ok {
			return Chat{Text: text}, nil
		}
	}
	return Unknown{Type: typ, Raw: json.RawMessage(data)}, nil
}

// EncodeDelivery serializes a delivery frame.
func EncodeDelivery(d Delivery) ([]byte, error) {
	return json.Marshal(d)
}
