package models

import (
	"encoding/json"
	"fmt"
)

// Message types exchanged over the room websocket
const (
	TypeJoinRoom      = "join-room"
	TypeWelcome       = "welcome"
	TypeCanvasHistory = "canvas-history"
	TypeDraw          = "draw"
	TypeDrawBatch     = "draw-batch"
	TypeClearCanvas   = "clear-canvas"
	TypeUndoRequest   = "undo-request"
	TypeFullRedraw    = "full-redraw"
	TypeUsersUpdated  = "users-updated"
	TypeUserJoined    = "user-joined"
	TypeUserLeft      = "user-left"
	TypeVoiceSignal   = "voice-signal"
	TypeCursorMove    = "cursor-move"
	TypeChatMessage   = "chat-message"
)

// User is a participant as seen by the other members of a room
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Color    string `json:"color"`
}

// WSMessage is the envelope for every websocket frame in both directions
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode marshals a typed payload into a ready-to-send frame.
// A nil payload produces a frame without data.
func Encode(msgType string, data interface{}) ([]byte, error) {
	msg := struct {
		Type string      `json:"type"`
		Data interface{} `json:"data,omitempty"`
	}{Type: msgType, Data: data}

	frame, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msgType, err)
	}
	return frame, nil
}

// JoinRoomRequest is sent by a client to enter a room
type JoinRoomRequest struct {
	RoomCode string `json:"roomCode"`
	Username string `json:"username"`
}

// Welcome tells a freshly connected client its participant id
type Welcome struct {
	ID string `json:"id"`
}

// Membership is the payload of user-joined and user-left
type Membership struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// CursorMove carries pointer coordinates. ID and Username are filled in
// by the server on relay.
type CursorMove struct {
	ID       string  `json:"id,omitempty"`
	Username string  `json:"username,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// ChatMessage is a room chat line. Username and Timestamp (epoch millis)
// are added server-side.
type ChatMessage struct {
	Username  string `json:"username,omitempty"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// VoiceSignal is relayed between two participants. Outbound frames carry
// To; the relay rewrites them to carry From. Signal is opaque to the server.
type VoiceSignal struct {
	To     string          `json:"to,omitempty"`
	From   string          `json:"from,omitempty"`
	Signal json.RawMessage `json:"signal"`
}

// RoomExistsResponse is returned by GET /api/room-exists/{code}
type RoomExistsResponse struct {
	Exists bool `json:"exists"`
}

// ICEServer is one STUN or TURN entry in the shape WebRTC stacks expect
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ICEServersResponse is returned by GET /api/ice-servers
type ICEServersResponse struct {
	ICEServers []ICEServer `json:"iceServers"`
}
