// Package handlers dispatches inbound websocket frames to the room registry
// and the voice relay
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"gitlab.com/paintwithbuddy/services/backend/internal/ratelimit"
	"gitlab.com/paintwithbuddy/services/backend/internal/room"
	"gitlab.com/paintwithbuddy/services/backend/internal/signaling"
	"gitlab.com/paintwithbuddy/services/backend/internal/ws"
	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

const (
	defaultUsername = "Anonymous"
	maxUsernameLen  = 32
	maxRoomCodeLen  = 64
	maxChatLen      = 500
)

// MessageHandler is the per-server reactor. Each connection's read pump
// calls it sequentially, so frames from one participant are handled in
// arrival order.
type MessageHandler struct {
	rooms   *room.Registry
	relay   *signaling.Relay
	dir     *signaling.Directory
	limiter *ratelimit.Limiter
	log     *log.Logger
}

func NewMessageHandler(rooms *room.Registry, dir *signaling.Directory, relay *signaling.Relay, limiter *ratelimit.Limiter, logger *log.Logger) *MessageHandler {
	if logger == nil {
		logger = log.Default().WithPrefix("Handler")
	}
	return &MessageHandler{
		rooms:   rooms,
		relay:   relay,
		dir:     dir,
		limiter: limiter,
		log:     logger,
	}
}

// Connect registers a freshly upgraded connection for signaling and tells
// it its participant id
func (h *MessageHandler) Connect(participantID string, conn room.Sender) {
	h.dir.Register(participantID, conn)

	frame, err := models.Encode(models.TypeWelcome, models.Welcome{ID: participantID})
	if err != nil {
		h.log.Error("Failed to encode welcome", "err", err)
		return
	}
	conn.Send(frame)
	h.log.Debug("User connected", "participant", participantID)
}

// HandleMessage implements ws.Handler
func (h *MessageHandler) HandleMessage(c *ws.Client, message []byte) {
	h.Dispatch(c.ID, c, message)
}

// Disconnect implements ws.Handler
func (h *MessageHandler) Disconnect(c *ws.Client) {
	h.Leave(c.ID)
}

// Leave removes every trace of a participant
func (h *MessageHandler) Leave(participantID string) {
	h.rooms.Leave(participantID)
	h.dir.Unregister(participantID)
	h.limiter.Forget(participantID)
	h.log.Debug("User disconnected", "participant", participantID)
}

// Dispatch decodes one frame and routes it. Malformed frames are logged and
// dropped; nothing here ends the connection.
func (h *MessageHandler) Dispatch(participantID string, conn room.Sender, message []byte) {
	var msg models.WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		h.log.Warn("Failed to unmarshal message", "participant", participantID, "err", err)
		return
	}

	switch msg.Type {
	case models.TypeJoinRoom:
		h.handleJoinRoom(participantID, conn, msg.Data)

	case models.TypeDraw:
		h.handleDraw(participantID, msg.Data)

	case models.TypeDrawBatch:
		h.handleDrawBatch(participantID, msg.Data)

	case models.TypeClearCanvas:
		if code := h.rooms.RoomOf(participantID); code != "" {
			h.rooms.Clear(code)
		}

	case models.TypeUndoRequest:
		if code := h.rooms.RoomOf(participantID); code != "" {
			h.rooms.Undo(code, participantID)
		}

	case models.TypeVoiceSignal:
		h.handleVoiceSignal(participantID, msg.Data)

	case models.TypeCursorMove:
		h.handleCursorMove(participantID, msg.Data)

	case models.TypeChatMessage:
		h.handleChatMessage(participantID, msg.Data)

	default:
		h.log.Debug("Unknown message type", "type", msg.Type, "participant", participantID)
	}
}

func (h *MessageHandler) handleJoinRoom(participantID string, conn room.Sender, data json.RawMessage) {
	var req models.JoinRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.log.Warn("Invalid join-room payload", "participant", participantID, "err", err)
		return
	}

	code := strings.TrimSpace(req.RoomCode)
	if code == "" || len(code) > maxRoomCodeLen {
		h.log.Warn("Rejected room code", "participant", participantID, "room", req.RoomCode)
		return
	}

	h.rooms.Join(code, participantID, normalizeUsername(req.Username), conn)
}

func (h *MessageHandler) handleDraw(participantID string, data json.RawMessage) {
	code := h.rooms.RoomOf(participantID)
	if code == "" {
		return
	}

	var ev models.DrawEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		h.logMalformed(participantID, err)
		return
	}
	h.rooms.Draw(code, participantID, ev)
}

func (h *MessageHandler) handleDrawBatch(participantID string, data json.RawMessage) {
	code := h.rooms.RoomOf(participantID)
	if code == "" {
		return
	}

	events, skipped, err := models.DecodeBatch(data)
	if err != nil {
		h.logMalformed(participantID, err)
		return
	}
	for _, e := range skipped {
		h.logMalformed(participantID, e)
	}
	h.rooms.AppendAndBroadcast(code, participantID, events)
}

func (h *MessageHandler) handleVoiceSignal(participantID string, data json.RawMessage) {
	var vs models.VoiceSignal
	if err := json.Unmarshal(data, &vs); err != nil || vs.To == "" || len(vs.Signal) == 0 {
		h.log.Warn("Invalid voice-signal payload", "participant", participantID)
		return
	}
	if err := h.limiter.Check(context.Background(), ratelimit.ActionSignal, participantID); err != nil {
		h.log.Warn("Voice signal dropped", "participant", participantID, "err", err)
		return
	}
	h.relay.Forward(participantID, vs.To, vs.Signal)
}

func (h *MessageHandler) handleCursorMove(participantID string, data json.RawMessage) {
	code := h.rooms.RoomOf(participantID)
	if code == "" {
		return
	}

	var cm models.CursorMove
	if err := json.Unmarshal(data, &cm); err != nil {
		return
	}
	h.rooms.Cursor(code, participantID, cm.X, cm.Y)
}

func (h *MessageHandler) handleChatMessage(participantID string, data json.RawMessage) {
	code := h.rooms.RoomOf(participantID)
	if code == "" {
		return
	}

	var cm models.ChatMessage
	if err := json.Unmarshal(data, &cm); err != nil {
		h.log.Warn("Invalid chat-message payload", "participant", participantID, "err", err)
		return
	}
	text := strings.TrimSpace(cm.Message)
	if text == "" {
		return
	}
	if utf8.RuneCountInString(text) > maxChatLen {
		text = string([]rune(text)[:maxChatLen])
	}

	if err := h.limiter.Check(context.Background(), ratelimit.ActionChat, participantID); err != nil {
		h.log.Warn("Chat message dropped", "participant", participantID, "err", err)
		return
	}
	h.rooms.Chat(code, participantID, text)
}

func (h *MessageHandler) logMalformed(participantID string, err error) {
	if errors.Is(err, models.ErrUnknownEventKind) {
		h.log.Warn("Dropped draw event of unknown kind", "participant", participantID, "err", err)
		return
	}
	h.log.Debug("Dropped malformed draw event", "participant", participantID, "err", err)
}

func normalizeUsername(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultUsername
	}
	if utf8.RuneCountInString(name) > maxUsernameLen {
		name = string([]rune(name)[:maxUsernameLen])
	}
	return name
}
