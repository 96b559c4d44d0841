package room

import (
	"time"

	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

// Cursor forwards a pointer position to the other members, tagged with the
// sender's id and name
func (r *Registry) Cursor(roomCode, participantID string, x, y float64) {
	rm, m := r.memberRoom(roomCode, participantID)
	if rm == nil {
		return
	}
	defer rm.mu.Unlock()

	r.broadcastLocked(rm, participantID, models.TypeCursorMove, models.CursorMove{
		ID:       participantID,
		Username: m.user.Username,
		X:        x,
		Y:        y,
	})
}

// Chat broadcasts a chat line to the whole room, sender included, stamped
// with the server time in epoch milliseconds
func (r *Registry) Chat(roomCode, participantID, message string) {
	rm, m := r.memberRoom(roomCode, participantID)
	if rm == nil {
		return
	}
	defer rm.mu.Unlock()

	r.broadcastLocked(rm, "", models.TypeChatMessage, models.ChatMessage{
		Username:  m.user.Username,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}
