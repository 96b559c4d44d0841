package room

import (
	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

// Undo removes the caller's most recent gesture from the room history. The
// gesture is found by scanning backward for the newest event drawn by
// participantID; every event of that participant sharing its stroke id is
// dropped, and the whole remaining history goes out as full-redraw to the
// entire room. Events of other participants are never removed, even when
// they reuse the same stroke id.
//
// It reports whether anything was removed. A caller with no events in the
// history changes nothing and triggers no broadcast.
func (r *Registry) Undo(roomCode, participantID string) bool {
	rm, _ := r.memberRoom(roomCode, participantID)
	if rm == nil {
		return false
	}
	defer rm.mu.Unlock()

	strokeID := ""
	for i := len(rm.history) - 1; i >= 0; i-- {
		if rm.history[i].DrawerID == participantID {
			strokeID = rm.history[i].StrokeID
			break
		}
	}
	if strokeID == "" {
		return false
	}

	kept := rm.history[:0:0]
	removed := 0
	for _, ev := range rm.history {
		if ev.StrokeID == strokeID && ev.DrawerID == participantID {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	rm.history = kept

	r.broadcastLocked(rm, "", models.TypeFullRedraw, rm.historyLocked())
	r.log.Debug("Undo", "room", roomCode, "participant", participantID, "stroke", strokeID, "removed", removed)
	return true
}
