package room

import (
	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

// Draw appends a single event to the room history and forwards it as draw to
// every other member. The event's DrawerID is overwritten with participantID.
func (r *Registry) Draw(roomCode, participantID string, ev models.DrawEvent) {
	rm, _ := r.memberRoom(roomCode, participantID)
	if rm == nil {
		return
	}
	defer rm.mu.Unlock()

	ev.DrawerID = participantID
	r.appendLocked(rm, ev)
	r.broadcastLocked(rm, participantID, models.TypeDraw, ev)
}

// AppendAndBroadcast appends a batch in received order and forwards it as a
// single draw-batch to every other member. Empty batches, unknown rooms and
// non-members are ignored.
func (r *Registry) AppendAndBroadcast(roomCode, participantID string, events []models.DrawEvent) {
	if len(events) == 0 {
		return
	}
	rm, _ := r.memberRoom(roomCode, participantID)
	if rm == nil {
		return
	}
	defer rm.mu.Unlock()

	batch := make([]models.DrawEvent, len(events))
	for i, ev := range events {
		ev.DrawerID = participantID
		batch[i] = ev
	}
	r.appendLocked(rm, batch...)
	r.broadcastLocked(rm, participantID, models.TypeDrawBatch, batch)
}

// Clear empties the room history and tells every member, sender included
func (r *Registry) Clear(roomCode string) {
	rm := r.room(roomCode)
	if rm == nil {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.history = nil
	r.broadcastLocked(rm, "", models.TypeClearCanvas, nil)
	r.log.Info("Canvas cleared", "room", roomCode)
}

// appendLocked adds events to the history. When the history grows past the
// high-water mark only the newest keep entries survive.
func (r *Registry) appendLocked(rm *Room, events ...models.DrawEvent) {
	rm.history = append(rm.history, events...)
	if len(rm.history) <= r.highWater {
		return
	}

	before := len(rm.history)
	kept := make([]models.DrawEvent, r.keep)
	copy(kept, rm.history[before-r.keep:])
	rm.history = kept
	r.log.Info("Compacted history", "room", rm.Code, "from", before, "to", len(kept))
}
