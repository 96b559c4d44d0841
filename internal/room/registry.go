// Package room holds the authoritative state of every drawing room: who is
// in it, their display colors and the ordered draw history.
//
// A Registry is the only writer of that state. Every mutation of a room runs
// under the room's mutex and fans out to members with non-blocking sends, so
// handling within a room is serialized while different rooms proceed
// independently. Lock order is registry before room.
package room

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

// Palette is the set of display colors handed out at join time
var Palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4",
	"#FFEAA7", "#DDA0DD", "#98D8C8", "#F7DC6F",
	"#BB8FCE", "#85C1E9", "#F0B27A", "#82E0AA",
}

const (
	DefaultGracePeriod = 5 * time.Minute
	DefaultHighWater   = 50000
	DefaultKeep        = 30000
)

// Sender is the outbound side of a participant connection. Send must not
// block; it reports false when the frame was dropped.
type Sender interface {
	Send(data []byte) bool
}

// Options configures a Registry. Zero values fall back to the defaults.
type Options struct {
	GracePeriod time.Duration
	HighWater   int
	Keep        int
	Logger      *log.Logger
}

// JoinResult is what the joiner learns about the room it entered
type JoinResult struct {
	Color   string
	History []models.DrawEvent
	Users   []models.User
}

type member struct {
	user models.User
	conn Sender
}

// Room is a single shared canvas
type Room struct {
	Code      string
	CreatedAt time.Time

	mu        sync.Mutex
	members   []*member
	history   []models.DrawEvent
	reapTimer *time.Timer
}

// Registry maps room codes to rooms and participants to the room they are in
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	members map[string]string

	grace     time.Duration
	highWater int
	keep      int
	log       *log.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		rooms:     make(map[string]*Room),
		members:   make(map[string]string),
		grace:     opts.GracePeriod,
		highWater: opts.HighWater,
		keep:      opts.Keep,
		log:       opts.Logger,
	}
	if r.grace <= 0 {
		r.grace = DefaultGracePeriod
	}
	if r.highWater <= 0 {
		r.highWater = DefaultHighWater
	}
	if r.keep <= 0 || r.keep > r.highWater {
		r.keep = min(DefaultKeep, r.highWater)
	}
	if r.log == nil {
		r.log = log.Default().WithPrefix("Room")
	}
	return r
}

// Join places participantID in roomCode, creating the room if needed. A
// participant already in another room leaves it first.
//
// The joiner receives canvas-history, every member receives users-updated and
// everyone but the joiner receives user-joined.
func (r *Registry) Join(roomCode, participantID, displayName string, conn Sender) JoinResult {
	r.Leave(participantID)

	r.mu.Lock()
	rm, ok := r.rooms[roomCode]
	if !ok {
		rm = &Room{Code: roomCode, CreatedAt: time.Now()}
		r.rooms[roomCode] = rm
		r.log.Info("Created room", "room", roomCode)
	}
	r.members[participantID] = roomCode
	rm.mu.Lock()
	r.mu.Unlock()
	defer rm.mu.Unlock()

	if rm.reapTimer != nil {
		rm.reapTimer.Stop()
		rm.reapTimer = nil
	}

	user := models.User{
		ID:       participantID,
		Username: displayName,
		Color:    Palette[rand.IntN(len(Palette))],
	}
	rm.members = append(rm.members, &member{user: user, conn: conn})

	res := JoinResult{
		Color:   user.Color,
		History: rm.historyLocked(),
		Users:   rm.usersLocked(),
	}

	r.send(rm, participantID, conn, models.TypeCanvasHistory, res.History)
	r.broadcastLocked(rm, "", models.TypeUsersUpdated, res.Users)
	r.broadcastLocked(rm, participantID, models.TypeUserJoined, models.Membership{
		ID:       participantID,
		Username: displayName,
	})

	r.log.Info("User joined", "room", roomCode, "participant", participantID, "username", displayName, "users", len(rm.members))
	return res
}

// Leave removes participantID from its room. Calling it for a participant
// that is in no room does nothing.
func (r *Registry) Leave(participantID string) {
	r.mu.Lock()
	code, ok := r.members[participantID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.members, participantID)
	rm := r.rooms[code]
	if rm == nil {
		r.mu.Unlock()
		return
	}
	rm.mu.Lock()
	r.mu.Unlock()
	defer rm.mu.Unlock()

	idx := rm.indexLocked(participantID)
	if idx < 0 {
		return
	}
	left := rm.members[idx].user
	rm.members = append(rm.members[:idx], rm.members[idx+1:]...)

	if len(rm.members) == 0 {
		r.scheduleReapLocked(rm)
		r.log.Info("Room empty, scheduled for deletion", "room", code, "grace", r.grace)
		return
	}

	r.broadcastLocked(rm, "", models.TypeUsersUpdated, rm.usersLocked())
	r.broadcastLocked(rm, "", models.TypeUserLeft, models.Membership{
		ID:       left.ID,
		Username: left.Username,
	})
	r.log.Info("User left", "room", code, "participant", participantID, "users", len(rm.members))
}

// scheduleReapLocked arms the deferred deletion of an empty room
func (r *Registry) scheduleReapLocked(rm *Room) {
	if rm.reapTimer != nil {
		rm.reapTimer.Stop()
	}
	rm.reapTimer = time.AfterFunc(r.grace, func() { r.reap(rm) })
}

// reap deletes rm if it is still registered and still empty
func (r *Registry) reap(rm *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[rm.Code] != rm {
		return
	}
	rm.mu.Lock()
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if empty {
		delete(r.rooms, rm.Code)
		r.log.Info("Deleted room", "room", rm.Code)
	}
}

// Exists reports whether roomCode is live, including rooms in their grace window
func (r *Registry) Exists(roomCode string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomCode]
	return ok
}

// History returns a copy of the room's history, or nil for an unknown room
func (r *Registry) History(roomCode string) []models.DrawEvent {
	rm := r.room(roomCode)
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.historyLocked()
}

// Users returns the current members in join order
func (r *Registry) Users(roomCode string) []models.User {
	rm := r.room(roomCode)
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.usersLocked()
}

// RoomOf returns the room code participantID is in, or "" if none
func (r *Registry) RoomOf(participantID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members[participantID]
}

// Len returns the number of live rooms
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) room(code string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[code]
}

// memberRoom returns the room locked when participantID is one of its
// members, nil otherwise. The caller unlocks.
func (r *Registry) memberRoom(roomCode, participantID string) (*Room, *member) {
	rm := r.room(roomCode)
	if rm == nil {
		return nil, nil
	}
	rm.mu.Lock()
	idx := rm.indexLocked(participantID)
	if idx < 0 {
		rm.mu.Unlock()
		return nil, nil
	}
	return rm, rm.members[idx]
}

func (rm *Room) indexLocked(participantID string) int {
	for i, m := range rm.members {
		if m.user.ID == participantID {
			return i
		}
	}
	return -1
}

func (rm *Room) historyLocked() []models.DrawEvent {
	out := make([]models.DrawEvent, len(rm.history))
	copy(out, rm.history)
	return out
}

func (rm *Room) usersLocked() []models.User {
	out := make([]models.User, len(rm.members))
	for i, m := range rm.members {
		out[i] = m.user
	}
	return out
}

func (r *Registry) send(rm *Room, participantID string, conn Sender, msgType string, data interface{}) {
	frame, err := models.Encode(msgType, data)
	if err != nil {
		r.log.Error("Failed to encode message", "room", rm.Code, "type", msgType, "err", err)
		return
	}
	if !conn.Send(frame) {
		r.log.Warn("Send queue full, dropped message", "room", rm.Code, "participant", participantID, "type", msgType)
	}
}

// broadcastLocked encodes once and fans out to every member except the one
// named by except
func (r *Registry) broadcastLocked(rm *Room, except, msgType string, data interface{}) {
	frame, err := models.Encode(msgType, data)
	if err != nil {
		r.log.Error("Failed to encode broadcast", "room", rm.Code, "type", msgType, "err", err)
		return
	}
	for _, m := range rm.members {
		if m.user.ID == except {
			continue
		}
		if !m.conn.Send(frame) {
			r.log.Warn("Send queue full, dropped message", "room", rm.Code, "participant", m.user.ID, "type", msgType)
		}
	}
}
