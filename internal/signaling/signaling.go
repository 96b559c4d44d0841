// Package signaling relays opaque voice negotiation payloads between two
// participants. The relay knows identities only; room membership is not
// consulted.
package signaling

import (
	"encoding/json"

	"github.com/charmbracelet/log"
	"github.com/puzpuzpuz/xsync/v3"
	"gitlab.com/paintwithbuddy/services/backend/internal/room"
	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

// Directory tracks every live connection by participant id. Connections
// are registered on upgrade, before they join any room.
type Directory struct {
	conns *xsync.MapOf[string, room.Sender]
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{conns: xsync.NewMapOf[string, room.Sender]()}
}

// Register adds or replaces the connection for participantID
func (d *Directory) Register(participantID string, conn room.Sender) {
	d.conns.Store(participantID, conn)
}

// Unregister removes participantID. Unknown ids are ignored.
func (d *Directory) Unregister(participantID string) {
	d.conns.Delete(participantID)
}

// Lookup returns the connection for participantID
func (d *Directory) Lookup(participantID string) (room.Sender, bool) {
	return d.conns.Load(participantID)
}

// Len returns the number of registered connections
func (d *Directory) Len() int {
	return d.conns.Size()
}

// Relay forwards voice-signal frames point to point
type Relay struct {
	dir *Directory
	log *log.Logger
}

// NewRelay creates a relay over dir
func NewRelay(dir *Directory, logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.Default().WithPrefix("Signaling")
	}
	return &Relay{dir: dir, log: logger}
}

// Forward delivers {from, signal} to the participant named by to. It does not
// sequence, retry or deduplicate. An unknown recipient is a silent no-op and
// Forward reports false.
func (r *Relay) Forward(from, to string, signal json.RawMessage) bool {
	if to == "" || to == from {
		return false
	}
	peer, ok := r.dir.Lookup(to)
	if !ok {
		r.log.Debug("Peer not found", "from", from, "to", to)
		return false
	}

	frame, err := models.Encode(models.TypeVoiceSignal, models.VoiceSignal{
		From:   from,
		Signal: signal,
	})
	if err != nil {
		r.log.Error("Failed to encode voice signal", "err", err)
		return false
	}

	if !peer.Send(frame) {
		r.log.Warn("Forward failed, send queue full", "from", from, "to", to)
		return false
	}
	return true
}
