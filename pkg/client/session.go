// Package client is the Go SDK for a PaintWithBuddy room: it keeps a local
// canvas in sync with the room history and batches locally drawn strokes.
//
// All gesture calls, inbound frames and flush ticks run on the single
// goroutine started by Session.Run, so the canvas and the pending batch are
// never touched concurrently.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gitlab.com/paintwithbuddy/services/backend/pkg/floodfill"
	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

var (
	// ErrClosed is returned by calls made after the session loop has stopped
	ErrClosed = errors.New("session closed")
	// ErrInvalidBrush is returned by SetBrush for a tool or size other
	// clients would reject
	ErrInvalidBrush = errors.New("invalid brush")
)

const (
	DefaultFlushInterval = 30 * time.Millisecond
	DefaultWidth         = 1280
	DefaultHeight        = 720

	writeWait = 10 * time.Second
)

// ToolFill selects flood fill instead of a stroke tool
const ToolFill models.Tool = "fill"

// Conn is the subset of *websocket.Conn the session uses
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Brush is the current drawing tool state
type Brush struct {
	Tool    models.Tool
	Size    float64
	Color   string
	Opacity float64
}

// Validate checks the brush would produce events other clients accept
func (b Brush) Validate() error {
	if _, err := floodfill.ParseColor(b.Color); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBrush, err)
	}
	if b.Tool == ToolFill {
		return nil
	}
	sample := models.NewStroke("brush", models.Stroke{Tool: b.Tool, Size: b.Size, Color: b.Color, Opacity: b.Opacity})
	if err := sample.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBrush, err)
	}
	return nil
}

// DefaultBrush is a small opaque black brush
var DefaultBrush = Brush{Tool: models.ToolBrush, Size: 5, Color: "#000000", Opacity: 1}

// Events are invoked on the session loop goroutine. Any may be nil. A
// callback must not call gesture methods, SetBrush or Snapshot, which wait
// on that same goroutine.
type Events struct {
	OnWelcome     func(id string)
	OnCanvas      func(img *image.RGBA)
	OnUsers       func(users []models.User)
	OnUserJoined  func(m models.Membership)
	OnUserLeft    func(m models.Membership)
	OnCursor      func(c models.CursorMove)
	OnChat        func(c models.ChatMessage)
	OnVoiceSignal func(from string, signal json.RawMessage)
}

type Options struct {
	FlushInterval time.Duration
	Width         int
	Height        int
	Renderer      StrokeRenderer
	Events        Events
	Logger        *log.Logger
}

type Session struct {
	conn    Conn
	opts    Options
	log     *log.Logger
	canvas  *Canvas
	batcher Batcher

	// loop-owned gesture state
	brush    Brush
	drawing  bool
	last     models.Point
	strokeID string

	actions   chan func()
	done      chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex

	idMu sync.RWMutex
	id   string
}

// Dial connects to a server's room websocket. serverURL may be http(s) or
// ws(s); the /ws path is appended when missing.
func Dial(ctx context.Context, serverURL string, opts Options) (*Session, error) {
	u, err := WebSocketURL(serverURL)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u, err)
	}
	return NewSession(conn, opts), nil
}

// WebSocketURL maps a server base URL to its websocket endpoint
func WebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server url scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}
	return u.String(), nil
}

// NewSession wraps an established connection. Call Run to start it.
func NewSession(conn Conn, opts Options) *Session {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Logger == nil {
		opts.Logger = log.Default().WithPrefix("Client")
	}
	return &Session{
		conn:    conn,
		opts:    opts,
		log:     opts.Logger,
		canvas:  NewCanvas(opts.Width, opts.Height, opts.Renderer),
		brush:   DefaultBrush,
		actions: make(chan func()),
		done:    make(chan struct{}),
	}
}

// ID returns the participant id assigned by the server, or "" before the
// welcome frame arrived
func (s *Session) ID() string {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	return s.id
}

// Done is closed once the session has stopped
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run processes inbound frames, gestures and flush ticks until ctx is
// cancelled or the connection fails. Pending strokes are flushed on
// cancellation.
func (s *Session) Run(ctx context.Context) error {
	inbound := make(chan []byte, 64)
	readErr := make(chan error, 1)
	go s.readLoop(inbound, readErr)

	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()
	defer s.Close()

	for {
		select {
		case <-ctx.Done():
			s.flush()
			return ctx.Err()

		case err := <-readErr:
			s.drain(inbound)
			return fmt.Errorf("connection lost: %w", err)

		case data := <-inbound:
			s.handle(data)

		case fn := <-s.actions:
			fn()

		case <-ticker.C:
			s.flush()
		}
	}
}

// drain handles frames that were read before the connection failed
func (s *Session) drain(inbound <-chan []byte) {
	for {
		select {
		case data := <-inbound:
			s.handle(data)
		default:
			return
		}
	}
}

// Close stops the session and closes the connection
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *Session) readLoop(inbound chan<- []byte, readErr chan<- error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case inbound <- data:
		case <-s.done:
			return
		}
	}
}

// do runs fn on the loop goroutine and waits for it
func (s *Session) do(fn func() error) error {
	result := make(chan error, 1)
	select {
	case s.actions <- func() { result <- fn() }:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) write(msgType string, data interface{}) error {
	frame, err := models.Encode(msgType, data)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", msgType, err)
	}
	return nil
}

// applyPending redraws segments that are queued but not yet sent, so a
// server-driven redraw or clear does not erase them locally while they are
// still on their way to the room.
func (s *Session) applyPending() {
	for _, ev := range s.batcher.Pending() {
		s.canvas.Apply(ev)
	}
}

// flush sends the pending batch, if any
func (s *Session) flush() error {
	batch := s.batcher.Take()
	if batch == nil {
		return nil
	}
	return s.write(models.TypeDrawBatch, batch)
}

// Join enters roomCode under displayName
func (s *Session) Join(roomCode, displayName string) error {
	return s.write(models.TypeJoinRoom, models.JoinRoomRequest{RoomCode: roomCode, Username: displayName})
}

// SetBrush changes the tool used by subsequent gestures
func (s *Session) SetBrush(b Brush) error {
	if err := b.Validate(); err != nil {
		return err
	}
	return s.do(func() error {
		s.brush = b
		return nil
	})
}

// PointerDown starts a gesture. With the fill tool the fill is resolved
// locally and sent at once if it changed anything; otherwise the initial dot
// is drawn and sent immediately.
func (s *Session) PointerDown(p models.Point) error {
	return s.do(func() error {
		s.strokeID = uuid.New().String()

		if s.brush.Tool == ToolFill {
			s.drawing = false
			fill := models.NewFill(s.strokeID, models.Fill{
				At:    models.Point{X: math.Round(p.X), Y: math.Round(p.Y)},
				Color: s.brush.Color,
			})
			if !s.canvas.Apply(fill) {
				return nil
			}
			s.canvasChanged()
			return s.write(models.TypeDraw, fill)
		}

		s.drawing = true
		s.last = p
		dot := s.segment(p, p)
		s.canvas.Apply(dot)
		s.canvasChanged()
		return s.write(models.TypeDraw, dot)
	})
}

// PointerMove extends the current gesture. The segment is drawn locally and
// queued for the next flush.
func (s *Session) PointerMove(p models.Point) error {
	return s.do(func() error {
		if !s.drawing {
			return nil
		}
		seg := s.segment(s.last, p)
		s.last = p
		s.canvas.Apply(seg)
		s.canvasChanged()
		s.batcher.Add(seg)
		return nil
	})
}

// PointerUp ends the gesture and flushes the pending batch synchronously
func (s *Session) PointerUp() error {
	return s.do(func() error {
		if !s.drawing {
			return nil
		}
		s.drawing = false
		return s.flush()
	})
}

func (s *Session) segment(from, to models.Point) models.DrawEvent {
	ev := models.NewStroke(s.strokeID, models.Stroke{
		From:    from,
		To:      to,
		Tool:    s.brush.Tool,
		Size:    s.brush.Size,
		Color:   s.brush.Color,
		Opacity: s.brush.Opacity,
	})
	ev.DrawerID = s.ID()
	return ev
}

// Clear wipes the canvas for everyone. Pending strokes are flushed first so
// every client clears the same history.
func (s *Session) Clear() error {
	return s.do(func() error {
		if err := s.flush(); err != nil {
			return err
		}
		s.canvas.Reset()
		s.canvasChanged()
		return s.write(models.TypeClearCanvas, nil)
	})
}

// Undo asks the server to remove this participant's latest gesture
func (s *Session) Undo() error {
	return s.do(func() error {
		if err := s.flush(); err != nil {
			return err
		}
		return s.write(models.TypeUndoRequest, nil)
	})
}

// Chat sends a chat line to the room
func (s *Session) Chat(message string) error {
	return s.write(models.TypeChatMessage, models.ChatMessage{Message: message})
}

// Cursor publishes the local pointer position
func (s *Session) Cursor(x, y float64) error {
	return s.write(models.TypeCursorMove, models.CursorMove{X: x, Y: y})
}

// SendSignal relays an opaque voice negotiation payload to participant to
func (s *Session) SendSignal(to string, signal json.RawMessage) error {
	return s.write(models.TypeVoiceSignal, models.VoiceSignal{To: to, Signal: signal})
}

// Snapshot returns a copy of the local canvas
func (s *Session) Snapshot() (*image.RGBA, error) {
	var out *image.RGBA
	err := s.do(func() error {
		img := s.canvas.Image()
		out = image.NewRGBA(img.Bounds())
		copy(out.Pix, img.Pix)
		return nil
	})
	return out, err
}

func (s *Session) canvasChanged() {
	if s.opts.Events.OnCanvas != nil {
		s.opts.Events.OnCanvas(s.canvas.Image())
	}
}

// handle applies one inbound frame on the loop goroutine
func (s *Session) handle(data []byte) {
	var msg models.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("Failed to unmarshal message", "err", err)
		return
	}
	ev := s.opts.Events

	switch msg.Type {
	case models.TypeWelcome:
		var w models.Welcome
		if s.decode(msg, &w) {
			s.idMu.Lock()
			s.id = w.ID
			s.idMu.Unlock()
			if ev.OnWelcome != nil {
				ev.OnWelcome(w.ID)
			}
		}

	case models.TypeCanvasHistory, models.TypeFullRedraw:
		events, skipped, err := models.DecodeBatch(msg.Data)
		if err != nil {
			s.log.Warn("Invalid history", "type", msg.Type, "err", err)
			return
		}
		if len(skipped) > 0 {
			s.log.Debug("Skipped malformed history entries", "count", len(skipped))
		}
		s.canvas.Replay(events)
		s.applyPending()
		s.canvasChanged()

	case models.TypeDraw:
		var d models.DrawEvent
		if s.decode(msg, &d) {
			s.canvas.Apply(d)
			s.canvasChanged()
		}

	case models.TypeDrawBatch:
		events, _, err := models.DecodeBatch(msg.Data)
		if err != nil {
			s.log.Warn("Invalid draw batch", "err", err)
			return
		}
		for _, d := range events {
			s.canvas.Apply(d)
		}
		s.canvasChanged()

	case models.TypeClearCanvas:
		s.canvas.Reset()
		s.applyPending()
		s.canvasChanged()

	case models.TypeUsersUpdated:
		var users []models.User
		if s.decode(msg, &users) && ev.OnUsers != nil {
			ev.OnUsers(users)
		}

	case models.TypeUserJoined:
		var m models.Membership
		if s.decode(msg, &m) && ev.OnUserJoined != nil {
			ev.OnUserJoined(m)
		}

	case models.TypeUserLeft:
		var m models.Membership
		if s.decode(msg, &m) && ev.OnUserLeft != nil {
			ev.OnUserLeft(m)
		}

	case models.TypeCursorMove:
		var c models.CursorMove
		if s.decode(msg, &c) && ev.OnCursor != nil {
			ev.OnCursor(c)
		}

	case models.TypeChatMessage:
		var c models.ChatMessage
		if s.decode(msg, &c) && ev.OnChat != nil {
			ev.OnChat(c)
		}

	case models.TypeVoiceSignal:
		var vs models.VoiceSignal
		if s.decode(msg, &vs) && ev.OnVoiceSignal != nil {
			ev.OnVoiceSignal(vs.From, vs.Signal)
		}

	default:
		s.log.Debug("Unknown message type", "type", msg.Type)
	}
}

func (s *Session) decode(msg models.WSMessage, v interface{}) bool {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		s.log.Warn("Invalid payload", "type", msg.Type, "err", err)
		return false
	}
	return true
}
