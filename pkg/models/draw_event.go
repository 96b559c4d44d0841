package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnknownEventKind is returned when a draw event carries a type tag
	// other than stroke or fill
	ErrUnknownEventKind = errors.New("unknown draw event kind")

	// ErrMalformedEvent is returned when a draw event is missing required fields
	ErrMalformedEvent = errors.New("malformed draw event")
)

const (
	// MaxStrokeSize is the largest accepted brush diameter in CSS pixels
	MaxStrokeSize = 500
	// MaxCoordinate bounds the magnitude of any event coordinate
	MaxCoordinate = 100000
)

// EventKind tags the DrawEvent variant
type EventKind string

const (
	KindStroke EventKind = "stroke"
	KindFill   EventKind = "fill"
)

// Tool identifies the brush used for a stroke
type Tool string

const (
	ToolBrush       Tool = "brush"
	ToolPencil      Tool = "pencil"
	ToolMarker      Tool = "marker"
	ToolSpray       Tool = "spray"
	ToolWatercolor  Tool = "watercolor"
	ToolCrayon      Tool = "crayon"
	ToolCalligraphy Tool = "calligraphy"
	ToolEraser      Tool = "eraser"
)

// Valid reports whether t is one of the known tools
func (t Tool) Valid() bool {
	switch t {
	case ToolBrush, ToolPencil, ToolMarker, ToolSpray, ToolWatercolor,
		ToolCrayon, ToolCalligraphy, ToolEraser:
		return true
	}
	return false
}

// Point is a canvas coordinate in CSS pixels
type Point struct {
	X float64
	Y float64
}

// Stroke is one segment of a continuous gesture
type Stroke struct {
	From    Point
	To      Point
	Tool    Tool
	Size    float64
	Color   string
	Opacity float64
}

// Fill is a flood fill seeded at a point
type Fill struct {
	At    Point
	Color string
}

// DrawEvent is a closed union of Stroke and Fill. Exactly one of Stroke or
// Fill is set, matching Kind.
//
// StrokeID groups every event of one pointer-down-to-pointer-up gesture;
// DrawerID is the participant that produced it.
type DrawEvent struct {
	Kind     EventKind
	StrokeID string
	DrawerID string
	Stroke   *Stroke
	Fill     *Fill
}

// NewStroke builds a stroke event
func NewStroke(strokeID string, s Stroke) DrawEvent {
	return DrawEvent{Kind: KindStroke, StrokeID: strokeID, Stroke: &s}
}

// NewFill builds a fill event
func NewFill(strokeID string, f Fill) DrawEvent {
	return DrawEvent{Kind: KindFill, StrokeID: strokeID, Fill: &f}
}

// Validate checks the variant invariants
func (e DrawEvent) Validate() error {
	if e.StrokeID == "" {
		return fmt.Errorf("%w: missing strokeId", ErrMalformedEvent)
	}

	switch e.Kind {
	case KindStroke:
		if e.Stroke == nil || e.Fill != nil {
			return fmt.Errorf("%w: stroke payload mismatch", ErrMalformedEvent)
		}
		if !e.Stroke.Tool.Valid() {
			return fmt.Errorf("%w: unknown tool %q", ErrMalformedEvent, e.Stroke.Tool)
		}
		st := e.Stroke
		if !validCoord(st.From) || !validCoord(st.To) {
			return fmt.Errorf("%w: stroke coordinates out of range", ErrMalformedEvent)
		}
		if !(st.Size >= 0 && st.Size <= MaxStrokeSize) {
			return fmt.Errorf("%w: stroke size %v out of range", ErrMalformedEvent, st.Size)
		}
		if !(st.Opacity >= 0 && st.Opacity <= 1) {
			return fmt.Errorf("%w: stroke opacity %v out of range", ErrMalformedEvent, st.Opacity)
		}
	case KindFill:
		if e.Fill == nil || e.Stroke != nil {
			return fmt.Errorf("%w: fill payload mismatch", ErrMalformedEvent)
		}
		if e.Fill.Color == "" {
			return fmt.Errorf("%w: fill without color", ErrMalformedEvent)
		}
		if !validCoord(e.Fill.At) {
			return fmt.Errorf("%w: fill seed out of range", ErrMalformedEvent)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventKind, e.Kind)
	}
	return nil
}

func validCoord(p Point) bool {
	return math.Abs(p.X) <= MaxCoordinate && math.Abs(p.Y) <= MaxCoordinate
}

// wireEvent is the flat JSON shape shared with browser clients
type wireEvent struct {
	Type     EventKind `json:"type"`
	X1       *float64  `json:"x1,omitempty"`
	Y1       *float64  `json:"y1,omitempty"`
	X2       *float64  `json:"x2,omitempty"`
	Y2       *float64  `json:"y2,omitempty"`
	X        *float64  `json:"x,omitempty"`
	Y        *float64  `json:"y,omitempty"`
	Tool     Tool      `json:"tool,omitempty"`
	Size     float64   `json:"size,omitempty"`
	Color    string    `json:"color,omitempty"`
	Opacity  *float64  `json:"opacity,omitempty"`
	StrokeID string    `json:"strokeId"`
	DrawerID string    `json:"drawerId,omitempty"`
}

// MarshalJSON encodes the event in its flat wire form
func (e DrawEvent) MarshalJSON() ([]byte, error) {
	w := wireEvent{Type: e.Kind, StrokeID: e.StrokeID, DrawerID: e.DrawerID}

	switch e.Kind {
	case KindStroke:
		if e.Stroke == nil {
			return nil, fmt.Errorf("%w: stroke payload missing", ErrMalformedEvent)
		}
		s := e.Stroke
		w.X1, w.Y1, w.X2, w.Y2 = &s.From.X, &s.From.Y, &s.To.X, &s.To.Y
		w.Tool = s.Tool
		w.Size = s.Size
		w.Color = s.Color
		w.Opacity = &s.Opacity
	case KindFill:
		if e.Fill == nil {
			return nil, fmt.Errorf("%w: fill payload missing", ErrMalformedEvent)
		}
		w.X, w.Y = &e.Fill.At.X, &e.Fill.At.Y
		w.Color = e.Fill.Color
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, e.Kind)
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes and validates the flat wire form
func (e *DrawEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	ev := DrawEvent{Kind: w.Type, StrokeID: w.StrokeID, DrawerID: w.DrawerID}
	switch w.Type {
	case KindStroke:
		if w.X1 == nil || w.Y1 == nil || w.X2 == nil || w.Y2 == nil {
			return fmt.Errorf("%w: stroke without endpoints", ErrMalformedEvent)
		}
		opacity := 1.0
		if w.Opacity != nil {
			opacity = *w.Opacity
		}
		ev.Stroke = &Stroke{
			From:    Point{X: *w.X1, Y: *w.Y1},
			To:      Point{X: *w.X2, Y: *w.Y2},
			Tool:    w.Tool,
			Size:    w.Size,
			Color:   w.Color,
			Opacity: opacity,
		}
	case KindFill:
		if w.X == nil || w.Y == nil {
			return fmt.Errorf("%w: fill without seed", ErrMalformedEvent)
		}
		ev.Fill = &Fill{At: Point{X: *w.X, Y: *w.Y}, Color: w.Color}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventKind, w.Type)
	}

	if err := ev.Validate(); err != nil {
		return err
	}
	*e = ev
	return nil
}

// DecodeBatch decodes a JSON array of draw events. Malformed entries are
// skipped and reported through skipped; the valid remainder keeps its
// arrival order.
func DecodeBatch(data []byte) (events []DrawEvent, skipped []error, err error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("%w: batch is not an array: %v", ErrMalformedEvent, err)
	}

	events = make([]DrawEvent, 0, len(raw))
	for _, r := range raw {
		var ev DrawEvent
		if err := json.Unmarshal(r, &ev); err != nil {
			skipped = append(skipped, err)
			continue
		}
		events = append(events, ev)
	}
	return events, skipped, nil
}
