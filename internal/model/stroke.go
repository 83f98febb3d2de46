package model

import "fmt"

// Tool names accepted for stroke creation.
const (
	ToolPen         = "pen"
	ToolBrush       = "brush"
	ToolMarker      = "marker"
	ToolHighlighter = "highlighter"
	ToolEraser      = "eraser"
	ToolPencil      = "pencil"
	ToolChalk       = "chalk"
)

var validTools = map[string]bool{
	ToolPen:         true,
	ToolBrush:       true,
	ToolMarker:      true,
	ToolHighlighter: true,
	ToolEraser:      true,
	ToolPencil:      true,
	ToolChalk:       true,
}

// ValidTool reports whether name is a known drawing tool.
func ValidTool(name string) bool { return validTools[name] }

// Point is a world-coordinate position, serialized as [x, y].
type Point [2]float64

// Stroke is one freehand polyline on the shared plane. Immutable after
// creation except for point removal recorded by stroke_erased events.
type Stroke struct {
	ID       string  `json:"id"`
	Ts       int64   `json:"ts"`
	Tool     string  `json:"tool"`
	Color    string  `json:"color"`
	Width    float64 `json:"width"`
	Points   []Point `json:"points"`
	AuthorID string  `json:"authorId,omitempty"`
	Hidden   bool    `json:"hidden,omitempty"`
}

// Event types recorded in the room log.
const (
	EventStrokeCreated = "stroke_created"
	EventStrokeErased  = "stroke_erased"
	EventRoomRenamed   = "room_renamed"
)

// StrokeEvent is one append-only entry of a room's log. For
// stroke_created the Stroke field carries the full stroke; for
// stroke_erased HiddenPointIndices references indices into the
// original creation's point array.
type StrokeEvent struct {
	Type               string  `json:"type"`
	StrokeID           string  `json:"strokeId"`
	RoomID             string  `json:"roomId,omitempty"`
	Stroke             *Stroke `json:"stroke,omitempty"`
	HiddenPointIndices []int   `json:"hiddenPointIndices,omitempty"`
	Timestamp          int64   `json:"timestamp"`
}

// TileEvent is the per-tile projection of a StrokeEvent. Derived data:
// tile_events rows are written in the same transaction as the room
// event and never mutated afterwards.
type TileEvent struct {
	Sequence  int64
	RoomID    string
	TileID    int64
	StrokeID  string
	Type      string
	Payload   []byte
	Timestamp int64
}

// TileSnapshot records one cached render of a tile. Versions are
// append-only; the latest version wins.
type TileSnapshot struct {
	RoomID  string `json:"roomId,omitempty"`
	TileX   int    `json:"tileX"`
	TileY   int    `json:"tileY"`
	Version int64  `json:"version"`
	Key     string `json:"snapshotKey,omitempty"`
}

// Room metadata. A room exists implicitly as soon as it is drawn in;
// DefaultRoomName supplies the name for rooms never renamed.
type Room struct {
	RoomID    string `json:"roomId"`
	Name      string `json:"name"`
	UpdatedAt int64  `json:"updatedAt"`
}

// DefaultRoomID is used when a request carries no room.
const DefaultRoomID = "1"

// DefaultRoomName names a room that has no rooms-table row.
func DefaultRoomName(roomID string) string {
	return fmt.Sprintf("Room %s", roomID)
}

// ValidationError rejects malformed client input before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidateStroke checks the client-supplied stroke fields.
func ValidateStroke(tool string, width float64, points []Point) error {
	if !ValidTool(tool) {
		return &ValidationError{Field: "tool", Reason: fmt.Sprintf("unknown tool %q", tool)}
	}
	if width <= 0 {
		return &ValidationError{Field: "width", Reason: "must be positive"}
	}
	if len(points) == 0 {
		return &ValidationError{Field: "points", Reason: "must not be empty"}
	}
	return nil
}
