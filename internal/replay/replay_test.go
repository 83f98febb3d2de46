package replay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tileboard/internal/model"
	"tileboard/internal/tile"
)

func createdEvent(t *testing.T, seq int64, stroke model.Stroke) model.TileEvent {
	t.Helper()
	payload, err := json.Marshal(stroke)
	require.NoError(t, err)
	return model.TileEvent{
		Sequence:  seq,
		StrokeID:  stroke.ID,
		Type:      model.EventStrokeCreated,
		Payload:   payload,
		Timestamp: stroke.Ts,
	}
}

func erasedEvent(t *testing.T, seq int64, strokeID string, ts int64, indices []int) model.TileEvent {
	t.Helper()
	payload, err := json.Marshal(map[string][]int{"hiddenPointIndices": indices})
	require.NoError(t, err)
	return model.TileEvent{
		Sequence:  seq,
		StrokeID:  strokeID,
		Type:      model.EventStrokeErased,
		Payload:   payload,
		Timestamp: ts,
	}
}

func TestApplyCreateThenErase(t *testing.T) {
	stroke := model.Stroke{
		ID: "s1", Ts: 100, Tool: model.ToolPen, Color: "#000000", Width: 2,
		Points: []model.Point{{0, 0}, {10, 10}, {20, 20}, {30, 30}},
	}
	events := []model.TileEvent{
		createdEvent(t, 1, stroke),
		erasedEvent(t, 2, "s1", 200, []int{0, 1}),
	}

	strokes, lastTouched, err := Apply(events)
	require.NoError(t, err)
	require.Contains(t, strokes, "s1")
	assert.Equal(t, []model.Point{{20, 20}, {30, 30}}, strokes["s1"].Points,
		"point count must equal original minus erased")
	assert.Equal(t, int64(200), lastTouched["s1"])
}

func TestApplyEraseIndicesReferenceOriginalArray(t *testing.T) {
	stroke := model.Stroke{
		ID: "s1", Ts: 100, Tool: model.ToolPen, Color: "#000000", Width: 2,
		Points: []model.Point{{0, 0}, {1, 1}, {2, 2}, {3, 3}},
	}
	// Two erases of index sets that only make sense against the
	// original array: [0], then [1]. The survivors must be the
	// original points 2 and 3 regardless of intermediate shrinking.
	events := []model.TileEvent{
		createdEvent(t, 1, stroke),
		erasedEvent(t, 2, "s1", 200, []int{0}),
		erasedEvent(t, 3, "s1", 300, []int{1}),
	}

	strokes, _, err := Apply(events)
	require.NoError(t, err)
	require.Contains(t, strokes, "s1")
	assert.Equal(t, []model.Point{{2, 2}, {3, 3}}, strokes["s1"].Points)
}

func TestApplyFullEraseDropsStroke(t *testing.T) {
	stroke := model.Stroke{
		ID: "s1", Ts: 100, Tool: model.ToolPen, Color: "#000000", Width: 2,
		Points: []model.Point{{5, 5}},
	}
	events := []model.TileEvent{
		createdEvent(t, 1, stroke),
		erasedEvent(t, 2, "s1", 200, []int{0}),
	}

	strokes, _, err := Apply(events)
	require.NoError(t, err)
	assert.NotContains(t, strokes, "s1")
}

func TestApplySkipsHiddenStrokes(t *testing.T) {
	stroke := model.Stroke{
		ID: "s1", Ts: 100, Tool: model.ToolPen, Color: "#000000", Width: 2,
		Points: []model.Point{{5, 5}}, Hidden: true,
	}
	strokes, _, err := Apply([]model.TileEvent{createdEvent(t, 1, stroke)})
	require.NoError(t, err)
	assert.Empty(t, strokes)
}

func TestApplyEraseOfUnknownStrokeIsNoop(t *testing.T) {
	strokes, lastTouched, err := Apply([]model.TileEvent{
		erasedEvent(t, 1, "ghost", 100, []int{0}),
	})
	require.NoError(t, err)
	assert.Empty(t, strokes)
	assert.Equal(t, int64(100), lastTouched["ghost"])
}

func TestApplyIsDeterministic(t *testing.T) {
	stroke := model.Stroke{
		ID: "s1", Ts: 100, Tool: model.ToolBrush, Color: "#ff0000", Width: 3,
		Points: []model.Point{{0, 0}, {100, 100}, {200, 0}},
	}
	events := []model.TileEvent{
		createdEvent(t, 1, stroke),
		erasedEvent(t, 2, "s1", 200, []int{1}),
	}

	first, _, err := Apply(events)
	require.NoError(t, err)
	second, _, err := Apply(events)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same log must replay to identical strokes")
}

func TestStrokesFromEventsRefiltersByPointGeometry(t *testing.T) {
	e := &Engine{TileSize: tile.DefaultSize}

	// A diagonal stroke from tile (0,0) to tile (1,1): its bbox covers
	// tile (1,0) too, but no point lands there.
	diagonal := model.Stroke{
		ID: "diag", Ts: 100, Tool: model.ToolPen, Color: "#000000", Width: 2,
		Points: []model.Point{{10, 10}, {700, 700}},
	}
	events := []model.TileEvent{createdEvent(t, 1, diagonal)}

	got, err := e.StrokesFromEvents(context.Background(), "1", 0, 0, 0, events)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = e.StrokesFromEvents(context.Background(), "1", 1, 0, 0, events)
	require.NoError(t, err)
	assert.Empty(t, got, "bbox membership alone must not survive the refilter")
}

func TestStrokesFromEventsSinceVersionReturnsWholeChangedStrokes(t *testing.T) {
	e := &Engine{TileSize: tile.DefaultSize}

	old := model.Stroke{
		ID: "old", Ts: 100, Tool: model.ToolPen, Color: "#000000", Width: 2,
		Points: []model.Point{{1, 1}, {2, 2}},
	}
	fresh := model.Stroke{
		ID: "fresh", Ts: 300, Tool: model.ToolPen, Color: "#000000", Width: 2,
		Points: []model.Point{{3, 3}, {4, 4}},
	}
	events := []model.TileEvent{
		createdEvent(t, 1, old),
		createdEvent(t, 2, fresh),
	}

	got, err := e.StrokesFromEvents(context.Background(), "1", 0, 0, 200, events)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].ID)
	assert.Len(t, got[0].Points, 2, "delta results are whole strokes, not point diffs")
}

func TestStrokesFromEventsOrderedByCreation(t *testing.T) {
	e := &Engine{TileSize: tile.DefaultSize}
	second := model.Stroke{ID: "b", Ts: 200, Tool: model.ToolPen, Color: "#000000", Width: 1, Points: []model.Point{{1, 1}}}
	first := model.Stroke{ID: "a", Ts: 100, Tool: model.ToolPen, Color: "#000000", Width: 1, Points: []model.Point{{2, 2}}}
	events := []model.TileEvent{
		createdEvent(t, 1, first),
		createdEvent(t, 2, second),
	}

	got, err := e.StrokesFromEvents(context.Background(), "1", 0, 0, 0, events)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}
