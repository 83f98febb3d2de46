// Package replay rebuilds a tile's visible strokes from its projection
// log.
package replay

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"tileboard/internal/metrics"
	"tileboard/internal/model"
	"tileboard/internal/store"
	"tileboard/internal/tile"
)

// Engine reconstructs tiles from the event store.
type Engine struct {
	Store    *store.Store
	TileSize int
}

func New(s *store.Store) *Engine {
	return &Engine{Store: s, TileSize: s.TileSize}
}

type erasePayload struct {
	HiddenPointIndices []int `json:"hiddenPointIndices"`
}

// Apply folds an ordered tile-event log into the surviving strokes and
// the timestamp of the last event that touched each stroke. Erase
// indices reference the original creation's point array, so hidden
// indices accumulate per stroke and the visible points are always the
// original array minus that set. Pure: replaying the same log twice
// yields identical results.
func Apply(events []model.TileEvent) (strokesByID map[string]*model.Stroke, lastTouched map[string]int64, err error) {
	strokesByID = make(map[string]*model.Stroke)
	lastTouched = make(map[string]int64)
	original := make(map[string][]model.Point)
	hidden := make(map[string]map[int]bool)

	for _, ev := range events {
		lastTouched[ev.StrokeID] = ev.Timestamp
		switch ev.Type {
		case model.EventStrokeCreated:
			var stroke model.Stroke
			if err := json.Unmarshal(ev.Payload, &stroke); err != nil {
				return nil, nil, errors.Wrapf(err, "decode created payload, stroke %s", ev.StrokeID)
			}
			if stroke.Hidden {
				continue
			}
			original[ev.StrokeID] = stroke.Points
			hidden[ev.StrokeID] = nil
			strokesByID[ev.StrokeID] = &stroke
		case model.EventStrokeErased:
			if _, ok := strokesByID[ev.StrokeID]; !ok {
				continue
			}
			var body erasePayload
			if err := json.Unmarshal(ev.Payload, &body); err != nil {
				return nil, nil, errors.Wrapf(err, "decode erased payload, stroke %s", ev.StrokeID)
			}
			set := hidden[ev.StrokeID]
			if set == nil {
				set = make(map[int]bool, len(body.HiddenPointIndices))
				hidden[ev.StrokeID] = set
			}
			for _, i := range body.HiddenPointIndices {
				set[i] = true
			}
			remaining := visiblePoints(original[ev.StrokeID], set)
			if len(remaining) == 0 {
				delete(strokesByID, ev.StrokeID)
				continue
			}
			strokesByID[ev.StrokeID].Points = remaining
		}
	}
	return strokesByID, lastTouched, nil
}

func visiblePoints(points []model.Point, hidden map[int]bool) []model.Point {
	out := make([]model.Point, 0, len(points))
	for i, p := range points {
		if !hidden[i] {
			out = append(out, p)
		}
	}
	return out
}

// Strokes reconstructs the tile's currently visible strokes, clipped
// to strokes with at least one point inside the tile. sinceVersion > 0
// narrows the result to whole strokes touched after that version — a
// delta client replaces its copy of each returned stroke wholesale.
func (e *Engine) Strokes(ctx context.Context, roomID string, tileX, tileY int, sinceVersion int64) ([]model.Stroke, error) {
	tileID, err := tile.EncodeID(tileX, tileY)
	if err != nil {
		return nil, err
	}
	events, err := e.Store.TileEvents(ctx, roomID, tileID)
	if err != nil {
		return nil, err
	}
	return e.fromEvents(ctx, roomID, tileX, tileY, sinceVersion, events)
}

// StrokesFromEvents is the batched form: events were prefetched for a
// whole viewport in one query. An empty prefetch falls back to the raw
// room-log scan, same as Strokes.
func (e *Engine) StrokesFromEvents(ctx context.Context, roomID string, tileX, tileY int, sinceVersion int64, events []model.TileEvent) ([]model.Stroke, error) {
	return e.fromEvents(ctx, roomID, tileX, tileY, sinceVersion, events)
}

func (e *Engine) fromEvents(ctx context.Context, roomID string, tileX, tileY int, sinceVersion int64, events []model.TileEvent) ([]model.Stroke, error) {
	bounds := tile.BoundsOf(tileX, tileY, e.TileSize)

	if len(events) == 0 {
		// Projection gap: fall back to scanning the room log by bbox.
		// O(room history); exists for degraded/compatibility cases.
		metrics.FallbackScansTotal.Inc()
		log.WithFields(log.Fields{"room": roomID, "tileX": tileX, "tileY": tileY}).
			Debug("[Replay] no tile events, bbox fallback scan")
		scanned, err := e.Store.ScanStrokesByBBox(ctx, roomID, bounds, sinceVersion)
		if err != nil {
			return nil, err
		}
		return clipToTile(scanned, bounds), nil
	}

	strokesByID, lastTouched, err := Apply(events)
	if err != nil {
		return nil, err
	}

	var strokes []model.Stroke
	for id, stroke := range strokesByID {
		// Tile membership came from the bbox, which is coarser than
		// the point geometry: refilter on actual points.
		if !anyPointInside(stroke.Points, bounds) {
			continue
		}
		if sinceVersion > 0 && lastTouched[id] <= sinceVersion {
			continue
		}
		strokes = append(strokes, *stroke)
	}
	sort.Slice(strokes, func(i, j int) bool { return strokes[i].Ts < strokes[j].Ts })
	return strokes, nil
}

func anyPointInside(points []model.Point, bounds tile.Bounds) bool {
	for _, p := range points {
		if bounds.Contains(p) {
			return true
		}
	}
	return false
}

func clipToTile(strokes []model.Stroke, bounds tile.Bounds) []model.Stroke {
	var out []model.Stroke
	for _, s := range strokes {
		if anyPointInside(s.Points, bounds) {
			out = append(out, s)
		}
	}
	return out
}
