// Package store is the event store: the append-only per-room stroke
// log, its per-tile projections, snapshot rows and room metadata.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"tileboard/internal/metrics"
	"tileboard/internal/model"
	"tileboard/internal/tile"
)

// ErrNotFound marks lookups of unknown strokes, rooms or snapshots.
var ErrNotFound = errors.New("not found")

// Publisher receives each event after its transaction commits.
type Publisher interface {
	Publish(model.StrokeEvent)
}

// Store wraps the durable log. Safe for concurrent use.
type Store struct {
	DB       *sql.DB
	TileSize int

	pub       Publisher
	bootstrap *bootstrapCache

	// lastTs clamps each room's next timestamp so that timestamps,
	// which double as versions, are strictly monotonic per room even
	// when the wall clock stalls within a millisecond.
	mu     sync.Mutex
	lastTs map[string]int64
}

// New creates a Store. pub may be nil (no fan-out, used in tests).
func New(db *sql.DB, tileSize int, bootstrapTTL time.Duration, pub Publisher) *Store {
	return &Store{
		DB:        db,
		TileSize:  tileSize,
		pub:       pub,
		bootstrap: newBootstrapCache(bootstrapTTL),
		lastTs:    make(map[string]int64),
	}
}

// NextTimestamp mints a per-room monotonic millisecond timestamp. It
// is the version currency for events and snapshots alike.
func (s *Store) NextTimestamp(roomID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := time.Now().UnixMilli()
	if last := s.lastTs[roomID]; ts <= last {
		ts = last + 1
	}
	s.lastTs[roomID] = ts
	return ts
}

func normalizeRoom(roomID string) string {
	if strings.TrimSpace(roomID) == "" {
		return model.DefaultRoomID
	}
	return roomID
}

// CreateStroke validates the input, appends the stroke_created event
// and every tile projection its bounding box touches in a single
// transaction, then invalidates the bootstrap cache and publishes.
func (s *Store) CreateStroke(ctx context.Context, roomID, tool, color string, width float64, points []model.Point, authorID string) (*model.Stroke, error) {
	roomID = normalizeRoom(roomID)
	if err := model.ValidateStroke(tool, width, points); err != nil {
		return nil, err
	}

	ts := s.NextTimestamp(roomID)
	stroke := &model.Stroke{
		ID:       uuid.NewString(),
		Ts:       ts,
		Tool:     tool,
		Color:    color,
		Width:    width,
		Points:   points,
		AuthorID: authorID,
	}

	// Computed once at creation; never recomputed, even after erases.
	bbox, _ := tile.BBoxOf(points)
	tileIDs, err := tile.IDsForBBox(bbox, s.TileSize)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(stroke)
	if err != nil {
		return nil, errors.Wrap(err, "marshal stroke")
	}

	// One transaction for the room event plus all projections: a
	// partial write would hide the stroke in some of its own tiles.
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stroke_events (room_id, event_type, stroke_id, payload, ts, min_x, min_y, max_x, max_y)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			roomID, model.EventStrokeCreated, stroke.ID, string(payload), ts,
			bbox.MinX, bbox.MinY, bbox.MaxX, bbox.MaxY); err != nil {
			return err
		}
		return insertTileEvents(ctx, tx, roomID, tileIDs, stroke.ID, model.EventStrokeCreated, string(payload), ts)
	})
	if err != nil {
		return nil, errors.Wrap(err, "append stroke_created")
	}

	metrics.StrokesCreatedTotal.Inc()
	s.bootstrap.Invalidate(roomID)

	event := model.StrokeEvent{
		Type:      model.EventStrokeCreated,
		StrokeID:  stroke.ID,
		RoomID:    roomID,
		Stroke:    stroke,
		Timestamp: ts,
	}
	if s.pub != nil {
		s.pub.Publish(event)
	}
	log.WithFields(log.Fields{"room": roomID, "stroke": stroke.ID, "tool": tool, "tiles": len(tileIDs)}).
		Info("[EventStore] stroke created")
	return stroke, nil
}

// EraseStroke appends a stroke_erased event. Tile projections are
// fanned out over the ORIGINAL creation's bounding box: a tile that
// has seen a stroke must also see every later edit of it, or replay
// would leave stale points behind in that tile.
func (s *Store) EraseStroke(ctx context.Context, roomID, strokeID string, hiddenPointIndices []int) error {
	roomID = normalizeRoom(roomID)
	if len(hiddenPointIndices) == 0 {
		return &model.ValidationError{Field: "hiddenPointIndices", Reason: "must not be empty"}
	}
	for _, idx := range hiddenPointIndices {
		if idx < 0 {
			return &model.ValidationError{Field: "hiddenPointIndices", Reason: "indices must be non-negative"}
		}
	}

	ts := s.NextTimestamp(roomID)
	payload, err := json.Marshal(map[string][]int{"hiddenPointIndices": hiddenPointIndices})
	if err != nil {
		return errors.Wrap(err, "marshal erase payload")
	}

	bbox, found, err := s.creationBBox(ctx, roomID, strokeID)
	if err != nil {
		return err
	}
	var tileIDs []int64
	if found {
		if tileIDs, err = tile.IDsForBBox(bbox, s.TileSize); err != nil {
			return err
		}
	} else {
		// Degraded projection: the room event is still recorded, but
		// no tile sees it. Reconstruction of affected tiles falls back
		// to the room log.
		log.WithFields(log.Fields{"room": roomID, "stroke": strokeID}).
			Warn("[EventStore] erase without recorded bbox, no tile projections")
		metrics.DegradedProjectionsTotal.Inc()
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stroke_events (room_id, event_type, stroke_id, payload, ts)
			 VALUES (?, ?, ?, ?, ?)`,
			roomID, model.EventStrokeErased, strokeID, string(payload), ts); err != nil {
			return err
		}
		return insertTileEvents(ctx, tx, roomID, tileIDs, strokeID, model.EventStrokeErased, string(payload), ts)
	})
	if err != nil {
		return errors.Wrap(err, "append stroke_erased")
	}

	metrics.StrokesErasedTotal.Inc()
	s.bootstrap.Invalidate(roomID)

	if s.pub != nil {
		s.pub.Publish(model.StrokeEvent{
			Type:               model.EventStrokeErased,
			StrokeID:           strokeID,
			RoomID:             roomID,
			HiddenPointIndices: hiddenPointIndices,
			Timestamp:          ts,
		})
	}
	log.WithFields(log.Fields{"room": roomID, "stroke": strokeID, "points": len(hiddenPointIndices)}).
		Info("[EventStore] stroke erased")
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertTileEvents(ctx context.Context, tx *sql.Tx, roomID string, tileIDs []int64, strokeID, eventType, payload string, ts int64) error {
	for _, id := range tileIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tile_events (room_id, tile_id, stroke_id, event_type, payload, ts)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			roomID, id, strokeID, eventType, payload, ts); err != nil {
			return err
		}
	}
	return nil
}

// creationBBox returns the bbox stored with the stroke_created row.
func (s *Store) creationBBox(ctx context.Context, roomID, strokeID string) (tile.BBox, bool, error) {
	var b tile.BBox
	var minX, minY, maxX, maxY sql.NullFloat64
	err := s.DB.QueryRowContext(ctx,
		`SELECT min_x, min_y, max_x, max_y FROM stroke_events
		 WHERE stroke_id = ? AND event_type = ? AND room_id = ? AND min_x IS NOT NULL
		 LIMIT 1`,
		strokeID, model.EventStrokeCreated, roomID).Scan(&minX, &minY, &maxX, &maxY)
	if err == sql.ErrNoRows {
		return b, false, nil
	}
	if err != nil {
		return b, false, errors.Wrap(err, "lookup stroke bbox")
	}
	b = tile.BBox{MinX: minX.Float64, MinY: minY.Float64, MaxX: maxX.Float64, MaxY: maxY.Float64}
	return b, true, nil
}

// StrokeByID returns the latest stroke_created payload for the id.
func (s *Store) StrokeByID(ctx context.Context, roomID, strokeID string) (*model.Stroke, error) {
	roomID = normalizeRoom(roomID)
	var payload string
	err := s.DB.QueryRowContext(ctx,
		`SELECT payload FROM stroke_events
		 WHERE stroke_id = ? AND event_type = ? AND room_id = ?
		 ORDER BY ts DESC LIMIT 1`,
		strokeID, model.EventStrokeCreated, roomID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "stroke %s", strokeID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query stroke")
	}
	var stroke model.Stroke
	if err := json.Unmarshal([]byte(payload), &stroke); err != nil {
		return nil, errors.Wrap(err, "decode stroke payload")
	}
	return &stroke, nil
}
