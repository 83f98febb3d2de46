package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"tileboard/internal/model"
	"tileboard/internal/tile"
)

// Row limits mirroring the projection's index-friendly access pattern.
const (
	maxTileEventsPerTile  = 50000
	maxTileEventsPerBatch = 500000
	maxFallbackScanRows   = 10000
)

// TileEvents returns one tile's ordered projection log.
func (s *Store) TileEvents(ctx context.Context, roomID string, tileID int64) ([]model.TileEvent, error) {
	roomID = normalizeRoom(roomID)
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, tile_id, stroke_id, event_type, payload, ts FROM tile_events
		 WHERE room_id = ? AND tile_id = ?
		 ORDER BY id ASC LIMIT ?`,
		roomID, tileID, maxTileEventsPerTile)
	if err != nil {
		return nil, errors.Wrap(err, "query tile events")
	}
	defer rows.Close()
	return scanTileEvents(rows, roomID)
}

// TileEventsBatch fetches the projections of a whole tile-id set in
// one query, grouped by tile. Amortizes I/O across a viewport read.
func (s *Store) TileEventsBatch(ctx context.Context, roomID string, tileIDs []int64) (map[int64][]model.TileEvent, error) {
	roomID = normalizeRoom(roomID)
	byTile := make(map[int64][]model.TileEvent, len(tileIDs))
	if len(tileIDs) == 0 {
		return byTile, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tileIDs)), ",")
	args := make([]interface{}, 0, len(tileIDs)+2)
	args = append(args, roomID)
	for _, id := range tileIDs {
		args = append(args, id)
	}
	args = append(args, maxTileEventsPerBatch)

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, tile_id, stroke_id, event_type, payload, ts FROM tile_events
		 WHERE room_id = ? AND tile_id IN (%s)
		 ORDER BY tile_id, id ASC LIMIT ?`, placeholders), args...)
	if err != nil {
		return nil, errors.Wrap(err, "query tile events batch")
	}
	defer rows.Close()

	events, err := scanTileEvents(rows, roomID)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		byTile[ev.TileID] = append(byTile[ev.TileID], ev)
	}
	return byTile, nil
}

func scanTileEvents(rows *sql.Rows, roomID string) ([]model.TileEvent, error) {
	var events []model.TileEvent
	for rows.Next() {
		var ev model.TileEvent
		var payload sql.NullString
		if err := rows.Scan(&ev.Sequence, &ev.TileID, &ev.StrokeID, &ev.Type, &payload, &ev.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scan tile event")
		}
		ev.RoomID = roomID
		ev.Payload = []byte(payload.String)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ScanStrokesByBBox is the projection-gap fallback: a bounding-box
// range scan over the room's raw stroke_created rows. O(room history);
// kept as a migration aid only, never the steady-state path.
func (s *Store) ScanStrokesByBBox(ctx context.Context, roomID string, bounds tile.Bounds, sinceVersion int64) ([]model.Stroke, error) {
	roomID = normalizeRoom(roomID)
	query := `SELECT payload FROM stroke_events
		 WHERE room_id = ? AND event_type = ?
		   AND min_x IS NOT NULL AND max_x IS NOT NULL AND min_y IS NOT NULL AND max_y IS NOT NULL
		   AND NOT (max_x < ? OR min_x >= ? OR max_y < ? OR min_y >= ?)`
	args := []interface{}{roomID, model.EventStrokeCreated, bounds.X1, bounds.X2, bounds.Y1, bounds.Y2}
	if sinceVersion > 0 {
		query += ` AND ts > ?`
		args = append(args, sinceVersion)
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, maxFallbackScanRows)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "bbox scan")
	}
	defer rows.Close()

	var strokes []model.Stroke
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "scan stroke row")
		}
		var stroke model.Stroke
		if err := json.Unmarshal([]byte(payload), &stroke); err != nil {
			return nil, errors.Wrap(err, "decode stroke payload")
		}
		if stroke.Hidden {
			continue
		}
		strokes = append(strokes, stroke)
	}
	return strokes, rows.Err()
}

// LatestSnapshot returns the newest snapshot row for a tile, or
// ErrNotFound when the tile was never snapshotted.
func (s *Store) LatestSnapshot(ctx context.Context, roomID string, tileX, tileY int) (*model.TileSnapshot, error) {
	roomID = normalizeRoom(roomID)
	snap := &model.TileSnapshot{RoomID: roomID, TileX: tileX, TileY: tileY}
	var key sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT version, snapshot_key FROM tile_snapshots
		 WHERE room_id = ? AND tile_x = ? AND tile_y = ?
		 ORDER BY version DESC LIMIT 1`,
		roomID, tileX, tileY).Scan(&snap.Version, &key)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "snapshot (%d,%d)", tileX, tileY)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query snapshot")
	}
	snap.Key = key.String
	return snap, nil
}

// InsertSnapshot records a freshly rendered snapshot. The version is
// minted by the caller (NextTimestamp) before the raster upload so the
// blob key can embed it. Rows are append-only; older versions are
// superseded, never updated in place.
func (s *Store) InsertSnapshot(ctx context.Context, roomID string, tileX, tileY int, version int64, key string) (*model.TileSnapshot, error) {
	roomID = normalizeRoom(roomID)
	if _, err := s.DB.ExecContext(ctx,
		`INSERT INTO tile_snapshots (room_id, tile_x, tile_y, version, snapshot_key)
		 VALUES (?, ?, ?, ?, ?)`,
		roomID, tileX, tileY, version, key); err != nil {
		return nil, errors.Wrap(err, "insert snapshot")
	}
	return &model.TileSnapshot{RoomID: roomID, TileX: tileX, TileY: tileY, Version: version, Key: key}, nil
}
