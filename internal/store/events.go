package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tileboard/internal/metrics"
	"tileboard/internal/model"
)

// Limits applied to event log pages, matching the bootstrap read
// pattern: a full sync pulls the whole room, a delta pulls a page.
const (
	maxEventsPerRequest   = 10000
	defaultDeltaPageLimit = 100
)

// EventsPage is the bootstrap read result.
type EventsPage struct {
	Events   []model.StrokeEvent `json:"events"`
	RoomID   string              `json:"roomId"`
	RoomName string              `json:"roomName"`
}

// ClampEventLimit resolves a client-requested limit. requested < 0
// means "not given".
func ClampEventLimit(requested int, since int64) int {
	if requested < 0 {
		if since == 0 {
			return maxEventsPerRequest
		}
		return defaultDeltaPageLimit
	}
	if requested > maxEventsPerRequest {
		return maxEventsPerRequest
	}
	return requested
}

// Events returns the room's ordered log after `since`, plus the room
// name. Full syncs (since=0) are absorbed by the bootstrap cache.
func (s *Store) Events(ctx context.Context, roomID string, since int64, limit int) (*EventsPage, error) {
	roomID = normalizeRoom(roomID)

	if since == 0 {
		if page, ok := s.bootstrap.Get(roomID, limit); ok {
			metrics.BootstrapCacheHitsTotal.Inc()
			log.WithFields(log.Fields{"room": roomID, "events": len(page.Events)}).
				Debug("[EventStore] events cache hit")
			return page, nil
		}
		metrics.BootstrapCacheMissesTotal.Inc()
	}

	var events []model.StrokeEvent
	var roomName string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.DB.QueryContext(gctx,
			`SELECT event_type, stroke_id, payload, ts FROM stroke_events
			 WHERE room_id = ? AND ts > ?
			 ORDER BY ts ASC LIMIT ?`,
			roomID, since, limit)
		if err != nil {
			return errors.Wrap(err, "query events")
		}
		defer rows.Close()

		for rows.Next() {
			var eventType, strokeID string
			var payload sql.NullString
			var ts int64
			if err := rows.Scan(&eventType, &strokeID, &payload, &ts); err != nil {
				return errors.Wrap(err, "scan event")
			}
			ev, err := decodeEvent(eventType, strokeID, payload.String, ts)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}
		return rows.Err()
	})
	g.Go(func() error {
		var err error
		roomName, err = s.roomName(gctx, roomID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if events == nil {
		events = []model.StrokeEvent{}
	}
	page := &EventsPage{Events: events, RoomID: roomID, RoomName: roomName}
	if since == 0 {
		s.bootstrap.Put(roomID, page, limit)
	}
	return page, nil
}

func decodeEvent(eventType, strokeID, payload string, ts int64) (model.StrokeEvent, error) {
	ev := model.StrokeEvent{Type: eventType, StrokeID: strokeID, Timestamp: ts}
	if payload == "" {
		return ev, nil
	}
	switch eventType {
	case model.EventStrokeCreated:
		var stroke model.Stroke
		if err := json.Unmarshal([]byte(payload), &stroke); err != nil {
			return ev, errors.Wrapf(err, "decode stroke %s", strokeID)
		}
		ev.Stroke = &stroke
	case model.EventStrokeErased:
		var body struct {
			HiddenPointIndices []int `json:"hiddenPointIndices"`
		}
		if err := json.Unmarshal([]byte(payload), &body); err != nil {
			return ev, errors.Wrapf(err, "decode erase %s", strokeID)
		}
		ev.HiddenPointIndices = body.HiddenPointIndices
	}
	return ev, nil
}
