package store

import (
	"context"
	"database/sql"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"tileboard/internal/model"
)

func (s *Store) roomName(ctx context.Context, roomID string) (string, error) {
	var name string
	err := s.DB.QueryRowContext(ctx,
		`SELECT name FROM rooms WHERE room_id = ?`, roomID).Scan(&name)
	if err == sql.ErrNoRows {
		return model.DefaultRoomName(roomID), nil
	}
	if err != nil {
		return "", errors.Wrap(err, "query room name")
	}
	return name, nil
}

// Room returns the room row, or an implicit default for rooms that
// were drawn in but never renamed.
func (s *Store) Room(ctx context.Context, roomID string) (*model.Room, error) {
	roomID = normalizeRoom(roomID)
	room := &model.Room{RoomID: roomID}
	err := s.DB.QueryRowContext(ctx,
		`SELECT name, updated_at FROM rooms WHERE room_id = ?`, roomID).
		Scan(&room.Name, &room.UpdatedAt)
	if err == sql.ErrNoRows {
		room.Name = model.DefaultRoomName(roomID)
		return room, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query room")
	}
	return room, nil
}

// ListRooms unions explicit room rows with room ids that only appear
// in the event log, newest first.
func (s *Store) ListRooms(ctx context.Context) ([]model.Room, error) {
	byID := make(map[string]model.Room)

	rows, err := s.DB.QueryContext(ctx, `SELECT room_id, name, updated_at FROM rooms`)
	if err != nil {
		return nil, errors.Wrap(err, "query rooms")
	}
	defer rows.Close()
	for rows.Next() {
		var r model.Room
		if err := rows.Scan(&r.RoomID, &r.Name, &r.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan room")
		}
		byID[r.RoomID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	used, err := s.DB.QueryContext(ctx, `SELECT DISTINCT room_id FROM stroke_events`)
	if err != nil {
		return nil, errors.Wrap(err, "query used room ids")
	}
	defer used.Close()
	for used.Next() {
		var id string
		if err := used.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan room id")
		}
		if _, ok := byID[id]; !ok {
			byID[id] = model.Room{RoomID: id, Name: model.DefaultRoomName(id)}
		}
	}
	if err := used.Err(); err != nil {
		return nil, err
	}

	rooms := make([]model.Room, 0, len(byID))
	for _, r := range byID {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].UpdatedAt != rooms[j].UpdatedAt {
			return rooms[i].UpdatedAt > rooms[j].UpdatedAt
		}
		return rooms[i].RoomID < rooms[j].RoomID
	})
	return rooms, nil
}

// RenameRoom upserts the room row and publishes room_renamed.
func (s *Store) RenameRoom(ctx context.Context, roomID, name string) (*model.Room, error) {
	roomID = normalizeRoom(roomID)
	updatedAt := s.NextTimestamp(roomID)

	// Portable upsert: try update, insert when no row changed.
	res, err := s.DB.ExecContext(ctx,
		`UPDATE rooms SET name = ?, updated_at = ? WHERE room_id = ?`,
		name, updatedAt, roomID)
	if err != nil {
		return nil, errors.Wrap(err, "rename room")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.DB.ExecContext(ctx,
			`INSERT INTO rooms (room_id, name, updated_at) VALUES (?, ?, ?)`,
			roomID, name, updatedAt); err != nil {
			return nil, errors.Wrap(err, "insert room")
		}
	}

	s.bootstrap.Invalidate(roomID)
	if s.pub != nil {
		s.pub.Publish(model.StrokeEvent{
			Type:      model.EventRoomRenamed,
			RoomID:    roomID,
			Timestamp: updatedAt,
		})
	}
	log.WithFields(log.Fields{"room": roomID, "name": name}).Info("[EventStore] room renamed")
	return &model.Room{RoomID: roomID, Name: name, UpdatedAt: updatedAt}, nil
}
