package store

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
)

const bootstrapCacheRooms = 128

// bootstrapCache absorbs repeated full-sync reads of a room's log.
// Correctness never depends on it: entries expire after a short TTL
// and every room write invalidates, best effort.
type bootstrapCache struct {
	ttl     time.Duration
	entries *lru.Cache
}

type bootstrapEntry struct {
	page *EventsPage
	// fetchedLimit is the limit of the query that filled the entry; if
	// the entry holds fewer events than that, the room log was
	// exhausted and the entry is complete.
	fetchedLimit int
	storedAt     time.Time
}

func newBootstrapCache(ttl time.Duration) *bootstrapCache {
	c, err := lru.New(bootstrapCacheRooms)
	if err != nil {
		// Only reachable with a non-positive size constant.
		log.WithField("err", err).Warn("[EventStore] bootstrap cache disabled")
		return &bootstrapCache{ttl: 0}
	}
	return &bootstrapCache{ttl: ttl, entries: c}
}

// Get serves a fresh entry that can satisfy the requested limit:
// either it holds at least `limit` events (serve a truncated slice) or
// it is a complete copy of the room log.
func (c *bootstrapCache) Get(roomID string, limit int) (*EventsPage, bool) {
	if c.entries == nil || c.ttl <= 0 {
		return nil, false
	}
	v, ok := c.entries.Get(roomID)
	if !ok {
		return nil, false
	}
	entry := v.(bootstrapEntry)
	if time.Since(entry.storedAt) > c.ttl {
		c.entries.Remove(roomID)
		return nil, false
	}

	events := entry.page.Events
	if len(events) >= limit {
		events = events[:limit]
	} else if entry.fetchedLimit < limit && len(events) == entry.fetchedLimit {
		// Entry may be a partial page smaller than the request.
		return nil, false
	}
	return &EventsPage{
		Events:   events,
		RoomID:   entry.page.RoomID,
		RoomName: entry.page.RoomName,
	}, true
}

func (c *bootstrapCache) Put(roomID string, page *EventsPage, fetchedLimit int) {
	if c.entries == nil || c.ttl <= 0 {
		return
	}
	c.entries.Add(roomID, bootstrapEntry{page: page, fetchedLimit: fetchedLimit, storedAt: time.Now()})
}

// Invalidate drops the room's entry. Fire and forget.
func (c *bootstrapCache) Invalidate(roomID string) {
	if c.entries == nil {
		return
	}
	c.entries.Remove(roomID)
}
