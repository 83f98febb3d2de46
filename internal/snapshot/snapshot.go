// Package snapshot memoizes rendered tile rasters against the
// monotonically increasing version of each tile's content.
package snapshot

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"tileboard/internal/metrics"
	"tileboard/internal/model"
	"tileboard/internal/raster"
	"tileboard/internal/replay"
	"tileboard/internal/store"
	"tileboard/internal/tile"
)

// DefaultMaxTiles caps tiles per viewport request.
const DefaultMaxTiles = 100

// Tile is one entry of a viewport response. Either RasterRef names a
// fresh snapshot (no stroke payload), or Strokes carries the
// reconstructed content of a tile not worth snapshotting.
type Tile struct {
	TileX     int            `json:"tileX"`
	TileY     int            `json:"tileY"`
	Version   int64          `json:"version"`
	RasterRef string         `json:"snapshotUrl,omitempty"`
	Strokes   []model.Stroke `json:"strokes"`
}

// Cache decides snapshot freshness and regenerates stale tiles.
type Cache struct {
	Store    *store.Store
	Engine   *replay.Engine
	Blobs    *raster.BlobStore
	TileSize int
	MaxTiles int

	// One rebuild at a time per tile; concurrent misses share it.
	building singleflight.Group
}

func NewCache(s *store.Store, e *replay.Engine, blobs *raster.BlobStore, maxTiles int) *Cache {
	if maxTiles <= 0 {
		maxTiles = DefaultMaxTiles
	}
	return &Cache{Store: s, Engine: e, Blobs: blobs, TileSize: s.TileSize, MaxTiles: maxTiles}
}

// GetTile answers a single-tile read: the latest snapshot when it is
// fresh enough, otherwise a reconstruction that may mint a new
// snapshot version.
func (c *Cache) GetTile(ctx context.Context, roomID string, tileX, tileY int, sinceVersion int64) (*Tile, error) {
	return c.getTile(ctx, roomID, tileX, tileY, sinceVersion, nil, false)
}

// getTile implements the freshness decision. prefetched carries tile
// events fetched by a viewport batch; havePrefetch distinguishes "no
// events for this tile" from "not prefetched".
func (c *Cache) getTile(ctx context.Context, roomID string, tileX, tileY int, sinceVersion int64, prefetched []model.TileEvent, havePrefetch bool) (*Tile, error) {
	latest, err := c.Store.LatestSnapshot(ctx, roomID, tileX, tileY)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if latest != nil && (sinceVersion <= 0 || latest.Version >= sinceVersion) {
		// Fresh: the raster already covers everything the client asks
		// about; no stroke payload.
		metrics.SnapshotHitsTotal.Inc()
		return &Tile{
			TileX:     tileX,
			TileY:     tileY,
			Version:   latest.Version,
			RasterRef: rasterRef(latest.Key),
			Strokes:   []model.Stroke{},
		}, nil
	}
	metrics.SnapshotMissesTotal.Inc()

	key := fmt.Sprintf("%s/%d/%d/%d", roomID, tileX, tileY, sinceVersion)
	v, err, _ := c.building.Do(key, func() (interface{}, error) {
		return c.rebuild(ctx, roomID, tileX, tileY, sinceVersion, latest, prefetched, havePrefetch)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tile), nil
}

func (c *Cache) rebuild(ctx context.Context, roomID string, tileX, tileY int, sinceVersion int64, latest *model.TileSnapshot, prefetched []model.TileEvent, havePrefetch bool) (*Tile, error) {
	var strokes []model.Stroke
	var err error
	if havePrefetch {
		strokes, err = c.Engine.StrokesFromEvents(ctx, roomID, tileX, tileY, sinceVersion, prefetched)
	} else {
		strokes, err = c.Engine.Strokes(ctx, roomID, tileX, tileY, sinceVersion)
	}
	if err != nil {
		return nil, err
	}

	result := &Tile{TileX: tileX, TileY: tileY, Strokes: []model.Stroke{}}
	if latest != nil {
		result.Version = latest.Version
	}

	if len(strokes) == 0 {
		// An empty tile is not snapshotted; report whatever version
		// already exists (possibly zero).
		return result, nil
	}

	version := c.Store.NextTimestamp(roomID)
	key := raster.SnapshotKey(roomID, tileX, tileY, version)

	png, err := raster.RenderTile(tileX, tileY, c.TileSize, strokes)
	if err != nil {
		return nil, err
	}
	if err := c.Blobs.Put(key, png); err != nil {
		return nil, err
	}
	snap, err := c.Store.InsertSnapshot(ctx, roomID, tileX, tileY, version, key)
	if err != nil {
		return nil, err
	}
	metrics.SnapshotRendersTotal.Inc()
	log.WithFields(log.Fields{"room": roomID, "tileX": tileX, "tileY": tileY, "version": version, "strokes": len(strokes)}).
		Info("[Snapshot] tile rendered")

	// The raster supersedes the stroke payload: the client fetches it
	// by reference.
	result.Version = snap.Version
	result.RasterRef = rasterRef(snap.Key)
	return result, nil
}

func rasterRef(key string) string {
	if key == "" {
		return ""
	}
	return "/snapshots/" + key
}

// Viewport maps a world box onto its inclusive tile rectangle, capped
// at MaxTiles: an oversized request shrinks to the largest square
// fitting the cap, anchored at the min corner, rather than erroring.
func (c *Cache) Viewport(x1, y1, x2, y2 float64) (minTX, minTY, maxTX, maxTY int) {
	minTX, minTY = tile.Coords(math.Min(x1, x2), math.Min(y1, y2), c.TileSize)
	maxTX, maxTY = tile.Coords(math.Max(x1, x2), math.Max(y1, y2), c.TileSize)

	count := (maxTX - minTX + 1) * (maxTY - minTY + 1)
	if count > c.MaxTiles {
		side := int(math.Floor(math.Sqrt(float64(c.MaxTiles))))
		log.WithFields(log.Fields{"requested": count, "cap": c.MaxTiles, "side": side}).
			Warn("[Snapshot] viewport over tile cap, shrinking")
		maxTX = min(maxTX, minTX+side-1)
		maxTY = min(maxTY, minTY+side-1)
	}
	return minTX, minTY, maxTX, maxTY
}

// GetViewport resolves every tile of the (capped) viewport, fetching
// the whole rectangle's tile events in one batched query first.
func (c *Cache) GetViewport(ctx context.Context, roomID string, x1, y1, x2, y2 float64, sinceVersion int64) ([]Tile, error) {
	minTX, minTY, maxTX, maxTY := c.Viewport(x1, y1, x2, y2)

	var coords [][2]int
	var tileIDs []int64
	for tx := minTX; tx <= maxTX; tx++ {
		for ty := minTY; ty <= maxTY; ty++ {
			id, err := tile.EncodeID(tx, ty)
			if err != nil {
				return nil, err
			}
			coords = append(coords, [2]int{tx, ty})
			tileIDs = append(tileIDs, id)
		}
	}

	eventsByTile, err := c.Store.TileEventsBatch(ctx, roomID, tileIDs)
	if err != nil {
		return nil, err
	}

	tiles := make([]Tile, 0, len(coords))
	for i, xy := range coords {
		t, err := c.getTile(ctx, roomID, xy[0], xy[1], sinceVersion, eventsByTile[tileIDs[i]], true)
		if err != nil {
			return nil, err
		}
		tiles = append(tiles, *t)
	}
	return tiles, nil
}
