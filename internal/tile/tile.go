// Package tile maps world coordinates to the fixed square tiles that
// partition the infinite drawing plane.
package tile

import (
	"math"

	"github.com/pkg/errors"

	"tileboard/internal/model"
)

// DefaultSize is the tile edge length in world units.
const DefaultSize = 512

// Tile ids pack both coordinates into one integer so a tile can be a
// single indexed column: (x+coordOffset)*packFactor + (y+coordOffset).
// Coordinates outside [-coordOffset, coordOffset-1] cannot be encoded;
// that is a hard scaling limit of the id scheme, not a wrap point.
const (
	coordOffset = 500_000
	packFactor  = 1_000_000
)

// ErrCoordOutOfRange is returned for tile coordinates the id encoding
// cannot represent.
var ErrCoordOutOfRange = errors.New("tile coordinate outside supported range")

// Coords returns the tile containing the world position.
func Coords(worldX, worldY float64, size int) (tileX, tileY int) {
	return int(math.Floor(worldX / float64(size))), int(math.Floor(worldY / float64(size)))
}

// Bounds is a half-open world-space box [X1,X2) × [Y1,Y2).
type Bounds struct {
	X1, Y1, X2, Y2 float64
}

// Contains reports whether the point lies strictly inside the tile,
// i.e. within the half-open box.
func (b Bounds) Contains(p model.Point) bool {
	return p[0] >= b.X1 && p[0] < b.X2 && p[1] >= b.Y1 && p[1] < b.Y2
}

// BoundsOf returns the world-space box covered by a tile.
func BoundsOf(tileX, tileY, size int) Bounds {
	s := float64(size)
	return Bounds{
		X1: float64(tileX) * s,
		Y1: float64(tileY) * s,
		X2: float64(tileX+1) * s,
		Y2: float64(tileY+1) * s,
	}
}

// EncodeID packs (tileX, tileY) into a single id, invertible by
// DecodeID for every coordinate pair within the supported range.
func EncodeID(tileX, tileY int) (int64, error) {
	if tileX < -coordOffset || tileX >= coordOffset || tileY < -coordOffset || tileY >= coordOffset {
		return 0, errors.Wrapf(ErrCoordOutOfRange, "tile (%d,%d)", tileX, tileY)
	}
	return int64(tileX+coordOffset)*packFactor + int64(tileY+coordOffset), nil
}

// DecodeID inverts EncodeID.
func DecodeID(id int64) (tileX, tileY int, err error) {
	if id < 0 || id >= int64(2*coordOffset)*packFactor {
		return 0, 0, errors.Wrapf(ErrCoordOutOfRange, "tile id %d", id)
	}
	x := id / packFactor
	y := id % packFactor
	if y >= 2*coordOffset {
		return 0, 0, errors.Wrapf(ErrCoordOutOfRange, "tile id %d", id)
	}
	return int(x) - coordOffset, int(y) - coordOffset, nil
}

// BBox is an axis-aligned bounding box in world coordinates.
type BBox struct {
	MinX, MinY, MaxX, MaxY float64
}

// BBoxOf computes the bounding box of a polyline. Points must be
// non-empty; ok is false otherwise.
func BBoxOf(points []model.Point) (b BBox, ok bool) {
	if len(points) == 0 {
		return BBox{}, false
	}
	b = BBox{MinX: points[0][0], MinY: points[0][1], MaxX: points[0][0], MaxY: points[0][1]}
	for _, p := range points[1:] {
		b.MinX = math.Min(b.MinX, p[0])
		b.MinY = math.Min(b.MinY, p[1])
		b.MaxX = math.Max(b.MaxX, p[0])
		b.MaxY = math.Max(b.MaxY, p[1])
	}
	return b, true
}

// IDsForBBox lists the ids of every tile whose bounds overlap the box:
// the cross product of the per-axis tile-coordinate ranges.
func IDsForBBox(b BBox, size int) ([]int64, error) {
	minTX, minTY := Coords(b.MinX, b.MinY, size)
	maxTX, maxTY := Coords(b.MaxX, b.MaxY, size)

	ids := make([]int64, 0, (maxTX-minTX+1)*(maxTY-minTY+1))
	for tx := minTX; tx <= maxTX; tx++ {
		for ty := minTY; ty <= maxTY; ty++ {
			id, err := EncodeID(tx, ty)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
