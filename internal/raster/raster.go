// Package raster renders tile PNGs and stores them by reference.
package raster

import (
	"bytes"
	"strconv"

	"github.com/fogleman/gg"
	"github.com/pkg/errors"

	"tileboard/internal/model"
	"tileboard/internal/tile"
)

// brushStyle is the per-tool line treatment.
type brushStyle struct {
	opacity float64
	cap     gg.LineCap
	join    gg.LineJoin
	dash    []float64
}

func styleFor(tool string) brushStyle {
	switch tool {
	case model.ToolPen:
		return brushStyle{opacity: 1, cap: gg.LineCapRound, join: gg.LineJoinRound}
	case model.ToolBrush:
		return brushStyle{opacity: 0.8, cap: gg.LineCapRound, join: gg.LineJoinRound}
	case model.ToolMarker:
		return brushStyle{opacity: 0.7, cap: gg.LineCapSquare, join: gg.LineJoinBevel}
	case model.ToolHighlighter:
		return brushStyle{opacity: 0.4, cap: gg.LineCapRound, join: gg.LineJoinRound}
	case model.ToolPencil:
		return brushStyle{opacity: 0.9, cap: gg.LineCapRound, join: gg.LineJoinRound}
	case model.ToolChalk:
		return brushStyle{opacity: 0.85, cap: gg.LineCapRound, join: gg.LineJoinRound, dash: []float64{5, 5}}
	case model.ToolEraser:
		return brushStyle{opacity: 1, cap: gg.LineCapRound, join: gg.LineJoinRound}
	default:
		return brushStyle{opacity: 1, cap: gg.LineCapRound, join: gg.LineJoinRound}
	}
}

// RenderTile draws the strokes onto a white tile-sized canvas in the
// given order and returns the PNG bytes. Deterministic: same strokes,
// same bytes. Eraser strokes paint the background color over content
// already drawn in this pass; structural point erasure happened during
// replay.
func RenderTile(tileX, tileY, size int, strokes []model.Stroke) ([]byte, error) {
	if size <= 0 {
		size = tile.DefaultSize
	}
	dc := gg.NewContext(size, size)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	origin := tile.BoundsOf(tileX, tileY, size)

	for _, s := range strokes {
		if s.Hidden || len(s.Points) == 0 {
			continue
		}
		style := styleFor(s.Tool)
		dc.SetLineCap(style.cap)
		dc.SetLineJoin(style.join)
		dc.SetLineWidth(s.Width)
		if len(style.dash) > 0 {
			dc.SetDash(style.dash...)
		} else {
			dc.SetDash()
		}

		if s.Tool == model.ToolEraser {
			dc.SetRGBA(1, 1, 1, 1)
		} else {
			r, g, b := parseHexColor(s.Color)
			dc.SetRGBA(r, g, b, style.opacity)
		}

		dc.NewSubPath()
		for i, p := range s.Points {
			localX := p[0] - origin.X1
			localY := p[1] - origin.Y1
			if i == 0 {
				dc.MoveTo(localX, localY)
			} else {
				dc.LineTo(localX, localY)
			}
		}
		dc.Stroke()
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, errors.Wrap(err, "encode tile png")
	}
	return buf.Bytes(), nil
}

// parseHexColor reads #rgb / #rrggbb, defaulting to black.
func parseHexColor(hex string) (r, g, b float64) {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	switch len(hex) {
	case 6:
		return hexComp(hex[0:2]), hexComp(hex[2:4]), hexComp(hex[4:6])
	case 3:
		return hexComp(string([]byte{hex[0], hex[0]})),
			hexComp(string([]byte{hex[1], hex[1]})),
			hexComp(string([]byte{hex[2], hex[2]}))
	default:
		return 0, 0, 0
	}
}

func hexComp(s string) float64 {
	v, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return 0
	}
	return float64(v) / 255
}
