package handler

import (
	"net/http"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// GetTiles handles GET /tiles — the viewport batch read.
func (h *Handler) GetTiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID := q.Get("roomId")

	coords := make([]float64, 4)
	for i, name := range []string{"x1", "y1", "x2", "y2"} {
		v, err := strconv.ParseFloat(q.Get(name), 64)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "Invalid coordinates")
			return
		}
		coords[i] = v
	}

	var sinceVersion int64
	if raw := q.Get("sinceVersion"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "Invalid sinceVersion")
			return
		}
		sinceVersion = v
	}

	tiles, err := h.Cache.GetViewport(r.Context(), roomID, coords[0], coords[1], coords[2], coords[3], sinceVersion)
	if err != nil {
		log.WithField("err", err).Error("[GET /tiles] viewport read failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tiles": tiles})
}

// GetSnapshot handles GET /snapshots/{key} — serves a stored raster.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/snapshots/")
	if key == "" || strings.Contains(key, "..") {
		writeErrorMessage(w, http.StatusNotFound, "Snapshot not found")
		return
	}

	png, err := h.Blobs.Get(key)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(png)
}
