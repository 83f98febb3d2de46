package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"tileboard/internal/model"
	"tileboard/internal/store"
)

type createStrokeRequest struct {
	RoomID   string        `json:"roomId"`
	Tool     string        `json:"tool"`
	Color    string        `json:"color"`
	Width    float64       `json:"width"`
	Points   []model.Point `json:"points"`
	AuthorID string        `json:"authorId"`
}

// CreateStroke handles POST /strokes
func (h *Handler) CreateStroke(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)

	var req createStrokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.WithField("err", err).Info("[POST /strokes] bad request body")
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	stroke, err := h.Store.CreateStroke(r.Context(), req.RoomID, req.Tool, req.Color, req.Width, req.Points, req.AuthorID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"strokeId": stroke.ID,
		"stroke":   stroke,
	})
}

type eraseStrokeRequest struct {
	RoomID             string `json:"roomId"`
	HiddenPointIndices []int  `json:"hiddenPointIndices"`
}

// EraseStroke handles POST /strokes/{id}/erase
func (h *Handler) EraseStroke(w http.ResponseWriter, r *http.Request) {
	strokeID := mux.Vars(r)["id"]
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req eraseStrokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.WithField("err", err).Info("[POST /strokes/erase] bad request body")
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.Store.EraseStroke(r.Context(), req.RoomID, strokeID, req.HiddenPointIndices); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"strokeId":           strokeID,
		"hiddenPointIndices": req.HiddenPointIndices,
	})
}

// GetStroke handles GET /strokes/{id}
func (h *Handler) GetStroke(w http.ResponseWriter, r *http.Request) {
	strokeID := mux.Vars(r)["id"]
	roomID := r.URL.Query().Get("roomId")

	stroke, err := h.Store.StrokeByID(r.Context(), roomID, strokeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stroke)
}

// GetEvents handles GET /events — the room bootstrap read. since=0 is
// a full sync and may be served from the bootstrap cache.
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID := q.Get("roomId")

	since, err := strconv.ParseInt(q.Get("since"), 10, 64)
	if err != nil {
		since = 0
	}

	requested := -1
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			requested = n
		}
	}
	limit := store.ClampEventLimit(requested, since)

	page, err := h.Store.Events(r.Context(), roomID, since, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
