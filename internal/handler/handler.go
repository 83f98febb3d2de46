package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tileboard/internal/config"
	"tileboard/internal/model"
	"tileboard/internal/raster"
	"tileboard/internal/snapshot"
	"tileboard/internal/store"
)

// Handler holds application dependencies
type Handler struct {
	Config config.Config
	Store  *store.Store
	Cache  *snapshot.Cache
	Blobs  *raster.BlobStore
	Hub    *Hub
}

// New creates a new Handler with the given dependencies
func New(cfg config.Config, s *store.Store, cache *snapshot.Cache, blobs *raster.BlobStore, hub *Hub) *Handler {
	return &Handler{
		Config: cfg,
		Store:  s,
		Cache:  cache,
		Blobs:  blobs,
		Hub:    hub,
	}
}

// SetupRouter configures and returns the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	// REST API
	r.HandleFunc("/strokes", h.CreateStroke).Methods("POST")
	r.HandleFunc("/strokes/{id}", h.GetStroke).Methods("GET")
	r.HandleFunc("/strokes/{id}/erase", h.EraseStroke).Methods("POST")
	r.HandleFunc("/events", h.GetEvents).Methods("GET")
	r.HandleFunc("/tiles", h.GetTiles).Methods("GET")
	r.PathPrefix("/snapshots/").HandlerFunc(h.GetSnapshot).Methods("GET")

	// Rooms. The /rename route must precede /rooms/{roomId} so
	// "1/rename" is not captured as a room id.
	r.HandleFunc("/rooms", h.ListRooms).Methods("GET")
	r.HandleFunc("/rooms/{roomId}/rename", h.RenameRoomQuery).Methods("GET")
	r.HandleFunc("/rooms/{roomId}", h.GetRoom).Methods("GET")
	r.HandleFunc("/rooms/{roomId}", h.RenameRoom).Methods("PUT", "POST")

	// WebSocket
	r.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")

	r.HandleFunc("/health", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": h.Hub.ClientCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps the error taxonomy onto HTTP statuses: validation
// errors are 400, unknown strokes/rasters 404, storage failures 500.
func writeError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeErrorMessage(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, raster.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, err.Error())
	default:
		writeErrorMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}
