package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

const maxRoomNameLen = 255

// ListRooms handles GET /rooms
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.Store.ListRooms(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

// GetRoom handles GET /rooms/{roomId}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.Store.Room(r.Context(), mux.Vars(r)["roomId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) renameRoom(w http.ResponseWriter, r *http.Request, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		writeErrorMessage(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(name) > maxRoomNameLen {
		writeErrorMessage(w, http.StatusBadRequest, "Name too long")
		return
	}

	room, err := h.Store.RenameRoom(r.Context(), mux.Vars(r)["roomId"], name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// RenameRoom handles PUT/POST /rooms/{roomId}
func (h *Handler) RenameRoom(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.renameRoom(w, r, body.Name)
}

// RenameRoomQuery handles GET /rooms/{roomId}/rename?name= — kept so
// renames work through proxies that strip request bodies.
func (h *Handler) RenameRoomQuery(w http.ResponseWriter, r *http.Request) {
	h.renameRoom(w, r, r.URL.Query().Get("name"))
}
