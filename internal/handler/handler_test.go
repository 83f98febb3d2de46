package handler

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tileboard/internal/bus"
	"tileboard/internal/config"
	"tileboard/internal/database"
	"tileboard/internal/model"
	"tileboard/internal/raster"
	"tileboard/internal/replay"
	"tileboard/internal/snapshot"
	"tileboard/internal/store"
	"tileboard/internal/tile"
)

// setupHandler wires the full stack over an in-memory database and an
// in-memory raster store.
func setupHandler(t *testing.T) *Handler {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.InitSchema(db, "sqlite3"))

	cfg := config.Config{
		TileSize: tile.DefaultSize,
		MaxTiles: snapshot.DefaultMaxTiles,
	}

	eventBus := bus.New()
	st := store.New(db, cfg.TileSize, 10*time.Second, eventBus)
	engine := replay.New(st)
	blobs := raster.NewBlobStore(afero.NewMemMapFs(), "snapshots")
	cache := snapshot.NewCache(st, engine, blobs, cfg.MaxTiles)

	hub := NewHub(cfg.TileSize)
	sub := eventBus.Subscribe()
	go hub.Run(sub)
	t.Cleanup(sub.Close)

	return New(cfg, st, cache, blobs, hub)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createStroke(t *testing.T, router http.Handler, points []model.Point) model.Stroke {
	t.Helper()
	rec := doJSON(t, router, "POST", "/strokes", map[string]interface{}{
		"tool":   "pen",
		"color":  "#000000",
		"width":  2,
		"points": points,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		StrokeID string       `json:"strokeId"`
		Stroke   model.Stroke `json:"stroke"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.StrokeID)
	return resp.Stroke
}

func TestCreateStrokeEndpoint(t *testing.T) {
	h := setupHandler(t)
	router := h.SetupRouter()

	stroke := createStroke(t, router, []model.Point{{0, 0}, {600, 0}})
	assert.Equal(t, "pen", stroke.Tool)
	assert.Len(t, stroke.Points, 2)
	assert.Greater(t, stroke.Ts, int64(0))
}

func TestCreateStrokeRejectsInvalidInput(t *testing.T) {
	h := setupHandler(t)
	router := h.SetupRouter()

	cases := []map[string]interface{}{
		{"tool": "crayon", "color": "#000", "width": 2, "points": [][2]float64{{0, 0}}},
		{"tool": "pen", "color": "#000", "width": 0, "points": [][2]float64{{0, 0}}},
		{"tool": "pen", "color": "#000", "width": 2, "points": [][2]float64{}},
	}
	for _, body := range cases {
		rec := doJSON(t, router, "POST", "/strokes", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %v", body)
	}

	req := httptest.NewRequest("POST", "/strokes", strings.NewReader("not-json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStrokeEndpoint(t *testing.T) {
	h := setupHandler(t)
	router := h.SetupRouter()

	stroke := createStroke(t, router, []model.Point{{1, 1}, {2, 2}})

	rec := doJSON(t, router, "GET", "/strokes/"+stroke.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Stroke
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, stroke.ID, got.ID)

	rec = doJSON(t, router, "GET", "/strokes/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEraseStrokeEndpoint(t *testing.T) {
	h := setupHandler(t)
	router := h.SetupRouter()

	stroke := createStroke(t, router, []model.Point{{1, 1}, {2, 2}, {3, 3}})

	rec := doJSON(t, router, "POST", "/strokes/"+stroke.ID+"/erase", map[string]interface{}{
		"hiddenPointIndices": []int{0, 1},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Empty index set is a validation error.
	rec = doJSON(t, router, "POST", "/strokes/"+stroke.ID+"/erase", map[string]interface{}{
		"hiddenPointIndices": []int{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEventsEndpoint(t *testing.T) {
	h := setupHandler(t)
	router := h.SetupRouter()

	createStroke(t, router, []model.Point{{1, 1}})
	createStroke(t, router, []model.Point{{2, 2}})

	rec := doJSON(t, router, "GET", "/events?since=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page store.EventsPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Events, 2)
	assert.Equal(t, "1", page.RoomID)
	assert.Equal(t, "Room 1", page.RoomName)

	rec = doJSON(t, router, "GET", "/events?since=0&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Events, 1)
}

func TestTilesEndpointLifecycle(t *testing.T) {
	h := setupHandler(t)
	router := h.SetupRouter()

	createStroke(t, router, []model.Point{{10, 10}, {400, 400}})

	// First read renders a snapshot.
	rec := doJSON(t, router, "GET", "/tiles?x1=0&y1=0&x2=511&y2=511", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Tiles []snapshot.Tile `json:"tiles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tiles, 1)
	first := resp.Tiles[0]
	require.NotEmpty(t, first.RasterRef)
	require.Greater(t, first.Version, int64(0))

	// The raster is fetchable by reference.
	rec = doJSON(t, router, "GET", first.RasterRef, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	// Unchanged tile re-read with the seen version: cached answer, no
	// stroke payload.
	rec = doJSON(t, router, "GET", fmt.Sprintf("/tiles?x1=0&y1=0&x2=511&y2=511&sinceVersion=%d", first.Version), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tiles, 1)
	assert.Equal(t, first.Version, resp.Tiles[0].Version)
	assert.Empty(t, resp.Tiles[0].Strokes)
}

func TestTilesEndpointRejectsBadCoordinates(t *testing.T) {
	h := setupHandler(t)
	router := h.SetupRouter()

	rec := doJSON(t, router, "GET", "/tiles?x1=abc&y1=0&x2=10&y2=10", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSnapshotEndpointUnknownKey(t *testing.T) {
	h := setupHandler(t)
	router := h.SetupRouter()

	rec := doJSON(t, router, "GET", "/snapshots/room_1/tile_0_0_123.png", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoomEndpoints(t *testing.T) {
	h := setupHandler(t)
	router := h.SetupRouter()

	rec := doJSON(t, router, "GET", "/rooms/5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var room model.Room
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &room))
	assert.Equal(t, "Room 5", room.Name)

	rec = doJSON(t, router, "PUT", "/rooms/5", map[string]string{"name": "War Room"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "GET", "/rooms/5/rename?name=Peace+Room", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "GET", "/rooms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rooms []model.Room `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.NotEmpty(t, list.Rooms)
	assert.Equal(t, "Peace Room", list.Rooms[0].Name)

	rec = doJSON(t, router, "PUT", "/rooms/5", map[string]string{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doJSON(t, router, "PUT", "/rooms/5", map[string]string{"name": strings.Repeat("x", 300)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	h := setupHandler(t)
	router := h.SetupRouter()

	rec := doJSON(t, router, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestWebSocketFanOut(t *testing.T) {
	h := setupHandler(t)
	server := httptest.NewServer(h.SetupRouter())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?roomId=1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Subscribe to tile (0,0) only.
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":  "subscribe",
		"tiles": []string{"0,0"},
	}))
	time.Sleep(50 * time.Millisecond) // let the subscription register

	body, _ := json.Marshal(map[string]interface{}{
		"tool":   "pen",
		"color":  "#000000",
		"width":  2,
		"points": []model.Point{{10, 10}, {20, 20}},
	})
	resp, err := http.Post(server.URL+"/strokes", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event model.StrokeEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, model.EventStrokeCreated, event.Type)
	require.NotNil(t, event.Stroke)
	assert.Len(t, event.Stroke.Points, 2)
}

func TestWebSocketTileFilter(t *testing.T) {
	h := setupHandler(t)
	server := httptest.NewServer(h.SetupRouter())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?roomId=1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Subscribed to a far-away tile: a stroke in (0,0) is not for us.
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":  "subscribe",
		"tiles": []string{"50,50"},
	}))
	time.Sleep(50 * time.Millisecond)

	body, _ := json.Marshal(map[string]interface{}{
		"tool":   "pen",
		"color":  "#000000",
		"width":  2,
		"points": []model.Point{{10, 10}, {20, 20}},
	})
	resp, err := http.Post(server.URL+"/strokes", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var event model.StrokeEvent
	err = conn.ReadJSON(&event)
	assert.Error(t, err, "event for an unsubscribed tile must not be delivered")
}
