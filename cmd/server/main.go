package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"tileboard/internal/bus"
	"tileboard/internal/config"
	"tileboard/internal/database"
	"tileboard/internal/handler"
	"tileboard/internal/raster"
	"tileboard/internal/replay"
	"tileboard/internal/snapshot"
	"tileboard/internal/store"
)

func main() {
	// Load .env if present
	if err := godotenv.Load(); err != nil {
		log.WithField("err", err).Info(".env file not found, using default values")
	}

	cfg := config.Load()

	db, err := database.Init(cfg)
	if err != nil {
		log.WithField("err", err).Fatal("failed to initialize database")
	}
	defer db.Close()

	eventBus := bus.New()
	st := store.New(db, cfg.TileSize, time.Duration(cfg.BootstrapTTLSeconds)*time.Second, eventBus)
	engine := replay.New(st)
	blobs := raster.NewBlobStore(afero.NewOsFs(), cfg.SnapshotRoot)
	cache := snapshot.NewCache(st, engine, blobs, cfg.MaxTiles)

	hub := handler.NewHub(cfg.TileSize)
	go hub.Run(eventBus.Subscribe())

	h := handler.New(cfg, st, cache, blobs, hub)
	router := h.SetupRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS", "PUT"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           300,
		AllowCredentials: true,
	})

	httpHandler := c.Handler(router)

	fmt.Println("========================================")
	fmt.Println("  Tileboard API Server")
	fmt.Println("========================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Server: http://localhost:%s\n", cfg.ServerPort)
	fmt.Printf("  WebSocket: ws://localhost:%s/ws\n", cfg.ServerPort)
	fmt.Printf("  Database: %s\n", cfg.DBDriver)
	fmt.Printf("  Tile size: %d, max tiles/request: %d\n", cfg.TileSize, cfg.MaxTiles)
	fmt.Printf("  Snapshot root: %s\n", cfg.SnapshotRoot)
	fmt.Println("========================================")
	log.Info("server started")
	log.Fatal(http.ListenAndServe(":"+cfg.ServerPort, httpHandler))
}
