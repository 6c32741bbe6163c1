package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	worldcupchat "github.com/MegaGrindStone/worldcup-chat"
	"github.com/MegaGrindStone/worldcup-chat/internal/handlers"
	"github.com/MegaGrindStone/worldcup-chat/internal/services"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// API_ENDPOINT and the provider keys may come from a .env file next to the binary.
	_ = godotenv.Load(".env")

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "worldcupchat")

	cfgFilePath := flag.String("config", filepath.Join(cfgPath, "config.yaml"), "path to the config file")
	flag.Parse()

	cfg, err := loadConfig(*cfgFilePath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg.LogLevel, os.Stderr)
	if err != nil {
		log.Fatal(err)
	}

	llm, err := cfg.LLM.llm(logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating llm: %w", err))
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		if err := os.MkdirAll(cfgPath, 0755); err != nil {
			log.Fatal(fmt.Errorf("error creating config directory: %w", err))
		}
		dbPath = filepath.Join(cfgPath, "store.db")
	}
	boltDB, err := services.NewBoltDB(dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := boltDB.Close(); err != nil {
			logger.Error("Failed to close store", "err", err)
		}
	}()

	m, err := handlers.NewMain(llm, boltDB, cfg.handlersConfig(), logger)
	if err != nil {
		panic(err)
	}
	prometheus.MustRegister(m.Collectors()...)

	// Serve static files
	staticFS, err := fs.Sub(worldcupchat.StaticFS, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/chats/clear", m.HandleClear)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port, "db", dbPath)
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", "err", err)

	case sig := <-shutdown:
		logger.Info("Start shutdown", "signal", sig.String())

		// In-flight turns finish before the store is closed.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", "err", err)
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", "err", err)
			}
		}
	}
}
