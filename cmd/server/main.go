// Package main is the entry point for the notesfy server.
//
// The main package is kept minimal. Its job is to:
// 1. Read configuration (config.yml and environment variables)
// 2. Create dependencies (logger, data directory)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/notesfy/internal/config"
	"github.com/sakif/notesfy/internal/server"
)

func main() {
	// === 1. BOOTSTRAP LOGGER ===
	// Used only until the configured level is known.
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// === 2. READ CONFIGURATION ===
	// LoadConfig validates every setting and reports all problems together.
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 3. SET UP LOGGING ===
	// LOG_LEVEL picks the minimum level: debug, info, warn or error.
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	// === 4. DATA DIRECTORY ===
	// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
	// Upload directories are created by the storage layer.
	dbDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		logger.Error("failed to create database directory",
			slog.String("dir", dbDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// === 5. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
