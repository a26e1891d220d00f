/*
main.go - Application entry point

PURPOSE:

	Initializes and starts the storefront ledger server. Handles
	configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
 1. Load .env (optional) and parse command-line flags
 2. Configure zerolog
 3. Initialize SQLite store
 4. Create API handler with dependencies
 5. Start server with graceful shutdown

CONFIGURATION:

	-port    HTTP server port (default: 8080, env PORT)
	-db      SQLite database path (default: tienda.db, env DB_PATH)
	         Use ":memory:" for an in-memory database
	LOG_LEVEL  zerolog level (default: info)

GRACEFUL SHUTDOWN:

	On SIGINT/SIGTERM:
	1. Stop accepting new connections
	2. Wait for active requests to complete (30s timeout)
	3. Close database connection
	4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gustavox27/PuntoDeVenta-HilosAncestralesv2-sub000/api"
	"github.com/gustavox27/PuntoDeVenta-HilosAncestralesv2-sub000/store/sqlite"
)

func main() {
	// .env is optional; flags below read the loaded values as defaults.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "tienda.db"), "SQLite database path")
	flag.Parse()

	logger := setupLogger()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	handler := api.NewHandler(store, store, logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", *port).Str("db", *dbPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

func setupLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(envStr("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger := zerolog.New(console).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
