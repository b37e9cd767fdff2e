package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/rpattn/verstore/internal/api"
	"github.com/rpattn/verstore/internal/config"
	"github.com/rpattn/verstore/internal/db"
	"github.com/rpattn/verstore/internal/domain"
	"github.com/rpattn/verstore/internal/engine"
	"github.com/rpattn/verstore/internal/export"
	"github.com/rpattn/verstore/internal/hooks"
	"github.com/rpattn/verstore/internal/middleware"
	"github.com/rpattn/verstore/internal/repository"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	conn, err := db.NewConnection(ctx, cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.DB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	store := repository.NewPostgresStore(conn.Pool)

	registry := hooks.NewRegistry()
	registry.On(hooks.Updated, func(ctx context.Context, rec *domain.Record) error {
		log.Printf("entity %d promoted to version %d", rec.EntityID, rec.Version)
		return nil
	})

	opts := make([]engine.Option, 0, len(cfg.MinorFields))
	for entityType, fields := range cfg.MinorFields {
		opts = append(opts, engine.WithMinorFields(entityType, fields...))
	}
	eng := engine.New(store, registry, opts...)

	exporter := export.NewService(eng, cfg.ExportDir)
	handler := api.NewHandler(eng, exporter)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	recordsHandler := middleware.LoggingMiddleware(
		middleware.DataLoaderMiddleware(eng)(handler),
	)

	mux := http.NewServeMux()
	mux.Handle("/records", corsHandler.Handler(recordsHandler))
	mux.Handle("/records/", corsHandler.Handler(recordsHandler))

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting record server on %s", cfg.ListenAddr)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
