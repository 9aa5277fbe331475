package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/manpreetbhatti/coderelay/backend/internal/api"
	"github.com/manpreetbhatti/coderelay/backend/internal/app"
	"github.com/manpreetbhatti/coderelay/backend/internal/executor"
	"github.com/manpreetbhatti/coderelay/backend/internal/metrics"
	"github.com/manpreetbhatti/coderelay/backend/internal/room"
	"github.com/manpreetbhatti/coderelay/backend/internal/session"
	"github.com/manpreetbhatti/coderelay/backend/internal/ws"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	logger := app.NewLogger(cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store.open", "url", cfg.StoreURL, "err", err)
		os.Exit(1)
	}

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	rooms := room.NewRegistry(st, logger, cfg.StoreTimeout)
	relay := executor.NewRelay(
		executor.NewClient(cfg.ExecutorURL, cfg.ExecutorTimeout),
		rooms, hub, cfg.ExecutorMaxConcurrent, cfg.ExecutorTimeout, logger,
	)
	coordinator := session.NewCoordinator(rooms, hub, relay, logger)
	apiHandler := api.New(hub, rooms, st, relay, logger)

	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, coordinator, logger, w, r)
	})

	mux.HandleFunc("/health", apiHandler.HealthHandler)
	mux.HandleFunc("/api/stats", apiHandler.StatsHandler)
	mux.HandleFunc("/api/rooms", apiHandler.RoomsRouter)
	mux.HandleFunc("/api/rooms/", apiHandler.RoomsRouter)
	mux.Handle("/metrics", metrics.Handler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllow,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           corsHandler.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server.listening",
			"addr", cfg.HTTPAddr,
			"env", cfg.Env,
			"executor", cfg.ExecutorURL,
			"store", cfg.StoreURL,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server.crash", "err", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"coderelay": func(shutdownCtx context.Context) error {
				logger.Info("server.shutdown.start")
				err := srv.Shutdown(shutdownCtx)

				// Stop the hub after HTTP so no new connections race the close
				cancel()
				select {
				case <-hub.Done():
				case <-shutdownCtx.Done():
				}

				if cerr := st.Close(); cerr != nil && err == nil {
					err = cerr
				}
				return err
			},
		},
	)

	exitCode := <-wait
	logger.Info("server.shutdown.done", "code", exitCode)
	os.Exit(exitCode)
}
