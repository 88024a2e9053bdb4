package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"tradiehub/internal/chat"
	"tradiehub/internal/jobs"
	myMiddleware "tradiehub/internal/middleware"
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and websocket hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if a.database != nil {
				if err := a.database.AutoMigrate(ctx); err != nil {
					return err
				}
				log.Println("✅ Database Schema Initialized")
			}

			go a.hub.Run(ctx)
			if a.redis != nil {
				go a.hub.SubscribeToRedis(ctx)
			}

			limiter := myMiddleware.NewRateLimiter(a.cfg.SendRatePerSec, a.cfg.SendBurst)
			go sweepLimiter(ctx, limiter)

			srv := &http.Server{
				Addr:              a.cfg.HTTPAddr,
				Handler:           newRouter(a, limiter),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			log.Printf("🚀 Server starting on %s", a.cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			log.Println("👋 Server stopped")
			return nil
		},
	}
	return cmd
}

func newRouter(a *app, limiter *myMiddleware.RateLimiter) http.Handler {
	chatHandler := chat.NewHandler(a.chatService, a.hub, limiter)
	jobsHandler := jobs.NewHandler(a.workflow)
	authMiddleware := myMiddleware.NewAuthMiddleware(a.tokens)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		// WebSocket (Real-time)
		r.Get("/ws", chatHandler.ServeWs)

		r.Route("/api", func(r chi.Router) {
			chatHandler.Routes(r, limiter.Handle)
			jobsHandler.Routes(r)
		})
	})
	return r
}

func sweepLimiter(ctx context.Context, l *myMiddleware.RateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
