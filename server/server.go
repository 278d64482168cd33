// Package server exposes the operator HTTP API.
package server

import (
	"comicwatch/pkg/notifier"
	"comicwatch/poll"
	"comicwatch/registry"
	"comicwatch/subs"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poller interface for triggering checks.
type Poller interface {
	CheckAll(ctx context.Context) (poll.Result, error)
}

// Subscriptions interface for subscription management.
type Subscriptions interface {
	Add(ctx context.Context, guildID, channelID, sourceID, roleID string) (*notifier.Subscription, error)
	Remove(ctx context.Context, guildID, channelID, sourceID string) (int, error)
	List(ctx context.Context, guildID, channelID string) ([]subs.Entry, error)
	Sources() []registry.Source
	Roles(ctx context.Context, guildID string) ([]notifier.Role, error)
}

// Config holds server configuration.
type Config struct {
	Poller        Poller
	Subscriptions Subscriptions
	Logger        *slog.Logger
	AdminToken    string  // Empty disables authentication
	TrustProxy    bool    // Take the client IP from X-Forwarded-For; only behind a proxy that sets it
	RatePerSecond float64 // Per client IP; zero uses the default
	Burst         int
}

// Server handles HTTP requests.
type Server struct {
	poller     Poller
	subs       Subscriptions
	logger     *slog.Logger
	adminToken string
	trustProxy bool
	limiter    *ipLimiter
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	perSecond, burst := cfg.RatePerSecond, cfg.Burst
	if perSecond <= 0 {
		perSecond = 2
	}
	if burst <= 0 {
		burst = 20
	}
	return &Server{
		poller:     cfg.Poller,
		subs:       cfg.Subscriptions,
		logger:     cfg.Logger,
		adminToken: cfg.AdminToken,
		trustProxy: cfg.TrustProxy,
		limiter:    newIPLimiter(perSecond, burst),
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	if s.trustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(s.authenticate)

		r.Post("/pollz", s.handlePoll)
		r.Get("/sources", s.handleSources)
		r.Route("/guilds/{guild}", func(r chi.Router) {
			r.Get("/subscriptions", s.handleListSubscriptions)
			r.Post("/subscriptions", s.handleAddSubscription)
			r.Delete("/subscriptions", s.handleRemoveSubscription)
			r.Get("/roles", s.handleRoles)
		})
	})
	return r
}

// ListenAndServe serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Minute, // POST /pollz runs a full cycle
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Poll endpoint triggered")

	// The cycle outlives a disconnecting client.
	res, err := s.poller.CheckAll(context.WithoutCancel(r.Context()))
	if errors.Is(err, poll.ErrAlreadyRunning) {
		s.writeError(w, http.StatusConflict, "a poll cycle is already running")
		return
	}
	if err != nil {
		s.logger.Error("Poll check failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "check failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "completed",
		"checked":   res.Checked,
		"new":       res.New,
		"unchanged": res.Unchanged,
		"failed":    res.Failed,
	})
}

type sourceView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	sources := s.subs.Sources()
	out := make([]sourceView, 0, len(sources))
	for _, src := range sources {
		out = append(out, sourceView{ID: src.ID, DisplayName: src.DisplayName})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
