// Package server provides the read-only HTTP reporting API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/coinwheel/internal/domain"
)

// Store is the slice of the trading store the API reads from.
type Store interface {
	Trades(limit int) ([]domain.Trade, error)
	ScoutHistory(limit int) ([]domain.ScoutRecord, error)
	ValueHistory(interval domain.Interval, limit int) ([]domain.CoinValue, error)
	CurrentCoin() (string, error)
	Coins() ([]domain.Coin, error)
}

// Config holds server configuration.
type Config struct {
	Port  int
	Store Store
	Log   zerolog.Logger
}

// Server is the reporting HTTP server. All endpoints are read-only; trading
// state is mutated only by the engine.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	store   Store
	log     zerolog.Logger
	startup time.Time
}

// New creates the reporting server.
func New(cfg Config) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		store:   cfg.Store,
		log:     cfg.Log.With().Str("component", "server").Logger(),
		startup: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/trades", s.handleTrades)
		r.Get("/scout_history", s.handleScoutHistory)
		r.Get("/value_history", s.handleValueHistory)
		r.Get("/current_coin", s.handleCurrentCoin)
		r.Get("/coins", s.handleCoins)
		r.Get("/status", s.handleStatus)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// Start runs the server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Reporting API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
