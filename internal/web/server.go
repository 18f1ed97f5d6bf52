// Package web serves the read-only status endpoint
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/acctguard/acctguard/internal/config"
	"github.com/acctguard/acctguard/internal/history"
	"github.com/acctguard/acctguard/internal/state"
)

const (
	defaultRateLimit  = 60
	defaultRateWindow = time.Minute
)

type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

func (rl *RateLimiter) filterRecent(times []time.Time, windowStart time.Time) []time.Time {
	n := 0
	for _, t := range times {
		if t.After(windowStart) {
			times[n] = t
			n++
		}
	}
	return times[:n]
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.window)
	recent := rl.filterRecent(rl.requests[key], windowStart)

	// Drop idle keys while we hold the lock
	for k, times := range rl.requests {
		if k == key {
			continue
		}
		if kept := rl.filterRecent(times, windowStart); len(kept) == 0 {
			delete(rl.requests, k)
		} else {
			rl.requests[k] = kept
		}
	}

	if len(recent) >= rl.limit {
		rl.requests[key] = recent
		return false
	}
	rl.requests[key] = append(recent, now)
	return true
}

func (rl *RateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !rl.Allow(host) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Incidents lists journal entries
type Incidents interface {
	Recent(ctx context.Context, account string, limit int) ([]history.Entry, error)
	Stats(ctx context.Context) (map[string]int, error)
}

type Server struct {
	addr        string
	repo        *state.Repository
	incidents   Incidents
	accounts    []config.Account
	log         *zap.Logger
	rateLimiter *RateLimiter
	httpServer  *http.Server
}

// NewServer builds the status server. incidents may be nil.
func NewServer(addr string, repo *state.Repository, incidents Incidents, accounts []config.Account, log *zap.Logger) *Server {
	return &Server{
		addr:        addr,
		repo:        repo,
		incidents:   incidents,
		accounts:    accounts,
		log:         log.Named("web"),
		rateLimiter: NewRateLimiter(defaultRateLimit, defaultRateWindow),
	}
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("Status endpoint listening", zap.String("addr", s.addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimiter.middleware)
		r.Get("/accounts", s.handleAPIAccounts)
		r.Get("/incidents", s.handleAPIIncidents)
		r.Get("/stats", s.handleAPIStats)
	})
	return r
}

// securityHeaders adds security headers to all responses
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIAccounts(w http.ResponseWriter, r *http.Request) {
	records := make([]state.Record, 0, len(s.accounts))
	for _, acct := range s.accounts {
		rec, err := s.repo.Snapshot(r.Context(), acct.Username)
		if err != nil {
			s.log.Error("Failed to read account state", zap.String("account", acct.Username), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "state unavailable"})
			return
		}
		records = append(records, rec)
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAPIIncidents(w http.ResponseWriter, r *http.Request) {
	if s.incidents == nil {
		writeJSON(w, http.StatusOK, []history.Entry{})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	entries, err := s.incidents.Recent(r.Context(), r.URL.Query().Get("account"), limit)
	if err != nil {
		s.log.Error("Failed to list incidents", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]int{}
	if s.incidents != nil {
		var err error
		stats, err = s.incidents.Stats(r.Context())
		if err != nil {
			s.log.Error("Failed to read incident stats", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts":  len(s.accounts),
		"incidents": stats,
	})
}
