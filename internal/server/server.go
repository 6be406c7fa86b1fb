package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/coah80/mergebot/internal/config"
	"github.com/coah80/mergebot/internal/metrics"
	"github.com/coah80/mergebot/internal/middleware"
	"github.com/coah80/mergebot/internal/util"
)

// Deps are the live counters the status endpoints report on.
type Deps struct {
	Metrics  *metrics.Metrics
	Limiter  *middleware.Limiter
	Active   func() int
	Sessions func() int
	DiskRoot string
	Started  time.Time
}

func New(d Deps) *http.Server {
	return &http.Server{
		Addr:              ":" + config.HTTPPort,
		Handler:           Router(d),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

func Router(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)
	r.Use(middleware.CORS(config.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"version": config.Version,
			"active":  count(d.Active),
		})
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler(func() {
			d.Metrics.SetActivePipelines(count(d.Active))
			d.Metrics.SetSessions(count(d.Sessions))
		}))
	}

	r.Group(func(r chi.Router) {
		if d.Limiter != nil {
			r.Use(d.Limiter.Handler)
		}
		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			st := util.CollectHostStats(r.Context(), d.DiskRoot, d.Started)
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"host":     st,
				"active":   count(d.Active),
				"sessions": count(d.Sessions),
			})
		})
	})

	return r
}

func count(f func() int) int {
	if f == nil {
		return 0
	}
	return f()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func PrintBanner() {
	fmt.Printf(`
  ┌──────────────────────────────────┐
  │        mergebot %s        │
  │   discord video merge service    │
  └──────────────────────────────────┘
`, padVersion(config.Version))
}

func padVersion(v string) string {
	for len(v) < 10 {
		v += " "
	}
	return v
}
