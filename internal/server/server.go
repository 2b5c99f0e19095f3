// Package server exposes the tracker over a small debug/ops HTTP API.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dropscout/dropscout/internal/tracker"
)

// NewRouter builds the debug API: health, tracker status, and a
// synchronous channel enumeration per game.
func NewRouter(t *tracker.Tracker, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(zapLoggerMiddleware(logger))

	r.Get("/healthz", handleHealth)
	r.Get("/v1/status", handleStatus(t))
	r.Get("/v1/channels", handleChannels(t, logger))

	return r
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
			)
			next.ServeHTTP(w, r)
		})
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleStatus(t *tracker.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, t.Status())
	}
}

func handleChannels(t *tracker.Tracker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		game := r.URL.Query().Get("game")
		if game == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing required 'game' query parameter"})
			return
		}

		channels, err := t.GetChannelsForGame(r.Context(), game)
		if err != nil {
			logger.Warn("channel lookup failed", zap.String("game", game), zap.Error(err))
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"game":     game,
			"channels": channels,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
