package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/deckwatch/internal/logger"
	"github.com/marmos91/deckwatch/pkg/api/auth"
	"github.com/marmos91/deckwatch/pkg/api/handlers"
	apimw "github.com/marmos91/deckwatch/pkg/api/middleware"
)

// NewRouter creates the chi router with all middleware and routes.
// Health routes are always open; everything else requires a bearer token
// when tokens is not nil, and settings changes require the control scope.
func NewRouter(observer handlers.Observer, tokens *auth.TokenService) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	status := handlers.NewStatusHandler(observer)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", status.Liveness)
		r.Get("/ready", status.Readiness)
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.BearerAuth(tokens))

		r.Get("/devices", status.Devices)
		r.Route("/decks", func(r chi.Router) {
			r.Get("/", status.Decks)
			r.Get("/{player}/metadata", status.Metadata)
			r.Get("/{player}/artwork", status.Artwork)
		})
		r.Route("/finders", func(r chi.Router) {
			r.Get("/", status.Finders)
			r.Group(func(r chi.Router) {
				r.Use(apimw.RequireControl(tokens))
				r.Put("/{kind}/passive", status.SetPassive)
				r.Put("/{kind}/capacity", status.SetCapacity)
			})
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs request start at DEBUG and completion at INFO.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDurationMs, logger.Duration(start),
		)
	})
}
