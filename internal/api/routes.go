package api

import (
	"net/http"
	"time"

	"vigil/internal/event"
	"vigil/internal/journal"
	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/supervisor"
)

// Options collects everything the HTTP surface serves from. Journal may
// be nil when history is disabled; Bus may be nil when no stream should
// be offered.
type Options struct {
	AuthToken      string
	AllowedOrigins []string
	Supervisor     *supervisor.Supervisor
	Journal        *journal.Journal
	Metrics        *metrics.Registry
	Bus            *event.Bus
	Logger         *logging.Logger
	Started        time.Time
}

type healthResponse struct {
	Status string `json:"status"`
}

func RegisterRoutes(mux *http.ServeMux, opts Options) {
	rest := &RestHandler{
		Supervisor: opts.Supervisor,
		Journal:    opts.Journal,
		Metrics:    opts.Metrics,
		Logger:     opts.Logger,
		Started:    opts.Started,
	}
	wrap := func(handler http.Handler) http.Handler {
		return loggingMiddleware(opts.Logger, handler)
	}

	mux.Handle("/api/status", wrap(restHandler(opts.AuthToken, rest.handleStatus)))
	mux.Handle("/api/watchers", wrap(restHandler(opts.AuthToken, rest.handleWatchers)))
	mux.Handle("/api/watchers/", wrap(restHandler(opts.AuthToken, rest.handleWatcherPath)))
	mux.Handle("/api/logs", wrap(restHandler(opts.AuthToken, rest.handleLogs)))
	mux.Handle("/metrics", wrap(restHandler(opts.AuthToken, rest.handleMetrics)))

	mux.Handle("/ws/statuses", securityHeadersMiddleware(cacheControlNoStore, &StatusesHandler{
		Bus:            opts.Bus,
		Logger:         opts.Logger,
		AuthToken:      opts.AuthToken,
		AllowedOrigins: opts.AllowedOrigins,
	}))
	mux.Handle("/api/statuses/stream", securityHeadersMiddleware(cacheControlNoStore, &StatusesSSEHandler{
		Bus:       opts.Bus,
		Logger:    opts.Logger,
		AuthToken: opts.AuthToken,
	}))

	// Liveness stays unauthenticated so load balancers can probe it.
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cacheControlNoStore)
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	})

	mux.Handle("/api/", securityHeadersMiddleware(cacheControlNoStore, http.NotFoundHandler()))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cacheControlNoCache)
		if opts.AuthToken != "" {
			w.Header().Set("X-Vigil-Auth", "required")
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("vigil ok\n"))
	})
}
