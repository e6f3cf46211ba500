package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"vigil/internal/journal"
	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/supervisor"
	"vigil/internal/version"
)

const defaultHistoryLimit = 50

type RestHandler struct {
	Supervisor *supervisor.Supervisor
	Journal    *journal.Journal
	Metrics    *metrics.Registry
	Logger     *logging.Logger
	Started    time.Time
}

type statusResponse struct {
	ServerTime    time.Time          `json:"server_time"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Version       string             `json:"version"`
	Watchers      supervisor.Summary `json:"watchers"`
}

func (h *RestHandler) requireSupervisor() *apiError {
	if h.Supervisor == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "supervisor unavailable"}
	}
	return nil
}

func (h *RestHandler) requireLogger() *apiError {
	if h.Logger == nil || h.Logger.Buffer() == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "log buffer unavailable"}
	}
	return nil
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if err := h.requireSupervisor(); err != nil {
		return err
	}

	now := time.Now().UTC()
	response := statusResponse{
		ServerTime: now,
		Version:    version.Get().Version,
		Watchers:   h.Supervisor.Summarize(),
	}
	if !h.Started.IsZero() {
		response.UptimeSeconds = int64(now.Sub(h.Started).Seconds())
	}

	writeJSON(w, http.StatusOK, response)
	return nil
}

func (h *RestHandler) handleWatchers(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if err := h.requireSupervisor(); err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, h.Supervisor.Watchers())
	return nil
}

// handleWatcherPath serves /api/watchers/{name} and
// /api/watchers/{name}/history.
func (h *RestHandler) handleWatcherPath(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/watchers/")
	name, sub, _ := strings.Cut(rest, "/")
	if name == "" {
		return &apiError{Status: http.StatusNotFound, Message: "watcher not found"}
	}

	switch sub {
	case "":
		return h.handleWatcher(w, name)
	case "history":
		return h.handleHistory(w, r, name)
	default:
		return &apiError{Status: http.StatusNotFound, Message: "not found"}
	}
}

func (h *RestHandler) handleWatcher(w http.ResponseWriter, name string) *apiError {
	if err := h.requireSupervisor(); err != nil {
		return err
	}

	snapshot, ok := h.Supervisor.Watcher(name)
	if !ok {
		return &apiError{Status: http.StatusNotFound, Message: "watcher not found"}
	}

	writeJSON(w, http.StatusOK, snapshot)
	return nil
}

// handleHistory reads from the journal rather than the supervisor so
// history stays queryable for watchers that have since left the config.
func (h *RestHandler) handleHistory(w http.ResponseWriter, r *http.Request, name string) *apiError {
	if h.Journal == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "history unavailable"}
	}

	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("n")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid n"}
		}
		limit = parsed
	}

	records, err := h.Journal.ReadLast(name, limit)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("history read failed", map[string]string{
				"watcher": name,
				"error":   err.Error(),
			})
		}
		return &apiError{Status: http.StatusInternalServerError, Message: "history unavailable"}
	}
	if records == nil {
		records = []journal.Record{}
	}

	writeJSON(w, http.StatusOK, records)
	return nil
}

func (h *RestHandler) handleMetrics(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if h.Metrics == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "metrics unavailable"}
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = h.Metrics.WritePrometheus(w)
	return nil
}
