package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vigil/internal/logging"
)

const defaultLogLimit = 100

// handleLogs serves the logger's in-memory buffer. Query parameters:
// limit (newest N entries), level (minimum), since (RFC3339).
func (h *RestHandler) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if err := h.requireLogger(); err != nil {
		return err
	}

	values := r.URL.Query()
	limit, apiErr := logLimitParam(values)
	if apiErr != nil {
		return apiErr
	}
	level, apiErr := logLevelParam(values)
	if apiErr != nil {
		return apiErr
	}
	since, apiErr := logSinceParam(values)
	if apiErr != nil {
		return apiErr
	}

	entries := h.Logger.Buffer().ListAtLeast(level)
	if since != nil {
		recent := entries[:0]
		for _, entry := range entries {
			if !entry.Timestamp.Before(*since) {
				recent = append(recent, entry)
			}
		}
		entries = recent
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	writeJSON(w, http.StatusOK, entries)
	return nil
}

func logLimitParam(values url.Values) (int, *apiError) {
	raw := strings.TrimSpace(values.Get("limit"))
	if raw == "" {
		return defaultLogLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, &apiError{Status: http.StatusBadRequest, Message: "invalid limit"}
	}
	return limit, nil
}

func logLevelParam(values url.Values) (logging.Level, *apiError) {
	raw := strings.TrimSpace(values.Get("level"))
	if raw == "" {
		return "", nil
	}
	level, ok := logging.ParseLevel(raw)
	if !ok {
		return "", &apiError{Status: http.StatusBadRequest, Message: "invalid log level"}
	}
	return level, nil
}

func logSinceParam(values url.Values) (*time.Time, *apiError) {
	raw := strings.TrimSpace(values.Get("since"))
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, &apiError{Status: http.StatusBadRequest, Message: "invalid since timestamp"}
	}
	return &parsed, nil
}
