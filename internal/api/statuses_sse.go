package api

import (
	"net/http"

	"vigil/internal/event"
	"vigil/internal/logging"
)

// StatusesSSEHandler is the server-sent-events counterpart of
// StatusesHandler, for clients that cannot speak websocket. Heartbeat
// comments keep proxies from cutting the stream.
type StatusesSSEHandler struct {
	Bus       *event.Bus
	Logger    *logging.Logger
	AuthToken string
}

func (h *StatusesSSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireSSEToken(w, r, h.AuthToken, h.Logger) {
		return
	}

	minSeverity, ok := severityFromQuery(r)
	if !ok {
		writeSSEHTTPError(w, r, h.Logger, sseError{
			Status:  http.StatusBadRequest,
			Message: "invalid severity",
		})
		return
	}

	bus := h.Bus
	if bus == nil {
		writeSSEHTTPError(w, r, h.Logger, sseError{
			Status:  http.StatusServiceUnavailable,
			Message: "status stream unavailable",
		})
		return
	}

	output, cancel := subscribeStatuses(bus, minSeverity)
	if output == nil {
		writeSSEHTTPError(w, r, h.Logger, sseError{
			Status:  http.StatusServiceUnavailable,
			Message: "status stream unavailable",
		})
		return
	}
	defer cancel()

	serveStatusSSE(w, r, sseStatusStream{
		Logger: h.Logger,
		Output: output,
	})
}
