package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"vigil/internal/event"
	"vigil/internal/logging"
	"vigil/internal/status"

	"github.com/gorilla/websocket"
)

// StatusesHandler streams every status published on the bus to a
// websocket client. Query parameters: token, severity (minimum level),
// replay (number of recent statuses sent before the live stream).
type StatusesHandler struct {
	Bus            *event.Bus
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

func (h *StatusesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireWSToken(w, r, h.AuthToken, h.Logger) {
		return
	}

	minSeverity, ok := severityFromQuery(r)
	if !ok {
		writeWSError(w, r, nil, h.Logger, wsError{
			Status:  http.StatusBadRequest,
			Message: "invalid severity",
		})
		return
	}
	replay, ok := replayCountFromQuery(r)
	if !ok {
		writeWSError(w, r, nil, h.Logger, wsError{
			Status:  http.StatusBadRequest,
			Message: "invalid replay count",
		})
		return
	}

	bus := h.Bus
	if bus == nil {
		writeWSError(w, r, nil, h.Logger, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: "status stream unavailable",
		})
		return
	}

	output, cancel := subscribeStatuses(bus, minSeverity)
	if output == nil {
		writeWSError(w, r, nil, h.Logger, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: "status stream unavailable",
		})
		return
	}

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		cancel()
		logWSError(h.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	defer conn.Close()

	// The replay snapshot is taken after subscribing so a status falls in
	// one of the two: either it was in history or it arrives live.
	history := lastStatuses(bus, replay, minSeverity)
	if err := writeStatusReplay(conn, history); err != nil {
		cancel()
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusInternalServerError,
			Message:      "status stream unavailable",
			Err:          err,
			SendEnvelope: true,
		})
		return
	}
	pump := startStatusPump(conn, output)
	defer cancel()
	defer pump.Stop()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeStatusReplay(conn *websocket.Conn, history []status.Status) error {
	if conn == nil || len(history) == 0 {
		return nil
	}
	for _, entry := range history {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		if err := conn.WriteJSON(entry); err != nil {
			return err
		}
	}
	return nil
}

func subscribeStatuses(bus *event.Bus, minSeverity status.Severity) (<-chan status.Status, func()) {
	return bus.SubscribeMin(minSeverity)
}

// lastStatuses returns the newest count statuses at or above minSeverity
// from the bus history, oldest first.
func lastStatuses(bus *event.Bus, count int, minSeverity status.Severity) []status.Status {
	if bus == nil || count <= 0 {
		return nil
	}
	history := bus.History()
	kept := make([]status.Status, 0, len(history))
	for _, entry := range history {
		if entry.Severity.AtLeast(minSeverity) {
			kept = append(kept, entry)
		}
	}
	if len(kept) > count {
		kept = kept[len(kept)-count:]
	}
	return kept
}

func severityFromQuery(r *http.Request) (status.Severity, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("severity"))
	if raw == "" {
		return status.Any, true
	}
	return status.ParseSeverity(raw)
}

func replayCountFromQuery(r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("replay"))
	if raw == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, false
	}
	return parsed, true
}
