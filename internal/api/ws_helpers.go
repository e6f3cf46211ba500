package api

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"vigil/internal/logging"
	"vigil/internal/status"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

type wsError struct {
	Status       int
	CloseCode    int
	Message      string
	Err          error
	SendEnvelope bool
}

type wsErrorPayload struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	CloseCode int    `json:"close_code,omitempty"`
}

func requireWSToken(w http.ResponseWriter, r *http.Request, token string, logger *logging.Logger) bool {
	if validateToken(r, token) {
		return true
	}
	writeWSError(w, r, nil, logger, wsError{
		Status:    http.StatusUnauthorized,
		CloseCode: websocket.ClosePolicyViolation,
		Message:   "unauthorized",
	})
	return false
}

func upgradeWebSocket(w http.ResponseWriter, r *http.Request, allowedOrigins []string) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, allowedOrigins)
		},
	}
	return upgrader.Upgrade(w, r, nil)
}

// statusPump copies statuses from a bus subscription onto a websocket
// until the subscription closes, the peer goes away, or Stop is called.
type statusPump struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

func startStatusPump(conn *websocket.Conn, output <-chan status.Status) *statusPump {
	pump := &statusPump{conn: conn, done: make(chan struct{})}
	go func() {
		for {
			select {
			case entry, ok := <-output:
				if !ok {
					return
				}
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(entry); err != nil {
					return
				}
			case <-pump.done:
				return
			}
		}
	}()
	return pump
}

func (pump *statusPump) Stop() {
	if pump == nil {
		return
	}
	pump.once.Do(func() { close(pump.done) })
}

// writeWSError closes an upgraded connection with a proper close frame,
// or falls back to a plain HTTP error when the upgrade never happened.
func writeWSError(w http.ResponseWriter, r *http.Request, conn *websocket.Conn, logger *logging.Logger, wsErr wsError) {
	if wsErr.Status == 0 {
		wsErr.Status = http.StatusInternalServerError
	}
	if strings.TrimSpace(wsErr.Message) == "" {
		wsErr.Message = http.StatusText(wsErr.Status)
	}
	if wsErr.CloseCode == 0 {
		wsErr.CloseCode = closeCodeForStatus(wsErr.Status)
	}

	logStreamError(logger, r, "websocket error", wsErr.Status, wsErr.Message, wsErr.Err, map[string]string{
		"close_code": strconv.Itoa(wsErr.CloseCode),
	})

	if conn == nil {
		http.Error(w, wsErr.Message, wsErr.Status)
		return
	}

	deadline := time.Now().Add(wsWriteTimeout)
	if wsErr.SendEnvelope {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.WriteJSON(wsErrorPayload{
			Type:      "error",
			Message:   wsErr.Message,
			Status:    wsErr.Status,
			CloseCode: wsErr.CloseCode,
		})
	}
	_ = conn.SetWriteDeadline(deadline)
	message := websocket.FormatCloseMessage(wsErr.CloseCode, truncateCloseReason(wsErr.Message))
	_ = conn.WriteControl(websocket.CloseMessage, message, deadline)
	_ = conn.Close()
}

func logWSError(logger *logging.Logger, r *http.Request, wsErr wsError) {
	if wsErr.CloseCode == 0 {
		wsErr.CloseCode = closeCodeForStatus(wsErr.Status)
	}
	logStreamError(logger, r, "websocket error", wsErr.Status, wsErr.Message, wsErr.Err, map[string]string{
		"close_code": strconv.Itoa(wsErr.CloseCode),
	})
}

// logStreamError records a stream setup or teardown problem for either
// stream flavor; 5xx statuses log as errors, the rest as warnings.
func logStreamError(logger *logging.Logger, r *http.Request, message string, httpStatus int, reason string, err error, extra map[string]string) {
	if logger == nil || r == nil {
		return
	}
	fields := map[string]string{
		"path":    r.URL.Path,
		"status":  strconv.Itoa(httpStatus),
		"message": reason,
	}
	if r.RemoteAddr != "" {
		fields["remote_addr"] = r.RemoteAddr
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	for key, value := range extra {
		fields[key] = value
	}
	if httpStatus >= http.StatusInternalServerError {
		logger.Error(message, fields)
	} else {
		logger.Warn(message, fields)
	}
}

func closeCodeForStatus(httpStatus int) int {
	switch {
	case httpStatus == http.StatusBadRequest:
		return websocket.CloseProtocolError
	case httpStatus == http.StatusServiceUnavailable:
		return websocket.CloseTryAgainLater
	case httpStatus >= http.StatusBadRequest && httpStatus < http.StatusInternalServerError:
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseInternalServerErr
	}
}

// truncateCloseReason keeps close reasons within the 123-byte limit the
// websocket close frame allows for payload text.
func truncateCloseReason(reason string) string {
	const maxReasonBytes = 123
	if len(reason) <= maxReasonBytes {
		return reason
	}
	return reason[:maxReasonBytes]
}
