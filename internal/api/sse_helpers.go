package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vigil/internal/logging"
	"vigil/internal/status"
)

const (
	sseHeartbeatInterval = 15 * time.Second
	sseRetryInterval     = 5 * time.Second
)

var errSSENoFlusher = errors.New("sse response writer does not support flushing")

type sseError struct {
	Status  int
	Message string
	Err     error
}

type sseStatusStream struct {
	Logger    *logging.Logger
	Output    <-chan status.Status
	Heartbeat time.Duration
	Retry     time.Duration
}

func requireSSEToken(w http.ResponseWriter, r *http.Request, token string, logger *logging.Logger) bool {
	if validateToken(r, token) {
		return true
	}
	writeSSEHTTPError(w, r, logger, sseError{
		Status:  http.StatusUnauthorized,
		Message: "unauthorized",
	})
	return false
}

// serveStatusSSE streams statuses as "status" events until the client
// disconnects or the subscription closes. Heartbeat comments keep
// intermediaries from timing the connection out.
func serveStatusSSE(w http.ResponseWriter, r *http.Request, stream sseStatusStream) {
	if stream.Output == nil {
		return
	}
	writer, err := startSSEWriter(w)
	if err != nil {
		logStreamError(stream.Logger, r, "sse error", http.StatusInternalServerError, "sse stream unavailable", err, nil)
		return
	}

	retry := stream.Retry
	if retry <= 0 {
		retry = sseRetryInterval
	}
	if err := writer.writeRetry(retry); err != nil {
		return
	}

	heartbeat := stream.Heartbeat
	if heartbeat <= 0 {
		heartbeat = sseHeartbeatInterval
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := writer.writeComment("ping"); err != nil {
				return
			}
		case entry, ok := <-stream.Output:
			if !ok {
				return
			}
			if err := writer.writeEvent("status", entry); err != nil {
				return
			}
		}
	}
}

// sseWriter frames server-sent events onto a flushable response.
type sseWriter struct {
	out     io.Writer
	flusher http.Flusher
}

func startSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errSSENoFlusher
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", cacheControlNoStore)
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	flusher.Flush()

	return &sseWriter{out: w, flusher: flusher}, nil
}

func (w *sseWriter) writeRetry(retry time.Duration) error {
	if retry <= 0 {
		return nil
	}
	return w.flushField("retry: " + strconv.FormatInt(retry.Milliseconds(), 10) + "\n\n")
}

func (w *sseWriter) writeComment(comment string) error {
	return w.flushField(": " + strings.TrimSpace(comment) + "\n\n")
}

func (w *sseWriter) writeEvent(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if name != "" {
		if _, err := io.WriteString(w.out, "event: "+name+"\n"); err != nil {
			return err
		}
	}
	if err := writeSSEData(w.out, data); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) flushField(field string) error {
	if w == nil {
		return errors.New("sse writer missing")
	}
	if _, err := io.WriteString(w.out, field); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

// writeSSEData emits one data: line per newline-separated chunk of the
// payload, per the SSE framing rules.
func writeSSEData(out io.Writer, data []byte) error {
	if len(data) == 0 {
		_, err := io.WriteString(out, "data:\n\n")
		return err
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		if _, err := io.WriteString(out, "data: "); err != nil {
			return err
		}
		if _, err := out.Write(line); err != nil {
			return err
		}
		if _, err := io.WriteString(out, "\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(out, "\n")
	return err
}

func writeSSEHTTPError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, sseErr sseError) {
	if sseErr.Status == 0 {
		sseErr.Status = http.StatusInternalServerError
	}
	if strings.TrimSpace(sseErr.Message) == "" {
		sseErr.Message = http.StatusText(sseErr.Status)
	}
	logStreamError(logger, r, "sse error", sseErr.Status, sseErr.Message, sseErr.Err, nil)
	http.Error(w, sseErr.Message, sseErr.Status)
}
