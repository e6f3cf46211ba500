package api

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"vigil/internal/status"
)

func TestStatusesSSEStreamsStatuses(t *testing.T) {
	bus := newStatusBus(t, 0)
	srv := newSSETestServer(t, &StatusesSSEHandler{
		Bus:       bus,
		Logger:    newTestLogger(),
		AuthToken: "secret",
	})
	defer srv.Close()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(srv.URL + "?token=secret")
	if err != nil {
		t.Fatalf("get sse: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	bus.Publish(status.Text("app", "filetail", status.Critical, "probe failed"))

	reader := bufio.NewReader(resp.Body)
	frame, err := readSSEFrame(reader)
	if err != nil {
		t.Fatalf("read sse frame: %v", err)
	}
	if len(frame.Data) == 0 {
		frame, err = readSSEFrame(reader)
		if err != nil {
			t.Fatalf("read sse frame: %v", err)
		}
	}
	if frame.Event != "status" {
		t.Fatalf("expected status event, got %q", frame.Event)
	}

	var payload statusPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Watcher != "app" || payload.Severity != "critical" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestStatusesSSERejectsBadToken(t *testing.T) {
	srv := newSSETestServer(t, &StatusesSSEHandler{
		Bus:       newStatusBus(t, 0),
		Logger:    newTestLogger(),
		AuthToken: "secret",
	})
	defer srv.Close()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(srv.URL + "?token=wrong")
	if err != nil {
		t.Fatalf("get sse: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestStatusesSSERejectsBadSeverity(t *testing.T) {
	srv := newSSETestServer(t, &StatusesSSEHandler{
		Bus:       newStatusBus(t, 0),
		Logger:    newTestLogger(),
		AuthToken: "secret",
	})
	defer srv.Close()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(srv.URL + "?token=secret&severity=loud")
	if err != nil {
		t.Fatalf("get sse: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestStatusesSSEUnavailableWithoutBus(t *testing.T) {
	srv := newSSETestServer(t, &StatusesSSEHandler{
		Logger:    newTestLogger(),
		AuthToken: "secret",
	})
	defer srv.Close()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(srv.URL + "?token=secret")
	if err != nil {
		t.Fatalf("get sse: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) == 0 {
		t.Fatalf("expected a reason in the body")
	}
}
