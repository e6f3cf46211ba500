package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vigil/internal/event"
	"vigil/internal/status"

	"github.com/gorilla/websocket"
)

type statusPayload struct {
	Watcher     string `json:"watcher"`
	Kind        string `json:"kind"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

func newStatusBus(t *testing.T, historySize int) *event.Bus {
	t.Helper()

	bus := event.NewBus(event.Options{
		Name:        "statuses",
		HistorySize: historySize,
	})
	t.Cleanup(bus.Close)
	return bus
}

func dialStatuses(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestStatusesStreamDeliversPublishedStatus(t *testing.T) {
	bus := newStatusBus(t, 0)
	srv := httptest.NewServer(&StatusesHandler{
		Bus:       bus,
		Logger:    newTestLogger(),
		AuthToken: "secret",
	})
	defer srv.Close()

	conn := dialStatuses(t, srv, "?token=secret")

	bus.Publish(status.Text("app", "filetail", status.Notice, "2 lines buffered"))

	var payload statusPayload
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	if payload.Watcher != "app" || payload.Severity != "notice" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Description != "2 lines buffered" {
		t.Fatalf("unexpected description: %q", payload.Description)
	}
}

func TestStatusesStreamRejectsBadToken(t *testing.T) {
	srv := httptest.NewServer(&StatusesHandler{
		Bus:       newStatusBus(t, 0),
		Logger:    newTestLogger(),
		AuthToken: "secret",
	})
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=wrong"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		_ = conn.Close()
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", resp)
	}
}

func TestStatusesStreamRejectsDisallowedOrigin(t *testing.T) {
	srv := httptest.NewServer(&StatusesHandler{
		Bus:            newStatusBus(t, 0),
		Logger:         newTestLogger(),
		AuthToken:      "secret",
		AllowedOrigins: []string{"ui.example.com"},
	})
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=secret"
	header := http.Header{"Origin": []string{"http://evil.example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		_ = conn.Close()
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake response, got %+v", resp)
	}
}

func TestStatusesStreamRejectsBadQuery(t *testing.T) {
	srv := httptest.NewServer(&StatusesHandler{
		Bus:       newStatusBus(t, 0),
		Logger:    newTestLogger(),
		AuthToken: "secret",
	})
	defer srv.Close()

	for _, query := range []string{"?token=secret&severity=loud", "?token=secret&replay=-1"} {
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + query
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err == nil {
			_ = conn.Close()
			t.Fatalf("%s: expected handshake to fail", query)
		}
		if resp == nil || resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 handshake response, got %+v", query, resp)
		}
	}
}

func TestStatusesStreamUnavailableWithoutBus(t *testing.T) {
	srv := httptest.NewServer(&StatusesHandler{
		Logger:    newTestLogger(),
		AuthToken: "secret",
	})
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=secret"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		_ = conn.Close()
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 handshake response, got %+v", resp)
	}
}

func TestStatusesStreamReplaysHistory(t *testing.T) {
	bus := newStatusBus(t, 8)
	bus.Publish(status.Text("app", "filetail", status.Notice, "one"))
	bus.Publish(status.Text("app", "filetail", status.Notice, "two"))

	srv := httptest.NewServer(&StatusesHandler{
		Bus:       bus,
		Logger:    newTestLogger(),
		AuthToken: "secret",
	})
	defer srv.Close()

	conn := dialStatuses(t, srv, "?token=secret&replay=2")

	var first, second statusPayload
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first replay: %v", err)
	}
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second replay: %v", err)
	}
	if first.Description != "one" || second.Description != "two" {
		t.Fatalf("expected replay oldest first, got %q then %q", first.Description, second.Description)
	}

	bus.Publish(status.Text("app", "filetail", status.Warning, "three"))

	var live statusPayload
	if err := conn.ReadJSON(&live); err != nil {
		t.Fatalf("read live status: %v", err)
	}
	if live.Description != "three" {
		t.Fatalf("expected live status after replay, got %+v", live)
	}
}

func TestStatusesStreamFiltersBySeverity(t *testing.T) {
	bus := newStatusBus(t, 0)
	srv := httptest.NewServer(&StatusesHandler{
		Bus:       bus,
		Logger:    newTestLogger(),
		AuthToken: "secret",
	})
	defer srv.Close()

	conn := dialStatuses(t, srv, "?token=secret&severity=warning")

	bus.Publish(status.Text("app", "filetail", status.Notice, "quiet"))
	bus.Publish(status.Text("app", "filetail", status.Warning, "loud"))

	var payload statusPayload
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	if payload.Description != "loud" {
		t.Fatalf("expected only the warning to pass the filter, got %+v", payload)
	}
}
