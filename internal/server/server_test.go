package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"vigil/internal/api"
	"vigil/internal/logging"
)

func newTestLogger() *logging.Logger {
	return logging.NewLoggerWithOutput(logging.NewLogBuffer(64), logging.LevelDebug, nil)
}

func TestServerServesAndStopsOnContext(t *testing.T) {
	srv := New("127.0.0.1:0", api.Options{}, newTestLogger())
	if err := srv.Listen(); err != nil {
		t.Skipf("skipping server test (listener unavailable): %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		runDone <- srv.Run(ctx)
	}()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/healthz", srv.Addr()))
	if err != nil {
		cancel()
		t.Fatalf("get healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		cancel()
		t.Fatalf("expected 200, got %d (%s)", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not stop after cancel")
	}
}

func TestServerListenFailureSurfaces(t *testing.T) {
	srv := New("127.0.0.1:0", api.Options{}, newTestLogger())
	if err := srv.Listen(); err != nil {
		t.Skipf("skipping server test (listener unavailable): %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = srv.Run(ctx)
	})

	second := New(srv.Addr(), api.Options{}, newTestLogger())
	if err := second.Listen(); err == nil {
		t.Fatalf("expected listen on a taken port to fail")
	}
}

func TestServerAddrBeforeListen(t *testing.T) {
	srv := New("127.0.0.1:8866", api.Options{}, newTestLogger())
	if got := srv.Addr(); got != "127.0.0.1:8866" {
		t.Fatalf("expected configured addr, got %q", got)
	}
}
