package main

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestShutdownCoordinatorRunsInOrder(t *testing.T) {
	coordinator := newShutdownCoordinator(nil)
	order := []string{}

	coordinator.Add("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	coordinator.Add("second", func(context.Context) error {
		order = append(order, "second")
		return errors.New("boom")
	})
	coordinator.Add("third", func(context.Context) error {
		order = append(order, "third")
		return nil
	})

	err := coordinator.Run(context.Background())
	if err == nil {
		t.Fatal("expected the failing phase to surface")
	}
	if got := err.Error(); got != "second: boom" {
		t.Fatalf("unexpected error %q", got)
	}
	if diff := cmp.Diff([]string{"first", "second", "third"}, order); diff != "" {
		t.Fatalf("phase order mismatch (-want +got):\n%s", diff)
	}
}

func TestShutdownCoordinatorRunsOnce(t *testing.T) {
	coordinator := newShutdownCoordinator(nil)
	calls := 0
	coordinator.Add("only", func(context.Context) error {
		calls++
		return nil
	})

	if err := coordinator.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := coordinator.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestShutdownCoordinatorIgnoresNilPhases(t *testing.T) {
	coordinator := newShutdownCoordinator(nil)
	coordinator.Add("nil", nil)
	if err := coordinator.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}
