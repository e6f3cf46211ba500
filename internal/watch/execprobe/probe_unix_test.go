//go:build !windows

package execprobe

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"vigil/internal/filter"
	"vigil/internal/status"
	"vigil/internal/watch"
)

func collector() (status.Reporter, chan status.Status) {
	statuses := make(chan status.Status, 16)
	return func(entry status.Status) {
		statuses <- entry
	}, statuses
}

func waitForStatus(t *testing.T, statuses <-chan status.Status) status.Status {
	t.Helper()
	select {
	case entry := <-statuses:
		return entry
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for status")
		return status.Status{}
	}
}

func lineContents(lines []status.LogLine) []string {
	contents := make([]string, 0, len(lines))
	for _, line := range lines {
		contents = append(contents, line.Content)
	}
	return contents
}

func TestProbeReportsCommandOutput(t *testing.T) {
	report, statuses := collector()
	probe, err := New(watch.Spec{
		Name:     "echo",
		Command:  []string{"/bin/sh", "-c", "echo alpha; echo beta"},
		Interval: time.Hour,
		Window:   5,
	}, watch.Deps{})
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	defer probe.Stop()

	probe.Start(report)

	entry := waitForStatus(t, statuses)
	if entry.Severity != status.Notice {
		t.Fatalf("expected notice, got %s: %s", entry.Severity, entry.Description())
	}
	if diff := cmp.Diff([]string{"alpha", "beta"}, lineContents(entry.Lines)); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(entry.Description(), "2 new lines") {
		t.Fatalf("unexpected description %q", entry.Description())
	}
}

func TestProbeReportsNonZeroExit(t *testing.T) {
	report, statuses := collector()
	probe, err := New(watch.Spec{
		Name:     "failing",
		Command:  []string{"/bin/sh", "-c", "echo broken; exit 3"},
		Interval: time.Hour,
		Window:   5,
	}, watch.Deps{})
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	defer probe.Stop()

	probe.Start(report)

	entry := waitForStatus(t, statuses)
	if entry.Severity != status.Critical {
		t.Fatalf("expected critical, got %s", entry.Severity)
	}
	if !strings.Contains(entry.Description(), "code 3") {
		t.Fatalf("unexpected description %q", entry.Description())
	}
	if diff := cmp.Diff([]string{"broken"}, lineContents(entry.Lines)); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestProbeAppliesFilter(t *testing.T) {
	match, err := filter.Regexp("^keep")
	if err != nil {
		t.Fatalf("build filter: %v", err)
	}

	report, statuses := collector()
	probe, err := New(watch.Spec{
		Name:     "filtered",
		Command:  []string{"/bin/sh", "-c", "echo keep one; echo drop; echo keep two"},
		Interval: time.Hour,
		Window:   5,
		Filter:   match,
	}, watch.Deps{})
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	defer probe.Stop()

	probe.Start(report)

	entry := waitForStatus(t, statuses)
	if diff := cmp.Diff([]string{"keep one", "keep two"}, lineContents(entry.Lines)); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestProbeMissingBinaryReportsCritical(t *testing.T) {
	report, statuses := collector()
	probe, err := New(watch.Spec{
		Name:     "missing",
		Command:  []string{"/no/such/binary"},
		Interval: time.Hour,
	}, watch.Deps{})
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	defer probe.Stop()

	probe.Start(report)

	entry := waitForStatus(t, statuses)
	if entry.Severity != status.Critical {
		t.Fatalf("expected critical, got %s", entry.Severity)
	}
	if !strings.Contains(entry.Description(), "cannot start") {
		t.Fatalf("unexpected description %q", entry.Description())
	}
}

func TestProbeWindowSpansRuns(t *testing.T) {
	report, statuses := collector()
	probe, err := New(watch.Spec{
		Name:     "spanning",
		Command:  []string{"/bin/sh", "-c", "echo tick"},
		Interval: 100 * time.Millisecond,
		Window:   5,
	}, watch.Deps{})
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	defer probe.Stop()

	probe.Start(report)

	first := waitForStatus(t, statuses)
	if diff := cmp.Diff([]string{"tick"}, lineContents(first.Lines)); diff != "" {
		t.Fatalf("first run mismatch (-want +got):\n%s", diff)
	}
	second := waitForStatus(t, statuses)
	if diff := cmp.Diff([]string{"tick", "tick"}, lineContents(second.Lines)); diff != "" {
		t.Fatalf("second run mismatch (-want +got):\n%s", diff)
	}
	if second.Lines[1].Seq <= second.Lines[0].Seq {
		t.Fatalf("expected increasing sequences, got %v then %v", second.Lines[0].Seq, second.Lines[1].Seq)
	}
}

func TestNewValidatesSpec(t *testing.T) {
	if _, err := New(watch.Spec{Command: []string{"true"}}, watch.Deps{}); err == nil {
		t.Fatal("expected error for missing name")
	}
	if _, err := New(watch.Spec{Name: "n"}, watch.Deps{}); err == nil {
		t.Fatal("expected error for missing command")
	}
}
