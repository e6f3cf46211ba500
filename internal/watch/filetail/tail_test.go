package filetail

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"vigil/internal/filter"
	"vigil/internal/notify"
	"vigil/internal/status"
	"vigil/internal/watch"
)

func newTailNotifier(t *testing.T) *notify.Notifier {
	t.Helper()
	notifier, err := notify.NewWithOptions(notify.Options{Debounce: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	t.Cleanup(func() {
		_ = notifier.Close()
	})
	return notifier
}

func seedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	return path
}

func appendBytes(t *testing.T, path, content string) {
	t.Helper()
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := file.WriteString(content); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close after append: %v", err)
	}
}

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
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status")
		return status.Status{}
	}
}

func assertNoStatus(t *testing.T, statuses <-chan status.Status, wait time.Duration) {
	t.Helper()
	select {
	case entry := <-statuses:
		t.Fatalf("unexpected status: %s", entry.Description())
	case <-time.After(wait):
	}
}

func lineContents(lines []status.LogLine) []string {
	contents := make([]string, 0, len(lines))
	for _, line := range lines {
		contents = append(contents, line.Content)
	}
	return contents
}

func TestStartEmitsAggregateThenFollowsAppends(t *testing.T) {
	path := seedFile(t, "one\ntwo\n")
	report, statuses := collector()

	tail, err := New(watch.Spec{Name: "demo", Kind: watch.KindFileTail, Path: path, Window: 5}, watch.Deps{Notify: newTailNotifier(t)})
	if err != nil {
		t.Fatalf("new tail: %v", err)
	}
	defer tail.Stop()

	tail.Start(report)
	if !tail.Active() {
		t.Fatal("expected watcher to be active")
	}

	aggregate := waitForStatus(t, statuses)
	if aggregate.Severity != status.Notice {
		t.Fatalf("expected notice severity, got %s", aggregate.Severity)
	}
	if diff := cmp.Diff([]string{"one", "two"}, lineContents(aggregate.Lines)); diff != "" {
		t.Fatalf("aggregate mismatch (-want +got):\n%s", diff)
	}

	appendBytes(t, path, "X\n")

	update := waitForStatus(t, statuses)
	if diff := cmp.Diff([]string{"one", "two", "X"}, lineContents(update.Lines)); diff != "" {
		t.Fatalf("update mismatch (-want +got):\n%s", diff)
	}
	if update.Description() != "X" {
		t.Fatalf("expected description %q, got %q", "X", update.Description())
	}
	sequences := []uint64{update.Lines[0].Seq, update.Lines[1].Seq, update.Lines[2].Seq}
	if sequences[0] >= sequences[1] || sequences[1] >= sequences[2] {
		t.Fatalf("expected monotonic sequences, got %v", sequences)
	}
}

func TestBackfillOrderNewestLast(t *testing.T) {
	path := seedFile(t, "a\nb\nc\nd\ne\n")
	report, statuses := collector()

	tail, err := New(watch.Spec{Name: "order", Path: path, Window: 3, Order: watch.NewestLast}, watch.Deps{Notify: newTailNotifier(t)})
	if err != nil {
		t.Fatalf("new tail: %v", err)
	}
	defer tail.Stop()

	tail.Start(report)
	aggregate := waitForStatus(t, statuses)
	if diff := cmp.Diff([]string{"c", "d", "e"}, lineContents(aggregate.Lines)); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestBackfillOrderNewestFirst(t *testing.T) {
	path := seedFile(t, "a\nb\nc\nd\ne\n")
	report, statuses := collector()

	tail, err := New(watch.Spec{Name: "order", Path: path, Window: 3, Order: watch.NewestFirst}, watch.Deps{Notify: newTailNotifier(t)})
	if err != nil {
		t.Fatalf("new tail: %v", err)
	}
	defer tail.Stop()

	tail.Start(report)
	aggregate := waitForStatus(t, statuses)
	if diff := cmp.Diff([]string{"e", "d", "c"}, lineContents(aggregate.Lines)); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	appendBytes(t, path, "f\n")
	update := waitForStatus(t, statuses)
	if diff := cmp.Diff([]string{"f", "e", "d"}, lineContents(update.Lines)); diff != "" {
		t.Fatalf("update mismatch (-want +got):\n%s", diff)
	}
}

func TestStartMissingFileFailsWithoutRegistration(t *testing.T) {
	notifier := newTailNotifier(t)
	report, statuses := collector()

	tail, err := New(watch.Spec{Name: "missing", Path: filepath.Join(t.TempDir(), "absent.log"), Window: 3}, watch.Deps{Notify: notifier})
	if err != nil {
		t.Fatalf("new tail: %v", err)
	}

	tail.Start(report)

	failure := waitForStatus(t, statuses)
	if failure.Severity != status.Any {
		t.Fatalf("expected lowest severity, got %s", failure.Severity)
	}
	if !strings.Contains(failure.Description(), "absent.log") {
		t.Fatalf("expected path in description, got %q", failure.Description())
	}
	if len(failure.Lines) != 0 {
		t.Fatalf("expected no lines, got %v", failure.Lines)
	}
	assertNoStatus(t, statuses, 100*time.Millisecond)

	if tail.Active() {
		t.Fatal("expected watcher to be failed")
	}
	if stats := notifier.Stats(); stats.ActiveWatches != 0 {
		t.Fatalf("expected no registration, got %d active watches", stats.ActiveWatches)
	}
}

func TestFilterRejectsAllLines(t *testing.T) {
	path := seedFile(t, "noise\nmore noise\n")
	report, statuses := collector()

	match, err := filter.Regexp("^match:")
	if err != nil {
		t.Fatalf("build filter: %v", err)
	}
	tail, err := New(watch.Spec{Name: "quiet", Path: path, Window: 3, Filter: match}, watch.Deps{Notify: newTailNotifier(t)})
	if err != nil {
		t.Fatalf("new tail: %v", err)
	}
	defer tail.Stop()

	tail.Start(report)
	aggregate := waitForStatus(t, statuses)
	if len(aggregate.Lines) != 0 {
		t.Fatalf("expected empty aggregate, got %v", lineContents(aggregate.Lines))
	}

	appendBytes(t, path, "still noise\n")
	assertNoStatus(t, statuses, 250*time.Millisecond)

	appendBytes(t, path, "match: found\n")
	update := waitForStatus(t, statuses)
	if diff := cmp.Diff([]string{"match: found"}, lineContents(update.Lines)); diff != "" {
		t.Fatalf("update mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendEvictsOldest(t *testing.T) {
	path := seedFile(t, "one\ntwo\n")
	report, statuses := collector()

	tail, err := New(watch.Spec{Name: "evict", Path: path, Window: 2}, watch.Deps{Notify: newTailNotifier(t)})
	if err != nil {
		t.Fatalf("new tail: %v", err)
	}
	defer tail.Stop()

	tail.Start(report)
	aggregate := waitForStatus(t, statuses)
	if diff := cmp.Diff([]string{"one", "two"}, lineContents(aggregate.Lines)); diff != "" {
		t.Fatalf("aggregate mismatch (-want +got):\n%s", diff)
	}

	appendBytes(t, path, "three\n")
	update := waitForStatus(t, statuses)
	if diff := cmp.Diff([]string{"two", "three"}, lineContents(update.Lines)); diff != "" {
		t.Fatalf("update mismatch (-want +got):\n%s", diff)
	}
}

func TestPartialWriteHeldUntilNewline(t *testing.T) {
	path := seedFile(t, "")
	report, statuses := collector()

	tail, err := New(watch.Spec{Name: "partial", Path: path, Window: 3}, watch.Deps{Notify: newTailNotifier(t)})
	if err != nil {
		t.Fatalf("new tail: %v", err)
	}
	defer tail.Stop()

	tail.Start(report)
	aggregate := waitForStatus(t, statuses)
	if len(aggregate.Lines) != 0 {
		t.Fatalf("expected empty aggregate, got %v", lineContents(aggregate.Lines))
	}

	appendBytes(t, path, "abc")
	assertNoStatus(t, statuses, 250*time.Millisecond)

	appendBytes(t, path, "def\n")
	update := waitForStatus(t, statuses)
	if diff := cmp.Diff([]string{"abcdef"}, lineContents(update.Lines)); diff != "" {
		t.Fatalf("update mismatch (-want +got):\n%s", diff)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	path := seedFile(t, "one\n")
	report, statuses := collector()

	tail, err := New(watch.Spec{Name: "stopper", Path: path, Window: 3}, watch.Deps{Notify: newTailNotifier(t)})
	if err != nil {
		t.Fatalf("new tail: %v", err)
	}

	tail.Start(report)
	waitForStatus(t, statuses)

	tail.Stop()
	tail.Stop()
	if tail.Active() {
		t.Fatal("expected watcher to be stopped")
	}

	appendBytes(t, path, "after stop\n")
	assertNoStatus(t, statuses, 250*time.Millisecond)
}

func TestStartSecondCallIgnored(t *testing.T) {
	path := seedFile(t, "one\n")
	report, statuses := collector()

	tail, err := New(watch.Spec{Name: "once", Path: path, Window: 3}, watch.Deps{Notify: newTailNotifier(t)})
	if err != nil {
		t.Fatalf("new tail: %v", err)
	}
	defer tail.Stop()

	tail.Start(report)
	waitForStatus(t, statuses)

	secondReport, secondStatuses := collector()
	tail.Start(secondReport)
	assertNoStatus(t, secondStatuses, 100*time.Millisecond)
}

func TestNewRejectsBadSpec(t *testing.T) {
	notifier := newTailNotifier(t)

	if _, err := New(watch.Spec{Path: "p", Window: 1}, watch.Deps{Notify: notifier}); err == nil {
		t.Fatal("expected error for missing name")
	}
	if _, err := New(watch.Spec{Name: "n", Window: 1}, watch.Deps{Notify: notifier}); err == nil {
		t.Fatal("expected error for missing path")
	}
	if _, err := New(watch.Spec{Name: "n", Path: "p", Window: 0}, watch.Deps{Notify: notifier}); err == nil {
		t.Fatal("expected error for zero window")
	}
	if _, err := New(watch.Spec{Name: "n", Path: "p", Window: 1}, watch.Deps{}); err == nil {
		t.Fatal("expected error for missing notifier")
	}
}

func TestDescribeNamesThePath(t *testing.T) {
	path := seedFile(t, "")
	tail, err := New(watch.Spec{Name: "desc", Path: path, Window: 4, Order: watch.NewestFirst}, watch.Deps{Notify: newTailNotifier(t)})
	if err != nil {
		t.Fatalf("new tail: %v", err)
	}
	description := tail.Describe()
	if !strings.Contains(description, path) || !strings.Contains(description, "newest_first") {
		t.Fatalf("unexpected description %q", description)
	}
}
