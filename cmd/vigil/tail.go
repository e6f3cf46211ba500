package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"vigil/internal/filter"
	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/notify"
	"vigil/internal/status"
	"vigil/internal/watch"
)

const defaultTailWindow = 20

func newTailCommand() *cobra.Command {
	tailCmd := &cobra.Command{
		Use:   "tail PATH",
		Short: "Follow one file in the foreground",
		Long:  "Tail backfills the last matching lines of PATH, prints them, and follows appends until interrupted.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			window, _ := cmd.Flags().GetInt("window")
			match, _ := cmd.Flags().GetString("match")
			expr, _ := cmd.Flags().GetString("expr")
			orderValue, _ := cmd.Flags().GetString("order")

			if window <= 0 {
				return fmt.Errorf("window must be positive, got %d", window)
			}
			accept, err := filter.Build(match, expr)
			if err != nil {
				return err
			}
			order, err := watch.ParseOrder(orderValue)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runTail(ctx, cmd.OutOrStdout(), watch.Spec{
				Name:   "tail",
				Kind:   watch.KindFileTail,
				Path:   args[0],
				Window: window,
				Order:  order,
				Filter: accept,
			})
		},
	}
	tailCmd.Flags().Int("window", defaultTailWindow, "how many matching lines to keep")
	tailCmd.Flags().String("match", "", "regular expression lines must match")
	tailCmd.Flags().String("expr", "", "CEL expression lines must satisfy (variables: line, length)")
	tailCmd.Flags().String("order", "newest_last", "window order: newest_last or newest_first")
	return tailCmd
}

// runTail drives a single file-tail watcher against out until ctx fires.
// The watcher's statuses carry all output: the backfill snapshot, the
// per-line notices, and any failure.
func runTail(ctx context.Context, out io.Writer, spec watch.Spec) error {
	logBuffer := logging.NewLogBuffer(logging.DefaultBufferSize)
	logger := logging.NewLoggerWithOutput(logBuffer, logging.LevelWarning, os.Stderr)

	notifier, err := notify.NewWithOptions(notify.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("start change notifier: %w", err)
	}
	defer func() {
		_ = notifier.Close()
	}()

	watcher, err := watch.Build(spec, watch.Deps{
		Logger:  logger,
		Metrics: &metrics.Registry{},
		Notify:  notifier,
	})
	if err != nil {
		return err
	}

	printer := &statusPrinter{out: out}
	watcher.Start(printer.Print)
	if !watcher.Active() {
		return fmt.Errorf("tail %s did not start", spec.Path)
	}
	defer watcher.Stop()

	liveness := time.NewTicker(time.Second)
	defer liveness.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-liveness.C:
			if !watcher.Active() {
				return errors.New("watcher stopped unexpectedly")
			}
		}
	}
}

var (
	noticeTag   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warningTag  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	criticalTag = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	faintTag    = lipgloss.NewStyle().Faint(true)
)

// severityTag renders the upper-cased severity name. Styles degrade to
// plain text when stdout is not a terminal.
func severityTag(severity status.Severity) string {
	label := strings.ToUpper(severity.String())
	switch severity {
	case status.Notice:
		return noticeTag.Render(label)
	case status.Warning:
		return warningTag.Render(label)
	case status.Critical:
		return criticalTag.Render(label)
	default:
		return faintTag.Render(label)
	}
}

// statusPrinter renders statuses one per line. The first notice is the
// backfill aggregate; its window prints indented underneath, while later
// snapshots are implied by their per-line notices.
type statusPrinter struct {
	mu       sync.Mutex
	out      io.Writer
	backfill bool
}

func (p *statusPrinter) Print(entry status.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s\n", severityTag(entry.Severity), entry.Description())
	if p.backfill || entry.Severity != status.Notice {
		return
	}
	p.backfill = true
	for _, line := range entry.Lines {
		fmt.Fprintf(p.out, "  %s\n", line.Content)
	}
}
