package config

import (
	"fmt"
	"net"
	"strings"

	"bitbucket.org/creachadair/stringset"

	"vigil/internal/filter"
	"vigil/internal/logging"
	"vigil/internal/watch"
)

type ValidationKind string

const (
	ValidationInvalid  ValidationKind = "invalid"
	ValidationConflict ValidationKind = "conflict"
)

type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (err *ValidationError) Error() string {
	if err == nil {
		return ""
	}
	return err.Message
}

func invalidf(format string, args ...any) *ValidationError {
	return &ValidationError{Kind: ValidationInvalid, Message: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...any) *ValidationError {
	return &ValidationError{Kind: ValidationConflict, Message: fmt.Sprintf(format, args...)}
}

// Validate checks a defaulted config and returns the first problem
// found. Watcher kinds are checked against the build registry, so the
// caller must have the variant packages linked in.
func Validate(cfg Config) error {
	if _, _, err := net.SplitHostPort(cfg.Server.Listen); err != nil {
		return invalidf("server.listen %q is not host:port: %v", cfg.Server.Listen, err)
	}
	if _, ok := logging.ParseLevel(cfg.Logging.Level); !ok {
		return invalidf("logging.level %q is not one of debug, info, warning, error", cfg.Logging.Level)
	}
	if cfg.Logging.Buffer <= 0 {
		return invalidf("logging.buffer must be positive, got %d", cfg.Logging.Buffer)
	}
	if cfg.Journal.Enabled && strings.TrimSpace(cfg.Journal.Dir) == "" {
		return invalidf("journal.dir is required when the journal is enabled")
	}
	if cfg.Journal.Retention < 0 {
		return invalidf("journal.retention must not be negative")
	}

	names := stringset.New()
	for index, watcher := range cfg.Watchers {
		if err := validateWatcher(index, watcher); err != nil {
			return err
		}
		if !names.Add(watcher.Name) {
			return conflictf("duplicate watcher name %q", watcher.Name)
		}
	}
	return nil
}

func validateWatcher(index int, watcher Watcher) error {
	if watcher.Name == "" {
		return invalidf("watchers[%d]: name is required", index)
	}
	if strings.ContainsRune(watcher.Name, '/') {
		return invalidf("watcher %q: name must not contain '/'", watcher.Name)
	}
	if watcher.Kind == "" {
		return invalidf("watcher %q: kind is required", watcher.Name)
	}
	if !watch.Registered(watcher.Kind) {
		return invalidf("watcher %q: unknown kind %q (known: %s)",
			watcher.Name, watcher.Kind, strings.Join(watch.Kinds(), ", "))
	}
	if _, err := filter.Build(watcher.Match, watcher.Expr); err != nil {
		return invalidf("watcher %q: %v", watcher.Name, err)
	}
	if watcher.Interval < 0 {
		return invalidf("watcher %q: interval must not be negative", watcher.Name)
	}

	switch watcher.Kind {
	case watch.KindFileTail:
		if strings.TrimSpace(watcher.Path) == "" {
			return invalidf("watcher %q: path is required for kind filetail", watcher.Name)
		}
		if watcher.Window <= 0 {
			return invalidf("watcher %q: window must be positive, got %d", watcher.Name, watcher.Window)
		}
		if _, err := watch.ParseOrder(watcher.Order); err != nil {
			return invalidf("watcher %q: %v", watcher.Name, err)
		}
	case watch.KindPing:
		if strings.TrimSpace(watcher.Addr) == "" {
			return invalidf("watcher %q: addr is required for kind ping", watcher.Name)
		}
		if _, _, err := net.SplitHostPort(watcher.Addr); err != nil {
			return invalidf("watcher %q: addr %q is not host:port: %v", watcher.Name, watcher.Addr, err)
		}
		if watcher.Failures <= 0 {
			return invalidf("watcher %q: failures must be positive, got %d", watcher.Name, watcher.Failures)
		}
	case watch.KindExec:
		if len(watcher.Command) == 0 {
			return invalidf("watcher %q: command is required for kind exec", watcher.Name)
		}
		if watcher.Window <= 0 {
			return invalidf("watcher %q: window must be positive, got %d", watcher.Name, watcher.Window)
		}
	}
	return nil
}
