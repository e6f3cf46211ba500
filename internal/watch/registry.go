package watch

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Builder constructs a watcher from its spec and shared dependencies.
type Builder func(spec Spec, deps Deps) (Watcher, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Builder{}
)

// Register installs or replaces the builder under the provided kind.
func Register(kind string, builder Builder) error {
	kind = normalizeKind(kind)
	if kind == "" {
		return fmt.Errorf("watcher kind is required for registration")
	}
	if builder == nil {
		return fmt.Errorf("watcher builder is required")
	}
	registryMu.Lock()
	registry[kind] = builder
	registryMu.Unlock()
	return nil
}

// Build resolves the builder for the spec's kind and constructs the watcher.
func Build(spec Spec, deps Deps) (Watcher, error) {
	kind := normalizeKind(spec.Kind)
	if kind == "" {
		return nil, fmt.Errorf("watcher kind is required")
	}
	registryMu.RLock()
	builder, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown watcher kind %q", spec.Kind)
	}
	return builder(spec, deps)
}

// Registered reports whether a builder exists for the kind.
func Registered(kind string) bool {
	registryMu.RLock()
	_, ok := registry[normalizeKind(kind)]
	registryMu.RUnlock()
	return ok
}

// Kinds lists the registered watcher kinds in sorted order.
func Kinds() []string {
	registryMu.RLock()
	kinds := make([]string, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	registryMu.RUnlock()
	sort.Strings(kinds)
	return kinds
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
