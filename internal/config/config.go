// Package config loads and validates the daemon configuration: the
// HTTP server, logging, the optional status journal, and the watcher
// list. Decoding is strict; unknown YAML keys are errors.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vigil/internal/filter"
	"vigil/internal/logging"
	"vigil/internal/watch"
)

const (
	DefaultListen = "127.0.0.1:8866"

	defaultTailWindow   = 100
	defaultExecWindow   = 32
	defaultPingInterval = 30 * time.Second
	defaultExecInterval = time.Minute
	defaultPingFailures = 3
	defaultRetention    = 7 * 24 * time.Hour
)

// EnvToken overrides server.token when set, keeping secrets out of
// config files.
const EnvToken = "VIGIL_TOKEN"

type Config struct {
	Server   Server    `yaml:"server"`
	Logging  Logging   `yaml:"logging"`
	Journal  Journal   `yaml:"journal"`
	Watchers []Watcher `yaml:"watchers"`
}

type Server struct {
	Listen         string   `yaml:"listen"`
	Token          string   `yaml:"token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Buffer int    `yaml:"buffer"`
}

type Journal struct {
	Enabled   bool     `yaml:"enabled"`
	Dir       string   `yaml:"dir"`
	Retention Duration `yaml:"retention"`
}

// Watcher is one entry of the watchers list. Name and Kind are common;
// the rest is interpreted per kind: path/window/order/match/expr for
// filetail, addr/interval/failures for ping, command/interval/window
// plus the filter fields for exec.
type Watcher struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Path     string   `yaml:"path,omitempty"`
	Window   int      `yaml:"window,omitempty"`
	Order    string   `yaml:"order,omitempty"`
	Match    string   `yaml:"match,omitempty"`
	Expr     string   `yaml:"expr,omitempty"`
	Addr     string   `yaml:"addr,omitempty"`
	Interval Duration `yaml:"interval,omitempty"`
	Failures int      `yaml:"failures,omitempty"`
	Command  []string `yaml:"command,omitempty"`
}

// Duration decodes Go duration strings such as "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("invalid duration %q: expected a string like \"30s\"", node.Value)
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func Default() Config {
	return Config{
		Server:  Server{Listen: DefaultListen},
		Logging: Logging{Level: string(logging.LevelInfo), Buffer: logging.DefaultBufferSize},
		Journal: Journal{Retention: Duration(defaultRetention)},
	}
}

// Load reads, decodes, defaults, and validates the config at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over the defaults, applies the environment token
// override and per-watcher defaults, then validates. An empty document
// yields the default config with no watchers.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("invalid YAML: %w", err)
	}
	if token := os.Getenv(EnvToken); token != "" {
		cfg.Server.Token = token
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills absent values. Zero means absent; negative values
// are left for Validate to reject.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = DefaultListen
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = string(logging.LevelInfo)
	}
	if cfg.Logging.Buffer == 0 {
		cfg.Logging.Buffer = logging.DefaultBufferSize
	}
	for i := range cfg.Watchers {
		watcher := &cfg.Watchers[i]
		watcher.Name = strings.TrimSpace(watcher.Name)
		watcher.Kind = strings.ToLower(strings.TrimSpace(watcher.Kind))
		switch watcher.Kind {
		case watch.KindFileTail:
			if watcher.Window == 0 {
				watcher.Window = defaultTailWindow
			}
		case watch.KindPing:
			if watcher.Interval == 0 {
				watcher.Interval = Duration(defaultPingInterval)
			}
			if watcher.Failures == 0 {
				watcher.Failures = defaultPingFailures
			}
		case watch.KindExec:
			if watcher.Window == 0 {
				watcher.Window = defaultExecWindow
			}
			if watcher.Interval == 0 {
				watcher.Interval = Duration(defaultExecInterval)
			}
		}
	}
}

// Spec translates a validated watcher entry into the registry's spec,
// compiling the filter.
func (watcher Watcher) Spec() (watch.Spec, error) {
	accept, err := filter.Build(watcher.Match, watcher.Expr)
	if err != nil {
		return watch.Spec{}, fmt.Errorf("watcher %q: %w", watcher.Name, err)
	}
	order, err := watch.ParseOrder(watcher.Order)
	if err != nil {
		return watch.Spec{}, fmt.Errorf("watcher %q: %w", watcher.Name, err)
	}
	return watch.Spec{
		Name:     watcher.Name,
		Kind:     watcher.Kind,
		Path:     watcher.Path,
		Address:  watcher.Addr,
		Command:  append([]string(nil), watcher.Command...),
		Interval: time.Duration(watcher.Interval),
		Window:   watcher.Window,
		Order:    order,
		Filter:   accept,
		Failures: watcher.Failures,
	}, nil
}
