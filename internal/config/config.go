// Package config loads the runtime's bootstrap configuration: agent/
// operator roster, store DSN, and observability toggles from YAML, with
// an environment-variable overlay and hot-reload.
//
// Grounded on the teacher's pkg/config/env.go (godotenv .env loading,
// ${VAR}/${VAR:-default} expansion over the decoded tree) and
// pkg/config/provider/file.go's fsnotify-based file watcher (debounced
// reload channel).
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AgentConfig describes one agent or operator to register at bootstrap
// (spec §6 register_agent/register_operator).
type AgentConfig struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Role    string   `yaml:"role"`
	Profile string   `yaml:"profile"`
	Variant string   `yaml:"variant"` // "autonomous" or "operator"
	Tools   []string `yaml:"tools"`
	Skills  []string `yaml:"skills"`
	Model   string   `yaml:"model"` // LLM model name, used for token bounding
}

// StoreConfig configures the snapshot persistence backend (internal/store).
type StoreConfig struct {
	Dialect string `yaml:"dialect"` // "sqlite" or "postgres"
	DSN     string `yaml:"dsn"`
}

// MCPServerConfig names one external tool server an agent's tool steps
// may resolve to (spec §4.9's "external tool service"; spec §1 non-goal
// excludes the client transport itself, but not which servers to dial).
type MCPServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "stdio" or "http"
	Command   string            `yaml:"command"`   // stdio
	Args      []string          `yaml:"args"`       // stdio
	Env       map[string]string `yaml:"env"`        // stdio
	URL       string            `yaml:"url"`        // http
}

// ObservabilityConfig toggles the ambient tracing/metrics stack.
type ObservabilityConfig struct {
	TracingEnabled bool    `yaml:"tracing_enabled"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	ServiceName    string  `yaml:"service_name"`
}

// Config is the runtime's full bootstrap configuration.
type Config struct {
	Agents        []AgentConfig       `yaml:"agents"`
	MCPServers    []MCPServerConfig   `yaml:"mcp_servers"`
	Store         StoreConfig         `yaml:"store"`
	Observability ObservabilityConfig `yaml:"observability"`
	LogLevel      string              `yaml:"log_level"`
}

// LoadEnvFiles loads .env.local then .env into the process environment,
// the same precedence the teacher's pkg/config/env.go uses (first file
// found wins for a given key, since godotenv.Load never overwrites an
// already-set variable).
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: load %s: %w", file, err)
		}
	}
	return nil
}

// Load reads a YAML config file, expands ${VAR}/${VAR:-default}/$VAR
// environment references in every string value, and decodes it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	expanded := expandEnvVarsInData(raw)

	out, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("config: re-marshal %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(out, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &cfg, nil
}

var envVarPatterns = struct {
	withDefault *regexp.Regexp
	braced      *regexp.Regexp
	simple      *regexp.Regexp
}{
	withDefault: regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`),
	braced:      regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`),
	simple:      regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`),
}

func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})
	s = envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPatterns.braced.FindStringSubmatch(match)[1])
	})
	s = envVarPatterns.simple.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPatterns.simple.FindStringSubmatch(match)[1])
	})
	return s
}

func parseValue(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

func expandEnvVarsInData(data any) any {
	switch v := data.(type) {
	case string:
		expanded := expandEnvVars(v)
		if expanded != v {
			return parseValue(expanded)
		}
		return expanded
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = expandEnvVarsInData(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = expandEnvVarsInData(item)
		}
		return out
	default:
		return v
	}
}

// Watcher reloads Config whenever the underlying file changes, debounced
// the way pkg/config/provider/file.go coalesces rapid writes.
type Watcher struct {
	path string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewWatcher creates a Watcher bound to a config file's absolute path.
func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path: %w", err)
	}
	return &Watcher{path: abs}, nil
}

// Watch starts watching the config file for changes, delivering a
// reloaded Config on the returned channel after each debounced change.
// The channel is closed when ctx is canceled.
func (w *Watcher) Watch(ctx context.Context) (<-chan *Config, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("config: watcher is closed")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create file watcher: %w", err)
	}
	w.watcher = fw

	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch directory %s: %w", dir, err)
	}

	ch := make(chan *Config, 1)
	go w.loop(ctx, fw, file, ch)
	return ch, nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, file string, ch chan<- *Config) {
	defer close(ch)
	defer fw.Close()

	const debounceDelay = 100 * time.Millisecond
	var timer *time.Timer

	reload := func() {
		cfg, err := Load(w.path)
		if err != nil {
			return
		}
		select {
		case ch <- cfg:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != file {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceDelay, reload)
			}
		case _, ok := <-fw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
