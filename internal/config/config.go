package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for shiftq, stored in ~/.shiftq/config.json.
// The file supports single-line // comments for documentation purposes.
type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Sections  []Section       `mapstructure:"sections"`
}

// StorageConfig selects where queues and session shadows are persisted.
type StorageConfig struct {
	// Driver is one of "file", "sqlite3" or "mysql".
	Driver string `mapstructure:"driver"`
	// Dir is the data directory for the file store and the default sqlite file.
	Dir string `mapstructure:"dir"`
	// DSN is the database connection string for sqlite3 or mysql.
	DSN string `mapstructure:"dsn"`
}

// BackendConfig describes the remote workflow backend.
type BackendConfig struct {
	// BaseURL is prepended to relative section endpoints.
	BaseURL string `mapstructure:"base_url"`
	// SessionsPath is the default open-session query path.
	SessionsPath string `mapstructure:"sessions_path"`
	// Token, if set, is sent as a bearer token on every request.
	Token string `mapstructure:"token"`
	// Timeout bounds a single delivery attempt or poll.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DeliveryConfig tunes the durable queue and its flush scheduler.
type DeliveryConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	MaxQueueAge   time.Duration `mapstructure:"max_queue_age"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffCap    time.Duration `mapstructure:"backoff_cap"`
	// DrainDelay is the pause between ticks while a backlog is being drained.
	DrainDelay time.Duration `mapstructure:"drain_delay"`
	// EnqueueDelay is how soon after an enqueue a flush is attempted.
	EnqueueDelay time.Duration `mapstructure:"enqueue_delay"`
}

// ReconcileConfig tunes session reconciliation polling.
type ReconcileConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// SettleDelay collapses bursts of poll triggers into one poll.
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// Section is one workflow instance (e.g. a department) with its own endpoint
// and storage keys.
type Section struct {
	Name             string `mapstructure:"name"`
	Endpoint         string `mapstructure:"endpoint"`
	SessionsEndpoint string `mapstructure:"sessions_endpoint"`
	QueueKey         string `mapstructure:"queue_key"`
	ShadowKey        string `mapstructure:"shadow_key"`
}

// QueueStorageKey returns the record name of the section's pending queue.
func (s Section) QueueStorageKey() string {
	if s.QueueKey != "" {
		return s.QueueKey
	}
	return s.Name + ".queue"
}

// ShadowStorageKey returns the record name of the section's session shadow.
func (s Section) ShadowStorageKey() string {
	if s.ShadowKey != "" {
		return s.ShadowKey
	}
	return s.Name + ".sessions"
}

// ErrNoSections is returned when a command needs a section but none are configured.
var ErrNoSections = errors.New("no sections configured")

const (
	DefaultLogLevel      = "INFO"
	DefaultStorageDriver = "file"
	DefaultSessionsPath  = "/sessions"
	DefaultTimeout       = 15 * time.Second
	DefaultFlushInterval = 20 * time.Second
	DefaultMaxQueueAge   = 24 * time.Hour
	DefaultBackoffBase   = 5 * time.Second
	DefaultBackoffCap    = 10 * time.Minute
	DefaultDrainDelay    = time.Second
	DefaultEnqueueDelay  = 2 * time.Second
	DefaultPollInterval  = 120 * time.Second
	DefaultSettleDelay   = 1500 * time.Millisecond

	envPrefix = "SHIFTQ"
)

// Default returns a Config pre-filled with the built-in defaults and no sections.
func Default() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		Storage:  StorageConfig{Driver: DefaultStorageDriver},
		Backend: BackendConfig{
			SessionsPath: DefaultSessionsPath,
			Timeout:      DefaultTimeout,
		},
		Delivery: DeliveryConfig{
			FlushInterval: DefaultFlushInterval,
			MaxQueueAge:   DefaultMaxQueueAge,
			BackoffBase:   DefaultBackoffBase,
			BackoffCap:    DefaultBackoffCap,
			DrainDelay:    DefaultDrainDelay,
			EnqueueDelay:  DefaultEnqueueDelay,
		},
		Reconcile: ReconcileConfig{
			PollInterval: DefaultPollInterval,
			SettleDelay:  DefaultSettleDelay,
		},
	}
}

// setDefaults registers every scalar key so that environment overrides apply
// even when the key is missing from the file.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.dir", "")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.sessions_path", d.Backend.SessionsPath)
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.timeout", d.Backend.Timeout)
	v.SetDefault("delivery.flush_interval", d.Delivery.FlushInterval)
	v.SetDefault("delivery.max_queue_age", d.Delivery.MaxQueueAge)
	v.SetDefault("delivery.backoff_base", d.Delivery.BackoffBase)
	v.SetDefault("delivery.backoff_cap", d.Delivery.BackoffCap)
	v.SetDefault("delivery.drain_delay", d.Delivery.DrainDelay)
	v.SetDefault("delivery.enqueue_delay", d.Delivery.EnqueueDelay)
	v.SetDefault("reconcile.poll_interval", d.Reconcile.PollInterval)
	v.SetDefault("reconcile.settle_delay", d.Reconcile.SettleDelay)
}

// configTemplate is the annotated config written on first run.
// Lines whose trimmed content starts with // are stripped before JSON parsing,
// allowing human-readable documentation inside the file.
const configTemplate = `// shiftq configuration – ~/.shiftq/config.json
//
// Every scalar can be overridden from the environment with the SHIFTQ_
// prefix, e.g. SHIFTQ_BACKEND_BASE_URL or SHIFTQ_DELIVERY_FLUSH_INTERVAL.
{
  // Log level: DEBUG, INFO, NOTICE, WARNING, ERROR, CRITICAL.
  "log_level": "INFO",

  // ── Persistence of pending requests and session shadows ─────────────────
  "storage": {
    // "file" (JSON files in dir), "sqlite3" or "mysql".
    "driver": "file",
    // Data directory; empty means ~/.shiftq/data.
    "dir": "",
    // Database DSN for sqlite3 (defaults to <dir>/shiftq.db) or mysql.
    "dsn": ""
  },

  // ── Workflow backend ────────────────────────────────────────────────────
  "backend": {
    // Prepended to section endpoints that are not absolute URLs.
    "base_url": "",
    // Default open-session query path for sections without sessions_endpoint.
    "sessions_path": "/sessions",
    // Optional bearer token.
    "token": "",
    // Upper bound for one delivery attempt or poll.
    "timeout": "15s"
  },

  // ── Retry queue ─────────────────────────────────────────────────────────
  "delivery": {
    "flush_interval": "20s",
    // Undelivered actions older than this are dropped.
    "max_queue_age": "24h",
    "backoff_base": "5s",
    "backoff_cap": "10m",
    "drain_delay": "1s",
    "enqueue_delay": "2s"
  },

  // ── Session reconciliation ──────────────────────────────────────────────
  "reconcile": {
    "poll_interval": "120s",
    "settle_delay": "1500ms"
  },

  // One entry per workflow section (department).
  // queue_key and shadow_key default to <name>.queue and <name>.sessions.
  "sections": [
    // {"name": "assembly", "endpoint": "/assembly/actions", "sessions_endpoint": "/assembly/sessions"}
  ]
}
`

// DefaultPath returns the path to ~/.shiftq/config.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".shiftq", "config.json"), nil
}

// stripLineComments removes lines whose leading non-whitespace content starts
// with //. Only full-line comments are handled; inline comments are not stripped.
func stripLineComments(data []byte) []byte {
	var out []byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if bytes.HasPrefix(bytes.TrimLeft(line, " \t"), []byte("//")) {
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

// Load reads the config file at path (DefaultPath if empty), creating it with
// annotated defaults on first run, and applies SHIFTQ_* environment overrides.
func Load(path string) (Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Default(), err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// First run: write the annotated template so users can discover options.
		if writeErr := writeDefault(path); writeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config file %s: %v\n", path, writeErr)
		}
		data = []byte(configTemplate)
	} else if err != nil {
		return Default(), fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Default(), fmt.Errorf("parsing config file %s: %w\nTip: delete the file to regenerate defaults", path, err)
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = filepath.Join(filepath.Dir(path), "data")
	}
	return cfg, nil
}

// Parse decodes commented JSON config data, filling defaults and applying
// environment overrides.
func Parse(data []byte) (Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadConfig(bytes.NewReader(stripLineComments(data))); err != nil {
		return Default(), fmt.Errorf("could not read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Default(), fmt.Errorf("could not unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Validate checks sections and durations for values the engine cannot run with.
func (c Config) Validate() error {
	seen := map[string]bool{}
	for i, s := range c.Sections {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("section %d: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("section %q: duplicate name", s.Name)
		}
		seen[s.Name] = true
		if s.Endpoint == "" {
			return fmt.Errorf("section %q: endpoint is required", s.Name)
		}
	}
	if c.Delivery.BackoffBase <= 0 || c.Delivery.BackoffCap < c.Delivery.BackoffBase {
		return fmt.Errorf("delivery: backoff_cap (%s) must be >= backoff_base (%s) > 0",
			c.Delivery.BackoffCap, c.Delivery.BackoffBase)
	}
	if c.Delivery.FlushInterval <= 0 || c.Reconcile.PollInterval <= 0 {
		return errors.New("flush_interval and poll_interval must be positive")
	}
	if c.Delivery.MaxQueueAge <= 0 {
		return fmt.Errorf("delivery: max_queue_age (%s) must be positive", c.Delivery.MaxQueueAge)
	}
	if c.Delivery.DrainDelay < 0 || c.Delivery.EnqueueDelay < 0 || c.Reconcile.SettleDelay < 0 {
		return errors.New("drain_delay, enqueue_delay and settle_delay must not be negative")
	}
	return nil
}

// Section returns the named section, or the only section when name is empty.
func (c Config) Section(name string) (Section, error) {
	if len(c.Sections) == 0 {
		return Section{}, ErrNoSections
	}
	if name == "" {
		if len(c.Sections) == 1 {
			return c.Sections[0], nil
		}
		return Section{}, fmt.Errorf("%d sections configured; choose one with --section", len(c.Sections))
	}
	for _, s := range c.Sections {
		if s.Name == name {
			return s, nil
		}
	}
	return Section{}, fmt.Errorf("unknown section %q", name)
}

// writeDefault creates the config directory and writes the annotated default
// config template.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
