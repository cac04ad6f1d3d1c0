// Package config loads server configuration from TOML or YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/devsupport/bus"
	"github.com/vinayprograms/devsupport/logging"
)

// ServerName is the name reported in serverInfo.
const ServerName = "Software Development Support MCP Server"

// Environment overrides, applied after the file is read.
const (
	EnvTasksFile = "DEVSUPPORT_TASKS_FILE"
	EnvLogLevel  = "DEVSUPPORT_LOG_LEVEL"
	EnvNATSURL   = "DEVSUPPORT_NATS_URL"
	EnvOTLP      = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Transports.
const (
	TransportStdio     = "stdio"
	TransportWebSocket = "websocket"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendNATS   = "nats"
)

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Storage   StorageConfig   `toml:"storage" yaml:"storage"`
	Lock      LockConfig      `toml:"lock" yaml:"lock"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging"`
	Events    EventsConfig    `toml:"events" yaml:"events"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
}

// ServerConfig selects the transport and tool policy.
type ServerConfig struct {
	Name       string `toml:"name" yaml:"name"`
	Transport  string `toml:"transport" yaml:"transport"`
	Listen     string `toml:"listen" yaml:"listen"`
	PolicyFile string `toml:"policy_file" yaml:"policy_file"`

	// RateLimit caps calls per tool in each RateWindow. Zero is unlimited.
	RateLimit  int      `toml:"rate_limit" yaml:"rate_limit"`
	RateWindow Duration `toml:"rate_window" yaml:"rate_window"`
}

// StorageConfig locates persisted state.
type StorageConfig struct {
	Backend      string `toml:"backend" yaml:"backend"`
	TasksFile    string `toml:"tasks_file" yaml:"tasks_file"`
	SQLitePath   string `toml:"sqlite_path" yaml:"sqlite_path"`
	WorkLogFile  string `toml:"work_log_file" yaml:"work_log_file"`
	WorkLogIndex string `toml:"work_log_index" yaml:"work_log_index"`
}

// LockConfig configures the NATS connection shared by the cross-process
// lock and the nats storage backend. An empty NATSURL disables both.
// Timeout also bounds the wait for the tasks file lock.
type LockConfig struct {
	NATSURL string   `toml:"nats_url" yaml:"nats_url"`
	Bucket  string   `toml:"bucket" yaml:"bucket"`
	Key     string   `toml:"key" yaml:"key"`
	TTL     Duration `toml:"ttl" yaml:"ttl"`
	Timeout Duration `toml:"timeout" yaml:"timeout"`
}

// Enabled reports whether a NATS connection is configured.
func (l LockConfig) Enabled() bool {
	return l.NATSURL != ""
}

// LoggingConfig configures the server log. File "-" means stderr.
type LoggingConfig struct {
	Level string `toml:"level" yaml:"level"`
	File  string `toml:"file" yaml:"file"`
}

// EventsConfig enables change events on the NATS connection configured in
// LockConfig.
type EventsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Prefix  string `toml:"prefix" yaml:"prefix"`
}

// TelemetryConfig configures OTLP export of tool-call spans.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	Endpoint string `toml:"endpoint" yaml:"endpoint"`
	Protocol string `toml:"protocol" yaml:"protocol"` // grpc or http
	Insecure bool   `toml:"insecure" yaml:"insecure"`
	Debug    bool   `toml:"debug" yaml:"debug"` // record tool results on spans
}

// Duration is a time.Duration written as a string such as "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:       ServerName,
			Transport:  TransportStdio,
			Listen:     "127.0.0.1:8765",
			RateWindow: Duration(time.Minute),
		},
		Storage: StorageConfig{
			Backend:     BackendFile,
			TasksFile:   "tasks.json",
			SQLitePath:  "tasks.db",
			WorkLogFile: filepath.Join("logs", "work_log.json"),
		},
		Lock: LockConfig{
			Bucket:  "devsupport",
			Key:     "tasks",
			TTL:     Duration(30 * time.Second),
			Timeout: Duration(5 * time.Second),
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join("logs", "mcpServer.log"),
		},
		Events: EventsConfig{
			Prefix: bus.DefaultPrefix,
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
	}
}

// StandardPaths returns the config file locations tried by Load, in order.
func StandardPaths() []string {
	paths := []string{"devsupport.toml", "devsupport.yaml", "devsupport.yml"}
	if home, err := os.UserHomeDir(); err == nil {
		dir := filepath.Join(home, ".config", "devsupport")
		paths = append(paths,
			filepath.Join(dir, "config.toml"),
			filepath.Join(dir, "config.yaml"),
		)
	}
	return paths
}

// Load reads path, or the first existing standard path when path is empty.
// With no file at all it returns the defaults. Environment overrides and
// validation are applied in every case.
func Load(path string) (*Config, string, error) {
	if path == "" {
		for _, p := range StandardPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, path, err
		}
	}

	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// LoadFile reads a single file over the defaults without consulting the
// environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".toml", "":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvTasksFile); v != "" {
		c.Storage.TasksFile = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := getenv(EnvNATSURL); v != "" {
		c.Lock.NATSURL = v
	}
	if v := getenv(EnvOTLP); v != "" && c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case TransportStdio:
	case TransportWebSocket:
		if c.Server.Listen == "" {
			return fmt.Errorf("server.listen is required for the websocket transport")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Server.Transport)
	}

	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow <= 0 {
		return fmt.Errorf("server.rate_window must be positive")
	}

	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.TasksFile == "" {
			return fmt.Errorf("storage.tasks_file is required")
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required")
		}
	case BackendNATS:
		if !c.Lock.Enabled() {
			return fmt.Errorf("storage backend nats requires lock.nats_url")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Storage.WorkLogFile == "" {
		return fmt.Errorf("storage.work_log_file is required")
	}

	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be positive")
	}
	if c.Lock.Timeout <= 0 {
		return fmt.Errorf("lock.timeout must be positive")
	}
	if c.Lock.Enabled() && (c.Lock.Bucket == "" || c.Lock.Key == "") {
		return fmt.Errorf("lock.bucket and lock.key are required with lock.nats_url")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	if c.Events.Enabled {
		if !c.Lock.Enabled() {
			return fmt.Errorf("events require lock.nats_url")
		}
		if err := bus.ValidateSubject(c.Events.Prefix); err != nil {
			return fmt.Errorf("invalid events.prefix %q", c.Events.Prefix)
		}
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			return fmt.Errorf("unknown telemetry protocol %q", c.Telemetry.Protocol)
		}
	}
	return nil
}
