package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"idm-connector/internal/entity"
)

// PasswordEnv overrides database.password when set.
const PasswordEnv = "IDM_DB_PASSWORD"

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Sync       SyncConfig       `yaml:"sync"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Binlog     BinlogConfig     `yaml:"binlog"`
	Output     OutputConfig     `yaml:"output"`
	NATS       NATSConfig       `yaml:"nats"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Processor  ProcessorConfig  `yaml:"processor"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // mysql, sqlite3
	DSN             string        `yaml:"dsn"`    // Takes precedence over host/port/user
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	Path            string        `yaml:"path"` // sqlite3 database file
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Bootstrap       bool          `yaml:"bootstrap"` // Create tables when missing
}

type SyncConfig struct {
	Entities  []string      `yaml:"entities"`
	Interval  time.Duration `yaml:"interval"`
	StartFrom string        `yaml:"start_from"` // beginning, latest
	Timeout   time.Duration `yaml:"timeout"`    // Per pass, 0 = none
}

type CheckpointConfig struct {
	Backend string `yaml:"backend"` // file, nats-kv
	Dir     string `yaml:"dir"`
	Bucket  string `yaml:"bucket"`
}

type BinlogConfig struct {
	Enabled  bool   `yaml:"enabled"`
	ServerID uint32 `yaml:"server_id"`
	Flavor   string `yaml:"flavor"` // mysql, mariadb
	Schema   string `yaml:"schema"` // Only react to writes in this schema, empty = any
}

type OutputConfig struct {
	Type string `yaml:"type"` // stdout, nats, kafka
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxReconnect  int           `yaml:"max_reconnect"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ProcessorConfig configures event reshaping before events reach the output.
type ProcessorConfig struct {
	Enabled bool            `yaml:"enabled"`
	Script  string          `yaml:"script"` // JavaScript file, takes precedence over rules
	Rules   []ProcessorRule `yaml:"rules"`
}

// ProcessorRule reshapes the snapshot of events for one entity kind.
type ProcessorRule struct {
	Entity    string            `yaml:"entity"` // Empty = all kinds
	Include   []string          `yaml:"include"`
	Exclude   []string          `yaml:"exclude"`
	Rename    map[string]string `yaml:"rename"`
	AddFields map[string]string `yaml:"add_fields"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return config, nil
}

// Parse decodes YAML, applies defaults and the environment override, and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if pw := os.Getenv(PasswordEnv); pw != "" {
		config.Database.Password = pw
	}
	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 4
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 2
	}
	if len(c.Sync.Entities) == 0 {
		c.Sync.Entities = []string{"account", "permission"}
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 30 * time.Second
	}
	if c.Sync.StartFrom == "" {
		c.Sync.StartFrom = "beginning"
	}
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = "file"
	}
	if c.Checkpoint.Dir == "" {
		c.Checkpoint.Dir = "checkpoints"
	}
	if c.Checkpoint.Bucket == "" {
		c.Checkpoint.Bucket = "idm-checkpoints"
	}
	if c.Binlog.Flavor == "" {
		c.Binlog.Flavor = "mysql"
	}
	if c.Binlog.ServerID == 0 {
		c.Binlog.ServerID = 1001
	}
	if c.Output.Type == "" {
		c.Output.Type = "stdout"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "idm"
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.NATS.MaxReconnect == 0 {
		c.NATS.MaxReconnect = 60
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "idm.changes"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Port == "" {
		c.Metrics.Port = "9102"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "idm-connector"
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4318"
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	db := c.Database
	switch db.Driver {
	case "mysql":
		if db.DSN == "" {
			if strings.TrimSpace(db.Host) == "" {
				return fmt.Errorf("database.host must not be empty")
			}
			if strings.TrimSpace(db.User) == "" {
				return fmt.Errorf("database.user must not be empty")
			}
			if db.Password == "" {
				return fmt.Errorf("database.password must not be empty (or set %s)", PasswordEnv)
			}
			if strings.TrimSpace(db.Name) == "" {
				return fmt.Errorf("database.name must not be empty")
			}
		}
	case "sqlite3":
		if db.DSN == "" && strings.TrimSpace(db.Path) == "" {
			return fmt.Errorf("database.path must not be empty for sqlite3")
		}
		if c.Binlog.Enabled {
			return fmt.Errorf("binlog triggers require the mysql driver")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", db.Driver)
	}

	seen := make(map[entity.Kind]string, len(c.Sync.Entities))
	for _, e := range c.Sync.Entities {
		kind, err := entity.Parse(e)
		if err != nil {
			return fmt.Errorf("unsupported sync entity %q", e)
		}
		if prev, ok := seen[kind]; ok {
			return fmt.Errorf("sync entity %q repeats %q", e, prev)
		}
		seen[kind] = e
	}
	switch c.Sync.StartFrom {
	case "beginning", "latest":
	default:
		return fmt.Errorf("sync.start_from must be 'beginning' or 'latest', got %q", c.Sync.StartFrom)
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("sync.interval must not be negative")
	}

	switch c.Checkpoint.Backend {
	case "file":
	case "nats-kv":
		if c.NATS.URL == "" {
			return fmt.Errorf("checkpoint backend nats-kv requires nats.url")
		}
	default:
		return fmt.Errorf("unsupported checkpoint.backend %q", c.Checkpoint.Backend)
	}

	switch c.Output.Type {
	case "stdout":
	case "nats":
		if c.NATS.URL == "" {
			return fmt.Errorf("output nats requires nats.url")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("output kafka requires kafka.brokers")
		}
	default:
		return fmt.Errorf("unsupported output.type %q", c.Output.Type)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported logging.format %q", c.Logging.Format)
	}

	return nil
}
