package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/dhcgn/email-archive/model"
)

// EnvPrefix prefixes every environment variable, e.g. EMAIL_ARCHIVE_QUEUE_URL.
const EnvPrefix = "EMAIL_ARCHIVE"

const (
	BackendElastic = "elastic"
	BackendSQLite  = "sqlite"
	BackendMemory  = "memory"
)

// Config holds every setting of the archiver. Values are layered: defaults,
// then the YAML file, then the environment, then flags set on the command
// line.
type Config struct {
	Archive ArchiveConfig `yaml:"archive"`
	Queue   QueueConfig   `yaml:"queue"`
	Index   IndexConfig   `yaml:"index"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	IMAP    IMAPConfig    `yaml:"imap"`
	Filter  FilterConfig  `yaml:"filter"`

	StateDir  string `yaml:"state_dir" split_words:"true"`
	DryRun    bool   `yaml:"dry_run" split_words:"true"`
	LogLevel  string `yaml:"log_level" split_words:"true"`
	LogDir    string `yaml:"log_dir" split_words:"true"`
	LogFormat string `yaml:"log_format" split_words:"true"`
}

type ArchiveConfig struct {
	Root string `yaml:"root"`
	// Domains triggers archiving when any To/From/CC/BCC address contains one.
	Domains []string `yaml:"domains"`
}

type QueueConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type IndexConfig struct {
	Backend            string   `yaml:"backend"`
	// Nodes lists the Elasticsearch endpoints.
	Nodes              []string `yaml:"nodes"`
	Path               string   `yaml:"path"`
	Username           string   `yaml:"username"`
	Password           string   `yaml:"password"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify" split_words:"true"`
}

type DaemonConfig struct {
	Priorities        []model.Priority `yaml:"priorities"`
	PopTimeout        time.Duration    `yaml:"pop_timeout" split_words:"true"`
	IdleInterval      time.Duration    `yaml:"idle_interval" split_words:"true"`
	ReconnectInterval time.Duration    `yaml:"reconnect_interval" split_words:"true"`
	StatsInterval     time.Duration    `yaml:"stats_interval" split_words:"true"`
}

type IMAPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	UseTLS             bool   `yaml:"use_tls" split_words:"true"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" split_words:"true"`
	Folder             string `yaml:"folder"`
}

type FilterConfig struct {
	IncludeHeader []string `yaml:"include_header" split_words:"true"`
	IncludeBody   []string `yaml:"include_body" split_words:"true"`
	ExcludeHeader []string `yaml:"exclude_header" split_words:"true"`
	ExcludeBody   []string `yaml:"exclude_body" split_words:"true"`
}

// Default returns the built-in settings.
func Default() Config {
	stateDir, err := defaultStateDir()
	if err != nil {
		stateDir = filepath.Join(".email-archive", "state")
	}
	return Config{
		Queue: QueueConfig{
			URL:  "redis://localhost:6379/0",
			Name: "email-archive",
		},
		Index: IndexConfig{
			Backend: BackendSQLite,
			Nodes:   []string{"http://localhost:9200"},
			Path:    "email-archive.db",
		},
		Daemon: DaemonConfig{
			PopTimeout:        5 * time.Second,
			IdleInterval:      500 * time.Millisecond,
			ReconnectInterval: 5 * time.Second,
			StatsInterval:     time.Minute,
		},
		IMAP: IMAPConfig{
			Port:   993,
			UseTLS: true,
			Folder: "INBOX",
		},
		StateDir:  stateDir,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load layers the configuration sources. file may be empty. A missing .env
// file is not an error; a missing explicit config file is.
func Load(file string) (Config, error) {
	cfg := Default()

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", file, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}

	if cfg.IMAP.Password == "" {
		cfg.IMAP.Password = os.Getenv("IMAP_PASS")
	}
	return cfg, nil
}

// Normalize cleans up values after all layers were applied.
func (c *Config) Normalize() {
	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	c.LogFormat = strings.ToLower(c.LogFormat)
	c.Index.Backend = strings.ToLower(c.Index.Backend)
	if c.StateDir != "" {
		c.StateDir = filepath.Clean(c.StateDir)
	}
	if c.Archive.Root != "" {
		c.Archive.Root = filepath.Clean(c.Archive.Root)
	}

	domains := c.Archive.Domains[:0]
	for _, d := range c.Archive.Domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}
	c.Archive.Domains = domains
}

// Validate checks the settings every command relies on.
func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}
	if c.Queue.URL == "" {
		return fmt.Errorf("queue url is required")
	}
	for _, p := range c.Daemon.Priorities {
		if !p.Valid() {
			return fmt.Errorf("invalid daemon priority %d", p)
		}
	}
	if c.Daemon.PopTimeout <= 0 || c.Daemon.IdleInterval <= 0 || c.Daemon.ReconnectInterval <= 0 {
		return fmt.Errorf("daemon intervals must be positive")
	}
	includeActive := len(c.Filter.IncludeHeader) > 0 || len(c.Filter.IncludeBody) > 0
	excludeActive := len(c.Filter.ExcludeHeader) > 0 || len(c.Filter.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude filters are mutually exclusive")
	}
	return nil
}

// ValidateArchive checks what commands touching the archive tree need.
func (c Config) ValidateArchive() error {
	if c.Archive.Root == "" {
		return fmt.Errorf("archive root is required (--archive-root or %s_ARCHIVE_ROOT)", EnvPrefix)
	}
	return nil
}

// ValidateIndex checks the selected index backend.
func (c Config) ValidateIndex() error {
	switch c.Index.Backend {
	case BackendElastic:
		if len(c.Index.Nodes) == 0 {
			return fmt.Errorf("index nodes are required for the elastic backend")
		}
	case BackendSQLite:
		if c.Index.Path == "" {
			return fmt.Errorf("index path is required for the sqlite backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown index backend %q", c.Index.Backend)
	}
	return nil
}

// ValidateIMAP checks the IMAP import source.
func (c Config) ValidateIMAP() error {
	if c.IMAP.Host == "" {
		return fmt.Errorf("--imap-host is required")
	}
	if c.IMAP.Username == "" {
		return fmt.Errorf("--imap-user is required")
	}
	if c.IMAP.Password == "" {
		return fmt.Errorf("IMAP password must be provided via --imap-pass, %s_IMAP_PASSWORD or IMAP_PASS", EnvPrefix)
	}
	if c.IMAP.Port <= 0 || c.IMAP.Port > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".email-archive", "state"), nil
}
