package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dhcgn/email-archive/model"
)

// RegisterFlags attaches the global flags to the root command.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("archive-root", "", "Archive root directory")
	flags.StringSlice("domains", nil, "Archived domains (comma separated)")
	flags.String("queue-url", "", "Queue store URL, e.g. redis://localhost:6379/0")
	flags.String("queue-name", "", "Queue name; lanes are <name>:<priority>")
	flags.String("index-backend", "", "Index backend: elastic, sqlite or memory")
	flags.StringSlice("index-url", nil, "Elasticsearch URLs")
	flags.String("index-path", "", "SQLite index database path")
	flags.String("index-user", "", "Elasticsearch username")
	flags.String("index-pass", "", "Elasticsearch password")
	flags.String("state-dir", "", "Directory for incremental import state files")
	flags.String("log-level", "", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.String("log-format", "", "Log format: text or json")
}

// RegisterDaemonFlags attaches the flags of the daemon command.
func RegisterDaemonFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntSlice("priority", nil, "Only drain these priorities (1=high, 2=normal, 3=low)")
	flags.Duration("pop-timeout", 0, "How long one blocking pop waits")
	flags.Duration("reconnect-interval", 0, "Pause before reconnecting to the queue store")
	flags.Duration("stats-interval", 0, "How often to log indexing statistics")
	flags.Bool("dry-run", false, "Index into memory instead of the configured backend")
}

// RegisterIMAPFlags attaches the IMAP source flags.
func RegisterIMAPFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 0, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("imap-folder", "", "IMAP folder to import")
}

// RegisterImportFlags attaches the flags shared by the import commands.
func RegisterImportFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Bool("dry-run", false, "Simulate the import and emit stats without writing to the archive")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
}

// LoadConfig resolves the configuration for cmd: defaults, the --config file,
// the environment, then every flag explicitly set on the command line.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()
	file, _ := flags.GetString("config")

	cfg, err := Load(file)
	if err != nil {
		return Config{}, err
	}
	if err := ApplyFlags(flags, &cfg); err != nil {
		return Config{}, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type binding struct {
	name  string
	apply func(*pflag.FlagSet, *Config) error
}

func stringFlag(name string, dst func(*Config) *string) binding {
	return binding{name, func(f *pflag.FlagSet, c *Config) (err error) {
		*dst(c), err = f.GetString(name)
		return err
	}}
}

func boolFlag(name string, dst func(*Config) *bool) binding {
	return binding{name, func(f *pflag.FlagSet, c *Config) (err error) {
		*dst(c), err = f.GetBool(name)
		return err
	}}
}

var bindings = []binding{
	stringFlag("archive-root", func(c *Config) *string { return &c.Archive.Root }),
	{"domains", func(f *pflag.FlagSet, c *Config) (err error) {
		c.Archive.Domains, err = f.GetStringSlice("domains")
		return err
	}},
	stringFlag("queue-url", func(c *Config) *string { return &c.Queue.URL }),
	stringFlag("queue-name", func(c *Config) *string { return &c.Queue.Name }),
	stringFlag("index-backend", func(c *Config) *string { return &c.Index.Backend }),
	{"index-url", func(f *pflag.FlagSet, c *Config) (err error) {
		c.Index.Nodes, err = f.GetStringSlice("index-url")
		return err
	}},
	stringFlag("index-path", func(c *Config) *string { return &c.Index.Path }),
	stringFlag("index-user", func(c *Config) *string { return &c.Index.Username }),
	stringFlag("index-pass", func(c *Config) *string { return &c.Index.Password }),
	stringFlag("state-dir", func(c *Config) *string { return &c.StateDir }),
	stringFlag("log-level", func(c *Config) *string { return &c.LogLevel }),
	stringFlag("log-dir", func(c *Config) *string { return &c.LogDir }),
	stringFlag("log-format", func(c *Config) *string { return &c.LogFormat }),
	boolFlag("dry-run", func(c *Config) *bool { return &c.DryRun }),

	{"priority", func(f *pflag.FlagSet, c *Config) error {
		// producer commands use a single --priority for what they enqueue
		if f.Lookup("priority").Value.Type() != "intSlice" {
			return nil
		}
		values, err := f.GetIntSlice("priority")
		if err != nil {
			return err
		}
		c.Daemon.Priorities = c.Daemon.Priorities[:0]
		for _, v := range values {
			c.Daemon.Priorities = append(c.Daemon.Priorities, model.Priority(v))
		}
		return nil
	}},
	{"pop-timeout", func(f *pflag.FlagSet, c *Config) (err error) {
		c.Daemon.PopTimeout, err = f.GetDuration("pop-timeout")
		return err
	}},
	{"reconnect-interval", func(f *pflag.FlagSet, c *Config) (err error) {
		c.Daemon.ReconnectInterval, err = f.GetDuration("reconnect-interval")
		return err
	}},
	{"stats-interval", func(f *pflag.FlagSet, c *Config) (err error) {
		c.Daemon.StatsInterval, err = f.GetDuration("stats-interval")
		return err
	}},

	stringFlag("imap-host", func(c *Config) *string { return &c.IMAP.Host }),
	{"imap-port", func(f *pflag.FlagSet, c *Config) (err error) {
		c.IMAP.Port, err = f.GetInt("imap-port")
		return err
	}},
	stringFlag("imap-user", func(c *Config) *string { return &c.IMAP.Username }),
	stringFlag("imap-pass", func(c *Config) *string { return &c.IMAP.Password }),
	boolFlag("use-tls", func(c *Config) *bool { return &c.IMAP.UseTLS }),
	boolFlag("insecure-skip-verify", func(c *Config) *bool { return &c.IMAP.InsecureSkipVerify }),
	stringFlag("imap-folder", func(c *Config) *string { return &c.IMAP.Folder }),

	{"include-header", func(f *pflag.FlagSet, c *Config) (err error) {
		c.Filter.IncludeHeader, err = f.GetStringArray("include-header")
		return err
	}},
	{"include-body", func(f *pflag.FlagSet, c *Config) (err error) {
		c.Filter.IncludeBody, err = f.GetStringArray("include-body")
		return err
	}},
	{"exclude-header", func(f *pflag.FlagSet, c *Config) (err error) {
		c.Filter.ExcludeHeader, err = f.GetStringArray("exclude-header")
		return err
	}},
	{"exclude-body", func(f *pflag.FlagSet, c *Config) (err error) {
		c.Filter.ExcludeBody, err = f.GetStringArray("exclude-body")
		return err
	}},
}

// ApplyFlags copies every flag that was set on the command line into cfg.
// Flags left at their defaults do not override other sources.
func ApplyFlags(flags *pflag.FlagSet, cfg *Config) error {
	for _, b := range bindings {
		if f := flags.Lookup(b.name); f == nil || !f.Changed {
			continue
		}
		if err := b.apply(flags, cfg); err != nil {
			return fmt.Errorf("flag --%s: %w", b.name, err)
		}
	}
	return nil
}
