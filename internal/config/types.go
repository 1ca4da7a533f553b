package config

import "time"

// Config is the complete fleetwatch configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Cluster ClusterConfig `yaml:"cluster" mapstructure:"cluster"`
	Remote  RemoteConfig  `yaml:"remote" mapstructure:"remote"`
	Feed    FeedConfig    `yaml:"feed" mapstructure:"feed"`
	History HistoryConfig `yaml:"history" mapstructure:"history"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port"`

	// URLPrefix is stripped from incoming paths, e.g. /session/user/status
	// when running behind a path-routing proxy.
	URLPrefix string `yaml:"url_prefix" mapstructure:"url_prefix"`

	// PublicDir holds the static dashboard and the data/ directory.
	PublicDir string `yaml:"public_dir" mapstructure:"public_dir" validate:"required"`

	// DefaultTheme is handed to clients without a saved preference.
	DefaultTheme string `yaml:"default_theme" mapstructure:"default_theme" validate:"oneof=dark light"`

	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// ClusterConfig controls cluster polling.
type ClusterConfig struct {
	// Monitor runs the poll scheduler in the background.
	Monitor bool `yaml:"monitor" mapstructure:"monitor"`

	// PagesEnabled exposes the cluster usage routes and front-end pages.
	// Monitoring only runs when pages are enabled.
	PagesEnabled bool `yaml:"pages_enabled" mapstructure:"pages_enabled"`

	// Interval between full cycles. Clamped to at least MinInterval.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`

	// Pace is the sleep between clusters within a full cycle.
	Pace time.Duration `yaml:"pace" mapstructure:"pace" validate:"gte=0"`

	// Fast watch looks for newly connected clusters after each full cycle.
	// Disabled when either value is zero.
	FastWatchInterval time.Duration `yaml:"fast_watch_interval" mapstructure:"fast_watch_interval" validate:"gte=0"`
	FastWatchDuration time.Duration `yaml:"fast_watch_duration" mapstructure:"fast_watch_duration" validate:"gte=0"`

	// Include limits polling to clusters whose name or URI matches one of
	// these glob patterns. Empty means everything.
	Include []string `yaml:"include" mapstructure:"include"`

	SnapshotPath string `yaml:"snapshot_path" mapstructure:"snapshot_path" validate:"required"`
}

// FastWatchEnabled reports whether the fast watch sub-loop should run.
func (c ClusterConfig) FastWatchEnabled() bool {
	return c.FastWatchInterval > 0 && c.FastWatchDuration > 0
}

// MonitorActive reports whether the scheduler should run at all.
func (c ClusterConfig) MonitorActive() bool {
	return c.Monitor && c.PagesEnabled
}

// RemoteConfig controls how cluster output is fetched.
type RemoteConfig struct {
	// Mode is "cli" (local command templates) or "ssh" (direct SSH).
	Mode string `yaml:"mode" mapstructure:"mode" validate:"oneof=cli ssh"`

	// Timeout bounds every remote call.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`

	// Shell runs local command templates. Defaults to $SHELL or /bin/sh.
	Shell string `yaml:"shell" mapstructure:"shell"`

	EnumerateCommand string `yaml:"enumerate_command" mapstructure:"enumerate_command" validate:"required"`
	// UsageCommand and QueueCommand are templates; {uri} and {name} are
	// substituted shell-quoted.
	UsageCommand string `yaml:"usage_command" mapstructure:"usage_command" validate:"required"`
	QueueCommand string `yaml:"queue_command" mapstructure:"queue_command" validate:"required"`

	SSH SSHConfig `yaml:"ssh" mapstructure:"ssh"`
}

// SSHConfig is used when Remote.Mode is "ssh".
type SSHConfig struct {
	// HostTemplate maps a cluster to an SSH host or ~/.ssh/config alias.
	// {name} is the cluster name.
	HostTemplate string `yaml:"host_template" mapstructure:"host_template" validate:"required"`

	UsageCommand string `yaml:"usage_command" mapstructure:"usage_command" validate:"required"`
	QueueCommand string `yaml:"queue_command" mapstructure:"queue_command" validate:"required"`

	// StrictHostKey rejects hosts missing from known_hosts.
	StrictHostKey bool          `yaml:"strict_host_key" mapstructure:"strict_host_key"`
	DialTimeout   time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout" validate:"gt=0"`
	IdleTimeout   time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"gte=0"`
}

// FeedConfig controls the upstream status feed.
type FeedConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	URL     string `yaml:"url" mapstructure:"url" validate:"required,url"`

	// Interval between refreshes. Clamped to at least MinInterval.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`

	// Insecure skips TLS verification. When false, CABundle (if set)
	// replaces the system roots.
	Insecure bool   `yaml:"insecure" mapstructure:"insecure"`
	CABundle string `yaml:"ca_bundle" mapstructure:"ca_bundle"`

	UserAgent  string `yaml:"user_agent" mapstructure:"user_agent" validate:"required"`
	OutputPath string `yaml:"output_path" mapstructure:"output_path" validate:"required"`
}

// HistoryConfig controls the optional PostgreSQL usage history sink.
type HistoryConfig struct {
	// DSN enables the sink when non-empty.
	DSN   string `yaml:"dsn" mapstructure:"dsn"`
	Table string `yaml:"table" mapstructure:"table" validate:"required"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path" validate:"required,startswith=/"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=console json"`

	// Dir enables a daily-rotated JSON log file when set.
	Dir      string        `yaml:"dir" mapstructure:"dir"`
	MaxAge   time.Duration `yaml:"max_age" mapstructure:"max_age" validate:"gte=0"`
	Rotation time.Duration `yaml:"rotation" mapstructure:"rotation" validate:"gte=0"`
}

// MinInterval is the floor for both the cluster and feed cadences.
const MinInterval = 60 * time.Second

// DefaultFeedURL is the public DSRC unclassified systems status page.
const DefaultFeedURL = "https://centers.hpc.mil/systems/unclassified.html"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "0.0.0.0:8080",
			PublicDir:       "public",
			DefaultTheme:    "dark",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    15 * time.Minute,
			IdleTimeout:     2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Cluster: ClusterConfig{
			Monitor:           true,
			PagesEnabled:      true,
			Interval:          120 * time.Second,
			Pace:              time.Second,
			FastWatchInterval: 12 * time.Second,
			FastWatchDuration: 120 * time.Second,
			Include:           []string{},
			SnapshotPath:      "public/data/cluster_usage.json",
		},
		Remote: RemoteConfig{
			Mode:             "cli",
			Timeout:          60 * time.Second,
			EnumerateCommand: "pw clusters ls --status=on -o table --owned",
			UsageCommand:     "pw ssh {uri} show_usage",
			QueueCommand:     "pw ssh {uri} show_queues",
			SSH: SSHConfig{
				HostTemplate:  "{name}",
				UsageCommand:  "show_usage",
				QueueCommand:  "show_queues",
				StrictHostKey: true,
				DialTimeout:   10 * time.Second,
				IdleTimeout:   5 * time.Minute,
			},
		},
		Feed: FeedConfig{
			Enabled:    true,
			URL:        DefaultFeedURL,
			Interval:   180 * time.Second,
			Timeout:    20 * time.Second,
			Insecure:   true,
			UserAgent:  "pw-status-dashboard/1.1",
			OutputPath: "public/data/status.json",
		},
		History: HistoryConfig{
			Table: "cluster_usage_history",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:    "info",
			Format:   "console",
			MaxAge:   7 * 24 * time.Hour,
			Rotation: 24 * time.Hour,
		},
	}
}
