package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rpeltola/slostat/internal/slo"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 8080
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultEvaluationInterval = 30 * time.Second
	DefaultScrapeInterval     = 30 * time.Second
	DefaultScrapeTimeout      = 10 * time.Second
	DefaultScrapeConcurrency  = 5
	DefaultScrapeRetries      = 2
	DefaultRetention          = 45 * 24 * time.Hour
	DefaultPruneInterval      = time.Hour
	DefaultBroadcastInterval  = 10 * time.Second
	DefaultCacheTTL           = 2 * time.Minute
	DefaultShortWindowHours   = 1.0
	DefaultLongWindowHours    = 6.0
)

// Config is the top-level server configuration. Fields map 1:1 to
// config.example.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	SLO      SLOConfig      `yaml:"slo"`
	Budget   BudgetConfig   `yaml:"budget"`
	BurnRate BurnRateConfig `yaml:"burn_rate"`
	Storage  StorageConfig  `yaml:"storage"`
	Scrape   ScrapeConfig   `yaml:"scrape"`
	Stream   StreamConfig   `yaml:"stream"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ShutdownTimeout bounds how long in-flight requests may run after a
	// termination signal.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Address returns the host:port the server binds to.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SLOConfig locates the definition files and sets the evaluation cadence.
type SLOConfig struct {
	// Directory is the root of the SLO definition tree (*.yaml, *.yml).
	Directory string `yaml:"directory"`

	// Watch enables hot reload when definition files change on disk.
	Watch bool `yaml:"watch"`

	// EvaluationInterval is the default cadence; a definition's
	// evaluation_interval overrides it per SLO.
	EvaluationInterval time.Duration `yaml:"evaluation_interval"`

	// CacheTTL is how long a cached evaluation is served before it is
	// reported stale.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// BudgetConfig holds the compliance status thresholds, in percent of the
// error budget consumed.
type BudgetConfig struct {
	AtRiskThreshold   float64 `yaml:"at_risk_threshold"`
	BreachedThreshold float64 `yaml:"breached_threshold"`
}

// BurnRateConfig holds the multi-window pair and the alerting thresholds.
type BurnRateConfig struct {
	ShortWindowHours  float64 `yaml:"short_window_hours"`
	LongWindowHours   float64 `yaml:"long_window_hours"`
	WarningThreshold  float64 `yaml:"warning_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold"`
}

// StorageConfig configures evaluation history persistence. An empty path
// disables persistence; evaluations are then held in memory only.
type StorageConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`

	// Retention is how long persisted snapshots are kept before deletion.
	Retention time.Duration `yaml:"retention"`

	// PruneInterval is how often expired snapshots are deleted.
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// ScrapeConfig configures the Prometheus-format metric ingestion loop.
type ScrapeConfig struct {
	// Interval controls how often each target is polled.
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds one poll of one target.
	Timeout time.Duration `yaml:"timeout"`

	// MaxConcurrent caps in-flight polls across all targets.
	MaxConcurrent int64 `yaml:"max_concurrent"`

	// Retries is how many times a failed poll is retried before the cycle
	// gives up on the target.
	Retries int `yaml:"retries"`

	Targets []ScrapeTarget `yaml:"targets"`
}

// ScrapeTarget describes one metrics endpoint feeding one service's
// indicator: two counters read from a Prometheus exposition page.
type ScrapeTarget struct {
	Name    string   `yaml:"name"`
	URL     string   `yaml:"url"`
	Service string   `yaml:"service"`
	Type    slo.Type `yaml:"slo_type"`

	// GoodMetric and TotalMetric name the cumulative counters whose
	// per-interval deltas become good and total events. Families are
	// summed across label sets.
	GoodMetric  string `yaml:"good_metric"`
	TotalMetric string `yaml:"total_metric"`
}

// StreamConfig configures the WebSocket fleet stream.
type StreamConfig struct {
	// BroadcastInterval is how often the fleet report is pushed to
	// connected clients.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Development switches to the human-readable console encoder.
	Development bool `yaml:"development"`
}

// Load reads and parses the YAML config file at path. Missing optional
// fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config pre-populated with default values. The SLO
// directory has no default and must be set by file or flag.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		SLO: SLOConfig{
			EvaluationInterval: DefaultEvaluationInterval,
			CacheTTL:           DefaultCacheTTL,
		},
		Budget: BudgetConfig{
			AtRiskThreshold:   80.0,
			BreachedThreshold: 100.0,
		},
		BurnRate: BurnRateConfig{
			ShortWindowHours:  DefaultShortWindowHours,
			LongWindowHours:   DefaultLongWindowHours,
			WarningThreshold:  6.0,
			CriticalThreshold: 14.4,
		},
		Storage: StorageConfig{
			Retention:     DefaultRetention,
			PruneInterval: DefaultPruneInterval,
		},
		Scrape: ScrapeConfig{
			Interval:      DefaultScrapeInterval,
			Timeout:       DefaultScrapeTimeout,
			MaxConcurrent: DefaultScrapeConcurrency,
			Retries:       DefaultScrapeRetries,
		},
		Stream: StreamConfig{
			BroadcastInterval: DefaultBroadcastInterval,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks required fields and structural constraints.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: invalid port %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	if c.SLO.Directory == "" {
		return fmt.Errorf("slo.directory is required")
	}
	if c.SLO.EvaluationInterval <= 0 {
		return fmt.Errorf("slo.evaluation_interval must be positive")
	}
	if c.SLO.CacheTTL <= 0 {
		return fmt.Errorf("slo.cache_ttl must be positive")
	}

	if c.Budget.AtRiskThreshold <= 0 {
		return fmt.Errorf("budget.at_risk_threshold must be positive")
	}
	if c.Budget.BreachedThreshold <= 0 {
		return fmt.Errorf("budget.breached_threshold must be positive")
	}
	if c.Budget.AtRiskThreshold > c.Budget.BreachedThreshold {
		return fmt.Errorf("budget.at_risk_threshold (%v) must not exceed breached_threshold (%v)",
			c.Budget.AtRiskThreshold, c.Budget.BreachedThreshold)
	}

	if c.BurnRate.ShortWindowHours <= 0 || c.BurnRate.LongWindowHours <= 0 {
		return fmt.Errorf("burn_rate windows must be positive")
	}
	if c.BurnRate.ShortWindowHours >= c.BurnRate.LongWindowHours {
		return fmt.Errorf("burn_rate.short_window_hours (%v) must be below long_window_hours (%v)",
			c.BurnRate.ShortWindowHours, c.BurnRate.LongWindowHours)
	}
	if c.BurnRate.WarningThreshold <= 0 {
		return fmt.Errorf("burn_rate.warning_threshold must be positive")
	}
	if c.BurnRate.CriticalThreshold <= 0 {
		return fmt.Errorf("burn_rate.critical_threshold must be positive")
	}
	if c.BurnRate.WarningThreshold > c.BurnRate.CriticalThreshold {
		return fmt.Errorf("burn_rate.warning_threshold (%v) must not exceed critical_threshold (%v)",
			c.BurnRate.WarningThreshold, c.BurnRate.CriticalThreshold)
	}

	if c.Storage.Path != "" {
		if c.Storage.Retention <= 0 {
			return fmt.Errorf("storage.retention must be positive")
		}
		if c.Storage.PruneInterval <= 0 {
			return fmt.Errorf("storage.prune_interval must be positive")
		}
	}

	if len(c.Scrape.Targets) > 0 {
		if c.Scrape.Interval <= 0 {
			return fmt.Errorf("scrape.interval must be positive")
		}
		if c.Scrape.Timeout <= 0 {
			return fmt.Errorf("scrape.timeout must be positive")
		}
		if c.Scrape.MaxConcurrent < 1 {
			return fmt.Errorf("scrape.max_concurrent must be at least 1")
		}
		if c.Scrape.Retries < 0 {
			return fmt.Errorf("scrape.retries must not be negative")
		}
	}
	seen := make(map[string]struct{}, len(c.Scrape.Targets))
	for i, target := range c.Scrape.Targets {
		if err := validateTarget(target); err != nil {
			return fmt.Errorf("scrape.targets[%d]: %w", i, err)
		}
		if _, dup := seen[target.Name]; dup {
			return fmt.Errorf("scrape.targets[%d]: duplicate name %q", i, target.Name)
		}
		seen[target.Name] = struct{}{}
	}

	if c.Stream.BroadcastInterval <= 0 {
		return fmt.Errorf("stream.broadcast_interval must be positive")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}

	return nil
}

func validateTarget(t ScrapeTarget) error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if t.URL == "" {
		return fmt.Errorf("%q: url is required", t.Name)
	}
	u, err := url.Parse(t.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q: invalid url %q", t.Name, t.URL)
	}
	if t.Service == "" {
		return fmt.Errorf("%q: service is required", t.Name)
	}
	if _, err := slo.ParseType(string(t.Type)); err != nil {
		return fmt.Errorf("%q: %w", t.Name, err)
	}
	if t.GoodMetric == "" || t.TotalMetric == "" {
		return fmt.Errorf("%q: good_metric and total_metric are required", t.Name)
	}
	return nil
}
