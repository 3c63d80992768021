// Package config loads the loyalty service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime settings for the loyalty service.
type Config struct {
	ListenAddress string         `yaml:"listen"`
	Environment   string         `yaml:"environment"`
	Database      DatabaseConfig `yaml:"database"`
	AuthSecret    string         `yaml:"auth_secret"`
	SeedDefaults  bool           `yaml:"seed_defaults"`
	SweepInterval Duration       `yaml:"sweep_interval"`
	RateLimit     float64        `yaml:"rate_limit"`
	RateBurst     int            `yaml:"rate_burst"`
	Program       ProgramConfig  `yaml:"program"`
}

// DatabaseConfig selects the backing store. Driver is "postgres" for
// production deployments or "sqlite" for single-node and test setups.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ProgramConfig tunes the loyalty program parameters.
type ProgramConfig struct {
	// PointsPerDollar converts discount dollars back into points.
	PointsPerDollar int64 `yaml:"points_per_dollar"`
	// RedemptionTTLDays is how long a claimed reward stays usable.
	RedemptionTTLDays int `yaml:"redemption_ttl_days"`
	// CooldownDays blocks repeat claims of the same reward per account.
	CooldownDays int `yaml:"cooldown_days"`
	// ReviewPoints is the flat accrual for a qualifying product review.
	ReviewPoints int64 `yaml:"review_points"`
	// ReviewMinRating gates review accrual to favourable reviews.
	ReviewMinRating int `yaml:"review_min_rating"`
}

// Load reads the YAML configuration from disk and applies defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file overrides are present.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = ":8481"
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = "loyalty.db"
	}
	if c.SweepInterval.Duration <= 0 {
		c.SweepInterval = Duration{time.Hour}
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 50
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 100
	}
	if c.Program.PointsPerDollar <= 0 {
		c.Program.PointsPerDollar = 100
	}
	if c.Program.RedemptionTTLDays <= 0 {
		c.Program.RedemptionTTLDays = 30
	}
	if c.Program.CooldownDays <= 0 {
		c.Program.CooldownDays = 30
	}
	if c.Program.ReviewPoints <= 0 {
		c.Program.ReviewPoints = 10
	}
	if c.Program.ReviewMinRating <= 0 {
		c.Program.ReviewMinRating = 4
	}
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.AuthSecret == "" {
		return fmt.Errorf("auth_secret is required")
	}
	return nil
}
