package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
	Sweeper        SweeperConfig        `yaml:"sweeper"`
	Market         MarketConfig         `yaml:"market"`
	Notifier       NotifierConfig       `yaml:"notifier"`
	Identity       IdentityConfig       `yaml:"identity"`
	Shipping       ShippingConfig       `yaml:"shipping"`
	Blob           BlobConfig           `yaml:"blob"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "sqlx" or "memory"
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
// Only the leader runs the deadline sweeper.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// SweeperConfig controls the auction deadline sweeper.
type SweeperConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	NoticeWindow time.Duration `yaml:"notice_window"`
	// NotifyTimeout bounds each notice the sweeper sends.
	NotifyTimeout time.Duration `yaml:"notify_timeout"`
}

// MarketConfig holds the marketplace policy values. Money is expressed
// in currency units and converted to fixed-point at startup.
type MarketConfig struct {
	SuspensionFine      float64 `yaml:"suspension_fine"`
	VIPBalanceThreshold float64 `yaml:"vip_balance_threshold"`
	VIPMinTransactions  int     `yaml:"vip_min_transactions"`
	VIPDiscountRate     float64 `yaml:"vip_discount_rate"`
	PointValue          float64 `yaml:"point_value"`
	StrikeLimit         int     `yaml:"strike_limit"`
	MinRatings          int     `yaml:"min_ratings"`
	RatingFloor         float64 `yaml:"rating_floor"`
	RatingCeiling       float64 `yaml:"rating_ceiling"`
}

// NotifierConfig selects and configures the notification transport.
type NotifierConfig struct {
	Driver       string        `yaml:"driver"` // "log" or "discord"
	DiscordToken string        `yaml:"discord_token"`
	ChannelID    string        `yaml:"channel_id"`
	Timeout      time.Duration `yaml:"timeout"`
}

// IdentityConfig selects and configures the identity provider.
type IdentityConfig struct {
	Driver         string        `yaml:"driver"` // "local" or "supabase"
	URL            string        `yaml:"url"`
	ServiceRoleKey string        `yaml:"service_role_key"`
	JWTSecret      string        `yaml:"jwt_secret"`
	Timeout        time.Duration `yaml:"timeout"`
}

// ShippingConfig configures the shipping-rate provider.
type ShippingConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// BlobConfig configures where uploaded images are written and served from.
type BlobConfig struct {
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"base_url"`
}

// Defaults returns the configuration used before the file is applied.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "sqlx",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "bluepenguin",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "bluepenguin-sweeper",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Sweeper: SweeperConfig{
			Enabled:       true,
			Interval:      time.Hour,
			NoticeWindow:  24 * time.Hour,
			NotifyTimeout: 5 * time.Second,
		},
		Market: MarketConfig{
			SuspensionFine:      50,
			VIPBalanceThreshold: 5000,
			VIPMinTransactions:  5,
			VIPDiscountRate:     0.10,
			PointValue:          0.01,
			StrikeLimit:         3,
			MinRatings:          3,
			RatingFloor:         2,
			RatingCeiling:       4,
		},
		Notifier: NotifierConfig{
			Driver:  "log",
			Timeout: 5 * time.Second,
		},
		Identity: IdentityConfig{
			Driver:  "local",
			Timeout: 5 * time.Second,
		},
		Shipping: ShippingConfig{
			Timeout: 5 * time.Second,
		},
		Blob: BlobConfig{
			Dir:     "uploads",
			BaseURL: "http://localhost:8080/uploads",
		},
	}
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlx", "memory":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q: must be \"sqlx\" or \"memory\"", c.Database.Driver))
	}

	switch c.Notifier.Driver {
	case "log":
	case "discord":
		if c.Notifier.DiscordToken == "" || c.Notifier.ChannelID == "" {
			errs = append(errs, errors.New("discord notifier requires discord_token and channel_id"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported notifier driver %q: must be \"log\" or \"discord\"", c.Notifier.Driver))
	}

	switch c.Identity.Driver {
	case "local":
	case "supabase":
		if c.Identity.URL == "" || c.Identity.ServiceRoleKey == "" {
			errs = append(errs, errors.New("supabase identity requires url and service_role_key"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported identity driver %q: must be \"local\" or \"supabase\"", c.Identity.Driver))
	}
	if c.Identity.JWTSecret == "" {
		errs = append(errs, errors.New("identity.jwt_secret is required"))
	}

	if c.Server.RequestTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.request_timeout and server.shutdown_timeout must be positive"))
	}

	if c.Sweeper.Enabled && c.Sweeper.Interval <= 0 {
		errs = append(errs, errors.New("sweeper.interval must be positive"))
	}

	m := c.Market
	if m.StrikeLimit < 1 {
		errs = append(errs, errors.New("market.strike_limit must be at least 1"))
	}
	if m.MinRatings < 1 {
		errs = append(errs, errors.New("market.min_ratings must be at least 1"))
	}
	if m.RatingFloor >= m.RatingCeiling {
		errs = append(errs, fmt.Errorf("market.rating_floor (%v) must be below rating_ceiling (%v)", m.RatingFloor, m.RatingCeiling))
	}
	if m.VIPDiscountRate < 0 || m.VIPDiscountRate >= 1 {
		errs = append(errs, fmt.Errorf("market.vip_discount_rate %v out of range [0,1)", m.VIPDiscountRate))
	}
	if m.SuspensionFine < 0 || m.PointValue < 0 {
		errs = append(errs, errors.New("market.suspension_fine and market.point_value must not be negative"))
	}

	return errors.Join(errs...)
}
