package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment overrides. A double underscore separates
// levels: MARKET_AUCTION__SNIPE_WINDOW sets auction.snipe_window.
const EnvPrefix = "MARKET_"

type Config struct {
	LogLevel string `koanf:"log_level"`

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	RabbitMQ RabbitMQConfig `koanf:"rabbitmq"`
	Outbox   OutboxConfig   `koanf:"outbox"`
	Auction  AuctionConfig  `koanf:"auction"`
	Borrow   BorrowConfig   `koanf:"borrow"`
	Sweeper  SweeperConfig  `koanf:"sweeper"`
	Auth     AuthConfig     `koanf:"auth"`
}

type ServerConfig struct {
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL           string        `koanf:"url"`
	LockTimeout   time.Duration `koanf:"lock_timeout"`
	MigrationsDir string        `koanf:"migrations_dir"`
}

// RedisConfig is optional; an empty Addr disables the snapshot cache
type RedisConfig struct {
	Addr        string        `koanf:"addr"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	SnapshotTTL time.Duration `koanf:"snapshot_ttl"`
}

type RabbitMQConfig struct {
	URL      string `koanf:"url"`
	Exchange string `koanf:"exchange"`
}

type OutboxConfig struct {
	BatchSize int           `koanf:"batch_size"`
	Interval  time.Duration `koanf:"interval"`
}

type AuctionConfig struct {
	SnipeWindow      time.Duration `koanf:"snipe_window"`
	RejectSellerBids bool          `koanf:"reject_seller_bids"`
	TickInterval     time.Duration `koanf:"tick_interval"`
	TrackLimit       int           `koanf:"track_limit"`
}

type BorrowConfig struct {
	Days int `koanf:"days"`
}

type SweeperConfig struct {
	Interval  time.Duration `koanf:"interval"`
	BatchSize int           `koanf:"batch_size"`
}

// AuthConfig points at the PEM public key that verifies bearer tokens
type AuthConfig struct {
	PublicKeyPath string `koanf:"public_key_path"`
	Issuer        string `koanf:"issuer"`
}

// Defaults returns the configuration used when nothing overrides it
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Database: DatabaseConfig{
			LockTimeout:   3 * time.Second,
			MigrationsDir: "migrations",
		},
		Redis: RedisConfig{
			SnapshotTTL: 30 * time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange: "marketplace.events",
		},
		Outbox: OutboxConfig{
			BatchSize: 10,
			Interval:  time.Second,
		},
		Auction: AuctionConfig{
			SnipeWindow:      5 * time.Minute,
			RejectSellerBids: true,
			TickInterval:     time.Second,
			TrackLimit:       1000,
		},
		Borrow: BorrowConfig{
			Days: 7,
		},
		Sweeper: SweeperConfig{
			Interval:  5 * time.Second,
			BatchSize: 100,
		},
		Auth: AuthConfig{
			Issuer: "marketalloc",
		},
	}
}

// Load layers defaults, the optional YAML file at path and MARKET_ env vars
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := Defaults()
	if err := k.Load(structs.Provider(&defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks the settings every process needs
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Database.LockTimeout < 0 {
		errs = append(errs, errors.New("database.lock_timeout must not be negative"))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("outbox.batch_size must be positive"))
	}
	if c.Auction.SnipeWindow < 0 {
		errs = append(errs, errors.New("auction.snipe_window must not be negative"))
	}
	if c.Auction.TickInterval <= 0 {
		errs = append(errs, errors.New("auction.tick_interval must be positive"))
	}
	if c.Borrow.Days <= 0 {
		errs = append(errs, errors.New("borrow.days must be positive"))
	}
	if c.Sweeper.Interval <= 0 || c.Sweeper.BatchSize <= 0 {
		errs = append(errs, errors.New("sweeper.interval and sweeper.batch_size must be positive"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
