package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. FORUMS_DATABASE_DSN
const EnvPrefix = "FORUMS"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Groups   GroupsConfig   `mapstructure:"groups"`
	Mail     MailConfig     `mapstructure:"mail"`
	Log      LoggingConfig  `mapstructure:"log"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type AppConfig struct {
	// Debug surfaces errors that are otherwise only logged, e.g. a failed invitation email
	Debug   bool   `mapstructure:"debug"`
	BaseURL string `mapstructure:"base_url"`
	// AdminEmail and AdminPassword seed the first admin account; no account is created without a password
	AdminEmail    string `mapstructure:"admin_email"`
	AdminPassword string `mapstructure:"admin_password"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // sqlite or postgres
	DSN          string `mapstructure:"dsn"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type GroupsConfig struct {
	ItemsPerPage     int            `mapstructure:"items_per_page"`
	InviteExpiration time.Duration  `mapstructure:"invite_expiration"`
	Features         FeaturesConfig `mapstructure:"features"`
}

// FeaturesConfig toggles optional parts of the groups surface
type FeaturesConfig struct {
	Invitations bool `mapstructure:"invitations"`
	Discussions bool `mapstructure:"discussions"`
}

type MailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"` // json or console
	Output   string `mapstructure:"output"` // stdout or file
	FilePath string `mapstructure:"file_path"`
}

// Default returns the configuration used when no file or environment overrides are present
func Default() *Config {
	cfg, _ := load(newViper())
	return cfg
}

// Load reads the configuration file at path (if any) and applies environment overrides.
// A missing file is not an error; everything has a default.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Groups.ItemsPerPage <= 0 {
		return errors.New("groups.items_per_page must be positive")
	}
	if c.Groups.InviteExpiration <= 0 {
		return errors.New("groups.invite_expiration must be positive")
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("app.debug", false)
	v.SetDefault("app.base_url", "http://localhost:8080")
	v.SetDefault("app.admin_email", "admin@forums.local")
	v.SetDefault("app.admin_password", "")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "forums.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.ttl", 15*time.Minute)
	v.SetDefault("jwt.secret", "forums-dev-secret-change-in-production")
	v.SetDefault("jwt.ttl", 24*time.Hour)
	v.SetDefault("groups.items_per_page", 30)
	v.SetDefault("groups.invite_expiration", 24*time.Hour)
	v.SetDefault("groups.features.invitations", true)
	v.SetDefault("groups.features.discussions", true)
	v.SetDefault("mail.enabled", false)
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "noreply@forums.local")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}
