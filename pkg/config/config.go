package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Redis     RedisConfig           `mapstructure:"redis" validate:"required"`
	Daemon    DaemonConfig          `mapstructure:"daemon" validate:"required"`
	Run       RunConfig             `mapstructure:"run" validate:"required"`
	Hosts     map[string]HostConfig `mapstructure:"hosts" validate:"required,min=1,dive"`
	Plex      PlexConfig            `mapstructure:"plex"`
	Indexer   IndexerConfig         `mapstructure:"indexer"`
	Watchlist WatchlistConfig       `mapstructure:"watchlist"`
	Notify    NotifyConfig          `mapstructure:"notify"`
	Trigger   TriggerConfig         `mapstructure:"trigger"`
	Store     StoreConfig           `mapstructure:"store" validate:"required"`
	Cache     CacheConfig           `mapstructure:"cache"`
	Publish   PublishConfig         `mapstructure:"publish" validate:"required"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0,max=15"`
}

type DaemonConfig struct {
	LogLevel    string `mapstructure:"log_level" validate:"required,oneof=debug info warn error fatal"`
	Concurrency int    `mapstructure:"concurrency" validate:"min=1,max=32"`
}

// RunConfig holds the knobs for one transfer run: retry budget, backoff
// shape, concurrency ceilings and session lifetimes.
type RunConfig struct {
	MaxAttempts              int `mapstructure:"max_attempts" validate:"min=1,max=10"`
	RetryDelaySeconds        int `mapstructure:"retry_delay_seconds" validate:"min=1,max=300"`
	MaxRetryDelaySeconds     int `mapstructure:"max_retry_delay_seconds" validate:"min=1,max=3600"`
	PerHostConcurrency       int `mapstructure:"per_host_concurrency" validate:"min=1,max=16"`
	SchedulerConcurrency     int `mapstructure:"scheduler_concurrency" validate:"min=1,max=64"`
	SessionIdleTTLSeconds    int `mapstructure:"session_idle_ttl_seconds" validate:"min=1,max=86400"`
	TransferTimeoutSeconds   int `mapstructure:"transfer_timeout_seconds" validate:"min=1,max=100000"`
	ConnectionTimeoutSeconds int `mapstructure:"connection_timeout_seconds" validate:"min=1,max=300"`
}

type HostConfig struct {
	Address    string `mapstructure:"address" validate:"required"`
	Port       int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Username   string `mapstructure:"username" validate:"required"`
	Password   string `mapstructure:"password"`
	PrivateKey string `mapstructure:"private_key"`
}

type PlexConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
	Token   string `mapstructure:"token"`
}

type IndexerConfig struct {
	BaseURL  string            `mapstructure:"base_url" validate:"omitempty,url"`
	Cookies  map[string]string `mapstructure:"cookies"`
	SpoolDir string            `mapstructure:"spool_dir"`
}

type WatchlistConfig struct {
	Host       string `mapstructure:"host"`
	WatchDir   string `mapstructure:"watch_dir"`
	SeriesDir  string `mapstructure:"series_dir"`
	FilmsDir   string `mapstructure:"films_dir"`
	MaxSeasons int    `mapstructure:"max_seasons" validate:"min=1,max=50"`
}

type NotifyConfig struct {
	WebhookURL     string `mapstructure:"webhook_url" validate:"omitempty,url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" validate:"min=1,max=300"`
}

// TriggerConfig schedules a debounced command on a remote host after
// successful transfers, for example a library rescan.
type TriggerConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Host            string `mapstructure:"host"`
	Command         string `mapstructure:"command"`
	DebounceMinutes int    `mapstructure:"debounce_minutes" validate:"min=1"`
	TimeoutMinutes  int    `mapstructure:"timeout_minutes" validate:"min=1"`
}

type StoreConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type CacheConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	TTLSeconds          int  `mapstructure:"ttl_seconds" validate:"min=0,max=604800"`
	MaxConcurrentChecks int  `mapstructure:"max_concurrent_checks" validate:"min=1,max=100"`
}

type PublishConfig struct {
	MaxRetry       int `mapstructure:"max_retry" validate:"required,min=0,max=10"`
	TimeoutMinutes int `mapstructure:"timeout_minutes" validate:"required,min=1,max=1440"`
}

func LoadFromFile(filename string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(filename)
	v.SetConfigType("toml")

	v.SetEnvPrefix("PLEXMOVER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("daemon.log_level", "info")
	v.SetDefault("daemon.concurrency", 4)

	v.SetDefault("run.max_attempts", 3)
	v.SetDefault("run.retry_delay_seconds", 2)
	v.SetDefault("run.max_retry_delay_seconds", 60)
	v.SetDefault("run.per_host_concurrency", 2)
	v.SetDefault("run.scheduler_concurrency", 8)
	v.SetDefault("run.session_idle_ttl_seconds", 5*60)
	v.SetDefault("run.transfer_timeout_seconds", 4*60*60) // 4 hours
	v.SetDefault("run.connection_timeout_seconds", 30)

	v.SetDefault("plex.base_url", "https://discover.provider.plex.tv")

	v.SetDefault("indexer.spool_dir", "/var/spool/plexmover")

	v.SetDefault("watchlist.watch_dir", "watch/qbittorrent")
	v.SetDefault("watchlist.series_dir", "series")
	v.SetDefault("watchlist.films_dir", "films")
	v.SetDefault("watchlist.max_seasons", 9)

	v.SetDefault("notify.timeout_seconds", 10)

	v.SetDefault("trigger.enabled", false)
	v.SetDefault("trigger.debounce_minutes", 5)
	v.SetDefault("trigger.timeout_minutes", 1)

	v.SetDefault("store.path", "/var/lib/plexmover/runs.db")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl_seconds", 24*60*60)
	v.SetDefault("cache.max_concurrent_checks", 10)

	v.SetDefault("publish.max_retry", 3)
	v.SetDefault("publish.timeout_minutes", 60*6) // 6 hours
}

func validateConfig(config *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(config); err != nil {
		return err
	}

	for id, host := range config.Hosts {
		if host.Password == "" && host.PrivateKey == "" {
			return fmt.Errorf("host %q: either password or private_key must be provided", id)
		}
	}

	if config.Watchlist.Host != "" {
		if _, ok := config.Hosts[config.Watchlist.Host]; !ok {
			return fmt.Errorf("watchlist.host %q is not defined under [hosts]", config.Watchlist.Host)
		}
	}

	if config.Trigger.Enabled {
		if config.Trigger.Command == "" {
			return fmt.Errorf("trigger.command is required when trigger is enabled")
		}
		if _, ok := config.Hosts[config.Trigger.Host]; !ok {
			return fmt.Errorf("trigger.host %q is not defined under [hosts]", config.Trigger.Host)
		}
	}

	if config.Plex.Token != "" && config.Indexer.BaseURL == "" {
		return fmt.Errorf("indexer.base_url is required when plex.token is set")
	}

	return nil
}
