package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	Redis         RedisConfig        `mapstructure:"redis"`
	MySQL         MySQLConfig        `mapstructure:"mysql"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Leader        LeaderConfig       `mapstructure:"leader"`
	Instance      InstanceConfig     `mapstructure:"instance"`
	Lock          LockConfig         `mapstructure:"lock"`
	Bid           BidConfig          `mapstructure:"bid"`
	Scheduler     SchedulerConfig    `mapstructure:"scheduler"`
	Notifier      NotifierConfig     `mapstructure:"notifier"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Log           LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	TxMaxRetries    int           `mapstructure:"tx_max_retries"`
}

type StorageConfig struct {
	Driver  string `mapstructure:"driver"` // mysql | memory
	Migrate bool   `mapstructure:"migrate"`
}

type LeaderConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
	Key string        `mapstructure:"key"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

type LockConfig struct {
	Prefix        string        `mapstructure:"prefix"`
	WaitTimeout   time.Duration `mapstructure:"wait_timeout"`
	LeaseTimeout  time.Duration `mapstructure:"lease_timeout"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

type BidConfig struct {
	MinIncrement int64  `mapstructure:"min_increment"`
	RulesKey     string `mapstructure:"rules_key"`
}

type SchedulerConfig struct {
	SettleSpec       string        `mapstructure:"settle_spec"`
	OpenSpec         string        `mapstructure:"open_spec"`
	EndingSoonSpec   string        `mapstructure:"ending_soon_spec"`
	RelaySpec        string        `mapstructure:"relay_spec"`
	EndingSoonWindow time.Duration `mapstructure:"ending_soon_window"`
	SweepBatch       int           `mapstructure:"sweep_batch"`
}

type NotifierConfig struct {
	Channel        string        `mapstructure:"channel"`
	NoticeChannel  string        `mapstructure:"notice_channel"`
	BatchSize      int           `mapstructure:"batch_size"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	SinkMaxElapsed time.Duration `mapstructure:"sink_max_elapsed"`
}

type NotificationConfig struct {
	DispatchSpec string `mapstructure:"dispatch_spec"`
	Channel      string `mapstructure:"channel"`
	MaxRetries   int    `mapstructure:"max_retries"`
	BatchSize    int    `mapstructure:"batch_size"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mysql.dsn", "auction_user:auction_pass@tcp(localhost:3306)/auction_db?parseTime=true&multiStatements=true&clientFoundRows=true")
	v.SetDefault("mysql.max_open_conns", 25)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("mysql.tx_max_retries", 3)
	v.SetDefault("storage.driver", "mysql")
	v.SetDefault("storage.migrate", true)
	v.SetDefault("leader.ttl", 30*time.Second)
	v.SetDefault("leader.key", "auction_scheduler_leader")
	v.SetDefault("instance.id", "auction-service-1")
	v.SetDefault("lock.prefix", "lock:")
	v.SetDefault("lock.wait_timeout", 3*time.Second)
	v.SetDefault("lock.lease_timeout", 10*time.Second)
	v.SetDefault("lock.retry_interval", 25*time.Millisecond)
	v.SetDefault("bid.min_increment", 1)
	v.SetDefault("bid.rules_key", "bid_increment_rules")
	v.SetDefault("scheduler.settle_spec", "@every 1m")
	v.SetDefault("scheduler.open_spec", "@every 1m")
	v.SetDefault("scheduler.ending_soon_spec", "@every 1m")
	v.SetDefault("scheduler.relay_spec", "@every 15s")
	v.SetDefault("scheduler.ending_soon_window", 10*time.Minute)
	v.SetDefault("scheduler.sweep_batch", 500)
	v.SetDefault("notifier.channel", "auction_changes")
	v.SetDefault("notifier.notice_channel", "auction_notices")
	v.SetDefault("notifier.batch_size", 100)
	v.SetDefault("notifier.poll_interval", 2*time.Second)
	v.SetDefault("notifier.sink_max_elapsed", 30*time.Second)
	v.SetDefault("notifications.dispatch_spec", "@every 30s")
	v.SetDefault("notifications.channel", "user_notifications")
	v.SetDefault("notifications.max_retries", 3)
	v.SetDefault("notifications.batch_size", 100)
	v.SetDefault("log.level", "info")
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.host", "SERVER_HOST")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("mysql.dsn", "MYSQL_DSN")
	v.BindEnv("mysql.max_open_conns", "MYSQL_MAX_OPEN_CONNS")
	v.BindEnv("mysql.max_idle_conns", "MYSQL_MAX_IDLE_CONNS")
	v.BindEnv("mysql.conn_max_lifetime", "MYSQL_CONN_MAX_LIFETIME")
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.migrate", "STORAGE_MIGRATE")
	v.BindEnv("leader.ttl", "LEADER_TTL")
	v.BindEnv("instance.id", "INSTANCE_ID")
	v.BindEnv("lock.wait_timeout", "LOCK_WAIT_TIMEOUT")
	v.BindEnv("lock.lease_timeout", "LOCK_LEASE_TIMEOUT")
	v.BindEnv("log.level", "LOG_LEVEL")
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Configuration file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/auction-marketplace/")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", configPath)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if c.Lock.WaitTimeout < 0 {
		return errors.Newf("lock.wait_timeout must not be negative, got %s", c.Lock.WaitTimeout)
	}
	if c.Lock.LeaseTimeout < time.Second {
		return errors.Newf("lock.lease_timeout must be at least 1s, got %s", c.Lock.LeaseTimeout)
	}
	if c.Lock.RetryInterval <= 0 {
		return errors.Newf("lock.retry_interval must be positive, got %s", c.Lock.RetryInterval)
	}
	switch c.Storage.Driver {
	case "mysql", "memory":
	default:
		return errors.Newf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Bid.MinIncrement <= 0 {
		return errors.Newf("bid.min_increment must be positive, got %d", c.Bid.MinIncrement)
	}
	return nil
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s:%d, Redis: %s, Storage: %s, Instance: %s, Lock: wait=%s lease=%s",
		c.Server.Host,
		c.Server.Port,
		c.Redis.Address,
		c.Storage.Driver,
		c.Instance.ID,
		c.Lock.WaitTimeout,
		c.Lock.LeaseTimeout,
	)
}
