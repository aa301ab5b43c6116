package config

import (
	"discord-moderation/utils"
	"errors"
	"fmt"
	"log"
	"os"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultConfigPath = "data/config.yaml"

// Config is the process configuration. Secrets come from the environment, everything
// else from the config file.
type Config struct {
	BotToken      string `mapstructure:"-"`
	SystemActorID string `mapstructure:"system_actor_id"`

	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Cooldown CooldownConfig `mapstructure:"cooldown"`

	// GuildDefaults fills every setting a guild block leaves unset.
	GuildDefaults GuildConfig            `mapstructure:"guild_defaults"`
	Guilds        map[string]GuildConfig `mapstructure:"guilds"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LoggerConfig struct {
	Directory string            `mapstructure:"directory"`
	Rotation  LogRotationConfig `mapstructure:"rotation"`
}

type LogRotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

type SweepConfig struct {
	BanInterval      time.Duration `mapstructure:"ban_interval"`
	MuteInterval     time.Duration `mapstructure:"mute_interval"`
	CooldownInterval time.Duration `mapstructure:"cooldown_interval"`
	StatusInterval   time.Duration `mapstructure:"status_interval"`
	// RevokeRate caps platform calls per second made by sweeps.
	RevokeRate float64 `mapstructure:"revoke_rate"`
}

type CooldownConfig struct {
	Window              time.Duration `mapstructure:"window"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
}

// GuildConfig holds one guild's moderation settings.
type GuildConfig struct {
	GagDuration              time.Duration  `mapstructure:"gag_duration"`
	MaxModeratorMuteDuration time.Duration  `mapstructure:"max_moderator_mute_duration"`
	UnrestrictedTier         int            `mapstructure:"unrestricted_tier"`
	MuteRoleID               string         `mapstructure:"mute_role_id"`
	TierRoles                map[string]int `mapstructure:"tier_roles"`
}

// Load reads .env and the environment, then the config file named by CONFIG_PATH.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Info: .env file not found, relying on environment variables")
	}

	token := os.Getenv("BOT_TOKEN")
	if token == "" {
		return nil, errors.New("BOT_TOKEN environment variable not set")
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.BotToken = token
	return cfg, nil
}

// LoadFile reads the config file at path. A missing file leaves every setting at its default.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Printf("Using config file: %s", v.ConfigFileUsed())
	} else if os.IsNotExist(err) {
		log.Printf("Warning: Config file not found at %s, using defaults.", path)
	} else {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(durationHook())); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// durationHook decodes durations with day and week units on top of the usual ones.
func durationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return utils.ParseDuration(data.(string))
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("system_actor_id", "")

	v.SetDefault("database.path", "data/moderation.db")

	v.SetDefault("logger.directory", "logs")
	v.SetDefault("logger.rotation.max_size", 10)
	v.SetDefault("logger.rotation.max_backups", 30)
	v.SetDefault("logger.rotation.max_age", 90)
	v.SetDefault("logger.rotation.compress", true)

	v.SetDefault("metrics.listen", "")

	v.SetDefault("sweep.ban_interval", "30s")
	v.SetDefault("sweep.mute_interval", "1s")
	v.SetDefault("sweep.cooldown_interval", "30s")
	v.SetDefault("sweep.status_interval", "1h")
	v.SetDefault("sweep.revoke_rate", 5.0)

	v.SetDefault("cooldown.window", "30m")
	v.SetDefault("cooldown.confirmation_timeout", "1m")

	v.SetDefault("guild_defaults.gag_duration", "5m")
	v.SetDefault("guild_defaults.max_moderator_mute_duration", "12h")
	v.SetDefault("guild_defaults.unrestricted_tier", 2)
}

func (c *Config) validate() error {
	intervals := map[string]time.Duration{
		"sweep.ban_interval":            c.Sweep.BanInterval,
		"sweep.mute_interval":           c.Sweep.MuteInterval,
		"sweep.cooldown_interval":       c.Sweep.CooldownInterval,
		"sweep.status_interval":         c.Sweep.StatusInterval,
		"cooldown.window":               c.Cooldown.Window,
		"cooldown.confirmation_timeout": c.Cooldown.ConfirmationTimeout,
	}
	for key, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if c.Sweep.RevokeRate <= 0 {
		return fmt.Errorf("sweep.revoke_rate must be positive, got %v", c.Sweep.RevokeRate)
	}
	if c.GuildDefaults.GagDuration <= 0 {
		return fmt.Errorf("guild_defaults.gag_duration must be positive, got %s", c.GuildDefaults.GagDuration)
	}
	for id, g := range c.Guilds {
		if g.GagDuration < 0 || g.MaxModeratorMuteDuration < 0 {
			return fmt.Errorf("guild %s: durations must not be negative", id)
		}
	}
	return nil
}
