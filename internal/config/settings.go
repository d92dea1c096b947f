package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xpanvictor/mimi/pkg/speech/audioring"
)

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
}

// DSN builds a MySQL data source name.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.Username, d.Password, d.Host, d.Port, d.Name)
}

// Enabled reports whether a database was configured at all.
func (d DBConfig) Enabled() bool {
	return d.Host != ""
}

type RedisConfig struct {
	Addr   string `mapstructure:"addr"`
	Pass   string `mapstructure:"pass"`
	DB     int    `mapstructure:"db"`
	Prefix string `mapstructure:"prefix"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// Origin is the public origin of the app shell, e.g. https://mimi.app.
	Origin string `mapstructure:"origin"`
	// Upstream is where shell assets are actually fetched from.
	Upstream string `mapstructure:"upstream"`
}

type CacheConfig struct {
	Generation string   `mapstructure:"generation"`
	Manifest   []string `mapstructure:"manifest"`
	ShellPath  string   `mapstructure:"shell_path"`
	// Storage is "memory" or "redis".
	Storage string `mapstructure:"storage"`
	// Strategy forces one sub-resource strategy; empty means select per client.
	Strategy           string   `mapstructure:"strategy"`
	NetworkFirstAgents []string `mapstructure:"network_first_agents"`
}

type SpeechConfig struct {
	Language       string        `mapstructure:"language"`
	SilenceTimeout time.Duration `mapstructure:"silence_timeout"`
	FrameSize      int           `mapstructure:"frame_size"`
	RingCapacity   int           `mapstructure:"ring_capacity"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type Settings struct {
	Server ServerConfig `mapstructure:"server"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Redis  RedisConfig  `mapstructure:"redis"`
	DB     DBConfig     `mapstructure:"database"`
	Speech SpeechConfig `mapstructure:"speech"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Env    string       `mapstructure:"env"`
	Debug  bool         `mapstructure:"debug"`
}

func Load() (*Settings, error) {
	v := viper.New()
	v.SetConfigName("config_" + genEnv())
	v.AddConfigPath(".")
	v.SetConfigType("yaml")
	return LoadFrom(v)
}

// LoadFrom applies defaults and env overrides to v and decodes it. A missing
// config file is not an error; every field has a default.
func LoadFrom(v *viper.Viper) (*Settings, error) {
	setDefaults(v)
	v.SetEnvPrefix("MIMI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &settings, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", genEnv())
	v.SetDefault("debug", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.origin", "http://localhost:8080")
	v.SetDefault("server.upstream", "http://localhost:5173")

	v.SetDefault("cache.generation", "mimi-v1")
	v.SetDefault("cache.manifest", []string{
		"/",
		"/index.html",
		"/manifest.json",
		"/icon-192.png",
		"/icon-512.png",
		"/notification.mp3",
	})
	v.SetDefault("cache.shell_path", "/index.html")
	v.SetDefault("cache.storage", "memory")
	v.SetDefault("cache.strategy", "")
	v.SetDefault("cache.network_first_agents", []string{"iPhone", "iPad", "iPod"})

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "mimi:offline")

	v.SetDefault("database.port", 3306)
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("speech.language", "en-US")
	v.SetDefault("speech.silence_timeout", 2*time.Second)
	v.SetDefault("speech.frame_size", 4096)
	v.SetDefault("speech.ring_capacity", 64*1024)
}

// Validate rejects settings the server cannot start with.
func (s *Settings) Validate() error {
	if s.Cache.Generation == "" {
		return errors.New("cache.generation must not be empty")
	}
	if s.Cache.ShellPath == "" {
		return errors.New("cache.shell_path must not be empty")
	}
	switch s.Cache.Storage {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.storage %q: want memory or redis", s.Cache.Storage)
	}
	if s.Speech.SilenceTimeout <= 0 {
		return errors.New("speech.silence_timeout must be positive")
	}
	if s.Speech.FrameSize <= 0 {
		return errors.New("speech.frame_size must be positive")
	}
	if need := s.Speech.FrameSize + audioring.FrameOverhead; s.Speech.RingCapacity < need {
		return fmt.Errorf("speech.ring_capacity %d cannot hold one %d byte frame (need %d)",
			s.Speech.RingCapacity, s.Speech.FrameSize, need)
	}
	return nil
}

func genEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
