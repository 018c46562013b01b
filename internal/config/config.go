package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	StaticDir      string   `mapstructure:"static_dir"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type TasksConfig struct {
	Dir string `mapstructure:"dir"`
}

type EngineConfig struct {
	Mode           string        `mapstructure:"mode"` // "local" or "docker"
	Python         string        `mapstructure:"python"`
	Image          string        `mapstructure:"image"`
	MaxMemory      string        `mapstructure:"max_memory"`
	Network        bool          `mapstructure:"network"`
	Images         []string      `mapstructure:"images"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	Prewarm        bool          `mapstructure:"prewarm"`
}

type RemoteConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Token        string        `mapstructure:"token"`
	Namespace    string        `mapstructure:"namespace"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	CodeExt      string        `mapstructure:"code_ext"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a remote store is configured.
func (r RemoteConfig) Enabled() bool {
	return r.BaseURL != ""
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Tasks   TasksConfig   `mapstructure:"tasks"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Remote  RemoteConfig  `mapstructure:"remote"`
}

// Load reads algoprep.yaml from the working directory or ~/.algoprep, or
// the file at path when it is not empty. A missing default file is not an
// error. Variables from a .env file and ALGOPREP_* variables override it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("algoprep")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.algoprep")
	}
	v.SetEnvPrefix("ALGOPREP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	home, _ := os.UserHomeDir()
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("storage.db_path", filepath.Join(home, ".algoprep", "algoprep.db"))
	v.SetDefault("tasks.dir", "tasks")
	v.SetDefault("engine.mode", "local")
	v.SetDefault("engine.python", "python3")
	v.SetDefault("engine.image", "python:3.12-slim")
	v.SetDefault("engine.max_memory", "256m")
	v.SetDefault("engine.network", false)
	v.SetDefault("engine.images", []string{"python:3.12-slim", "python:3.13-slim"})
	v.SetDefault("engine.startup_timeout", 30*time.Second)
	v.SetDefault("engine.prewarm", true)
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.namespace", "algoprep")
	v.SetDefault("remote.sync_interval", 60*time.Second)
	v.SetDefault("remote.code_ext", "py")
	v.SetDefault("remote.timeout", 15*time.Second)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Remote.Token = expandEnv(cfg.Remote.Token)
	if rest, ok := strings.CutPrefix(cfg.Storage.DBPath, "~/"); ok && home != "" {
		cfg.Storage.DBPath = filepath.Join(home, rest)
	}
	if cfg.Engine.Mode != "local" && cfg.Engine.Mode != "docker" {
		return nil, fmt.Errorf("engine.mode must be local or docker, got %q", cfg.Engine.Mode)
	}
	return &cfg, nil
}

// expandEnv resolves a value of the form ${NAME} from the environment.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}
