package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix makes every variable read as MERIDIAN_<NAME>.
const envPrefix = "meridian"

// Config holds all daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	API       APIConfig       `yaml:"api" toml:"api"`
	Identity  IdentityConfig  `yaml:"identity" toml:"identity"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Mirror    MirrorConfig    `yaml:"mirror" toml:"mirror"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// ServerConfig holds the local HTTP surface settings. The daemon binds
// loopback only; IDE clients are on the same machine.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"7171" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" default:"127.0.0.1" yaml:"host" toml:"host"`
}

// APIConfig holds remote platform API settings.
type APIConfig struct {
	BaseURL        string `envconfig:"API_BASE_URL" default:"https://api.meridian.dev/v1" yaml:"base_url" toml:"base_url"`
	Environment    string `envconfig:"ENVIRONMENT" default:"public" yaml:"environment" toml:"environment"`
	TimeoutSeconds int    `envconfig:"API_TIMEOUT_SECONDS" default:"30" yaml:"timeout_seconds" toml:"timeout_seconds"`
	RetryCount     int    `envconfig:"API_RETRY_COUNT" default:"3" yaml:"retry_count" toml:"retry_count"`
}

// IdentityConfig holds sign-in settings for the device authorization flow.
type IdentityConfig struct {
	ClientID      string   `envconfig:"CLIENT_ID" default:"meridian-ide-sync" yaml:"client_id" toml:"client_id"`
	DeviceAuthURL string   `envconfig:"DEVICE_AUTH_URL" default:"https://login.meridian.dev/oauth2/device" yaml:"device_auth_url" toml:"device_auth_url"`
	TokenURL      string   `envconfig:"TOKEN_URL" default:"https://login.meridian.dev/oauth2/token" yaml:"token_url" toml:"token_url"`
	TenantsURL    string   `envconfig:"TENANTS_URL" default:"https://login.meridian.dev/v1/tenants" yaml:"tenants_url" toml:"tenants_url"`
	Scopes        []string `envconfig:"SCOPES" default:"workspace.readwrite,artifact.readwrite,offline_access" yaml:"scopes" toml:"scopes"`
	TokenCache    string   `envconfig:"TOKEN_CACHE" default:"~/.meridian-sync/tokens.bin" yaml:"token_cache" toml:"token_cache"`
}

// StorageConfig holds persistent state settings.
type StorageConfig struct {
	StateFile   string `envconfig:"STATE_FILE" default:"~/.meridian-sync/state.json" yaml:"state_file" toml:"state_file"`
	BaseFolder  string `envconfig:"BASE_FOLDER" default:"~/Meridian" yaml:"base_folder" toml:"base_folder"`
	BackupCount int    `envconfig:"STATE_BACKUPS" default:"5" yaml:"backup_count" toml:"backup_count"`
}

// MirrorConfig holds local folder mirroring settings.
type MirrorConfig struct {
	Exclude       []string `envconfig:"MIRROR_EXCLUDE" default:".meridian/**,**/.git/**,**/.DS_Store" yaml:"exclude" toml:"exclude"`
	SnapshotCount int      `envconfig:"SNAPSHOT_COUNT" default:"5" yaml:"snapshot_count" toml:"snapshot_count"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development" toml:"development"`
}

// RateLimitConfig throttles calls to the remote API.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"10" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"20" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled" toml:"enabled"`
}

// Load reads configuration from MERIDIAN_* environment variables, falling
// back to defaults, and expands ~ in path fields.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.expandPaths()
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: "7171",
			Host: "127.0.0.1",
		},
		API: APIConfig{
			BaseURL:        "https://api.meridian.dev/v1",
			Environment:    "public",
			TimeoutSeconds: 30,
			RetryCount:     3,
		},
		Identity: IdentityConfig{
			ClientID:      "meridian-ide-sync",
			DeviceAuthURL: "https://login.meridian.dev/oauth2/device",
			TokenURL:      "https://login.meridian.dev/oauth2/token",
			TenantsURL:    "https://login.meridian.dev/v1/tenants",
			Scopes:        []string{"workspace.readwrite", "artifact.readwrite", "offline_access"},
			TokenCache:    "~/.meridian-sync/tokens.bin",
		},
		Storage: StorageConfig{
			StateFile:   "~/.meridian-sync/state.json",
			BaseFolder:  "~/Meridian",
			BackupCount: 5,
		},
		Mirror: MirrorConfig{
			Exclude:       []string{".meridian/**", "**/.git/**", "**/.DS_Store"},
			SnapshotCount: 5,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
			Enabled:           true,
		},
	}
	cfg.expandPaths()
	return cfg
}

func (c *Config) expandPaths() {
	c.Identity.TokenCache = expandHome(c.Identity.TokenCache)
	c.Storage.StateFile = expandHome(c.Storage.StateFile)
	c.Storage.BaseFolder = expandHome(c.Storage.BaseFolder)
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return home + p[1:]
}
