// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// SubmitPerMinute caps submissions per client; 0 disables the limit.
	SubmitPerMinute int `yaml:"submit_per_minute"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	JobTTL   time.Duration `yaml:"job_ttl"`        // 0 keeps job records forever
	StepTTL  time.Duration `yaml:"checkpoint_ttl"` // lifetime of step checkpoints
}

type GitHubConfig struct {
	Token      string  `yaml:"token"`
	Owner      string  `yaml:"owner"`
	Repo       string  `yaml:"repo"`
	Branch     string  `yaml:"branch"`
	PathPrefix string  `yaml:"path_prefix"`
	BaseURL    string  `yaml:"base_url"` // GitHub Enterprise API root, optional
	RateLimit  float64 `yaml:"rate_limit"`
}

type AIConfig struct {
	OpenAIKey       string            `yaml:"openai_key"`
	OpenAIBaseURL   string            `yaml:"openai_base_url"`
	GeminiKey       string            `yaml:"gemini_key"`
	GeminiURL       string            `yaml:"gemini_url"`
	DefaultProvider string            `yaml:"default_provider"`
	ModelProviders  map[string]string `yaml:"model_providers"`
	MaxOutputTokens int               `yaml:"max_output_tokens"`
	ConcurrentLimit int               `yaml:"concurrent_limit"` // max concurrent AI calls
}

type WorkerConfig struct {
	Workers          int           `yaml:"workers"`
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	LeaseTTL         time.Duration `yaml:"lease_ttl"`
}

type WebhookConfig struct {
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	// GuardDial rejects connections to private ranges at connect time.
	GuardDial bool `yaml:"guard_dial"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
	JWTSecret     string `yaml:"jwt_secret"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Redis    RedisConfig    `yaml:"redis"`
	GitHub   GitHubConfig   `yaml:"github"`
	AI       AIConfig       `yaml:"ai"`
	Worker   WorkerConfig   `yaml:"worker"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Security SecurityConfig `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies .env and environment
// overrides for secrets, fills defaults and validates the result.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !(errors.Is(err, os.ErrNotExist) && dev) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Redis.URL, "REDIS_URL")
	set(&cfg.Redis.Password, "REDIS_PASSWORD")
	set(&cfg.GitHub.Token, "GITHUB_TOKEN")
	set(&cfg.GitHub.Owner, "GITHUB_OWNER")
	set(&cfg.GitHub.Repo, "GITHUB_REPO")
	set(&cfg.AI.OpenAIKey, "OPENAI_API_KEY")
	set(&cfg.AI.GeminiKey, "GEMINI_API_KEY")
	set(&cfg.Security.EncryptionKey, "ENCRYPTION_KEY")
	set(&cfg.Security.JWTSecret, "API_JWT_SECRET")
}

func applyDefaults(cfg *Config) {
	// defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 15 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Redis.StepTTL <= 0 {
		cfg.Redis.StepTTL = 7 * 24 * time.Hour
	}
	if cfg.GitHub.Branch == "" {
		cfg.GitHub.Branch = "main"
	}
	if cfg.GitHub.PathPrefix == "" {
		cfg.GitHub.PathPrefix = "ideas"
	}
	cfg.GitHub.PathPrefix = strings.Trim(cfg.GitHub.PathPrefix, "/")
	if cfg.GitHub.RateLimit <= 0 {
		cfg.GitHub.RateLimit = 5
	}
	if cfg.AI.DefaultProvider == "" {
		cfg.AI.DefaultProvider = "openai"
	}
	if cfg.AI.MaxOutputTokens <= 0 {
		cfg.AI.MaxOutputTokens = 8192
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 4
	}
	if cfg.Worker.Workers <= 0 {
		cfg.Worker.Workers = 4
	}
	if cfg.Worker.RecoveryInterval <= 0 {
		cfg.Worker.RecoveryInterval = time.Minute
	}
	if cfg.Worker.StaleAfter <= 0 {
		cfg.Worker.StaleAfter = 2 * time.Minute
	}
	if cfg.Worker.LeaseTTL <= 0 {
		cfg.Worker.LeaseTTL = 2 * time.Minute
	}
	if cfg.Webhook.AttemptTimeout <= 0 {
		cfg.Webhook.AttemptTimeout = 10 * time.Second
	}
}

// Validate performs minimal checks; dev mode runs with a noop generator.
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
		return errors.New("github.owner and github.repo are required")
	}
	if c.GitHub.Token == "" {
		return errors.New("github.token is required")
	}
	if !c.Runtime.Dev && c.AI.OpenAIKey == "" && c.AI.GeminiKey == "" {
		return errors.New("no AI provider configured: set ai.openai_key or ai.gemini_key")
	}
	if k := len(c.Security.EncryptionKey); k != 0 && k != 16 && k != 24 && k != 32 {
		return fmt.Errorf("security.encryption_key must be 16, 24 or 32 bytes; got %d", k)
	}
	return nil
}
