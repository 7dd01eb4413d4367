// Package config loads application configuration from .env files,
// environment variables and defaults, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      Server      `mapstructure:"server"`
	Retrieval   Retrieval   `mapstructure:"retrieval"`
	Gemini      Gemini      `mapstructure:"gemini"`
	Providers   Providers   `mapstructure:"providers"`
	Persistence Persistence `mapstructure:"persistence"`
	Logging     Logging     `mapstructure:"logging"`
	Metrics     Metrics     `mapstructure:"metrics"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host                string   `mapstructure:"host"`
	Port                int      `mapstructure:"port"`
	HeartbeatIntervalMs int      `mapstructure:"heartbeat_interval_ms"`
	CORSEnabled         bool     `mapstructure:"cors_enabled"`
	CORSAllowedOrigins  []string `mapstructure:"cors_allowed_origins"`
}

// Retrieval holds the knobs that bound the candidate retrieval and
// extraction stages.
type Retrieval struct {
	GlobalConcurrency  int      `mapstructure:"global_concurrency"`
	PerHostConcurrency int      `mapstructure:"per_host_concurrency"`
	MinAccepted        int      `mapstructure:"min_accepted"`
	MaxAttempts        int      `mapstructure:"max_attempts"`
	MaxCandidates      int      `mapstructure:"max_candidates"`
	TotalBudgetMs      int      `mapstructure:"total_budget_ms"`
	RecencyHours       int      `mapstructure:"recency_hours"`
	MinWordCount       int      `mapstructure:"min_word_count"`
	BannedHostPatterns []string `mapstructure:"banned_host_patterns"`
	ClusterThreshold   float64  `mapstructure:"cluster_threshold"`
	AttachThreshold    float64  `mapstructure:"attach_threshold"`
}

// Gemini holds LLM configuration. RequestsPerMinute is clamped to [1, 10]
// regardless of where the value came from.
type Gemini struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	FlashModel        string `mapstructure:"flash_model"`
	FlashLiteModel    string `mapstructure:"flash_lite_model"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// Providers holds connector configuration for the candidate search providers.
type Providers struct {
	GoogleCSE     GoogleCSE     `mapstructure:"google_cse"`
	NewsAPI       NewsAPI       `mapstructure:"newsapi"`
	EventRegistry EventRegistry `mapstructure:"event_registry"`
	GoogleNews    GoogleNews    `mapstructure:"google_news"`
}

// GoogleCSE holds Google Custom Search configuration.
type GoogleCSE struct {
	APIKey string `mapstructure:"api_key"`
	CX     string `mapstructure:"cx"`
}

// NewsAPI holds news REST API configuration.
type NewsAPI struct {
	APIKey string `mapstructure:"api_key"`
}

// EventRegistry holds event-registry API configuration.
type EventRegistry struct {
	APIKey string `mapstructure:"api_key"`
}

// GoogleNews holds Google News RSS configuration. The RSS connector needs no
// key and is enabled unless switched off.
type GoogleNews struct {
	Disabled bool `mapstructure:"disabled"`
}

// Persistence selects the artifact backend: "fs" writes JSON files under
// OutputsDir, "none" is a silent no-op used on serverless hosts.
type Persistence struct {
	Mode          string `mapstructure:"mode"`
	OutputsDir    string `mapstructure:"outputs_dir"`
	NormalizedDir string `mapstructure:"normalized_dir"`
}

// Logging holds logging configuration.
type Logging struct {
	Level string `mapstructure:"level"`
}

// Metrics holds metrics configuration.
type Metrics struct {
	Enabled bool `mapstructure:"enabled"`
}

// ServerlessHost reports whether the process runs in the serverless-host
// deployment mode: no persistence, hard subrequest budget, topic analysis
// skipped and targeted research replaced by cluster projection.
func (c *Config) ServerlessHost() bool {
	return c.Persistence.Mode == "none"
}

// ClampRPM bounds a requests-per-minute value to [1, 10].
func ClampRPM(rpm int) int {
	if rpm < 1 {
		return 1
	}
	if rpm > 10 {
		return 10
	}
	return rpm
}

// Load reads configuration from .env, the environment, and defaults.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	bindEnvironmentVariables(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := postProcess(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.heartbeat_interval_ms", 15000)
	v.SetDefault("server.cors_enabled", true)
	v.SetDefault("server.cors_allowed_origins", []string{"*"})

	v.SetDefault("retrieval.global_concurrency", 6)
	v.SetDefault("retrieval.per_host_concurrency", 2)
	v.SetDefault("retrieval.min_accepted", 10)
	v.SetDefault("retrieval.max_attempts", 40)
	v.SetDefault("retrieval.max_candidates", 80)
	v.SetDefault("retrieval.total_budget_ms", 180000)
	v.SetDefault("retrieval.recency_hours", 168)
	v.SetDefault("retrieval.min_word_count", 150)
	v.SetDefault("retrieval.banned_host_patterns", []string{})
	v.SetDefault("retrieval.cluster_threshold", 0.42)
	v.SetDefault("retrieval.attach_threshold", 0.30)

	v.SetDefault("gemini.model", "gemini-2.5-pro")
	v.SetDefault("gemini.flash_model", "gemini-2.5-flash")
	v.SetDefault("gemini.flash_lite_model", "gemini-2.5-flash-lite")
	v.SetDefault("gemini.requests_per_minute", 8)

	v.SetDefault("persistence.mode", "fs")
	v.SetDefault("persistence.outputs_dir", "data/outputs")
	v.SetDefault("persistence.normalized_dir", "data/normalized")

	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.enabled", false)
}

func bindEnvironmentVariables(v *viper.Viper) {
	bindings := map[string]string{
		"server.port":                      "PORT",
		"server.heartbeat_interval_ms":     "HEARTBEAT_INTERVAL_MS",
		"retrieval.recency_hours":          "RECENCY_HOURS",
		"retrieval.global_concurrency":     "RETRIEVAL_GLOBAL_CONCURRENCY",
		"retrieval.per_host_concurrency":   "RETRIEVAL_PER_HOST_CONCURRENCY",
		"retrieval.min_accepted":           "RETRIEVAL_MIN_ACCEPTED",
		"retrieval.max_attempts":           "RETRIEVAL_MAX_ATTEMPTS",
		"retrieval.max_candidates":         "RETRIEVAL_MAX_CANDIDATES",
		"retrieval.total_budget_ms":        "RETRIEVAL_TOTAL_BUDGET_MS",
		"gemini.api_key":                   "GEMINI_API_KEY",
		"gemini.model":                     "GEMINI_MODEL",
		"gemini.flash_model":               "GEMINI_FLASH_MODEL",
		"gemini.flash_lite_model":          "GEMINI_FLASH_LITE_MODEL",
		"gemini.requests_per_minute":       "GEMINI_RPM",
		"providers.google_cse.api_key":     "GOOGLE_CSE_API_KEY",
		"providers.google_cse.cx":          "GOOGLE_CSE_CX",
		"providers.newsapi.api_key":        "NEWS_API_KEY",
		"providers.event_registry.api_key": "EVENT_REGISTRY_API_KEY",
		"persistence.mode":                 "PERSISTENCE_MODE",
		"persistence.outputs_dir":          "RAW_DATA_ROOT",
		"logging.level":                    "LOG_LEVEL",
		"metrics.enabled":                  "METRICS_ENABLED",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
}

func postProcess(cfg *Config) error {
	cfg.Gemini.RequestsPerMinute = ClampRPM(cfg.Gemini.RequestsPerMinute)
	if cfg.Retrieval.GlobalConcurrency < 1 {
		cfg.Retrieval.GlobalConcurrency = 1
	}
	if cfg.Retrieval.PerHostConcurrency < 1 {
		cfg.Retrieval.PerHostConcurrency = 1
	}
	if cfg.Retrieval.RecencyHours < 6 {
		cfg.Retrieval.RecencyHours = 6
	}
	if cfg.Retrieval.RecencyHours > 720 {
		cfg.Retrieval.RecencyHours = 720
	}
	switch cfg.Persistence.Mode {
	case "fs", "none":
	default:
		return fmt.Errorf("unsupported persistence mode %q (want fs or none)", cfg.Persistence.Mode)
	}
	return nil
}

// Public returns the configuration view exposed over GET /api/config.
// It never includes secrets; keys are reported as present/absent only.
func (c *Config) Public() map[string]any {
	return map[string]any{
		"recencyHours": c.Retrieval.RecencyHours,
		"retrieval": map[string]any{
			"globalConcurrency":  c.Retrieval.GlobalConcurrency,
			"perHostConcurrency": c.Retrieval.PerHostConcurrency,
			"minAccepted":        c.Retrieval.MinAccepted,
			"maxAttempts":        c.Retrieval.MaxAttempts,
			"maxCandidates":      c.Retrieval.MaxCandidates,
			"totalBudgetMs":      c.Retrieval.TotalBudgetMs,
		},
		"providers": map[string]any{
			"googleCse":     c.Providers.GoogleCSE.APIKey != "" && c.Providers.GoogleCSE.CX != "",
			"newsapi":       c.Providers.NewsAPI.APIKey != "",
			"eventRegistry": c.Providers.EventRegistry.APIKey != "",
			"googleNews":    !c.Providers.GoogleNews.Disabled,
		},
		"gemini": map[string]any{
			"model":             c.Gemini.Model,
			"requestsPerMinute": c.Gemini.RequestsPerMinute,
			"keyConfigured":     c.Gemini.APIKey != "",
		},
		"persistence": map[string]any{
			"mode": c.Persistence.Mode,
		},
		"serverlessHost": c.ServerlessHost(),
	}
}
