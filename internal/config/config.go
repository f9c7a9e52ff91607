package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Blob      BlobConfig      `yaml:"blob" mapstructure:"blob"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Classify  ClassifyConfig  `yaml:"classify" mapstructure:"classify"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// BlobConfig configures object storage for uploaded and generated files.
type BlobConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	Model          string  `yaml:"model" mapstructure:"model"`
	VisionModel    string  `yaml:"vision_model" mapstructure:"vision_model"`
	MaxTokens      int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerMin float64 `yaml:"requests_per_min" mapstructure:"requests_per_min"`
}

// PipelineConfig configures orchestration and retry behavior.
type PipelineConfig struct {
	ExtractAttempts     int `yaml:"extract_attempts" mapstructure:"extract_attempts"`
	ExtractBackoffSecs  int `yaml:"extract_backoff_secs" mapstructure:"extract_backoff_secs"`
	ClassifyAttempts    int `yaml:"classify_attempts" mapstructure:"classify_attempts"`
	ClassifyBackoffSecs int `yaml:"classify_backoff_secs" mapstructure:"classify_backoff_secs"`
	QueueWorkers        int `yaml:"queue_workers" mapstructure:"queue_workers"`
	QueueDepth          int `yaml:"queue_depth" mapstructure:"queue_depth"`
}

// ClassifyConfig configures the classification cascade.
type ClassifyConfig struct {
	AIBatchSize     int     `yaml:"ai_batch_size" mapstructure:"ai_batch_size"`
	ReviewThreshold float64 `yaml:"review_threshold" mapstructure:"review_threshold"`
	RulesPath       string  `yaml:"rules_path" mapstructure:"rules_path"`
	RulesTTLSecs    int     `yaml:"rules_ttl_secs" mapstructure:"rules_ttl_secs"`
}

// ExtractConfig configures document parsing.
type ExtractConfig struct {
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MaxFileMB     int    `yaml:"max_file_mb" mapstructure:"max_file_mb"`
}

// NotifyConfig configures outbound notifications.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
}

// PricingConfig holds per-model token pricing (USD per million tokens).
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing.
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("blob.driver", "minio")
	v.SetDefault("blob.bucket", "cma-files")
	v.SetDefault("blob.use_ssl", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.vision_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("anthropic.requests_per_min", 50)
	v.SetDefault("pipeline.extract_attempts", 2)
	v.SetDefault("pipeline.extract_backoff_secs", 2)
	v.SetDefault("pipeline.classify_attempts", 3)
	v.SetDefault("pipeline.classify_backoff_secs", 3)
	v.SetDefault("pipeline.queue_workers", 4)
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("classify.ai_batch_size", 20)
	v.SetDefault("classify.review_threshold", 0.70)
	v.SetDefault("classify.rules_ttl_secs", 300)
	v.SetDefault("extract.pdftotext_path", "pdftotext")
	v.SetDefault("extract.max_file_mb", 25)
	v.SetDefault("notify.enabled", false)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is sufficient for the given mode
// (serve, process, migrate). All problems are reported at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	checkCommon := func() {
		if c.Store.DatabaseURL == "" && c.Store.Driver != "memory" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Classify.ReviewThreshold < 0 || c.Classify.ReviewThreshold > 1 {
			problems = append(problems, "classify.review_threshold must be between 0 and 1")
		}
		if c.Classify.AIBatchSize < 1 || c.Classify.AIBatchSize > 100 {
			problems = append(problems, "classify.ai_batch_size must be between 1 and 100")
		}
	}

	switch mode {
	case "serve":
		checkCommon()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Pipeline.QueueWorkers < 1 || c.Pipeline.QueueWorkers > 32 {
			problems = append(problems, "pipeline.queue_workers must be between 1 and 32")
		}
	case "process":
		checkCommon()
	case "migrate":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
