// Package config loads application configuration from config.yaml and the
// CAMPAIGN_* environment.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/campaign-cli/internal/blob"
	"github.com/sells-group/campaign-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Blob     BlobConfig     `yaml:"blob" mapstructure:"blob"`
	Customer CustomerConfig `yaml:"customer" mapstructure:"customer"`
	Dialer   DialerConfig   `yaml:"dialer" mapstructure:"dialer"`
	Validate ValidateConfig `yaml:"validate" mapstructure:"validate"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver       string            `yaml:"driver" mapstructure:"driver"`
	DatabaseURL  string            `yaml:"database_url" mapstructure:"database_url"`
	MaxBatchSize int               `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	Pool         *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// BlobConfig configures spreadsheet archiving.
type BlobConfig struct {
	Driver string           `yaml:"driver" mapstructure:"driver"`
	Dir    string           `yaml:"dir" mapstructure:"dir"`
	Minio  blob.MinioConfig `yaml:"minio" mapstructure:"minio"`
}

// CustomerConfig holds customer API and Azure AD credentials.
type CustomerConfig struct {
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	TenantID     string `yaml:"tenant_id" mapstructure:"tenant_id"`
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	Resource     string `yaml:"resource" mapstructure:"resource"`
}

// DialerConfig holds outbound dialer platform credentials.
type DialerConfig struct {
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	Username string `yaml:"username" mapstructure:"username"`
	APIKey   string `yaml:"api_key" mapstructure:"api_key"`
}

// ValidateConfig tunes the background validation job.
type ValidateConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	ProgressEvery     int     `yaml:"progress_every" mapstructure:"progress_every"`
	SweepTimeoutSecs  int     `yaml:"sweep_timeout_secs" mapstructure:"sweep_timeout_secs"`
	SweepIntervalSecs int     `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("CAMPAIGN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "campaign.db")
	v.SetDefault("store.max_batch_size", store.DefaultMaxBatchSize)
	v.SetDefault("blob.driver", "local")
	v.SetDefault("blob.dir", "uploads")
	v.SetDefault("blob.minio.bucket", "campaign-uploads")
	v.SetDefault("dialer.username", "Campaign")
	v.SetDefault("validate.requests_per_second", 5)
	v.SetDefault("validate.progress_every", 10)
	v.SetDefault("validate.sweep_timeout_secs", 300)
	v.SetDefault("validate.sweep_interval_secs", 60)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
