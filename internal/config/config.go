package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Analysis  AnalysisConfig  `yaml:"analysis" mapstructure:"analysis"`
	Probe     ProbeConfig     `yaml:"probe" mapstructure:"probe"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Broadcast BroadcastConfig `yaml:"broadcast" mapstructure:"broadcast"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the asset record database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// StorageConfig selects the blob backend that holds source and enhanced audio.
type StorageConfig struct {
	Driver string          `yaml:"driver" mapstructure:"driver"`
	Dir    string          `yaml:"dir" mapstructure:"dir"`
	S3     S3Config        `yaml:"s3" mapstructure:"s3"`
	Azure  AzureConfig     `yaml:"azure" mapstructure:"azure"`
	FTP    RemoteDirConfig `yaml:"ftp" mapstructure:"ftp"`
	SFTP   RemoteDirConfig `yaml:"sftp" mapstructure:"sftp"`
}

// S3Config configures the S3 backend. Credentials come from the default AWS chain.
type S3Config struct {
	Bucket   string `yaml:"bucket" mapstructure:"bucket"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
	Region   string `yaml:"region" mapstructure:"region"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// AzureConfig configures the Azure Blob backend.
type AzureConfig struct {
	Account   string `yaml:"account" mapstructure:"account"`
	Key       string `yaml:"key" mapstructure:"key"`
	Container string `yaml:"container" mapstructure:"container"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix"`
}

// RemoteDirConfig configures the FTP and SFTP backends.
type RemoteDirConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	Dir      string `yaml:"dir" mapstructure:"dir"`
}

// AnalysisConfig configures the external analysis provider.
type AnalysisConfig struct {
	BaseURL              string  `yaml:"base_url" mapstructure:"base_url"`
	EnhanceTimeoutSecs   int     `yaml:"enhance_timeout_secs" mapstructure:"enhance_timeout_secs"`
	ExplainTimeoutSecs   int     `yaml:"explain_timeout_secs" mapstructure:"explain_timeout_secs"`
	QualityTimeoutSecs   int     `yaml:"quality_timeout_secs" mapstructure:"quality_timeout_secs"`
	ForensicsTimeoutSecs int     `yaml:"forensics_timeout_secs" mapstructure:"forensics_timeout_secs"`
	RateLimit            float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	BreakerThreshold     int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs     int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// Timeouts returns the per-operation timeouts as durations.
func (a AnalysisConfig) Timeouts() (enhance, explain, quality, forensics time.Duration) {
	return time.Duration(a.EnhanceTimeoutSecs) * time.Second,
		time.Duration(a.ExplainTimeoutSecs) * time.Second,
		time.Duration(a.QualityTimeoutSecs) * time.Second,
		time.Duration(a.ForensicsTimeoutSecs) * time.Second
}

// ProbeConfig configures ffprobe metadata extraction.
type ProbeConfig struct {
	FFprobePath string `yaml:"ffprobe_path" mapstructure:"ffprobe_path"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port              int      `yaml:"port" mapstructure:"port"`
	MaxUploadMB       int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	CORSOrigins       []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	AllowedExtensions []string `yaml:"allowed_extensions" mapstructure:"allowed_extensions"`
}

// BroadcastConfig configures the progress feed.
type BroadcastConfig struct {
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size"`
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
	v.AddConfigPath("$HOME/.soundguard")

	// Environment
	v.SetEnvPrefix("SOUNDGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "soundguard.db")
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.dir", "uploads")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.prefix", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.azure.account", "")
	v.SetDefault("storage.azure.key", "")
	v.SetDefault("storage.azure.container", "")
	v.SetDefault("storage.azure.prefix", "")
	v.SetDefault("storage.ftp.addr", "")
	v.SetDefault("storage.ftp.user", "")
	v.SetDefault("storage.ftp.password", "")
	v.SetDefault("storage.ftp.dir", "")
	v.SetDefault("storage.sftp.addr", "")
	v.SetDefault("storage.sftp.user", "")
	v.SetDefault("storage.sftp.password", "")
	v.SetDefault("storage.sftp.key_path", "")
	v.SetDefault("storage.sftp.dir", "")
	v.SetDefault("analysis.base_url", "http://localhost:5001")
	v.SetDefault("analysis.enhance_timeout_secs", 300)
	v.SetDefault("analysis.explain_timeout_secs", 300)
	v.SetDefault("analysis.quality_timeout_secs", 120)
	v.SetDefault("analysis.forensics_timeout_secs", 120)
	v.SetDefault("analysis.rate_limit", 0)
	v.SetDefault("analysis.breaker_threshold", 5)
	v.SetDefault("analysis.breaker_reset_secs", 30)
	v.SetDefault("probe.ffprobe_path", "ffprobe")
	v.SetDefault("probe.timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_mb", 100)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.allowed_extensions", []string{"wav", "mp3", "m4a", "flac", "ogg", "webm"})
	v.SetDefault("broadcast.buffer_size", 32)
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

// Validate checks values that would otherwise fail deep inside a command.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}

	switch c.Storage.Driver {
	case "local":
		if c.Storage.Dir == "" {
			return eris.New("config: storage.dir is required for local storage")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return eris.New("config: storage.s3.bucket is required")
		}
	case "azure":
		if c.Storage.Azure.Account == "" || c.Storage.Azure.Container == "" {
			return eris.New("config: storage.azure.account and storage.azure.container are required")
		}
	case "ftp", "sftp":
		remote := c.Storage.FTP
		if c.Storage.Driver == "sftp" {
			remote = c.Storage.SFTP
		}
		if remote.Addr == "" || remote.User == "" {
			return eris.Errorf("config: storage.%s.addr and storage.%s.user are required", c.Storage.Driver, c.Storage.Driver)
		}
	default:
		return eris.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}

	if c.Analysis.BaseURL == "" {
		return eris.New("config: analysis.base_url is required")
	}
	enhance, explain, quality, forensics := c.Analysis.Timeouts()
	for name, d := range map[string]time.Duration{
		"enhance":   enhance,
		"explain":   explain,
		"quality":   quality,
		"forensics": forensics,
	} {
		if d <= 0 {
			return eris.Errorf("config: analysis.%s timeout must be positive", name)
		}
	}
	if c.Analysis.RateLimit < 0 {
		return eris.New("config: analysis.rate_limit must not be negative")
	}
	if c.Broadcast.BufferSize <= 0 {
		return eris.New("config: broadcast.buffer_size must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return eris.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return eris.New("config: server.max_upload_mb must be positive")
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
