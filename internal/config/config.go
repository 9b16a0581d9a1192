package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "LEXCOLLAB"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "lexcollab.db"
	defaultLogLevel     = "info"
	defaultGeminiModel  = "models/gemini-2.5-flash-lite"
	defaultBlobBucket   = "signatures"

	defaultAITimeoutSeconds   = 60
	defaultPDFTimeoutSeconds  = 30
	defaultBlobTimeoutSeconds = 30
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string

	GeminiAPIKey string
	GeminiModel  string

	BlobEndpoint  string
	BlobAccessKey string
	BlobSecretKey string
	BlobBucket    string
	BlobUseSSL    bool
	BlobPublicURL string

	AITimeout   time.Duration
	PDFTimeout  time.Duration
	BlobTimeout time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("gemini.model", defaultGeminiModel)
	configViper.SetDefault("blob.bucket", defaultBlobBucket)
	configViper.SetDefault("blob.use_ssl", false)
	configViper.SetDefault("ai.timeout_seconds", defaultAITimeoutSeconds)
	configViper.SetDefault("pdf.timeout_seconds", defaultPDFTimeoutSeconds)
	configViper.SetDefault("blob.timeout_seconds", defaultBlobTimeoutSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		GeminiAPIKey:  configViper.GetString("gemini.api_key"),
		GeminiModel:   configViper.GetString("gemini.model"),
		BlobEndpoint:  configViper.GetString("blob.endpoint"),
		BlobAccessKey: configViper.GetString("blob.access_key"),
		BlobSecretKey: configViper.GetString("blob.secret_key"),
		BlobBucket:    configViper.GetString("blob.bucket"),
		BlobUseSSL:    configViper.GetBool("blob.use_ssl"),
		BlobPublicURL: configViper.GetString("blob.public_url"),
		AITimeout:     time.Duration(configViper.GetInt("ai.timeout_seconds")) * time.Second,
		PDFTimeout:    time.Duration(configViper.GetInt("pdf.timeout_seconds")) * time.Second,
		BlobTimeout:   time.Duration(configViper.GetInt("blob.timeout_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.AITimeout <= 0 {
		return fmt.Errorf("ai.timeout_seconds must be positive")
	}
	if c.PDFTimeout <= 0 {
		return fmt.Errorf("pdf.timeout_seconds must be positive")
	}
	if c.BlobTimeout <= 0 {
		return fmt.Errorf("blob.timeout_seconds must be positive")
	}
	return nil
}
