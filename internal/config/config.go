package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anime-shed/emotion-detect-go/pkg/validation"
)

const (
	PreviewBackendMemory = "memory"
	PreviewBackendAzure  = "azure"

	DefaultPredictEndpoint = "http://127.0.0.1:5000/predict"
)

type Config struct {
	Host               string
	Port               string
	PredictEndpoint    string
	PredictHosts       []string // empty allows any host
	PredictTimeout     time.Duration // zero leaves the transport defaults in charge
	RequestTimeout     time.Duration
	MaxUploadSize      int64
	PreviewSize        uint
	PreviewBackend     string
	AzureAccount       string
	AzureKey           string
	AzureContainer     string
	SessionIdleTimeout time.Duration
	LogLevel           string
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

func LoadFromEnv() (*Config, error) {
	previewSize := parseIntOrDefault("PREVIEW_SIZE", 224)
	if previewSize <= 0 {
		return nil, fmt.Errorf("PREVIEW_SIZE must be > 0 (got %d)", previewSize)
	}

	// Set defaults
	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8080"),
		PredictEndpoint:    getEnvOrDefault("PREDICT_ENDPOINT", DefaultPredictEndpoint),
		PredictTimeout:     parseDurationOrDefault("PREDICT_TIMEOUT", 0),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		MaxUploadSize:      parseIntOrDefault("MAX_UPLOAD_SIZE", 10*1024*1024), // 10MB
		PredictHosts:       parseListOrDefault("PREDICT_ALLOWED_HOSTS"),
		PreviewSize:        uint(previewSize),
		PreviewBackend:     strings.ToLower(getEnvOrDefault("PREVIEW_BACKEND", PreviewBackendMemory)),
		AzureAccount:       os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureKey:           os.Getenv("AZURE_STORAGE_KEY"),
		AzureContainer:     getEnvOrDefault("AZURE_PREVIEW_CONTAINER", "previews"),
		SessionIdleTimeout: parseDurationOrDefault("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the combination of settings, not just individual values
func (c *Config) Validate() error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if err := c.EndpointValidator().ValidateEndpoint(c.PredictEndpoint); err != nil {
		return fmt.Errorf("invalid PREDICT_ENDPOINT %q: %w", c.PredictEndpoint, err)
	}
	if c.PredictTimeout < 0 {
		return fmt.Errorf("PREDICT_TIMEOUT must be >= 0 (got %s)", c.PredictTimeout)
	}
	if c.RequestTimeout <= 0 || c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, session_idle=%s)",
			c.RequestTimeout, c.SessionIdleTimeout)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be > 0 (got %d)", c.MaxUploadSize)
	}
	if c.PreviewSize == 0 {
		return fmt.Errorf("PREVIEW_SIZE must be > 0")
	}
	switch c.PreviewBackend {
	case PreviewBackendMemory:
	case PreviewBackendAzure:
		if c.AzureAccount == "" || c.AzureKey == "" {
			return fmt.Errorf("PREVIEW_BACKEND=azure requires AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY")
		}
	default:
		return fmt.Errorf("unsupported PREVIEW_BACKEND: %q", c.PreviewBackend)
	}
	return nil
}

// EndpointValidator checks prediction URLs against PREDICT_ALLOWED_HOSTS
func (c *Config) EndpointValidator() *validation.EndpointValidator {
	if len(c.PredictHosts) == 0 {
		return validation.NewEndpointValidator()
	}
	return validation.NewEndpointValidatorWithOptions([]string{"http", "https"}, c.PredictHosts)
}

func parseListOrDefault(key string) []string {
	var items []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration >= 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
