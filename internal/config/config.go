// Package config loads the service configuration from YAML with environment overrides.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/visionscript/capture-service/internal/models"
)

// Defaults
const (
	DefaultPort            = 8090
	DefaultHost            = "127.0.0.1"
	DefaultBackendURL      = "http://localhost:5000"
	DefaultCaptureInterval = time.Second
	DefaultPresignTTL      = 24 * time.Hour
	DefaultOutputDir       = "downloads"
	DefaultOpenAIModel     = "openai/gpt-4o-mini"
	DefaultGeminiModel     = "gemini-1.5-flash"
)

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and fills defaults.
func Load(path string) (*models.Config, error) {
	var config models.Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, errors.Wrap(err, "failed to parse config")
		}
	}

	if err := applyEnv(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	return &config, nil
}

// applyEnv overrides config values with environment variables if present
func applyEnv(config *models.Config) error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return errors.Wrapf(err, "invalid PORT %q", port)
		}
		config.Port = p
	}
	if host := os.Getenv("HOST"); host != "" {
		config.Host = host
	}
	if baseURL := os.Getenv("VISIONSCRIPT_BACKEND_URL"); baseURL != "" {
		config.Backend.BaseURL = baseURL
	}
	if snapshotURL := os.Getenv("VISIONSCRIPT_SNAPSHOT_URL"); snapshotURL != "" {
		config.Capture.SnapshotURL = snapshotURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Summarizer.OpenAI.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.Summarizer.OpenAI.BaseURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		config.Summarizer.OpenAI.Model = model
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.Summarizer.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		config.Summarizer.Gemini.Model = model
	}
	if provider := os.Getenv("SUMMARIZER_PROVIDER"); provider != "" {
		config.Summarizer.DefaultProvider = provider
	}
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		config.Export.Bucket.Endpoint = endpoint
	}
	if accessKey := os.Getenv("MINIO_ACCESS_KEY"); accessKey != "" {
		config.Export.Bucket.AccessKey = accessKey
	}
	if secretKey := os.Getenv("MINIO_SECRET_KEY"); secretKey != "" {
		config.Export.Bucket.SecretKey = secretKey
	}
	if bucket := os.Getenv("MINIO_BUCKET"); bucket != "" {
		config.Export.Bucket.Name = bucket
	}
	if useSSL := os.Getenv("MINIO_USE_SSL"); useSSL != "" {
		config.Export.Bucket.UseSSL = useSSL == "true"
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}

	return nil
}

func applyDefaults(config *models.Config) {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.Backend.BaseURL == "" {
		config.Backend.BaseURL = DefaultBackendURL
	}
	if config.Capture.Interval <= 0 {
		config.Capture.Interval = DefaultCaptureInterval
	}
	config.Capture.DefaultModel = models.NormalizeModel(config.Capture.DefaultModel)
	if config.Capture.DefaultLanguage == "" {
		config.Capture.DefaultLanguage = models.DefaultLanguage
	}
	if config.Export.OutputDir == "" {
		config.Export.OutputDir = DefaultOutputDir
	}
	if config.Export.Bucket.PresignTTL <= 0 {
		config.Export.Bucket.PresignTTL = DefaultPresignTTL
	}
	if config.Summarizer.DefaultProvider == "" {
		config.Summarizer.DefaultProvider = "backend"
	}
	if config.Summarizer.OpenAI.Model == "" {
		config.Summarizer.OpenAI.Model = DefaultOpenAIModel
	}
	if config.Summarizer.Gemini.Model == "" {
		config.Summarizer.Gemini.Model = DefaultGeminiModel
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}
