package models

import "time"

// Config represents the service configuration
type Config struct {
	// Server config
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	// Recognition backend
	Backend BackendConfig `yaml:"backend"`

	// Live capture defaults
	Capture CaptureConfig `yaml:"capture"`

	// Export delivery
	Export ExportConfig `yaml:"export"`

	// Summarizer providers
	Summarizer SummarizerConfig `yaml:"summarizer"`

	// API authentication (disabled when the secret is empty)
	Auth AuthConfig `yaml:"auth"`

	// Logging
	Log LogConfig `yaml:"log"`
}

// BackendConfig points at the recognition/conversion service
type BackendConfig struct {
	BaseURL string        `yaml:"base_url"` // Default: "http://localhost:5000"
	Timeout time.Duration `yaml:"timeout"`  // 0 means no client-side timeout
}

// CaptureConfig holds defaults for capture sessions
type CaptureConfig struct {
	Interval        time.Duration `yaml:"interval"`         // Default: 1s
	DefaultModel    string        `yaml:"default_model"`    // "easyocr" or "pytesseract"
	DefaultLanguage string        `yaml:"default_language"` // Default: "en"
	SnapshotURL     string        `yaml:"snapshot_url"`     // Optional IP camera snapshot endpoint
}

// ExportConfig controls where finished artifacts go besides the HTTP response
type ExportConfig struct {
	OutputDir string       `yaml:"output_dir"` // Used by the scan command
	Bucket    BucketConfig `yaml:"bucket"`
}

// BucketConfig for MinIO / S3 artifact storage
type BucketConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	AccessKey  string        `yaml:"access_key"`
	SecretKey  string        `yaml:"secret_key"`
	Name       string        `yaml:"name"`
	UseSSL     bool          `yaml:"use_ssl"`
	PresignTTL time.Duration `yaml:"presign_ttl"` // Default: 24h
}

// Enabled reports whether bucket storage is configured
func (b BucketConfig) Enabled() bool {
	return b.Endpoint != "" && b.Name != ""
}

// SummarizerConfig represents summarizer provider configuration
type SummarizerConfig struct {
	// OpenAI-compatible endpoint (OpenRouter, OpenAI, local proxies)
	OpenAI OpenAIConfig `yaml:"openai"`

	// Gemini
	Gemini GeminiConfig `yaml:"gemini"`

	// Default provider
	DefaultProvider string `yaml:"default_provider"` // "backend", "openai", "gemini", "local"
}

// OpenAIConfig for OpenAI-compatible chat endpoints
type OpenAIConfig struct {
	APIKey            string `yaml:"api_key"`
	BaseURL           string `yaml:"base_url,omitempty"` // For OpenRouter and custom endpoints
	Model             string `yaml:"model"`
	RequestsPerMinute int    `yaml:"requests_per_minute"` // 0 disables the local quota guard
}

// GeminiConfig for Google Gemini
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// AuthConfig for bearer token authentication
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LogConfig for logrus
type LogConfig struct {
	Level  string `yaml:"level"`  // Default: "info"
	Format string `yaml:"format"` // "text" or "json"
}
