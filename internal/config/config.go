// Package config provides application configuration management.
//
// Configuration is read once at startup from a JSON file plus the
// environment and is read-only afterwards; the loaded value is passed into
// the components that need it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hanuiwon/voicebridge/internal/util"
)

// Environment variables for the recognition credential and endpoint. The
// secret has no default and no config-file fallback; a process without it
// must not begin serving.
const (
	EnvSecret   = "CLOVA_SPEECH_SECRET"
	EnvEndpoint = "CLOVA_SPEECH_INVOKE_URL"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultPort           = 3000
	DefaultEndpoint       = "wss://clovaspeech-gw.ncloud.com/v1/stream"
	DefaultIdleTimeoutMs  = 300000
	DefaultSpeechLevel    = 20.0
	DefaultSilenceMs      = 1500
	DefaultLanguage       = "ko-KR"
	DefaultCompletionMode = "sync"
)

// ServerConfig holds the bridge listen settings.
type ServerConfig struct {
	Port int `json:"port" validate:"gte=1,lte=65535"`
}

// RecognitionConfig holds the outbound recognition leg settings. The secret
// is populated from the environment, never from the file.
type RecognitionConfig struct {
	Endpoint      string `json:"endpoint" validate:"required,max=2048"`
	IdleTimeoutMs int64  `json:"idle_timeout_ms" validate:"gte=1000,lte=3600000"`
	Secret        string `json:"-"`
}

// GateConfig holds the voice-activity gate thresholds.
type GateConfig struct {
	SpeechThreshold float64 `json:"speech_threshold" validate:"gt=0"`
	SilenceMs       int64   `json:"silence_ms" validate:"gte=100,lte=60000"`
}

// SpeechConfig holds default recognition parameters for sessions that do not
// override them.
type SpeechConfig struct {
	Language      string `json:"language" validate:"required,max=16"`
	Completion    string `json:"completion" validate:"oneof=sync async"`
	BoostingsPath string `json:"boostings_path" validate:"omitempty,max=4096"`
}

// WebhookConfig holds webhook alert settings.
type WebhookConfig struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"`
}

// EmailConfig holds Microsoft Graph email alert settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,max=100"`
	ClientID     string `json:"client_id" validate:"omitempty,max=100"`
	ClientSecret string `json:"client_secret" validate:"omitempty,max=500"`
	FromAddress  string `json:"from_address" validate:"omitempty,email,max=254"`
	Recipients   string `json:"recipients" validate:"omitempty,max=1000"`
}

// NotificationsConfig holds all alert channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook"`
	Email   EmailConfig   `json:"email"`
}

// ArchiveConfig holds transcript archive settings. Archiving is disabled
// unless a bucket is configured.
type ArchiveConfig struct {
	Endpoint        string `json:"endpoint" validate:"omitempty,url,max=2048"`
	Bucket          string `json:"bucket" validate:"omitempty,max=255"`
	AccessKeyID     string `json:"access_key_id" validate:"omitempty,max=512"`
	SecretAccessKey string `json:"secret_access_key" validate:"omitempty,max=512"`
	Prefix          string `json:"prefix" validate:"omitempty,max=512"`
}

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `json:"server"`
	Recognition   RecognitionConfig   `json:"recognition"`
	Gate          GateConfig          `json:"gate"`
	Speech        SpeechConfig        `json:"speech"`
	Notifications NotificationsConfig `json:"notifications"`
	Archive       ArchiveConfig       `json:"archive"`
}

// validate is the shared validator instance. JSON tag names are used in
// error messages instead of struct field names.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}

// Load reads the config file, creating a default one if none exists, applies
// environment overrides, and validates the result. The recognition secret is
// required and comes from the environment only.
func Load(filePath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(filePath)
	switch {
	case os.IsNotExist(err):
		if err := save(filePath, cfg); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, util.WrapError("read config", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, util.WrapError("parse config", err)
		}
		cfg.applyDefaults()
	}

	if endpoint := os.Getenv(EnvEndpoint); endpoint != "" {
		cfg.Recognition.Endpoint = endpoint
	}

	cfg.Recognition.Secret = os.Getenv(EnvSecret)
	if cfg.Recognition.Secret == "" {
		return nil, fmt.Errorf("%s is not set: the recognition secret is required", EnvSecret)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, util.WrapError("validate config", err)
	}

	return cfg, nil
}

// defaults returns a config populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: DefaultPort},
		Recognition: RecognitionConfig{
			Endpoint:      DefaultEndpoint,
			IdleTimeoutMs: DefaultIdleTimeoutMs,
		},
		Gate: GateConfig{
			SpeechThreshold: DefaultSpeechLevel,
			SilenceMs:       DefaultSilenceMs,
		},
		Speech: SpeechConfig{
			Language:   DefaultLanguage,
			Completion: DefaultCompletionMode,
		},
	}
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Recognition.Endpoint == "" {
		c.Recognition.Endpoint = DefaultEndpoint
	}
	if c.Recognition.IdleTimeoutMs == 0 {
		c.Recognition.IdleTimeoutMs = DefaultIdleTimeoutMs
	}
	if c.Gate.SpeechThreshold == 0 {
		c.Gate.SpeechThreshold = DefaultSpeechLevel
	}
	if c.Gate.SilenceMs == 0 {
		c.Gate.SilenceMs = DefaultSilenceMs
	}
	if c.Speech.Language == "" {
		c.Speech.Language = DefaultLanguage
	}
	if c.Speech.Completion == "" {
		c.Speech.Completion = DefaultCompletionMode
	}
}

// save persists the config to disk, creating the directory if needed. The
// secret is excluded from serialization.
func save(filePath string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// IdleTimeout returns the stream idle timeout as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Recognition.IdleTimeoutMs) * time.Millisecond
}

// SilenceTimeout returns the gate silence timeout as a duration.
func (c *Config) SilenceTimeout() time.Duration {
	return time.Duration(c.Gate.SilenceMs) * time.Millisecond
}

// HasWebhook reports whether webhook alerts are configured.
func (c *Config) HasWebhook() bool {
	return c.Notifications.Webhook.URL != ""
}

// HasEmail reports whether Graph email alerts are configured.
func (c *Config) HasEmail() bool {
	e := c.Notifications.Email
	return e.TenantID != "" && e.ClientID != "" && e.ClientSecret != "" && e.FromAddress != "" && e.Recipients != ""
}

// HasArchive reports whether the transcript archive is configured.
func (c *Config) HasArchive() bool {
	a := c.Archive
	return a.Bucket != "" && a.AccessKeyID != "" && a.SecretAccessKey != ""
}

// Boostings loads the vocabulary-boost keyword list, one keyword per line.
// Returns nil when no file is configured.
func (c *Config) Boostings() ([]string, error) {
	if c.Speech.BoostingsPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.Speech.BoostingsPath)
	if err != nil {
		return nil, util.WrapError("read boostings file", err)
	}
	var keywords []string
	for line := range strings.Lines(string(data)) {
		if kw := strings.TrimSpace(line); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return keywords, nil
}
