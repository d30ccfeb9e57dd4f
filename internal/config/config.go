// Package config loads the worker configuration from the environment, with an
// optional YAML file for local development. Every key can be set through a
// TTS_-prefixed environment variable, e.g. TTS_MQTT_HOST or TTS_S3_BUCKET.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Validation errors.
var (
	ErrDefaultVoiceEmpty = errors.New("models.default_voice cannot be empty")
	ErrModelsDirEmpty    = errors.New("models.dir cannot be empty")
	ErrBucketEmpty       = errors.New("s3.bucket cannot be empty")
	ErrPoolSizeInvalid   = errors.New("worker.pool_size must be at least 1")
	ErrRetriesInvalid    = errors.New("retry budgets must be at least 1 attempt")
)

// MQTTConfig holds the connection and topic settings for the job broker.
type MQTTConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	ClientID          string `mapstructure:"client_id"`
	Username          string `mapstructure:"username"`
	Password          string `mapstructure:"password"`
	JobTopic          string `mapstructure:"job_topic"`
	OutcomeTopic      string `mapstructure:"outcome_topic"`
	ActionTopicPrefix string `mapstructure:"action_topic_prefix"`
}

// S3Config holds the object-store settings. Endpoint and path-style addressing
// target S3-compatible stores such as Garage or MinIO.
type S3Config struct {
	Endpoint       string `mapstructure:"endpoint"`
	Region         string `mapstructure:"region"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	Bucket         string `mapstructure:"bucket"`
	KeyPrefix      string `mapstructure:"key_prefix"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	UploadRetries  int    `mapstructure:"upload_retries"`
}

// ModelsConfig holds the voice-model cache settings.
type ModelsConfig struct {
	Dir          string `mapstructure:"dir"`
	DefaultVoice string `mapstructure:"default_voice"`
	BaseURL      string `mapstructure:"base_url"`
	FetchRetries int    `mapstructure:"fetch_retries"`
}

// SynthesisConfig holds the synthesis-engine settings. MaxConcurrent caps
// inference across all models; zero disables the global cap, leaving only the
// per-model serialization.
type SynthesisConfig struct {
	PiperPath     string `mapstructure:"piper_path"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
	MaxFaults     int    `mapstructure:"max_faults"`
}

// WorkerConfig holds the coordinator settings.
type WorkerConfig struct {
	PoolSize   int           `mapstructure:"pool_size"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// HTTPConfig holds the listen address of the request/response variant.
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Config is the root configuration structure.
type Config struct {
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	S3        S3Config        `mapstructure:"s3"`
	Models    ModelsConfig    `mapstructure:"models"`
	Synthesis SynthesisConfig `mapstructure:"synthesis"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	LogLevel  string          `mapstructure:"log_level"`
	LogPretty bool            `mapstructure:"log_pretty"`
}

// Load reads the configuration from the environment and, when path is not
// empty, from a YAML file. Environment variables win over file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		err := v.ReadInConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	var cfg Config

	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the invariants the components rely on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Models.DefaultVoice) == "" {
		return ErrDefaultVoiceEmpty
	}

	if strings.TrimSpace(c.Models.Dir) == "" {
		return ErrModelsDirEmpty
	}

	if strings.TrimSpace(c.S3.Bucket) == "" {
		return ErrBucketEmpty
	}

	if c.Worker.PoolSize < 1 {
		return ErrPoolSizeInvalid
	}

	if c.Models.FetchRetries < 1 || c.S3.UploadRetries < 1 {
		return ErrRetriesInvalid
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Every key needs a registered default, even an empty one: viper only
	// surfaces environment values for keys it knows about.
	v.SetDefault("mqtt.host", "127.0.0.1")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "tts-worker")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.job_topic", "voice/tts/generate")
	v.SetDefault("mqtt.outcome_topic", "voice/tts/complete")
	v.SetDefault("mqtt.action_topic_prefix", "satellite/")

	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "garage")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.bucket", "tts-audio")
	v.SetDefault("s3.key_prefix", "")
	v.SetDefault("s3.force_path_style", true)
	v.SetDefault("s3.upload_retries", 3)

	v.SetDefault("models.dir", "./models")
	v.SetDefault("models.default_voice", "de_DE-thorsten-high")
	v.SetDefault("models.base_url", "https://huggingface.co/rhasspy/piper-voices/resolve/main")
	v.SetDefault("models.fetch_retries", 3)

	v.SetDefault("synthesis.piper_path", "piper")
	v.SetDefault("synthesis.max_concurrent", 0)
	v.SetDefault("synthesis.max_faults", 3)

	v.SetDefault("worker.pool_size", 2)
	v.SetDefault("worker.job_timeout", 2*time.Minute)

	v.SetDefault("http.host", "127.0.0.1")
	v.SetDefault("http.port", 8080)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
}
