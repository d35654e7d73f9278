// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. NEUROTONE_HTTP_PORT
// or NEUROTONE_MODEL_CHECKPOINT.
const EnvPrefix = "NEUROTONE"

// Config holds all configuration for the service
type Config struct {
	// Server configuration
	Port        int `mapstructure:"port" validate:"min=1,max=65535"`
	HTTPPort    int `mapstructure:"http_port" validate:"min=1,max=65535"`
	MetricsPort int `mapstructure:"metrics_port" validate:"min=1,max=65535"`

	Model    ModelConfig    `mapstructure:"model"`
	Features FeaturesConfig `mapstructure:"features"`

	// Result cache, disabled when Redis is empty
	Redis    string        `mapstructure:"redis"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`

	// OpenTelemetry configuration
	OTELEnabled  bool   `mapstructure:"otel_enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error disabled"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=console json"`

	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gte=0"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes" validate:"gt=0"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace" validate:"gte=0"`

	// Feature flags
	UseMockInference bool `mapstructure:"use_mock_inference"`
}

// ModelConfig locates the model and fixes its input geometry
type ModelConfig struct {
	Checkpoint       string   `mapstructure:"checkpoint" validate:"required"`
	BaseModel        string   `mapstructure:"base_model" validate:"required"`
	Dir              string   `mapstructure:"dir"`
	ONNXLibrary      string   `mapstructure:"onnx_library"`
	HiddenSize       int      `mapstructure:"hidden_size" validate:"gt=0"`
	SampleRate       int      `mapstructure:"sample_rate" validate:"gt=0"`
	MaxLengthSamples int      `mapstructure:"max_length_samples" validate:"gt=0"`
	ClassNames       []string `mapstructure:"class_names" validate:"len=2,dive,required"`
	Threshold        float64  `mapstructure:"threshold" validate:"gte=0,lte=1"`
	IntraOpThreads   int      `mapstructure:"intra_op_threads" validate:"gte=0"`
}

// FeaturesConfig mirrors the feature extractor switches
type FeaturesConfig struct {
	Normalize     bool `mapstructure:"normalize"`
	AttentionMask bool `mapstructure:"attention_mask"`
}

// flagKeys maps command line flag names to config keys
var flagKeys = map[string]string{
	"port":               "port",
	"http-port":          "http_port",
	"metrics-port":       "metrics_port",
	"checkpoint":         "model.checkpoint",
	"base-model":         "model.base_model",
	"model-dir":          "model.dir",
	"onnx-library":       "model.onnx_library",
	"redis":              "redis",
	"log-level":          "log_level",
	"log-format":         "log_format",
	"mock":               "use_mock_inference",
	"otel":               "otel_enabled",
	"request-timeout":    "request_timeout",
	"max-length-samples": "model.max_length_samples",
	"sample-rate":        "model.sample_rate",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 50051)
	v.SetDefault("http_port", 8000)
	v.SetDefault("metrics_port", 9100)

	v.SetDefault("model.checkpoint", "./model/final_model_binary_segmented_balanced.msgpack")
	v.SetDefault("model.base_model", "microsoft/wavlm-base-plus")
	v.SetDefault("model.dir", "./model")
	v.SetDefault("model.onnx_library", "")
	v.SetDefault("model.hidden_size", 768)
	v.SetDefault("model.sample_rate", 16000)
	v.SetDefault("model.max_length_samples", 160000)
	v.SetDefault("model.class_names", []string{"No Dementia", "Dementia"})
	v.SetDefault("model.threshold", 0.5)
	v.SetDefault("model.intra_op_threads", 0)

	v.SetDefault("features.normalize", false)
	v.SetDefault("features.attention_mask", true)

	v.SetDefault("redis", "")
	v.SetDefault("cache_ttl", 10*time.Minute)
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("request_timeout", 60*time.Second)
	v.SetDefault("max_upload_bytes", 32<<20)
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("shutdown_grace", 5*time.Second)
	v.SetDefault("use_mock_inference", false)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// Environment variable configuration
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Also honor the OTEL standard endpoint variable
	_ = v.BindEnv("otel_endpoint", EnvPrefix+"_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	return v
}

// Load loads configuration from flags, environment variables, and an optional config file.
// Priority (highest to lowest): flags > env vars > config file > defaults.
// An empty configFile searches the default locations and tolerates absence.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := newViper()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/neurotone/")
		v.AddConfigPath("$HOME/.neurotone")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				// Config file was found but another error occurred
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.OTELEndpoint != "" {
		cfg.OTELEnabled = true
	}

	return &cfg, nil
}

// LoadWithConfigFile loads configuration from a specific config file
func LoadWithConfigFile(configPath string) (*Config, error) {
	return Load(configPath, nil)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Port == c.MetricsPort || c.Port == c.HTTPPort || c.HTTPPort == c.MetricsPort {
		return fmt.Errorf("port, http_port and metrics_port must be different")
	}
	if c.Model.Dir == "" && !c.UseMockInference {
		return fmt.Errorf("model.dir is required when not using mock inference")
	}
	return nil
}
