package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all erpcall configuration
type Config struct {
	Env       string          `mapstructure:"env" validate:"oneof=development production testing"`
	ERP       ERPConfig       `mapstructure:"erp"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ERPConfig holds the remote ERP endpoint and credentials
type ERPConfig struct {
	URL              string            `mapstructure:"url" validate:"required,url"`
	Database         string            `mapstructure:"database" validate:"required"`
	Login            string            `mapstructure:"login" validate:"required"`
	Password         string            `mapstructure:"password" validate:"required"`
	Timeout          time.Duration     `mapstructure:"timeout" validate:"gt=0"`
	TLSSkipVerify    bool              `mapstructure:"tls_skip_verify"`
	MaxRetries       int               `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelay       time.Duration     `mapstructure:"retry_delay" validate:"gte=0"`
	MaxResponseBytes int64             `mapstructure:"max_response_bytes" validate:"gt=0"`
	RateLimit        float64           `mapstructure:"rate_limit" validate:"gte=0"` // requests per second, 0 = unlimited
	RateBurst        int               `mapstructure:"rate_burst" validate:"gte=0"`
	Headers          map[string]string `mapstructure:"headers"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"` // debug, info, warn, error
	Format string `mapstructure:"format" validate:"omitempty,oneof=json console"`     // json, console; empty follows env
	Output string `mapstructure:"output"`                                             // stdout, stderr, or file path
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Path    string `mapstructure:"path" validate:"startswith=/"`
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    `mapstructure:"enabled"`            // Whether to enable OpenTelemetry
	CollectorEndpoint string  `mapstructure:"collector_endpoint"` // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 `mapstructure:"sampling_ratio" validate:"gte=0,lte=1"`
	ServiceName       string  `mapstructure:"service_name" validate:"required"`
	Insecure          bool    `mapstructure:"insecure"` // Use insecure (non-TLS) connection
}

// ErrInvalidConfig is returned when the loaded configuration fails validation
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Load loads configuration from a TOML file and environment variables.
// An empty path searches erprpc.toml in the working directory, ./config and /etc/erprpc.
// Priority (highest to lowest):
// 1. Environment variables with ERP_ prefix (e.g., ERP_ERP_PASSWORD)
// 2. the TOML file
// 3. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("erprpc")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/erprpc")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("ERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Env: v.GetString("env"),
		ERP: ERPConfig{
			URL:              v.GetString("erp.url"),
			Database:         v.GetString("erp.database"),
			Login:            v.GetString("erp.login"),
			Password:         v.GetString("erp.password"),
			Timeout:          v.GetDuration("erp.timeout"),
			TLSSkipVerify:    v.GetBool("erp.tls_skip_verify"),
			MaxRetries:       v.GetInt("erp.max_retries"),
			RetryDelay:       v.GetDuration("erp.retry_delay"),
			MaxResponseBytes: v.GetInt64("erp.max_response_bytes"),
			RateLimit:        v.GetFloat64("erp.rate_limit"),
			RateBurst:        v.GetInt("erp.rate_burst"),
			Headers:          v.GetStringMapString("erp.headers"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Addr:    v.GetString("metrics.addr"),
			Path:    v.GetString("metrics.path"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.ERP.Timeout == 0 {
		cfg.ERP.Timeout = 30 * time.Second
	}
	if cfg.ERP.RetryDelay == 0 {
		cfg.ERP.RetryDelay = 100 * time.Millisecond
	}
	if cfg.ERP.MaxResponseBytes == 0 {
		cfg.ERP.MaxResponseBytes = 32 << 20 // 32MB
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stderr"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9091"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "erpcall"
	}
	// Note: Insecure defaults to false (TLS enabled by default)
}

// validate runs the struct rules and then the cross-field checks
func (c *Config) validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	// Report dotted config keys instead of Go field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			msgs := make([]string, 0, len(validationErrors))
			for _, e := range validationErrors {
				msgs = append(msgs, fieldKey(e)+": "+validationMessage(e))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Env == "production" {
		if c.ERP.TLSSkipVerify {
			return fmt.Errorf("%w: erp.tls_skip_verify must be false in production", ErrInvalidConfig)
		}
		if strings.HasPrefix(strings.ToLower(c.ERP.URL), "http://") {
			return fmt.Errorf("%w: erp.url must use https in production", ErrInvalidConfig)
		}
	}

	return nil
}

// fieldKey turns "Config.erp.url" into "erp.url"
func fieldKey(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// validationMessage returns a human-readable validation message
func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "startswith":
		return "must start with " + e.Param()
	default:
		return "is invalid"
	}
}
