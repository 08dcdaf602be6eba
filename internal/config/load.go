package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "MEDSTOCK"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("server.max_upload_bytes", 20<<20)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.prompt_template_path", "")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.base_delay", "1s")
	v.SetDefault("llm.max_delay", "10s")
	v.SetDefault("llm.jitter_max", "1s")
	v.SetDefault("llm.attempt_timeout", "60s")
	v.SetDefault("llm.requests_per_second", 2)
	v.SetDefault("llm.burst", 4)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "./data/images")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_path_style", false)
	v.SetDefault("storage.presign_expiration", "15m")

	v.SetDefault("task.worker_count", 4)
	v.SetDefault("task.queue_size", 100)
	v.SetDefault("task.stuck_task_age", "10m")
	v.SetDefault("task.sweep_interval", "1m")
	v.SetDefault("task.sweep_batch_size", 50)

	v.SetDefault("events.mqtt_broker", "")
	v.SetDefault("events.mqtt_client_id", "medstock-api")
	v.SetDefault("events.mqtt_username", "")
	v.SetDefault("events.mqtt_password", "")
	v.SetDefault("events.topic_prefix", "medstock")
	v.SetDefault("events.publish_timeout", "2s")
}

// Load reads configuration from defaults, an optional config file and
// MEDSTOCK_-prefixed environment variables, in increasing order of precedence.
// When configFile is empty, config.yaml is looked up in the working directory
// and its absence is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ErrStuckTaskAgeTooShort is returned when task.stuck_task_age does not
// exceed the longest time an analysis can legitimately run.
var ErrStuckTaskAgeTooShort = errors.New("task.stuck_task_age must exceed the longest analysis duration")

// Validate checks cfg against its struct tags and cross-field rules.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if limit := cfg.LLM.MaxAnalysisDuration(); cfg.Task.StuckTaskAge <= limit {
		return fmt.Errorf("invalid configuration: %w (%s <= %s)",
			ErrStuckTaskAgeTooShort, cfg.Task.StuckTaskAge, limit)
	}
	return nil
}
