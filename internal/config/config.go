package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
	Events   EventsConfig   `mapstructure:"events"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
// An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// LLMConfig contains the vision model integration settings, including the
// retry policy applied to every model call.
type LLMConfig struct {
	Provider           string        `mapstructure:"provider" validate:"required,oneof=gemini openai"`
	APIKey             string        `mapstructure:"api_key" validate:"required"`
	Model              string        `mapstructure:"model" validate:"required"`
	BaseURL            string        `mapstructure:"base_url" validate:"omitempty,url"`
	PromptTemplatePath string        `mapstructure:"prompt_template_path"`
	Temperature        float32       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxRetries         int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	BaseDelay          time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay           time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
	JitterMax          time.Duration `mapstructure:"jitter_max" validate:"gte=0"`
	AttemptTimeout     time.Duration `mapstructure:"attempt_timeout" validate:"gt=0"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst              int           `mapstructure:"burst" validate:"gte=0"`
}

// MaxAnalysisDuration is the longest the model calls of one entry analysis
// can take under the retry policy: every attempt hitting its timeout plus
// a capped backoff before each retry. Jitter never pushes a backoff past
// MaxDelay.
func (c LLMConfig) MaxAnalysisDuration() time.Duration {
	attempts := time.Duration(c.MaxRetries + 1)
	return attempts*c.AttemptTimeout + time.Duration(c.MaxRetries)*c.MaxDelay
}

// StorageConfig selects and configures the image store backend.
type StorageConfig struct {
	Backend           string        `mapstructure:"backend" validate:"required,oneof=local s3"`
	LocalDir          string        `mapstructure:"local_dir" validate:"required_if=Backend local"`
	Bucket            string        `mapstructure:"bucket" validate:"required_if=Backend s3"`
	Region            string        `mapstructure:"region" validate:"required_if=Backend s3"`
	Endpoint          string        `mapstructure:"endpoint" validate:"omitempty,url"`
	AccessKey         string        `mapstructure:"access_key"`
	SecretKey         string        `mapstructure:"secret_key"`
	UsePathStyle      bool          `mapstructure:"use_path_style"`
	PresignExpiration time.Duration `mapstructure:"presign_expiration" validate:"gt=0"`
}

// TaskConfig contains the analysis worker pool settings.
type TaskConfig struct {
	WorkerCount    int           `mapstructure:"worker_count" validate:"gt=0"`
	QueueSize      int           `mapstructure:"queue_size" validate:"gt=0"`
	StuckTaskAge   time.Duration `mapstructure:"stuck_task_age" validate:"gt=0"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	SweepBatchSize int           `mapstructure:"sweep_batch_size" validate:"gt=0"`
}

// EventsConfig configures the notification bus. An empty broker disables MQTT.
type EventsConfig struct {
	MQTTBroker     string        `mapstructure:"mqtt_broker" validate:"omitempty,url"`
	MQTTClientID   string        `mapstructure:"mqtt_client_id"`
	MQTTUsername   string        `mapstructure:"mqtt_username"`
	MQTTPassword   string        `mapstructure:"mqtt_password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout" validate:"gt=0"`
}
