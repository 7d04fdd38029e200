package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServiceName string     `mapstructure:"service_name"`
	Env         string     `mapstructure:"env"`
	Port        string     `mapstructure:"port"`
	Database    Database   `mapstructure:"database"`
	AWS         AWS        `mapstructure:"aws"`
	Telemetry   Telemetry  `mapstructure:"telemetry"`
	Saga        Saga       `mapstructure:"saga"`
	Subscriber  Subscriber `mapstructure:"subscriber"`
}

type Database struct {
	// Driver is "postgres" or "sqlite"
	Driver   string `mapstructure:"driver"`
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	// Path is the SQLite data source, e.g. file:contracts.db or :memory:
	Path string `mapstructure:"path"`
}

type AWS struct {
	Region      string `mapstructure:"region"`
	EndpointSNS string `mapstructure:"endpoint_sns"`
	EndpointSQS string `mapstructure:"endpoint_sqs"`
	// Without a topic ARN events are written to the log instead of SNS
	SNSTopicArn string `mapstructure:"sns_topic_arn"`
	// Without a queue URL the service does not consume events
	SQSQueueURL string `mapstructure:"sqs_queue_url"`
}

type Telemetry struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type Saga struct {
	StepTimeout                   time.Duration `mapstructure:"step_timeout"`
	CompensationTimeout           time.Duration `mapstructure:"compensation_timeout"`
	EscalateOnCompensationFailure bool          `mapstructure:"escalate_on_compensation_failure"`
}

type Subscriber struct {
	Readers           int   `mapstructure:"readers"`
	Workers           int   `mapstructure:"workers"`
	VisibilityTimeout int32 `mapstructure:"visibility_timeout"`
}

func ReadConfig() (*Config, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return nil, fmt.Errorf("unable to get current file")
	}
	return readConfig(filepath.Dir(filename), getConfigName())
}

func readConfig(configDir, name string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("json")
	v.AddConfigPath(configDir)

	// Allow environment variables to override config, e.g.
	// CONTRACT_SAGA_STEP_TIMEOUT=10s
	v.AutomaticEnv()
	v.SetEnvPrefix("CONTRACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaultsFromEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func getConfigName() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		return "local"
	}
	return env
}

// setDefaultsFromEnv sets defaults from the conventional, unprefixed
// environment variables
func setDefaultsFromEnv(v *viper.Viper) {
	v.SetDefault("service_name", "contract-service")
	v.SetDefault("env", getEnv("ENV", "local"))
	v.SetDefault("port", getEnv("PORT", "8080"))

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", getEnv("DATABASE_URL", ""))
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "contracts")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "file:contracts.db?_pragma=busy_timeout(5000)")

	v.SetDefault("aws.region", getEnv("AWS_DEFAULT_REGION", "us-east-1"))
	v.SetDefault("aws.endpoint_sns", getEnv("AWS_ENDPOINT_URL_SNS", ""))
	v.SetDefault("aws.endpoint_sqs", getEnv("AWS_ENDPOINT_URL_SQS", ""))
	v.SetDefault("aws.sns_topic_arn", getEnv("SNS_TOPIC_ARN", ""))
	v.SetDefault("aws.sqs_queue_url", getEnv("SQS_QUEUE_URL", ""))

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.otlp_endpoint", getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""))

	v.SetDefault("saga.step_timeout", 10*time.Second)
	v.SetDefault("saga.compensation_timeout", 30*time.Second)
	v.SetDefault("saga.escalate_on_compensation_failure", false)

	v.SetDefault("subscriber.readers", 1)
	v.SetDefault("subscriber.workers", 4)
	v.SetDefault("subscriber.visibility_timeout", 30)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetDatabaseURL constructs the PostgreSQL URL from config
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}
