package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPPort int

	DBConfig struct {
		Host     string
		Port     int
		User     string
		Password string
		Name     string
		SSLMode  string
	}
	MigrationsPath string

	// Empty broker URL disables the queue entirely; the webhook handler then
	// dispatches inline as an explicit degraded mode.
	KafkaBrokerURL     string
	KafkaEventsTopic   string
	KafkaConsumerGroup string
	// Shared secret the queue bridge presents on POST /queues/kafka. Empty
	// keeps the endpoint disabled (503).
	QueueBridgeToken string

	StripeSecretKey     string
	StripeWebhookSecret string
	SignatureTolerance  int // seconds

	BaseURL string

	EmailAPIURL  string
	EmailAPIKey  string
	EmailFrom    string
	AdminEmail   string

	S3Bucket  string
	AWSRegion string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.HTTPPort = getEnvAsInt("HTTP_PORT", 8080)

	cfg.DBConfig.Host = getEnvOrDefault("DB_HOST", "localhost")
	cfg.DBConfig.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.DBConfig.User = getEnvOrDefault("DB_USER", "user")
	cfg.DBConfig.Password = getEnvOrDefault("DB_PASSWORD", "password")
	cfg.DBConfig.Name = getEnvOrDefault("DB_NAME", "storefront_db")
	cfg.DBConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")
	cfg.MigrationsPath = getEnvOrDefault("MIGRATIONS_PATH", "file://migrations")

	cfg.KafkaBrokerURL = getEnvOrDefault("KAFKA_BROKER_URL", "")
	cfg.KafkaEventsTopic = getEnvOrDefault("KAFKA_EVENTS_TOPIC", "stripe_events")
	cfg.KafkaConsumerGroup = getEnvOrDefault("KAFKA_CONSUMER_GROUP", "webhookd-events")
	cfg.QueueBridgeToken = getEnvOrDefault("QUEUE_BRIDGE_TOKEN", "")

	cfg.StripeSecretKey = getEnvOrDefault("STRIPE_SECRET_KEY", "")
	cfg.StripeWebhookSecret = getEnvOrDefault("STRIPE_WEBHOOK_SECRET", "")
	cfg.SignatureTolerance = getEnvAsInt("SIGNATURE_TOLERANCE_SECONDS", 300)

	cfg.BaseURL = getEnvOrDefault("BASE_URL", "http://localhost:8080")

	cfg.EmailAPIURL = getEnvOrDefault("EMAIL_API_URL", "https://api.resend.com/emails")
	cfg.EmailAPIKey = getEnvOrDefault("EMAIL_API_KEY", "")
	cfg.EmailFrom = getEnvOrDefault("EMAIL_FROM", "orders@example.com")
	cfg.AdminEmail = getEnvOrDefault("ADMIN_EMAIL", "")

	cfg.S3Bucket = getEnvOrDefault("S3_BUCKET", "")
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", "us-east-1")

	if cfg.DBConfig.Host == "" || cfg.DBConfig.Name == "" {
		return nil, fmt.Errorf("database configuration is required")
	}
	if cfg.SignatureTolerance <= 0 {
		return nil, fmt.Errorf("SIGNATURE_TOLERANCE_SECONDS must be positive")
	}

	return cfg, nil
}

// QueueEnabled reports whether events are published to Kafka or dispatched
// inline within the webhook request.
func (c *Config) QueueEnabled() bool {
	return c.KafkaBrokerURL != ""
}

func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetDBMigrationConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetKafkaBrokers() []string {
	return strings.Split(c.KafkaBrokerURL, ",")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
