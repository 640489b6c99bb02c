package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServiceName string
	HTTPAddr    string
	GRPCAddr    string
	LogLevel    string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	KafkaBrokers          []string
	KafkaConsumerGroup    string
	PaymentResultTopic    string
	PaymentResultDLQTopic string
	NotificationTopic     string
	OrderEventsTopic      string
	ConsumerMaxRetries    int

	ProductServiceURL   string
	CartServiceURL      string
	CollaboratorTimeout time.Duration

	RedisHost     string
	RedisPort     string
	RedisPassword string

	// JWTSecret is the base64 encoded HS512 key shared with the user service.
	JWTSecret string

	OrderExpiryThreshold time.Duration
	OrderSweepInterval   time.Duration

	JaegerEndpoint string
}

func Load() *Config {
	return &Config{
		ServiceName: getEnv("SERVICE_NAME", "order-service"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8082"),
		GRPCAddr:    getEnv("GRPC_ADDR", ":50051"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "orderdb"),

		KafkaBrokers:          splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaConsumerGroup:    getEnv("KAFKA_CONSUMER_GROUP", "order-service"),
		PaymentResultTopic:    getEnv("KAFKA_PAYMENT_RESULT_TOPIC", "payment-result-topic"),
		PaymentResultDLQTopic: getEnv("KAFKA_PAYMENT_RESULT_DLQ_TOPIC", "payment-result-dlq"),
		NotificationTopic:     getEnv("KAFKA_NOTIFICATION_TOPIC", "notification-topic"),
		OrderEventsTopic:      getEnv("KAFKA_ORDER_EVENTS_TOPIC", "order_events"),
		ConsumerMaxRetries:    getInt("KAFKA_CONSUMER_MAX_RETRIES", 3),

		ProductServiceURL:   strings.TrimRight(getEnv("PRODUCT_SERVICE_URL", "http://localhost:8081"), "/"),
		CartServiceURL:      strings.TrimRight(getEnv("CART_SERVICE_URL", "http://localhost:8084"), "/"),
		CollaboratorTimeout: getDuration("COLLABORATOR_TIMEOUT", 5*time.Second),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		OrderExpiryThreshold: getDuration("ORDER_EXPIRY_THRESHOLD", 5*time.Minute),
		OrderSweepInterval:   getDuration("ORDER_SWEEP_INTERVAL", 60*time.Second),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

// getDuration accepts Go duration strings ("90s") or plain seconds ("90").
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
