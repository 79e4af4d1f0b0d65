package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Annotation failure policies applied once the NLP retries are exhausted
const (
	FailurePolicyRetryPage        = "retry-page"
	FailurePolicySkipPost         = "skip-post"
	FailurePolicyStoreUnannotated = "store-unannotated"
)

// DefaultTweetFields is the field selection requested for every post
const DefaultTweetFields = "id,text,author_id,conversation_id,created_at,geo,in_reply_to_user_id,lang,public_metrics,source"

// Config holds all configuration for the application
type Config struct {
	Storage    StorageConfig
	Twitter    TwitterConfig
	Annotation AnnotationConfig
	Ingestion  IngestionConfig
	Server     ServerConfig
	LogLevel   string
}

// StorageConfig holds storage-related configuration
type StorageConfig struct {
	Type          string // "dynamodb", "mongodb", "postgresql"
	Region        string // For AWS DynamoDB
	PostsTable    string
	HandlesTable  string
	Endpoint      string // Custom endpoint for local testing
	MongoDBURI    string
	MongoDatabase string
	PostgresURI   string
}

// TwitterConfig holds configuration of the upstream posts API
type TwitterConfig struct {
	BaseURL           string
	BearerToken       string
	Fields            []string
	PageSize          int
	Timeout           time.Duration
	RequestsPerWindow int
	RateWindow        time.Duration
}

// AnnotationConfig holds configuration of the NLP annotation service
type AnnotationConfig struct {
	BaseURL     string
	APIKey      string
	AccessToken string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

// IngestionConfig holds ingestion-related configuration
type IngestionConfig struct {
	PageDelay         time.Duration
	ErrorDelay        time.Duration
	MaxPageAttempts   int
	FailurePolicy     string
	CheckpointEnabled bool
	Schedule          string
	Timezone          string
	RunTimeout        time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// LoadEnv overloads the process environment with local .env files when present
func LoadEnv(logger *logrus.Logger) {
	for _, file := range []string{".env", ".env.local"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			if logger != nil {
				logger.WithError(err).Warnf("Failed to load %s", file)
			}
			continue
		}
		if logger != nil {
			logger.Debugf("Loaded env file %s", file)
		}
	}
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			Type:          getEnv("STORAGE_TYPE", "dynamodb"),
			Region:        getEnv("AWS_REGION", "us-west-2"),
			PostsTable:    getEnv("POSTS_TABLE", "tb-tweets"),
			HandlesTable:  getEnv("HANDLES_TABLE", "tb-handles"),
			Endpoint:      getEnv("DYNAMODB_ENDPOINT", ""), // For local DynamoDB
			MongoDBURI:    getEnv("MONGODB_URI", ""),
			MongoDatabase: getEnv("MONGODB_DATABASE", "tweets"),
			PostgresURI:   getEnv("POSTGRES_URI", ""),
		},
		Twitter: TwitterConfig{
			BaseURL:           getEnv("TWITTER_API_BASE", "https://api.twitter.com"),
			BearerToken:       getEnv("BEARER_TOKEN", ""),
			Fields:            getEnvList("TWEET_FIELDS", DefaultTweetFields),
			PageSize:          getEnvInt("PAGE_SIZE", 100),
			Timeout:           getEnvDuration("API_TIMEOUT", 30*time.Second),
			RequestsPerWindow: getEnvInt("API_REQUESTS_PER_WINDOW", 0),
			RateWindow:        getEnvDuration("API_RATE_WINDOW", 15*time.Minute),
		},
		Annotation: AnnotationConfig{
			BaseURL:     getEnv("NLP_API_BASE", "https://language.googleapis.com/v1"),
			APIKey:      getEnv("NLP_API_KEY", ""),
			AccessToken: getEnv("NLP_ACCESS_TOKEN", ""),
			Timeout:     getEnvDuration("NLP_TIMEOUT", 30*time.Second),
			MaxAttempts: getEnvInt("NLP_MAX_ATTEMPTS", 3),
			RetryDelay:  getEnvDuration("NLP_RETRY_DELAY", 0),
		},
		Ingestion: IngestionConfig{
			PageDelay:         getEnvDuration("PAGE_DELAY", 10*time.Second),
			ErrorDelay:        getEnvDuration("ERROR_DELAY", time.Minute),
			MaxPageAttempts:   getEnvInt("MAX_PAGE_ATTEMPTS", 0),
			FailurePolicy:     getEnv("ANNOTATION_FAILURE_POLICY", FailurePolicyRetryPage),
			CheckpointEnabled: getEnvBool("CHECKPOINT_ENABLED", false),
			Schedule:          getEnv("INGESTION_SCHEDULE", "0 */6 * * *"),
			Timezone:          getEnv("SCHEDULE_TIMEZONE", "UTC"),
			RunTimeout:        getEnvDuration("RUN_TIMEOUT", 6*time.Hour),
		},
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configuration values the service cannot run with
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "dynamodb", "mongodb", "postgresql":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	if c.Twitter.PageSize < 5 || c.Twitter.PageSize > 100 {
		return fmt.Errorf("PAGE_SIZE must be between 5 and 100, got %d", c.Twitter.PageSize)
	}
	if len(c.Twitter.Fields) == 0 {
		return fmt.Errorf("TWEET_FIELDS must not be empty")
	}
	if c.Annotation.MaxAttempts < 1 {
		return fmt.Errorf("NLP_MAX_ATTEMPTS must be at least 1, got %d", c.Annotation.MaxAttempts)
	}
	if c.Ingestion.MaxPageAttempts < 0 {
		return fmt.Errorf("MAX_PAGE_ATTEMPTS must not be negative, got %d", c.Ingestion.MaxPageAttempts)
	}
	switch c.Ingestion.FailurePolicy {
	case FailurePolicyRetryPage, FailurePolicySkipPost, FailurePolicyStoreUnannotated:
	default:
		return fmt.Errorf("unknown ANNOTATION_FAILURE_POLICY: %s", c.Ingestion.FailurePolicy)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
