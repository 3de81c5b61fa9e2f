package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
	}

	// Database configuration
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	// Redis cache configuration (look-aside cache for board records)
	Redis struct {
		Enabled   bool
		Addr      string
		Password  string
		DB        int
		RecordTTL time.Duration
	}

	// In-process cache used for the look-aside tier when Redis is disabled
	Cache struct {
		MaxEntries    int
		PurgeInterval time.Duration
	}

	// LLM backend configuration
	LLM struct {
		Backend       string // "ollama" or "openai"
		OllamaURL     string
		OpenAIKey     string
		Model         string
		EmbedModel    string
		Temperature   float64
		TopP          float64
		TopK          int
		RepeatPenalty float64
		Timeout       time.Duration
		StreamTimeout time.Duration
	}

	// Vector store configuration
	VectorStore struct {
		Host           string
		Scheme         string
		ClassName      string
		TopK           int
		ScoreThreshold float64
	}

	// Board API configuration (KBOCWWB upstream)
	BoardAPI struct {
		BaseURL       string
		Timeout       time.Duration
		RatePerSecond float64
		Burst         int
	}

	// Rate limiting (inbound admission control)
	RateLimit struct {
		Window         time.Duration
		MaxRequests    int
		ReadMultiplier int
		MaxClients     int
		SweepEvery     int
	}

	// Chat behaviour
	Chat struct {
		HistoryWindow     int
		HistoryWindowAuth int
		MaxMessageChars   int
		MaxAnswerChars    int
		MaxThreadLocks    int
		ListDefaultLimit  int
		ListMaxLimit      int
	}

	// Retention sweeps
	Retention struct {
		Enabled        bool
		MessageAge     time.Duration
		RecordCacheAge time.Duration
		SweepInterval  time.Duration
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Observability configuration
	Observability struct {
		Enabled     bool
		MetricsPort string
	}

	// Request validation
	Validation struct {
		OpenAPIEnabled bool
		SpecPath       string
	}

	// Security configuration
	Security struct {
		AllowedOrigins []string
		TrustedProxies []string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()

		instance = &Config{}

		// Server config
		instance.Server.Port = getEnvString("PORT", "8080")
		instance.Server.Env = getEnvString("APP_ENV", "development")
		instance.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)

		// Database config
		instance.Database.Host = getEnvString("DB_HOST", "localhost")
		instance.Database.Port = getEnvString("DB_PORT", "5432")
		instance.Database.User = getEnvString("DB_USER", "postgres")
		instance.Database.Password = getEnvString("DB_PASSWORD", "postgres")
		instance.Database.Name = getEnvString("DB_NAME", "karmika-sahayak")
		instance.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
		instance.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
		instance.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

		// Redis config
		instance.Redis.Enabled = getEnvBool("REDIS_ENABLED", false)
		instance.Redis.Addr = getEnvString("REDIS_ADDR", "localhost:6379")
		instance.Redis.Password = getEnvString("REDIS_PASSWORD", "")
		instance.Redis.DB = getEnvInt("REDIS_DB", 0)
		instance.Redis.RecordTTL = getEnvDuration("REDIS_RECORD_TTL", 10*time.Minute)

		// In-process cache config
		instance.Cache.MaxEntries = getEnvInt("CACHE_MAX_ENTRIES", 10000)
		instance.Cache.PurgeInterval = getEnvDuration("CACHE_PURGE_INTERVAL", 5*time.Minute)

		// LLM config
		instance.LLM.Backend = getEnvString("LLM_BACKEND", "ollama")
		instance.LLM.OllamaURL = getEnvString("OLLAMA_URL", "http://localhost:11434")
		instance.LLM.OpenAIKey = getEnvString("OPENAI_API_KEY", "")
		instance.LLM.Model = getEnvString("LLM_MODEL", "devstral:24b")
		instance.LLM.EmbedModel = getEnvString("EMBED_MODEL", "nomic-embed-text")
		instance.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", 0.3)
		instance.LLM.TopP = getEnvFloat("LLM_TOP_P", 0.9)
		instance.LLM.TopK = getEnvInt("LLM_TOP_K", 40)
		instance.LLM.RepeatPenalty = getEnvFloat("LLM_REPEAT_PENALTY", 1.1)
		instance.LLM.Timeout = getEnvDuration("LLM_TIMEOUT", 120*time.Second)
		instance.LLM.StreamTimeout = getEnvDuration("LLM_STREAM_TIMEOUT", 300*time.Second)

		// Vector store config
		instance.VectorStore.Host = getEnvString("WEAVIATE_HOST", "localhost:8090")
		instance.VectorStore.Scheme = getEnvString("WEAVIATE_SCHEME", "http")
		instance.VectorStore.ClassName = getEnvString("WEAVIATE_CLASS", "KskDocs")
		instance.VectorStore.TopK = getEnvInt("RETRIEVAL_TOP_K", 5)
		instance.VectorStore.ScoreThreshold = getEnvFloat("RETRIEVAL_SCORE_THRESHOLD", 0.35)

		// Board API config
		instance.BoardAPI.BaseURL = getEnvString("BOARD_API_URL", "")
		instance.BoardAPI.Timeout = getEnvDuration("BOARD_API_TIMEOUT", 10*time.Second)
		instance.BoardAPI.RatePerSecond = getEnvFloat("BOARD_API_RATE", 5)
		instance.BoardAPI.Burst = getEnvInt("BOARD_API_BURST", 10)

		// Rate limit config
		instance.RateLimit.Window = getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second)
		instance.RateLimit.MaxRequests = getEnvInt("RATE_LIMIT_MAX_REQUESTS", 30)
		instance.RateLimit.ReadMultiplier = getEnvInt("RATE_LIMIT_READ_MULTIPLIER", 3)
		instance.RateLimit.MaxClients = getEnvInt("RATE_LIMIT_MAX_CLIENTS", 10000)
		instance.RateLimit.SweepEvery = getEnvInt("RATE_LIMIT_SWEEP_EVERY", 256)

		// Chat config
		instance.Chat.HistoryWindow = getEnvInt("HISTORY_WINDOW", 6)
		instance.Chat.HistoryWindowAuth = getEnvInt("MAX_HISTORY_MESSAGES", 10)
		instance.Chat.MaxMessageChars = getEnvInt("MAX_MESSAGE_CHARS", 10000)
		instance.Chat.MaxAnswerChars = getEnvInt("MAX_ANSWER_CHARS", 4000)
		instance.Chat.MaxThreadLocks = getEnvInt("MAX_THREAD_LOCKS", 10000)
		instance.Chat.ListDefaultLimit = getEnvInt("LIST_DEFAULT_LIMIT", 50)
		instance.Chat.ListMaxLimit = getEnvInt("LIST_MAX_LIMIT", 200)

		// Retention config
		instance.Retention.Enabled = getEnvBool("RETENTION_ENABLED", true)
		instance.Retention.MessageAge = getEnvDuration("MESSAGE_RETENTION", 30*24*time.Hour)
		instance.Retention.RecordCacheAge = getEnvDuration("RECORD_CACHE_RETENTION", 7*24*time.Hour)
		instance.Retention.SweepInterval = getEnvDuration("RETENTION_SWEEP_INTERVAL", 6*time.Hour)

		// Logging config
		instance.Logging.Level = getEnvString("LOG_LEVEL", "info")
		instance.Logging.Format = getEnvString("LOG_FORMAT", "json")

		// Observability config
		instance.Observability.Enabled = getEnvBool("OBSERVABILITY_ENABLED", true)
		instance.Observability.MetricsPort = getEnvString("METRICS_PORT", "2112")

		// Validation config
		instance.Validation.OpenAPIEnabled = getEnvBool("OPENAPI_VALIDATION", false)
		instance.Validation.SpecPath = getEnvString("OPENAPI_SPEC_PATH", "api/openapi.yaml")

		// Security config
		instance.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
		instance.Security.TrustedProxies = getEnvStringSlice("TRUSTED_PROXIES", []string{"127.0.0.1"})
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
