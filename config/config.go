package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Storage   StorageConfig   `json:"storage"`
	Qdrant    QdrantConfig    `json:"qdrant"`
	OpenAI    OpenAIConfig    `json:"openai"`
	Auth      AuthConfig      `json:"auth"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Sessions  SessionConfig   `json:"sessions"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Access    AccessConfig    `json:"access"`
}

type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ReadTimeout    int      `json:"read_timeout"`
	WriteTimeout   int      `json:"write_timeout"`
	IdleTimeout    int      `json:"idle_timeout"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	SSLMode      string `json:"ssl_mode"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxLifetime  int    `json:"max_lifetime"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Enabled  bool   `json:"enabled"`
}

// StorageConfig holds configuration for the MinIO object store that keeps
// the original uploaded files.
type StorageConfig struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	UseSSL    bool   `json:"use_ssl"`
}

// QdrantConfig holds configuration for the Qdrant vector store.
type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	APIKey     string `json:"api_key"`
	UseTLS     bool   `json:"use_tls"`
	Collection string `json:"collection"`
}

// OpenAIConfig holds configuration for embeddings, generation and image analysis.
type OpenAIConfig struct {
	APIKey             string  `json:"api_key"`
	Model              string  `json:"model"`
	Temperature        float64 `json:"temperature"`
	MaxTokens          int     `json:"max_tokens"`
	EmbeddingModel     string  `json:"embedding_model"`
	EmbeddingDimension int     `json:"embedding_dimension"`
	EmbeddingBatchSize int     `json:"embedding_batch_size"`
	RequestTimeout     int     `json:"request_timeout"`
}

type AuthConfig struct {
	JWTSecret      string   `json:"jwt_secret"`
	AllowedIssuers []string `json:"allowed_issuers"`
}

// PipelineConfig holds the document ingestion limits.
type PipelineConfig struct {
	ChunkSize            int      `json:"chunk_size"`
	ChunkOverlap         int      `json:"chunk_overlap"`
	MaxChunksPerDocument int      `json:"max_chunks_per_document"`
	MaxBlockLength       int      `json:"max_block_length"`
	MaxFileSize          int64    `json:"max_file_size"`
	SupportedExtensions  []string `json:"supported_extensions"`
}

type RetrievalConfig struct {
	DefaultSearchLimit    int     `json:"default_search_limit"`
	DefaultScoreThreshold float64 `json:"default_score_threshold"`
	MaxContextSize        int     `json:"max_context_size"`
}

type SessionConfig struct {
	TimeoutMinutes     int `json:"timeout_minutes"`
	MaxSessionsPerUser int `json:"max_sessions_per_user"`
	RetentionDays      int `json:"retention_days"`
}

type RateLimitConfig struct {
	Enabled         bool `json:"enabled"`
	RequestsPerHour int  `json:"requests_per_hour"`
}

// AccessConfig carries the tenant access matrix. Sections lists every known
// section; DetailedAccess maps access level -> section -> none|read_only|full.
// RelaxedRead opens read access to all sections for every level while leaving
// upload/delete rights governed by the matrix.
type AccessConfig struct {
	Sections       []string                     `json:"sections"`
	DetailedAccess map[string]map[string]string `json:"detailed_access"`
	RelaxedRead    bool                         `json:"relaxed_read"`
}

func LoadConfig() (*Config, error) {
	// Best effort: running without a .env file is fine.
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:    getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvAsInt("SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:    getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "raguser"),
			Password:     getEnv("DB_PASSWORD", ""),
			Name:         getEnv("DB_NAME", "knowledge"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},
		Storage: StorageConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "documents"),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		},
		Qdrant: QdrantConfig{
			Host:       getEnv("QDRANT_HOST", "localhost"),
			Port:       getEnvAsInt("QDRANT_PORT", 6334),
			APIKey:     getEnv("QDRANT_API_KEY", ""),
			UseTLS:     getEnvAsBool("QDRANT_USE_TLS", false),
			Collection: getEnv("QDRANT_COLLECTION", "restaurant_documents"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			Model:              getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
			Temperature:        getEnvAsFloat("OPENAI_TEMPERATURE", 0.7),
			MaxTokens:          getEnvAsInt("OPENAI_MAX_TOKENS", 2000),
			EmbeddingModel:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("EMBEDDING_DIMENSION", 1536),
			EmbeddingBatchSize: getEnvAsInt("EMBEDDING_BATCH_SIZE", 64),
			RequestTimeout:     getEnvAsInt("OPENAI_TIMEOUT", 60),
		},
		Auth: AuthConfig{
			JWTSecret:      getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			AllowedIssuers: getEnvAsSlice("JWT_ALLOWED_ISSUERS", []string{}),
		},
		Pipeline: PipelineConfig{
			ChunkSize:            getEnvAsInt("CHUNK_SIZE", 500),
			ChunkOverlap:         getEnvAsInt("CHUNK_OVERLAP", 50),
			MaxChunksPerDocument: getEnvAsInt("MAX_CHUNKS_PER_DOCUMENT", 200),
			MaxBlockLength:       getEnvAsInt("MAX_BLOCK_LENGTH", 10000),
			MaxFileSize:          getEnvAsInt64("MAX_FILE_SIZE", 10485760),
			SupportedExtensions: getEnvAsSlice("SUPPORTED_EXTENSIONS", []string{
				".txt", ".pdf", ".doc", ".docx",
				".xls", ".xlsx", ".ppt", ".pptx",
				".md", ".markdown", ".csv", ".rtf",
			}),
		},
		Retrieval: RetrievalConfig{
			DefaultSearchLimit:    getEnvAsInt("DEFAULT_SEARCH_LIMIT", 10),
			DefaultScoreThreshold: getEnvAsFloat("DEFAULT_SCORE_THRESHOLD", 0.7),
			MaxContextSize:        getEnvAsInt("MAX_CONTEXT_SIZE", 25),
		},
		Sessions: SessionConfig{
			TimeoutMinutes:     getEnvAsInt("SESSION_TIMEOUT_MINUTES", 60),
			MaxSessionsPerUser: getEnvAsInt("MAX_SESSIONS_PER_USER", 10),
			RetentionDays:      getEnvAsInt("CONVERSATION_RETENTION_DAYS", 30),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getEnvAsBool("ENABLE_RATE_LIMITING", true),
			RequestsPerHour: getEnvAsInt("RATE_LIMIT_PER_HOUR", 1000),
		},
		Access: AccessConfig{
			Sections:       getEnvAsSlice("ACCESS_SECTIONS", []string{"restaurant_ops", "procedures", "standards"}),
			DetailedAccess: defaultDetailedAccess(),
			RelaxedRead:    getEnvAsBool("RELAXED_READ_ACCESS", false),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// defaultDetailedAccess is the tenant matrix: access level -> section -> right.
func defaultDetailedAccess() map[string]map[string]string {
	return map[string]map[string]string{
		"restaurant_management": {
			"restaurant_ops": "full",
			"standards":      "read_only",
			"procedures":     "read_only",
		},
		"kitchen_management": {
			"restaurant_ops": "none",
			"standards":      "full",
			"procedures":     "full",
		},
		"concepts_recipes": {
			"restaurant_ops": "none",
			"standards":      "read_only",
			"procedures":     "full",
		},
	}
}

func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) GetRedisAddress() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func validateConfig(config *Config) error {
	if config.Database.Password == "" {
		return fmt.Errorf("database password is required (DB_PASSWORD)")
	}

	if config.OpenAI.APIKey == "" {
		return fmt.Errorf("OpenAI API key is required (OPENAI_API_KEY)")
	}

	if config.Auth.JWTSecret == "your-secret-key-change-in-production" {
		return fmt.Errorf("JWT secret must be changed from default value (JWT_SECRET)")
	}

	if config.Pipeline.ChunkOverlap >= config.Pipeline.ChunkSize {
		return fmt.Errorf("chunk overlap (%d) must be smaller than chunk size (%d)",
			config.Pipeline.ChunkOverlap, config.Pipeline.ChunkSize)
	}

	if config.OpenAI.EmbeddingDimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive (EMBEDDING_DIMENSION)")
	}

	if t := config.Retrieval.DefaultScoreThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("score threshold must be in (0, 1], got %f", t)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
