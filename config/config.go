package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Environment string
	LogLevel    string

	DatabaseURL string
	QueueTable  string

	BatchSize    int
	WorkerCount  int
	PollInterval time.Duration
	MaxAttempts  int

	FetchTimeout      time.Duration
	TranscribeTimeout time.Duration
	SummarizeTimeout  time.Duration
	UploadTimeout     time.Duration
	RegisterTimeout   time.Duration
	StoreTimeout      time.Duration

	FFmpegPath      string
	WhisperPath     string
	WhisperModel    string
	WhisperLanguage string

	LLMGatewayURL string
	LLMAPIKey     string
	LLMModel      string

	S3Bucket       string
	S3Region       string
	AWSS3AccessKey string
	AWSS3SecretKey string
	S3Endpoint     string
	S3UsePathStyle bool
	S3KeyPrefix    string
	S3PublicURL    string

	RegistrationURL   string
	RegistrationToken string
	WorkspaceID       string
	OrgID             string
	BoardID           string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	StatusTTL     time.Duration
	LockTTL       time.Duration

	NATSURL           string
	NATSSubjectPrefix string

	ReportPath string
}

func Load() (*Config, error) {
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_DATABASE", "presto")
	dbUser := getEnv("DB_USERNAME", "presto")
	dbPassword := getEnv("DB_PASSWORD", "")
	dbSSLMode := getEnv("DB_SSLMODE", "disable")
	dbSSLCert := getEnv("DB_SSLCERT", "")
	dbSSLKey := getEnv("DB_SSLKEY", "")
	dbSSLRootCert := getEnv("DB_SSLROOTCERT", "")

	// lib/pq supports "key=value" connection strings and this avoids
	// URI escaping issues for special characters in passwords.
	var dbURL string
	if dbPassword != "" {
		dbURL = fmt.Sprintf(
			"host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
			dbHost, dbPort, dbName, dbUser, dbPassword, dbSSLMode,
		)
	} else {
		dbURL = fmt.Sprintf(
			"host=%s port=%s dbname=%s user=%s sslmode=%s",
			dbHost, dbPort, dbName, dbUser, dbSSLMode,
		)
	}
	if dbSSLCert != "" {
		dbURL += fmt.Sprintf(" sslcert=%s", dbSSLCert)
	}
	if dbSSLKey != "" {
		dbURL += fmt.Sprintf(" sslkey=%s", dbSSLKey)
	}
	if dbSSLRootCert != "" {
		dbURL += fmt.Sprintf(" sslrootcert=%s", dbSSLRootCert)
	}

	var errs []error
	seconds := func(key string, fallback int) time.Duration {
		v, err := getEnvSeconds(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "local"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DatabaseURL: dbURL,
		QueueTable:  getEnv("QUEUE_TABLE", "audio_conversion_data"),

		BatchSize:    getEnvInt("BATCH_SIZE", 10),
		WorkerCount:  getEnvInt("WORKER_COUNT", 1),
		PollInterval: seconds("POLL_INTERVAL", 0),
		MaxAttempts:  getEnvInt("MAX_ATTEMPTS", 0),

		FetchTimeout:      seconds("FETCH_TIMEOUT", 60),
		TranscribeTimeout: seconds("TRANSCRIBE_TIMEOUT", 900),
		SummarizeTimeout:  seconds("SUMMARIZE_TIMEOUT", 120),
		UploadTimeout:     seconds("UPLOAD_TIMEOUT", 60),
		RegisterTimeout:   seconds("REGISTER_TIMEOUT", 30),
		StoreTimeout:      seconds("STORE_TIMEOUT", 10),

		FFmpegPath:      getEnv("FFMPEG_PATH", "ffmpeg"),
		WhisperPath:     getEnv("WHISPER_PATH", "whisper-cli"),
		WhisperModel:    getEnv("WHISPER_MODEL", ""),
		WhisperLanguage: getEnv("WHISPER_LANGUAGE", "auto"),

		LLMGatewayURL: getEnv("LLM_GATEWAY_URL", ""),
		LLMAPIKey:     getEnv("LLM_API_KEY", ""),
		LLMModel:      getEnv("LLM_MODEL", "gemini-1.5-flash"),

		S3Bucket: getEnv("AWS_BUCKET", "presto-transcriptions"),
		// Prefer unified S3_* vars, fall back to legacy AWS_* vars for compatibility
		S3Region:       getEnvWithFallback("S3_REGION", "AWS_DEFAULT_REGION", "us-east-1"),
		AWSS3AccessKey: getEnvWithFallback("S3_KEY", "AWS_ACCESS_KEY_ID", ""),
		AWSS3SecretKey: getEnvWithFallback("S3_SECRET", "AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3UsePathStyle: getEnvBool("S3_USE_PATH_STYLE_ENDPOINT", false),
		S3KeyPrefix:    getEnv("S3_KEY_PREFIX", "transcriptions/"),
		S3PublicURL:    getEnv("S3_PUBLIC_URL", ""),

		RegistrationURL:   getEnv("REGISTRATION_URL", ""),
		RegistrationToken: getEnv("REGISTRATION_TOKEN", ""),
		WorkspaceID:       getEnv("WORKSPACE_ID", ""),
		OrgID:             getEnv("ORG_ID", ""),
		BoardID:           getEnv("BOARD_ID", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", ""),
		StatusTTL:     seconds("STATUS_TTL", 86400),
		LockTTL:       seconds("LOCK_TTL", 1800),

		NATSURL:           getEnv("NATS_URL", ""),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "audio.conversion"),

		ReportPath: getEnv("REPORT_PATH", ""),
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error
	required := map[string]string{
		"WHISPER_MODEL":      c.WhisperModel,
		"LLM_GATEWAY_URL":    c.LLMGatewayURL,
		"LLM_API_KEY":        c.LLMAPIKey,
		"REGISTRATION_URL":   c.RegistrationURL,
		"REGISTRATION_TOKEN": c.RegistrationToken,
		"WORKSPACE_ID":       c.WorkspaceID,
		"ORG_ID":             c.OrgID,
		"BOARD_ID":           c.BoardID,
	}
	for _, key := range []string{
		"WHISPER_MODEL", "LLM_GATEWAY_URL", "LLM_API_KEY",
		"REGISTRATION_URL", "REGISTRATION_TOKEN", "WORKSPACE_ID", "ORG_ID", "BOARD_ID",
	} {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize))
	}
	if c.WorkerCount <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount))
	}
	if c.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("MAX_ATTEMPTS must not be negative, got %d", c.MaxAttempts))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvWithFallback(primaryKey, secondaryKey, fallback string) string {
	if value := os.Getenv(primaryKey); value != "" {
		return value
	}
	if value := os.Getenv(secondaryKey); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return time.Duration(fallback) * time.Second, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative number of seconds, got %q", key, value)
	}
	return time.Duration(n) * time.Second, nil
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
