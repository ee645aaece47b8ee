package config

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Duration wraps time.Duration to support JSON marshaling/unmarshaling.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}

const (
	EnvProduction     = "production"
	EnvStaging        = "staging"
	EnvDevelopment    = "development"
	EnvVarEnvironment = "ENVIRONMENT"
)

// Config is the shared configuration surface loaded by all three binaries.
// Each binary reads only the sections it needs.
type Config struct {
	Port      string         `json:"port"`
	Database  DatabaseConfig `json:"database"`
	Log       LogConfig      `json:"log"`
	Redis     RedisConfig    `json:"redis"`
	CORS      CORSConfig     `json:"cors"`
	Storage   StorageConfig  `json:"storage"`
	MAL       MALConfig      `json:"mal"`
	Matching  MatchingConfig `json:"matching"`
	Archival  ArchivalConfig `json:"archival"`
	Providers []string       `json:"providers"`
}

type DatabaseConfig struct {
	Name            string   `mapstructure:"db_name"`
	Host            string   `mapstructure:"db_host"`
	Port            string   `mapstructure:"db_port"`
	Username        string   `mapstructure:"db_username"`
	Password        string   `mapstructure:"db_password"`
	Database        string   `mapstructure:"db_database"`
	MaxOpenConns    int      `mapstructure:"db_max_open_conns"`
	MaxIdleConns    int      `mapstructure:"db_max_idle_conns"`
	ConnMaxLifetime Duration `mapstructure:"db_conn_max_lifetime"`
	SSLMode         string   `mapstructure:"db_ssl_mode"`
}

type LogConfig struct {
	Level  string `mapstructure:"log_level"`
	Format string `mapstructure:"log_format"`
}

type RedisConfig struct {
	Host     string `mapstructure:"redis_host"`
	Port     string `mapstructure:"redis_port"`
	Password string `mapstructure:"redis_password"`
	DB       int    `mapstructure:"redis_db"`
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// StorageAccountConfig is one archival upload target. One or more accounts
// may be configured simultaneously so a single archived file can be pushed
// to more than one backend for redundancy.
type StorageAccountConfig struct {
	Name     string // logical label, recorded as the video store's repo_id
	Provider string // "minio" | "gcs" | "local"
	MinIO    MinIOConfig
	GCS      GCSConfig
	Local    LocalConfig
}

type MinIOConfig struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
	PublicEndpoint string
}

type GCSConfig struct {
	Bucket string
}

type LocalConfig struct {
	BasePath string
	BaseURL  string
}

type StorageConfig struct {
	Accounts []StorageAccountConfig
	// Namespace prefixes every archival object path: <namespace>-<mal_id>/...
	Namespace string
}

// MALConfig configures the throttled MyAnimeList/Jikan client (C3).
type MALConfig struct {
	BaseURL        string
	ThrottleMillis int
	RequestTimeout time.Duration
}

// MatchingConfig holds the cross-cutting acceptance thresholds the resolver
// and catalogue matching code reference by name.
type MatchingConfig struct {
	PHashHammingThreshold int
	TitleSimilarity       float64
	EpisodeTolerance      int
	ScrapeCacheTTL        time.Duration
}

// ArchivalConfig configures the enqueue/webhook/proxy wiring shared by C7/C9/C10.
type ArchivalConfig struct {
	Salt              string
	WorkerBaseURL     string
	ProxyBaseURL      string
	APIBaseURL        string // service-api base, used for the worker's post-commit cache-invalidation ping
	WebhookTimeout    time.Duration
	WorkerConcurrency int
	PollInterval      time.Duration
	ClaimBatch        int
}

func init() {
	if os.Getenv(EnvVarEnvironment) != EnvProduction {
		if err := godotenv.Load(); err != nil {
			log.Println("Warning: Could not find or load .env file.")
		}
	}
}

// NewConfig loads configuration from the process environment. All three
// binaries (service-api, service-worker, service-proxy) call this first,
// during startup wiring.
func NewConfig() *Config {
	environment := os.Getenv(EnvVarEnvironment)
	if environment == "" {
		environment = EnvDevelopment
	}
	log.Printf("loading configuration from environment variables for %s environment", environment)
	return loadFromEnvironment()
}

func loadFromEnvironment() *Config {
	return &Config{
		Port: getOptionalSecret("PORT", "8080"),
		Database: DatabaseConfig{
			Name:            getRequiredSecret("DB_NAME"),
			Host:            getRequiredSecret("DB_HOST"),
			Port:            getOptionalSecret("DB_PORT", "5432"),
			Username:        getRequiredSecret("DB_USERNAME"),
			Password:        getRequiredSecret("DB_PASSWORD"),
			Database:        getRequiredSecret("DB_DATABASE"),
			MaxOpenConns:    parseOptionalInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    parseOptionalInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: Duration(parseOptionalDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)),
			SSLMode:         getOptionalSecret("DB_SSL_MODE", "disable"),
		},
		Log: LogConfig{
			Level:  getOptionalSecret("LOG_LEVEL", "info"),
			Format: getOptionalSecret("LOG_FORMAT", "console"),
		},
		Redis: RedisConfig{
			Host:     getOptionalSecret("REDIS_HOST", "localhost"),
			Port:     getOptionalSecret("REDIS_PORT", "6379"),
			Password: getOptionalSecret("REDIS_PASSWORD", ""),
			DB:       parseOptionalInt("REDIS_DB", 0),
		},
		CORS: CORSConfig{
			AllowedOrigins: parseOptionalStringSlice("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: parseOptionalStringSlice("CORS_ALLOWED_METHODS", "GET,POST,HEAD,OPTIONS"),
			AllowedHeaders: parseOptionalStringSlice("CORS_ALLOWED_HEADERS", "Content-Type,Authorization,Range"),
		},
		Storage: loadStorageConfig(),
		MAL: MALConfig{
			BaseURL:        getOptionalSecret("MAL_BASE_URL", "https://api.jikan.moe/v4"),
			ThrottleMillis: parseOptionalInt("MAL_THROTTLE_MS", 400),
			RequestTimeout: parseOptionalDuration("MAL_REQUEST_TIMEOUT", 10*time.Second),
		},
		Matching: MatchingConfig{
			PHashHammingThreshold: parseOptionalInt("PHASH_HAMMING_THRESHOLD", 5),
			TitleSimilarity:       parseOptionalFloat("TITLE_SIMILARITY_THRESHOLD", 0.85),
			EpisodeTolerance:      parseOptionalInt("EPISODE_TOLERANCE", 2),
			ScrapeCacheTTL:        parseOptionalDuration("SCRAPE_CACHE_TTL", 20*time.Minute),
		},
		Archival: ArchivalConfig{
			Salt:              getOptionalSecret("ARCHIVAL_SALT", "dev-archival-salt"),
			WorkerBaseURL:     getOptionalSecret("ARCHIVAL_WORKER_BASE_URL", "http://localhost:8090"),
			ProxyBaseURL:      getOptionalSecret("STREAM_PROXY_BASE_URL", "http://localhost:8091"),
			APIBaseURL:        getOptionalSecret("API_BASE_URL", "http://localhost:8080"),
			WebhookTimeout:    parseOptionalDuration("ARCHIVAL_WEBHOOK_TIMEOUT", 5*time.Second),
			WorkerConcurrency: parseOptionalInt("ARCHIVAL_WORKER_CONCURRENCY", 2),
			PollInterval:      parseOptionalDuration("ARCHIVAL_POLL_INTERVAL", 10*time.Second),
			ClaimBatch:        parseOptionalInt("ARCHIVAL_CLAIM_BATCH", 2),
		},
		Providers: parseOptionalStringSlice("PROVIDERS", "animasu,samehadaku"),
	}
}

func loadStorageConfig() StorageConfig {
	namespace := getOptionalSecret("STORAGE_NAMESPACE", "anisource")

	accounts := []StorageAccountConfig{
		{
			Name:     getOptionalSecret("MINIO_ACCOUNT_NAME", "minio-primary"),
			Provider: "minio",
			MinIO: MinIOConfig{
				Endpoint:       getOptionalSecret("MINIO_ENDPOINT", "localhost:9000"),
				AccessKey:      getOptionalSecret("MINIO_ACCESS_KEY", "minioadmin"),
				SecretKey:      getOptionalSecret("MINIO_SECRET_KEY", "minioadmin"),
				Bucket:         getOptionalSecret("MINIO_BUCKET", "anisource-archive"),
				UseSSL:         parseBool("MINIO_USE_SSL"),
				PublicEndpoint: getOptionalSecret("MINIO_PUBLIC_ENDPOINT", ""),
			},
		},
	}

	if gcsBucket := getOptionalSecret("GCS_BUCKET", ""); gcsBucket != "" {
		accounts = append(accounts, StorageAccountConfig{
			Name:     getOptionalSecret("GCS_ACCOUNT_NAME", "gcs-secondary"),
			Provider: "gcs",
			GCS:      GCSConfig{Bucket: gcsBucket},
		})
	}

	if getOptionalSecret("STORAGE_ENABLE_LOCAL_FALLBACK", "false") == "true" {
		accounts = append(accounts, StorageAccountConfig{
			Name:     "local-dev",
			Provider: "local",
			Local: LocalConfig{
				BasePath: getOptionalSecret("LOCAL_STORAGE_PATH", "/tmp/anisource-archive"),
				BaseURL:  getOptionalSecret("LOCAL_STORAGE_BASE_URL", "http://localhost:8080/archive"),
			},
		})
	}

	return StorageConfig{Accounts: accounts, Namespace: namespace}
}
