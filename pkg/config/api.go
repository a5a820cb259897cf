package config

import "time"

// Supported values for APIConfig.StoreDriver.
const (
	StoreDriverPostgres  = "postgres"
	StoreDriverFirestore = "firestore"
	StoreDriverMemory    = "memory"
)

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	LogLevel           string
	StoreDriver        string
	DatabaseURL        string
	MigrationsDir      string
	FirestoreProjectID string
	JWTSecret          string
	TokenTTL           time.Duration
	GeneratorURL       string
	GeneratorAPIKey    string
	GeneratorTimeout   time.Duration
	GeneratorRPS       int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	CORSAllowedOrigins []string
}

// LoadAPIConfig constructs an APIConfig from environment variables layered
// over the YAML file named by RECIPEBOX_CONFIG, if any.
func LoadAPIConfig() (APIConfig, error) {
	src, err := NewSource(GetString("RECIPEBOX_CONFIG", ""))
	if err != nil {
		return APIConfig{}, err
	}
	return LoadAPIConfigFrom(src), nil
}

// LoadAPIConfigFrom constructs an APIConfig from the given source.
func LoadAPIConfigFrom(src Source) APIConfig {
	return APIConfig{
		Environment:        src.String("APP_ENV", "development"),
		Addr:               src.String("API_ADDR", ":3000"),
		LogLevel:           src.String("LOG_LEVEL", "info"),
		StoreDriver:        src.String("STORE_DRIVER", StoreDriverPostgres),
		DatabaseURL:        src.String("DATABASE_URL", "postgres://recipebox:recipebox@db:5432/recipebox?sslmode=disable"),
		MigrationsDir:      src.String("DB_MIGRATIONS_DIR", "db/migrations"),
		FirestoreProjectID: src.String("FIRESTORE_PROJECT_ID", ""),
		JWTSecret:          src.String("JWT_SECRET", "supersecuresecret"),
		TokenTTL:           time.Duration(src.Int("TOKEN_TTL_HOURS", 24)) * time.Hour,
		GeneratorURL:       src.String("GENERATOR_URL", ""),
		GeneratorAPIKey:    src.String("GENERATOR_API_KEY", ""),
		GeneratorTimeout:   time.Duration(src.Int("GENERATOR_TIMEOUT_SECONDS", 10)) * time.Second,
		GeneratorRPS:       src.Int("GENERATOR_RPS", 5),
		RateLimitRedisAddr: src.String("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: src.String("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   src.Int("RATE_LIMIT_REDIS_DB", 0),
		CORSAllowedOrigins: src.List("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}
}
