package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"etf_dashboard/logger"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	JWTSecret string
	JWTTTL    time.Duration

	AlphaVantageAPIKey string
	FMPAPIKey          string
	ProviderOrder      []string

	QuoteCacheTTL   time.Duration
	HistoryCacheTTL time.Duration
	ProfileCacheTTL time.Duration

	MongoDBURI     string
	ETFCatalogPath string

	WSPollInterval        time.Duration
	MaxWSClients          int
	MaxRunningSimulations int

	APIRateLimitRPS   float64
	APIRateLimitBurst int
}

var AppConfig *Config
var DB *gorm.DB
var Redis *redis.Client

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "etf_dashboard"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JWTSecret: getEnv("JWT_SECRET", "change-me"),
		JWTTTL:    time.Duration(getEnvInt("JWT_TTL_HOURS", 24)) * time.Hour,

		AlphaVantageAPIKey: getEnv("ALPHAVANTAGE_API_KEY", ""),
		FMPAPIKey:          getEnv("FMP_API_KEY", ""),
		ProviderOrder:      splitList(getEnv("PROVIDER_ORDER", "yahoo,alphavantage,fmp")),

		QuoteCacheTTL:   time.Duration(getEnvInt("QUOTE_CACHE_TTL_SECONDS", 60)) * time.Second,
		HistoryCacheTTL: time.Duration(getEnvInt("HISTORY_CACHE_TTL_SECONDS", 3600)) * time.Second,
		ProfileCacheTTL: time.Duration(getEnvInt("PROFILE_CACHE_TTL_SECONDS", 86400)) * time.Second,

		MongoDBURI:     getEnv("MONGODB_URI", ""),
		ETFCatalogPath: getEnv("ETF_CATALOG_PATH", "config/etfs.yaml"),

		WSPollInterval:        time.Duration(getEnvInt("WS_POLL_SECONDS", 15)) * time.Second,
		MaxWSClients:          getEnvInt("MAX_WS_CLIENTS", 100),
		MaxRunningSimulations: getEnvInt("MAX_RUNNING_SIMULATIONS", 20),

		APIRateLimitRPS:   getEnvFloat("API_RATE_LIMIT_RPS", 10),
		APIRateLimitBurst: getEnvInt("API_RATE_LIMIT_BURST", 20),
	}

	if err := config.Validate(); err != nil {
		return config, err
	}

	AppConfig = config
	return config, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if c.Environment == "production" && (c.JWTSecret == "" || c.JWTSecret == "change-me") {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if len(c.ProviderOrder) == 0 {
		return fmt.Errorf("PROVIDER_ORDER must name at least one provider")
	}
	if c.QuoteCacheTTL <= 0 || c.HistoryCacheTTL <= 0 || c.ProfileCacheTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.WSPollInterval < time.Second {
		return fmt.Errorf("WS_POLL_SECONDS must be at least 1")
	}
	if c.MaxRunningSimulations <= 0 {
		return fmt.Errorf("MAX_RUNNING_SIMULATIONS must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DSN builds the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.DBHost,
		c.DBUser,
		c.DBPassword,
		c.DBName,
		c.DBPort,
		c.DBSSLMode,
	)
}

// InitDB initializes database connection
func InitDB() (*gorm.DB, error) {
	log := logger.With("config")
	log.Info().
		Str("host", maskHost(AppConfig.DBHost)).
		Str("port", AppConfig.DBPort).
		Str("user", AppConfig.DBUser).
		Str("dbname", AppConfig.DBName).
		Msg("Connecting to database")

	logLevel := gormlogger.Warn
	if AppConfig.IsProduction() {
		logLevel = gormlogger.Error
	}

	db, err := gorm.Open(postgres.Open(AppConfig.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info().Msg("Database connection verified")
	DB = db
	return db, nil
}

// InitRedis connects to Redis. A failed ping returns an error and leaves
// Redis nil so callers can fall back to the in-memory cache.
func InitRedis(ctx context.Context) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         AppConfig.RedisHost + ":" + AppConfig.RedisPort,
		Password:     AppConfig.RedisPassword,
		DB:           AppConfig.RedisDB,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	Redis = client
	return client, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
