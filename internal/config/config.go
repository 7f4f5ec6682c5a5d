package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port        int
	Env         string
	CORSOrigins string
	JWTSecret   string

	RateLimitMax    int
	RateLimitWindow time.Duration

	Redis    RedisConfig
	Database DatabaseConfig
	Mines    MinesConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Host           string
	Port           string
	Name           string
	User           string
	Password       string
	Schema         string
	MigrationsPath string
}

// DSN is the postgres connection URL for the database.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.Schema)
}

type MinesConfig struct {
	GridSize  int
	MaxBet    decimal.Decimal
	HouseEdge decimal.Decimal
}

func Load() (*Config, error) {
	maxBet, err := getEnvAsDecimal("MINES_MAX_BET", decimal.Zero)
	if err != nil {
		return nil, err
	}
	houseEdge, err := getEnvAsDecimal("MINES_HOUSE_EDGE", decimal.Zero)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:            getEnvAsInt("PORT", 8080),
		Env:             getEnv("APP_ENV", "local"),
		CORSOrigins:     getEnv("CORS_ORIGINS", "*"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		RateLimitMax:    getEnvAsInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow: time.Minute,
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_URL", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Host:           getDBEnv("HOST", "localhost"),
			Port:           getDBEnv("PORT", "5432"),
			Name:           getDBEnv("DATABASE", "mines"),
			User:           getDBEnv("USERNAME", "postgres"),
			Password:       getDBEnv("PASSWORD", "postgres"),
			Schema:         getDBEnv("SCHEMA", "public"),
			MigrationsPath: getEnv("MIGRATIONS_PATH", "internal/database/migrations"),
		},
		Mines: MinesConfig{
			GridSize:  getEnvAsInt("MINES_GRID_SIZE", 25),
			MaxBet:    maxBet,
			HouseEdge: houseEdge,
		},
	}

	if cfg.JWTSecret == "" {
		if cfg.Env != "local" {
			return nil, fmt.Errorf("JWT_SECRET is required when APP_ENV=%s", cfg.Env)
		}
		cfg.JWTSecret = "local-development-secret"
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getDBEnv reads DB_<suffix>, falling back to BLUEPRINT_DB_<suffix>.
func getDBEnv(suffix, defaultVal string) string {
	if val := os.Getenv("DB_" + suffix); val != "" {
		return val
	}
	return getEnv("BLUEPRINT_DB_"+suffix, defaultVal)
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDecimal(key string, defaultVal decimal.Decimal) (decimal.Decimal, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
