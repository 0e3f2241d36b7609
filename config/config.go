package config

import (
	"errors"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all engine configuration loaded from environment variables.
// CLI flags override the budget knobs after Load.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	PlacesAPIURL string
	PlacesAPIKey string
	Language     string
	Region       string

	MaxBudget      decimal.Decimal
	MaxCities      int
	DaysThreshold  int
	ResultsPerCity int
	PerResultPrice decimal.Decimal

	RefdataDir    string
	ReportsDir    string
	CSVOutputPath string
	Verbose       bool
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", ""),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:       getEnv("POSTGRES_DB", "directory_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		PlacesAPIURL: getEnv("PLACES_API_URL", "https://api.app.outscraper.com/maps/search-v3"),
		PlacesAPIKey: getEnv("PLACES_API_KEY", ""),
		Language:     getEnv("PLACES_LANGUAGE", "en"),
		Region:       getEnv("PLACES_REGION", "US"),

		MaxBudget:      getEnvDecimal("MAX_BUDGET", "25"),
		MaxCities:      getEnvInt("MAX_CITIES", 10),
		DaysThreshold:  getEnvInt("DAYS_THRESHOLD", 30),
		ResultsPerCity: getEnvInt("RESULTS_PER_CITY", 20),
		PerResultPrice: getEnvDecimal("PER_RESULT_PRICE", "0.002"),

		RefdataDir:    getEnv("REFDATA_DIR", "./refdata"),
		ReportsDir:    getEnv("REPORTS_DIR", "./reports"),
		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", "./output/new_listings.csv"),
		Verbose:       getEnvBool("VERBOSE", false),
	}
}

// Validate checks that the credentials required before any gap processing
// are present. A failure here aborts the process with exit code 1.
func (c *Config) Validate() error {
	if c.PlacesAPIKey == "" {
		return errors.New("config: PLACES_API_KEY is required")
	}
	if c.PostgresUser == "" || c.PostgresPassword == "" {
		return errors.New("config: POSTGRES_USER and POSTGRES_PASSWORD are required")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDecimal(key, fallback string) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}
