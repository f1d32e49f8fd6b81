package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Database     DatabaseConfig     `json:"database"`
	Security     SecurityConfig     `json:"security"`
	Sharing      SharingConfig      `json:"sharing"`
	Verification VerificationConfig `json:"verification"`
	Email        EmailConfig        `json:"email"`
	Sweeper      SweeperConfig      `json:"sweeper"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

// SecurityConfig carries the JWT signing secret.
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

// SharingConfig carries the share-token policy defaults.
type SharingConfig struct {
	DefaultValidityDays int `json:"default_validity_days"`
	DefaultMaxAccess    int `json:"default_max_access"`
}

// VerificationConfig carries the public verification entry point.
type VerificationConfig struct {
	BaseURL string `json:"base_url"`
}

// EmailConfig carries the SendGrid delivery settings.
type EmailConfig struct {
	SendGridAPIKey string `json:"sendgrid_api_key"`
	FromName       string `json:"from_name"`
	FromAddress    string `json:"from_address"`
}

// SweeperConfig carries the expired-token sweep schedule (cron spec).
type SweeperConfig struct {
	Schedule string `json:"schedule"`
}

// LoadConfig loads configuration from an optional JSON file and environment
// variables. A .env file is honored when present.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    os.Getenv("USER"),
			DBName:  "certrepo",
			SSLMode: "disable",
		},
		Sharing: SharingConfig{
			DefaultValidityDays: 30,
			DefaultMaxAccess:    100,
		},
		Verification: VerificationConfig{
			BaseURL: "http://localhost:8080/api/v1/verify",
		},
		Sweeper: SweeperConfig{
			Schedule: "@hourly",
		},
	}

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	overrideWithEnv(config)

	return config, nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DATABASE_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			config.Database.Port = p
		}
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Security.JWTSecret = secret
	}
	if key := os.Getenv("SENDGRID_API_KEY"); key != "" {
		config.Email.SendGridAPIKey = key
	}
	if from := os.Getenv("EMAIL_FROM_ADDRESS"); from != "" {
		config.Email.FromAddress = from
	}
	if name := os.Getenv("EMAIL_FROM_NAME"); name != "" {
		config.Email.FromName = name
	}
	if url := os.Getenv("VERIFICATION_BASE_URL"); url != "" {
		config.Verification.BaseURL = url
	}
}

// GetDatabaseURL returns the database connection string.
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server listen address.
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
