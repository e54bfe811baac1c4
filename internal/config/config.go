// File: internal/config/config.go
// mudengine - Configuration Management

package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the session server.
type Config struct {
	// Server settings
	ServerName    string
	ServerVersion string
	ServerHost    string // empty = all interfaces, "localhost" = local only
	ServerPort    int
	BaseURL       string
	Environment   string // "development", "staging", "production"

	// Secrets
	SecretKey     string // signs bearer credentials
	SessionSecret string // signs server-side cookies/CSRF state

	// Database settings
	DatabaseURL      string // full DSN; when set, takes priority over DBType/DBHost/...
	DBType           string // "sqlite" or "postgres"
	DBHost           string
	DBPort           int
	DBName           string
	DBUser           string
	DBPassword       string
	DBMaxConnections int
	DBMaxIdleConns   int

	// Redis settings
	RedisEnabled bool
	RedisHost    string
	RedisPort    int
	RedisDB      int

	// Server behavior
	MaxPlayers             int
	ShutdownTimeoutSecs    int
	SessionIdleMins        int // quiet period before a live session is checkpointed and evicted
	RestRequestTimeoutSecs int

	// Registration flood protection (the demo endpoint's limiter does not read these)
	RegistrationWindowMins int
	RegistrationMaxPerIP   int

	// TLS settings
	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string

	// Optional pluggable side-services (§6 — external collaborators)
	CompendiumURL     string
	ObjectStoreURL    string
	SMTPHost          string
	OAuthClientID     string
	OAuthClientSecret string
}

// Default configuration values.
var defaultConfig = Config{
	ServerName:             "mudengine",
	ServerVersion:          "0.1.0",
	ServerHost:             "",
	ServerPort:             8080,
	Environment:            "development",
	DBType:                 "sqlite",
	DBHost:                 "localhost",
	DBPort:                 5432,
	DBName:                 "data/mud.db",
	DBUser:                 "muduser",
	DBMaxConnections:       25,
	DBMaxIdleConns:         5,
	RedisEnabled:           false,
	RedisHost:              "localhost",
	RedisPort:              6379,
	RedisDB:                0,
	MaxPlayers:             100,
	ShutdownTimeoutSecs:    30,
	SessionIdleMins:        15,
	RestRequestTimeoutSecs: 10,
	RegistrationWindowMins: 10,
	RegistrationMaxPerIP:   10,
	TLSEnabled:             false,
	TLSCertFile:            "certs/server.crt",
	TLSKeyFile:             "certs/server.key",
}

// LoadConfig loads configuration from a .env file (if present) and the
// process environment. Command line flag -env can specify a custom file.
func LoadConfig() (*Config, error) {
	envFile := flag.String("env", ".env", "Path to environment configuration file")
	flag.Parse()

	log.Printf("Loading configuration from: %s", *envFile)

	config := defaultConfig

	// godotenv populates os.Environ() without overriding variables already
	// set there, matching the teacher's "file is a bootstrap default" intent.
	if err := godotenv.Load(*envFile); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		log.Printf("Configuration file %s not found, using environment and defaults", *envFile)
	}

	loadFromEnviron(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Println("Configuration loaded successfully")
	return &config, nil
}

// loadFromEnviron walks every recognized key through os.Environ, matching
// the teacher's line-by-line setConfigValue dispatch.
func loadFromEnviron(config *Config) {
	keys := []string{
		"SERVER_NAME", "SERVER_VERSION", "SERVER_HOST", "SERVER_PORT", "BASE_URL", "ENVIRONMENT",
		"SECRET_KEY", "SESSION_SECRET",
		"DATABASE_URL", "DB_TYPE", "DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD",
		"DB_MAX_CONNECTIONS", "DB_MAX_IDLE_CONNS",
		"REDIS_ENABLED", "REDIS_HOST", "REDIS_PORT", "REDIS_DB",
		"MAX_PLAYERS", "SHUTDOWN_TIMEOUT_SECS", "SESSION_IDLE_MINS", "REST_REQUEST_TIMEOUT_SECS",
		"REGISTRATION_WINDOW_MINS", "REGISTRATION_MAX_PER_IP",
		"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
		"COMPENDIUM_URL", "OBJECT_STORE_URL", "SMTP_HOST", "OAUTH_CLIENT_ID", "OAUTH_CLIENT_SECRET",
	}
	for _, key := range keys {
		value, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if err := setConfigValue(config, key, value); err != nil {
			log.Printf("Warning: error setting %s: %v", key, err)
		}
	}
}

// setConfigValue sets a configuration value by key name.
func setConfigValue(config *Config, key, value string) error {
	switch key {
	case "SERVER_NAME":
		config.ServerName = value
	case "SERVER_VERSION":
		config.ServerVersion = value
	case "SERVER_HOST":
		config.ServerHost = value
	case "BASE_URL":
		config.BaseURL = value
	case "ENVIRONMENT":
		config.Environment = value
	case "SECRET_KEY":
		config.SecretKey = value
	case "SESSION_SECRET":
		config.SessionSecret = value
	case "SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		config.ServerPort = port

	case "DATABASE_URL":
		config.DatabaseURL = value
	case "DB_TYPE":
		config.DBType = value
	case "DB_HOST":
		config.DBHost = value
	case "DB_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		config.DBPort = port
	case "DB_NAME":
		config.DBName = value
	case "DB_USER":
		config.DBUser = value
	case "DB_PASSWORD":
		config.DBPassword = value
	case "DB_MAX_CONNECTIONS":
		max, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		config.DBMaxConnections = max
	case "DB_MAX_IDLE_CONNS":
		max, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		config.DBMaxIdleConns = max

	case "REDIS_ENABLED":
		config.RedisEnabled = value == "true" || value == "1"
	case "REDIS_HOST":
		config.RedisHost = value
	case "REDIS_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		config.RedisPort = port
	case "REDIS_DB":
		db, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		config.RedisDB = db

	case "MAX_PLAYERS":
		max, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		config.MaxPlayers = max
	case "SHUTDOWN_TIMEOUT_SECS":
		timeout, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		config.ShutdownTimeoutSecs = timeout
	case "SESSION_IDLE_MINS":
		mins, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		config.SessionIdleMins = mins
	case "REST_REQUEST_TIMEOUT_SECS":
		secs, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		config.RestRequestTimeoutSecs = secs
	case "REGISTRATION_WINDOW_MINS":
		mins, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		config.RegistrationWindowMins = mins
	case "REGISTRATION_MAX_PER_IP":
		max, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		config.RegistrationMaxPerIP = max

	case "TLS_ENABLED":
		config.TLSEnabled = value == "true" || value == "1"
	case "TLS_CERT_FILE":
		config.TLSCertFile = value
	case "TLS_KEY_FILE":
		config.TLSKeyFile = value

	case "COMPENDIUM_URL":
		config.CompendiumURL = value
	case "OBJECT_STORE_URL":
		config.ObjectStoreURL = value
	case "SMTP_HOST":
		config.SMTPHost = value
	case "OAUTH_CLIENT_ID":
		config.OAuthClientID = value
	case "OAUTH_CLIENT_SECRET":
		config.OAuthClientSecret = value

	default:
		log.Printf("Warning: unknown configuration key: %s", key)
	}

	return nil
}

// validateConfig checks if configuration values are valid. A missing
// SECRET_KEY is fatal per spec (§6/§7): the server must not start with no
// way to sign bearer credentials.
func validateConfig(config *Config) error {
	if config.ServerPort < 1 || config.ServerPort > 65535 {
		return fmt.Errorf("invalid SERVER_PORT: must be between 1 and 65535")
	}

	if config.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY is required")
	}

	if config.DatabaseURL == "" {
		if config.DBType != "sqlite" && config.DBType != "postgres" {
			return fmt.Errorf("invalid DB_TYPE: must be 'sqlite' or 'postgres'")
		}
		if config.DBName == "" {
			return fmt.Errorf("DB_NAME cannot be empty")
		}
		if config.DBType == "postgres" {
			if config.DBHost == "" {
				return fmt.Errorf("DB_HOST required for PostgreSQL")
			}
			if config.DBUser == "" {
				return fmt.Errorf("DB_USER required for PostgreSQL")
			}
		}
	}

	if config.MaxPlayers < 1 {
		return fmt.Errorf("MAX_PLAYERS must be at least 1")
	}

	if config.ShutdownTimeoutSecs < 5 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT_SECS must be at least 5 seconds")
	}

	return nil
}

// GetConnectionString returns the database connection string, preferring an
// explicit DATABASE_URL over the discrete DB_* settings.
func (c *Config) GetConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	switch c.DBType {
	case "sqlite":
		return c.DBName
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName,
		)
	default:
		return ""
	}
}

// Driver returns the database/sql driver name to use for GetConnectionString.
func (c *Config) Driver() string {
	if c.DatabaseURL != "" && strings.HasPrefix(c.DatabaseURL, "postgres") {
		return "postgres"
	}
	if c.DBType == "postgres" {
		return "postgres"
	}
	return "sqlite3"
}

// GetBindAddress returns the address to bind the server to.
func (c *Config) GetBindAddress() string {
	if c.ServerHost == "" {
		return "0.0.0.0"
	}
	return c.ServerHost
}

// GetListenAddress returns the full listen address (host:port).
func (c *Config) GetListenAddress() string {
	return fmt.Sprintf("%s:%d", c.GetBindAddress(), c.ServerPort)
}

// LogConfig logs the current configuration, omitting secrets.
func (c *Config) LogConfig() {
	log.Println("=== Server Configuration ===")
	log.Printf("Server: %s v%s (%s)", c.ServerName, c.ServerVersion, c.Environment)
	log.Printf("Bind Address: %s:%d", c.GetBindAddress(), c.ServerPort)
	log.Printf("Database Driver: %s", c.Driver())
	log.Printf("Max Players: %d", c.MaxPlayers)
	log.Printf("Redis: %v", c.RedisEnabled)
	log.Printf("TLS: %v", c.TLSEnabled)
	log.Println("===========================")
}
