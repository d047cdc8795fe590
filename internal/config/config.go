package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Storage    StorageConfig    `yaml:"storage"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
	Rental     RentalConfig     `yaml:"rental"`
	Identifier IdentifierConfig `yaml:"identifier"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// Driver "memory" runs against the in-process store (local demos only).
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// RedisConfig is optional; an empty address disables the availability cache.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// StorageConfig contains identifier image storage settings
type StorageConfig struct {
	Type      string   `yaml:"type"`       // "mock" or "s3"
	UploadDir string   `yaml:"upload_dir"` // For mock storage
	BaseURL   string   `yaml:"base_url"`   // Server base URL for mock URLs
	S3        S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// AuthConfig contains bearer token settings. API keys live in the database.
type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level      string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format     string `yaml:"format"` // "json" or "text"
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// RentalConfig holds the business settings handed to the pricing engine and services.
type RentalConfig struct {
	LateFeeEnabledDefault      bool    `yaml:"late_fee_enabled_default"`
	LateFeeDailyRate           float64 `yaml:"late_fee_daily_rate"`
	LateFeePercentage          float64 `yaml:"late_fee_percentage"`
	LateFeeMethod              string  `yaml:"late_fee_method"`
	DamageMinorFee             float64 `yaml:"damage_minor_fee"`
	DamageModerateFee          float64 `yaml:"damage_moderate_fee"`
	LostFallbackValue          float64 `yaml:"lost_fallback_value"`
	AutoGenerateSerialsDefault bool    `yaml:"auto_generate_serials_default"`
	SerialPrefix               string  `yaml:"serial_prefix"`
	DefaultRentalDays          int     `yaml:"default_rental_days"`
	ReminderDaysBefore         int     `yaml:"reminder_days_before"`
	LowStockThreshold          int     `yaml:"low_stock_threshold"`
	AutoCreateInvoice          bool    `yaml:"auto_create_invoice"`
	InvoiceIncludeLateFees     *bool   `yaml:"invoice_include_late_fees"`
	BatchSize                  int     `yaml:"batch_size"`
	FollowUpAssignee           string  `yaml:"follow_up_assignee"`
}

// IdentifierConfig controls identifier image rendering
type IdentifierConfig struct {
	OutputSize int     `yaml:"output_size"`
	EmbedLogo  bool    `yaml:"embed_logo"`
	LogoPath   string  `yaml:"logo_path"`
	LogoRatio  float64 `yaml:"logo_ratio"`
}

// SchedulerConfig contains cron schedule settings (with seconds field)
type SchedulerConfig struct {
	RefreshOverdue        string `yaml:"refresh_overdue"`
	ReturnReminders       string `yaml:"return_reminders"`
	RegenerateIdentifiers string `yaml:"regenerate_identifiers"`
	LowStockWarnings      string `yaml:"low_stock_warnings"`
}

// Load reads configuration from a YAML file. A .env file in the working directory,
// when present, is loaded before environment overrides are applied.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML without applying environment overrides or validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Database
	if val := os.Getenv("DB_DRIVER"); val != "" {
		c.Database.Driver = val
	}
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	// Server
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}

	// Redis
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		c.Redis.Addr = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		c.Redis.Password = val
	}

	// Storage
	if val := os.Getenv("STORAGE_TYPE"); val != "" {
		c.Storage.Type = val
	}
	if val := os.Getenv("UPLOAD_DIR"); val != "" {
		c.Storage.UploadDir = val
	}
	if val := os.Getenv("S3_BUCKET"); val != "" {
		c.Storage.S3.Bucket = val
	}
	if val := os.Getenv("S3_REGION"); val != "" {
		c.Storage.S3.Region = val
	}
	if val := os.Getenv("S3_ENDPOINT"); val != "" {
		c.Storage.S3.Endpoint = val
	}
	if val := os.Getenv("S3_ACCESS_KEY"); val != "" {
		c.Storage.S3.AccessKey = val
	}
	if val := os.Getenv("S3_SECRET_KEY"); val != "" {
		c.Storage.S3.SecretKey = val
	}

	// Auth
	if val := os.Getenv("API_JWT_SECRET"); val != "" {
		c.Auth.JWTSecret = val
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
	if val := os.Getenv("LOG_FILE"); val != "" {
		c.Log.File = val
	}

	// Set defaults for log if not configured
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid and fills in defaults
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Database validation
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	// Auth validation
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.Auth.TokenTTLMinutes == 0 {
		c.Auth.TokenTTLMinutes = 60
	}

	// Storage validation
	if c.Storage.Type == "" {
		c.Storage.Type = "mock"
	}
	switch c.Storage.Type {
	case "mock":
		if c.Storage.UploadDir == "" {
			return fmt.Errorf("upload directory is required")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required")
		}
		if c.Storage.S3.Region == "" {
			c.Storage.S3.Region = "auto"
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	if c.Redis.TTLSeconds == 0 {
		c.Redis.TTLSeconds = 300
	}

	// Log rotation defaults
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 30
	}

	if err := c.Rental.validate(); err != nil {
		return err
	}

	if c.Identifier.OutputSize == 0 {
		c.Identifier.OutputSize = 1080
	}
	if c.Identifier.OutputSize < 64 || c.Identifier.OutputSize > 4096 {
		return fmt.Errorf("identifier output size must be between 64 and 4096: %d", c.Identifier.OutputSize)
	}
	if c.Identifier.LogoRatio == 0 {
		c.Identifier.LogoRatio = 0.15
	}

	// Scheduler defaults
	if c.Scheduler.RefreshOverdue == "" {
		c.Scheduler.RefreshOverdue = "0 0 1 * * *" // 1 AM UTC
	}
	if c.Scheduler.ReturnReminders == "" {
		c.Scheduler.ReturnReminders = "0 0 7 * * *" // 7 AM UTC
	}
	if c.Scheduler.RegenerateIdentifiers == "" {
		c.Scheduler.RegenerateIdentifiers = "0 30 2 * * *" // 2:30 AM UTC
	}
	if c.Scheduler.LowStockWarnings == "" {
		c.Scheduler.LowStockWarnings = "0 0 8 * * 1" // Mondays at 8 AM UTC
	}

	return nil
}

func (r *RentalConfig) validate() error {
	if r.LateFeeDailyRate < 0 || r.LateFeePercentage < 0 {
		return fmt.Errorf("late fee settings cannot be negative")
	}
	if r.LateFeeMethod == "" {
		r.LateFeeMethod = "maximum"
	}
	switch strings.ToLower(r.LateFeeMethod) {
	case "daily", "percentage", "maximum":
	default:
		return fmt.Errorf("invalid late fee method: %s", r.LateFeeMethod)
	}
	if r.DamageMinorFee == 0 {
		r.DamageMinorFee = 100
	}
	if r.DamageModerateFee == 0 {
		r.DamageModerateFee = 500
	}
	if r.LostFallbackValue == 0 {
		r.LostFallbackValue = 1000
	}
	if r.SerialPrefix == "" {
		r.SerialPrefix = "SN"
	}
	if r.DefaultRentalDays == 0 {
		r.DefaultRentalDays = 7
	}
	if r.ReminderDaysBefore == 0 {
		r.ReminderDaysBefore = 2
	}
	if r.LowStockThreshold == 0 {
		r.LowStockThreshold = 3
	}
	if r.InvoiceIncludeLateFees == nil {
		include := true
		r.InvoiceIncludeLateFees = &include
	}
	if r.BatchSize <= 0 {
		r.BatchSize = 100
	}
	if r.FollowUpAssignee == "" {
		r.FollowUpAssignee = "rental-desk"
	}
	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
