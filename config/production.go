// Package config provides configuration management and environment variable handling for the application
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/invoice-sentinel/utils"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	Scanner    ScannerConfig    `json:"scanner"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Deployment DeploymentConfig `json:"deployment"`
}

type DatabaseConfig struct {
	Host            string        `json:"host" validate:"required"`
	Port            int           `json:"port" validate:"min=1,max=65535"`
	Name            string        `json:"name" validate:"required"`
	User            string        `json:"user" validate:"required"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns    int           `json:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `json:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
}

// DSN renders the postgres connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type LoggingConfig struct {
	Level        string `json:"level" validate:"oneof=debug info warn error"`
	Format       string `json:"format" validate:"oneof=json text"`
	Output       string `json:"output" validate:"oneof=stdout file both"`
	FilePath     string `json:"file_path" validate:"required_unless=Output stdout"`
	MaxSize      int    `json:"max_size"` // MB
	MaxBackups   int    `json:"max_backups"`
	MaxAge       int    `json:"max_age"` // days
	Compress     bool   `json:"compress"`
	EnableCaller bool   `json:"enable_caller"`
}

type MetricsConfig struct {
	Enabled        bool   `json:"enabled"`
	PushGatewayURL string `json:"push_gateway_url" validate:"required_if=Enabled true,omitempty,url"`
	JobName        string `json:"job_name" validate:"required_if=Enabled true"`
}

type CacheConfig struct {
	Enabled     bool          `json:"enabled"`
	RedisURL    string        `json:"redis_url" validate:"required_if=Enabled true"`
	RedisDB     int           `json:"redis_db" validate:"min=0"`
	RedisPrefix string        `json:"redis_prefix"`
	KPITTL      time.Duration `json:"kpi_ttl"`
	LockTTL     time.Duration `json:"lock_ttl"`
}

// ScannerConfig tunes the anomaly scanner and the bulk deletion
type ScannerConfig struct {
	BatchSize        int     `json:"batch_size" validate:"min=1"`
	Workers          int     `json:"workers" validate:"min=1"`
	DeleteBatchSize  int     `json:"delete_batch_size" validate:"min=1"`
	DefaultInvoiceID uint    `json:"default_invoice_id"`
	OutlierSigma     float64 `json:"outlier_sigma" validate:"gt=0"`
}

// DefaultInvoice returns the configured fallback invoice, nil when unset
func (c ScannerConfig) DefaultInvoice() *uint {
	if c.DefaultInvoiceID == 0 {
		return nil
	}
	id := c.DefaultInvoiceID
	return &id
}

// DefaultScanWorkers is the scan worker pool size used when none is configured
func DefaultScanWorkers() int {
	return 2 * runtime.GOMAXPROCS(0)
}

type SchedulerConfig struct {
	Enabled   bool          `json:"enabled"`
	Interval  time.Duration `json:"interval" validate:"required_if=Enabled true"`
	InvoiceID uint          `json:"invoice_id"`
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "postgres"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
		},
		Logging: LoggingConfig{
			Level:        getEnvString("LOG_LEVEL", "info"),
			Format:       getEnvString("LOG_FORMAT", "json"),
			Output:       getEnvString("LOG_OUTPUT", "stdout"),
			FilePath:     getEnvString("LOG_FILE_PATH", "/var/log/invoice-sentinel/app.log"),
			MaxSize:      getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:   getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:       getEnvInt("LOG_MAX_AGE", 30),
			Compress:     getEnvBool("LOG_COMPRESS", true),
			EnableCaller: getEnvBool("LOG_ENABLE_CALLER", false),
		},
		Metrics: MetricsConfig{
			Enabled:        getEnvBool("METRICS_ENABLED", false),
			PushGatewayURL: getEnvString("METRICS_PUSHGATEWAY_URL", ""),
			JobName:        getEnvString("METRICS_JOB_NAME", "invoice_sentinel"),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("CACHE_ENABLED", false),
			RedisURL:    getEnvString("CACHE_REDIS_URL", ""),
			RedisDB:     getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix: getEnvString("CACHE_REDIS_PREFIX", "invoice-sentinel:"),
			KPITTL:      getEnvDuration("CACHE_KPI_TTL", utils.DefaultKPICacheTTL),
			LockTTL:     getEnvDuration("CACHE_LOCK_TTL", utils.DefaultScanLockTTL),
		},
		Scanner: ScannerConfig{
			BatchSize:        getEnvInt("SCAN_BATCH_SIZE", utils.AnomalyBatchSize),
			Workers:          getEnvInt("SCAN_WORKERS", DefaultScanWorkers()),
			DeleteBatchSize:  getEnvInt("SCAN_DELETE_BATCH_SIZE", utils.DeleteBatchSize),
			DefaultInvoiceID: uint(getEnvInt("SCAN_DEFAULT_INVOICE_ID", 0)),
			OutlierSigma:     getEnvFloat("SCAN_OUTLIER_SIGMA", utils.OutlierSigma),
		},
		Scheduler: SchedulerConfig{
			Enabled:   getEnvBool("SCHEDULER_ENABLED", false),
			Interval:  getEnvDuration("SCHEDULER_INTERVAL", 6*time.Hour),
			InvoiceID: uint(getEnvInt("SCHEDULER_INVOICE_ID", 0)),
		},
		Deployment: DeploymentConfig{
			Environment: getEnvString("APP_ENV", "production"),
			Version:     getEnvString("APP_VERSION", "dev"),
			CommitHash:  getEnvString("COMMIT_HASH", "unknown"),
		},
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFile loads environment variables from .env file if it exists.
// Variables already set in the environment win.
func loadEnvFile() error {
	envFile := getEnvString("ENV_FILE", ".env")
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(envFile)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

var configValidator = validator.New()

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	err := configValidator.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			messages = append(messages, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		messages = append(messages, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("configuration validation failed: %s", strings.Join(messages, "; "))
}
