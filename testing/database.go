// Package testing provides test utilities and database setup for the store-backed tests
package testing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/amirphl/invoice-sentinel/models"
	_ "github.com/lib/pq" // PostgreSQL driver for database/sql
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrDatabaseUnavailable means no test PostgreSQL server could be reached
var ErrDatabaseUnavailable = errors.New("test database unavailable")

// TestDBConfig holds configuration for test database connections
type TestDBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	SSLMode  string
}

// GetTestDBConfig loads test database configuration from environment variables
func GetTestDBConfig() *TestDBConfig {
	return &TestDBConfig{
		Host:     getEnv("TEST_DB_HOST", "localhost"),
		Port:     getEnvAsInt("TEST_DB_PORT", 5432),
		User:     getEnv("TEST_DB_USER", "postgres"),
		Password: getEnv("TEST_DB_PASSWORD", "postgres"),
		SSLMode:  getEnv("TEST_DB_SSL_MODE", "disable"),
	}
}

func (c *TestDBConfig) dsn(dbName string) string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.SSLMode)
	if dbName != "" {
		dsn += " dbname=" + dbName
	}
	return dsn
}

// TestDB represents a test database instance
type TestDB struct {
	DB     *gorm.DB
	Name   string
	config *TestDBConfig
}

// ping checks the server is reachable before any database is created
func ping(config *TestDBConfig) error {
	db, err := sql.Open("postgres", config.dsn(""))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
	}
	return nil
}

// SetupTestDB creates a new test database with a unique name and migrates every model
func SetupTestDB() (*TestDB, error) {
	config := GetTestDBConfig()
	if err := ping(config); err != nil {
		return nil, err
	}

	dbName := fmt.Sprintf("sentinel_test_%d_%d", time.Now().Unix(), rand.Intn(10000))

	adminDB, err := gorm.Open(postgres.Open(config.dsn("")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	err = adminDB.Exec(fmt.Sprintf("CREATE DATABASE %s", dbName)).Error
	sqlDB, _ := adminDB.DB()
	sqlDB.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to create test database %s: %w", dbName, err)
	}

	testDB, err := gorm.Open(postgres.Open(config.dsn(dbName)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database %s: %w", dbName, err)
	}

	tdb := &TestDB{DB: testDB, Name: dbName, config: config}
	if err := testDB.AutoMigrate(models.AllModels()...); err != nil {
		_ = tdb.TeardownTestDB()
		return nil, fmt.Errorf("failed to migrate test database %s: %w", dbName, err)
	}
	return tdb, nil
}

// TeardownTestDB drops the test database and closes connections
func (tdb *TestDB) TeardownTestDB() error {
	if tdb.DB == nil {
		return nil
	}

	sqlDB, err := tdb.DB.DB()
	if err == nil {
		sqlDB.Close()
	}

	adminDB, err := gorm.Open(postgres.Open(tdb.config.dsn("")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Printf("Warning: failed to connect to PostgreSQL for cleanup: %v", err)
		return err
	}
	defer func() {
		sqlDB, _ := adminDB.DB()
		sqlDB.Close()
	}()

	// Force disconnect all connections to the test database
	err = adminDB.Exec(
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = ? AND pid <> pg_backend_pid()",
		tdb.Name).Error
	if err != nil {
		log.Printf("Warning: failed to terminate connections to test database %s: %v", tdb.Name, err)
	}

	err = adminDB.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s", tdb.Name)).Error
	if err != nil {
		log.Printf("Warning: failed to drop test database %s: %v", tdb.Name, err)
		return err
	}
	return nil
}

// ClearAllTables removes all data from tables while preserving structure
func (tdb *TestDB) ClearAllTables() error {
	// Reverse dependency order, children first
	all := models.AllModels()
	for i := len(all) - 1; i >= 0; i-- {
		tabler, ok := all[i].(interface{ TableName() string })
		if !ok {
			return fmt.Errorf("model %T has no table name", all[i])
		}
		table := tabler.TableName()
		if err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", table)).Error; err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// TestWithDB sets up a test database, runs the test function and cleans up.
// It returns ErrDatabaseUnavailable when no server is reachable.
func TestWithDB(testFunc func(*TestDB) error) error {
	testDB, err := SetupTestDB()
	if err != nil {
		return err
	}
	defer func() {
		if cleanupErr := testDB.TeardownTestDB(); cleanupErr != nil {
			log.Printf("Warning: failed to cleanup test database: %v", cleanupErr)
		}
	}()

	return testFunc(testDB)
}

// CreateTestContext creates a context for testing
func CreateTestContext() context.Context {
	return context.Background()
}

// TB is the part of testing.TB the harness needs
type TB interface {
	Helper()
	Skipf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// RunWithDB runs fn against a fresh database and skips tb when no server is reachable
func RunWithDB(tb TB, fn func(*TestDB) error) {
	tb.Helper()
	err := TestWithDB(fn)
	if errors.Is(err, ErrDatabaseUnavailable) {
		tb.Skipf("skipping store-backed test: %v", err)
		return
	}
	if err != nil {
		tb.Fatalf("store-backed test failed: %v", err)
	}
}
