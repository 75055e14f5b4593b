// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/fundtrack/internal/scheduler"
	"github.com/aristath/fundtrack/internal/utils"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	NAVProviderURL  string
	NAVLookbackDays int           // how many prior days the executor walks back for a missing NAV
	NAVCacheTTL     time.Duration // freshness of cached provider responses

	DCAExecutionTime    scheduler.ScheduleTime
	DCAMaxParallelPlans int

	WeekendsAreHolidays bool
	CORSAllowedOrigins  []string

	Backup *BackupConfig
}

// BackupConfig holds ledger backup settings
type BackupConfig struct {
	Enabled         bool
	Bucket          string
	Prefix          string
	Time            scheduler.ScheduleTime
	Endpoint        string // S3-compatible endpoint; empty uses AWS
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FUNDTRACK_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	execTime, err := scheduler.ParseScheduleTime(getEnv("DCA_EXECUTION_TIME", "15:30"))
	if err != nil {
		return nil, fmt.Errorf("DCA_EXECUTION_TIME: %w", err)
	}

	backup, err := loadBackupConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             absDataDir,
		Port:                getEnvAsInt("GO_PORT", 8001),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		NAVProviderURL:      getEnv("NAV_PROVIDER_URL", "http://localhost:9100"),
		NAVLookbackDays:     getEnvAsInt("NAV_LOOKBACK_DAYS", 3),
		NAVCacheTTL:         time.Duration(getEnvAsInt("NAV_CACHE_TTL_MINUTES", 60)) * time.Minute,
		DCAExecutionTime:    execTime,
		DCAMaxParallelPlans: getEnvAsInt("DCA_MAX_PARALLEL_PLANS", 4),
		WeekendsAreHolidays: getEnvAsBool("CALENDAR_WEEKENDS_ARE_HOLIDAYS", true),
		CORSAllowedOrigins:  utils.ParseCSV(getEnv("CORS_ALLOW_ORIGIN", "*")),
		Backup:              backup,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadBackupConfig() (*BackupConfig, error) {
	backupTime, err := scheduler.ParseScheduleTime(getEnv("BACKUP_TIME", "03:00"))
	if err != nil {
		return nil, fmt.Errorf("BACKUP_TIME: %w", err)
	}
	return &BackupConfig{
		Enabled:         getEnvAsBool("BACKUP_ENABLED", false),
		Bucket:          getEnv("BACKUP_BUCKET", ""),
		Prefix:          getEnv("BACKUP_PREFIX", "fundtrack"),
		Time:            backupTime,
		Endpoint:        getEnv("BACKUP_ENDPOINT", ""),
		Region:          getEnv("BACKUP_REGION", "auto"),
		AccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
		RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid GO_PORT %d", c.Port)
	}
	if c.NAVProviderURL == "" {
		return fmt.Errorf("NAV_PROVIDER_URL is required")
	}
	if c.NAVLookbackDays < 0 {
		return fmt.Errorf("NAV_LOOKBACK_DAYS must not be negative, got %d", c.NAVLookbackDays)
	}
	if c.NAVCacheTTL <= 0 {
		return fmt.Errorf("NAV_CACHE_TTL_MINUTES must be positive")
	}
	if c.DCAMaxParallelPlans < 1 {
		return fmt.Errorf("DCA_MAX_PARALLEL_PLANS must be at least 1, got %d", c.DCAMaxParallelPlans)
	}
	if err := c.DCAExecutionTime.Validate(); err != nil {
		return fmt.Errorf("DCA_EXECUTION_TIME: %w", err)
	}
	if c.Backup != nil && c.Backup.Enabled {
		if c.Backup.Bucket == "" {
			return fmt.Errorf("BACKUP_BUCKET is required when BACKUP_ENABLED=true")
		}
		if c.Backup.RetentionDays < 1 {
			return fmt.Errorf("BACKUP_RETENTION_DAYS must be at least 1")
		}
	}
	return nil
}

// DatabasePath returns the absolute path of a named database file
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

// Helper functions
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
