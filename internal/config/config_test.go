package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/fundtrack/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FUNDTRACK_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 3, cfg.NAVLookbackDays)
	assert.Equal(t, time.Hour, cfg.NAVCacheTTL)
	assert.Equal(t, scheduler.ScheduleTime{Hour: 15, Minute: 30}, cfg.DCAExecutionTime)
	assert.Equal(t, 4, cfg.DCAMaxParallelPlans)
	assert.True(t, cfg.WeekendsAreHolidays)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	require.NotNil(t, cfg.Backup)
	assert.False(t, cfg.Backup.Enabled)
	assert.Equal(t, filepath.Join(dir, "ledger.db"), cfg.DatabasePath("ledger"))
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("FUNDTRACK_DATA_DIR", t.TempDir())
	t.Setenv("GO_PORT", "9000")
	t.Setenv("NAV_LOOKBACK_DAYS", "5")
	t.Setenv("NAV_CACHE_TTL_MINUTES", "15")
	t.Setenv("DCA_EXECUTION_TIME", "09:45")
	t.Setenv("DCA_MAX_PARALLEL_PLANS", "2")
	t.Setenv("CALENDAR_WEEKENDS_ARE_HOLIDAYS", "false")
	t.Setenv("CORS_ALLOW_ORIGIN", "http://localhost:3000, https://fund.example")
	t.Setenv("BACKUP_ENABLED", "true")
	t.Setenv("BACKUP_BUCKET", "ledger-backups")
	t.Setenv("BACKUP_TIME", "02:15")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 5, cfg.NAVLookbackDays)
	assert.Equal(t, 15*time.Minute, cfg.NAVCacheTTL)
	assert.Equal(t, "09:45", cfg.DCAExecutionTime.String())
	assert.Equal(t, 2, cfg.DCAMaxParallelPlans)
	assert.False(t, cfg.WeekendsAreHolidays)
	assert.Equal(t, []string{"http://localhost:3000", "https://fund.example"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.Backup.Enabled)
	assert.Equal(t, "ledger-backups", cfg.Backup.Bucket)
	assert.Equal(t, "0 15 2 * * *", cfg.Backup.Time.CronSpec())
}

func TestLoad_InvalidExecutionTime(t *testing.T) {
	t.Setenv("FUNDTRACK_DATA_DIR", t.TempDir())
	t.Setenv("DCA_EXECUTION_TIME", "25:00")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DCA_EXECUTION_TIME")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:                8001,
			NAVProviderURL:      "http://nav",
			NAVLookbackDays:     3,
			NAVCacheTTL:         time.Minute,
			DCAMaxParallelPlans: 1,
			Backup:              &BackupConfig{},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Port = 0 }, wantErr: "GO_PORT"},
		{name: "negative lookback", mutate: func(c *Config) { c.NAVLookbackDays = -1 }, wantErr: "NAV_LOOKBACK_DAYS"},
		{name: "no parallelism", mutate: func(c *Config) { c.DCAMaxParallelPlans = 0 }, wantErr: "DCA_MAX_PARALLEL_PLANS"},
		{name: "no provider", mutate: func(c *Config) { c.NAVProviderURL = "" }, wantErr: "NAV_PROVIDER_URL"},
		{name: "backup without bucket", mutate: func(c *Config) { c.Backup.Enabled = true }, wantErr: "BACKUP_BUCKET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
