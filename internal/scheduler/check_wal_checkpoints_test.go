package scheduler

import (
	"testing"

	"github.com/aristath/fundtrack/internal/database"
	testingpkg "github.com/aristath/fundtrack/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCheckWALCheckpointsJob_Name(t *testing.T) {
	job := NewCheckWALCheckpointsJob(nil, zerolog.Nop())
	assert.Equal(t, "maintenance:wal-checkpoints", job.Name())
}

func TestCheckWALCheckpointsJob_Run_NoDatabases(t *testing.T) {
	job := NewCheckWALCheckpointsJob(map[string]*database.DB{"ledger": nil}, zerolog.Nop())
	assert.NoError(t, job.Run())
}

func TestCheckWALCheckpointsJob_Run(t *testing.T) {
	ledger, cleanup := testingpkg.NewTestDB(t, "ledger")
	defer cleanup()

	_, err := ledger.Conn().Exec(`INSERT INTO operations
		(asset_code, operation_type, operation_date, operation_day, amount, quantity, nav, fee, status, created_at, updated_at)
		VALUES ('110011', 'buy', 1704153600, '2024-01-02', '100', '80', '1.25', '0', 'confirmed', 0, 0)`)
	assert.NoError(t, err)

	job := NewCheckWALCheckpointsJob(map[string]*database.DB{"ledger": ledger}, zerolog.Nop())
	assert.NoError(t, job.Run())
}
