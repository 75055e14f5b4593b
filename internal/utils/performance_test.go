package utils

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestTimer_StopWithContext(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)

	timer := NewTimer("dca_batch", log)
	d := timer.StopWithContext(map[string]interface{}{
		"plans":    3,
		"run_id":   "abc",
		"parallel": true,
	})

	assert.GreaterOrEqual(t, int64(d), int64(0))
	out := buf.String()
	assert.Contains(t, out, `"operation":"dca_batch"`)
	assert.Contains(t, out, `"plans":3`)
	assert.Contains(t, out, `"run_id":"abc"`)
	assert.Contains(t, out, `"parallel":true`)
}

func TestOperationTimer(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)

	OperationTimer("backfill", log)()

	assert.Contains(t, buf.String(), `"operation":"backfill"`)
	assert.Contains(t, buf.String(), "Operation completed")
}
