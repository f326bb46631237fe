package store

import (
	"testing"
	"time"

	"codeberg.org/mutker/fogpdm/internal/offload"
	"codeberg.org/mutker/fogpdm/internal/predictor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClickhouseRow(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := offload.RoutingResult{
		Outcome: predictor.Outcome{
			Fault:       1,
			Probability: 0.75,
			Latency:     2 * time.Millisecond,
			Tier:        predictor.TierFallback,
			Method:      offload.FallbackMethod,
		},
		MachineID:     3,
		Timestamp:     ts,
		FinalLocation: predictor.TierFallback,
	}

	values := clickhouseRow("run-1", r)
	require.Len(t, values, 12)
	assert.Equal(t, []any{
		"run-1", uint32(3), ts, "fallback", uint8(1), 0.75, int64(2000),
		"safety_rule", uint8(0), 0.0, uint8(0), uint8(0),
	}, values)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Config{Driver: DriverNone}.Validate())

	cfg := DefaultConfig()
	cfg.Driver = DriverClickHouse
	assert.NoError(t, cfg.Validate())

	cfg.ClickHouse.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.BatchSize = -1
	assert.Error(t, cfg.Validate())
}
