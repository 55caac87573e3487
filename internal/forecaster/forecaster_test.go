package forecaster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{CriticalHealthThreshold: 30, ConfidenceBandPct: 0.10, MinHistoryPoints: 5}
}

func TestForecast_InsufficientHistoryReportsStatus(t *testing.T) {
	f := New(testConfig())
	f.AddHealthReading("M-001", 90)

	result := f.Forecast("M-001", 24)
	assert.Equal(t, "insufficient_data", result.Status)
	assert.Nil(t, result.TTFHours)
}

func TestForecast_DecliningHealthProjectsTTF(t *testing.T) {
	f := New(testConfig())
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.SetClock(func() time.Time { return clock })

	health := 90.0
	for i := 0; i < 10; i++ {
		f.AddHealthReading("M-001", health)
		health -= 5
		clock = clock.Add(time.Hour)
	}

	result := f.Forecast("M-001", 48)
	require.Equal(t, "success", result.Status)
	assert.Equal(t, "holt_linear", result.Method)
	require.NotNil(t, result.TTFHours)
	assert.Greater(t, *result.TTFHours, 0.0)
	assert.Len(t, result.Forecast, 48)
}

func TestForecast_StableHealthReportsNoTTFWithinHorizon(t *testing.T) {
	f := New(testConfig())
	for i := 0; i < 10; i++ {
		f.AddHealthReading("M-001", 95)
	}

	result := f.Forecast("M-001", 24)
	require.Equal(t, "success", result.Status)
	assert.Nil(t, result.TTFHours)
}

func TestForecast_ConfidenceBandSurroundsProjection(t *testing.T) {
	f := New(testConfig())
	for i := 0; i < 10; i++ {
		f.AddHealthReading("M-001", 80)
	}

	result := f.Forecast("M-001", 5)
	require.Equal(t, "success", result.Status)
	for _, p := range result.Forecast {
		assert.LessOrEqual(t, p.Lower, p.Health)
		assert.GreaterOrEqual(t, p.Upper, p.Health)
	}
}

func TestLinearFit_FallsBackWhenHoltDegenerates(t *testing.T) {
	_, _, ok := holtFit(nil)
	assert.False(t, ok)

	level, trend := linearFit([]Point{{Health: 50}, {Health: 40}, {Health: 30}})
	assert.InDelta(t, 30, level, 1e-9)
	assert.InDelta(t, -10, trend, 1e-9)
}

func TestAddHealthReading_CapsHistoryLength(t *testing.T) {
	f := New(testConfig())
	for i := 0; i < historyCap+20; i++ {
		f.AddHealthReading("M-001", 50)
	}
	assert.Len(t, f.machines["M-001"], historyCap)
}
