package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func normalSample() map[string]float64 {
	return map[string]float64{
		"vibration_x": 0.5,
		"vibration_y": 0.5,
		"temperature": 60,
		"pressure":    100,
		"rpm":         1500,
	}
}

func TestDetect_InsufficientHistoryReportsNoAnomaly(t *testing.T) {
	d := New()
	for i := 0; i < minSamplesZScore-1; i++ {
		isAnomaly, score, details := d.Detect(normalSample())
		assert.False(t, isAnomaly)
		assert.Equal(t, 0.0, score)
		assert.Equal(t, "insufficient_data", details.Method)
	}
}

func TestDetect_UsesZScoreMethodBeforeOutlierThreshold(t *testing.T) {
	d := New()
	var details Details
	for i := 0; i < minSamplesOutlier-1; i++ {
		_, _, details = d.Detect(normalSample())
	}
	if details.Method != "insufficient_data" {
		assert.Equal(t, "z_score", details.Method)
	}
}

func TestDetect_OutlierMethodAfterEnoughHistory(t *testing.T) {
	d := New()
	for i := 0; i < minSamplesOutlier; i++ {
		d.Detect(normalSample())
	}
	_, _, details := d.Detect(normalSample())
	assert.Equal(t, "isolation_forest", details.Method)
}

func TestDetect_FlagsGrossOutlierAfterStableHistory(t *testing.T) {
	d := New()
	for i := 0; i < 30; i++ {
		d.Detect(normalSample())
	}
	spike := normalSample()
	spike["vibration_x"] = 50
	spike["temperature"] = 300
	isAnomaly, score, _ := d.Detect(spike)
	assert.True(t, isAnomaly)
	assert.Greater(t, score, 0.0)
}

func TestHealthScore_HighForStableSensors(t *testing.T) {
	d := New()
	var health float64
	for i := 0; i < 15; i++ {
		health = d.HealthScore(normalSample())
	}
	assert.Greater(t, health, 50.0)
}

func TestHealthScore_BoundedBetweenZeroAndHundred(t *testing.T) {
	d := New()
	for i := 0; i < 30; i++ {
		d.Detect(normalSample())
	}
	spike := normalSample()
	spike["vibration_x"] = 1000
	health := d.HealthScore(spike)
	assert.GreaterOrEqual(t, health, 0.0)
	assert.LessOrEqual(t, health, 100.0)
}
