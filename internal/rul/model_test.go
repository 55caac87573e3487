package rul

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredict_HealthySensorsYieldHighHealthAndRul(t *testing.T) {
	sensors := map[string]float64{"vibration_x": 0.4, "vibration_y": 0.4, "temperature": 65}
	rulHours, health := Predict(sensors)

	assert.Greater(t, health, 90.0)
	assert.Greater(t, rulHours, 100.0)
}

func TestPredict_DegradedSensorsYieldLowHealthAndRul(t *testing.T) {
	sensors := map[string]float64{"vibration_x": 4.0, "vibration_y": 4.0, "temperature": 110}
	rulHours, health := Predict(sensors)

	assert.Less(t, health, 30.0)
	assert.Less(t, rulHours, 24.0)
}

func TestPredict_HealthAndRulAreBounded(t *testing.T) {
	sensors := map[string]float64{"vibration_x": 1e6, "vibration_y": 1e6, "temperature": 1e6}
	rulHours, health := Predict(sensors)

	assert.GreaterOrEqual(t, health, 0.0)
	assert.LessOrEqual(t, health, 100.0)
	assert.GreaterOrEqual(t, rulHours, 0.0)
}

func TestTemperatureScore_UsesHVACRangeBelowTwenty(t *testing.T) {
	assert.Equal(t, 100.0, temperatureScore(5))
	assert.Less(t, temperatureScore(18), 70.0)
}

func TestTemperatureScore_UsesMotorRangeAboveSixty(t *testing.T) {
	assert.Equal(t, 100.0, temperatureScore(70))
	assert.Less(t, temperatureScore(100), 30.0+1e-9)
}

func TestFailureProbability_BandsByRulHours(t *testing.T) {
	assert.Equal(t, "low", FailureProbability(100))
	assert.Equal(t, "medium", FailureProbability(48))
	assert.Equal(t, "high", FailureProbability(10))
}
