// Package model holds the wire-boundary types shared across the pipeline.
package model

import "time"

// Sample is a single sensor reading for one machine. Produced
// externally; the core never mutates it.
type Sample struct {
	MachineID string             `json:"machine_id"`
	Timestamp time.Time          `json:"timestamp"`
	Sensors   map[string]float64 `json:"sensors"`
}

// Sensor name constants for the Sensors keys that the detector, RUL model,
// and gate read (those packages spell the keys as string literals).
const (
	SensorVibrationX Sensor = "vibration_x"
	SensorVibrationY Sensor = "vibration_y"
	SensorTemperature Sensor = "temperature"
	SensorPressure   Sensor = "pressure"
	SensorRPM        Sensor = "rpm"
)

type Sensor = string
