// Package config loads and defaults the alert pipeline's YAML configuration.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Hysteresis is a trigger/clear threshold pair used to avoid alert flapping.
type Hysteresis struct {
	Trigger float64 `yaml:"trigger"`
	Clear   float64 `yaml:"clear"`
}

type RulThresholds struct {
	Warning  Hysteresis `yaml:"warning"`
	Critical Hysteresis `yaml:"critical"`
}

type HealthThresholds struct {
	Warning  Hysteresis `yaml:"warning"`
	Critical Hysteresis `yaml:"critical"`
}

// EvaluationWindowConfig is the per-alert-type sliding-window configuration.
type EvaluationWindowConfig struct {
	DurationSeconds       int     `yaml:"duration_seconds"`
	RiskThreshold         float64 `yaml:"risk_threshold"`
	RequiredPctAbove      float64 `yaml:"required_pct_above"`
	RequireWorseningTrend bool    `yaml:"require_worsening_trend"`
}

// MachineType is a per-equipment-type sensor profile used by the demo
// fleet's sample generator.
type MachineType struct {
	Name               string             `yaml:"name"`
	Description        string             `yaml:"description"`
	Baselines          map[string]float64 `yaml:"baselines"`
	Variance           map[string]float64 `yaml:"variance"`
	WarningThresholds  map[string]float64 `yaml:"warning_thresholds"`
	CriticalThresholds map[string]float64 `yaml:"critical_thresholds"`
}

// DegradationPhase is a runtime-hour band used by the demo generator.
type DegradationPhase struct {
	MinHours int `yaml:"min_hours"`
	MaxHours int `yaml:"max_hours"`
}

type AlertTypesConfig struct {
	Rul              RulThresholds                     `yaml:"rul"`
	Health           HealthThresholds                  `yaml:"health"`
	PersistenceSecs  map[string]int                     `yaml:"persistence_seconds"`
	EvaluationWindow map[string]EvaluationWindowConfig  `yaml:"evaluation_windows"`
}

type MultiSensor struct {
	RequiredForCritical bool               `yaml:"required_for_critical"`
	MinDegradedSensors  int                `yaml:"min_degraded_sensors"`
	DegradationLow      map[string]float64 `yaml:"degradation_low"`
}

// AnomalyConfig configures the anomaly-detection alert path.
type AnomalyConfig struct {
	CriticalScore float64 `yaml:"critical_score"`
}

type RateLimits struct {
	MaxAlertsPerMachinePerMinute int `yaml:"max_alerts_per_machine_per_minute"`
	MaxTotalAlertsPerMinute      int `yaml:"max_total_alerts_per_minute"`
}

type Stabilization struct {
	EMAAlpha                    float64 `yaml:"ema_alpha"`
	MinPredictionIntervalSeconds int    `yaml:"min_prediction_interval_seconds"`
	MaxRulHours                 float64 `yaml:"max_rul_hours"`
	MaxHealthGrowthPct          float64 `yaml:"max_health_growth_pct"`
}

type Retention struct {
	AlertDays int `yaml:"alert_days"`
	LogDays   int `yaml:"log_days"`
}

type ForecasterConfig struct {
	CriticalHealthThreshold float64 `yaml:"critical_health_threshold"`
	ConfidenceBandPct       float64 `yaml:"confidence_band_pct"`
	HorizonHoursDefault     int     `yaml:"horizon_hours_default"`
	MinHistoryPoints        int     `yaml:"min_history_points"`
}

type MetricsConfig struct {
	PredictionWindowHours int `yaml:"prediction_window_hours"`
}

type PendingConfig struct {
	StaleAfterSeconds int `yaml:"stale_after_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type HTTPConfig struct {
	Addr              string   `yaml:"addr"`
	CORSOrigins       []string `yaml:"cors_origins"`
	RateLimitPerMin   int      `yaml:"rate_limit_per_minute"`
	DefaultPageSize   int      `yaml:"default_page_size"`
	MaxPageSize       int      `yaml:"max_page_size"`
}

type NotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
}

type LifecycleConfig struct {
	MinOperatorLength int `yaml:"min_operator_length"`
	MinRootCauseLength int `yaml:"min_root_cause_length"`
	MinNotesLength     int `yaml:"min_notes_length"`
}

// Root is the full configuration surface.
type Root struct {
	AlertTypes    AlertTypesConfig         `yaml:"alert_types"`
	MultiSensor   MultiSensor              `yaml:"multi_sensor"`
	Anomaly       AnomalyConfig            `yaml:"anomaly"`
	RateLimits    RateLimits               `yaml:"rate_limits"`
	Stabilization Stabilization            `yaml:"stabilization"`
	Retention     Retention                `yaml:"retention"`
	Forecaster    ForecasterConfig         `yaml:"forecaster"`
	Metrics       MetricsConfig            `yaml:"metrics"`
	Pending       PendingConfig            `yaml:"pending"`
	Lifecycle     LifecycleConfig          `yaml:"lifecycle"`
	Store         StoreConfig              `yaml:"store"`
	HTTP          HTTPConfig               `yaml:"http"`
	Notify        NotifyConfig             `yaml:"notify"`

	// Demo-fleet equipment data, ignored by the pipeline core and consumed
	// only by cmd/demo.
	MachineTypes       map[string]MachineType    `yaml:"machine_types"`
	MachineAssignments map[string]string         `yaml:"machine_assignments"`
	MachineModes       map[string]string         `yaml:"machine_modes"`
	DegradationPhases  map[string]DegradationPhase `yaml:"degradation_phases"`
	DegradationFactors map[string]float64        `yaml:"degradation_factors"`
}

// Load reads a YAML configuration file and fills any zero-valued field with
// its production default.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	return c, nil
}

// Default returns the fully-populated production configuration with no
// backing file, used by demos and tests.
func Default() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func applyDefaults(c *Root) {
	if c.AlertTypes.Rul.Warning.Trigger == 0 {
		c.AlertTypes.Rul.Warning = Hysteresis{Trigger: 48, Clear: 52}
	}
	if c.AlertTypes.Rul.Critical.Trigger == 0 {
		c.AlertTypes.Rul.Critical = Hysteresis{Trigger: 24, Clear: 28}
	}
	if c.AlertTypes.Health.Warning.Trigger == 0 {
		c.AlertTypes.Health.Warning = Hysteresis{Trigger: 50, Clear: 55}
	}
	if c.AlertTypes.Health.Critical.Trigger == 0 {
		c.AlertTypes.Health.Critical = Hysteresis{Trigger: 30, Clear: 35}
	}
	if c.AlertTypes.PersistenceSecs == nil {
		c.AlertTypes.PersistenceSecs = map[string]int{
			"critical_rul":         30,
			"warning_rul":          60,
			"low_health_critical":  30,
			"low_health_warning":   60,
			"anomaly_detected":     45,
		}
	}
	if c.AlertTypes.EvaluationWindow == nil {
		c.AlertTypes.EvaluationWindow = map[string]EvaluationWindowConfig{
			"warning_rul": {DurationSeconds: 60, RiskThreshold: 0.4, RequiredPctAbove: 0.55, RequireWorseningTrend: true},
			"critical_rul": {DurationSeconds: 45, RiskThreshold: 0.6, RequiredPctAbove: 0.65, RequireWorseningTrend: true},
			"low_health_warning": {DurationSeconds: 60, RiskThreshold: 0.4, RequiredPctAbove: 0.55, RequireWorseningTrend: true},
			"low_health_critical": {DurationSeconds: 45, RiskThreshold: 0.6, RequiredPctAbove: 0.65, RequireWorseningTrend: true},
			"anomaly_detected": {DurationSeconds: 90, RiskThreshold: 0.3, RequiredPctAbove: 0.50, RequireWorseningTrend: false},
		}
	}
	if c.MultiSensor.MinDegradedSensors == 0 {
		c.MultiSensor.RequiredForCritical = true
		c.MultiSensor.MinDegradedSensors = 2
	}
	if c.MultiSensor.DegradationLow == nil {
		c.MultiSensor.DegradationLow = map[string]float64{
			"vibration_x": 1.5,
			"vibration_y": 1.5,
			"temperature": 85.0,
			"pressure_low": 90.0,
			"rpm_low": 1350,
		}
	}
	if c.Anomaly.CriticalScore == 0 {
		c.Anomaly.CriticalScore = 5.0
	}
	if c.RateLimits.MaxAlertsPerMachinePerMinute == 0 {
		c.RateLimits.MaxAlertsPerMachinePerMinute = 3
	}
	if c.RateLimits.MaxTotalAlertsPerMinute == 0 {
		c.RateLimits.MaxTotalAlertsPerMinute = 10
	}
	if c.Stabilization.EMAAlpha == 0 {
		c.Stabilization.EMAAlpha = 0.1
	}
	if c.Stabilization.MinPredictionIntervalSeconds == 0 {
		c.Stabilization.MinPredictionIntervalSeconds = 300
	}
	if c.Stabilization.MaxRulHours == 0 {
		c.Stabilization.MaxRulHours = 144
	}
	if c.Stabilization.MaxHealthGrowthPct == 0 {
		c.Stabilization.MaxHealthGrowthPct = 5
	}
	if c.Retention.AlertDays == 0 {
		c.Retention.AlertDays = 90
	}
	if c.Retention.LogDays == 0 {
		c.Retention.LogDays = 730
	}
	if c.Forecaster.CriticalHealthThreshold == 0 {
		c.Forecaster.CriticalHealthThreshold = 30
	}
	if c.Forecaster.ConfidenceBandPct == 0 {
		c.Forecaster.ConfidenceBandPct = 0.10
	}
	if c.Forecaster.HorizonHoursDefault == 0 {
		c.Forecaster.HorizonHoursDefault = 48
	}
	if c.Forecaster.MinHistoryPoints == 0 {
		c.Forecaster.MinHistoryPoints = 10
	}
	if c.Metrics.PredictionWindowHours == 0 {
		c.Metrics.PredictionWindowHours = 48
	}
	if c.Pending.StaleAfterSeconds == 0 {
		c.Pending.StaleAfterSeconds = 120
	}
	if c.Pending.SweepIntervalSeconds == 0 {
		c.Pending.SweepIntervalSeconds = 30
	}
	if c.Lifecycle.MinOperatorLength == 0 {
		c.Lifecycle.MinOperatorLength = 3
	}
	if c.Lifecycle.MinRootCauseLength == 0 {
		c.Lifecycle.MinRootCauseLength = 5
	}
	if c.Lifecycle.MinNotesLength == 0 {
		c.Lifecycle.MinNotesLength = 10
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/maintenance.db"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if len(c.HTTP.CORSOrigins) == 0 {
		c.HTTP.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if c.HTTP.RateLimitPerMin == 0 {
		c.HTTP.RateLimitPerMin = 100
	}
	if c.HTTP.DefaultPageSize == 0 {
		c.HTTP.DefaultPageSize = 50
	}
	if c.HTTP.MaxPageSize == 0 {
		c.HTTP.MaxPageSize = 200
	}
	if c.Notify.RateLimitPerMin == 0 {
		c.Notify.RateLimitPerMin = 10
	}

	if c.MachineTypes == nil {
		c.MachineTypes = defaultMachineTypes()
	}
	if c.MachineAssignments == nil {
		c.MachineAssignments = map[string]string{
			"M-001": "FEEDWATER_PUMP",
			"M-002": "FEEDWATER_PUMP",
			"M-003": "HVAC_CHILLER",
			"M-004": "BOILER_FEED_MOTOR",
		}
	}
	if c.MachineModes == nil {
		c.MachineModes = map[string]string{
			"M-001": "NORMAL",
			"M-002": "NORMAL_NOISY",
			"M-003": "FAILING",
			"M-004": "MANUAL",
		}
	}
	if c.DegradationPhases == nil {
		c.DegradationPhases = map[string]DegradationPhase{
			"HEALTHY":     {MinHours: 0, MaxHours: 500},
			"DEGRADING":   {MinHours: 500, MaxHours: 800},
			"PRE_FAILURE": {MinHours: 800, MaxHours: 950},
			"FAILURE":     {MinHours: 950, MaxHours: 1000},
		}
	}
	if c.DegradationFactors == nil {
		c.DegradationFactors = map[string]float64{
			"HEALTHY": 1.0, "DEGRADING": 1.3, "PRE_FAILURE": 1.8, "FAILURE": 2.5,
		}
	}
}

func defaultMachineTypes() map[string]MachineType {
	return map[string]MachineType{
		"FEEDWATER_PUMP": {
			Name:        "Feedwater Pump",
			Description: "High-pressure pump feeding water to boiler",
			Baselines:   map[string]float64{"vibration_x": 0.55, "vibration_y": 0.60, "temperature": 52.0, "pressure": 145.0, "rpm": 1480.0},
			Variance:    map[string]float64{"vibration": 0.10, "temperature": 3.0, "pressure": 5.0, "rpm": 10.0},
			WarningThresholds:  map[string]float64{"vibration": 1.2, "temperature": 70.0, "pressure_low": 120.0, "pressure_high": 165.0},
			CriticalThresholds: map[string]float64{"vibration": 2.5, "temperature": 85.0, "pressure_low": 100.0, "pressure_high": 180.0},
		},
		"ID_FAN_MOTOR": {
			Name:        "ID Fan Motor",
			Description: "Induced draft fan motor for flue gas extraction",
			Baselines:   map[string]float64{"vibration_x": 0.45, "vibration_y": 0.45, "temperature": 72.0, "pressure": 0.0, "rpm": 1485.0},
			Variance:    map[string]float64{"vibration": 0.06, "temperature": 4.0, "pressure": 0.0, "rpm": 8.0},
			WarningThresholds:  map[string]float64{"vibration": 1.5, "temperature": 85.0, "rpm_low": 1450.0},
			CriticalThresholds: map[string]float64{"vibration": 3.0, "temperature": 95.0, "rpm_low": 1400.0},
		},
		"HVAC_CHILLER": {
			Name:        "HVAC Chiller",
			Description: "Central cooling chiller for control room HVAC",
			Baselines:   map[string]float64{"vibration_x": 0.35, "vibration_y": 0.38, "temperature": 7.5, "pressure": 85.0, "rpm": 1750.0},
			Variance:    map[string]float64{"vibration": 0.04, "temperature": 1.0, "pressure": 3.0, "rpm": 15.0},
			WarningThresholds:  map[string]float64{"vibration": 0.8, "temperature_high": 10.0, "pressure_low": 70.0, "pressure_high": 100.0},
			CriticalThresholds: map[string]float64{"vibration": 1.5, "temperature_high": 15.0, "pressure_low": 60.0, "pressure_high": 120.0},
		},
		"BOILER_FEED_MOTOR": {
			Name:        "Boiler Feed Motor",
			Description: "Main boiler feedwater pump motor",
			Baselines:   map[string]float64{"vibration_x": 0.50, "vibration_y": 0.52, "temperature": 82.0, "pressure": 0.0, "rpm": 2970.0},
			Variance:    map[string]float64{"vibration": 0.08, "temperature": 5.0, "pressure": 0.0, "rpm": 15.0},
			WarningThresholds:  map[string]float64{"vibration": 1.3, "temperature": 95.0, "rpm_low": 2950.0},
			CriticalThresholds: map[string]float64{"vibration": 2.8, "temperature": 105.0, "rpm_low": 2900.0},
		},
	}
}
