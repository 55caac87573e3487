package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predmaint/alertcore/internal/config"
	"github.com/predmaint/alertcore/internal/model"
	"github.com/predmaint/alertcore/internal/store"
)

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store) {
	t.Helper()
	backend, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	cfg := config.Default()
	cfg.Stabilization.MinPredictionIntervalSeconds = 0
	cfg.MultiSensor.RequiredForCritical = false
	cfg.RateLimits.MaxAlertsPerMachinePerMinute = 100
	cfg.AlertTypes.EvaluationWindow["critical_rul"] = config.EvaluationWindowConfig{
		DurationSeconds: 300, RiskThreshold: 0.1, RequiredPctAbove: 0.5, RequireWorseningTrend: false,
	}
	cfg.AlertTypes.PersistenceSecs["critical_rul"] = 5

	p := New(cfg, backend)
	return p, backend
}

func healthySensors() map[string]float64 {
	return map[string]float64{"vibration_x": 0.4, "vibration_y": 0.4, "temperature": 65, "pressure": 100, "rpm": 1500}
}

func degradedSensors() map[string]float64 {
	return map[string]float64{"vibration_x": 4.0, "vibration_y": 4.0, "temperature": 110, "pressure": 100, "rpm": 1500}
}

func TestSubmit_HealthySensorsEmitNoAlerts(t *testing.T) {
	p, _ := newTestPipeline(t)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.SetClock(func() time.Time { return clock })

	for i := 0; i < 5; i++ {
		ids, err := p.Submit(context.Background(), model.Sample{MachineID: "M-001", Sensors: healthySensors()})
		require.NoError(t, err)
		assert.Empty(t, ids)
		clock = clock.Add(2 * time.Second)
	}
}

func TestSubmit_SustainedCriticalConditionEmitsExactlyOnce(t *testing.T) {
	p, backend := newTestPipeline(t)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.SetClock(func() time.Time { return clock })

	var allEmitted []string
	for i := 0; i < 8; i++ {
		ids, err := p.Submit(context.Background(), model.Sample{MachineID: "M-001", Sensors: degradedSensors()})
		require.NoError(t, err)
		allEmitted = append(allEmitted, ids...)
		clock = clock.Add(2 * time.Second)
	}

	require.NotEmpty(t, allEmitted, "sustained critical RUL should eventually emit an alert")

	alerts, err := backend.ListAlerts(context.Background(), "M-001", false)
	require.NoError(t, err)

	var criticalCount int
	for _, a := range alerts {
		if a.AlertType == "critical_rul" {
			criticalCount++
		}
	}
	assert.Equal(t, 1, criticalCount, "dedup should prevent a second active critical_rul alert")
}

func TestResetMachine_ClearsStabilizerAndWindowState(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	p.Submit(ctx, model.Sample{MachineID: "M-001", Sensors: degradedSensors()})
	p.ResetMachine("M-001")

	m := p.machineFor("M-001")
	assert.NotNil(t, m)

	ids, err := p.Submit(ctx, model.Sample{MachineID: "M-001", Sensors: healthySensors()})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestForecastAndMetricsAndRecordFailure_Delegate(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		p.Submit(ctx, model.Sample{MachineID: "M-001", Sensors: degradedSensors()})
	}

	result := p.Forecast("M-001", 24)
	assert.NotEmpty(t, result.Status)

	failID := p.RecordFailure("M-001", "bearing")
	assert.NotEmpty(t, failID)

	metrics := p.Metrics()
	assert.GreaterOrEqual(t, metrics.TotalFailures, 1)
}

func TestSweep_DoesNotPanicWithNoPendingEntries(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.Sweep()
}

func anomalyBaseline() map[string]float64 {
	return map[string]float64{"vibration_x": 0.4, "vibration_y": 0.4, "temperature": 65, "pressure": 100, "rpm": 1500}
}

// TestSubmit_AnomalySeverityUsesConfiguredCriticalScore drives the detector's
// z-score path to a known score (a pressure spike followed by an rpm drop,
// each against an otherwise-constant 13-sample baseline) and checks that the
// emitted alert's severity tracks cfg.Anomaly.CriticalScore rather than a
// hardcoded cutoff.
func TestSubmit_AnomalySeverityUsesConfiguredCriticalScore(t *testing.T) {
	cases := []struct {
		name          string
		criticalScore float64
		wantSeverity  string
	}{
		{"score below configured threshold stays warning", 10, "warning"},
		{"score above configured threshold escalates to critical", 3.65, "critical"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend, err := store.Open(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { backend.Close() })

			cfg := config.Default()
			cfg.Stabilization.MinPredictionIntervalSeconds = 0
			cfg.MultiSensor.RequiredForCritical = false
			cfg.RateLimits.MaxAlertsPerMachinePerMinute = 100
			cfg.Anomaly.CriticalScore = tc.criticalScore
			cfg.AlertTypes.EvaluationWindow["anomaly_detected"] = config.EvaluationWindowConfig{
				DurationSeconds: 300, RiskThreshold: 0, RequiredPctAbove: 0, RequireWorseningTrend: false,
			}
			cfg.AlertTypes.PersistenceSecs["anomaly_detected"] = 0

			p := New(cfg, backend)
			clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			p.SetClock(func() time.Time { return clock })
			ctx := context.Background()

			for i := 0; i < 13; i++ {
				_, err := p.Submit(ctx, model.Sample{MachineID: "M-ANOM", Sensors: anomalyBaseline()})
				require.NoError(t, err)
				clock = clock.Add(time.Second)
			}

			firstSpike := anomalyBaseline()
			firstSpike["pressure"] = 300
			_, err = p.Submit(ctx, model.Sample{MachineID: "M-ANOM", Sensors: firstSpike})
			require.NoError(t, err)
			clock = clock.Add(time.Second)

			secondSpike := anomalyBaseline()
			secondSpike["rpm"] = 50
			ids, err := p.Submit(ctx, model.Sample{MachineID: "M-ANOM", Sensors: secondSpike})
			require.NoError(t, err)
			require.NotEmpty(t, ids, "sustained anomaly across two triggers should emit")

			alerts, err := backend.ListAlerts(ctx, "M-ANOM", false)
			require.NoError(t, err)
			var anomalyAlert *store.Alert
			for i := range alerts {
				if alerts[i].AlertType == "anomaly_detected" {
					anomalyAlert = &alerts[i]
				}
			}
			require.NotNil(t, anomalyAlert, "expected an anomaly_detected alert")
			assert.Equal(t, tc.wantSeverity, anomalyAlert.Severity)
		})
	}
}
