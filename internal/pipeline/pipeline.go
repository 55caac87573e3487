// Package pipeline composes the per-machine alert stages into a single
// Submit entry point, and owns the concurrency model: one lock per machine
// guarding that machine's state, and a coarse structural lock guarding
// insertion into the machine map. This generalizes a single-decision engine
// into a five-alert-type fixed pipeline, with an explicit
// Emitted/Suppressed/Failed-style result per stage.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/predmaint/alertcore/internal/alertgate"
	"github.com/predmaint/alertcore/internal/anomaly"
	"github.com/predmaint/alertcore/internal/config"
	"github.com/predmaint/alertcore/internal/evalwindow"
	"github.com/predmaint/alertcore/internal/forecaster"
	"github.com/predmaint/alertcore/internal/model"
	"github.com/predmaint/alertcore/internal/observ"
	"github.com/predmaint/alertcore/internal/pending"
	"github.com/predmaint/alertcore/internal/predmetrics"
	"github.com/predmaint/alertcore/internal/stabilizer"
	"github.com/predmaint/alertcore/internal/store"

	"go.uber.org/zap"
)

// alertTypes is the fixed, uniformly-iterated tag set each sample is
// evaluated against, in place of per-type conditional sprawl.
var alertTypes = []string{"warning_rul", "critical_rul", "low_health_warning", "low_health_critical", "anomaly_detected"}

func severityFor(alertType string) string {
	switch alertType {
	case "critical_rul", "low_health_critical":
		return "critical"
	default:
		return "warning"
	}
}

// SensorStore is the subset of internal/store.Store the pipeline uses for
// append-only sensor history (kept narrow so tests can fake it).
type SensorStore interface {
	RecordSensorHistory(ctx context.Context, row store.SensorHistoryRow) error
}

// machineState is the per-machine in-memory state, guarded by its own
// mutex so distinct machines process concurrently.
type machineState struct {
	mu sync.Mutex
}

// Pipeline wires every pipeline stage into the machine's data flow.
type Pipeline struct {
	cfg config.Root

	structMu sync.RWMutex
	machines map[string]*machineState
	detectors map[string]*anomaly.Detector

	stabilizer *stabilizer.Stabilizer
	windows    *evalwindow.Manager
	pending    *pending.Tracker
	gate       *alertgate.Gate
	forecaster *forecaster.Forecaster
	metrics    *predmetrics.Tracker
	store      SensorStore

	now func() time.Time
}

// New wires a Pipeline from a loaded configuration and a persistence
// backend satisfying both the gate's and the pipeline's store contracts.
func New(cfg config.Root, backend *store.Store) *Pipeline {
	gate := alertgate.New(backend, alertgate.MultiSensorConfig{
		RequiredForCritical: cfg.MultiSensor.RequiredForCritical,
		MinDegradedSensors:  cfg.MultiSensor.MinDegradedSensors,
		DegradationLow:      cfg.MultiSensor.DegradationLow,
	}, cfg.RateLimits.MaxAlertsPerMachinePerMinute)

	p := &Pipeline{
		cfg:        cfg,
		machines:   make(map[string]*machineState),
		detectors:  make(map[string]*anomaly.Detector),
		stabilizer: stabilizer.New(cfg.Stabilization.EMAAlpha, time.Duration(cfg.Stabilization.MinPredictionIntervalSeconds)*time.Second, cfg.Stabilization.MaxRulHours, cfg.Stabilization.MaxHealthGrowthPct),
		windows:    evalwindow.NewManager(cfg.AlertTypes.EvaluationWindow),
		gate:       gate,
		forecaster: forecaster.New(forecaster.Config{
			CriticalHealthThreshold: cfg.Forecaster.CriticalHealthThreshold,
			ConfidenceBandPct:       cfg.Forecaster.ConfidenceBandPct,
			MinHistoryPoints:        cfg.Forecaster.MinHistoryPoints,
		}),
		metrics: predmetrics.New(time.Duration(cfg.Metrics.PredictionWindowHours) * time.Hour),
		store:   backend,
		now:     time.Now,
	}
	p.pending = pending.New(cfg.AlertTypes.PersistenceSecs, time.Duration(cfg.Pending.StaleAfterSeconds)*time.Second, gate)
	return p
}

// SetClock overrides every component's time source; used by tests.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
	p.stabilizer.SetClock(now)
	p.windows.SetClock(now)
	p.pending.SetClock(now)
	p.gate.SetClock(now)
	p.forecaster.SetClock(now)
	p.metrics.SetClock(now)
}

func (p *Pipeline) machineFor(machineID string) *machineState {
	p.structMu.RLock()
	m, ok := p.machines[machineID]
	p.structMu.RUnlock()
	if ok {
		return m
	}

	p.structMu.Lock()
	defer p.structMu.Unlock()
	if m, ok := p.machines[machineID]; ok {
		return m
	}
	m = &machineState{}
	p.machines[machineID] = m
	p.detectors[machineID] = anomaly.New()
	return m
}

func (p *Pipeline) detectorFor(machineID string) *anomaly.Detector {
	p.structMu.RLock()
	defer p.structMu.RUnlock()
	return p.detectors[machineID]
}

// Submit feeds one sample through the full pipeline and returns the IDs of
// any alerts emitted as a direct result. Work for a given machine is
// serialized under that machine's lock; distinct machines run concurrently.
func (p *Pipeline) Submit(ctx context.Context, sample model.Sample) ([]string, error) {
	m := p.machineFor(sample.MachineID)
	detector := p.detectorFor(sample.MachineID)

	m.mu.Lock()
	defer m.mu.Unlock()

	isAnomaly, anomalyScore, _ := detector.Detect(sample.Sensors)
	rulHours, health := p.stabilizer.StablePredict(sample.MachineID, sample.Sensors, false)

	p.forecaster.AddHealthReading(sample.MachineID, health)

	if p.store != nil {
		_ = p.store.RecordSensorHistory(ctx, store.SensorHistoryRow{
			MachineID:   sample.MachineID,
			Timestamp:   p.now(),
			Sensors:     sample.Sensors,
			HealthScore: health,
			RulHours:    rulHours,
		})
	}

	risk := evalwindow.RiskScore(rulHours, health, anomalyScore, p.cfg.Stabilization.MaxRulHours)
	for _, at := range alertTypes {
		p.windows.Add(sample.MachineID, at, risk, health, rulHours, sample.Sensors)
	}

	var emitted []string

	emit := func(alertType, severity, message string, metadata map[string]any) {
		eval := p.windows.Evaluate(sample.MachineID, alertType)
		if !eval.MayProceed {
			return
		}
		metadata["sensors"] = sample.Sensors
		metadata["window_eval"] = map[string]any{
			"mean_risk": eval.MeanRisk,
			"trend":     eval.RiskTrend,
			"pct_above": eval.PctAboveThresh,
		}
		id, err := p.pending.Process(ctx, sample.MachineID, alertType, severity, message, metadata)
		if err != nil {
			observ.LogError("pipeline_emit_error", err, zap.String("machine_id", sample.MachineID), zap.String("alert_type", alertType))
			return
		}
		if id != "" {
			emitted = append(emitted, id)
			p.metrics.Record(sample.MachineID, rulHours, health, anomalyScore, 0.8)
			observ.IncCounter("alerts_emitted_total", map[string]string{"alert_type": alertType, "severity": severity})
		}
	}

	rul := p.cfg.AlertTypes.Rul
	switch {
	case rulHours < rul.Critical.Trigger:
		emit("critical_rul", "critical", fmt.Sprintf("Critical: RUL only %.1f hours remaining", rulHours), map[string]any{"rul_hours": rulHours})
	case rulHours < rul.Warning.Trigger:
		emit("warning_rul", "warning", fmt.Sprintf("Warning: RUL %.1f hours, maintenance recommended", rulHours), map[string]any{"rul_hours": rulHours})
	default:
		if rulHours > rul.Warning.Clear {
			p.pending.Clear(sample.MachineID, "warning_rul")
		}
		if rulHours > rul.Critical.Clear {
			p.pending.Clear(sample.MachineID, "critical_rul")
		}
	}

	hc := p.cfg.AlertTypes.Health
	switch {
	case health < hc.Critical.Trigger:
		emit("low_health_critical", "critical", fmt.Sprintf("Critical: Health score %.1f%%", health), map[string]any{"health_score": health})
	case health < hc.Warning.Trigger:
		emit("low_health_warning", "warning", fmt.Sprintf("Warning: Health score %.1f%%", health), map[string]any{"health_score": health})
	default:
		if health > hc.Warning.Clear {
			p.pending.Clear(sample.MachineID, "low_health_warning")
		}
		if health > hc.Critical.Clear {
			p.pending.Clear(sample.MachineID, "low_health_critical")
		}
	}

	if isAnomaly {
		severity := "warning"
		if anomalyScore > p.cfg.Anomaly.CriticalScore {
			severity = "critical"
		}
		emit("anomaly_detected", severity, fmt.Sprintf("Anomaly detected (score: %.2f)", anomalyScore), map[string]any{"anomaly_score": anomalyScore})
	} else {
		p.pending.Clear(sample.MachineID, "anomaly_detected")
	}

	return emitted, nil
}

// ResetMachine clears machineID's stabilizer history and evaluation
// windows, used after maintenance is completed. Pending entries, anomaly
// history, forecaster history and rate buckets are left as they are.
func (p *Pipeline) ResetMachine(machineID string) {
	m := p.machineFor(machineID)
	m.mu.Lock()
	defer m.mu.Unlock()
	p.stabilizer.Reset(machineID)
	p.windows.ClearMachine(machineID)
}

// Forecast exposes the forecaster for a machine.
func (p *Pipeline) Forecast(machineID string, horizonHours int) forecaster.Result {
	return p.forecaster.Forecast(machineID, horizonHours)
}

// RecordFailure records an observed failure for metrics tracking.
func (p *Pipeline) RecordFailure(machineID, kind string) string {
	return p.metrics.RecordFailure(machineID, kind)
}

// Metrics returns the current precision/recall/lead-time summary.
func (p *Pipeline) Metrics() predmetrics.Metrics {
	return p.metrics.Calculate()
}

// Sweep runs every stage's periodic maintenance: stale pending-alert
// eviction and expiry of pending predictions. Idempotent; intended to be called on a fixed tick.
func (p *Pipeline) Sweep() {
	p.pending.Sweep()
	p.metrics.ExpirePending()
}

// Run starts the background sweeper on the configured interval until ctx
// is canceled.
func (p *Pipeline) Run(ctx context.Context) {
	interval := time.Duration(p.cfg.Pending.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}
