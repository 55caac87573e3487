// Package evalwindow implements the sliding evaluation window and the risk-score formula that feeds it.
package evalwindow

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/predmaint/alertcore/internal/config"
)

// Sample is a single observation fed into a window.
type Sample struct {
	Timestamp time.Time
	Risk      float64
	Health    float64
	Rul       float64
	Sensors   map[string]float64
}

// Evaluation is the result of evaluating a window.
type Evaluation struct {
	MayProceed      bool
	MeanRisk        float64
	RiskTrend       float64
	PctAboveThresh  float64
	SampleCount     int
	DurationActual  float64
	Reason          string
}

// RiskScore derives a scalar in [0,1] from RUL, health, and anomaly score,
// weighted 0.50/0.35/0.15.
func RiskScore(rulHours, health, anomalyScore, maxRul float64) float64 {
	rulComponent := 1 - rulHours/maxRul
	healthComponent := 1 - health/100
	anomalyComponent := anomalyScore / 10
	if anomalyComponent > 1 {
		anomalyComponent = 1
	}
	score := 0.50*rulComponent + 0.35*healthComponent + 0.15*anomalyComponent
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// Window is a single (machine, alert-type) sliding window.
type Window struct {
	mu      sync.Mutex
	cfg     config.EvaluationWindowConfig
	samples []Sample
	now     func() time.Time
}

func newWindow(cfg config.EvaluationWindowConfig, now func() time.Time) *Window {
	return &Window{cfg: cfg, now: now}
}

// Add appends a new sample with the current timestamp and prunes.
func (w *Window) Add(risk, health, rulHours float64, sensors map[string]float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, Sample{
		Timestamp: w.now(),
		Risk:      risk,
		Health:    health,
		Rul:       rulHours,
		Sensors:   sensors,
	})
	w.pruneLocked()
}

func (w *Window) pruneLocked() {
	cutoff := w.now().Add(-time.Duration(w.cfg.DurationSeconds) * time.Second)
	i := 0
	for i < len(w.samples) && w.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = w.samples[i:]
	}
}

// Evaluate applies predicate set.
func (w *Window) Evaluate() Evaluation {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked()

	if len(w.samples) < 3 {
		return Evaluation{
			MayProceed:  false,
			SampleCount: len(w.samples),
			Reason:      "Insufficient samples (<3)",
		}
	}

	risks := make([]float64, len(w.samples))
	for i, s := range w.samples {
		risks[i] = s.Risk
	}

	meanRisk := mean(risks)
	trend := trend(w.samples)
	pctAbove := fractionAtOrAbove(risks, w.cfg.RiskThreshold)
	durationActual := w.samples[len(w.samples)-1].Timestamp.Sub(w.samples[0].Timestamp).Seconds()

	condMean := meanRisk >= w.cfg.RiskThreshold
	condTrend := !w.cfg.RequireWorseningTrend || trend > 0
	condPct := pctAbove >= w.cfg.RequiredPctAbove

	mayProceed := condMean && condTrend && condPct

	var reasons []string
	if !condMean {
		reasons = append(reasons, fmt.Sprintf("mean_risk %.2f < %.2f", meanRisk, w.cfg.RiskThreshold))
	}
	if !condTrend {
		reasons = append(reasons, fmt.Sprintf("trend %.4f not worsening", trend))
	}
	if !condPct {
		reasons = append(reasons, fmt.Sprintf("pct_above %.0f%% < %.0f%%", pctAbove*100, w.cfg.RequiredPctAbove*100))
	}
	reason := "PROCEED"
	if !mayProceed {
		reason = strings.Join(reasons, "; ")
	}

	return Evaluation{
		MayProceed:     mayProceed,
		MeanRisk:       meanRisk,
		RiskTrend:      trend,
		PctAboveThresh: pctAbove,
		SampleCount:    len(w.samples),
		DurationActual: durationActual,
		Reason:         reason,
	}
}

// Clear removes all samples (after maintenance or reset).
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = nil
}

func mean(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func fractionAtOrAbove(v []float64, threshold float64) float64 {
	count := 0
	for _, x := range v {
		if x >= threshold {
			count++
		}
	}
	return float64(count) / float64(len(v))
}

// trend computes the least-squares slope of risk vs. time-in-seconds,
// scaled to per-minute units. Spans under 1 second report zero trend.
func trend(samples []Sample) float64 {
	if len(samples) < 2 {
		return 0
	}
	t0 := samples[0].Timestamp
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = s.Timestamp.Sub(t0).Seconds()
		ys[i] = s.Risk
	}
	if xs[len(xs)-1]-xs[0] < 1 {
		return 0
	}
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX + 1e-10
	slope := (n*sumXY - sumX*sumY) / denom
	return slope * 60
}

// Manager holds one Window per (machine, alert-type) pair, guarded by a
// coarse structural lock for insertion and a per-window
// mutex for reads/mutations.
type Manager struct {
	mu      sync.RWMutex
	windows map[string]*Window
	cfg     map[string]config.EvaluationWindowConfig
	now     func() time.Time
}

func NewManager(cfg map[string]config.EvaluationWindowConfig) *Manager {
	return &Manager{
		windows: make(map[string]*Window),
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetClock overrides the time source used by windows created from now on
// and any already-created window. Used by tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	for _, w := range m.windows {
		w.mu.Lock()
		w.now = now
		w.mu.Unlock()
	}
}

func key(machineID, alertType string) string { return machineID + "\x00" + alertType }

func (m *Manager) windowFor(machineID, alertType string) *Window {
	k := key(machineID, alertType)

	m.mu.RLock()
	w, ok := m.windows[k]
	m.mu.RUnlock()
	if ok {
		return w
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.windows[k]; ok {
		return w
	}
	cfg, ok := m.cfg[alertType]
	if !ok {
		cfg = config.EvaluationWindowConfig{DurationSeconds: 60, RequiredPctAbove: 0.6, RequireWorseningTrend: true, RiskThreshold: 0.5}
	}
	w = newWindow(cfg, m.now)
	m.windows[k] = w
	return w
}

func (m *Manager) Add(machineID, alertType string, risk, health, rulHours float64, sensors map[string]float64) {
	m.windowFor(machineID, alertType).Add(risk, health, rulHours, sensors)
}

func (m *Manager) Evaluate(machineID, alertType string) Evaluation {
	m.mu.RLock()
	w, ok := m.windows[key(machineID, alertType)]
	m.mu.RUnlock()
	if !ok {
		return Evaluation{MayProceed: false, Reason: "No window exists"}
	}
	return w.Evaluate()
}

// ClearMachine clears every window belonging to machineID, used after
// maintenance.
func (m *Manager) ClearMachine(machineID string) {
	m.mu.RLock()
	var toClear []*Window
	prefix := machineID + "\x00"
	for k, w := range m.windows {
		if strings.HasPrefix(k, prefix) {
			toClear = append(toClear, w)
		}
	}
	m.mu.RUnlock()

	for _, w := range toClear {
		w.Clear()
	}
}
