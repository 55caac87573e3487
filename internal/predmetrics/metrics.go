// Package predmetrics tracks prediction outcomes and computes
// precision/recall/F1/false-alarm/lead-time statistics.
package predmetrics

import (
	"fmt"
	"sync"
	"time"
)

// Outcome is a prediction's evaluated disposition.
type Outcome string

const (
	Pending        Outcome = "PENDING"
	TruePositive   Outcome = "TRUE_POSITIVE"
	FalsePositive  Outcome = "FALSE_POSITIVE"
	FalseNegative  Outcome = "FALSE_NEGATIVE"
)

// PredictionRecord is a single recorded prediction.
type PredictionRecord struct {
	ID                  string
	MachineID           string
	PredictedAt         time.Time
	PredictedFailureAt  time.Time
	TTFHours            float64
	HealthScore         float64
	AnomalyScore        float64
	Confidence          float64
	Outcome             Outcome
	LeadTimeHours       *float64
}

// FailureEvent is a single recorded failure.
type FailureEvent struct {
	ID          string
	MachineID   string
	OccurredAt  time.Time
	Kind        string
	PredictionID string
}

// Metrics is the computed summary.
type Metrics struct {
	TruePositive  int
	FalsePositive int
	// TrueNegative is a derived approximation, not a directly observed
	// count: |predictions| - TP - FP, floored
	// at zero.
	TrueNegative  int
	FalseNegative int
	Precision     float64
	Recall        float64
	F1            float64
	FalseAlarm    float64
	AvgLeadTimeHours float64
	MaxLeadTimeHours float64
	MinLeadTimeHours float64
	TotalPredictions int
	TotalFailures    int
}

// Tracker holds in-memory prediction and failure records.
type Tracker struct {
	mu                    sync.Mutex
	predictions           map[string]*PredictionRecord
	failures              map[string]*FailureEvent
	predictionWindow      time.Duration
	now                   func() time.Time
	predCounter           int
	failCounter           int
}

func New(predictionWindow time.Duration) *Tracker {
	return &Tracker{
		predictions:      make(map[string]*PredictionRecord),
		failures:         make(map[string]*FailureEvent),
		predictionWindow: predictionWindow,
		now:              time.Now,
	}
}

// SetClock overrides the tracker's time source; used by tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Record creates a PENDING prediction for machineID and returns its ID.
func (t *Tracker) Record(machineID string, ttfHours, health, anomaly, confidence float64) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.predCounter++
	id := predictionID(t.predCounter)
	now := t.now()
	t.predictions[id] = &PredictionRecord{
		ID:                 id,
		MachineID:          machineID,
		PredictedAt:        now,
		PredictedFailureAt: now.Add(time.Duration(ttfHours * float64(time.Hour))),
		TTFHours:           ttfHours,
		HealthScore:        health,
		AnomalyScore:       anomaly,
		Confidence:         confidence,
		Outcome:            Pending,
	}
	return id
}

// RecordFailure creates a FailureEvent for machineID and matches it
// against the earliest PENDING prediction for the same machine within the
// prediction window.
func (t *Tracker) RecordFailure(machineID, kind string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failCounter++
	failID := failureID(t.failCounter)
	now := t.now()

	var match *PredictionRecord
	var bestAge time.Duration
	for _, p := range t.predictions {
		if p.MachineID != machineID || p.Outcome != Pending {
			continue
		}
		age := now.Sub(p.PredictedAt)
		if age <= 0 || age > t.predictionWindow {
			continue
		}
		if match == nil || age > bestAge {
			match = p
			bestAge = age
		}
	}

	f := &FailureEvent{ID: failID, MachineID: machineID, OccurredAt: now, Kind: kind}
	if match != nil {
		lead := bestAge.Hours()
		match.Outcome = TruePositive
		match.LeadTimeHours = &lead
		f.PredictionID = match.ID
	}
	t.failures[failID] = f
	return failID
}

// ExpirePending marks pending predictions older than the prediction window
// as FALSE_POSITIVE. Idempotent; intended for the periodic background
// sweep.
func (t *Tracker) ExpirePending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for _, p := range t.predictions {
		if p.Outcome != Pending {
			continue
		}
		if now.Sub(p.PredictedAt) > t.predictionWindow {
			p.Outcome = FalsePositive
		}
	}
}

// Calculate computes the full metrics summary. It expires
// pending predictions first so the counts reflect the current time.
func (t *Tracker) Calculate() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for _, p := range t.predictions {
		if p.Outcome == Pending && now.Sub(p.PredictedAt) > t.predictionWindow {
			p.Outcome = FalsePositive
		}
	}

	var tp, fp int
	var leadTimes []float64
	for _, p := range t.predictions {
		switch p.Outcome {
		case TruePositive:
			tp++
			if p.LeadTimeHours != nil {
				leadTimes = append(leadTimes, *p.LeadTimeHours)
			}
		case FalsePositive:
			fp++
		}
	}

	var fn int
	for _, f := range t.failures {
		if f.PredictionID == "" {
			fn++
		}
	}

	tn := len(t.predictions) - tp - fp
	if tn < 0 {
		tn = 0
	}

	precision := ratioOrDefault(tp, tp+fp, 1.0)
	recall := ratioOrDefault(tp, tp+fn, 1.0)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	falseAlarm := ratioOrDefault(fp, fp+tn, 0.0)

	avg, mx, mn := leadTimeStats(leadTimes)

	return Metrics{
		TruePositive:     tp,
		FalsePositive:    fp,
		TrueNegative:     tn,
		FalseNegative:    fn,
		Precision:        precision,
		Recall:           recall,
		F1:               f1,
		FalseAlarm:       falseAlarm,
		AvgLeadTimeHours: avg,
		MaxLeadTimeHours: mx,
		MinLeadTimeHours: mn,
		TotalPredictions: len(t.predictions),
		TotalFailures:    len(t.failures),
	}
}

func ratioOrDefault(num, denom int, def float64) float64 {
	if denom == 0 {
		return def
	}
	return float64(num) / float64(denom)
}

func leadTimeStats(values []float64) (avg, max, min float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	sum := 0.0
	max = values[0]
	min = values[0]
	for _, v := range values {
		sum += v
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	return sum / float64(len(values)), max, min
}

func predictionID(n int) string { return fmt.Sprintf("PRED-%04d", n) }

func failureID(n int) string { return fmt.Sprintf("FAIL-%04d", n) }
