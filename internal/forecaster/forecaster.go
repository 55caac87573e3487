// Package forecaster projects a machine's health trajectory and estimates
// a time-to-critical. The preferred method is Holt's linear
// trend (double exponential smoothing), a standard univariate time-series
// model; a linear-regression fallback covers degenerate or short history
// so the call never fails.
package forecaster

import (
	"math"
	"sync"
	"time"
)

const historyCap = 100

// Point is one health-history observation.
type Point struct {
	Timestamp time.Time
	Health    float64
}

// ForecastPoint is a single projected hour in the output timeline.
type ForecastPoint struct {
	Timestamp time.Time
	Health    float64
	Lower     float64
	Upper     float64
}

// Result is the forecaster's response shape.
type Result struct {
	Status   string // "insufficient_data" | "success"
	Method   string // "holt_linear" | "linear_regression"
	TTFHours *float64
	Forecast []ForecastPoint
}

// Config carries the forecaster's tunable thresholds.
type Config struct {
	CriticalHealthThreshold float64
	ConfidenceBandPct       float64
	MinHistoryPoints        int
}

// Forecaster holds per-machine bounded health history.
type Forecaster struct {
	mu       sync.Mutex
	cfg      Config
	now      func() time.Time
	machines map[string][]Point
}

func New(cfg Config) *Forecaster {
	if cfg.CriticalHealthThreshold == 0 {
		cfg.CriticalHealthThreshold = 30
	}
	if cfg.ConfidenceBandPct == 0 {
		cfg.ConfidenceBandPct = 0.10
	}
	if cfg.MinHistoryPoints == 0 {
		cfg.MinHistoryPoints = 10
	}
	return &Forecaster{cfg: cfg, now: time.Now, machines: make(map[string][]Point)}
}

// SetClock overrides the forecaster's time source; used by tests.
func (f *Forecaster) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// AddHealthReading appends a health observation for machineID, capping
// history at historyCap entries.
func (f *Forecaster) AddHealthReading(machineID string, health float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hist := append(f.machines[machineID], Point{Timestamp: f.now(), Health: health})
	if len(hist) > historyCap {
		hist = hist[len(hist)-historyCap:]
	}
	f.machines[machineID] = hist
}

// Forecast projects machineID's health trajectory horizonHours into the
// future and reports the first hour projected to cross the critical
// threshold, or nil if none does within the horizon.
func (f *Forecaster) Forecast(machineID string, horizonHours int) Result {
	f.mu.Lock()
	hist := append([]Point(nil), f.machines[machineID]...)
	now := f.now()
	f.mu.Unlock()

	if len(hist) < f.cfg.MinHistoryPoints {
		return Result{Status: "insufficient_data"}
	}

	if len(hist) > 100 {
		hist = hist[len(hist)-100:]
	}

	level, trend, ok := holtFit(hist)
	method := "holt_linear"
	if !ok {
		level, trend = linearFit(hist)
		method = "linear_regression"
	}

	points := make([]ForecastPoint, 0, horizonHours)
	var ttf *float64
	band := f.cfg.ConfidenceBandPct
	for h := 1; h <= horizonHours; h++ {
		projected := clamp(level+trend*float64(h), 0, 100)
		lower := clamp(projected*(1-band), 0, 100)
		upper := clamp(projected*(1+band), 0, 100)
		points = append(points, ForecastPoint{
			Timestamp: now.Add(time.Duration(h) * time.Hour),
			Health:    round2(projected),
			Lower:     round2(lower),
			Upper:     round2(upper),
		})
		if ttf == nil && projected < f.cfg.CriticalHealthThreshold {
			v := float64(h)
			ttf = &v
		}
	}

	return Result{Status: "success", Method: method, TTFHours: ttf, Forecast: points}
}

// holtFit fits Holt's linear trend method (double exponential smoothing)
// over the health observations in recorded order, one smoothing step per
// observation (no resampling). ok is false when the history has fewer than
// 2 points or the fit degenerates.
func holtFit(hist []Point) (level, trend float64, ok bool) {
	if len(hist) < 2 {
		return 0, 0, false
	}
	const alpha = 0.3
	const beta = 0.1

	level = hist[0].Health
	trend = hist[1].Health - hist[0].Health

	for i := 1; i < len(hist); i++ {
		prevLevel := level
		level = alpha*hist[i].Health + (1-alpha)*(level+trend)
		trend = beta*(level-prevLevel) + (1-beta)*trend
	}
	if math.IsNaN(level) || math.IsNaN(trend) || math.IsInf(level, 0) || math.IsInf(trend, 0) {
		return 0, 0, false
	}
	return level, trend, true
}

// linearFit is an ordinary-least-squares fallback over health vs. sample
// index, returning (intercept-at-last-point, per-step slope).
func linearFit(hist []Point) (level, trend float64) {
	n := float64(len(hist))
	var sumX, sumY, sumXY, sumXX float64
	for i, p := range hist {
		x := float64(i)
		sumX += x
		sumY += p.Health
		sumXY += x * p.Health
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return hist[len(hist)-1].Health, 0
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n
	lastX := n - 1
	return intercept + slope*lastX, slope
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
