// Package stabilizer smooths raw RUL/health predictions per machine:
// exponential smoothing, monotonic RUL enforcement, bounded health growth,
// and a minimum-refresh-interval cache.
package stabilizer

import (
	"sync"
	"time"

	"github.com/predmaint/alertcore/internal/rul"
)

const historyCap = 50

type point struct {
	rul    float64
	health float64
}

type machineState struct {
	history      []point
	lastRefresh  time.Time
	hasRefresh   bool
	cached       point
}

// Stabilizer holds per-machine EMA/monotonic state.
type Stabilizer struct {
	mu            sync.Mutex
	alpha         float64
	minInterval   time.Duration
	maxRul        float64
	maxGrowthPct  float64
	now           func() time.Time
	machines      map[string]*machineState
}

func New(alpha float64, minInterval time.Duration, maxRul, maxGrowthPct float64) *Stabilizer {
	return &Stabilizer{
		alpha:        alpha,
		minInterval:  minInterval,
		maxRul:       maxRul,
		maxGrowthPct: maxGrowthPct,
		now:          time.Now,
		machines:     make(map[string]*machineState),
	}
}

// SetClock overrides the stabilizer's time source; used by tests.
func (s *Stabilizer) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// StablePredict returns the stabilized (rul_hours, health_score) for a
// machine's current sensor readings. If bypass is true, the raw model
// output is returned and the machine's stabilizer state is cleared.
func (s *Stabilizer) StablePredict(machineID string, sensors map[string]float64, bypass bool) (float64, float64) {
	rawRul, rawHealth := rul.Predict(sensors)

	s.mu.Lock()
	defer s.mu.Unlock()

	if bypass {
		delete(s.machines, machineID)
		return rawRul, rawHealth
	}

	now := s.now()
	st, ok := s.machines[machineID]
	if !ok {
		st = &machineState{}
		s.machines[machineID] = st
	}

	if st.hasRefresh && now.Sub(st.lastRefresh) < s.minInterval {
		return st.cached.rul, st.cached.health
	}

	stableRul, stableHealth := s.stabilize(st, rawRul, rawHealth)

	st.cached = point{rul: stableRul, health: stableHealth}
	st.lastRefresh = now
	st.hasRefresh = true

	return stableRul, stableHealth
}

func (s *Stabilizer) stabilize(st *machineState, rawRul, rawHealth float64) (float64, float64) {
	if len(st.history) == 0 {
		st.history = append(st.history, point{rul: rawRul, health: rawHealth})
		return rawRul, rawHealth
	}

	prev := st.history[len(st.history)-1]

	emaRul := s.alpha*rawRul + (1-s.alpha)*prev.rul
	emaHealth := s.alpha*rawHealth + (1-s.alpha)*prev.health

	stableRul := min(emaRul, prev.rul)

	var stableHealth float64
	if emaHealth > prev.health*(1+s.maxGrowthPct/100) {
		stableHealth = prev.health
	} else {
		stableHealth = emaHealth
	}

	stableRul = clamp(stableRul, 0, s.maxRul)
	stableHealth = clamp(stableHealth, 0, 100)

	st.history = append(st.history, point{rul: stableRul, health: stableHealth})
	if len(st.history) > historyCap {
		st.history = st.history[1:]
	}

	return round1(stableRul), round2(stableHealth)
}

// Reset clears a machine's stabilizer state, used after maintenance.
func (s *Stabilizer) Reset(machineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.machines, machineID)
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
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

func round1(v float64) float64 { return roundN(v, 10) }
func round2(v float64) float64 { return roundN(v, 100) }
func roundN(v, n float64) float64 {
	return float64(int64(v*n+sign(v)*0.5)) / n
}
func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
