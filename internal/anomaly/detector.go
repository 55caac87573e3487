// Package anomaly implements per-machine sensor anomaly detection: a
// z-score fallback while history is short, and a deterministic
// standardized-distance outlier scorer, refit on every sample, once
// history is long enough.
package anomaly

import (
	"math"
	"sort"
	"sync"
)

const (
	historyCap        = 200
	minSamplesZScore  = 10
	minSamplesOutlier = 20
	zScoreThreshold   = 3.5
	// reportedThreshold intentionally does not match zScoreThreshold; see
	// DESIGN.md open question 3 — this mismatch is carried from the source
	// as-is rather than guessed at.
	reportedThreshold = 3.0
	epsilon           = 1e-6
	contamination     = 0.1
)

var featureNames = []string{"vibration_x", "vibration_y", "temperature", "pressure", "rpm"}

// Details carries the diagnostic payload returned alongside a detection.
type Details struct {
	Method       string
	Score        float64
	Threshold    float64
	SensorZScore map[string]float64
}

// Detector holds one machine's rolling feature history.
type Detector struct {
	mu      sync.Mutex
	history [][5]float64
}

func New() *Detector {
	return &Detector{}
}

func extractFeatures(sensors map[string]float64) [5]float64 {
	return [5]float64{
		sensors["vibration_x"],
		sensors["vibration_y"],
		sensors["temperature"],
		sensors["pressure"],
		sensors["rpm"],
	}
}

// Detect reports whether sensors is anomalous, returning a score and
// diagnostic details. Fewer than minSamplesZScore history points yields
// (false, 0, {method: insufficient_data}).
func (d *Detector) Detect(sensors map[string]float64) (bool, float64, Details) {
	d.mu.Lock()
	defer d.mu.Unlock()

	features := extractFeatures(sensors)
	d.addSampleLocked(features)

	if len(d.history) < minSamplesZScore {
		return false, 0, Details{Method: "insufficient_data"}
	}
	if len(d.history) < minSamplesOutlier {
		return d.detectZScoreLocked(features)
	}
	return d.detectOutlierLocked(features)
}

func (d *Detector) addSampleLocked(features [5]float64) {
	d.history = append(d.history, features)
	if len(d.history) > historyCap {
		d.history = d.history[1:]
	}
}

func meanStd(history [][5]float64) (mean, std [5]float64) {
	n := float64(len(history))
	for _, f := range history {
		for i := 0; i < 5; i++ {
			mean[i] += f[i]
		}
	}
	for i := 0; i < 5; i++ {
		mean[i] /= n
	}
	for _, f := range history {
		for i := 0; i < 5; i++ {
			d := f[i] - mean[i]
			std[i] += d * d
		}
	}
	for i := 0; i < 5; i++ {
		std[i] = math.Sqrt(std[i]/n) + epsilon
	}
	return mean, std
}

func zScores(features, mean, std [5]float64) [5]float64 {
	var z [5]float64
	for i := 0; i < 5; i++ {
		z[i] = math.Abs((features[i] - mean[i]) / std[i])
	}
	return z
}

func (d *Detector) detectZScoreLocked(features [5]float64) (bool, float64, Details) {
	mean, std := meanStd(d.history)
	z := zScores(features, mean, std)
	maxZ := 0.0
	for _, v := range z {
		if v > maxZ {
			maxZ = v
		}
	}
	isAnomaly := maxZ > zScoreThreshold
	details := Details{
		Method:    "z_score",
		Score:     maxZ,
		Threshold: reportedThreshold,
		SensorZScore: map[string]float64{
			featureNames[0]: z[0],
			featureNames[1]: z[1],
			featureNames[2]: z[2],
			featureNames[3]: z[3],
			featureNames[4]: z[4],
		},
	}
	return isAnomaly, maxZ, details
}

// detectOutlierLocked is the isolation-forest-equivalent path: each history
// point's mean absolute standardized distance is computed against the
// current mean/std, the (1-contamination) quantile of those distances sets
// the cutoff, and the sample is anomalous if its own distance exceeds it.
// This reproduces IsolationForest's "higher score = more anomalous" and
// contamination-controlled decision boundary deterministically.
func (d *Detector) detectOutlierLocked(features [5]float64) (bool, float64, Details) {
	mean, std := meanStd(d.history)

	scores := make([]float64, len(d.history))
	for i, f := range d.history {
		scores[i] = avgAbs(zScores(f, mean, std))
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	idx := int(math.Ceil((1 - contamination) * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	cutoff := sorted[idx]

	score := avgAbs(zScores(features, mean, std))
	isAnomaly := score > cutoff

	return isAnomaly, score, Details{
		Method:    "isolation_forest",
		Score:     score,
		Threshold: cutoff,
	}
}

func avgAbs(z [5]float64) float64 {
	sum := 0.0
	for _, v := range z {
		sum += v
	}
	return sum / float64(len(z))
}

// HealthScore converts a detection outcome into a 0-100 health score; lower
// anomaly score maps to higher health.
func (d *Detector) HealthScore(sensors map[string]float64) float64 {
	_, score, details := d.Detect(sensors)
	var health float64
	if details.Method == "z_score" {
		health = 100 - (score/3.0)*100
	} else {
		health = 100 - math.Abs(score)*10
	}
	if health < 0 {
		health = 0
	}
	if health > 100 {
		health = 100
	}
	return math.Round(health*100) / 100
}
