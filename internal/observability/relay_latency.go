package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// RelayStage identifies one measured hop of a proxied conversation:
// reaching a ready upstream link, and the wait until the first text or
// audio delta of a response comes back through the relay.
type RelayStage int

const (
	StageUpstreamConnect RelayStage = iota
	StageFirstTextDelta
	StageFirstAudioDelta
	numRelayStages
)

var relayStageInfo = [numRelayStages]struct {
	name        string
	targetP95MS float64
}{
	StageUpstreamConnect: {"upstream_connect", 1000},
	StageFirstTextDelta:  {"first_text_delta", 900},
	StageFirstAudioDelta: {"first_audio_delta", 1600},
}

func (s RelayStage) String() string {
	if s < 0 || s >= numRelayStages {
		return "unknown"
	}
	return relayStageInfo[s].name
}

type RelayStageStats struct {
	Stage        string  `json:"stage"`
	Samples      int     `json:"samples"`
	LastMS       float64 `json:"last_ms"`
	MaxMS        float64 `json:"max_ms"`
	P50MS        float64 `json:"p50_ms"`
	P95MS        float64 `json:"p95_ms"`
	P99MS        float64 `json:"p99_ms"`
	TargetP95MS  float64 `json:"target_p95_ms"`
	WithinTarget bool    `json:"within_target"`
}

type RelayStageSnapshot struct {
	GeneratedAt time.Time         `json:"generated_at"`
	WindowSize  int               `json:"window_size"`
	Stages      []RelayStageStats `json:"stages"`
}

// relayLatency keeps the newest windowSize samples per stage. The stage
// set is fixed at compile time, so storage is a flat array rather than
// a map and Observe never allocates once a window is full.
type relayLatency struct {
	mu      sync.Mutex
	size    int
	windows [numRelayStages]stageSamples
}

type stageSamples struct {
	ms    []float64
	total int // lifetime count; ms keeps only the newest size samples
}

func newRelayLatency(size int) *relayLatency {
	if size <= 0 {
		size = 256
	}
	return &relayLatency{size: size}
}

func (r *relayLatency) Observe(stage RelayStage, ms float64) {
	if stage < 0 || stage >= numRelayStages || ms < 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w := &r.windows[stage]
	if len(w.ms) < r.size {
		w.ms = append(w.ms, ms)
	} else {
		w.ms[w.total%r.size] = ms
	}
	w.total++
}

// Snapshot summarizes each stage that has at least one sample. Stages
// appear in declaration order, not alphabetically.
func (r *relayLatency) Snapshot() RelayStageSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := RelayStageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  r.size,
	}
	for stage := RelayStage(0); stage < numRelayStages; stage++ {
		w := r.windows[stage]
		if w.total == 0 {
			continue
		}
		sorted := append([]float64(nil), w.ms...)
		sort.Float64s(sorted)

		info := relayStageInfo[stage]
		p95 := percentile(sorted, 95)
		snap.Stages = append(snap.Stages, RelayStageStats{
			Stage:        info.name,
			Samples:      len(w.ms),
			LastMS:       roundMS(w.ms[(w.total-1)%r.size]),
			MaxMS:        roundMS(sorted[len(sorted)-1]),
			P50MS:        roundMS(percentile(sorted, 50)),
			P95MS:        roundMS(p95),
			P99MS:        roundMS(percentile(sorted, 99)),
			TargetP95MS:  info.targetP95MS,
			WithinTarget: p95 <= info.targetP95MS,
		})
	}
	return snap
}

// percentile is nearest-rank: the smallest sample such that pct percent
// of the set is at or below it.
func percentile(sorted []float64, pct int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	n := (pct*len(sorted) + 99) / 100
	if n < 1 {
		n = 1
	}
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[n-1]
}

func roundMS(v float64) float64 {
	return math.Round(v*100) / 100
}
