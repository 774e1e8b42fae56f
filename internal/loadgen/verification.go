package loadgen

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/presence/internal/domain/types"
)

// Latency quantiles reported per run.
const (
	quantileMedian = 0.5
	quantileTail   = 0.95
)

// tally accumulates outcomes from concurrent workers.
type tally struct {
	mu          sync.Mutex
	start       time.Time
	created     int
	failed      int
	ended       int
	probes      int
	probeErrs   int
	rateLimited int
	statuses    map[string]int
	errorTypes  map[string]int
	latencies   []float64
}

func newTally() *tally {
	return &tally{statuses: map[string]int{}, errorTypes: map[string]int{}}
}

func (t *tally) sessionCreated() {
	t.mu.Lock()
	t.created++
	t.mu.Unlock()
}

func (t *tally) sessionEnded() {
	t.mu.Lock()
	t.ended++
	t.mu.Unlock()
}

func (t *tally) sessionFailed(resp response) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
	t.recordErrorLocked(resp)
}

func (t *tally) probe(status string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.probes++
	t.statuses[status]++
	t.latencies = append(t.latencies, float64(latency)/float64(time.Millisecond))
}

func (t *tally) probeFailed(resp response) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.probes++
	t.probeErrs++
	t.recordErrorLocked(resp)
}

func (t *tally) recordErrorLocked(resp response) {
	if resp.Status == http.StatusTooManyRequests {
		t.rateLimited++
	}
	kind := decodeError(resp.Body)
	if kind == "" {
		kind = "transport"
		if resp.Status != 0 {
			kind = fmt.Sprintf("http_%d", resp.Status)
		}
	}
	t.errorTypes[kind]++
}

func (t *tally) stats(users int) *Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &Stats{
		Users:           users,
		SessionsCreated: t.created,
		SessionsFailed:  t.failed,
		SessionsEnded:   t.ended,
		ProbesSent:      t.probes,
		ProbesFailed:    t.probeErrs,
		RateLimited:     t.rateLimited,
		Statuses:        cloneCounts(t.statuses),
		ErrorTypes:      cloneCounts(t.errorTypes),
		StartTime:       t.start,
	}
	if len(t.latencies) > 0 {
		sorted := append([]float64(nil), t.latencies...)
		sort.Float64s(sorted)
		s.LatencyP50Millis = stat.Quantile(quantileMedian, stat.Empirical, sorted, nil)
		s.LatencyP95Millis = stat.Quantile(quantileTail, stat.Empirical, sorted, nil)
		s.LatencyMaxMillis = sorted[len(sorted)-1]
	}
	return s
}

func cloneCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// verifyStats fails a run in which no session could be opened or a probe
// came back with a verdict the service does not define.
func verifyStats(s *Stats) error {
	if s.SessionsCreated == 0 {
		return fmt.Errorf("%w: %d attempts failed (%v)", ErrNoSessions, s.SessionsFailed, s.ErrorTypes)
	}
	for status := range s.Statuses {
		if !knownStatus(status) {
			return fmt.Errorf("unexpected liveness status %q", status)
		}
	}
	return nil
}

func knownStatus(s string) bool {
	switch types.Status(s) {
	case types.StatusNoFace, types.StatusNoLiveness, types.StatusLivenessVerified, types.StatusError:
		return true
	}
	return false
}

// MarshalReport renders stats the way saveReport writes them.
func MarshalReport(s *Stats) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
