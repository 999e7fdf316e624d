package trace

import (
	"context"
	"crypto/rand"
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type requestTraceContextKey string

const traceContextKey requestTraceContextKey = "trace"

// DefaultSampleRate is the share of requests whose stage timings are logged.
const DefaultSampleRate = 0.1

// Stage is one step of the analysis pipeline.
type Stage uint8

const (
	StageDetect Stage = iota
	StageConsolidate
	StageAnonymize

	numStages
)

var stageNames = [numStages]string{
	StageDetect:      "detect",
	StageConsolidate: "consolidate",
	StageAnonymize:   "anonymize",
}

func (s Stage) String() string {
	if s < numStages {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// RequestTrace carries a request ID and per-stage timings for one analysis.
type RequestTrace struct {
	ID     string
	Engine string
	Start  time.Time

	Sampled bool

	mu     sync.Mutex
	starts [numStages]time.Time
	ends   [numStages]time.Time

	logOnce sync.Once
}

func NewRequestTrace(engine string, sampleRate float64) *RequestTrace {
	return &RequestTrace{
		ID:      newTraceID(),
		Engine:  engine,
		Start:   time.Now(),
		Sampled: sampleRate > 0 && mathrand.Float64() <= sampleRate,
	}
}

func newTraceID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("trace-%d", time.Now().UnixNano())
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		b[0:4],
		b[4:6],
		b[6:8],
		b[8:10],
		b[10:16],
	)
}

func WithContext(ctx context.Context, tr *RequestTrace) context.Context {
	if tr == nil {
		return ctx
	}
	return context.WithValue(ctx, traceContextKey, tr)
}

func FromContext(ctx context.Context) (*RequestTrace, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(traceContextKey).(*RequestTrace)
	return tr, ok
}

// Begin marks the start of stage s and returns the function that marks its
// end. It is safe on a nil trace.
func (t *RequestTrace) Begin(s Stage) func() {
	if t == nil || s >= numStages {
		return func() {}
	}
	t.mu.Lock()
	t.starts[s] = time.Now()
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		t.ends[s] = time.Now()
		t.mu.Unlock()
	}
}

// Duration returns how long stage s took, or zero if it did not complete.
func (t *RequestTrace) Duration(s Stage) time.Duration {
	if t == nil || s >= numStages {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return durationBetween(t.starts[s], t.ends[s])
}

// LogAt writes the stage breakdown once, and only for sampled traces.
func (t *RequestTrace) LogAt(log zerolog.Logger, end time.Time) {
	if t == nil || !t.Sampled {
		return
	}
	t.logOnce.Do(func() {
		ev := log.Info().
			Str("trace", t.ID).
			Str("engine", t.Engine).
			Dur("total", durationBetween(t.Start, end))
		for s := Stage(0); s < numStages; s++ {
			ev = ev.Dur(s.String(), t.Duration(s))
		}
		ev.Msg("request trace")
	})
}

func durationBetween(start, end time.Time) time.Duration {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start)
}
