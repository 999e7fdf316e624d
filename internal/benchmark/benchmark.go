// Package benchmark times every available engine on the same text. It is a
// diagnostic aid and never fails as a whole.
package benchmark

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"veil/internal/detect"
	"veil/internal/logging"
	"veil/internal/orchestrator"
)

// FailedTime is reported for an engine whose run failed.
const FailedTime = -1.0

// EngineRun is one engine's benchmark entry.
type EngineRun struct {
	Kind    detect.Kind
	Result  *orchestrator.Result
	Seconds float64
	Err     error
}

// Report holds one run per available engine, in kind order.
type Report struct {
	Runs []EngineRun
}

// Findings returns the number of findings kind k produced, zero when it did
// not run or failed.
func (r Report) Findings(k detect.Kind) int {
	for _, run := range r.Runs {
		if run.Kind == k && run.Result != nil {
			return len(run.Result.Findings)
		}
	}
	return 0
}

// MarshalJSON renders the report as
// {"<engine>": result, ..., "performance": {"<engine>_time": s, "accuracy_comparison": {...}}}.
func (r Report) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Runs)+1)
	perf := make(map[string]any, len(r.Runs)+1)
	for _, run := range r.Runs {
		name := run.Kind.String()
		if run.Result != nil {
			out[name] = run.Result
		}
		perf[name+"_time"] = run.Seconds
	}
	accuracy := make(map[string]int, detect.KindCount)
	for _, k := range detect.Kinds() {
		accuracy[k.String()+"_findings"] = r.Findings(k)
	}
	perf["accuracy_comparison"] = accuracy
	out["performance"] = perf
	return json.Marshal(out)
}

// Harness runs the benchmark against an orchestrator's engines.
type Harness struct {
	orch *orchestrator.Orchestrator
	log  zerolog.Logger

	// Parallel runs engines concurrently. Timings are less faithful because
	// engines compete for CPU.
	Parallel bool
}

func NewHarness(orch *orchestrator.Orchestrator, log zerolog.Logger) *Harness {
	return &Harness{orch: orch, log: logging.Component(log, "benchmark")}
}

// Run benchmarks every available engine with its default configuration.
func (h *Harness) Run(ctx context.Context, text string) Report {
	engines := h.orch.Registry().Engines()
	runs := make([]EngineRun, len(engines))
	if h.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i, eng := range engines {
			g.Go(func() error {
				runs[i] = h.runOne(gctx, eng.Kind(), text)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, eng := range engines {
			runs[i] = h.runOne(ctx, eng.Kind(), text)
		}
	}
	return Report{Runs: runs}
}

func (h *Harness) runOne(ctx context.Context, k detect.Kind, text string) EngineRun {
	start := time.Now()
	res, err := h.orch.AnalyzeWith(ctx, k, text, detect.DefaultConfig(detect.Single(k)))
	if err != nil {
		h.log.Error().Err(err).Str("engine", k.String()).Msg("benchmark run failed")
		return EngineRun{Kind: k, Seconds: FailedTime, Err: err}
	}
	return EngineRun{Kind: k, Result: &res, Seconds: time.Since(start).Seconds()}
}
