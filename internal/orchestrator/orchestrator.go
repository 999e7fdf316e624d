// Package orchestrator runs detection engines for a request, either one
// engine or all available engines in parallel, and turns their findings into
// a consolidated, anonymized result.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"veil/internal/anonymize"
	"veil/internal/apperrors"
	"veil/internal/audit"
	"veil/internal/consolidate"
	"veil/internal/detect"
	"veil/internal/logging"
	"veil/internal/metrics"
	"veil/internal/registry"
	"veil/internal/trace"
)

// DefaultEngineTimeout bounds a single engine call when no per-engine timeout
// is configured.
const DefaultEngineTimeout = 30 * time.Second

// Outcome is the result of one engine call. Exactly one of Findings and Err
// is meaningful.
type Outcome struct {
	Kind     detect.Kind
	Findings []detect.Finding
	Err      error
	Elapsed  time.Duration
}

// Result is what an analysis returns to callers.
type Result struct {
	Findings         []detect.Finding `json:"findings"`
	AnonymizedText   string           `json:"anonymized_text"`
	ProcessingEngine string           `json:"processing_engine"`

	// Outcomes lists every engine call made for the request.
	Outcomes []Outcome      `json:"-"`
	Elapsed  time.Duration `json:"-"`
}

type Options struct {
	// Timeouts overrides DefaultEngineTimeout per engine. Zero or negative
	// values fall back to the default.
	Timeouts map[detect.Kind]time.Duration
	// NativeAnonymize enables an engine's own renderer in single-engine mode.
	NativeAnonymize map[detect.Kind]bool
	Audit           audit.Logger
	Metrics         *metrics.Metrics
	TraceSampleRate float64
}

type Orchestrator struct {
	reg  *registry.Registry
	opts Options
	log  zerolog.Logger
}

func New(reg *registry.Registry, opts Options, log zerolog.Logger) *Orchestrator {
	if opts.Audit == nil {
		opts.Audit = audit.Discard{}
	}
	return &Orchestrator{reg: reg, opts: opts, log: logging.Component(log, "orchestrator")}
}

// Registry returns the engines the orchestrator dispatches to.
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

// Analyze dispatches on cfg.Engine and records the request in metrics and
// the audit log.
func (o *Orchestrator) Analyze(ctx context.Context, text string, cfg detect.Config) (Result, error) {
	name := cfg.Engine.String()
	tr, ok := trace.FromContext(ctx)
	if !ok {
		tr = trace.NewRequestTrace(name, o.opts.TraceSampleRate)
		ctx = trace.WithContext(ctx, tr)
	}
	ctx, span := trace.StartSpan(ctx, "analyze", attribute.String("veil.engine", name), attribute.Int("veil.text_len", len(text)))

	o.opts.Metrics.IncrementActiveRequests()
	start := time.Now()
	var (
		res Result
		err error
	)
	if cfg.Engine.Hybrid {
		res, err = o.AnalyzeHybrid(ctx, text, cfg)
	} else {
		res, err = o.AnalyzeWith(ctx, cfg.Engine.Kind, text, cfg)
	}
	elapsed := time.Since(start)
	o.opts.Metrics.DecrementActiveRequests()
	o.opts.Metrics.ObserveRequest(name, err, elapsed)
	trace.EndSpan(span, err)
	tr.LogAt(o.log, time.Now())

	byType := countByType(res.Findings)
	o.opts.Metrics.AddFindings(name, byType)
	o.record(tr, cfg.Engine, text, res, byType, err, elapsed)

	ev := o.log.Debug()
	if err != nil {
		ev = o.log.Warn().Err(err)
	}
	logging.Text(ev, text).
		Str("trace", tr.ID).
		Str("engine", name).
		Int("findings", len(res.Findings)).
		Dur("elapsed", elapsed).
		Msg("analysis finished")
	return res, err
}

// AnalyzeWith runs a single engine. An engine that never loaded yields
// EngineUnavailableError; a failing or timed-out call yields EngineError.
func (o *Orchestrator) AnalyzeWith(ctx context.Context, k detect.Kind, text string, cfg detect.Config) (Result, error) {
	start := time.Now()
	eng, ok := o.reg.Get(k)
	if !ok {
		return Result{}, apperrors.EngineUnavailableError{Engine: k.String()}
	}
	tr, _ := trace.FromContext(ctx)

	endDetect := tr.Begin(trace.StageDetect)
	out := o.call(ctx, eng, text, cfg.Options())
	endDetect()
	if out.Err != nil {
		if err := ctx.Err(); apperrors.IsContextError(err) {
			return Result{Outcomes: []Outcome{out}}, err
		}
		return Result{Outcomes: []Outcome{out}}, apperrors.EngineError{Engine: k.String(), Cause: out.Err}
	}

	res, err := o.finish(ctx, eng, k.String(), text, out.Findings)
	res.Outcomes = []Outcome{out}
	res.Elapsed = time.Since(start)
	return res, err
}

// AnalyzeHybrid fans out to every available engine. Failed engines are
// logged and left out; the request fails only when no engine contributed.
func (o *Orchestrator) AnalyzeHybrid(ctx context.Context, text string, cfg detect.Config) (Result, error) {
	start := time.Now()
	engines := o.reg.Engines()
	if len(engines) == 0 {
		return Result{}, apperrors.ErrNoEngineAvailable
	}
	tr, _ := trace.FromContext(ctx)
	opts := cfg.Options()

	endDetect := tr.Begin(trace.StageDetect)
	outcomes := o.fanOut(ctx, engines, text, opts)
	endDetect()
	if err := ctx.Err(); err != nil {
		return Result{Outcomes: outcomes}, err
	}

	all := make([]detect.Finding, 0)
	succeeded := 0
	for _, out := range outcomes {
		if out.Err != nil {
			msg := "engine failed in hybrid mode"
			if apperrors.IsContextError(out.Err) {
				msg = "engine timed out in hybrid mode"
			}
			o.log.Warn().Err(out.Err).Str("engine", out.Kind.String()).Msg(msg)
			continue
		}
		succeeded++
		all = append(all, out.Findings...)
	}
	if succeeded == 0 {
		return Result{Outcomes: outcomes}, fmt.Errorf("%w: all %d engines failed", apperrors.ErrNoEngineAvailable, len(outcomes))
	}

	res, err := o.finish(ctx, nil, detect.HybridName, text, all)
	res.Outcomes = outcomes
	res.Elapsed = time.Since(start)
	return res, err
}

// fanOut calls every engine concurrently. Each goroutine writes only its own
// slot, and none returns an error, so the group context is cancelled only by
// the caller.
func (o *Orchestrator) fanOut(ctx context.Context, engines []detect.Engine, text string, opts detect.Options) []Outcome {
	outcomes := make([]Outcome, len(engines))
	g, gctx := errgroup.WithContext(ctx)
	for i, eng := range engines {
		g.Go(func() error {
			outcomes[i] = o.call(gctx, eng, text, opts)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// call runs one engine under its timeout. Panics inside an engine are
// converted into an error outcome.
func (o *Orchestrator) call(ctx context.Context, eng detect.Engine, text string, opts detect.Options) (out Outcome) {
	k := eng.Kind()
	out.Kind = k
	ctx, cancel := context.WithTimeout(ctx, o.timeout(k))
	defer cancel()
	ctx, span := trace.StartSpan(ctx, "engine.detect", attribute.String("veil.engine", k.String()))

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			out.Findings, out.Err = nil, fmt.Errorf("engine panic: %v", rec)
		}
		out.Elapsed = time.Since(start)
		o.opts.Metrics.ObserveEngineCall(k.String(), out.Err, out.Elapsed)
		span.SetAttributes(attribute.Int("veil.findings", len(out.Findings)))
		trace.EndSpan(span, out.Err)
	}()

	findings, err := eng.Detect(ctx, text, opts)
	if err == nil {
		// an engine that ignored its deadline still counts as timed out
		err = ctx.Err()
	}
	if err != nil {
		out.Err = err
		return out
	}
	if findings == nil {
		findings = []detect.Finding{}
	}
	out.Findings = findings
	return out
}

func (o *Orchestrator) timeout(k detect.Kind) time.Duration {
	if d, ok := o.opts.Timeouts[k]; ok && d > 0 {
		return d
	}
	return DefaultEngineTimeout
}

// finish consolidates findings and renders the anonymized text. eng is nil
// for hybrid results, which always use the shared renderer.
func (o *Orchestrator) finish(ctx context.Context, eng detect.Engine, name, text string, findings []detect.Finding) (Result, error) {
	tr, _ := trace.FromContext(ctx)

	endConsolidate := tr.Begin(trace.StageConsolidate)
	consolidated := consolidate.Consolidate(findings)
	endConsolidate()

	endAnonymize := tr.Begin(trace.StageAnonymize)
	anonymized, err := o.render(ctx, eng, text, consolidated)
	endAnonymize()
	if err != nil {
		return Result{}, fmt.Errorf("%s: anonymize: %w", name, err)
	}
	return Result{
		Findings:         consolidated,
		AnonymizedText:   anonymized,
		ProcessingEngine: name,
	}, nil
}

func (o *Orchestrator) render(ctx context.Context, eng detect.Engine, text string, findings []detect.Finding) (string, error) {
	if eng != nil && o.opts.NativeAnonymize[eng.Kind()] {
		if native, ok := eng.(detect.Anonymizer); ok {
			out, err := native.Anonymize(ctx, text, findings)
			if err == nil {
				return out, nil
			}
			o.log.Warn().Err(err).Str("engine", eng.Kind().String()).Msg("native anonymizer failed, using shared renderer")
		}
	}
	return anonymize.Render(text, findings)
}

func (o *Orchestrator) record(tr *trace.RequestTrace, sel detect.Selector, text string, res Result, byType map[string]int, err error, elapsed time.Duration) {
	entry := audit.Entry{
		RequestID:      tr.ID,
		Engine:         sel.String(),
		Mode:           audit.ModeSingle,
		Status:         audit.StatusOK,
		FindingCount:   len(res.Findings),
		FindingsByType: byType,
		DetectMs:       ms(tr.Duration(trace.StageDetect)),
		TotalMs:        ms(elapsed),
		TextHash:       logging.TextHash(text),
		TextLength:     len(text),
	}
	if sel.Hybrid {
		entry.Mode = audit.ModeHybrid
	}
	if err != nil {
		entry.Status = audit.StatusError
		entry.Error = err.Error()
	}
	if used := res.EngineNames(); len(used) > 0 {
		entry.EnginesUsed = used
	}
	for _, out := range res.Outcomes {
		if out.Err != nil {
			entry.FailedEngines = append(entry.FailedEngines, out.Kind.String())
		}
	}
	if auditErr := o.opts.Audit.Log(entry); auditErr != nil {
		o.log.Error().Err(auditErr).Msg("write audit entry")
	}
}

func countByType(findings []detect.Finding) map[string]int {
	if len(findings) == 0 {
		return nil
	}
	out := make(map[string]int)
	for _, f := range findings {
		out[f.EntityType]++
	}
	return out
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// EngineNames lists the names of outcomes that succeeded, sorted.
func (r Result) EngineNames() []string {
	out := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Err == nil {
			out = append(out, o.Kind.String())
		}
	}
	sort.Strings(out)
	return out
}
