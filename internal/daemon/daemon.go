// Package daemon turns a loaded configuration into a running veil server.
// Both veild and "veil serve" go through it.
package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"veil/internal/api"
	"veil/internal/audit"
	"veil/internal/benchmark"
	"veil/internal/config"
	"veil/internal/metrics"
	"veil/internal/orchestrator"
	"veil/internal/registry"
)

// ShutdownTimeout bounds the graceful drain of in-flight requests.
const ShutdownTimeout = 5 * time.Second

// Service bundles everything a request needs. Fields are exported so the CLI
// can run analyses in-process without starting the HTTP server.
type Service struct {
	Config       config.Config
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Benchmark    *benchmark.Harness
	Metrics      *metrics.Metrics
	Server       *api.Server

	log zerolog.Logger
}

// Build loads every enabled engine and wires the orchestrator, benchmark
// harness and HTTP server. Engines that fail to load are logged and left out.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Service, error) {
	auditLogger, err := audit.NewJSONLLogger(cfg.AuditLog)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	reg := registry.Load(ctx, cfg.Loaders(), log)
	m.SetEnginesLoaded(reg.ModelsLoaded())

	orch := orchestrator.New(reg, orchestrator.Options{
		Timeouts:        cfg.Timeouts(),
		NativeAnonymize: cfg.NativeAnonymize(),
		Audit:           auditLogger,
		Metrics:         m,
		TraceSampleRate: cfg.TraceSampleRate,
	}, log)
	bench := benchmark.NewHarness(orch, log)
	bench.Parallel = cfg.Benchmark.Parallel

	srv := api.New(orch, bench, m, api.Options{
		Addr:        cfg.ListenAddr,
		CORSOrigins: cfg.CORSOrigins,
		AuditLog:    cfg.AuditLog,
		StartedAt:   time.Now().UTC(),
	}, log)

	return &Service{
		Config:       cfg,
		Registry:     reg,
		Orchestrator: orch,
		Benchmark:    bench,
		Metrics:      m,
		Server:       srv,
		log:          log,
	}, nil
}

// Run serves until ctx is cancelled or the listener fails, then drains
// in-flight requests and releases the engines.
func (s *Service) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Server.Start() }()

	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		runErr = s.Server.Shutdown(shutdownCtx)
	case runErr = <-errCh:
	}
	return errors.Join(runErr, s.Close())
}

// Close releases engine resources such as ONNX sessions and python workers.
func (s *Service) Close() error {
	return s.Registry.Close()
}
