package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"veil/internal/api"
	"veil/internal/benchmark"
	"veil/internal/config"
	"veil/internal/detect"
	"veil/internal/metrics"
	"veil/internal/orchestrator"
	"veil/internal/registry"
)

// execute runs the CLI with args against an isolated config path.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "config.yaml")}, args...))
	t.Cleanup(func() {
		flagAddr, flagJSON, flagLocal, flagFile = "", false, false, ""
		flagEngine = detect.HybridName
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func patternDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	m := metrics.New()
	orch := orchestrator.New(registry.New(detect.NewPatternEngine(detect.PatternConfig{})), orchestrator.Options{Metrics: m}, zerolog.Nop())
	srv := httptest.NewServer(api.New(orch, benchmark.NewHarness(orch, zerolog.Nop()), m, api.Options{}, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "veil "+version {
		t.Fatalf("unexpected version output: %q", out)
	}
}

func TestAnalyzeAgainstDaemon(t *testing.T) {
	srv := patternDaemon(t)
	out, err := execute(t, "--addr", srv.URL, "analyze", "--engine", "pattern", "mail", "ops@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "mail [EMAIL_ADDRESS]") || !strings.Contains(out, "1 finding(s), engine: pattern") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestAnalyzeJSONOutput(t *testing.T) {
	srv := patternDaemon(t)
	out, err := execute(t, "--addr", srv.URL, "--json", "analyze", "ops@example.com")
	if err != nil {
		t.Fatal(err)
	}
	var res orchestrator.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if res.ProcessingEngine != "hybrid" || len(res.Findings) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAnalyzeDaemonErrorSurfaces(t *testing.T) {
	srv := patternDaemon(t)
	_, err := execute(t, "--addr", srv.URL, "analyze", "--engine", "spacy", "John")
	if err == nil || !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "spacy not available") {
		t.Fatalf("expected 503 from daemon, got %v", err)
	}
}

func TestAnalyzeRejectsUnknownEngine(t *testing.T) {
	if _, err := execute(t, "analyze", "--engine", "flair", "x"); err == nil {
		t.Fatal("expected unknown engine error")
	}
}

func TestBenchmarkTable(t *testing.T) {
	srv := patternDaemon(t)
	out, err := execute(t, "--addr", srv.URL, "benchmark", "ops@example.com")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"pattern", "not loaded", "presidio"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in benchmark output:\n%s", want, out)
		}
	}
}

func TestPrintBenchmarkFailedEngine(t *testing.T) {
	raw := json.RawMessage(`{"performance":{"spacy_time":-1,"pattern_time":0.002,"accuracy_comparison":{"pattern_findings":3}}}`)
	var b bytes.Buffer
	if err := printBenchmark(&b, raw); err != nil {
		t.Fatal(err)
	}
	out := b.String()
	if !strings.Contains(out, "failed") || !strings.Contains(out, "0.002s") {
		t.Fatalf("unexpected table:\n%s", out)
	}
	if err := printBenchmark(&b, json.RawMessage(`[]`)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy","models_loaded":{"presidio":false,"pattern":true},"load_errors":{"presidio":"connection refused"},"timestamp":1}`))
	}))
	defer srv.Close()

	out, err := execute(t, "--addr", srv.URL, "health")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Status: healthy") || !strings.Contains(out, "unavailable") || !strings.Contains(out, "connection refused") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestHealthDaemonDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	if _, err := execute(t, "--addr", srv.URL, "health"); err == nil {
		t.Fatal("expected unreachable daemon error")
	}
}

func TestReadInput(t *testing.T) {
	got, err := readInput(strings.NewReader("ignored"), []string{"a", "b"}, "")
	if err != nil || got != "a b" {
		t.Fatalf("args: %q, %v", got, err)
	}
	got, err = readInput(strings.NewReader("from stdin\n"), nil, "-")
	if err != nil || got != "from stdin" {
		t.Fatalf("stdin: %q, %v", got, err)
	}
	if _, err := readInput(nil, nil, filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatal("expected missing file error")
	}
}

func TestDaemonURL(t *testing.T) {
	t.Cleanup(func() { flagAddr = "" })
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:9000"
	if got := daemonURL(cfg); got != "http://127.0.0.1:9000" {
		t.Fatalf("unexpected url %s", got)
	}
	flagAddr = "https://veil.internal/"
	if got := daemonURL(cfg); got != "https://veil.internal" {
		t.Fatalf("unexpected url %s", got)
	}
}
