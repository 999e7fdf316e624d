package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"veil/internal/apperrors"
	"veil/internal/detect"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr {
		t.Fatalf("unexpected listen addr %q", cfg.ListenAddr)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "http://localhost:5173" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSOrigins)
	}
	if cfg.AuditLog == defaultAuditLog {
		t.Fatalf("audit log path was not expanded: %q", cfg.AuditLog)
	}
	if got := len(cfg.Loaders()); got != detect.KindCount {
		t.Fatalf("expected every engine enabled by default, got %d loaders", got)
	}
}

func TestLoadYAML(t *testing.T) {
	p := writeConfig(t, `listen_addr: "0.0.0.0:9000"
log:
  level: DEBUG
  format: console
benchmark:
  parallel: true
engines:
  presidio:
    enabled: false
  spacy:
    url: http://spacy:8080
    timeout: 2s
    confidence:
      PERSON: 0.9
  transformers:
    max_bytes: 4096
    backend: native
    default_entities: [PER, ORG]
  pattern:
    timeout: 250ms
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" || cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Fatalf("unexpected top-level config: %+v", cfg)
	}
	if !cfg.Benchmark.Parallel {
		t.Fatal("expected parallel benchmark")
	}
	if cfg.Engines.Presidio.Enabled {
		t.Fatal("presidio should be disabled")
	}
	if cfg.Engines.Spacy.URL != "http://spacy:8080" || cfg.Engines.Spacy.Confidence["PERSON"] != 0.9 {
		t.Fatalf("unexpected spacy config: %+v", cfg.Engines.Spacy)
	}
	// keys absent from the file keep their defaults
	if cfg.Engines.Spacy.Model != detect.DefaultSpacyModel || !cfg.Engines.Spacy.Enabled {
		t.Fatalf("spacy defaults lost: %+v", cfg.Engines.Spacy)
	}
	tr := cfg.Engines.Transformers
	if tr.MaxBytes != 4096 || tr.Backend != detect.BackendNative || len(tr.DefaultEntities) != 2 {
		t.Fatalf("unexpected transformers config: %+v", tr)
	}

	timeouts := cfg.Timeouts()
	if timeouts[detect.KindSpacy] != 2*time.Second || timeouts[detect.KindPattern] != 250*time.Millisecond {
		t.Fatalf("unexpected timeouts: %v", timeouts)
	}
	loaders := cfg.Loaders()
	if _, ok := loaders[detect.KindPresidio]; ok {
		t.Fatal("disabled engine must not get a loader")
	}
	if _, ok := loaders[detect.KindPattern]; !ok {
		t.Fatal("pattern loader missing")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VEIL_LISTEN_ADDR", "127.0.0.1:7000")
	t.Setenv("VEIL_SPACY_ENABLED", "no")
	t.Setenv("VEIL_PRESIDIO_TIMEOUT", "1500ms")
	t.Setenv("VEIL_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("VEIL_BENCHMARK_PARALLEL", "garbage")

	p := writeConfig(t, "listen_addr: 127.0.0.1:9000\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7000" {
		t.Fatalf("env should win over file, got %q", cfg.ListenAddr)
	}
	if cfg.Engines.Spacy.Enabled {
		t.Fatal("spacy should be disabled by env")
	}
	if cfg.Engines.Presidio.Timeout != 1500*time.Millisecond {
		t.Fatalf("unexpected presidio timeout %v", cfg.Engines.Presidio.Timeout)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
	if cfg.Benchmark.Parallel {
		t.Fatal("unrecognised bool must keep the previous value")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"listen addr": "listen_addr: nope\n",
		"log format":  "log:\n  format: xml\n",
		"sample rate": "trace_sample_rate: 2\n",
		"timeout":     "engines:\n  spacy:\n    timeout: -1s\n",
		"confidence":  "engines:\n  pattern:\n    confidence:\n      EMAIL_ADDRESS: 1.5\n",
		"backend":     "engines:\n  transformers:\n    backend: cuda\n",
		"max bytes":   "engines:\n  transformers:\n    max_bytes: -5\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			var cfgErr apperrors.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "engines: [\n")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandHome("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Fatalf("expandHome() = %q", got)
	}
	if got := expandHome("/abs"); got != "/abs" {
		t.Fatalf("expandHome() = %q", got)
	}
}
