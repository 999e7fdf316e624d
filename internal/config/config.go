package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"veil/internal/apperrors"
	"veil/internal/detect"
	"veil/internal/registry"
)

const (
	defaultListenAddr = "127.0.0.1:8000"
	defaultAuditLog   = "~/.veil/audit.log"
	defaultTimeout    = 30 * time.Second
)

var defaultCORSOrigins = []string{"http://localhost:5173", "https://localhost:5173"}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type BenchmarkConfig struct {
	Parallel bool `yaml:"parallel"`
}

// EngineConfig holds the settings every engine shares.
type EngineConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Timeout         time.Duration `yaml:"timeout"`
	DefaultEntities []string      `yaml:"default_entities"`
}

type PresidioConfig struct {
	EngineConfig    `yaml:",inline"`
	AnalyzerURL     string `yaml:"analyzer_url"`
	AnonymizerURL   string `yaml:"anonymizer_url"`
	NativeAnonymize bool   `yaml:"native_anonymize"`
}

type SpacyConfig struct {
	EngineConfig `yaml:",inline"`
	URL          string             `yaml:"url"`
	Model        string             `yaml:"model"`
	Confidence   map[string]float64 `yaml:"confidence"`
}

type TransformersConfig struct {
	EngineConfig  `yaml:",inline"`
	ModelDir      string `yaml:"model_dir"`
	ModelName     string `yaml:"model_name"`
	MaxBytes      int    `yaml:"max_bytes"`
	Backend       string `yaml:"backend"`
	SharedLibrary string `yaml:"shared_library"`
}

type PatternConfig struct {
	EngineConfig `yaml:",inline"`
	Confidence   map[string]float64 `yaml:"confidence"`
}

type EnginesConfig struct {
	Presidio     PresidioConfig     `yaml:"presidio"`
	Spacy        SpacyConfig        `yaml:"spacy"`
	Transformers TransformersConfig `yaml:"transformers"`
	Pattern      PatternConfig      `yaml:"pattern"`
}

type Config struct {
	ListenAddr      string          `yaml:"listen_addr"`
	Log             LogConfig       `yaml:"log"`
	AuditLog        string          `yaml:"audit_log"`
	CORSOrigins     []string        `yaml:"cors_origins"`
	TraceSampleRate float64         `yaml:"trace_sample_rate"`
	Benchmark       BenchmarkConfig `yaml:"benchmark"`
	Engines         EnginesConfig   `yaml:"engines"`
}

func Default() Config {
	return Config{
		ListenAddr:      defaultListenAddr,
		Log:             LogConfig{Level: "info", Format: "json"},
		AuditLog:        defaultAuditLog,
		CORSOrigins:     append([]string(nil), defaultCORSOrigins...),
		TraceSampleRate: 0.1,
		Engines: EnginesConfig{
			Presidio: PresidioConfig{
				EngineConfig:  EngineConfig{Enabled: true, Timeout: defaultTimeout},
				AnalyzerURL:   "http://localhost:5002",
				AnonymizerURL: "http://localhost:5001",
			},
			Spacy: SpacyConfig{
				EngineConfig: EngineConfig{Enabled: true, Timeout: defaultTimeout},
				URL:          "http://localhost:5003",
				Model:        detect.DefaultSpacyModel,
			},
			Transformers: TransformersConfig{
				EngineConfig: EngineConfig{Enabled: true, Timeout: defaultTimeout},
				ModelDir:     "~/.veil/models/ner_en",
				ModelName:    detect.DefaultTransformersModel,
			},
			Pattern: PatternConfig{
				EngineConfig: EngineConfig{Enabled: true, Timeout: 5 * time.Second},
			},
		},
	}
}

func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".veil", "config.yaml"), nil
}

// Load reads .env (best effort), the YAML file at path if it exists, and
// VEIL_* environment overrides, in that order, then validates the result.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.AuditLog == "" {
		c.AuditLog = defaultAuditLog
	}
	c.AuditLog = expandHome(c.AuditLog)
	c.Engines.Transformers.ModelDir = expandHome(c.Engines.Transformers.ModelDir)
	c.Engines.Transformers.SharedLibrary = expandHome(c.Engines.Transformers.SharedLibrary)
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = append([]string(nil), defaultCORSOrigins...)
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate reports the first invalid setting as a ConfigError.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return apperrors.NewConfigError("invalid listen_addr %q: %v", c.ListenAddr, err)
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return apperrors.NewConfigError("invalid log.format %q (want json or console)", c.Log.Format)
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return apperrors.NewConfigError("trace_sample_rate must be within [0,1], got %v", c.TraceSampleRate)
	}
	for name, ec := range c.engineConfigs() {
		if ec.Timeout < 0 {
			return apperrors.NewConfigError("engines.%s.timeout must not be negative", name)
		}
	}
	for name, policy := range map[string]map[string]float64{
		"spacy":   c.Engines.Spacy.Confidence,
		"pattern": c.Engines.Pattern.Confidence,
	} {
		for typ, v := range policy {
			if v < 0 || v > 1 {
				return apperrors.NewConfigError("engines.%s.confidence.%s must be within [0,1], got %v", name, typ, v)
			}
		}
	}
	if c.Engines.Transformers.MaxBytes < 0 {
		return apperrors.NewConfigError("engines.transformers.max_bytes must not be negative")
	}
	switch c.Engines.Transformers.Backend {
	case "", detect.BackendPython, detect.BackendNative:
	default:
		return apperrors.NewConfigError("invalid engines.transformers.backend %q", c.Engines.Transformers.Backend)
	}
	return nil
}

func (c Config) engineConfigs() map[string]EngineConfig {
	return map[string]EngineConfig{
		"presidio":     c.Engines.Presidio.EngineConfig,
		"spacy":        c.Engines.Spacy.EngineConfig,
		"transformers": c.Engines.Transformers.EngineConfig,
		"pattern":      c.Engines.Pattern.EngineConfig,
	}
}

func (c Config) engine(k detect.Kind) EngineConfig {
	return c.engineConfigs()[k.String()]
}

// Timeouts returns the per-engine call timeouts.
func (c Config) Timeouts() map[detect.Kind]time.Duration {
	out := make(map[detect.Kind]time.Duration, detect.KindCount)
	for _, k := range detect.Kinds() {
		if d := c.engine(k).Timeout; d > 0 {
			out[k] = d
		}
	}
	return out
}

// NativeAnonymize lists the engines whose own renderer is enabled.
func (c Config) NativeAnonymize() map[detect.Kind]bool {
	return map[detect.Kind]bool{detect.KindPresidio: c.Engines.Presidio.NativeAnonymize}
}

// Loaders builds a loader for every enabled engine.
func (c Config) Loaders() registry.Loaders {
	out := registry.Loaders{}
	e := c.Engines
	if e.Presidio.Enabled {
		out[detect.KindPresidio] = detect.LoadPresidio(detect.PresidioConfig{
			AnalyzerURL:     e.Presidio.AnalyzerURL,
			AnonymizerURL:   e.Presidio.AnonymizerURL,
			DefaultEntities: e.Presidio.DefaultEntities,
		})
	}
	if e.Spacy.Enabled {
		out[detect.KindSpacy] = detect.LoadSpacy(detect.SpacyConfig{
			URL:             e.Spacy.URL,
			Model:           e.Spacy.Model,
			DefaultEntities: e.Spacy.DefaultEntities,
			Confidence:      detect.ConfidencePolicy{ByType: e.Spacy.Confidence},
		})
	}
	if e.Transformers.Enabled {
		out[detect.KindTransformers] = detect.LoadTransformers(detect.TransformersConfig{
			ModelDir:        e.Transformers.ModelDir,
			ModelName:       e.Transformers.ModelName,
			MaxBytes:        e.Transformers.MaxBytes,
			DefaultEntities: e.Transformers.DefaultEntities,
			Backend:         e.Transformers.Backend,
			SharedLibrary:   e.Transformers.SharedLibrary,
		})
	}
	if e.Pattern.Enabled {
		pc := detect.PatternConfig{
			DefaultEntities: e.Pattern.DefaultEntities,
			Confidence:      detect.ConfidencePolicy{ByType: e.Pattern.Confidence},
		}
		out[detect.KindPattern] = func(context.Context) (detect.Engine, error) {
			return detect.NewPatternEngine(pc), nil
		}
	}
	return out
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
