package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VEIL_"

type envOverride struct {
	key   string
	apply func(c *Config, v string)
}

var envOverrides = []envOverride{
	{"LISTEN_ADDR", func(c *Config, v string) { c.ListenAddr = v }},
	{"LOG_LEVEL", func(c *Config, v string) { c.Log.Level = v }},
	{"LOG_FORMAT", func(c *Config, v string) { c.Log.Format = v }},
	{"AUDIT_LOG", func(c *Config, v string) { c.AuditLog = v }},
	{"CORS_ORIGINS", func(c *Config, v string) { c.CORSOrigins = splitList(v) }},
	{"TRACE_SAMPLE_RATE", func(c *Config, v string) {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			c.TraceSampleRate = parsed
		}
	}},
	{"BENCHMARK_PARALLEL", func(c *Config, v string) {
		c.Benchmark.Parallel = parseBoolEnv(v, c.Benchmark.Parallel)
	}},

	// Presidio
	{"PRESIDIO_ENABLED", func(c *Config, v string) {
		c.Engines.Presidio.Enabled = parseBoolEnv(v, c.Engines.Presidio.Enabled)
	}},
	{"PRESIDIO_ANALYZER_URL", func(c *Config, v string) { c.Engines.Presidio.AnalyzerURL = v }},
	{"PRESIDIO_ANONYMIZER_URL", func(c *Config, v string) { c.Engines.Presidio.AnonymizerURL = v }},
	{"PRESIDIO_TIMEOUT", func(c *Config, v string) { setDuration(&c.Engines.Presidio.Timeout, v) }},

	// spaCy
	{"SPACY_ENABLED", func(c *Config, v string) {
		c.Engines.Spacy.Enabled = parseBoolEnv(v, c.Engines.Spacy.Enabled)
	}},
	{"SPACY_URL", func(c *Config, v string) { c.Engines.Spacy.URL = v }},
	{"SPACY_MODEL", func(c *Config, v string) { c.Engines.Spacy.Model = v }},
	{"SPACY_TIMEOUT", func(c *Config, v string) { setDuration(&c.Engines.Spacy.Timeout, v) }},

	// Transformers
	{"TRANSFORMERS_ENABLED", func(c *Config, v string) {
		c.Engines.Transformers.Enabled = parseBoolEnv(v, c.Engines.Transformers.Enabled)
	}},
	{"TRANSFORMERS_MODEL_DIR", func(c *Config, v string) { c.Engines.Transformers.ModelDir = v }},
	{"TRANSFORMERS_BACKEND", func(c *Config, v string) { c.Engines.Transformers.Backend = strings.ToLower(v) }},
	{"TRANSFORMERS_SHARED_LIBRARY", func(c *Config, v string) { c.Engines.Transformers.SharedLibrary = v }},
	{"TRANSFORMERS_TIMEOUT", func(c *Config, v string) { setDuration(&c.Engines.Transformers.Timeout, v) }},

	// Pattern
	{"PATTERN_ENABLED", func(c *Config, v string) {
		c.Engines.Pattern.Enabled = parseBoolEnv(v, c.Engines.Pattern.Enabled)
	}},
}

// applyEnvOverrides applies every set VEIL_* variable on top of cfg.
// Unparsable values leave the current setting untouched.
func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if val := strings.TrimSpace(os.Getenv(EnvPrefix + o.key)); val != "" {
			o.apply(cfg, val)
		}
	}
}

// parseBoolEnv accepts "true", "1", "yes" and "false", "0", "no"
// (case-insensitive) and returns defaultVal for anything else.
func parseBoolEnv(val string, defaultVal bool) bool {
	switch strings.ToLower(val) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultVal
}

func setDuration(dst *time.Duration, v string) {
	if parsed, err := time.ParseDuration(v); err == nil {
		*dst = parsed
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
