//go:generate mockgen -source=types.go -destination=mocks/mock_engine.go -package=mocks

package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies one detection backend. The set is closed.
type Kind uint8

const (
	KindPresidio Kind = iota
	KindSpacy
	KindTransformers
	KindPattern

	numKinds
)

var kindNames = [numKinds]string{
	KindPresidio:     "presidio",
	KindSpacy:        "spacy",
	KindTransformers: "transformers",
	KindPattern:      "pattern",
}

// HybridName is the selector and result name used for hybrid analysis.
const HybridName = "hybrid"

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool { return k < numKinds }

// Kinds returns every declared kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}

// KindCount is the size of the closed Kind set.
const KindCount = int(numKinds)

func ParseKind(name string) (Kind, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return 0, false
}

// Finding is a detected entity span. Start and End are byte offsets into the
// analyzed text and Text always equals text[Start:End]. The HTTP API reports
// code-point offsets instead; see CodePointFindings.
type Finding struct {
	EntityType  string         `json:"entity_type"`
	Start       int            `json:"start"`
	End         int            `json:"end"`
	Score       float64        `json:"score"`
	Text        string         `json:"text"`
	Explanation map[string]any `json:"analysis_explanation,omitempty"`
}

// NewFinding builds a Finding over text, rejecting spans outside the text or
// not on UTF-8 boundaries.
func NewFinding(text, entityType string, start, end int, score float64, explanation map[string]any) (Finding, bool) {
	if start < 0 || end > len(text) || start >= end {
		return Finding{}, false
	}
	if !runeBoundary(text, start) || !runeBoundary(text, end) {
		return Finding{}, false
	}
	return Finding{
		EntityType:  entityType,
		Start:       start,
		End:         end,
		Score:       clampScore(score),
		Text:        text[start:end],
		Explanation: explanation,
	}, true
}

func runeBoundary(s string, i int) bool {
	if i == 0 || i == len(s) {
		return true
	}
	return s[i]&0xC0 != 0x80
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Options is what an engine receives per call.
type Options struct {
	Language  string
	Entities  []string
	Threshold float64
}

// Engine is the uniform contract every detection backend implements.
type Engine interface {
	Kind() Kind
	Detect(ctx context.Context, text string, opts Options) ([]Finding, error)
}

// Anonymizer is implemented by engines that ship their own renderer.
type Anonymizer interface {
	Anonymize(ctx context.Context, text string, findings []Finding) (string, error)
}

// Loader constructs an engine at startup. A failing loader only disables its
// own engine.
type Loader func(ctx context.Context) (Engine, error)

// Selector picks either one engine or hybrid fan-out.
type Selector struct {
	Hybrid bool
	Kind   Kind
}

// Single returns a Selector for one engine.
func Single(k Kind) Selector { return Selector{Kind: k} }

// Hybrid returns the fan-out Selector.
func Hybrid() Selector { return Selector{Hybrid: true} }

func ParseSelector(name string) (Selector, error) {
	if strings.EqualFold(strings.TrimSpace(name), HybridName) {
		return Hybrid(), nil
	}
	k, ok := ParseKind(name)
	if !ok {
		return Selector{}, fmt.Errorf("unknown engine %q", name)
	}
	return Single(k), nil
}

func (s Selector) String() string {
	if s.Hybrid {
		return HybridName
	}
	return s.Kind.String()
}

func (s Selector) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Selector) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := ParseSelector(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

const (
	DefaultThreshold = 0.5
	DefaultLanguage  = "en"
)

// Config is the per-request analysis configuration.
type Config struct {
	Engine              Selector `json:"engine"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	Entities            []string `json:"entities"`
	Language            string   `json:"language"`
}

// DefaultConfig returns the configuration used when a request omits one.
func DefaultConfig(sel Selector) Config {
	return Config{Engine: sel, ConfidenceThreshold: DefaultThreshold, Language: DefaultLanguage}
}

// UnmarshalJSON applies defaults for fields the request leaves out.
func (c *Config) UnmarshalJSON(b []byte) error {
	type plain Config
	raw := plain(DefaultConfig(Single(KindPresidio)))
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Language == "" {
		raw.Language = DefaultLanguage
	}
	*c = Config(raw)
	return nil
}

// Options converts the request configuration into engine call options.
func (c Config) Options() Options {
	entities := make([]string, len(c.Entities))
	copy(entities, c.Entities)
	return Options{Language: c.Language, Entities: entities, Threshold: c.ConfidenceThreshold}
}

// resolveEntities returns the caller's entity list, or the adapter default
// when the caller gave none.
func resolveEntities(requested, defaults []string) map[string]bool {
	list := requested
	if len(list) == 0 {
		list = defaults
	}
	if len(list) == 0 {
		return nil
	}
	out := make(map[string]bool, len(list))
	for _, e := range list {
		out[strings.ToUpper(strings.TrimSpace(e))] = true
	}
	return out
}

// allowed reports whether entityType passes the resolved filter; a nil filter
// allows everything.
func allowed(filter map[string]bool, entityType string) bool {
	if filter == nil {
		return true
	}
	return filter[strings.ToUpper(entityType)]
}
