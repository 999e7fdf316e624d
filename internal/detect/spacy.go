package detect

import (
	"context"
	"net/http"
	"strings"
)

var SpacyDefaultEntities = []string{"PERSON", "ORG", "GPE", "DATE", "TIME", "MONEY", "CARDINAL"}

const DefaultSpacyModel = "en_core_web_sm"

type SpacyConfig struct {
	URL             string
	Model           string
	DefaultEntities []string
	Confidence      ConfidencePolicy
	Client          *http.Client
}

// SpacyEngine calls a spaCy NER sidecar. spaCy emits no per-entity score, so
// confidences come from the configured policy.
type SpacyEngine struct {
	cfg    SpacyConfig
	policy ConfidencePolicy
	sc     sidecar
}

func NewSpacyEngine(cfg SpacyConfig) *SpacyEngine {
	if cfg.Model == "" {
		cfg.Model = DefaultSpacyModel
	}
	if len(cfg.DefaultEntities) == 0 {
		cfg.DefaultEntities = SpacyDefaultEntities
	}
	return &SpacyEngine{
		cfg:    cfg,
		policy: SpacyConfidence().Merge(cfg.Confidence),
		sc:     newSidecar("spacy", cfg.Client),
	}
}

func LoadSpacy(cfg SpacyConfig) Loader {
	return func(ctx context.Context) (Engine, error) {
		e := NewSpacyEngine(cfg)
		if err := e.sc.probe(ctx, joinURL(cfg.URL, "/health")); err != nil {
			return nil, err
		}
		return e, nil
	}
}

func (e *SpacyEngine) Kind() Kind { return KindSpacy }

type spacyRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type spacyEntity struct {
	Label       string `json:"label"`
	StartChar   int    `json:"start_char"`
	EndChar     int    `json:"end_char"`
	Text        string `json:"text"`
	Description string `json:"description"`
}

type spacyResponse struct {
	Ents []spacyEntity `json:"ents"`
}

func (e *SpacyEngine) Detect(ctx context.Context, text string, opts Options) ([]Finding, error) {
	var resp spacyResponse
	if err := e.sc.postJSON(ctx, joinURL(e.cfg.URL, "/ner"), spacyRequest{Text: text, Model: e.cfg.Model}, &resp); err != nil {
		return nil, err
	}

	filter := resolveEntities(opts.Entities, e.cfg.DefaultEntities)
	idx := newRuneIndex(text)
	out := make([]Finding, 0, len(resp.Ents))
	for _, ent := range resp.Ents {
		label := strings.ToUpper(ent.Label)
		if !allowed(filter, label) {
			continue
		}
		score := e.policy.Score(label)
		if score < opts.Threshold {
			continue
		}
		start, end, ok := idx.span(ent.StartChar, ent.EndChar)
		if !ok {
			continue
		}
		f, ok := NewFinding(text, label, start, end, score, map[string]any{
			"recognizer":         "spacy_ner",
			"entity_label":       ent.Label,
			"entity_description": ent.Description,
		})
		if ok {
			out = append(out, f)
		}
	}
	return out, nil
}
