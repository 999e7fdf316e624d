package detect

import (
	"context"
	"net/http"
)

// PresidioDefaultEntities is the category list used when a request names none.
var PresidioDefaultEntities = []string{
	"PERSON", "EMAIL_ADDRESS", "PHONE_NUMBER", "CREDIT_CARD",
	"SSN", "IBAN_CODE", "IP_ADDRESS", "DATE_TIME", "LOCATION",
	"MEDICAL_LICENSE", "US_DRIVER_LICENSE", "US_PASSPORT",
	"CRYPTO", "US_BANK_NUMBER", "AGE", "ORGANIZATION",
}

type PresidioConfig struct {
	AnalyzerURL     string
	AnonymizerURL   string
	DefaultEntities []string
	Client          *http.Client
}

// PresidioEngine talks to the presidio-analyzer and presidio-anonymizer
// REST services.
type PresidioEngine struct {
	cfg PresidioConfig
	sc  sidecar
}

func NewPresidioEngine(cfg PresidioConfig) *PresidioEngine {
	if len(cfg.DefaultEntities) == 0 {
		cfg.DefaultEntities = PresidioDefaultEntities
	}
	return &PresidioEngine{cfg: cfg, sc: newSidecar("presidio", cfg.Client)}
}

// LoadPresidio returns a Loader that probes both services before reporting
// the engine as loaded.
func LoadPresidio(cfg PresidioConfig) Loader {
	return func(ctx context.Context) (Engine, error) {
		e := NewPresidioEngine(cfg)
		if err := e.sc.probe(ctx, joinURL(cfg.AnalyzerURL, "/health")); err != nil {
			return nil, err
		}
		if cfg.AnonymizerURL != "" {
			if err := e.sc.probe(ctx, joinURL(cfg.AnonymizerURL, "/health")); err != nil {
				return nil, err
			}
		}
		return e, nil
	}
}

func (e *PresidioEngine) Kind() Kind { return KindPresidio }

type presidioAnalyzeRequest struct {
	Text                  string   `json:"text"`
	Language              string   `json:"language"`
	Entities              []string `json:"entities,omitempty"`
	ScoreThreshold        float64  `json:"score_threshold"`
	ReturnDecisionProcess bool     `json:"return_decision_process"`
}

type presidioResult struct {
	EntityType          string         `json:"entity_type"`
	Start               int            `json:"start"`
	End                 int            `json:"end"`
	Score               float64        `json:"score"`
	AnalysisExplanation map[string]any `json:"analysis_explanation"`
	RecognitionMetadata map[string]any `json:"recognition_metadata"`
}

func (e *PresidioEngine) Detect(ctx context.Context, text string, opts Options) ([]Finding, error) {
	entities := opts.Entities
	if len(entities) == 0 {
		entities = e.cfg.DefaultEntities
	}
	var results []presidioResult
	err := e.sc.postJSON(ctx, joinURL(e.cfg.AnalyzerURL, "/analyze"), presidioAnalyzeRequest{
		Text:                  text,
		Language:              opts.Language,
		Entities:              entities,
		ScoreThreshold:        opts.Threshold,
		ReturnDecisionProcess: true,
	}, &results)
	if err != nil {
		return nil, err
	}

	idx := newRuneIndex(text)
	out := make([]Finding, 0, len(results))
	for _, r := range results {
		if r.Score < opts.Threshold {
			continue
		}
		start, end, ok := idx.span(r.Start, r.End)
		if !ok {
			continue
		}
		f, ok := NewFinding(text, r.EntityType, start, end, r.Score, presidioExplanation(r))
		if ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func presidioExplanation(r presidioResult) map[string]any {
	lookup := func(key string) any {
		if v, ok := r.RecognitionMetadata[key]; ok {
			return v
		}
		return r.AnalysisExplanation[key]
	}
	str := func(key string) string {
		s, _ := lookup(key).(string)
		return s
	}
	recognizer := str("recognizer_name")
	if recognizer == "" {
		recognizer = str("recognizer")
	}
	improvement := lookup("score_context_improvement")
	if improvement == nil {
		improvement = 0
	}
	return map[string]any{
		"recognizer":                recognizer,
		"pattern_name":              str("pattern_name"),
		"pattern":                   str("pattern"),
		"original_score":            r.Score,
		"score_context_improvement": improvement,
		"supportive_context_word":   str("supportive_context_word"),
		"validation_result":         lookup("validation_result"),
	}
}

type presidioAnonymizeRequest struct {
	Text            string                `json:"text"`
	AnalyzerResults []presidioSpanPayload `json:"analyzer_results"`
}

type presidioSpanPayload struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

type presidioAnonymizeResponse struct {
	Text string `json:"text"`
}

// Anonymize renders text with presidio-anonymizer's default operators.
func (e *PresidioEngine) Anonymize(ctx context.Context, text string, findings []Finding) (string, error) {
	if len(findings) == 0 {
		return text, nil
	}
	payload := presidioAnonymizeRequest{Text: text, AnalyzerResults: make([]presidioSpanPayload, 0, len(findings))}
	for _, f := range findings {
		start, end := runeOffsets(text, f.Start, f.End)
		payload.AnalyzerResults = append(payload.AnalyzerResults, presidioSpanPayload{
			EntityType: f.EntityType, Start: start, End: end, Score: f.Score,
		})
	}
	var resp presidioAnonymizeResponse
	if err := e.sc.postJSON(ctx, joinURL(e.cfg.AnonymizerURL, "/anonymize"), payload, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}
