package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

var (
	ErrModelUnavailable = errors.New("transformers model unavailable")
	ErrTextTooLarge     = errors.New("text exceeds transformers size limit")
)

const (
	DefaultTransformersModel = "dbmdz/bert-large-cased-finetuned-conll03-english"
	defaultMaxBytes          = 32 * 1024
)

// BackendPython and BackendNative select how ONNX inference runs.
const (
	BackendPython = "python"
	BackendNative = "native"
)

// nerSession runs the token classifier and returns one logit row per token.
type nerSession interface {
	Run(ctx context.Context, inputIDs, attentionMask, tokenTypeIDs []int64) ([][]float32, error)
	Close() error
}

type TransformersConfig struct {
	ModelDir        string
	ModelName       string
	MaxBytes        int
	DefaultEntities []string
	// Backend is BackendPython or BackendNative; empty picks the build default.
	Backend string
	// SharedLibrary points the native backend at libonnxruntime.
	SharedLibrary string
}

// TransformersEngine is a BERT token classifier exported to ONNX.
type TransformersEngine struct {
	cfg       TransformersConfig
	labels    []string
	tokenizer *WordPieceTokenizer
	session   nerSession
}

// DefaultModelDir is where `veil model download` installs the NER model.
func DefaultModelDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".veil", "models", "ner_en")
	}
	return filepath.Join(home, ".veil", "models", "ner_en")
}

func LoadTransformers(cfg TransformersConfig) Loader {
	return func(ctx context.Context) (Engine, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewTransformersEngine(cfg)
	}
}

// NewTransformersEngine reads model.onnx, labels.json and tokenizer.json from
// cfg.ModelDir and opens an inference session.
func NewTransformersEngine(cfg TransformersConfig) (*TransformersEngine, error) {
	if cfg.ModelDir == "" {
		cfg.ModelDir = DefaultModelDir()
	}
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultTransformersModel
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	modelPath := filepath.Join(cfg.ModelDir, "model.onnx")
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: model missing: %v", ErrModelUnavailable, err)
	}
	labels, err := loadLabels(filepath.Join(cfg.ModelDir, "labels.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: load labels: %v", ErrModelUnavailable, err)
	}
	tok, err := NewWordPieceTokenizer(filepath.Join(cfg.ModelDir, "tokenizer.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: load tokenizer: %v", ErrModelUnavailable, err)
	}
	session, err := createONNXSession(cfg, modelPath, len(labels))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return &TransformersEngine{cfg: cfg, labels: labels, tokenizer: tok, session: session}, nil
}

// CheckModelFiles parses the label map and tokenizer in dir the same way the
// engine does at load time, without opening an inference session.
func CheckModelFiles(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, "model.onnx")); err != nil {
		return fmt.Errorf("model missing: %w", err)
	}
	if _, err := loadLabels(filepath.Join(dir, "labels.json")); err != nil {
		return fmt.Errorf("load labels: %w", err)
	}
	if _, err := NewWordPieceTokenizer(filepath.Join(dir, "tokenizer.json")); err != nil {
		return fmt.Errorf("load tokenizer: %w", err)
	}
	return nil
}

// loadLabels reads the id2label map of the exported model.
func loadLabels(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var byID map[string]string
	if err := json.Unmarshal(raw, &byID); err != nil {
		return nil, err
	}
	if len(byID) == 0 {
		return nil, errors.New("labels.json is empty")
	}
	ids := make([]int, 0, len(byID))
	for k := range byID {
		id, err := strconv.Atoi(k)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid label id %q", k)
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	if ids[len(ids)-1] != len(ids)-1 {
		return nil, fmt.Errorf("label ids are not contiguous")
	}
	labels := make([]string, len(ids))
	for k, v := range byID {
		id, _ := strconv.Atoi(k)
		labels[id] = v
	}
	return labels, nil
}

func (e *TransformersEngine) Kind() Kind { return KindTransformers }

// Close releases the inference session.
func (e *TransformersEngine) Close() error {
	return e.session.Close()
}

func (e *TransformersEngine) Detect(ctx context.Context, text string, opts Options) ([]Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if text == "" {
		return []Finding{}, nil
	}
	if len(text) > e.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTextTooLarge, len(text), e.cfg.MaxBytes)
	}

	var (
		tokens []Token
		labels []string
		scores []float64
	)
	for _, w := range e.tokenizer.EncodeWindows(text) {
		logits, err := e.session.Run(ctx, w.InputIDs, w.AttentionMask, w.TokenTypeIDs)
		if err != nil {
			return nil, err
		}
		if len(logits) != len(w.InputIDs) {
			return nil, fmt.Errorf("transformers: got %d logit rows for %d tokens", len(logits), len(w.InputIDs))
		}
		for i, row := range logits {
			if w.Special[i] || !w.Owned[i] {
				continue
			}
			idx, score := argmax(softmax(row))
			label := "O"
			if idx >= 0 && idx < len(e.labels) {
				label = e.labels[idx]
			}
			tokens = append(tokens, w.Pieces[i])
			labels = append(labels, label)
			scores = append(scores, score)
		}
	}

	filter := resolveEntities(opts.Entities, e.cfg.DefaultEntities)
	out := make([]Finding, 0)
	for _, span := range mergeBIO(tokens, labels, scores) {
		if span.Score < opts.Threshold || !allowed(filter, span.Type) {
			continue
		}
		f, ok := NewFinding(text, span.Type, span.Start, span.End, span.Score, map[string]any{
			"recognizer":     "transformers_bert",
			"model":          e.cfg.ModelName,
			"entity_group":   span.Type,
			"original_score": span.Score,
		})
		if ok {
			out = append(out, f)
		}
	}
	return out, nil
}
