package detect

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token is a span of the analyzed text; offsets are bytes.
type Token struct {
	Text       string
	Start, End int
}

type WordPieceTokenizer struct {
	vocab      map[string]int
	unkID      int
	clsID      int
	sepID      int
	maxWordLen int
	maxSeqLen  int
	lowercase  bool
}

// Encoding is the model input for one text. Pieces[i] is the text span of
// InputIDs[i]; special tokens carry an empty span and Special[i] set.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	Pieces        []Token
	Special       []bool
	Truncated     bool
}

func (e *Encoding) push(id int, piece Token, special bool) {
	e.InputIDs = append(e.InputIDs, int64(id))
	e.AttentionMask = append(e.AttentionMask, 1)
	e.TokenTypeIDs = append(e.TokenTypeIDs, 0)
	e.Pieces = append(e.Pieces, piece)
	e.Special = append(e.Special, special)
}

type tokenizerJSON struct {
	Model struct {
		Vocab map[string]int `json:"vocab"`
	} `json:"model"`
	Normalizer struct {
		Lowercase *bool `json:"lowercase"`
	} `json:"normalizer"`
}

func NewWordPieceTokenizer(tokenizerPath string) (*WordPieceTokenizer, error) {
	vocab, lowercase, err := loadTokenizerConfig(tokenizerPath)
	if err != nil {
		return nil, err
	}
	unkID, ok := vocab["[UNK]"]
	if !ok {
		return nil, fmt.Errorf("tokenizer vocab is missing [UNK]")
	}
	clsID, ok := vocab["[CLS]"]
	if !ok {
		return nil, fmt.Errorf("tokenizer vocab is missing [CLS]")
	}
	sepID, ok := vocab["[SEP]"]
	if !ok {
		return nil, fmt.Errorf("tokenizer vocab is missing [SEP]")
	}
	return &WordPieceTokenizer{vocab: vocab, unkID: unkID, clsID: clsID, sepID: sepID, maxWordLen: 100, maxSeqLen: 512, lowercase: lowercase}, nil
}

func loadTokenizerConfig(path string) (map[string]int, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	var cfg tokenizerJSON
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, false, err
	}
	if len(cfg.Model.Vocab) == 0 {
		return nil, false, fmt.Errorf("tokenizer.json model.vocab is empty")
	}
	// the conll03 export is cased; only an explicit normalizer flag lowercases
	lowercase := false
	if cfg.Normalizer.Lowercase != nil {
		lowercase = *cfg.Normalizer.Lowercase
	}
	return cfg.Model.Vocab, lowercase, nil
}

// Encode splits text into words and WordPiece sub-tokens, wrapped in
// [CLS]/[SEP]. Input beyond the model's sequence length is dropped and
// flagged as Truncated.
func (t *WordPieceTokenizer) Encode(text string) *Encoding {
	enc := &Encoding{}
	enc.push(t.clsID, Token{}, true)
	limit := t.maxSeqLen - 1
	for _, word := range splitWordsWithOffsets(text) {
		pieces := t.wordToPieces(word)
		if len(enc.InputIDs)+len(pieces) > limit {
			enc.Truncated = true
			break
		}
		for _, p := range pieces {
			enc.push(p.id, p.Token, false)
		}
	}
	enc.push(t.sepID, Token{}, true)
	return enc
}

// windowOverlap caps how many pieces consecutive windows share; short
// sequence lengths share at most a quarter of the window.
const windowOverlap = 64

// Window is one model-sized slice of a longer text. Owned[i] is set for the
// pieces whose labels come from this window; across all windows of a text
// every piece is owned exactly once.
type Window struct {
	*Encoding
	Owned []bool
}

// EncodeWindows covers the whole text with encodings no longer than the
// model's sequence length. Windows break on word boundaries and overlap by up
// to windowOverlap pieces; ownership of the overlap is split at its middle so
// each piece is labelled with context on both sides.
func (t *WordPieceTokenizer) EncodeWindows(text string) []Window {
	words := splitWordsWithOffsets(text)
	pieces := make([][]wordPiece, len(words))
	for i, w := range words {
		pieces[i] = t.wordToPieces(w)
	}

	type wordRange struct{ start, end int }
	limit := t.maxSeqLen - 2
	overlap := min(windowOverlap, limit/4)
	var ranges []wordRange
	for start := 0; start < len(words); {
		end, n := start, 0
		for end < len(words) && (end == start || n+len(pieces[end]) <= limit) {
			n += len(pieces[end])
			end++
		}
		ranges = append(ranges, wordRange{start, end})
		if end == len(words) {
			break
		}
		next, back := end, 0
		for next-1 > start && back+len(pieces[next-1]) <= overlap {
			next--
			back += len(pieces[next])
		}
		start = next
	}

	out := make([]Window, 0, len(ranges))
	for k, r := range ranges {
		lo, hi := r.start, r.end
		if k > 0 {
			lo = (r.start + ranges[k-1].end) / 2
		}
		if k < len(ranges)-1 {
			hi = (ranges[k+1].start + r.end) / 2
		}
		w := Window{Encoding: &Encoding{}}
		w.push(t.clsID, Token{}, true)
		w.Owned = append(w.Owned, false)
		for i := r.start; i < r.end; i++ {
			for _, p := range pieces[i] {
				w.push(p.id, p.Token, false)
				w.Owned = append(w.Owned, i >= lo && i < hi)
			}
		}
		w.push(t.sepID, Token{}, true)
		w.Owned = append(w.Owned, false)
		out = append(out, w)
	}
	return out
}

type wordPiece struct {
	Token
	id int
}

func (t *WordPieceTokenizer) wordToPieces(word Token) []wordPiece {
	whole := []wordPiece{{Token: word, id: t.unkID}}
	normalized := word.Text
	if t.lowercase {
		normalized = strings.ToLower(word.Text)
	}
	runes := []rune(normalized)
	if len(runes) == 0 || len(runes) > t.maxWordLen {
		return whole
	}
	if id, ok := t.vocab[normalized]; ok {
		whole[0].id = id
		return whole
	}

	// byte offset of every rune boundary in the original word, used to give
	// each piece its own span when normalization kept the rune count
	var bounds []int
	if utf8.RuneCountInString(word.Text) == len(runes) {
		bounds = make([]int, 0, len(runes)+1)
		for i := range word.Text {
			bounds = append(bounds, word.Start+i)
		}
		bounds = append(bounds, word.End)
	}

	out := make([]wordPiece, 0, 4)
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := -1
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				found = id
				break
			}
			end--
		}
		if found == -1 {
			return whole
		}
		p := wordPiece{Token: word, id: found}
		if bounds != nil {
			p.Start, p.End = bounds[start], bounds[end]
			p.Text = word.Text[p.Start-word.Start : p.End-word.Start]
		}
		out = append(out, p)
		start = end
	}
	return out
}

// splitWordsWithOffsets mirrors BERT's basic tokenizer: runs of letters and
// digits form words, every other non-space rune is a word of its own.
func splitWordsWithOffsets(text string) []Token {
	tokens := make([]Token, 0)
	start := -1
	flush := func(end int) {
		if start >= 0 {
			tokens = append(tokens, Token{Text: text[start:end], Start: start, End: end})
			start = -1
		}
	}
	for i, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r):
			if start < 0 {
				start = i
			}
		case unicode.IsSpace(r) || unicode.IsControl(r):
			flush(i)
		default:
			flush(i)
			w := utf8.RuneLen(r)
			tokens = append(tokens, Token{Text: text[i : i+w], Start: i, End: i + w})
		}
	}
	flush(len(text))
	return tokens
}

func softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := float64(logits[0])
	for _, v := range logits[1:] {
		maxLogit = math.Max(maxLogit, float64(v))
	}
	out := make([]float64, len(logits))
	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(float64(v) - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func argmax(probs []float64) (int, float64) {
	best, bestIdx := math.Inf(-1), -1
	for i, p := range probs {
		if p > best {
			best, bestIdx = p, i
		}
	}
	return bestIdx, best
}

type bioSpan struct {
	Type       string
	Start, End int
	Score      float64
}

// mergeBIO groups consecutive tokens of the same entity into spans, scoring
// each span by the mean of its token scores.
func mergeBIO(tokens []Token, labels []string, scores []float64) []bioSpan {
	out := make([]bioSpan, 0)
	var cur *bioSpan
	curCount := 0.0
	flush := func() {
		if cur != nil {
			cur.Score = cur.Score / math.Max(1, curCount)
			out = append(out, *cur)
			cur = nil
			curCount = 0
		}
	}
	for i := range tokens {
		label := labels[i]
		score := scores[i]
		if label == "O" || label == "" {
			flush()
			continue
		}
		prefix, typ, ok := strings.Cut(label, "-")
		if !ok {
			// bare labels from non-BIO exports start a span of their own
			prefix, typ = "B", label
		}
		if prefix != "I" && prefix != "B" {
			flush()
			continue
		}
		if prefix == "B" || cur == nil || cur.Type != typ {
			// a B- piece inside a word continues the span of that word
			if cur != nil && prefix == "B" && cur.Type == typ && tokens[i].Start == cur.End && isSubword(tokens, i) {
				cur.End = tokens[i].End
				cur.Score += score
				curCount++
				continue
			}
			flush()
			cur = &bioSpan{Type: typ, Start: tokens[i].Start, End: tokens[i].End, Score: score}
			curCount = 1
			continue
		}
		cur.End = tokens[i].End
		cur.Score += score
		curCount++
	}
	flush()
	return out
}

func isSubword(tokens []Token, i int) bool {
	if i == 0 {
		return false
	}
	prev := tokens[i-1]
	if prev.End != tokens[i].Start || prev.Text == "" || tokens[i].Text == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(prev.Text)
	first, _ := utf8.DecodeRuneInString(tokens[i].Text)
	return isWordRune(last) && isWordRune(first)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
