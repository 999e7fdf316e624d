package detect

import "unicode/utf8"

// runeIndex converts code-point offsets, as reported by Python backends, into
// byte offsets of a Go string.
type runeIndex struct {
	byteAt []int
}

func newRuneIndex(text string) runeIndex {
	idx := runeIndex{byteAt: make([]int, 0, utf8.RuneCountInString(text)+1)}
	for i := range text {
		idx.byteAt = append(idx.byteAt, i)
	}
	idx.byteAt = append(idx.byteAt, len(text))
	return idx
}

// bytes maps a code-point offset to a byte offset. ok is false when the
// offset lies outside the text.
func (r runeIndex) bytes(runeOffset int) (int, bool) {
	if runeOffset < 0 || runeOffset >= len(r.byteAt) {
		return 0, false
	}
	return r.byteAt[runeOffset], true
}

// span converts a code-point span to a byte span.
func (r runeIndex) span(start, end int) (int, int, bool) {
	bs, ok := r.bytes(start)
	if !ok {
		return 0, 0, false
	}
	be, ok := r.bytes(end)
	if !ok {
		return 0, 0, false
	}
	return bs, be, true
}

// runeOffsets converts byte offsets back to code points for backends that
// expect them.
func runeOffsets(text string, start, end int) (int, int) {
	return utf8.RuneCountInString(text[:start]), utf8.RuneCountInString(text[:end])
}

// CodePointFindings returns copies of findings with Start and End counted in
// code points, the unit HTTP clients index text with.
func CodePointFindings(text string, findings []Finding) []Finding {
	out := make([]Finding, len(findings))
	for i, f := range findings {
		f.Start, f.End = runeOffsets(text, f.Start, f.End)
		out[i] = f
	}
	return out
}
