// Package anonymize renders redacted text from a set of findings.
package anonymize

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"veil/internal/detect"
)

// ErrInvalidSpan is returned for findings outside the text, not on rune
// boundaries, or overlapping another finding.
var ErrInvalidSpan = errors.New("invalid finding span")

// Placeholder is the replacement written for a finding of entityType.
func Placeholder(entityType string) string {
	return "[" + entityType + "]"
}

// Render replaces every finding's span with its placeholder. Findings are
// applied from the highest start offset down, so every offset refers to the
// original text regardless of how replacement lengths differ.
func Render(text string, findings []detect.Finding) (string, error) {
	if len(findings) == 0 {
		return text, nil
	}
	ordered := make([]detect.Finding, len(findings))
	copy(ordered, findings)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })

	limit := len(text)
	for _, f := range ordered {
		if f.Start < 0 || f.Start >= f.End || f.End > len(text) {
			return "", fmt.Errorf("%w: %s [%d,%d) outside text of %d bytes", ErrInvalidSpan, f.EntityType, f.Start, f.End, len(text))
		}
		if !boundary(text, f.Start) || !boundary(text, f.End) {
			return "", fmt.Errorf("%w: %s [%d,%d) splits a character", ErrInvalidSpan, f.EntityType, f.Start, f.End)
		}
		if f.End > limit {
			return "", fmt.Errorf("%w: %s [%d,%d) overlaps a later finding", ErrInvalidSpan, f.EntityType, f.Start, f.End)
		}
		limit = f.Start
	}

	working := text
	for _, f := range ordered {
		var b strings.Builder
		p := Placeholder(f.EntityType)
		b.Grow(len(working) - (f.End - f.Start) + len(p))
		b.WriteString(working[:f.Start])
		b.WriteString(p)
		b.WriteString(working[f.End:])
		working = b.String()
	}
	return working, nil
}

func boundary(s string, i int) bool {
	return i == len(s) || utf8.RuneStart(s[i])
}
