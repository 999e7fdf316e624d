package consolidate

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veil/internal/detect"
)

func f(typ string, start, end int, score float64) detect.Finding {
	return detect.Finding{EntityType: typ, Start: start, End: end, Score: score}
}

func TestConsolidateEmpty(t *testing.T) {
	assert.Empty(t, Consolidate(nil))
	assert.NotNil(t, Consolidate(nil))
}

func TestConsolidateHigherScoreWins(t *testing.T) {
	got := Consolidate([]detect.Finding{f("PERSON", 0, 4, 0.9), f("ORG", 2, 6, 0.6)})
	require.Len(t, got, 1)
	assert.Equal(t, f("PERSON", 0, 4, 0.9), got[0])

	got = Consolidate([]detect.Finding{f("PERSON", 0, 4, 0.6), f("ORG", 2, 6, 0.9)})
	require.Len(t, got, 1)
	assert.Equal(t, "ORG", got[0].EntityType)
}

func TestConsolidateTouchingSpansOverlap(t *testing.T) {
	got := Consolidate([]detect.Finding{f("A", 0, 4, 0.5), f("B", 4, 8, 0.7)})
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].EntityType)
}

func TestConsolidateTieKeepsEarlier(t *testing.T) {
	got := Consolidate([]detect.Finding{f("A", 0, 4, 0.7), f("B", 2, 6, 0.7)})
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].EntityType)
}

func TestConsolidateSortsByStart(t *testing.T) {
	got := Consolidate([]detect.Finding{f("C", 20, 24, 0.5), f("A", 0, 4, 0.5), f("B", 10, 14, 0.5)})
	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 10, 20}, []int{got[0].Start, got[1].Start, got[2].Start})
}

func TestConsolidateDoesNotMutateInput(t *testing.T) {
	in := []detect.Finding{f("B", 10, 14, 0.5), f("A", 0, 4, 0.9), f("C", 2, 6, 0.6)}
	snapshot := append([]detect.Finding(nil), in...)
	_ = Consolidate(in)
	assert.Equal(t, snapshot, in)
}

// In an A-B-C chain where only the middle finding is weak, both ends
// survive even though B links them.
func TestConsolidateChainComparesFirstOverlapOnly(t *testing.T) {
	in := []detect.Finding{
		f("A", 0, 4, 0.9),
		f("B", 3, 7, 0.5),
		f("C", 6, 10, 0.6),
	}
	got := Consolidate(in)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].EntityType)
	assert.Equal(t, "C", got[1].EntityType)
}

func TestConsolidateMixedEngines(t *testing.T) {
	in := []detect.Finding{
		f("PERSON", 0, 8, 0.85),
		f("PER", 0, 8, 0.99),
		f("EMAIL_ADDRESS", 20, 36, 1.0),
		f("PERSON", 0, 4, 0.8),
	}
	got := Consolidate(in)
	require.Len(t, got, 2)
	assert.Equal(t, "PER", got[0].EntityType)
	assert.Equal(t, "EMAIL_ADDRESS", got[1].EntityType)
}

// disjoint builds start-sorted findings separated by at least one offset.
func disjoint(widths []int) []detect.Finding {
	out := make([]detect.Finding, 0, len(widths))
	pos := 0
	for i, w := range widths {
		start := pos + 1 + w%3
		end := start + w
		out = append(out, f("T", start, end, float64(i%10)/10))
		pos = end
	}
	return out
}

// decode turns generated integers into arbitrary, possibly overlapping
// findings.
func decode(codes []int) []detect.Finding {
	out := make([]detect.Finding, 0, len(codes))
	for _, v := range codes {
		start := v % 40
		out = append(out, f("T", start, start+1+(v/40)%5, float64((v/200)%10)/10))
	}
	return out
}

func TestConsolidateIdempotent_PropertyBased(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("disjoint sorted findings are returned unchanged", prop.ForAll(
		func(widths []int) bool {
			in := disjoint(widths)
			return reflect.DeepEqual(Consolidate(in), in)
		},
		gen.SliceOf(gen.IntRange(1, 12)),
	))

	properties.Property("consolidation is idempotent", prop.ForAll(
		func(codes []int) bool {
			once := Consolidate(decode(codes))
			return reflect.DeepEqual(Consolidate(once), once)
		},
		gen.SliceOf(gen.IntRange(0, 1999)),
	))

	properties.Property("output holds no overlapping pair", prop.ForAll(
		func(codes []int) bool {
			out := Consolidate(decode(codes))
			for i := range out {
				for j := i + 1; j < len(out); j++ {
					if Overlaps(out[i], out[j]) {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1999)),
	))

	properties.Property("of two overlapping findings the higher score survives", prop.ForAll(
		func(start, width, shift int, a, b float64) bool {
			x := f("X", start, start+width, a)
			y := f("Y", start+shift%width, start+width+shift, b)
			got := Consolidate([]detect.Finding{x, y})
			if len(got) != 1 {
				return false
			}
			if b > a {
				return reflect.DeepEqual(got[0], y)
			}
			return reflect.DeepEqual(got[0], x)
		},
		gen.IntRange(0, 100),
		gen.IntRange(1, 20),
		gen.IntRange(0, 20),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
