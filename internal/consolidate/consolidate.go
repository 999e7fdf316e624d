// Package consolidate reduces overlapping findings to one finding per region.
package consolidate

import (
	"sort"

	"veil/internal/detect"
)

// Consolidate keeps at most one finding per overlapping region, preferring
// the higher score. Spans overlap when they share any offset, including a
// touching endpoint.
//
// Each candidate is compared only with the first accepted finding it
// overlaps, so a candidate that overlaps several accepted findings can
// survive alongside some of them. The input slice is not modified.
func Consolidate(findings []detect.Finding) []detect.Finding {
	if len(findings) == 0 {
		return []detect.Finding{}
	}
	sorted := make([]detect.Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	accepted := make([]detect.Finding, 0, len(sorted))
	for _, c := range sorted {
		idx := firstOverlap(accepted, c)
		switch {
		case idx < 0:
			accepted = append(accepted, c)
		case c.Score > accepted[idx].Score:
			accepted = append(accepted[:idx], accepted[idx+1:]...)
			accepted = append(accepted, c)
		}
	}
	sort.SliceStable(accepted, func(i, j int) bool { return accepted[i].Start < accepted[j].Start })
	return accepted
}

func firstOverlap(accepted []detect.Finding, c detect.Finding) int {
	for i, e := range accepted {
		if Overlaps(c, e) {
			return i
		}
	}
	return -1
}

// Overlaps applies the closed-interval test used by Consolidate.
func Overlaps(a, b detect.Finding) bool {
	return a.Start <= b.End && a.End >= b.Start
}
