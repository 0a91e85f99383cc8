// Package reducer implements the pure selection-to-interval reduction that
// defines the contract between the editor and the clip surgeon (spec §4.D).
package reducer

import (
	"sort"

	"github.com/mantonx/hap/internal/model"
)

// DefaultBuffer is the default padding (seconds) added around each run of
// consecutive selected segments.
const DefaultBuffer = 0.15

// DefaultMergeGap is the default threshold (seconds) below which two
// buffered intervals are merged into one.
const DefaultMergeGap = 0.5

// Reduce maps a sparse set of selected segment indices onto a minimal,
// strictly-increasing list of Intervals:
//
//   - each run of consecutive selected indices collapses to a single
//     interval [first.Start-buffer, last.End+buffer], lower-clamped to 0
//   - two intervals separated by less than mergeGap after buffering are
//     merged into one
//
// Reduce is deterministic and idempotent: calling it twice with the same
// inputs yields identical output (spec §8 invariant 4).
func Reduce(segments []model.Segment, selected map[int]struct{}, buffer, mergeGap float64) []model.Interval {
	if len(selected) == 0 {
		return nil
	}

	indices := make([]int, 0, len(selected))
	for i := range selected {
		if i >= 0 && i < len(segments) {
			indices = append(indices, i)
		}
	}
	sort.Ints(indices)
	if len(indices) == 0 {
		return nil
	}

	// Collapse consecutive runs (by segment index) into raw intervals.
	var raw []model.Interval
	runStart := indices[0]
	runEnd := indices[0]
	for _, idx := range indices[1:] {
		if idx == runEnd+1 {
			runEnd = idx
			continue
		}
		raw = append(raw, bufferedInterval(segments, runStart, runEnd, buffer))
		runStart, runEnd = idx, idx
	}
	raw = append(raw, bufferedInterval(segments, runStart, runEnd, buffer))

	return mergeClose(raw, mergeGap)
}

func bufferedInterval(segments []model.Segment, startIdx, endIdx int, buffer float64) model.Interval {
	start := segments[startIdx].Start - buffer
	if start < 0 {
		start = 0
	}
	end := segments[endIdx].End + buffer
	return model.Interval{Start: start, End: end}
}

// mergeClose merges adjacent intervals whose gap is strictly less than
// mergeGap. raw is assumed already sorted ascending by Start, which holds
// because it was built from a sorted index list.
func mergeClose(raw []model.Interval, mergeGap float64) []model.Interval {
	if len(raw) == 0 {
		return nil
	}

	out := make([]model.Interval, 0, len(raw))
	cur := raw[0]
	for _, next := range raw[1:] {
		if next.Start-cur.End < mergeGap {
			if next.End > cur.End {
				cur.End = next.End
			}
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}
