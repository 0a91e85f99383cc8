// Package segment builds the unified word-or-gap Segment list for a clip's
// transcript and translates indices between the word-only view (what a
// transcription provider returns) and the segment view (what the editor's
// selection UI operates on). See spec §3 and §4.E.
package segment

import (
	"math"
	"sort"

	"github.com/mantonx/hap/internal/model"
)

// MinGapSeconds is the smallest gap duration considered worth representing
// as its own Segment at all; smaller silences are absorbed into the
// surrounding words' boundaries rather than creating a sliver Gap.
const MinGapSeconds = 0.3

// BuildSegments produces the contiguous word-or-gap Segment list for a
// clip's word list and total duration, per the invariants in spec §3:
//   - segments are contiguous and strictly ordered by Start
//   - the first segment begins at 0 if a leading gap >= 0.3s exists,
//     otherwise at the first word's start
//   - every gap of duration d >= 0.3s is split into round(d/0.3) equal-length
//     consecutive Gap segments (the UI's smallest selectable silence unit)
func BuildSegments(words []model.Word, totalDuration float64) []model.Segment {
	segments := make([]model.Segment, 0, len(words)*2+1)

	cursor := 0.0
	if len(words) > 0 && words[0].Start >= MinGapSeconds {
		segments = append(segments, splitGap(0, words[0].Start)...)
		cursor = words[0].Start
	} else if len(words) == 0 && totalDuration >= MinGapSeconds {
		segments = append(segments, splitGap(0, totalDuration)...)
		cursor = totalDuration
	}

	for i, w := range words {
		if w.Start > cursor {
			gapDur := w.Start - cursor
			switch {
			case gapDur >= MinGapSeconds:
				segments = append(segments, splitGap(cursor, w.Start)...)
			case len(segments) > 0:
				// Sub-threshold silence between two words: close the hole
				// by extending the preceding segment's End rather than
				// leaving an unrepresented span (spec §3(a) contiguity).
				segments[len(segments)-1].End = w.Start
			default:
				// Sub-threshold silence at the very start: left
				// unrepresented, per spec §3(a)'s "at the extremes"
				// exemption.
			}
		}
		segments = append(segments, model.Segment{
			Kind:              model.SegmentWord,
			Start:             w.Start,
			End:               w.End,
			Text:              w.Text,
			OriginalWordIndex: i,
		})
		cursor = w.End
	}

	if totalDuration > cursor {
		trailing := totalDuration - cursor
		if trailing >= MinGapSeconds {
			segments = append(segments, splitGap(cursor, totalDuration)...)
		}
	}

	return segments
}

// splitGap divides [start, end) into round(d/0.3) equal-length consecutive
// Gap segments, per spec §3(c).
func splitGap(start, end float64) []model.Segment {
	d := end - start
	n := int(math.Round(d / MinGapSeconds))
	if n < 1 {
		n = 1
	}
	step := d / float64(n)

	out := make([]model.Segment, 0, n)
	cur := start
	for i := 0; i < n; i++ {
		next := cur + step
		if i == n-1 {
			next = end // absorb floating-point drift on the last slice
		}
		out = append(out, model.Segment{Kind: model.SegmentGap, Start: cur, End: next})
		cur = next
	}
	return out
}

// WordIndicesToSegmentIndices maps a set of indices into the original word
// list onto the indices of the Segment slice that BuildSegments produced
// from the same word list. Indices that don't correspond to a Word segment
// are silently dropped; callers that need strict validation should check
// len(result) against len(wordIndices) themselves.
func WordIndicesToSegmentIndices(segments []model.Segment, wordIndices []int) []int {
	want := make(map[int]struct{}, len(wordIndices))
	for _, i := range wordIndices {
		want[i] = struct{}{}
	}

	var out []int
	for segIdx, s := range segments {
		if s.Kind != model.SegmentWord {
			continue
		}
		if _, ok := want[s.OriginalWordIndex]; ok {
			out = append(out, segIdx)
		}
	}
	sort.Ints(out)
	return out
}

// SegmentIndicesToWordIndices is the inverse of WordIndicesToSegmentIndices:
// for each segment index that refers to a Word segment, it yields that
// word's original index. Gap-segment indices are dropped. This and
// WordIndicesToSegmentIndices are bijective on the Word subset (spec §8
// invariant 1).
func SegmentIndicesToWordIndices(segments []model.Segment, segmentIndices []int) []int {
	var out []int
	for _, segIdx := range segmentIndices {
		if segIdx < 0 || segIdx >= len(segments) {
			continue
		}
		s := segments[segIdx]
		if s.Kind == model.SegmentWord {
			out = append(out, s.OriginalWordIndex)
		}
	}
	sort.Ints(out)
	return out
}
