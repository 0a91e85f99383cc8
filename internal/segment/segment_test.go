package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/hap/internal/model"
)

func TestBuildSegments_LeadingGap(t *testing.T) {
	words := []model.Word{
		{Text: "play", Start: 1.0, End: 1.4, Confidence: 1},
	}
	segments := BuildSegments(words, 2.0)

	require.NotEmpty(t, segments)
	assert.Equal(t, model.SegmentGap, segments[0].Kind)
	assert.Equal(t, 0.0, segments[0].Start)
}

func TestBuildSegments_NoLeadingGapBelowThreshold(t *testing.T) {
	words := []model.Word{
		{Text: "hi", Start: 0.1, End: 0.3, Confidence: 1},
	}
	segments := BuildSegments(words, 1.0)

	require.NotEmpty(t, segments)
	assert.Equal(t, model.SegmentWord, segments[0].Kind)
	assert.Equal(t, 0.1, segments[0].Start)
}

func TestBuildSegments_Contiguous(t *testing.T) {
	words := []model.Word{
		{Text: "a", Start: 0.5, End: 0.8, Confidence: 1},
		{Text: "b", Start: 2.0, End: 2.3, Confidence: 1},
	}
	segments := BuildSegments(words, 3.0)

	for i := 1; i < len(segments); i++ {
		assert.InDeltaf(t, segments[i-1].End, segments[i].Start, 1e-9, "segment %d not contiguous with %d", i, i-1)
	}
	assert.True(t, segments[len(segments)-1].End <= 3.0+1e-9)
}

func TestBuildSegments_SubThresholdInternalGapExtendsPrecedingWord(t *testing.T) {
	// A 0.1s gap between two words is below MinGapSeconds and must not
	// leave an unrepresented hole: the preceding word's End is extended to
	// close it instead. The 0.5s leading gap becomes two gap slices first.
	words := []model.Word{
		{Text: "a", Start: 0.5, End: 0.8, Confidence: 1},
		{Text: "b", Start: 0.9, End: 1.1, Confidence: 1},
	}
	segments := BuildSegments(words, 1.1)

	require.Len(t, segments, 4)
	assert.Equal(t, model.SegmentWord, segments[2].Kind)
	assert.Equal(t, 0.9, segments[2].End, "preceding word's End must be extended to close the sub-threshold gap")
	assert.Equal(t, model.SegmentWord, segments[3].Kind)
	assert.Equal(t, 0.9, segments[3].Start)

	for i := 1; i < len(segments); i++ {
		assert.InDeltaf(t, segments[i-1].End, segments[i].Start, 1e-9, "segment %d not contiguous with %d", i, i-1)
	}
}

func TestBuildSegments_GapSplitting(t *testing.T) {
	// A 0.9s gap between words should split into round(0.9/0.3)=3 slices.
	words := []model.Word{
		{Text: "a", Start: 0.0, End: 0.1, Confidence: 1},
		{Text: "b", Start: 1.0, End: 1.2, Confidence: 1},
	}
	segments := BuildSegments(words, 1.2)

	gapCount := 0
	for _, s := range segments {
		if s.Kind == model.SegmentGap {
			gapCount++
		}
	}
	assert.Equal(t, 3, gapCount)
}

func TestSegmentIndexRoundTrip(t *testing.T) {
	// spec §8 invariant 1: wordIndicesToSegmentIndices then
	// segmentIndicesToWordIndices is the identity on word indices.
	words := []model.Word{
		{Text: "a", Start: 0.0, End: 0.2, Confidence: 1},
		{Text: "b", Start: 0.5, End: 0.7, Confidence: 1},
		{Text: "c", Start: 2.0, End: 2.2, Confidence: 1},
	}
	segments := BuildSegments(words, 2.5)

	wordIndices := []int{0, 1, 2}
	segIndices := WordIndicesToSegmentIndices(segments, wordIndices)
	roundTripped := SegmentIndicesToWordIndices(segments, segIndices)

	assert.Equal(t, wordIndices, roundTripped)
}

func TestSegmentIndicesToWordIndices_DropsGaps(t *testing.T) {
	words := []model.Word{
		{Text: "a", Start: 1.0, End: 1.2, Confidence: 1},
	}
	segments := BuildSegments(words, 1.5)

	allIndices := make([]int, len(segments))
	for i := range segments {
		allIndices[i] = i
	}
	wordIndices := SegmentIndicesToWordIndices(segments, allIndices)

	assert.Equal(t, []int{0}, wordIndices)
}
