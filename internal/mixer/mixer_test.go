package mixer

import (
	"context"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/hap/internal/mediatool"
	"github.com/mantonx/hap/internal/model"
)

func discardLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{Output: nil, Level: hclog.Off})
}

var defaultMixOptions = Options{}.withDefaults()

func TestTrimToActionWindow_InteriorWindowPassesDegeneracyCheck(t *testing.T) {
	m := New(discardLogger(), mediatool.New(discardLogger()), Options{})

	// Action window well inside the clip: buffer applies on both sides.
	_, err := m.TrimToActionWindow(context.Background(), "clip1", "/nonexistent/in.mp4", 100, model.Analysis{
		ActionStart: 10, ActionPeak: 11, ActionEnd: 12,
	}, "/tmp/out.mp4")
	// media.Trim will fail against a nonexistent input, but it must get past
	// the window-degeneracy check first: assert it's a media error, not a
	// validation error about a degenerate window.
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "degenerate")
}

func TestTrimToActionWindow_DegenerateWindowIsRejected(t *testing.T) {
	m := New(discardLogger(), mediatool.New(discardLogger()), Options{})

	_, err := m.TrimToActionWindow(context.Background(), "clip1", "/nonexistent/in.mp4", 1.0, model.Analysis{
		ActionStart: 5, ActionPeak: 5.5, ActionEnd: 6,
	}, "/tmp/out.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "degenerate")
}

func TestAssignTimeline_StampsCumulativeStarts(t *testing.T) {
	clips := []PlacedClip{
		{ClipID: "a", TrimmedDuration: 3},
		{ClipID: "b", TrimmedDuration: 5},
		{ClipID: "c", TrimmedDuration: 2},
	}

	out := AssignTimeline(clips)

	assert.Equal(t, 0.0, out[0].StartInFinal)
	assert.Equal(t, 3.0, out[1].StartInFinal)
	assert.Equal(t, 8.0, out[2].StartInFinal)
	for _, c := range out {
		assert.Equal(t, StatePlaced, c.State)
	}
}

func placedClip(id string, start, peak float64) PlacedClip {
	return PlacedClip{ClipID: id, StartInFinal: start, ActionPeakInClip: peak}
}

func TestPlaceNarrations_BeforeAction(t *testing.T) {
	clips := []PlacedClip{placedClip("c1", 10, 2)}
	narrations := []model.Narration{{ClipID: "c1", Duration: 1.0, Timing: model.TimingBeforeAction}}

	out, err := PlaceNarrations(clips, narrations)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 10+2-1.0-0.5, out[0].StartInFinal)
}

func TestPlaceNarrations_DuringAction(t *testing.T) {
	clips := []PlacedClip{placedClip("c1", 10, 2)}
	narrations := []model.Narration{{ClipID: "c1", Timing: model.TimingDuringAction}}

	out, err := PlaceNarrations(clips, narrations)
	require.NoError(t, err)
	assert.Equal(t, 12.0, out[0].StartInFinal)
}

func TestPlaceNarrations_AfterAction(t *testing.T) {
	clips := []PlacedClip{placedClip("c1", 10, 2)}
	narrations := []model.Narration{{ClipID: "c1", Timing: model.TimingAfterAction}}

	out, err := PlaceNarrations(clips, narrations)
	require.NoError(t, err)
	assert.Equal(t, 13.0, out[0].StartInFinal)
}

func TestPlaceNarrations_Bridge(t *testing.T) {
	clips := []PlacedClip{placedClip("c1", 10, 2)}
	narrations := []model.Narration{{ClipID: "c1", Timing: model.TimingBridge}}

	out, err := PlaceNarrations(clips, narrations)
	require.NoError(t, err)
	assert.Equal(t, 10.0, out[0].StartInFinal)
}

func TestPlaceNarrations_ClampsNegativeStartToZero(t *testing.T) {
	clips := []PlacedClip{placedClip("c1", 0, 0.2)}
	narrations := []model.Narration{{ClipID: "c1", Duration: 5.0, Timing: model.TimingBeforeAction}}

	out, err := PlaceNarrations(clips, narrations)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out[0].StartInFinal)
}

func TestPlaceNarrations_UnknownClipIsAnError(t *testing.T) {
	clips := []PlacedClip{placedClip("c1", 0, 0)}
	narrations := []model.Narration{{ClipID: "missing", Timing: model.TimingBridge}}

	_, err := PlaceNarrations(clips, narrations)
	assert.Error(t, err)
}

func TestPlaceNarrations_UnknownTimingIsAnError(t *testing.T) {
	clips := []PlacedClip{placedClip("c1", 0, 0)}
	narrations := []model.Narration{{ClipID: "c1", Timing: "sideways"}}

	_, err := PlaceNarrations(clips, narrations)
	assert.Error(t, err)
}

func TestCeilingScaledGain_UnscaledForZeroOrOneNarration(t *testing.T) {
	assert.Equal(t, FinalMixGain, ceilingScaledGain(FinalMixGain, 0))
	assert.Equal(t, FinalMixGain, ceilingScaledGain(FinalMixGain, 1))
}

func TestCeilingScaledGain_ScalesDownAndFloorsAtOne(t *testing.T) {
	assert.InDelta(t, 1.0, ceilingScaledGain(FinalMixGain, 2), 1e-9, "FinalMixGain/2 is below unity, so it is floored at 1.0")
	assert.Equal(t, 1.0, ceilingScaledGain(FinalMixGain, 100), "should never scale below unity gain")
}

func TestDuckingExpr_CoversNarrationWindowPlusExtend(t *testing.T) {
	narrations := []PlacedNarration{
		{Narration: model.Narration{Duration: 2.0}, StartInFinal: 5.0},
	}
	expr := duckingExpr(defaultMixOptions, narrations)

	assert.Contains(t, expr, "between(t,"+formatGain(5.0))
	assert.Contains(t, expr, formatGain(5.0+2.0+DuckWindowExtend))
	assert.Contains(t, expr, formatGain(DuckedFloorGain))
	assert.Contains(t, expr, formatGain(UnduckedFloor))
}

func TestBuildDuckingGraph_NoNarrationsAppliesFlatUnduckedGain(t *testing.T) {
	graph, mapping := buildDuckingGraph(defaultMixOptions, nil)

	assert.Contains(t, graph, "volume="+formatGain(UnduckedFloor))
	assert.Equal(t, []string{"-map", "0:v", "-map", "[mixed]"}, mapping)
}

func TestBuildDuckingGraph_OneNarrationPerInput(t *testing.T) {
	narrations := []PlacedNarration{
		{Narration: model.Narration{AudioPath: "n0.wav", Duration: 1}, StartInFinal: 2},
		{Narration: model.Narration{AudioPath: "n1.wav", Duration: 1}, StartInFinal: 6},
	}
	graph, mapping := buildDuckingGraph(defaultMixOptions, narrations)

	assert.Equal(t, 2, strings.Count(graph, "adelay="))
	assert.Contains(t, graph, "amix=inputs=3")
	assert.Contains(t, graph, "volume="+formatGain(ceilingScaledGain(FinalMixGain, 2)))
	assert.Equal(t, []string{"-map", "0:v", "-map", "[mixed]"}, mapping)
}

func TestFormatGain_FourDecimalPlaces(t *testing.T) {
	assert.Equal(t, "1.5000", formatGain(1.5))
}

func TestMix_EmptyClipsIsAnError(t *testing.T) {
	m := New(discardLogger(), mediatool.New(discardLogger()), Options{})
	err := m.Mix(context.Background(), nil, nil, "/tmp", "/tmp/out.mp4")
	assert.Error(t, err)
}
