// Package mixer implements the Synced-Narration Mixer (spec §4.H): an
// alternative terminal stage used when a rundown carries external
// action-analysis and the caller wants synthesized narration overlaid
// instead of preserved original commentary.
package mixer

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/hap/internal/haperrors"
	"github.com/mantonx/hap/internal/mediatool"
	"github.com/mantonx/hap/internal/model"
)

// ActionWindowBuffer is the fixed pad applied around a clip's action window
// before trimming (spec §4.H step 1).
const ActionWindowBuffer = 1.5

// Narration gain/ducking constants (spec §4.H step 4).
const (
	DuckedFloorGain  = 0.2
	UnduckedFloor    = 0.7
	NarrationGain    = 2.0
	FinalMixGain     = 1.5
	DuckWindowExtend = 0.5 // seconds past narration end the ducked window extends
)

// Options carries the synced-narration mixer's gain tunables, sourced from
// config.MixerConfig. A zero value is replaced field-by-field with the
// package's nominal constants.
type Options struct {
	DuckingFloor   float64 // gain applied inside a narration window
	DuckingCeiling float64 // gain applied outside any narration window
	NarrationGain  float64
	FinalGain      float64
}

func (o Options) withDefaults() Options {
	if o.DuckingFloor <= 0 {
		o.DuckingFloor = DuckedFloorGain
	}
	if o.DuckingCeiling <= 0 {
		o.DuckingCeiling = UnduckedFloor
	}
	if o.NarrationGain <= 0 {
		o.NarrationGain = NarrationGain
	}
	if o.FinalGain <= 0 {
		o.FinalGain = FinalMixGain
	}
	return o
}

// ClipState is a clip's progress through the synced-narration pipeline
// (spec §4.H "state machine per clip").
type ClipState int

const (
	StateFetched ClipState = iota
	StateAnalysed
	StateTrimmed
	StatePlaced
)

// PlacedClip is one clip after trimming, with its position in the final
// timeline resolved.
type PlacedClip struct {
	ClipID           string
	TrimmedPath      string
	State            ClipState
	StartInFinal     float64
	ActionPeakInClip float64
	TrimmedDuration  float64
}

// PlacedNarration is one narration segment with its final-timeline start
// time resolved.
type PlacedNarration struct {
	model.Narration
	StartInFinal float64
}

// Mixer builds the synced-narration terminal output.
type Mixer struct {
	logger hclog.Logger
	media  *mediatool.Adapter
	opts   Options
}

// New creates a Mixer with its gain tunables. A zero Options takes the
// package's nominal constants.
func New(logger hclog.Logger, media *mediatool.Adapter, opts Options) *Mixer {
	return &Mixer{logger: logger.Named("mixer"), media: media, opts: opts.withDefaults()}
}

// TrimToActionWindow trims one clip around its action window with a ±1.5s
// buffer clamped to clip bounds (spec §4.H step 1). A clip with no analysis
// stays in Fetched and must be excluded by the caller before calling this.
func (m *Mixer) TrimToActionWindow(ctx context.Context, clipID, in string, clipDuration float64, analysis model.Analysis, out string) (PlacedClip, error) {
	start := analysis.ActionStart - ActionWindowBuffer
	if start < 0 {
		start = 0
	}
	end := analysis.ActionEnd + ActionWindowBuffer
	if end > clipDuration {
		end = clipDuration
	}
	if end <= start {
		return PlacedClip{}, haperrors.Validation("mixer.trim_to_action_window",
			fmt.Errorf("clip %s: degenerate action window [%.3f,%.3f)", clipID, start, end)).WithClip(clipID)
	}

	if err := m.media.Trim(ctx, in, out, start, end, mediatool.TrimOptions{AudioFade: false}); err != nil {
		return PlacedClip{}, err
	}

	return PlacedClip{
		ClipID:           clipID,
		TrimmedPath:      out,
		State:            StateTrimmed,
		ActionPeakInClip: analysis.ActionPeak - start,
		TrimmedDuration:  end - start,
	}, nil
}

// AssignTimeline walks trimmed clips in rundown order, stamping each with
// its cumulative StartInFinal (spec §4.H step 1, "cumulative").
func AssignTimeline(clips []PlacedClip) []PlacedClip {
	cumulative := 0.0
	out := make([]PlacedClip, len(clips))
	for i, c := range clips {
		c.StartInFinal = cumulative
		c.State = StatePlaced
		out[i] = c
		cumulative += c.TrimmedDuration
	}
	return out
}

// PlaceNarrations computes each narration's start time in the final
// timeline per the formulas in spec §4.H step 3, clamped to >= 0.
func PlaceNarrations(clips []PlacedClip, narrations []model.Narration) ([]PlacedNarration, error) {
	byClip := make(map[string]PlacedClip, len(clips))
	for _, c := range clips {
		byClip[c.ClipID] = c
	}

	out := make([]PlacedNarration, 0, len(narrations))
	for _, n := range narrations {
		clip, ok := byClip[n.ClipID]
		if !ok {
			return nil, haperrors.Validation("mixer.place_narrations",
				fmt.Errorf("narration references unplaced clip %s", n.ClipID)).WithClip(n.ClipID)
		}

		var start float64
		switch n.Timing {
		case model.TimingBeforeAction:
			start = clip.StartInFinal + clip.ActionPeakInClip - n.Duration - 0.5
		case model.TimingDuringAction:
			start = clip.StartInFinal + clip.ActionPeakInClip
		case model.TimingAfterAction:
			start = clip.StartInFinal + clip.ActionPeakInClip + 1.0
		case model.TimingBridge:
			start = clip.StartInFinal
		default:
			return nil, haperrors.Validation("mixer.place_narrations",
				fmt.Errorf("unknown narration timing %q", n.Timing)).WithClip(n.ClipID)
		}
		if start < 0 {
			start = 0
		}

		out = append(out, PlacedNarration{Narration: n, StartInFinal: start})
	}
	return out, nil
}

// Mix concatenates the trimmed clips (no crossfade, to keep the cumulative
// offset math exact) and overlays narration with ducking of the original
// audio, emitting a single MP4 with unchanged video and mixed audio (spec
// §4.H steps 2, 4, 5).
func (m *Mixer) Mix(ctx context.Context, clips []PlacedClip, narrations []PlacedNarration, workDir, out string) error {
	if len(clips) == 0 {
		return haperrors.Validation("mixer.mix", haperrors.ErrEmptyTimeline)
	}

	concatPath := workDir + "/mixer-concat.mp4"
	paths := make([]string, len(clips))
	for i, c := range clips {
		paths[i] = c.TrimmedPath
	}
	if len(paths) == 1 {
		concatPath = paths[0]
	} else if err := m.media.ConcatReencode(ctx, paths, concatPath); err != nil {
		return err
	}

	graph, mapping := buildDuckingGraph(m.opts, narrations)

	ins := make([]string, 0, 1+len(narrations))
	ins = append(ins, concatPath)
	for _, n := range narrations {
		ins = append(ins, n.AudioPath)
	}

	return m.media.ExecFilterGraph(ctx, ins, graph, mapping, out)
}

// buildDuckingGraph emits the per-window ceiling-scaled ducking mix (spec
// §4.H step 4, with SPEC_FULL.md's clipping-safety decision): the original
// track is gated to opts.DuckingCeiling outside every narration window and
// opts.DuckingFloor inside one (windows extend 0.5s past each narration's
// end), each narration is delayed and boosted by opts.NarrationGain, and all
// (1+N) sources are mixed with normalize=0 and the final gain from
// ceilingScaledGain. That gain depends only on the narration count; the
// graph does not examine which windows overlap and does not limit the mixed
// signal, so overlapping narrations can still push the mix past full scale.
func buildDuckingGraph(opts Options, narrations []PlacedNarration) (graph string, mapping []string) {
	var sb strings.Builder

	if len(narrations) == 0 {
		fmt.Fprintf(&sb, "[0:a]volume=%s[mixed]", formatGain(opts.DuckingCeiling))
		return sb.String(), []string{"-map", "0:v", "-map", "[mixed]"}
	}

	expr := duckingExpr(opts, narrations)
	fmt.Fprintf(&sb, "[0:a]volume='%s':eval=frame[orig];", expr)

	mixInputs := make([]string, 0, 1+len(narrations))
	mixInputs = append(mixInputs, "[orig]")
	for i, n := range narrations {
		label := fmt.Sprintf("[n%d]", i)
		delayMs := int(n.StartInFinal * 1000)
		fmt.Fprintf(&sb, "[%d:a]adelay=%d|%d,volume=%s%s;", i+1, delayMs, delayMs, formatGain(opts.NarrationGain), label)
		mixInputs = append(mixInputs, label)
	}

	fmt.Fprintf(&sb, "%samix=inputs=%d:normalize=0,volume=%s[mixed]",
		strings.Join(mixInputs, ""), len(mixInputs), formatGain(ceilingScaledGain(opts.FinalGain, len(narrations))))

	return sb.String(), []string{"-map", "0:v", "-map", "[mixed]"}
}

// ceilingScaledGain divides the configured final gain by the total number of
// narrations in the mix and floors the result at 1.0 (unity); with zero or
// one narration the gain is returned unchanged. It does not take narration
// timing or overlap into account, so it does not guarantee the mix stays
// below digital full scale. See SPEC_FULL.md §D.
func ceilingScaledGain(finalGain float64, narrationCount int) float64 {
	if narrationCount <= 1 {
		return finalGain
	}
	scaled := finalGain / float64(narrationCount)
	if scaled < 1.0 {
		scaled = 1.0
	}
	return scaled
}

// duckingExpr builds an ffmpeg volume expression that evaluates to
// opts.DuckingFloor inside any narration window and opts.DuckingCeiling
// elsewhere.
func duckingExpr(opts Options, narrations []PlacedNarration) string {
	conditions := make([]string, 0, len(narrations))
	for _, n := range narrations {
		winEnd := n.StartInFinal + n.Duration + DuckWindowExtend
		conditions = append(conditions, fmt.Sprintf("between(t,%s,%s)", formatGain(n.StartInFinal), formatGain(winEnd)))
	}

	expr := strings.Join(conditions, "+")
	return fmt.Sprintf("if(gt(%s,0),%s,%s)", expr, formatGain(opts.DuckingFloor), formatGain(opts.DuckingCeiling))
}

func formatGain(f float64) string {
	return fmt.Sprintf("%.4f", f)
}
