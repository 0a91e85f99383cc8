// Package assemble implements the Timeline Assembler (spec §4.G): it joins
// a title card, per-clip fragments, and transition clips into one final
// video using an audio-aware crossfade chain.
package assemble

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/hap/internal/haperrors"
	"github.com/mantonx/hap/internal/mediatool"
)

// CrossfadeFrames is the default crossfade length in frames at 30fps (spec
// §4.G "default k=10 at 30fps -> 333ms").
const CrossfadeFrames = 10

// FPS is the common framerate every input is normalized to before joining.
const FPS = 30

// TitleCardDuration is how much of the title card source is extracted.
const TitleCardDuration = 1.5

// TitleCardFadeOutMillis is the length of the title card's trailing audio
// fade (and, through mediatool.Trim, of its leading audio fade-in).
const TitleCardFadeOutMillis = 300

// Item is one input to the Assembler: a resolved local media path and its
// probed duration.
type Item struct {
	Path     string
	Duration float64
	Label    string // for logging/exclusion reporting only
}

// Excluded describes an input the Assembler dropped because it could not be
// read.
type Excluded struct {
	Label string
	Err   error
}

// Assembler joins a sequence of Items into one final MP4 with crossfades.
type Assembler struct {
	logger hclog.Logger
	media  *mediatool.Adapter

	crossfadeFrames int
	fps             int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithCrossfade overrides the crossfade length (in frames) and framerate.
func WithCrossfade(frames, fps int) Option {
	return func(a *Assembler) {
		if frames > 0 {
			a.crossfadeFrames = frames
		}
		if fps > 0 {
			a.fps = fps
		}
	}
}

// New creates an Assembler.
func New(logger hclog.Logger, media *mediatool.Adapter, opts ...Option) *Assembler {
	a := &Assembler{
		logger:          logger.Named("assemble"),
		media:           media,
		crossfadeFrames: CrossfadeFrames,
		fps:             FPS,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ExtractTitleCard produces the 1.5s title-card fragment from an external
// highlight video, with the final 300ms audio-faded to 0 (spec §4.G); Trim's
// AudioFade also fades the audio in over the first 300ms.
func (a *Assembler) ExtractTitleCard(ctx context.Context, sourcePath, out string) error {
	return a.media.Trim(ctx, sourcePath, out, 0, TitleCardDuration, mediatool.TrimOptions{
		AudioFade:  true,
		FadeMillis: TitleCardFadeOutMillis,
	})
}

// Assemble joins items in order into out using a crossfade chain. Items
// that fail to probe are excluded and reported, rather than failing the
// whole run, per spec §4.G's "excludes it and proceeds" policy; the call
// fails only if every item is excluded.
func (a *Assembler) Assemble(ctx context.Context, items []Item, out string) ([]Excluded, error) {
	var excluded []Excluded
	var usable []Item

	for _, it := range items {
		probe, err := a.media.Probe(ctx, it.Path)
		if err != nil {
			a.logger.Warn("excluding unreadable timeline item", "label", it.Label, "error", err)
			excluded = append(excluded, Excluded{Label: it.Label, Err: err})
			continue
		}
		if it.Duration <= 0 {
			it.Duration = probe.Duration
		}
		usable = append(usable, it)
	}

	if len(usable) == 0 {
		return excluded, haperrors.Validation("assemble.assemble", haperrors.ErrEmptyTimeline)
	}

	if len(usable) == 1 {
		if err := a.media.ConcatReencode(ctx, []string{usable[0].Path}, out); err != nil {
			return excluded, err
		}
		return excluded, nil
	}

	graph, mapping := a.buildCrossfadeGraph(usable)

	ins := make([]string, len(usable))
	for i, it := range usable {
		ins[i] = it.Path
	}

	if err := a.media.ExecFilterGraph(ctx, ins, graph, mapping, out); err != nil {
		return excluded, err
	}
	return excluded, nil
}

// buildCrossfadeGraph emits an (n-1)-stage crossfade chain per spec §4.G's
// offset formula: offset_j = (sum_{i<=j} duration_i) - (j+1)*(k/fps),
// since every crossfade shortens the timeline by one fade duration.
func (a *Assembler) buildCrossfadeGraph(items []Item) (graph string, mapping []string) {
	fadeDur := float64(a.crossfadeFrames) / float64(a.fps)

	var sb strings.Builder
	n := len(items)

	// Normalize every input to a common timebase/framerate before chaining.
	for i := range items {
		fmt.Fprintf(&sb, "[%d:v]fps=%d,settb=AVTB[v%d];", i, a.fps, i)
		fmt.Fprintf(&sb, "[%d:a]aresample=async=1[a%d];", i, i)
	}

	cumulative := items[0].Duration
	prevV, prevA := "v0", "a0"
	for j := 1; j < n; j++ {
		offset := cumulative - float64(j)*fadeDur
		if offset < 0 {
			offset = 0
		}
		outV := fmt.Sprintf("vx%d", j)
		outA := fmt.Sprintf("ax%d", j)
		fmt.Fprintf(&sb, "[%s][v%d]xfade=transition=fade:duration=%s:offset=%s[%s];",
			prevV, j, formatDur(fadeDur), formatDur(offset), outV)
		fmt.Fprintf(&sb, "[%s][a%d]acrossfade=d=%s:c1=tri:c2=tri[%s];",
			prevA, j, formatDur(fadeDur), outA)

		cumulative += items[j].Duration
		prevV, prevA = outV, outA
	}

	// Strip trailing semicolon from the final stage.
	graphStr := sb.String()
	graphStr = strings.TrimSuffix(graphStr, ";")

	mapping = []string{
		"-map", "[" + prevV + "]",
		"-map", "[" + prevA + "]",
	}
	return graphStr, mapping
}

func formatDur(d float64) string {
	return fmt.Sprintf("%.6f", d)
}
