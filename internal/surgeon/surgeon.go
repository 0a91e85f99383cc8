// Package surgeon implements the Clip Surgeon (spec §4.F): given a fetched
// clip and the Intervals the Reducer selected from it, produce a single
// output file containing exactly those intervals, joined without audible
// seams.
package surgeon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/hap/internal/haperrors"
	"github.com/mantonx/hap/internal/mediatool"
	"github.com/mantonx/hap/internal/model"
)

// Surgeon extracts and joins intervals from one clip into one fragment.
type Surgeon struct {
	logger hclog.Logger
	media  *mediatool.Adapter
}

// New creates a Surgeon.
func New(logger hclog.Logger, media *mediatool.Adapter) *Surgeon {
	return &Surgeon{logger: logger.Named("surgeon"), media: media}
}

// Operate extracts intervals from in and writes the joined result to out,
// in a scratch subdirectory of workDir for any intermediate temps (spec
// §4.F). fadeMillis sets the length of the boundary fade applied at each
// interval's edges; zero or negative falls back to mediatool's default. On
// success, the caller owns out; all intermediates are removed.
func (s *Surgeon) Operate(ctx context.Context, clipID string, in string, intervals []model.Interval, workDir, out string, fadeMillis int) error {
	if len(intervals) == 0 {
		return haperrors.Validation("surgeon.operate", fmt.Errorf("clip %s: no intervals to extract", clipID)).WithClip(clipID)
	}

	if len(intervals) == 1 {
		iv := intervals[0]
		if err := s.media.Trim(ctx, in, out, iv.Start, iv.End, mediatool.TrimOptions{AudioFade: true, FadeMillis: fadeMillis}); err != nil {
			return err
		}
		return checkDurationInvariant(ctx, s.media, out, intervals)
	}

	scratch, err := os.MkdirTemp(workDir, fmt.Sprintf("surgeon-%s-*", clipID))
	if err != nil {
		return haperrors.Internal("surgeon.scratch_dir", err).WithClip(clipID)
	}
	defer os.RemoveAll(scratch)

	temps := make([]string, 0, len(intervals))
	for i, iv := range intervals {
		temp := filepath.Join(scratch, fmt.Sprintf("interval-%03d.mp4", i))
		if err := s.media.Trim(ctx, in, temp, iv.Start, iv.End, mediatool.TrimOptions{AudioFade: true, FadeMillis: fadeMillis}); err != nil {
			return err
		}
		temps = append(temps, temp)
	}

	if err := s.media.ConcatReencode(ctx, temps, out); err != nil {
		return err
	}

	return checkDurationInvariant(ctx, s.media, out, intervals)
}

// framePeriodTolerance bounds the acceptable drift between the sum of
// requested interval durations and the actual output duration (spec §4.F
// invariant, "one frame period" at a conservative worst-case 24fps).
const framePeriodTolerance = 1.0 / 24.0

func checkDurationInvariant(ctx context.Context, media *mediatool.Adapter, out string, intervals []model.Interval) error {
	wantDuration := 0.0
	for _, iv := range intervals {
		wantDuration += iv.Duration()
	}

	probe, err := media.Probe(ctx, out)
	if err != nil {
		return err
	}

	drift := probe.Duration - wantDuration
	if drift < 0 {
		drift = -drift
	}
	if drift > framePeriodTolerance {
		return haperrors.MediaFailure("surgeon.duration_invariant", -1, "", fmt.Errorf(
			"output duration %.3fs drifted %.3fs from expected %.3fs (tolerance %.3fs)",
			probe.Duration, drift, wantDuration, framePeriodTolerance))
	}
	return nil
}
