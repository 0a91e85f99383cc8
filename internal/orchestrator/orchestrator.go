// Package orchestrator implements the Pipeline Orchestrator (spec §4.I):
// the top-level driver that validates a rundown, fans out per-clip work
// with bounded concurrency, sequences surgery and assembly, and owns the
// scoped working directory for one run.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/mantonx/hap/internal/assemble"
	"github.com/mantonx/hap/internal/fetch"
	"github.com/mantonx/hap/internal/haperrors"
	"github.com/mantonx/hap/internal/mediatool"
	"github.com/mantonx/hap/internal/metrics"
	"github.com/mantonx/hap/internal/mixer"
	"github.com/mantonx/hap/internal/model"
	"github.com/mantonx/hap/internal/reducer"
	"github.com/mantonx/hap/internal/segment"
	"github.com/mantonx/hap/internal/surgeon"
	"github.com/mantonx/hap/internal/tracing"
	"github.com/mantonx/hap/internal/transcribe"
)

// DefaultConcurrency is the default bound on simultaneous per-clip work
// (spec §4.I step 3, "bounded by P=4").
const DefaultConcurrency = 4

// ClipState names where a clip landed after its per-clip pipeline ran
// (SPEC_FULL.md §C "structured per-clip status report").
type ClipState string

const (
	ClipOK                       ClipState = "ok"
	ClipFetchFailed              ClipState = "fetch_failed"
	ClipTranscriptionFailed      ClipState = "transcription_failed"
	ClipSurgeryFailed            ClipState = "surgery_failed"
	ClipSkippedMissingTransition ClipState = "skipped_missing_transition"
	ClipSelectionInvalid         ClipState = "selection_invalid"
)

// ClipStatus reports one clip's outcome for the run.
type ClipStatus struct {
	ClipID string
	State  ClipState
	Reason string
	Err    error
}

// ValidationIssue is one problem found by Validate.
type ValidationIssue struct {
	ItemIndex int
	Message   string
}

// Options configures one Assemble call (spec §6 configuration table).
type Options struct {
	Concurrency          int
	CrossfadeFrames       int
	FPS                   int
	SegmentBufferSeconds  float64
	MergeGapSeconds       float64
	TranscriptTTLDays     int
	CacheMaxEntries       int
	TransitionsDir        string
	WorkingDirRoot        string
	IntervalFadeMillis    int // spec open question D, default 50
	Mixer                 mixer.Options
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.CrossfadeFrames <= 0 {
		o.CrossfadeFrames = assemble.CrossfadeFrames
	}
	if o.FPS <= 0 {
		o.FPS = assemble.FPS
	}
	if o.SegmentBufferSeconds <= 0 {
		o.SegmentBufferSeconds = reducer.DefaultBuffer
	}
	if o.MergeGapSeconds <= 0 {
		o.MergeGapSeconds = reducer.DefaultMergeGap
	}
	if o.WorkingDirRoot == "" {
		o.WorkingDirRoot = os.TempDir()
	}
	if o.IntervalFadeMillis <= 0 {
		o.IntervalFadeMillis = 50
	}
	return o
}

// Orchestrator drives one full run of the assembly pipeline.
type Orchestrator struct {
	logger      hclog.Logger
	media       *mediatool.Adapter
	fetcher     *fetch.Fetcher
	transcriber *transcribe.Service
	assembler   *assemble.Assembler

	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures optional Orchestrator collaborators.
type Option func(*Orchestrator)

// WithMetrics attaches the process-wide Metrics instance so per-stage
// duration, per-clip failures, and concurrency gate occupancy are recorded
// (SPEC_FULL.md §C).
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer attaches the process-wide trace.Tracer so each clip's stages
// get a span, parented on whatever span the caller's ctx carries
// (SPEC_FULL.md §C).
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// New creates an Orchestrator from its already-constructed collaborators.
// The Fetcher is expected to be freshly scoped per run by the caller, since
// its in-memory cache is keyed to one working directory. Tracing defaults
// to a no-op tracer so StageSpan is always safe to call.
func New(logger hclog.Logger, media *mediatool.Adapter, fetcher *fetch.Fetcher, transcriber *transcribe.Service, assembler *assemble.Assembler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:      logger.Named("orchestrator"),
		media:       media,
		fetcher:     fetcher,
		transcriber: transcriber,
		assembler:   assembler,
		tracer:      otel.Tracer("hap"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) recordStage(stage string, start time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveStage(stage, start)
	}
}

func (o *Orchestrator) recordClipFailure(state ClipState) {
	if o.metrics != nil {
		o.metrics.ClipFailures.WithLabelValues(string(state)).Inc()
	}
}

// Validate checks a rundown's schema and invariants (spec §3, §4.I step 1)
// without doing any I/O, so the editor can ask "can I save this" cheaply
// (SPEC_FULL.md §C dry-run feature).
func (o *Orchestrator) Validate(rundown model.Rundown) []ValidationIssue {
	var issues []ValidationIssue

	titleCardCount := 0

	for i, item := range rundown.Items {
		switch item.Kind {
		case model.ItemTitleCard:
			titleCardCount++
			if i != 0 {
				issues = append(issues, ValidationIssue{i, "title card must be at position 0"})
			}
		case model.ItemTransition:
			// Resolution (existence check) happens at assembly time, where
			// missing transitions are reported as skipped rather than
			// failing validation outright.
		case model.ItemPlay:
			if item.Clip.Source == "" {
				issues = append(issues, ValidationIssue{i, "play item has no clip source"})
			}
			for idx := range item.Selection {
				if idx < 0 {
					issues = append(issues, ValidationIssue{i, fmt.Sprintf("selection references negative segment index %d", idx)})
				}
			}
		}
	}

	if titleCardCount > 1 {
		issues = append(issues, ValidationIssue{0, "at most one title card is allowed"})
	}

	return issues
}

// validateSelectionSubset enforces spec §4.I step 1's invariant that a
// Play's selection is a subset of its clip's actual segment indices.
// Negative indices are already rejected by Validate at rundown-load time;
// the upper bound can only be checked here, once the clip has actually been
// transcribed and segmented.
func validateSelectionSubset(clipID string, selection map[int]struct{}, segmentCount int) error {
	for idx := range selection {
		if idx < 0 || idx >= segmentCount {
			return haperrors.Validation("orchestrator.run_clip", fmt.Errorf(
				"clip %s: selection index %d out of range for %d segment(s): %w",
				clipID, idx, segmentCount, haperrors.ErrSegmentOutOfRange)).WithClip(clipID)
		}
	}
	return nil
}

// clipResult is the internal outcome of one clip's per-clip pipeline.
type clipResult struct {
	index       int
	status      ClipStatus
	fragmentPath string
	duration    float64
}

// Assemble runs the full pipeline: validate, fan out per-clip work bounded
// by Options.Concurrency, sequence surgery then assembly, and return the
// final file's path alongside a per-clip status report (spec §4.I).
func (o *Orchestrator) Assemble(ctx context.Context, rundown model.Rundown, opts Options, finalDest string) (string, []ClipStatus, error) {
	opts = opts.withDefaults()

	if issues := o.Validate(rundown); len(issues) > 0 {
		return "", nil, haperrors.Validation("orchestrator.assemble", fmt.Errorf("rundown failed validation: %d issue(s), first: %s", len(issues), issues[0].Message))
	}

	runID := uuid.NewString()
	workDir := filepath.Join(opts.WorkingDirRoot, "hap-run-"+runID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", nil, haperrors.Internal("orchestrator.mkdir_workdir", err)
	}
	defer os.RemoveAll(workDir)

	playIndices := make([]int, 0, len(rundown.Items))
	for i, item := range rundown.Items {
		if item.Kind == model.ItemPlay {
			playIndices = append(playIndices, i)
		}
	}

	results := make([]clipResult, len(playIndices))
	sem := semaphore.NewWeighted(int64(opts.Concurrency))
	var wg sync.WaitGroup

	for resultIdx, itemIdx := range playIndices {
		resultIdx, itemIdx := resultIdx, itemIdx
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled while waiting for a slot; record and stop
			// issuing new work, per spec §4.I cancellation semantics.
			results[resultIdx] = clipResult{index: itemIdx, status: ClipStatus{
				ClipID: rundown.Items[itemIdx].Clip.ID, State: ClipFetchFailed, Reason: "cancelled", Err: ctx.Err(),
			}}
			continue
		}
		if o.metrics != nil {
			o.metrics.ConcurrencyGateInUse.Inc()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			defer func() {
				if o.metrics != nil {
					o.metrics.ConcurrencyGateInUse.Dec()
				}
			}()
			results[resultIdx] = o.runClip(ctx, itemIdx, rundown.Items[itemIdx], workDir, opts)
		}()
	}
	wg.Wait()

	statuses := make([]ClipStatus, len(results))
	fragmentByItemIndex := make(map[int]assemble.Item, len(results))
	for i, r := range results {
		statuses[i] = r.status
		if r.status.State == ClipOK {
			fragmentByItemIndex[r.index] = assemble.Item{
				Path:     r.fragmentPath,
				Duration: r.duration,
				Label:    r.status.ClipID,
			}
		}
	}

	statuses = append(statuses, o.prepareTitleCard(ctx, rundown, workDir, fragmentByItemIndex)...)

	items, skipped := o.resolveTimeline(rundown, fragmentByItemIndex, opts)
	statuses = append(statuses, skipped...)

	if len(items) == 0 {
		return "", statuses, haperrors.Validation("orchestrator.assemble", haperrors.ErrEmptyTimeline)
	}

	outPath := filepath.Join(workDir, "final.mp4")
	excluded, err := o.assembler.Assemble(ctx, items, outPath)
	if err != nil {
		return "", statuses, err
	}
	for _, ex := range excluded {
		statuses = append(statuses, ClipStatus{ClipID: ex.Label, State: ClipSurgeryFailed, Reason: "excluded at assembly", Err: ex.Err})
	}

	if err := os.MkdirAll(filepath.Dir(finalDest), 0o755); err != nil {
		return "", statuses, haperrors.Internal("orchestrator.mkdir_dest", err)
	}
	if err := moveFile(outPath, finalDest); err != nil {
		return "", statuses, haperrors.Internal("orchestrator.finalize", err)
	}

	return finalDest, statuses, nil
}

// runClip executes the per-clip pipeline: fetch, transcribe (may hit
// cache), build segments, reduce selection to intervals, Surgeon emits one
// fragment (spec §4.I step 3).
func (o *Orchestrator) runClip(ctx context.Context, itemIdx int, item model.RundownItem, workDir string, opts Options) clipResult {
	clip := item.Clip
	status := ClipStatus{ClipID: clip.ID}

	fail := func(state ClipState, reason string, err error) clipResult {
		status.State, status.Reason, status.Err = state, reason, err
		o.recordClipFailure(state)
		return clipResult{index: itemIdx, status: status}
	}

	fetchCtx, fetchSpan := tracing.StageSpan(ctx, o.tracer, "fetch", clip.ID)
	fetchStart := time.Now()
	localPath, err := o.fetcher.Fetch(fetchCtx, clip.Source, workDir)
	o.recordStage("fetch", fetchStart)
	fetchSpan.End()
	if err != nil {
		return fail(ClipFetchFailed, "fetch failed", err)
	}

	transcribeCtx, transcribeSpan := tracing.StageSpan(ctx, o.tracer, "transcribe", clip.ID)
	transcribeStart := time.Now()
	tr, err := o.transcriber.Transcribe(transcribeCtx, clip.Source)
	o.recordStage("transcribe", transcribeStart)
	transcribeSpan.End()
	if err != nil {
		return fail(ClipTranscriptionFailed, "transcription failed", err)
	}

	_, reduceSpan := tracing.StageSpan(ctx, o.tracer, "reduce", clip.ID)
	reduceStart := time.Now()
	segments := segment.BuildSegments(tr.Words, tr.Duration)
	if err := validateSelectionSubset(clip.ID, item.Selection, len(segments)); err != nil {
		o.recordStage("reduce", reduceStart)
		reduceSpan.End()
		return fail(ClipSelectionInvalid, "selection references a segment outside the transcript", err)
	}
	intervals := reducer.Reduce(segments, item.Selection, opts.SegmentBufferSeconds, opts.MergeGapSeconds)
	o.recordStage("reduce", reduceStart)
	reduceSpan.End()
	if len(intervals) == 0 {
		return fail(ClipSurgeryFailed, "empty selection produced no intervals", nil)
	}

	fragmentPath := filepath.Join(workDir, fmt.Sprintf("clip-%s.mp4", clip.ID))
	surgeryCtx, surgerySpan := tracing.StageSpan(ctx, o.tracer, "surgery", clip.ID)
	surgeryStart := time.Now()
	s := surgeon.New(o.logger, o.media)
	err = s.Operate(surgeryCtx, clip.ID, localPath, intervals, workDir, fragmentPath, opts.IntervalFadeMillis)
	o.recordStage("surgery", surgeryStart)
	surgerySpan.End()
	if err != nil {
		return fail(ClipSurgeryFailed, "surgery failed", err)
	}

	duration := 0.0
	for _, iv := range intervals {
		duration += iv.Duration()
	}

	status.State = ClipOK
	return clipResult{index: itemIdx, status: status, fragmentPath: fragmentPath, duration: duration}
}

// prepareTitleCard fetches and extracts the 1.5s title-card fragment (spec
// §4.G) for any title card item carrying a source URL, injecting it into
// fragments at its rundown index so resolveTimeline can pick it up the same
// way it picks up play fragments. A fetch or extraction failure is reported
// and the title card is dropped rather than failing the whole run, matching
// the Assembler's own "exclude and proceed" policy for unreadable inputs.
func (o *Orchestrator) prepareTitleCard(ctx context.Context, rundown model.Rundown, workDir string, fragments map[int]assemble.Item) []ClipStatus {
	var statuses []ClipStatus

	for i, item := range rundown.Items {
		if item.Kind != model.ItemTitleCard || item.TitleCardSourceURL == "" {
			continue
		}

		localPath, err := o.fetcher.Fetch(ctx, item.TitleCardSourceURL, workDir)
		if err != nil {
			statuses = append(statuses, ClipStatus{ClipID: "title_card", State: ClipSurgeryFailed, Reason: "title card fetch failed", Err: err})
			continue
		}

		outPath := filepath.Join(workDir, "title-card.mp4")
		if err := o.assembler.ExtractTitleCard(ctx, localPath, outPath); err != nil {
			statuses = append(statuses, ClipStatus{ClipID: "title_card", State: ClipSurgeryFailed, Reason: "title card extraction failed", Err: err})
			continue
		}

		fragments[i] = assemble.Item{Path: outPath, Duration: assemble.TitleCardDuration, Label: "title_card"}
	}

	return statuses
}

// resolveTimeline walks the rundown in order, turning successful play
// fragments, resolved transitions, and an optional title card into the
// ordered assemble.Item list the Assembler consumes (spec §4.I step 4).
func (o *Orchestrator) resolveTimeline(rundown model.Rundown, fragments map[int]assemble.Item, opts Options) ([]assemble.Item, []ClipStatus) {
	var items []assemble.Item
	var skipped []ClipStatus

	for i, item := range rundown.Items {
		switch item.Kind {
		case model.ItemPlay:
			if frag, ok := fragments[i]; ok {
				items = append(items, frag)
			}
			// Absent fragments were already reported by runClip.
		case model.ItemTransition:
			path := filepath.Join(opts.TransitionsDir, item.TransitionKey.FileName())
			if _, err := os.Stat(path); err != nil {
				skipped = append(skipped, ClipStatus{
					ClipID: item.TransitionKey.FileName(),
					State:  ClipSkippedMissingTransition,
					Reason: "transition file not found, skipping per spec",
				})
				continue
			}
			items = append(items, assemble.Item{Path: path, Label: item.TransitionKey.FileName()})
		case model.ItemTitleCard:
			if frag, ok := fragments[i]; ok {
				items = append(items, frag)
			}
			// A title card with no source URL, or whose extraction failed,
			// was already reported by prepareTitleCard.
		}
	}

	return items, skipped
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := out.ReadFrom(in); err != nil {
		return err
	}
	return os.Remove(src)
}

// AssembleSynced runs the alternative synced-narration terminal path (spec
// §4.H): clips are fetched and trimmed to their analysed action window
// instead of going through the Surgeon/Assembler crossfade path, then
// narration is placed and mixed over ducked original audio. A clip with no
// entry in analyses stays in mixer.StateFetched and is excluded, per the
// state machine in spec §4.H.
func (o *Orchestrator) AssembleSynced(ctx context.Context, rundown model.Rundown, analyses map[string]model.Analysis, narrations []model.Narration, opts Options, finalDest string) (string, []ClipStatus, error) {
	opts = opts.withDefaults()

	runID := uuid.NewString()
	workDir := filepath.Join(opts.WorkingDirRoot, "hap-synced-run-"+runID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", nil, haperrors.Internal("orchestrator.mkdir_workdir", err)
	}
	defer os.RemoveAll(workDir)

	mx := mixer.New(o.logger, o.media, opts.Mixer)

	var statuses []ClipStatus
	var placed []mixer.PlacedClip

	for _, item := range rundown.Items {
		if item.Kind != model.ItemPlay {
			continue
		}
		clip := item.Clip

		analysis, ok := analyses[clip.ID]
		if !ok {
			statuses = append(statuses, ClipStatus{ClipID: clip.ID, State: ClipSkippedMissingTransition, Reason: "no action analysis, clip stays in Fetched"})
			continue
		}

		localPath, err := o.fetcher.Fetch(ctx, clip.Source, workDir)
		if err != nil {
			statuses = append(statuses, ClipStatus{ClipID: clip.ID, State: ClipFetchFailed, Reason: "fetch failed", Err: err})
			continue
		}

		probe, err := o.media.Probe(ctx, localPath)
		if err != nil {
			statuses = append(statuses, ClipStatus{ClipID: clip.ID, State: ClipSurgeryFailed, Reason: "probe failed", Err: err})
			continue
		}

		trimmedPath := filepath.Join(workDir, fmt.Sprintf("action-%s.mp4", clip.ID))
		pc, err := mx.TrimToActionWindow(ctx, clip.ID, localPath, probe.Duration, analysis, trimmedPath)
		if err != nil {
			statuses = append(statuses, ClipStatus{ClipID: clip.ID, State: ClipSurgeryFailed, Reason: "action window trim failed", Err: err})
			continue
		}
		placed = append(placed, pc)
		statuses = append(statuses, ClipStatus{ClipID: clip.ID, State: ClipOK})
	}

	if len(placed) == 0 {
		return "", statuses, haperrors.Validation("orchestrator.assemble_synced", haperrors.ErrEmptyTimeline)
	}

	placed = mixer.AssignTimeline(placed)
	placedNarrations, err := mixer.PlaceNarrations(placed, narrations)
	if err != nil {
		return "", statuses, err
	}

	outPath := filepath.Join(workDir, "final.mp4")
	if err := mx.Mix(ctx, placed, placedNarrations, workDir, outPath); err != nil {
		return "", statuses, err
	}

	if err := os.MkdirAll(filepath.Dir(finalDest), 0o755); err != nil {
		return "", statuses, haperrors.Internal("orchestrator.mkdir_dest", err)
	}
	if err := moveFile(outPath, finalDest); err != nil {
		return "", statuses, haperrors.Internal("orchestrator.finalize", err)
	}

	return finalDest, statuses, nil
}
