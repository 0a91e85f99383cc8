// Package model defines the core data types shared across the highlight
// assembly pipeline: words, segments, intervals, clips, transitions, and the
// rundown that ties them together. Types here are intentionally dumb data —
// behavior lives in the packages that consume them (segment, reducer,
// surgeon, assemble, mixer, orchestrator).
package model

import (
	"strconv"
	"time"
)

// Word is one time-aligned token from a transcription provider.
type Word struct {
	Text       string
	Start      float64 // seconds
	End        float64 // seconds
	Confidence float64 // [0,1]
}

// SegmentKind tags which variant a Segment is.
type SegmentKind int

const (
	SegmentWord SegmentKind = iota
	SegmentGap
)

// Segment is the smallest editable unit in the transcript UI: either a word
// or a slice of silence roughly 0.3s long. See segment.BuildSegments.
type Segment struct {
	Kind  SegmentKind
	Start float64
	End   float64

	// Word-only fields.
	Text             string
	OriginalWordIndex int
}

// Interval is a contiguous span of time, in seconds, to retain from a clip.
type Interval struct {
	Start float64
	End   float64
}

// Duration returns End - Start.
func (iv Interval) Duration() float64 { return iv.End - iv.Start }

// Feed identifies which camera feed a Clip's media was sourced from.
type Feed string

const (
	FeedNetwork Feed = "NETWORK"
	FeedCMS     Feed = "CMS"
	FeedHome    Feed = "HOME"
	FeedAway    Feed = "AWAY"
)

// Clip is one self-contained play's video+audio, as sourced from a single
// feed. Switching feeds produces a new Clip value with Duration reset, since
// a transcript is specific to the audio of one feed.
type Clip struct {
	ID             string
	Source         string // URL
	Feed           Feed
	AvailableFeeds map[Feed]string // feed -> source URL, for feed-switch
	Duration       float64         // seconds; populated after transcription/probe

	BatchIndex int // position hint for deterministic logging only
}

// HalfInning identifies which half of an inning a Transition or Play belongs
// to.
type HalfInning string

const (
	HalfTop HalfInning = "top"
	HalfBot HalfInning = "bot"
)

// TransitionKey identifies a pre-rendered inning-transition graphic.
type TransitionKey struct {
	Half    HalfInning
	Inning  int
}

// FileName returns the "<half>-<inning>.mp4" convention used to resolve a
// TransitionKey against the transitions directory (spec §6).
func (k TransitionKey) FileName() string {
	return string(k.Half) + "-" + strconv.Itoa(k.Inning) + ".mp4"
}

// RundownItemKind tags which variant a RundownItem is.
type RundownItemKind int

const (
	ItemPlay RundownItemKind = iota
	ItemTransition
	ItemTitleCard
)

// RundownItem is one entry in the ordered rundown sequence: either a Play
// (a clip plus the set of segment indices the user selected), a Transition
// (resolved by key to a local file), or a TitleCard (at most one, at
// position 0).
type RundownItem struct {
	Kind RundownItemKind

	// Play fields.
	Clip      Clip
	Selection map[int]struct{} // selected segment indices

	// Transition fields.
	TransitionKey TransitionKey

	// TitleCard fields.
	TitleCardSourceURL string
}

// Rundown is the ordered sequence the editor hands to the Orchestrator.
type Rundown struct {
	GameID string
	Items  []RundownItem
}

// TranscriptionCacheEntry is the persisted shape of a cached transcription
// result. SchemaVersion allows the storage format to evolve without an
// untyped migration.
type TranscriptionCacheEntry struct {
	SchemaVersion int
	SourceURL     string
	Words         []Word
	Duration      float64
	CreatedAt     time.Time
}

// Analysis is the synced-narration path's per-clip action-timing result.
type Analysis struct {
	ActionStart    float64
	ActionPeak     float64
	ActionEnd      float64
	TotalDuration  float64
	Description    string
}

// NarrationTiming controls where a narration clip is anchored relative to a
// clip's action peak (spec §4.H).
type NarrationTiming string

const (
	TimingBeforeAction NarrationTiming = "before_action"
	TimingDuringAction NarrationTiming = "during_action"
	TimingAfterAction  NarrationTiming = "after_action"
	TimingBridge       NarrationTiming = "bridge"
)

// Narration is one piece of synthesized narration audio to be mixed over a
// clip's ducked original audio.
type Narration struct {
	ClipID   string
	AudioPath string
	Duration float64
	Timing   NarrationTiming
	Buffer   float64
}
