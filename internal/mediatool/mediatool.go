// Package mediatool is the only component that knows the external media
// tool's command-line surface (spec §9 "External tool coupling"). Every
// other component speaks in semantic operations — probe, trim,
// concatReencode, execFilterGraph — so a second backend (a native
// demuxer/muxer library) could be swapped in without touching callers.
package mediatool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/hap/internal/haperrors"
)

// DefaultOperationTimeout bounds every external-process call (spec §5).
const DefaultOperationTimeout = 300 * time.Second

// Adapter wraps ffmpeg/ffprobe as synchronous, typed operations. It does not
// retry — retry policy belongs to the Orchestrator (spec §4.A "Contract").
type Adapter struct {
	logger        hclog.Logger
	ffmpegBinary  string
	ffprobeBinary string
	timeout       time.Duration
}

// Option configures an Adapter during construction.
type Option func(*Adapter)

// WithBinaries overrides the ffmpeg/ffprobe executable names or paths.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(a *Adapter) {
		if ffmpeg != "" {
			a.ffmpegBinary = ffmpeg
		}
		if ffprobe != "" {
			a.ffprobeBinary = ffprobe
		}
	}
}

// WithTimeout overrides the per-operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.timeout = d }
}

// New creates a media tool Adapter.
func New(logger hclog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		logger:        logger.Named("mediatool"),
		ffmpegBinary:  "ffmpeg",
		ffprobeBinary: "ffprobe",
		timeout:       DefaultOperationTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ProbeResult is the subset of ffprobe's output HAP cares about.
type ProbeResult struct {
	Duration   float64
	FPS        float64
	FrameCount int64
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType     string `json:"codec_type"`
		RFrameRate    string `json:"r_frame_rate"`
		NbFrames      string `json:"nb_frames"`
	} `json:"streams"`
}

// Probe inspects a media file's duration, frame rate, and frame count.
// Returns a MediaCorrupt HAPError if the file can't be read by ffprobe.
func (a *Adapter) Probe(ctx context.Context, path string) (ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	out, _, err := a.run(ctx, a.ffprobeBinary, args)
	if err != nil {
		return ProbeResult{}, haperrors.MediaCorrupt("probe", err).WithDetail("path", path)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return ProbeResult{}, haperrors.MediaCorrupt("probe", fmt.Errorf("parse ffprobe output: %w", err)).WithDetail("path", path)
	}

	result := ProbeResult{}
	if parsed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			result.Duration = d
		}
	}
	for _, s := range parsed.Streams {
		if s.CodecType != "video" {
			continue
		}
		result.FPS = parseFrameRate(s.RFrameRate)
		if n, err := strconv.ParseInt(s.NbFrames, 10, 64); err == nil {
			result.FrameCount = n
		}
		break
	}

	return result, nil
}

func parseFrameRate(rate string) float64 {
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

// TrimOptions controls Trim's fade behavior.
type TrimOptions struct {
	AudioFade     bool
	FadeMillis    int // length of each boundary fade; defaults to 50ms
}

// Trim re-encodes the span [start, end) of in into out. When AudioFade is
// set, a linear fade-in of FadeMillis is applied at the start and a
// fade-out of the same length just before the end (spec §4.A). Trim always
// re-encodes rather than stream-copies, since downstream joins need
// frame-accurate boundaries.
func (a *Adapter) Trim(ctx context.Context, in, out string, start, end float64, opts TrimOptions) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	fadeMillis := opts.FadeMillis
	if fadeMillis <= 0 {
		fadeMillis = 50
	}
	duration := end - start

	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-ss", formatSeconds(start),
		"-i", in,
		"-t", formatSeconds(duration),
	}

	if opts.AudioFade {
		fadeSec := float64(fadeMillis) / 1000.0
		outStart := duration - fadeSec
		if outStart < 0 {
			outStart = 0
		}
		af := fmt.Sprintf("afade=t=in:st=0:d=%s,afade=t=out:st=%s:d=%s",
			formatSeconds(fadeSec), formatSeconds(outStart), formatSeconds(fadeSec))
		args = append(args, "-af", af)
	}

	args = append(args,
		"-c:v", "libx264", "-preset", "veryfast",
		"-c:a", "aac",
		out,
	)

	_, stderr, err := a.run(ctx, a.ffmpegBinary, args)
	if err != nil {
		return mediaFailureFrom("trim", err, stderr)
	}
	return nil
}

// ConcatReencode concatenates ins via the concat demuxer and re-encodes to
// normalize timebase and codec parameters, guaranteeing a contiguous audio
// track at every join (spec §4.A).
func (a *Adapter) ConcatReencode(ctx context.Context, ins []string, out string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	listFile, err := writeConcatList(ins)
	if err != nil {
		return haperrors.Internal("concat_reencode", err)
	}
	defer os.Remove(listFile)

	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-f", "concat", "-safe", "0",
		"-i", listFile,
		"-c:v", "libx264", "-preset", "veryfast",
		"-c:a", "aac",
		"-fflags", "+genpts",
		out,
	}

	_, stderr, err := a.run(ctx, a.ffmpegBinary, args)
	if err != nil {
		return mediaFailureFrom("concat_reencode", err, stderr)
	}
	return nil
}

// ExecFilterGraph is the escape hatch used by the Timeline Assembler and the
// Synced-Narration Mixer: it runs a caller-declared filter_complex graph
// with a set of inputs and an explicit output stream mapping.
func (a *Adapter) ExecFilterGraph(ctx context.Context, ins []string, graph string, mapping []string, out string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	args := []string{"-hide_banner", "-nostdin", "-y"}
	for _, in := range ins {
		args = append(args, "-i", in)
	}
	args = append(args, "-filter_complex", graph)
	args = append(args, mapping...)
	args = append(args,
		"-c:v", "libx264", "-preset", "medium",
		"-c:a", "aac",
		out,
	)

	_, stderr, err := a.run(ctx, a.ffmpegBinary, args)
	if err != nil {
		return mediaFailureFrom("exec_filter_graph", err, stderr)
	}
	return nil
}

// ExtractAudio renders a mono 16kHz audio-only file from in, for submission
// to a transcription provider (spec §4.C step 3).
func (a *Adapter) ExtractAudio(ctx context.Context, in, out string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		out,
	}

	_, stderr, err := a.run(ctx, a.ffmpegBinary, args)
	if err != nil {
		return mediaFailureFrom("extract_audio", err, stderr)
	}
	return nil
}

func (a *Adapter) run(ctx context.Context, binary string, args []string) (stdout, stderr []byte, err error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	a.logger.Debug("exec", "binary", binary, "args", args)
	err = cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

func mediaFailureFrom(op string, err error, stderr []byte) error {
	exitCode := -1
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}
	return haperrors.MediaFailure(op, exitCode, stderrTail(stderr, 20), err)
}

func stderrTail(b []byte, lines int) string {
	s := strings.TrimRight(string(b), "\n")
	parts := strings.Split(s, "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, "\n")
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 6, 64)
}

func writeConcatList(ins []string) (string, error) {
	f, err := os.CreateTemp("", "hap-concat-*.txt")
	if err != nil {
		return "", err
	}
	defer f.Close()

	for _, in := range ins {
		abs, err := filepath.Abs(in)
		if err != nil {
			return "", err
		}
		escaped := strings.ReplaceAll(abs, "'", `'\''`)
		if _, err := fmt.Fprintf(f, "file '%s'\n", escaped); err != nil {
			return "", err
		}
	}
	return f.Name(), nil
}
