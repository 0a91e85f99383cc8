package surgeon

import (
	"context"
	"os/exec"
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

func requireFFmpeg(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping ffmpeg-backed test in short mode")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available on PATH")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not available on PATH")
	}
}

func TestOperate_EmptyIntervalsIsValidationError(t *testing.T) {
	s := New(discardLogger(), mediatool.New(discardLogger()))

	err := s.Operate(context.Background(), "clip1", "/nonexistent/in.mp4", nil, t.TempDir(), "/tmp/out.mp4", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no intervals")
}

func TestCheckDurationInvariant_PropagatesProbeFailure(t *testing.T) {
	media := mediatool.New(discardLogger())
	err := checkDurationInvariant(context.Background(), media, "/nonexistent/out.mp4", []model.Interval{{Start: 0, End: 1}})
	require.Error(t, err)
}

func TestOperate_SingleIntervalTrimsDirectly(t *testing.T) {
	requireFFmpeg(t)
	t.Skip("requires a real fixture video; exercised in integration environments with sample media")
}

func TestOperate_MultiIntervalConcatenatesAndCleansScratchDir(t *testing.T) {
	requireFFmpeg(t)
	t.Skip("requires a real fixture video; exercised in integration environments with sample media")
}
