package haperrors

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Reported captures one error surfaced by a background goroutine.
type Reported struct {
	Error     error
	Operation string
	ClipID    string
	IsPanic   bool
	Stack     string
	At        time.Time
}

// Reporter collects non-fatal errors raised off the main call stack by
// goroutines started through SafeGoContext, so a failure in one of them
// never silently vanishes and a panic never crashes the process. The
// Orchestrator does not use it; it collects per-clip outcomes itself.
type Reporter struct {
	logger hclog.Logger
	mu     sync.Mutex
	items  []Reported
	max    int
}

// NewReporter creates a Reporter bounded to at most max retained entries.
func NewReporter(logger hclog.Logger, max int) *Reporter {
	if max <= 0 {
		max = 1000
	}
	return &Reporter{logger: logger, max: max}
}

// Report records a non-panic error.
func (r *Reporter) Report(op, clipID string, err error) {
	if err == nil {
		return
	}
	if IsRecoverablePerClip(err) {
		r.logger.Warn("recoverable pipeline error", "op", op, "clip_id", clipID, "error", err)
	} else {
		r.logger.Error("pipeline error", "op", op, "clip_id", clipID, "error", err)
	}
	r.append(Reported{Error: err, Operation: op, ClipID: clipID, At: time.Now()})
}

// ReportPanic records a recovered panic as a reported error.
func (r *Reporter) ReportPanic(op, clipID string, recovered interface{}, stack []byte) {
	var err error
	switch v := recovered.(type) {
	case error:
		err = v
	default:
		err = fmt.Errorf("panic: %v", v)
	}
	r.logger.Error("panic in pipeline goroutine", "op", op, "clip_id", clipID, "panic", recovered, "stack", string(stack))
	r.append(Reported{Error: err, Operation: op, ClipID: clipID, IsPanic: true, Stack: string(stack), At: time.Now()})
}

func (r *Reporter) append(item Reported) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) >= r.max {
		r.items = r.items[1:]
	}
	r.items = append(r.items, item)
}

// All returns a copy of every error reported since the last Clear.
func (r *Reporter) All() []Reported {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Reported, len(r.items))
	copy(out, r.items)
	return out
}

// Clear drops all retained reports.
func (r *Reporter) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = r.items[:0]
}

// SafeGoContext runs fn in a goroutine with panic recovery; any returned
// error or recovered panic is handed to the Reporter instead of crashing
// the process. Context cancellation is not reported as an error.
func SafeGoContext(ctx context.Context, reporter *Reporter, logger hclog.Logger, op, clipID string, fn func(context.Context) error) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				reporter.ReportPanic(op, clipID, rec, debug.Stack())
			}
		}()

		if err := fn(ctx); err != nil {
			if err == context.Canceled {
				return
			}
			reporter.Report(op, clipID, err)
		}
	}()
}
