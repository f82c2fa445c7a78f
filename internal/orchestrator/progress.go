package orchestrator

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultProgressBuffer is the event buffer used when none is given.
const DefaultProgressBuffer = 64

// ProgressReporter carries progress events from the batch worker to one
// consumer. Emit never blocks: when the consumer lags, events are dropped
// and counted.
type ProgressReporter struct {
	ch      chan ProgressEvent
	dropped atomic.Int64
	once    sync.Once
}

// NewProgressReporter creates a reporter buffering size events.
func NewProgressReporter(size int) *ProgressReporter {
	if size <= 0 {
		size = DefaultProgressBuffer
	}
	return &ProgressReporter{ch: make(chan ProgressEvent, size)}
}

// Emit queues event or drops it if the buffer is full. A nil reporter
// ignores everything.
func (pr *ProgressReporter) Emit(event ProgressEvent) {
	if pr == nil {
		return
	}
	select {
	case pr.ch <- event:
	default:
		pr.dropped.Add(1)
	}
}

// Dropped is the number of events lost to a full buffer.
func (pr *ProgressReporter) Dropped() int64 {
	if pr == nil {
		return 0
	}
	return pr.dropped.Load()
}

// Subscribe returns the event stream. It is closed by Close.
func (pr *ProgressReporter) Subscribe() <-chan ProgressEvent {
	return pr.ch
}

// Close ends the stream. Emit must not be called afterwards; repeated
// calls are harmless.
func (pr *ProgressReporter) Close() {
	pr.once.Do(func() { close(pr.ch) })
}

// FormatProgress renders one event as a log line. Stage lines are
// indented under their record header.
func FormatProgress(event ProgressEvent) string {
	subject := event.TaxID
	if event.Name != "" {
		subject = fmt.Sprintf("%s (%s)", event.Name, event.TaxID)
	}
	switch event.Status {
	case ProgressPending:
		return fmt.Sprintf("○ %s %s", subject, event.Message)
	case ProgressWorking:
		return fmt.Sprintf("  ● %s %s...", event.TaxID, event.Stage)
	case ProgressComplete:
		if event.Message != "" {
			return fmt.Sprintf("  ✓ %s %s: %s", event.TaxID, event.Stage, event.Message)
		}
		return fmt.Sprintf("  ✓ %s %s complete", event.TaxID, event.Stage)
	case ProgressFailed:
		return fmt.Sprintf("  ✗ %s %s failed: %s", event.TaxID, event.Stage, event.Message)
	case ProgressSkipped:
		return fmt.Sprintf("  ↷ %s %s skipped: %s", event.TaxID, event.Stage, event.Message)
	case ProgressWarning:
		return fmt.Sprintf("  ! %s %s: %s", event.TaxID, event.Stage, event.Message)
	default:
		return fmt.Sprintf("  ? %s (unknown status)", subject)
	}
}

// FormatRecordHeader is the "[run] i/total" banner of a record.
func FormatRecordHeader(runID string, i, total int) string {
	return fmt.Sprintf("[%s] %d/%d", runID, i, total)
}
