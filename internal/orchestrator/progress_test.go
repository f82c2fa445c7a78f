package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressReporter_EmitAndSubscribe(t *testing.T) {
	pr := NewProgressReporter(0)
	defer pr.Close()

	ch := pr.Subscribe()
	want := ProgressEvent{
		Stage:   StageResolve,
		TaxID:   "7801234567",
		Status:  ProgressWorking,
		Message: "looking up",
	}

	pr.Emit(want)

	select {
	case got := <-ch:
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for progress event")
	}
}

func TestProgressReporter_EmitWhenFull_DoesNotBlock(t *testing.T) {
	pr := NewProgressReporter(0)
	defer pr.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < DefaultProgressBuffer+36; i++ {
			pr.Emit(ProgressEvent{Stage: StageFill, Status: ProgressWorking})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked when the channel was full")
	}
	assert.Equal(t, int64(36), pr.Dropped())
}

func TestProgressReporter_CustomBuffer(t *testing.T) {
	pr := NewProgressReporter(2)
	for i := 0; i < 5; i++ {
		pr.Emit(ProgressEvent{TaxID: "7801234567"})
	}
	pr.Close()
	pr.Close()

	n := 0
	for range pr.Subscribe() {
		n++
	}
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(3), pr.Dropped())
}

func TestProgressReporter_NilIsSilent(t *testing.T) {
	var pr *ProgressReporter
	assert.NotPanics(t, func() { pr.Emit(ProgressEvent{}) })
	assert.Zero(t, pr.Dropped())
}

func TestProgressReporter_Close_ChannelClosed(t *testing.T) {
	pr := NewProgressReporter(0)
	ch := pr.Subscribe()

	pr.Emit(ProgressEvent{Stage: StageRecord, Status: ProgressComplete})
	pr.Close()

	var received []ProgressEvent
	for ev := range ch {
		received = append(received, ev)
	}
	require.Len(t, received, 1)
	assert.Equal(t, ProgressComplete, received[0].Status)
}

func TestFormatProgress_AllStatuses(t *testing.T) {
	tests := []struct {
		name   string
		event  ProgressEvent
		expect string
	}{
		{
			name:   "pending",
			event:  ProgressEvent{TaxID: "7801234567", Name: "ООО Ромашка", Status: ProgressPending, Message: "[run] 1/3"},
			expect: "○ ООО Ромашка (7801234567) [run] 1/3",
		},
		{
			name:   "working",
			event:  ProgressEvent{TaxID: "7801234567", Stage: StageResolve, Status: ProgressWorking},
			expect: "  ● 7801234567 resolve...",
		},
		{
			name:   "complete",
			event:  ProgressEvent{TaxID: "7801234567", Stage: StageFill, Status: ProgressComplete},
			expect: "  ✓ 7801234567 fill complete",
		},
		{
			name:   "complete with detail",
			event:  ProgressEvent{TaxID: "7801234567", Stage: StageTransmit, Status: ProgressComplete, Message: "message m-1"},
			expect: "  ✓ 7801234567 transmit: message m-1",
		},
		{
			name:   "failed",
			event:  ProgressEvent{TaxID: "7801234567", Stage: StageTransmit, Status: ProgressFailed, Message: "timeout"},
			expect: "  ✗ 7801234567 transmit failed: timeout",
		},
		{
			name:   "skipped",
			event:  ProgressEvent{TaxID: "7801234567", Stage: StageNormalize, Status: ProgressSkipped, Message: "using nominative case"},
			expect: "  ↷ 7801234567 normalize skipped: using nominative case",
		},
		{
			name:   "warning",
			event:  ProgressEvent{TaxID: "7801234567", Stage: StageTransmit, Status: ProgressWarning, Message: "retrying"},
			expect: "  ! 7801234567 transmit: retrying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, FormatProgress(tt.event))
		})
	}
}

func TestFormatRecordHeader(t *testing.T) {
	assert.Equal(t, "[abc] 3/5", FormatRecordHeader("abc", 3, 5))
}

func TestStageAndOutcomeNames(t *testing.T) {
	assert.Equal(t, "normalize", StageNormalize.String())
	assert.Equal(t, "unknown", Stage(42).String())
	assert.Equal(t, "aborted", OutcomeAborted.String())
	assert.True(t, OutcomeSkipped.Succeeded())
	assert.False(t, OutcomeFailed.Succeeded())
}
