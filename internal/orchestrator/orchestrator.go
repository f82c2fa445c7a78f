// Package orchestrator drives counterparties through the agreement
// pipeline: classify, resolve the representative, normalize the genitive
// case, fill the template, transmit, and record the result in the
// registry. Any stage after classification may fail; the failure is handed
// to an Arbiter which decides to retry the stage, skip it or abort the
// whole batch.
package orchestrator

import (
	"context"

	"github.com/dusk-indust/edoagree/internal/counterparty"
	"github.com/dusk-indust/edoagree/internal/diadoc"
	"github.com/dusk-indust/edoagree/internal/docfill"
	"github.com/dusk-indust/edoagree/internal/focus"
	"github.com/dusk-indust/edoagree/internal/inflect"
)

// Stage identifies a step of the per-counterparty state machine.
type Stage int

const (
	StageClassify Stage = iota
	StageResolve
	StageNormalize
	StageFill
	StageTransmit
	StageRecord

	// stageDone is the terminal-success marker, never reported.
	stageDone
)

func (s Stage) String() string {
	names := [...]string{
		"classify",
		"resolve",
		"normalize",
		"fill",
		"transmit",
		"record",
	}
	if s >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// Outcome is the terminal state of one counterparty.
type Outcome int

const (
	// OutcomeRecorded means every stage ran and the registry was updated.
	OutcomeRecorded Outcome = iota
	// OutcomeSkipped means the operator accepted a skip that ended the
	// record early.
	OutcomeSkipped
	// OutcomeFailed means the tax ID could not be classified.
	OutcomeFailed
	// OutcomeAborted means the operator aborted; the batch stops.
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRecorded:
		return "recorded"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Succeeded reports whether o counts towards the batch success total.
func (o Outcome) Succeeded() bool {
	return o == OutcomeRecorded || o == OutcomeSkipped
}

// ProgressEvent is emitted while counterparties are processed.
type ProgressEvent struct {
	Stage   Stage
	TaxID   string
	Name    string
	Status  ProgressStatus
	Message string
}

// ProgressStatus is the state of a stage for one counterparty.
type ProgressStatus string

const (
	ProgressPending  ProgressStatus = "pending"
	ProgressWorking  ProgressStatus = "working"
	ProgressComplete ProgressStatus = "complete"
	ProgressFailed   ProgressStatus = "failed"
	ProgressSkipped  ProgressStatus = "skipped"
	ProgressWarning  ProgressStatus = "warning"
)

// Stats summarizes one batch run. Succeeded counts Recorded and Skipped
// outcomes; SendsSkipped counts records that were reported as processed
// although the transmission itself was skipped.
type Stats struct {
	RunID        string
	Considered   int
	Succeeded    int
	Failed       int
	Skipped      int
	SendsSkipped int
	Aborted      bool
}

// Resolver finds the signer for a tax ID.
type Resolver interface {
	Resolve(ctx context.Context, taxID string) (counterparty.Representative, error)
}

// Normalizer puts a title and a full name into the genitive case.
type Normalizer interface {
	ToGenitive(ctx context.Context, title, fullName string) (inflect.Genitive, error)
}

// Filler renders an agreement and returns its path.
type Filler interface {
	Fill(ctx context.Context, req docfill.Request) (string, error)
}

// Transmitter sends a rendered agreement to the counterparty.
type Transmitter interface {
	Send(ctx context.Context, req diadoc.SendRequest) (*diadoc.Receipt, error)
}

// Archiver keeps a copy of a transmitted agreement. Failures are logged
// and never arbitrated.
type Archiver interface {
	Archive(ctx context.Context, company counterparty.Company, path string) error
}

// Compile-time interface checks.
var (
	_ Resolver    = (*focus.Client)(nil)
	_ Normalizer  = (*inflect.Client)(nil)
	_ Filler      = (*docfill.Filler)(nil)
	_ Transmitter = (*diadoc.Client)(nil)
)
