package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dusk-indust/edoagree/internal/counterparty"
)

// Decision is the operator's answer to a failed stage.
type Decision int

const (
	// DecisionAbort stops the whole batch.
	DecisionAbort Decision = iota
	// DecisionRetry re-runs the failed stage from its start.
	DecisionRetry
	// DecisionSkip accepts the failure and moves on.
	DecisionSkip
)

func (d Decision) String() string {
	switch d {
	case DecisionAbort:
		return "abort"
	case DecisionRetry:
		return "retry"
	case DecisionSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// ParseDecision accepts the names printed by String.
func ParseDecision(s string) (Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "abort":
		return DecisionAbort, true
	case "retry":
		return DecisionRetry, true
	case "skip":
		return DecisionSkip, true
	}
	return DecisionAbort, false
}

// Request asks how to handle a failed stage. It is answered exactly once
// through Resolve; later calls are ignored.
type Request struct {
	RunID   string
	Company string
	TaxID   string
	Name    string
	Stage   Stage
	// Attempt counts the failures of Stage for this record, starting at 1.
	Attempt int
	Err     error

	once  sync.Once
	reply chan Decision
}

// NewRequest creates an unanswered request.
func NewRequest(stage Stage, taxID string, err error) *Request {
	return &Request{
		Stage:   stage,
		TaxID:   taxID,
		Attempt: 1,
		Err:     err,
		reply:   make(chan Decision, 1),
	}
}

// Resolve answers the request. Only the first call has an effect; it
// reports whether this call was that one.
func (r *Request) Resolve(d Decision) bool {
	resolved := false
	r.once.Do(func() {
		r.reply <- d
		resolved = true
	})
	return resolved
}

// Kind is the error kind of the failure.
func (r *Request) Kind() counterparty.Kind {
	return counterparty.KindOf(r.Err)
}

// Title is a one-line description of the failure for the operator.
func (r *Request) Title() string {
	switch r.Kind() {
	case counterparty.KindLookup:
		return "Не удалось получить данные о руководителе"
	case counterparty.KindRepresentativeMismatch:
		return "Тип контрагента не совпадает с данными реестра"
	case counterparty.KindFormatViolation, counterparty.KindNormalizerUnavailable:
		return "Не удалось преобразовать в родительный падеж"
	case counterparty.KindTemplateFill:
		return "Не удалось заполнить шаблон"
	case counterparty.KindTransmission, counterparty.KindRecipientNotFound:
		return "Ошибка отправки через Диадок"
	case counterparty.KindRegistryIO:
		return "Не удалось обновить реестр"
	}
	return fmt.Sprintf("Ошибка на этапе %s", r.Stage)
}

// Arbiter decides what happens after a stage fails. Decide blocks until a
// decision is available.
type Arbiter interface {
	Decide(ctx context.Context, req *Request) (Decision, error)
}

// ArbiterFunc adapts a function to the Arbiter interface.
type ArbiterFunc func(ctx context.Context, req *Request) (Decision, error)

// Decide calls f.
func (f ArbiterFunc) Decide(ctx context.Context, req *Request) (Decision, error) {
	return f(ctx, req)
}

// ChannelArbiter hands requests to an interactive surface and waits for
// its answer. There is no timeout: the worker waits until the request is
// resolved or ctx is cancelled, which counts as an abort.
type ChannelArbiter struct {
	ch chan *Request
}

var _ Arbiter = (*ChannelArbiter)(nil)

// NewChannelArbiter creates a ChannelArbiter.
func NewChannelArbiter() *ChannelArbiter {
	return &ChannelArbiter{ch: make(chan *Request)}
}

// Requests delivers pending requests to the surface.
func (a *ChannelArbiter) Requests() <-chan *Request {
	return a.ch
}

// Decide publishes req and blocks until it is resolved.
func (a *ChannelArbiter) Decide(ctx context.Context, req *Request) (Decision, error) {
	if req.reply == nil {
		req.reply = make(chan Decision, 1)
	}
	select {
	case a.ch <- req:
	case <-ctx.Done():
		return DecisionAbort, ctx.Err()
	}
	select {
	case d := <-req.reply:
		return d, nil
	case <-ctx.Done():
		return DecisionAbort, ctx.Err()
	}
}

// Policy is a fixed answer for unattended runs.
type Policy string

const (
	PolicyAbort     Policy = "abort"
	PolicySkip      Policy = "skip"
	PolicyRetryOnce Policy = "retry-once"
)

// ParsePolicy validates a --on-error value.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyAbort, PolicySkip, PolicyRetryOnce:
		return p, nil
	}
	return "", eris.Errorf("orchestrator: unknown error policy %q (want abort, skip or retry-once)", s)
}

// PolicyArbiter answers every request from a Policy. retry-once retries
// the first failure of a stage and skips the next.
type PolicyArbiter struct {
	Policy Policy
	Logger *zap.Logger
}

var _ Arbiter = (*PolicyArbiter)(nil)

// Decide implements Arbiter.
func (a *PolicyArbiter) Decide(_ context.Context, req *Request) (Decision, error) {
	var d Decision
	switch a.Policy {
	case PolicySkip:
		d = DecisionSkip
	case PolicyRetryOnce:
		d = DecisionSkip
		if req.Attempt <= 1 {
			d = DecisionRetry
		}
	default:
		d = DecisionAbort
	}
	if a.Logger != nil {
		a.Logger.Info("arbitrated by policy",
			zap.String("policy", string(a.Policy)), zap.String("tax_id", req.TaxID),
			zap.Stringer("stage", req.Stage), zap.Stringer("decision", d))
	}
	return d, nil
}
