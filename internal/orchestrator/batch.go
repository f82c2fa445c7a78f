package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dusk-indust/edoagree/internal/counterparty"
	"github.com/dusk-indust/edoagree/internal/registry"
)

// ErrAborted is returned when the operator aborts a batch.
var ErrAborted = errors.New("orchestrator: batch aborted")

// Run processes candidates in order. Stats.Considered is the number of
// candidates handed in; an abort stops the loop, and the records after the
// aborted one are never attempted. The returned error wraps ErrAborted and
// the failure that led to the abort.
func (p *Processor) Run(ctx context.Context, candidates []counterparty.Counterparty) (Stats, error) {
	stats := Stats{RunID: uuid.NewString(), Considered: len(candidates)}
	p.runID = stats.RunID
	log := p.logger.With(zap.String("run_id", stats.RunID))
	log.Info("batch started", zap.Int("candidates", len(candidates)))

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			stats.Aborted = true
			log.Warn("batch cancelled", zap.Int("remaining", len(candidates)-i))
			return stats, fmt.Errorf("%w: %w", ErrAborted, err)
		}
		p.progress.Emit(ProgressEvent{
			TaxID:   c.TaxID,
			Name:    c.Name,
			Status:  ProgressPending,
			Message: FormatRecordHeader(stats.RunID, i+1, len(candidates)),
		})

		res := p.Process(ctx, c)
		p.metrics.recordOutcome(p.company.Code, res.Outcome)
		switch res.Outcome {
		case OutcomeRecorded:
			stats.Succeeded++
			if res.SendSkipped {
				stats.SendsSkipped++
			}
		case OutcomeSkipped:
			stats.Succeeded++
			stats.Skipped++
		case OutcomeFailed:
			stats.Failed++
			log.Warn("counterparty not processed", zap.String("tax_id", c.TaxID), zap.Error(res.Err))
		case OutcomeAborted:
			stats.Aborted = true
			log.Warn("batch aborted", zap.String("tax_id", c.TaxID),
				zap.Int("succeeded", stats.Succeeded), zap.Int("remaining", len(candidates)-i-1))
			return stats, fmt.Errorf("%w at %s: %w", ErrAborted, c.TaxID, res.Err)
		}
	}

	log.Info("batch finished",
		zap.Int("succeeded", stats.Succeeded), zap.Int("considered", stats.Considered),
		zap.Int("failed", stats.Failed), zap.Int("skipped", stats.Skipped),
		zap.Int("sends_skipped", stats.SendsSkipped))
	return stats, nil
}

// RunDelta processes every row whose tax ID is not in the registry yet.
func (p *Processor) RunDelta(ctx context.Context, rows []counterparty.Counterparty) (Stats, error) {
	candidates, err := registry.Delta(ctx, p.deps.Store, p.company.Code, rows)
	if err != nil {
		return Stats{}, counterparty.NewError(counterparty.KindRegistryIO, "", err)
	}
	p.logger.Info("new counterparties found", zap.Int("rows", len(rows)), zap.Int("new", len(candidates)))
	return p.Run(ctx, candidates)
}

// RunPeriod first registers every row whose tax ID is missing from the
// registry, whatever its date, and then processes the rows whose
// status-change date lies in [from, to]. Rows without a parseable date are
// registered but not processed. Rows with a malformed tax ID are never
// registered; inside the period they fail classification like any other
// candidate.
func (p *Processor) RunPeriod(ctx context.Context, rows []counterparty.Counterparty, from, to time.Time) (Stats, error) {
	n, err := registry.Reconcile(ctx, p.deps.Store, p.company.Code, rows)
	if err != nil {
		return Stats{}, counterparty.NewError(counterparty.KindRegistryIO, "", err)
	}
	candidates := InPeriod(rows, from, to)
	p.logger.Info("period selected",
		zap.Time("from", from), zap.Time("to", to),
		zap.Int("registered", n.Added), zap.Int("invalid_tax_ids", n.Invalid),
		zap.Int("candidates", len(candidates)))
	return p.Run(ctx, candidates)
}

// InPeriod returns the rows changed within [from, to], first occurrence of
// each tax ID winning.
func InPeriod(rows []counterparty.Counterparty, from, to time.Time) []counterparty.Counterparty {
	seen := make(map[string]bool, len(rows))
	var out []counterparty.Counterparty
	for _, r := range rows {
		if r.TaxID == "" || seen[r.TaxID] || !r.ChangedWithin(from, to) {
			continue
		}
		seen[r.TaxID] = true
		out = append(out, r)
	}
	return out
}

// PeriodLayout is the format of period bounds.
const PeriodLayout = "02.01.2006"

// ParsePeriod parses inclusive "dd.mm.yyyy" bounds.
func ParsePeriod(from, to string) (time.Time, time.Time, error) {
	f, err := time.ParseInLocation(PeriodLayout, strings.TrimSpace(from), time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Errorf("orchestrator: period start %q: want dd.mm.yyyy", from)
	}
	t, err := time.ParseInLocation(PeriodLayout, strings.TrimSpace(to), time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Errorf("orchestrator: period end %q: want dd.mm.yyyy", to)
	}
	if t.Before(f) {
		return time.Time{}, time.Time{}, eris.Errorf("orchestrator: period end %s is before start %s", to, from)
	}
	return f, t, nil
}

// DefaultPeriod is the last 30 days up to now.
func DefaultPeriod(now time.Time) (time.Time, time.Time) {
	return now.AddDate(0, 0, -30), now
}
