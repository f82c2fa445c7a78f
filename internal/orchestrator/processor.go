package orchestrator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dusk-indust/edoagree/internal/counterparty"
	"github.com/dusk-indust/edoagree/internal/diadoc"
	"github.com/dusk-indust/edoagree/internal/docfill"
	"github.com/dusk-indust/edoagree/internal/inflect"
	"github.com/dusk-indust/edoagree/internal/registry"
)

// Deps are the collaborators of a Processor. Archiver is optional.
type Deps struct {
	Store       registry.Store
	Resolver    Resolver
	Normalizer  Normalizer
	Filler      Filler
	Transmitter Transmitter
	Archiver    Archiver
	Arbiter     Arbiter
}

// Processor runs the per-counterparty state machine for one company. A
// Processor runs one batch at a time.
type Processor struct {
	company  counterparty.Company
	deps     Deps
	progress *ProgressReporter
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time
	runID    string
}

// Option configures a Processor.
type Option func(*Processor)

// WithProgress sets the progress sink.
func WithProgress(pr *ProgressReporter) Option {
	return func(p *Processor) { p.progress = pr }
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock replaces time.Now for status dates and document dates.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// New creates a Processor for company.
func New(company counterparty.Company, deps Deps, opts ...Option) (*Processor, error) {
	switch {
	case deps.Store == nil:
		return nil, eris.New("orchestrator: registry store is required")
	case deps.Resolver == nil:
		return nil, eris.New("orchestrator: resolver is required")
	case deps.Normalizer == nil:
		return nil, eris.New("orchestrator: normalizer is required")
	case deps.Filler == nil:
		return nil, eris.New("orchestrator: filler is required")
	case deps.Transmitter == nil:
		return nil, eris.New("orchestrator: transmitter is required")
	case deps.Arbiter == nil:
		return nil, eris.New("orchestrator: arbiter is required")
	}
	p := &Processor{
		company: company,
		deps:    deps,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("company", company.Code))
	return p, nil
}

// Result is what happened to one counterparty.
type Result struct {
	TaxID        string
	Outcome      Outcome
	Err          error
	DocumentPath string
	MessageID    string
	SendSkipped  bool
}

// record is the working state of one counterparty.
type record struct {
	c        counterparty.Counterparty
	form     counterparty.LegalForm
	rep      counterparty.Representative
	gen      inflect.Genitive
	docPath  string
	receipt  *diadoc.Receipt
	skipSend bool
	failures [stageDone]int
}

// Process drives c through every stage. A failed classification ends the
// record as Failed without asking the arbiter; every later failure is
// arbitrated.
func (p *Processor) Process(ctx context.Context, c counterparty.Counterparty) Result {
	rec := &record{c: c}
	outcome, err := p.process(ctx, rec)
	res := Result{
		TaxID:        c.TaxID,
		Outcome:      outcome,
		Err:          err,
		DocumentPath: rec.docPath,
		SendSkipped:  rec.skipSend,
	}
	if rec.receipt != nil {
		res.MessageID = rec.receipt.MessageID
	}
	return res
}

func (p *Processor) process(ctx context.Context, rec *record) (Outcome, error) {
	stage := StageClassify
	for stage != stageDone {
		next, err := p.runStage(ctx, rec, stage)
		if err == nil {
			stage = next
			continue
		}
		if stage == StageClassify {
			return OutcomeFailed, err
		}

		rec.failures[stage]++
		switch p.arbitrate(ctx, rec, stage, err) {
		case DecisionRetry:
			p.emit(rec, stage, ProgressWarning, "retrying")
		case DecisionSkip:
			next, ended := p.skip(rec, stage)
			if ended {
				return OutcomeSkipped, err
			}
			stage = next
		default:
			return OutcomeAborted, err
		}
	}
	return OutcomeRecorded, nil
}

// skip applies a skip decision for stage. It returns the stage to continue
// with, or ended when the record stops here.
func (p *Processor) skip(rec *record, stage Stage) (next Stage, ended bool) {
	switch stage {
	case StageNormalize:
		rec.gen = inflect.Fallback(rec.rep.Title, rec.rep.FullName)
		p.emit(rec, stage, ProgressSkipped, "using nominative case")
		return StageFill, false
	case StageTransmit:
		// Reported as processed, but the registry says the send was skipped.
		rec.skipSend = true
		p.emit(rec, stage, ProgressSkipped, "document was not sent")
		p.logger.Warn("transmission skipped, record counted as processed",
			zap.String("tax_id", rec.c.TaxID), zap.String("document", rec.docPath))
		return StageRecord, false
	default:
		p.emit(rec, stage, ProgressSkipped, "record skipped")
		return stageDone, true
	}
}

func (p *Processor) arbitrate(ctx context.Context, rec *record, stage Stage, err error) Decision {
	kind := counterparty.KindOf(err)
	p.metrics.stageFailed(p.company.Code, stage, kind.String())
	if ctx.Err() != nil {
		return DecisionAbort
	}

	req := NewRequest(stage, rec.c.TaxID, err)
	req.RunID = p.runID
	req.Company = p.company.Code
	req.Name = rec.c.Name
	req.Attempt = rec.failures[stage]

	d, derr := p.deps.Arbiter.Decide(ctx, req)
	if derr != nil {
		p.logger.Warn("arbitration interrupted", zap.String("tax_id", rec.c.TaxID), zap.Error(derr))
		d = DecisionAbort
	}
	p.metrics.decided(p.company.Code, stage, d)
	p.logger.Info("failure arbitrated",
		zap.String("run_id", p.runID), zap.String("tax_id", rec.c.TaxID),
		zap.Stringer("stage", stage), zap.Stringer("kind", kind),
		zap.Int("attempt", req.Attempt), zap.Stringer("decision", d))
	return d
}

// runStage executes one stage and returns the stage that follows it.
func (p *Processor) runStage(ctx context.Context, rec *record, stage Stage) (Stage, error) {
	p.emit(rec, stage, ProgressWorking, "")
	start := time.Now()

	var (
		next Stage
		msg  string
		err  error
	)
	switch stage {
	case StageClassify:
		next, msg, err = p.classify(rec)
	case StageResolve:
		next, msg, err = p.resolve(ctx, rec)
	case StageNormalize:
		next, msg, err = p.normalize(ctx, rec)
	case StageFill:
		next, msg, err = p.fill(ctx, rec)
	case StageTransmit:
		next, msg, err = p.transmit(ctx, rec)
	case StageRecord:
		next, msg, err = p.record(ctx, rec)
	default:
		return stageDone, eris.Errorf("orchestrator: unknown stage %d", int(stage))
	}
	p.metrics.observeStage(p.company.Code, stage, time.Since(start))

	if err != nil {
		err = kinded(stage, rec.c.TaxID, err)
		p.emit(rec, stage, ProgressFailed, err.Error())
		p.logger.Error("stage failed",
			zap.String("run_id", p.runID), zap.String("tax_id", rec.c.TaxID),
			zap.Stringer("stage", stage), zap.Error(err))
		return stage, err
	}
	p.emit(rec, stage, ProgressComplete, msg)
	return next, nil
}

// stageKinds is the kind given to collaborator errors that carry none.
var stageKinds = [...]counterparty.Kind{
	StageClassify:  counterparty.KindClassification,
	StageResolve:   counterparty.KindLookup,
	StageNormalize: counterparty.KindNormalizerUnavailable,
	StageFill:      counterparty.KindTemplateFill,
	StageTransmit:  counterparty.KindTransmission,
	StageRecord:    counterparty.KindRegistryIO,
}

func kinded(stage Stage, taxID string, err error) error {
	if counterparty.KindOf(err) != counterparty.KindUnknown {
		return err
	}
	return counterparty.NewError(stageKinds[stage], taxID, err)
}

// ---------- stages ----------

func (p *Processor) classify(rec *record) (Stage, string, error) {
	form, err := counterparty.Classify(rec.c.TaxID)
	if err != nil {
		return stageDone, "", err
	}
	rec.form = form
	return StageResolve, form.String(), nil
}

func (p *Processor) resolve(ctx context.Context, rec *record) (Stage, string, error) {
	rep, err := p.deps.Resolver.Resolve(ctx, rec.c.TaxID)
	if err != nil {
		return stageDone, "", err
	}
	soleProprietor := rec.form == counterparty.FormSoleProprietor
	if rep.IsSoleProprietor() != soleProprietor {
		return stageDone, "", counterparty.Errorf(counterparty.KindRepresentativeMismatch, rec.c.TaxID,
			"expected %s, lookup returned %q", rec.form, rep.Title)
	}
	rec.rep = rep
	if soleProprietor {
		return StageFill, rep.FullName, nil
	}
	return StageNormalize, rep.Title + " " + rep.FullName, nil
}

func (p *Processor) normalize(ctx context.Context, rec *record) (Stage, string, error) {
	gen, err := p.deps.Normalizer.ToGenitive(ctx, rec.rep.Title, rec.rep.FullName)
	if err != nil {
		return stageDone, "", err
	}
	rec.gen = gen
	return StageFill, gen.Title + " " + gen.FullName, nil
}

func (p *Processor) fill(ctx context.Context, rec *record) (Stage, string, error) {
	req := docfill.Request{
		Company: p.company,
		Form:    rec.form,
		TaxID:   rec.c.TaxID,
	}
	if rec.form == counterparty.FormSoleProprietor {
		req.DisplayName = soleProprietorName(rec.rep)
		req.Fields = docfill.SoleProprietorFields(rec.c.TaxID, rec.rep.FullName)
	} else {
		req.DisplayName = rec.c.Name
		if req.DisplayName == "" {
			req.DisplayName = rec.c.TaxID
		}
		req.Fields = docfill.OrganizationFields(rec.c.Name, rec.c.TaxID, rec.c.KPP,
			rec.rep, rec.gen.Title, rec.gen.FullName)
	}
	path, err := p.deps.Filler.Fill(ctx, req)
	if err != nil {
		return stageDone, "", err
	}
	rec.docPath = path
	return StageTransmit, path, nil
}

func (p *Processor) transmit(ctx context.Context, rec *record) (Stage, string, error) {
	p.warnIfSent(ctx, rec)

	receipt, err := p.deps.Transmitter.Send(ctx, diadoc.SendRequest{
		SenderTaxID:            p.company.SenderTaxID,
		SenderKPP:              p.company.SenderKPP,
		RecipientTaxID:         rec.c.TaxID,
		RecipientKPP:           rec.c.KPP,
		DocumentPath:           rec.docPath,
		Comment:                diadoc.DefaultComment,
		DocumentDate:           p.now(),
		NeedRecipientSignature: true,
	})
	if err != nil {
		return stageDone, "", err
	}
	rec.receipt = receipt

	if p.deps.Archiver != nil {
		if err := p.deps.Archiver.Archive(ctx, p.company, rec.docPath); err != nil {
			p.logger.Warn("archive copy failed", zap.String("tax_id", rec.c.TaxID), zap.Error(err))
			p.emit(rec, StageTransmit, ProgressWarning, "archive copy failed: "+err.Error())
		}
	}
	return StageRecord, "message " + receipt.MessageID, nil
}

// warnIfSent flags a candidate whose registry record already says it was
// sent. Sending again is allowed; the send and the registry write are not
// atomic, so the record may be stale in either direction.
func (p *Processor) warnIfSent(ctx context.Context, rec *record) {
	existing, err := p.deps.Store.Get(ctx, p.company.Code, rec.c.TaxID)
	if err != nil {
		p.logger.Debug("registry check before send failed", zap.String("tax_id", rec.c.TaxID), zap.Error(err))
		return
	}
	if existing != nil && existing.Status == counterparty.StatusSent {
		msg := "registry already records a send on " + counterparty.FormatStatusDate(existing.StatusChanged)
		p.emit(rec, StageTransmit, ProgressWarning, msg)
		p.logger.Warn("possible duplicate send", zap.String("tax_id", rec.c.TaxID),
			zap.Time("previous", existing.StatusChanged))
	}
}

func (p *Processor) record(ctx context.Context, rec *record) (Stage, string, error) {
	upd := rec.c
	if rec.form == counterparty.FormSoleProprietor {
		upd.Name = soleProprietorName(rec.rep)
		upd.KPP = ""
	}
	upd.Status = counterparty.StatusSent
	if rec.skipSend {
		upd.Status = counterparty.StatusSendSkipped
	}
	upd.StatusChanged = p.now()
	if rec.receipt != nil {
		upd.OperatorOrgID = rec.receipt.RecipientOrgID
		upd.OperatorBoxID = rec.receipt.RecipientBoxID
	}

	changed, err := p.deps.Store.Upsert(ctx, p.company.Code, upd)
	if err != nil {
		return stageDone, "", counterparty.NewError(counterparty.KindRegistryIO, rec.c.TaxID, err)
	}
	if !changed {
		return stageDone, "already recorded as " + upd.Status, nil
	}
	return stageDone, upd.Status, nil
}

func soleProprietorName(rep counterparty.Representative) string {
	return counterparty.SoleProprietorMark + " " + rep.FullName
}

func (p *Processor) emit(rec *record, stage Stage, status ProgressStatus, msg string) {
	p.progress.Emit(ProgressEvent{
		Stage:   stage,
		TaxID:   rec.c.TaxID,
		Name:    rec.c.Name,
		Status:  status,
		Message: msg,
	})
}
