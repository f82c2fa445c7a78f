package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dusk-indust/edoagree/internal/counterparty"
	"github.com/dusk-indust/edoagree/internal/diadoc"
	"github.com/dusk-indust/edoagree/internal/docfill"
	"github.com/dusk-indust/edoagree/internal/inflect"
	"github.com/dusk-indust/edoagree/internal/registry"
)

var fixedNow = time.Date(2025, time.March, 7, 10, 30, 0, 0, time.Local)

func testCompany() counterparty.Company {
	return counterparty.Company{
		Code:        "kadis",
		Name:        "КАДИС",
		SenderTaxID: "7827004830",
		Templates: map[counterparty.LegalForm]string{
			counterparty.FormSoleProprietor: "KADIS_IP_shablon.docx",
			counterparty.FormOrganization:   "KADIS_OOO_shablon.docx",
		},
	}
}

var director = counterparty.Representative{Title: "Генеральный директор", FullName: "Иванов Иван Иванович"}

// fakeResolver answers from reps; failures[taxID] lookups fail first.
type fakeResolver struct {
	mu       sync.Mutex
	reps     map[string]counterparty.Representative
	failures map[string]int
	calls    map[string]int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		reps:     map[string]counterparty.Representative{},
		failures: map[string]int{},
		calls:    map[string]int{},
	}
}

func (f *fakeResolver) Resolve(_ context.Context, taxID string) (counterparty.Representative, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[taxID]++
	if f.failures[taxID] > 0 {
		f.failures[taxID]--
		return counterparty.Representative{}, counterparty.Errorf(counterparty.KindLookup, taxID, "upstream timeout")
	}
	rep, ok := f.reps[taxID]
	if !ok {
		return counterparty.Representative{}, counterparty.Errorf(counterparty.KindLookup, taxID, "not found")
	}
	return rep, nil
}

type fakeNormalizer struct {
	failures int
	calls    int
}

func (f *fakeNormalizer) ToGenitive(_ context.Context, title, fullName string) (inflect.Genitive, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return inflect.Genitive{}, counterparty.NewError(counterparty.KindFormatViolation, "", inflect.ErrFormat)
	}
	return inflect.Genitive{Title: "Генерального директора", FullName: "Иванова Ивана Ивановича"}, nil
}

type fakeFiller struct {
	dir      string
	failures int
	requests []docfill.Request
}

func (f *fakeFiller) Fill(_ context.Context, req docfill.Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.failures > 0 {
		f.failures--
		return "", errors.New("template locked")
	}
	return filepath.Join(f.dir, "Agreement_"+counterparty.SafeFileName(req.DisplayName)+".docx"), nil
}

type fakeTransmitter struct {
	failures map[string]int
	sent     []diadoc.SendRequest
	attempts map[string]int
}

func newFakeTransmitter() *fakeTransmitter {
	return &fakeTransmitter{failures: map[string]int{}, attempts: map[string]int{}}
}

func (f *fakeTransmitter) Send(_ context.Context, req diadoc.SendRequest) (*diadoc.Receipt, error) {
	f.attempts[req.RecipientTaxID]++
	if f.failures[req.RecipientTaxID] > 0 {
		f.failures[req.RecipientTaxID]--
		return nil, counterparty.NewError(counterparty.KindTransmission, req.RecipientTaxID,
			&diadoc.StatusError{Op: "post message", StatusCode: 503, Body: "unavailable"})
	}
	f.sent = append(f.sent, req)
	return &diadoc.Receipt{
		MessageID:      fmt.Sprintf("msg-%d", len(f.sent)),
		RecipientOrgID: "org-" + req.RecipientTaxID,
		RecipientBoxID: "box-" + req.RecipientTaxID,
	}, nil
}

type fakeArchiver struct {
	err   error
	paths []string
}

func (f *fakeArchiver) Archive(_ context.Context, _ counterparty.Company, path string) error {
	f.paths = append(f.paths, path)
	return f.err
}

// flakyStore fails the first upsertFailures upserts.
type flakyStore struct {
	*registry.MemStore
	upsertFailures int
}

func (s *flakyStore) Upsert(ctx context.Context, company string, c counterparty.Counterparty) (bool, error) {
	if s.upsertFailures > 0 {
		s.upsertFailures--
		return false, errors.New("disk full")
	}
	return s.MemStore.Upsert(ctx, company, c)
}

// scripted answers requests in order and records them. Once the script is
// exhausted it aborts.
type scripted struct {
	decisions []Decision
	requests  []*Request
}

func (s *scripted) Decide(_ context.Context, req *Request) (Decision, error) {
	s.requests = append(s.requests, req)
	if len(s.decisions) == 0 {
		return DecisionAbort, nil
	}
	d := s.decisions[0]
	s.decisions = s.decisions[1:]
	return d, nil
}

type harness struct {
	store       *registry.MemStore
	resolver    *fakeResolver
	normalizer  *fakeNormalizer
	filler      *fakeFiller
	transmitter *fakeTransmitter
	arbiter     *scripted
	progress    *ProgressReporter
}

func newHarness(t *testing.T, decisions ...Decision) *harness {
	t.Helper()
	return &harness{
		store:       registry.NewMemStore(),
		resolver:    newFakeResolver(),
		normalizer:  &fakeNormalizer{},
		filler:      &fakeFiller{dir: t.TempDir()},
		transmitter: newFakeTransmitter(),
		arbiter:     &scripted{decisions: decisions},
		progress:    NewProgressReporter(0),
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Store:       h.store,
		Resolver:    h.resolver,
		Normalizer:  h.normalizer,
		Filler:      h.filler,
		Transmitter: h.transmitter,
		Arbiter:     h.arbiter,
	}
}

func (h *harness) processor(t *testing.T, opts ...Option) *Processor {
	t.Helper()
	return h.processorWith(t, h.deps(), opts...)
}

func (h *harness) processorWith(t *testing.T, deps Deps, opts ...Option) *Processor {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow }), WithProgress(h.progress)}, opts...)
	p, err := New(testCompany(), deps, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// events closes the reporter and returns everything it buffered.
func (h *harness) events() []ProgressEvent {
	h.progress.Close()
	var out []ProgressEvent
	for ev := range h.progress.Subscribe() {
		out = append(out, ev)
	}
	return out
}

func org(taxID, name string) counterparty.Counterparty {
	return counterparty.Counterparty{TaxID: taxID, Name: name, KPP: "780101001"}
}
