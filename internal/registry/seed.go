package registry

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/dusk-indust/edoagree/internal/counterparty"
)

// Counts summarizes a Seed or Reconcile pass.
type Counts struct {
	Added int
	// Invalid rows carry a tax ID of the wrong length and are never stored.
	Invalid int
}

// Seed creates or extends a company registry from a listing, keeping only
// the name, tax ID and registration code of each row. Existing records are
// left as they are.
func Seed(ctx context.Context, store Store, company string, rows []counterparty.Counterparty) (Counts, error) {
	slim := make([]counterparty.Counterparty, 0, len(rows))
	for _, r := range rows {
		slim = append(slim, counterparty.Counterparty{TaxID: r.TaxID, Name: r.Name, KPP: r.KPP})
	}
	return Reconcile(ctx, store, company, slim)
}

// Reconcile inserts every row whose tax ID is not yet registered. Repeated
// tax IDs in rows are inserted once, first occurrence winning. Rows whose
// tax ID does not classify are counted and skipped.
func Reconcile(ctx context.Context, store Store, company string, rows []counterparty.Counterparty) (Counts, error) {
	var n Counts
	for _, r := range rows {
		if r.TaxID == "" {
			continue
		}
		if _, err := counterparty.Classify(r.TaxID); err != nil {
			n.Invalid++
			continue
		}
		err := store.Insert(ctx, company, r)
		if errors.Is(err, ErrDuplicate) {
			continue
		}
		if err != nil {
			return n, eris.Wrapf(err, "registry: reconcile %s", r.TaxID)
		}
		n.Added++
	}
	return n, nil
}
// Delta returns the rows whose tax ID is absent from the registry, in
// listing order and without repeats.
func Delta(ctx context.Context, store Store, company string, rows []counterparty.Counterparty) ([]counterparty.Counterparty, error) {
	seen := make(map[string]bool, len(rows))
	var out []counterparty.Counterparty
	for _, r := range rows {
		if r.TaxID == "" || seen[r.TaxID] {
			continue
		}
		seen[r.TaxID] = true
		ok, err := store.Exists(ctx, company, r.TaxID)
		if err != nil {
			return nil, eris.Wrapf(err, "registry: delta %s", r.TaxID)
		}
		if !ok {
			out = append(out, r)
		}
	}
	return out, nil
}
