// Package registry persists the per-company set of counterparties that
// have been offered an agreement. Records are keyed by (company, tax ID)
// and never deleted.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dusk-indust/edoagree/internal/counterparty"
)

// ErrDuplicate is returned by Insert when the tax ID is already registered
// for the company.
var ErrDuplicate = errors.New("registry: tax ID already registered")

// ErrInvalidTaxID is returned by Insert and Upsert for a tax ID that is
// neither an organization's nor a sole proprietor's.
var ErrInvalidTaxID = errors.New("registry: invalid tax ID")

func checkTaxID(taxID string) error {
	if _, err := counterparty.Classify(taxID); err != nil {
		return fmt.Errorf("%w %q", ErrInvalidTaxID, taxID)
	}
	return nil
}

// Store abstracts the registry backend.
type Store interface {
	io.Closer

	// Schema setup, called once before use. Idempotent.
	InitSchema(ctx context.Context) error

	// Get returns the record for taxID, or nil when absent.
	Get(ctx context.Context, company, taxID string) (*counterparty.Counterparty, error)
	Exists(ctx context.Context, company, taxID string) (bool, error)

	// Insert adds a new record. It fails with ErrDuplicate if the tax ID
	// is taken and with ErrInvalidTaxID if it has the wrong length.
	Insert(ctx context.Context, company string, c counterparty.Counterparty) error

	// Upsert creates or updates a record. Non-empty fields of c overwrite
	// stored ones. When the stored status already equals c.Status the
	// record is left untouched and changed is false. Malformed tax IDs
	// fail with ErrInvalidTaxID.
	Upsert(ctx context.Context, company string, c counterparty.Counterparty) (changed bool, err error)

	// List returns all records of a company ordered by tax ID.
	List(ctx context.Context, company string) ([]counterparty.Counterparty, error)

	// ListChanged returns records whose status-change date lies in the
	// inclusive day range [from, to].
	ListChanged(ctx context.Context, company string, from, to time.Time) ([]counterparty.Counterparty, error)
}

// merge overlays the non-empty fields of update onto existing.
func merge(existing, update counterparty.Counterparty) counterparty.Counterparty {
	out := existing
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&out.Name, update.Name)
	set(&out.Supplier, update.Supplier)
	set(&out.Quantity, update.Quantity)
	set(&out.KPP, update.KPP)
	set(&out.ParticipantID, update.ParticipantID)
	set(&out.Status, update.Status)
	set(&out.OperatorOrgID, update.OperatorOrgID)
	set(&out.OperatorBoxID, update.OperatorBoxID)
	if !update.StatusChanged.IsZero() {
		out.StatusChanged = update.StatusChanged
	}
	return out
}

// unchanged reports whether an upsert of update onto existing is a no-op
// under the (tax ID, status) idempotence rule.
func unchanged(existing *counterparty.Counterparty, update counterparty.Counterparty) bool {
	return existing != nil && update.Status != "" && existing.Status == update.Status
}

func filterChanged(all []counterparty.Counterparty, from, to time.Time) []counterparty.Counterparty {
	var out []counterparty.Counterparty
	for _, c := range all {
		if c.ChangedWithin(from, to) {
			out = append(out, c)
		}
	}
	return out
}
