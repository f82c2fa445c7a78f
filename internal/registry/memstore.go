package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dusk-indust/edoagree/internal/counterparty"
)

// Compile-time assertion: *MemStore satisfies Store.
var _ Store = (*MemStore)(nil)

// MemStore implements Store using Go maps. Thread-safe via sync.RWMutex.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]counterparty.Counterparty // key: "company:taxID"
}

// NewMemStore returns an initialized MemStore ready for use.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]counterparty.Counterparty)}
}

func recordKey(company, taxID string) string {
	return company + ":" + taxID
}

// InitSchema is a no-op for the in-memory store.
func (m *MemStore) InitSchema(_ context.Context) error { return nil }

func (m *MemStore) Get(_ context.Context, company, taxID string) (*counterparty.Counterparty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.records[recordKey(company, taxID)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MemStore) Exists(ctx context.Context, company, taxID string) (bool, error) {
	c, err := m.Get(ctx, company, taxID)
	return c != nil, err
}

func (m *MemStore) Insert(_ context.Context, company string, c counterparty.Counterparty) error {
	if err := checkTaxID(c.TaxID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey(company, c.TaxID)
	if _, ok := m.records[key]; ok {
		return ErrDuplicate
	}
	m.records[key] = c
	return nil
}

func (m *MemStore) Upsert(_ context.Context, company string, c counterparty.Counterparty) (bool, error) {
	if err := checkTaxID(c.TaxID); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey(company, c.TaxID)
	existing, ok := m.records[key]
	if !ok {
		m.records[key] = c
		return true, nil
	}
	if unchanged(&existing, c) {
		return false, nil
	}
	m.records[key] = merge(existing, c)
	return true, nil
}

func (m *MemStore) List(_ context.Context, company string) ([]counterparty.Counterparty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := company + ":"
	var out []counterparty.Counterparty
	for k, c := range m.records {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaxID < out[j].TaxID })
	return out, nil
}

func (m *MemStore) ListChanged(ctx context.Context, company string, from, to time.Time) ([]counterparty.Counterparty, error) {
	all, err := m.List(ctx, company)
	if err != nil {
		return nil, err
	}
	return filterChanged(all, from, to), nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error { return nil }
