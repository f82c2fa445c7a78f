//go:build cgo

package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	kuzu "github.com/kuzudb/go-kuzu"
	"github.com/rotisserie/eris"

	"github.com/dusk-indust/edoagree/internal/counterparty"
)

// KuzuStore implements Store on an embedded KuzuDB database. The node
// primary key is "company:taxID", which enforces uniqueness per company.
// It requires CGO because the go-kuzu driver wraps KuzuDB's C library.
type KuzuStore struct {
	mu   sync.Mutex
	db   *kuzu.Database
	conn *kuzu.Connection
}

// Compile-time check that KuzuStore satisfies Store.
var _ Store = (*KuzuStore)(nil)

// NewKuzuStore creates a KuzuStore backed by an in-memory KuzuDB instance.
func NewKuzuStore() (*KuzuStore, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileStore opens (or creates) a persistent registry at dbPath.
// KuzuDB creates the leaf directory itself.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, eris.Wrap(err, "kuzu: create parent directory")
	}
	return openKuzu(dbPath)
}

func openKuzu(path string) (*KuzuStore, error) {
	cfg := kuzu.DefaultSystemConfig()
	db, err := kuzu.OpenDatabase(path, cfg)
	if err != nil {
		return nil, eris.Wrapf(err, "kuzu: open database %s", path)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "kuzu: open connection")
	}
	return &KuzuStore{db: db, conn: conn}, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// ---------- Schema setup ----------

const counterpartyDDL = `CREATE NODE TABLE IF NOT EXISTS Counterparty(
	key STRING,
	company STRING,
	tax_id STRING,
	name STRING,
	supplier STRING,
	quantity STRING,
	kpp STRING,
	participant_id STRING,
	status STRING,
	status_changed STRING,
	operator_org_id STRING,
	operator_box_id STRING,
	PRIMARY KEY(key)
)`

// InitSchema creates the Counterparty node table if it does not exist.
func (s *KuzuStore) InitSchema(_ context.Context) error {
	res, err := s.conn.Query(counterpartyDDL)
	if err != nil {
		return eris.Wrap(err, "kuzu: init schema")
	}
	res.Close()
	return nil
}

// ---------- Reads ----------

const returnColumns = `c.tax_id, c.name, c.supplier, c.quantity, c.kpp, c.participant_id,
	c.status, c.status_changed, c.operator_org_id, c.operator_box_id`

func (s *KuzuStore) Get(_ context.Context, company, taxID string) (*counterparty.Counterparty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(company, taxID)
}

func (s *KuzuStore) get(company, taxID string) (*counterparty.Counterparty, error) {
	rows, err := s.query(
		"MATCH (c:Counterparty {key: $key}) RETURN "+returnColumns,
		map[string]any{"key": recordKey(company, taxID)},
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	c := rowToCounterparty(rows[0])
	return &c, nil
}

func (s *KuzuStore) Exists(ctx context.Context, company, taxID string) (bool, error) {
	c, err := s.Get(ctx, company, taxID)
	return c != nil, err
}

func (s *KuzuStore) List(_ context.Context, company string) ([]counterparty.Counterparty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.query(
		"MATCH (c:Counterparty) WHERE c.company = $company RETURN "+returnColumns+" ORDER BY c.tax_id",
		map[string]any{"company": company},
	)
	if err != nil {
		return nil, err
	}
	out := make([]counterparty.Counterparty, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToCounterparty(r))
	}
	return out, nil
}

// ListChanged filters in Go: status dates are stored as text so rows
// written by older tools with free-form dates still load.
func (s *KuzuStore) ListChanged(ctx context.Context, company string, from, to time.Time) ([]counterparty.Counterparty, error) {
	all, err := s.List(ctx, company)
	if err != nil {
		return nil, err
	}
	return filterChanged(all, from, to), nil
}

// ---------- Writes ----------

func (s *KuzuStore) Insert(_ context.Context, company string, c counterparty.Counterparty) error {
	if err := checkTaxID(c.TaxID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.get(company, c.TaxID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicate
	}
	return s.exec(`CREATE (c:Counterparty {
			key: $key, company: $company, tax_id: $tax_id, name: $name,
			supplier: $supplier, quantity: $quantity, kpp: $kpp,
			participant_id: $participant_id, status: $status,
			status_changed: $status_changed, operator_org_id: $org_id,
			operator_box_id: $box_id
		})`, params(company, c))
}

func (s *KuzuStore) Upsert(_ context.Context, company string, c counterparty.Counterparty) (bool, error) {
	if err := checkTaxID(c.TaxID); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.get(company, c.TaxID)
	if err != nil {
		return false, err
	}
	if unchanged(existing, c) {
		return false, nil
	}
	if existing != nil {
		c = merge(*existing, c)
	}
	err = s.exec(`MERGE (c:Counterparty {key: $key})
		SET c.company = $company, c.tax_id = $tax_id, c.name = $name,
			c.supplier = $supplier, c.quantity = $quantity, c.kpp = $kpp,
			c.participant_id = $participant_id, c.status = $status,
			c.status_changed = $status_changed, c.operator_org_id = $org_id,
			c.operator_box_id = $box_id`, params(company, c))
	return err == nil, err
}

func params(company string, c counterparty.Counterparty) map[string]any {
	return map[string]any{
		"key":            recordKey(company, c.TaxID),
		"company":        company,
		"tax_id":         c.TaxID,
		"name":           c.Name,
		"supplier":       c.Supplier,
		"quantity":       c.Quantity,
		"kpp":            c.KPP,
		"participant_id": c.ParticipantID,
		"status":         c.Status,
		"status_changed": counterparty.FormatStatusDate(c.StatusChanged),
		"org_id":         c.OperatorOrgID,
		"box_id":         c.OperatorBoxID,
	}
}

// rowToCounterparty converts a result row in returnColumns order.
func rowToCounterparty(r []any) counterparty.Counterparty {
	c := counterparty.Counterparty{
		TaxID:         toString(r[0]),
		Name:          toString(r[1]),
		Supplier:      toString(r[2]),
		Quantity:      toString(r[3]),
		KPP:           toString(r[4]),
		ParticipantID: toString(r[5]),
		Status:        toString(r[6]),
		OperatorOrgID: toString(r[8]),
		OperatorBoxID: toString(r[9]),
	}
	c.StatusChanged, _ = counterparty.ParseStatusDate(toString(r[7]))
	return c
}

// ---------- Query helpers ----------

func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return eris.Wrap(err, "kuzu: prepare")
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return eris.Wrap(err, "kuzu: execute")
	}
	res.Close()
	return nil
}

// query runs a parameterized Cypher statement and collects all result rows.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return nil, eris.Wrap(err, "kuzu: prepare")
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return nil, eris.Wrap(err, "kuzu: query")
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, eris.Wrap(err, "kuzu: next")
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, eris.Wrap(err, "kuzu: row values")
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
