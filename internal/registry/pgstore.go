package registry

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/dusk-indust/edoagree/internal/counterparty"
)

// PgStore implements Store on PostgreSQL. Uniqueness is enforced by the
// (company, tax_id) primary key.
type PgStore struct {
	DB *pgxpool.Pool
}

var _ Store = (*PgStore)(nil)

// NewPgStore connects a pool to dsn.
func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse dsn")
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PgStore{DB: pool}, nil
}

func (s *PgStore) Close() error {
	s.DB.Close()
	return nil
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS counterparties (
	company         TEXT NOT NULL,
	tax_id          TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	supplier        TEXT NOT NULL DEFAULT '',
	quantity        TEXT NOT NULL DEFAULT '',
	kpp             TEXT NOT NULL DEFAULT '',
	participant_id  TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT '',
	status_changed  TIMESTAMPTZ,
	operator_org_id TEXT NOT NULL DEFAULT '',
	operator_box_id TEXT NOT NULL DEFAULT '',
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company, tax_id)
)`

func (s *PgStore) InitSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, pgSchema)
	return eris.Wrap(err, "postgres: init schema")
}

const pgColumns = `tax_id, name, supplier, quantity, kpp, participant_id,
	status, status_changed, operator_org_id, operator_box_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanCounterparty(row scanner) (counterparty.Counterparty, error) {
	var c counterparty.Counterparty
	var changed *time.Time
	err := row.Scan(&c.TaxID, &c.Name, &c.Supplier, &c.Quantity, &c.KPP, &c.ParticipantID,
		&c.Status, &changed, &c.OperatorOrgID, &c.OperatorBoxID)
	if changed != nil {
		c.StatusChanged = changed.In(time.Local)
	}
	return c, err
}

func (s *PgStore) Get(ctx context.Context, company, taxID string) (*counterparty.Counterparty, error) {
	return getPg(ctx, s.DB, company, taxID, "")
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getPg(ctx context.Context, q pgQuerier, company, taxID, suffix string) (*counterparty.Counterparty, error) {
	c, err := scanCounterparty(q.QueryRow(ctx,
		`SELECT `+pgColumns+` FROM counterparties WHERE company=$1 AND tax_id=$2`+suffix, company, taxID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get")
	}
	return &c, nil
}

func (s *PgStore) Exists(ctx context.Context, company, taxID string) (bool, error) {
	var ok bool
	err := s.DB.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM counterparties WHERE company=$1 AND tax_id=$2)`,
		company, taxID).Scan(&ok)
	return ok, eris.Wrap(err, "postgres: exists")
}

func (s *PgStore) Insert(ctx context.Context, company string, c counterparty.Counterparty) error {
	if err := checkTaxID(c.TaxID); err != nil {
		return err
	}
	_, err := s.DB.Exec(ctx, `
INSERT INTO counterparties(company,`+pgColumns+`)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, pgArgs(company, c)...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return eris.Wrap(err, "postgres: insert")
}

func (s *PgStore) Upsert(ctx context.Context, company string, c counterparty.Counterparty) (bool, error) {
	if err := checkTaxID(c.TaxID); err != nil {
		return false, err
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx)

	existing, err := getPg(ctx, tx, company, c.TaxID, " FOR UPDATE")
	if err != nil {
		return false, err
	}
	if unchanged(existing, c) {
		return false, nil
	}
	if existing != nil {
		c = merge(*existing, c)
	}
	_, err = tx.Exec(ctx, `
INSERT INTO counterparties(company,`+pgColumns+`)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (company, tax_id) DO UPDATE SET
	name=$3, supplier=$4, quantity=$5, kpp=$6, participant_id=$7,
	status=$8, status_changed=$9, operator_org_id=$10, operator_box_id=$11,
	updated_at=now()`, pgArgs(company, c)...)
	if err != nil {
		return false, eris.Wrap(err, "postgres: upsert")
	}
	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "postgres: commit")
	}
	return true, nil
}

func pgArgs(company string, c counterparty.Counterparty) []any {
	var changed *time.Time
	if !c.StatusChanged.IsZero() {
		t := c.StatusChanged
		changed = &t
	}
	return []any{company, c.TaxID, c.Name, c.Supplier, c.Quantity, c.KPP, c.ParticipantID,
		c.Status, changed, c.OperatorOrgID, c.OperatorBoxID}
}

func (s *PgStore) List(ctx context.Context, company string) ([]counterparty.Counterparty, error) {
	return s.list(ctx, `SELECT `+pgColumns+` FROM counterparties WHERE company=$1 ORDER BY tax_id`, company)
}

// ListChanged compares calendar days in the session time zone.
func (s *PgStore) ListChanged(ctx context.Context, company string, from, to time.Time) ([]counterparty.Counterparty, error) {
	rows, err := s.list(ctx, `SELECT `+pgColumns+` FROM counterparties
WHERE company=$1 AND status_changed IS NOT NULL
  AND status_changed >= $2 AND status_changed < $3
ORDER BY tax_id`, company, truncateDay(from), truncateDay(to).AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	return filterChanged(rows, from, to), nil
}

func (s *PgStore) list(ctx context.Context, sql string, args ...any) ([]counterparty.Counterparty, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list")
	}
	defer rows.Close()
	var out []counterparty.Counterparty
	for rows.Next() {
		c, err := scanCounterparty(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: rows")
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
