package conversion

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nhcx/fhir-converter/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres-backed Repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const recordCols = `id, hl7_hash, raw_hl7, fhir_json, status, error_message, created_at`

func (r *repoPG) scanRow(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.HL7Hash, &rec.RawHL7, &rec.FHIRJSON,
		&rec.Status, &rec.ErrorMessage, &rec.CreatedAt)
	return &rec, err
}

// Create inserts one attempt row. ON CONFLICT DO NOTHING keeps the first
// record for a hash when two identical payloads race; callers re-read to
// observe the surviving row.
func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO conversion_records (id, hl7_hash, raw_hl7, fhir_json, status, error_message)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (hl7_hash) DO NOTHING`,
		rec.ID, rec.HL7Hash, rec.RawHL7, rec.FHIRJSON, rec.Status, rec.ErrorMessage)
	return err
}

func (r *repoPG) GetByHash(ctx context.Context, hash string) (*Record, error) {
	rec, err := r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM conversion_records WHERE hl7_hash = $1`, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns a page of records newest first along with the total row
// count. The count and the page run in one repeatable-read transaction so
// both see a single snapshot; at read committed each statement gets its own
// snapshot and the total could drift from the page under concurrent inserts.
func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	if tx := db.TxFromContext(ctx); tx != nil {
		return r.list(ctx, tx, limit, offset)
	}

	var beginner interface {
		BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error)
	} = r.pool
	if c := db.ConnFromContext(ctx); c != nil {
		beginner = c
	}
	tx, err := beginner.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback(ctx)

	items, total, err := r.list(ctx, tx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) list(ctx context.Context, q queryable, limit, offset int) ([]*Record, int, error) {
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM conversion_records`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx,
		`SELECT `+recordCols+` FROM conversion_records ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Record
	for rows.Next() {
		rec, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
