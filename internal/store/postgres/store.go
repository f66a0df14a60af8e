// Package postgres implements core.CompanyStore on PostgreSQL using pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/JonMunkholm/companyimport/internal/core"
	"github.com/JonMunkholm/companyimport/internal/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const companyColumns = `id, owner_id, inn, name, full_name, spark_status, main_industry,
	company_size_final, organization_type, support_measures, special_status,
	confirmation_status, confirmed_at, confirmer_identifier, json_data, created_at, updated_at`

const upsertCompany = `
INSERT INTO companies (
	owner_id, inn, name, full_name, spark_status, main_industry, company_size_final,
	organization_type, support_measures, special_status, confirmation_status, confirmed_at, json_data
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (owner_id, inn) DO UPDATE SET
	name                = EXCLUDED.name,
	full_name           = EXCLUDED.full_name,
	spark_status        = EXCLUDED.spark_status,
	main_industry       = EXCLUDED.main_industry,
	company_size_final  = EXCLUDED.company_size_final,
	organization_type   = EXCLUDED.organization_type,
	support_measures    = EXCLUDED.support_measures,
	special_status      = EXCLUDED.special_status,
	confirmation_status = EXCLUDED.confirmation_status,
	confirmed_at        = CASE
		WHEN EXCLUDED.confirmed_at IS NULL THEN NULL
		ELSE COALESCE(companies.confirmed_at, EXCLUDED.confirmed_at)
	END,
	json_data           = EXCLUDED.json_data,
	updated_at          = now()
RETURNING ` + companyColumns + `, (xmax = 0) AS inserted`

// Store is a core.CompanyStore backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ core.CompanyStore = (*Store)(nil)

// New wraps an open pool. The caller owns the pool and closes it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the companies table and its indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate companies schema: %w", err)
	}
	return nil
}

// scanCompany reads one row selected with companyColumns (plus any extra dests).
func scanCompany(row pgx.Row, extra ...any) (*core.Company, error) {
	var (
		c    core.Company
		data []byte
	)
	dest := []any{
		&c.ID, &c.OwnerID, &c.INN, &c.Name, &c.FullName, &c.SparkStatus, &c.MainIndustry,
		&c.CompanySizeFinal, &c.OrganizationType, &c.SupportMeasures, &c.SpecialStatus,
		&c.ConfirmationStatus, &c.ConfirmedAt, &c.ConfirmerIdentifier, &data, &c.CreatedAt, &c.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if err := c.JSONData.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("decode json_data for company %d: %w", c.ID, err)
	}
	return &c, nil
}

func (s *Store) FindByOwnerAndINN(ctx context.Context, ownerID, inn int64) (*core.Company, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE owner_id = $1 AND inn = $2`, ownerID, inn)
	c, err := scanCompany(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find company by inn: %w", err)
	}
	return c, nil
}

// Transient transaction failures retried by CommitBatch.
const (
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
)

const maxCommitAttempts = 3

// isRetryable reports whether err aborted the transaction in a way that a
// fresh attempt can succeed.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeDeadlockDetected || pgErr.Code == codeSerializationFailure
}

// lockOrder returns record indexes sorted by INN. Upserting in this order
// makes concurrent batches of one owner take row locks in the same sequence.
func lockOrder(records []core.CanonicalRecord) []int {
	order := make([]int, len(records))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return records[order[a]].INN < records[order[b]].INN
	})
	return order
}

// CommitBatch upserts all records inside one transaction using a pipelined
// batch, retrying a bounded number of times on deadlock or serialization
// failure. Results follow the order of records.
func (s *Store) CommitBatch(ctx context.Context, ownerID int64, records []core.CanonicalRecord) ([]core.CommitResult, error) {
	if len(records) == 0 {
		return nil, nil
	}

	var err error
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		var results []core.CommitResult
		results, err = s.commitOnce(ctx, ownerID, records)
		if err == nil {
			return results, nil
		}
		if !isRetryable(err) || attempt == maxCommitAttempts {
			break
		}
		logging.FromContext(ctx).Warn("commit batch retrying",
			"attempt", attempt,
			"records", len(records),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}
	return nil, err
}

func (s *Store) commitOnce(ctx context.Context, ownerID int64, records []core.CanonicalRecord) ([]core.CommitResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	now := time.Now().UTC()
	order := lockOrder(records)
	batch := &pgx.Batch{}
	for _, i := range order {
		rec := records[i]
		data, err := rec.JSONData.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encode json_data for inn %s: %w", core.FormatINN(rec.INN), err)
		}
		status := rec.ConfirmationStatus
		if status == "" {
			status = core.StatusNotConfirmed
		}
		batch.Queue(upsertCompany,
			ownerID, rec.INN, rec.Name, rec.FullName, rec.SparkStatus, rec.MainIndustry,
			rec.CompanySizeFinal, rec.OrganizationType, rec.SupportMeasures, rec.SpecialStatus,
			status, core.ConfirmedAtFor(status, now), data,
		)
	}

	results := make([]core.CommitResult, len(records))
	br := tx.SendBatch(ctx, batch)
	for _, i := range order {
		var inserted bool
		c, err := scanCompany(br.QueryRow(), &inserted)
		if err != nil {
			br.Close()
			return nil, fmt.Errorf("upsert inn %s: %w", core.FormatINN(records[i].INN), err)
		}
		results[i] = core.CommitResult{Company: *c, Created: inserted}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return results, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]core.CompanySummary, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM companies WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count companies: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, inn, name, main_industry, company_size_final, confirmation_status, created_at, updated_at
		FROM companies
		WHERE owner_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	summaries := make([]core.CompanySummary, 0, limit)
	for rows.Next() {
		var cs core.CompanySummary
		if err := rows.Scan(&cs.ID, &cs.INN, &cs.Name, &cs.MainIndustry, &cs.CompanySizeFinal,
			&cs.ConfirmationStatus, &cs.CreatedAt, &cs.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan company summary: %w", err)
		}
		summaries = append(summaries, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list companies: %w", err)
	}
	return summaries, total, nil
}

func (s *Store) GetByID(ctx context.Context, ownerID, companyID int64) (*core.Company, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE id = $1 AND owner_id = $2`, companyID, ownerID)
	c, err := scanCompany(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get company %d: %w", companyID, err)
	}
	return c, nil
}

// UpdateCompany locks the row, applies the patch in Go and writes every mutable column back.
func (s *Store) UpdateCompany(ctx context.Context, ownerID, companyID int64, patch core.CompanyPatch) (*core.Company, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := scanCompany(tx.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE id = $1 AND owner_id = $2 FOR UPDATE`,
		companyID, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock company %d: %w", companyID, err)
	}

	c.Apply(patch, time.Now().UTC())

	_, err = tx.Exec(ctx, `
		UPDATE companies SET
			name = $3, full_name = $4, spark_status = $5, main_industry = $6,
			company_size_final = $7, organization_type = $8, support_measures = $9,
			special_status = $10, confirmation_status = $11, confirmed_at = $12,
			confirmer_identifier = $13, updated_at = $14
		WHERE id = $1 AND owner_id = $2`,
		c.ID, c.OwnerID, c.Name, c.FullName, c.SparkStatus, c.MainIndustry,
		c.CompanySizeFinal, c.OrganizationType, c.SupportMeasures,
		c.SpecialStatus, c.ConfirmationStatus, c.ConfirmedAt,
		c.ConfirmerIdentifier, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update company %d: %w", companyID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return c, nil
}

func (s *Store) ReplaceJSONData(ctx context.Context, ownerID, companyID int64, data core.RawRow) error {
	raw, err := data.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode json_data: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE companies SET json_data = $3, updated_at = now() WHERE id = $1 AND owner_id = $2`,
		companyID, ownerID, raw)
	if err != nil {
		return fmt.Errorf("replace json_data for company %d: %w", companyID, err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrCompanyNotFound
	}
	return nil
}

func (s *Store) DeleteCompany(ctx context.Context, ownerID, companyID int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM companies WHERE id = $1 AND owner_id = $2`, companyID, ownerID)
	if err != nil {
		return fmt.Errorf("delete company %d: %w", companyID, err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrCompanyNotFound
	}
	return nil
}
