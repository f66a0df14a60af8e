// Package sqlite implements core.CompanyStore on SQLite through database/sql
// and mattn/go-sqlite3. It serves single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/companyimport/internal/core"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

const companyColumns = `id, owner_id, inn, name, full_name, spark_status, main_industry,
	company_size_final, organization_type, support_measures, special_status,
	confirmation_status, confirmed_at, confirmer_identifier, json_data, created_at, updated_at`

// Store is a core.CompanyStore backed by a SQLite database.
type Store struct {
	db *sql.DB
}

var _ core.CompanyStore = (*Store)(nil)

// Open opens (creating if needed) the database at dsn. Use ":memory:" for a
// throwaway database. The pool is limited to one connection: SQLite allows a
// single writer and every :memory: connection would otherwise be a separate database.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the companies table and its indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate companies schema: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCompany(row scanner) (*core.Company, error) {
	var (
		c    core.Company
		data string
	)
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.INN, &c.Name, &c.FullName, &c.SparkStatus, &c.MainIndustry,
		&c.CompanySizeFinal, &c.OrganizationType, &c.SupportMeasures, &c.SpecialStatus,
		&c.ConfirmationStatus, &c.ConfirmedAt, &c.ConfirmerIdentifier, &data, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := c.JSONData.UnmarshalJSON([]byte(data)); err != nil {
		return nil, fmt.Errorf("decode json_data for company %d: %w", c.ID, err)
	}
	return &c, nil
}

func selectCompany(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, ownerID, companyID int64) (*core.Company, error) {
	c, err := scanCompany(q.QueryRowContext(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE id = ? AND owner_id = ?`, companyID, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get company %d: %w", companyID, err)
	}
	return c, nil
}

func (s *Store) FindByOwnerAndINN(ctx context.Context, ownerID, inn int64) (*core.Company, error) {
	c, err := scanCompany(s.db.QueryRowContext(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE owner_id = ? AND inn = ?`, ownerID, inn))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find company by inn: %w", err)
	}
	return c, nil
}

// CommitBatch upserts all records in one transaction. An existing row is
// detected in the transaction before writing, so Created is exact.
func (s *Store) CommitBatch(ctx context.Context, ownerID int64, records []core.CanonicalRecord) ([]core.CommitResult, error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // No-op if already committed

	lookup, err := tx.PrepareContext(ctx,
		`SELECT id, confirmed_at FROM companies WHERE owner_id = ? AND inn = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare lookup: %w", err)
	}
	defer lookup.Close()

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO companies (
			owner_id, inn, name, full_name, spark_status, main_industry, company_size_final,
			organization_type, support_measures, special_status, confirmation_status,
			confirmed_at, json_data, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()

	update, err := tx.PrepareContext(ctx, `
		UPDATE companies SET
			name = ?, full_name = ?, spark_status = ?, main_industry = ?, company_size_final = ?,
			organization_type = ?, support_measures = ?, special_status = ?, confirmation_status = ?,
			confirmed_at = ?, json_data = ?, updated_at = ?
		WHERE id = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare update: %w", err)
	}
	defer update.Close()

	now := time.Now().UTC()
	ids := make([]int64, 0, len(records))
	created := make([]bool, 0, len(records))

	for _, rec := range records {
		data, err := rec.JSONData.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encode json_data for inn %s: %w", core.FormatINN(rec.INN), err)
		}
		status := rec.ConfirmationStatus
		if status == "" {
			status = core.StatusNotConfirmed
		}

		var (
			id          int64
			confirmedAt *time.Time
		)
		err = lookup.QueryRowContext(ctx, ownerID, rec.INN).Scan(&id, &confirmedAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := insert.ExecContext(ctx,
				ownerID, rec.INN, rec.Name, rec.FullName, rec.SparkStatus, rec.MainIndustry,
				rec.CompanySizeFinal, rec.OrganizationType, rec.SupportMeasures, rec.SpecialStatus,
				string(status), core.ConfirmedAtFor(status, now), string(data), now, now)
			if err != nil {
				return nil, fmt.Errorf("insert inn %s: %w", core.FormatINN(rec.INN), err)
			}
			if id, err = res.LastInsertId(); err != nil {
				return nil, fmt.Errorf("insert inn %s: %w", core.FormatINN(rec.INN), err)
			}
			created = append(created, true)

		case err != nil:
			return nil, fmt.Errorf("lookup inn %s: %w", core.FormatINN(rec.INN), err)

		default:
			switch {
			case status == core.StatusNotConfirmed:
				confirmedAt = nil
			case confirmedAt == nil:
				confirmedAt = core.ConfirmedAtFor(status, now)
			}
			if _, err := update.ExecContext(ctx,
				rec.Name, rec.FullName, rec.SparkStatus, rec.MainIndustry, rec.CompanySizeFinal,
				rec.OrganizationType, rec.SupportMeasures, rec.SpecialStatus, string(status),
				confirmedAt, string(data), now, id); err != nil {
				return nil, fmt.Errorf("update inn %s: %w", core.FormatINN(rec.INN), err)
			}
			created = append(created, false)
		}
		ids = append(ids, id)
	}

	results := make([]core.CommitResult, 0, len(records))
	for i, id := range ids {
		c, err := selectCompany(ctx, tx, ownerID, id)
		if err != nil {
			return nil, err
		}
		results = append(results, core.CommitResult{Company: *c, Created: created[i]})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return results, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]core.CompanySummary, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM companies WHERE owner_id = ?`, ownerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count companies: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, inn, name, main_industry, company_size_final, confirmation_status, created_at, updated_at
		FROM companies
		WHERE owner_id = ?
		ORDER BY id DESC
		LIMIT ? OFFSET ?`, ownerID, limit, offset)
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
	return selectCompany(ctx, s.db, ownerID, companyID)
}

func (s *Store) UpdateCompany(ctx context.Context, ownerID, companyID int64, patch core.CompanyPatch) (*core.Company, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	c, err := selectCompany(ctx, tx, ownerID, companyID)
	if err != nil {
		return nil, err
	}

	c.Apply(patch, time.Now().UTC())

	_, err = tx.ExecContext(ctx, `
		UPDATE companies SET
			name = ?, full_name = ?, spark_status = ?, main_industry = ?,
			company_size_final = ?, organization_type = ?, support_measures = ?,
			special_status = ?, confirmation_status = ?, confirmed_at = ?,
			confirmer_identifier = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?`,
		c.Name, c.FullName, c.SparkStatus, c.MainIndustry,
		c.CompanySizeFinal, c.OrganizationType, c.SupportMeasures,
		c.SpecialStatus, string(c.ConfirmationStatus), c.ConfirmedAt,
		c.ConfirmerIdentifier, c.UpdatedAt, c.ID, c.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("update company %d: %w", companyID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return c, nil
}

func (s *Store) ReplaceJSONData(ctx context.Context, ownerID, companyID int64, data core.RawRow) error {
	raw, err := data.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode json_data: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE companies SET json_data = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		string(raw), time.Now().UTC(), companyID, ownerID)
	if err != nil {
		return fmt.Errorf("replace json_data for company %d: %w", companyID, err)
	}
	return requireAffected(res)
}

func (s *Store) DeleteCompany(ctx context.Context, ownerID, companyID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM companies WHERE id = ? AND owner_id = ?`, companyID, ownerID)
	if err != nil {
		return fmt.Errorf("delete company %d: %w", companyID, err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrCompanyNotFound
	}
	return nil
}
