// Package core provides the business logic for company CSV ingestion.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// RawRow is a single CSV data row keyed by the header as it appeared in the file.
// Headers and Values are parallel slices; column order is preserved so the row
// can be stored and returned verbatim.
type RawRow struct {
	Headers []string
	Values  []string
}

// Get returns the value stored under header, or "" if the header is absent.
func (r RawRow) Get(header string) string {
	for i, h := range r.Headers {
		if h == header {
			return r.cell(i)
		}
	}
	return ""
}

// cell returns the value at position i, tolerating short rows.
func (r RawRow) cell(i int) string {
	if i < 0 || i >= len(r.Values) {
		return ""
	}
	return r.Values[i]
}

// MarshalJSON encodes the row as a JSON object whose keys keep file column order.
func (r RawRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, h := range r.Headers {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := marshalNoEscape(h)
		if err != nil {
			return nil, err
		}
		v, err := marshalNoEscape(r.cell(i))
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object, preserving key order.
// Scalar non-string values keep their JSON literal text; null becomes "".
// Repeated keys are rejected.
func (r *RawRow) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json data: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("json data: expected object")
	}

	row := RawRow{}
	seen := make(map[string]bool)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json data: %w", err)
		}
		key, _ := keyTok.(string)
		if seen[key] {
			return fmt.Errorf("json data: duplicate key %q", key)
		}
		seen[key] = true

		valTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json data: %w", err)
		}

		var val string
		switch v := valTok.(type) {
		case string:
			val = v
		case json.Number:
			val = v.String()
		case bool:
			val = fmt.Sprintf("%t", v)
		case nil:
			val = ""
		default:
			return fmt.Errorf("json data: nested value for key %q is not supported", key)
		}

		row.Headers = append(row.Headers, key)
		row.Values = append(row.Values, val)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("json data: %w", err)
	}

	*r = row
	return nil
}

// marshalNoEscape encodes v without HTML escaping so Cyrillic and symbols stay readable.
func marshalNoEscape(v string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ConfirmationStatus is the verification state of a company record.
type ConfirmationStatus string

const (
	StatusConfirmed     ConfirmationStatus = "Подтверждён"
	StatusUserConfirmed ConfirmationStatus = "Подтверждён пользователем"
	StatusNotConfirmed  ConfirmationStatus = "Не подтверждён"
)

// Valid reports whether s is one of the known statuses.
func (s ConfirmationStatus) Valid() bool {
	switch s {
	case StatusConfirmed, StatusUserConfirmed, StatusNotConfirmed:
		return true
	}
	return false
}

// CanonicalRecord is the normalized projection of a RawRow.
// Nullable fields use pgtype values with Valid=false for NULL.
type CanonicalRecord struct {
	INN                int64              `json:"inn"`
	Name               pgtype.Text        `json:"name"`
	FullName           pgtype.Text        `json:"full_name"`
	SparkStatus        pgtype.Text        `json:"spark_status"`
	MainIndustry       pgtype.Text        `json:"main_industry"`
	CompanySizeFinal   pgtype.Text        `json:"company_size_final"`
	OrganizationType   pgtype.Text        `json:"organization_type"`
	SupportMeasures    pgtype.Bool        `json:"support_measures"`
	SpecialStatus      pgtype.Text        `json:"special_status"`
	ConfirmationStatus ConfirmationStatus `json:"confirmation_status"`
	JSONData           RawRow             `json:"-"`
}

// Company is a persisted CanonicalRecord owned by a single user.
// (OwnerID, INN) is unique.
type Company struct {
	ID      int64 `json:"id"`
	OwnerID int64 `json:"owner_id"`
	CanonicalRecord
	ConfirmedAt         *time.Time  `json:"confirmed_at"`
	ConfirmerIdentifier pgtype.Text `json:"confirmer_identifier"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// CompanySummary is the listing projection of a Company.
type CompanySummary struct {
	ID                 int64              `json:"id"`
	INN                int64              `json:"inn"`
	Name               string             `json:"name"`
	MainIndustry       pgtype.Text        `json:"main_industry"`
	CompanySizeFinal   pgtype.Text        `json:"company_size_final"`
	ConfirmationStatus ConfirmationStatus `json:"confirmation_status"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// CompanyPatch holds a partial update; nil fields are left unchanged.
type CompanyPatch struct {
	Name                *string             `json:"name"`
	FullName            *string             `json:"full_name"`
	SparkStatus         *string             `json:"spark_status"`
	MainIndustry        *string             `json:"main_industry"`
	CompanySizeFinal    *string             `json:"company_size_final"`
	OrganizationType    *string             `json:"organization_type"`
	SupportMeasures     *bool               `json:"support_measures"`
	SpecialStatus       *string             `json:"special_status"`
	ConfirmationStatus  *ConfirmationStatus `json:"confirmation_status"`
	ConfirmerIdentifier *string             `json:"confirmer_identifier"`
}

// Empty reports whether the patch changes nothing.
func (p CompanyPatch) Empty() bool {
	return p.Name == nil && p.FullName == nil && p.SparkStatus == nil &&
		p.MainIndustry == nil && p.CompanySizeFinal == nil && p.OrganizationType == nil &&
		p.SupportMeasures == nil && p.SpecialStatus == nil && p.ConfirmationStatus == nil &&
		p.ConfirmerIdentifier == nil
}

// Apply writes the non-nil patch fields onto c. Text fields go through
// CoerceText, so a blank value clears the column. Moving into a confirmed
// status stamps ConfirmedAt with now; moving back to StatusNotConfirmed clears it.
func (c *Company) Apply(p CompanyPatch, now time.Time) {
	text := func(dst *pgtype.Text, v *string) {
		if v != nil {
			*dst = CoerceText(*v)
		}
	}
	text(&c.Name, p.Name)
	text(&c.FullName, p.FullName)
	text(&c.SparkStatus, p.SparkStatus)
	text(&c.MainIndustry, p.MainIndustry)
	text(&c.CompanySizeFinal, p.CompanySizeFinal)
	text(&c.OrganizationType, p.OrganizationType)
	text(&c.SpecialStatus, p.SpecialStatus)
	text(&c.ConfirmerIdentifier, p.ConfirmerIdentifier)

	if p.SupportMeasures != nil {
		c.SupportMeasures = pgtype.Bool{Bool: *p.SupportMeasures, Valid: true}
	}

	if p.ConfirmationStatus != nil && *p.ConfirmationStatus != c.ConfirmationStatus {
		c.ConfirmationStatus = *p.ConfirmationStatus
		if c.ConfirmationStatus == StatusNotConfirmed {
			c.ConfirmedAt = nil
		} else {
			t := now
			c.ConfirmedAt = &t
		}
	}
	c.UpdatedAt = now
}

// ConfirmedAtFor returns the confirmation timestamp a freshly ingested record
// should carry: now for a confirmed status, nil otherwise.
func ConfirmedAtFor(status ConfirmationStatus, now time.Time) *time.Time {
	if status == "" || status == StatusNotConfirmed {
		return nil
	}
	return &now
}

// CommitResult is the outcome of one upserted record.
type CommitResult struct {
	Company Company
	Created bool // false when an existing (owner, inn) row was updated
}

// CompanyStore is the persistence boundary for companies.
// Implementations must enforce (owner_id, inn) uniqueness and make CommitBatch atomic.
type CompanyStore interface {
	// FindByOwnerAndINN returns nil, nil when no company exists.
	FindByOwnerAndINN(ctx context.Context, ownerID, inn int64) (*Company, error)

	// CommitBatch upserts all records in one transaction, in order.
	// Existing rows keep their id and created_at.
	CommitBatch(ctx context.Context, ownerID int64, records []CanonicalRecord) ([]CommitResult, error)

	ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]CompanySummary, int, error)

	// GetByID returns ErrCompanyNotFound when the company is absent or not owned by ownerID.
	GetByID(ctx context.Context, ownerID, companyID int64) (*Company, error)

	UpdateCompany(ctx context.Context, ownerID, companyID int64, patch CompanyPatch) (*Company, error)
	ReplaceJSONData(ctx context.Context, ownerID, companyID int64, data RawRow) error
	DeleteCompany(ctx context.Context, ownerID, companyID int64) error
}

// Upload is a single file submitted for ingestion.
type Upload struct {
	Data     []byte
	FileName string
	OwnerID  int64
}

// SkipReason is a machine-readable row rejection reason.
type SkipReason string

const (
	ReasonInvalidINN       SkipReason = "InvalidINN"
	ReasonMissingName      SkipReason = "MissingName"
	ReasonDuplicate        SkipReason = "Duplicate"
	ReasonSupersededInFile SkipReason = "SupersededInFile"
)

// RowRejection records a row that was not saved.
// RowIndex is 1-based and excludes the header.
type RowRejection struct {
	RowIndex int        `json:"row_index"`
	INN      string     `json:"inn,omitempty"`
	Reason   SkipReason `json:"reason"`
	Detail   string     `json:"detail,omitempty"`
}

// SaveAction tells whether a saved company was created or updated.
type SaveAction string

const (
	ActionCreated SaveAction = "created"
	ActionUpdated SaveAction = "updated"
)

// SavedCompany identifies a company written by an ingestion.
type SavedCompany struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	INN  int64  `json:"inn"`
	// INNText is INN as printed in the registry, leading zeros included.
	INNText string     `json:"inn_text"`
	Action  SaveAction `json:"action"`
}

// IngestionResult summarizes one ingested file.
// Processed == Saved + len(Skipped).
type IngestionResult struct {
	UploadID       string         `json:"upload_id"`
	FileName       string         `json:"file_name"`
	SizeBytes      int            `json:"size_bytes"`
	Encoding       string         `json:"encoding"`
	Delimiter      string         `json:"delimiter"`
	Processed      int            `json:"processed_count"`
	Saved          int            `json:"saved_count"`
	Created        int            `json:"created_count"`
	Updated        int            `json:"updated_count"`
	Skipped        []RowRejection `json:"skipped"`
	SavedCompanies []SavedCompany `json:"saved"`
	Duration       time.Duration  `json:"duration_ns"`
}

// SkipCounts returns the number of skipped rows per reason.
func (r *IngestionResult) SkipCounts() map[SkipReason]int {
	counts := make(map[SkipReason]int)
	for _, s := range r.Skipped {
		counts[s.Reason]++
	}
	return counts
}
