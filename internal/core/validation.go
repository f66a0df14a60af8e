package core

// validation.go turns a RawRow into a CanonicalRecord or a RowRejection.
//
// Only the two load-bearing fields can reject a row:
//  1. inn: missing, non-numeric or not 10/12 digits -> InvalidINN
//  2. name: missing or blank -> MissingName
//
// Every other field is best effort; a value that cannot be coerced is stored as NULL.

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

// RowValidator validates rows of one file against a resolved header index.
type RowValidator struct {
	headerIdx      HeaderIndex
	verifyChecksum bool
}

// NewRowValidator creates a validator for a file whose headers resolved to headerIdx.
// When verifyChecksum is set, INNs must also pass the FNS control digit check.
func NewRowValidator(headerIdx HeaderIndex, verifyChecksum bool) *RowValidator {
	return &RowValidator{
		headerIdx:      headerIdx,
		verifyChecksum: verifyChecksum,
	}
}

// Validate converts row into a CanonicalRecord. rowIndex is recorded on rejection.
// The returned record's JSONData is row itself.
func (v *RowValidator) Validate(rowIndex int, row RawRow) (CanonicalRecord, *RowRejection) {
	rec := CanonicalRecord{
		ConfirmationStatus: StatusNotConfirmed,
		JSONData:           row,
	}

	rawINN := v.value(row, FieldINN)
	inn, err := v.coerceINN(rawINN)
	if err != nil {
		return CanonicalRecord{}, &RowRejection{
			RowIndex: rowIndex,
			INN:      CleanCell(rawINN),
			Reason:   ReasonInvalidINN,
			Detail:   err.Error(),
		}
	}
	rec.INN = inn

	for field := range v.headerIdx {
		if field == FieldINN {
			continue
		}
		val, err := Coerce(field, v.value(row, field))
		if err != nil {
			continue // non-mandatory fields degrade to NULL
		}
		rec.set(field, val)
	}

	if !rec.Name.Valid {
		return CanonicalRecord{}, &RowRejection{
			RowIndex: rowIndex,
			INN:      CleanCell(rawINN),
			Reason:   ReasonMissingName,
			Detail:   "name is empty",
		}
	}

	return rec, nil
}

func (v *RowValidator) value(row RawRow, field string) string {
	pos, ok := v.headerIdx[field]
	if !ok {
		return ""
	}
	return row.cell(pos)
}

func (v *RowValidator) coerceINN(raw string) (int64, error) {
	if !v.verifyChecksum {
		return CoerceINN(raw)
	}

	digits, err := innDigits(raw)
	if err != nil {
		return 0, err
	}
	if !VerifyINNChecksum(digits) {
		return 0, invalidINN(raw, "control digit mismatch")
	}
	return CoerceINN(digits)
}

// set assigns a coerced value to its canonical field.
func (r *CanonicalRecord) set(field string, val any) {
	switch v := val.(type) {
	case pgtype.Text:
		if p := r.textField(field); p != nil {
			*p = v
		}
	case pgtype.Bool:
		if field == FieldSupportMeasures {
			r.SupportMeasures = v
		}
	case ConfirmationStatus:
		r.ConfirmationStatus = v
	}
}

func (r *CanonicalRecord) textField(field string) *pgtype.Text {
	switch field {
	case FieldName:
		return &r.Name
	case FieldFullName:
		return &r.FullName
	case FieldSparkStatus:
		return &r.SparkStatus
	case FieldMainIndustry:
		return &r.MainIndustry
	case FieldCompanySizeFinal:
		return &r.CompanySizeFinal
	case FieldOrganizationType:
		return &r.OrganizationType
	case FieldSpecialStatus:
		return &r.SpecialStatus
	}
	return nil
}

// ValidatePatch checks a CompanyPatch before it reaches the store.
func ValidatePatch(p CompanyPatch) error {
	if p.Empty() {
		return fmt.Errorf("%w: no fields to update", ErrInvalidPatch)
	}
	if p.Name != nil && !CoerceText(*p.Name).Valid {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidPatch)
	}
	if p.ConfirmationStatus != nil && !p.ConfirmationStatus.Valid() {
		return fmt.Errorf("%w: unknown confirmation status %q", ErrInvalidPatch, *p.ConfirmationStatus)
	}
	return nil
}
