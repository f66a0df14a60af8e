package core

// convert.go converts raw CSV cells into canonical field values.
//
// Registry exports are produced by hand, by Excel and by legacy 1C tooling, so
// the same value shows up in many shapes:
//   - thousands separators as spaces, non-breaking spaces or dots ("1 234 567", "1.234.567")
//   - comma decimal separators ("1234,00")
//   - Russian yes/no tokens ("Есть", "Нет", "Да")
//   - Excel formula wrappers (="7707083893")
//
// All functions are pure. Text and boolean coercion never fail: empty or
// unrecognized input becomes NULL (Valid=false). Only INN coercion reports errors.

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// fieldKind is the semantic type of a canonical field.
type fieldKind int

const (
	kindText fieldKind = iota
	kindINN
	kindBool
	kindStatus
)

var fieldKinds = map[string]fieldKind{
	FieldINN:                kindINN,
	FieldSupportMeasures:    kindBool,
	FieldConfirmationStatus: kindStatus,
}

// Coerce converts raw into the type of the canonical field.
// Result types: int64 for inn, pgtype.Bool for boolean fields,
// ConfirmationStatus for confirmation_status, pgtype.Text otherwise.
func Coerce(field, raw string) (any, error) {
	switch fieldKinds[field] {
	case kindINN:
		return CoerceINN(raw)
	case kindBool:
		return CoerceBool(raw), nil
	case kindStatus:
		return CoerceStatus(raw), nil
	default:
		return CoerceText(raw), nil
	}
}

// CoerceText trims, collapses internal whitespace runs and maps empty to NULL.
func CoerceText(s string) pgtype.Text {
	s = strings.Join(strings.Fields(CleanCell(s)), " ")
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

var (
	trueTokens  = map[string]bool{"да": true, "есть": true, "yes": true, "1": true, "true": true, "получены": true}
	falseTokens = map[string]bool{"нет": true, "нету": true, "no": true, "0": true, "false": true, "не получены": true}
)

// CoerceBool maps Russian and English affirmative/negative tokens to a boolean.
// Empty or unrecognized input ("Нет сведений") is NULL, never an error.
func CoerceBool(s string) pgtype.Bool {
	s = normalizeToken(s)
	switch {
	case trueTokens[s]:
		return pgtype.Bool{Bool: true, Valid: true}
	case falseTokens[s]:
		return pgtype.Bool{Bool: false, Valid: true}
	default:
		return pgtype.Bool{Valid: false}
	}
}

var statusTokens = map[string]ConfirmationStatus{
	"подтвержден":               StatusConfirmed,
	"подтверждено":              StatusConfirmed,
	"да":                        StatusConfirmed,
	"подтвержден пользователем": StatusUserConfirmed,
	"не подтвержден":            StatusNotConfirmed,
	"не подтверждено":           StatusNotConfirmed,
	"нет":                       StatusNotConfirmed,
}

// CoerceStatus maps a confirmation cell to a ConfirmationStatus.
// Anything unrecognized is StatusNotConfirmed.
func CoerceStatus(s string) ConfirmationStatus {
	if st, ok := statusTokens[normalizeToken(s)]; ok {
		return st
	}
	return StatusNotConfirmed
}

// CoerceInt parses a localized integer.
// Spaces, non-breaking spaces and dot thousands separators are stripped; a comma
// (or a lone dot not in thousands position) starts the decimal fraction, which
// must be zero. Empty input is NULL.
func CoerceInt(s string) (pgtype.Int8, error) {
	digits, neg, err := normalizeInteger(s)
	if err != nil {
		return pgtype.Int8{}, err
	}
	if digits == "" {
		return pgtype.Int8{Valid: false}, nil
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return pgtype.Int8{}, fmt.Errorf("integer out of range: %q", s)
	}
	if neg {
		n = -n
	}
	return pgtype.Int8{Int64: n, Valid: true}, nil
}

// CoerceINN parses a taxpayer number: 10 digits for organizations,
// 12 for individual entrepreneurs.
func CoerceINN(s string) (int64, error) {
	digits, err := innDigits(s)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, invalidINN(s, "not a number")
	}
	return n, nil
}

// FormatINN renders a stored INN with the leading zeros the integer drops:
// values below 10^10 are padded to 10 digits, larger ones to 12. Region codes
// start at 01, so no real INN begins with two zeros.
func FormatINN(inn int64) string {
	if inn < 1e10 {
		return fmt.Sprintf("%010d", inn)
	}
	return fmt.Sprintf("%012d", inn)
}

// innDigits validates raw as an INN and returns its digit string,
// leading zeros included.
func innDigits(s string) (string, error) {
	digits, neg, err := normalizeInteger(s)
	if err != nil {
		return "", invalidINN(s, "not a number")
	}
	if neg {
		return "", invalidINN(s, "negative")
	}
	if digits == "" {
		return "", invalidINN(s, "empty")
	}
	if len(digits) != 10 && len(digits) != 12 {
		return "", invalidINN(s, fmt.Sprintf("must have 10 or 12 digits, got %d", len(digits)))
	}
	return digits, nil
}

func invalidINN(value, msg string) *CoercionError {
	return &CoercionError{Field: FieldINN, Value: value, Reason: ReasonInvalidINN, Msg: "invalid INN: " + msg}
}

var (
	inn10Weights  = []int{2, 4, 10, 3, 5, 9, 4, 6, 8}
	inn12Weights1 = []int{7, 2, 4, 10, 3, 5, 9, 4, 6, 8}
	inn12Weights2 = []int{3, 7, 2, 4, 10, 3, 5, 9, 4, 6, 8}
)

// VerifyINNChecksum checks the FNS control digits of a 10 or 12 digit INN.
func VerifyINNChecksum(digits string) bool {
	for _, c := range digits {
		if c < '0' || c > '9' {
			return false
		}
	}
	switch len(digits) {
	case 10:
		return innControl(digits, inn10Weights) == int(digits[9]-'0')
	case 12:
		return innControl(digits, inn12Weights1) == int(digits[10]-'0') &&
			innControl(digits, inn12Weights2) == int(digits[11]-'0')
	default:
		return false
	}
}

func innControl(digits string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	return sum % 11 % 10
}

// normalizeInteger strips separators and returns the integer digits and sign.
// digits is "" for empty input.
func normalizeInteger(s string) (digits string, negative bool, err error) {
	s = CleanCell(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\u00a0', '\u202f', '\u2009':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return "", false, nil
	}

	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart, frac := splitDecimal(s)
	for _, c := range frac {
		if c != '0' {
			return "", false, fmt.Errorf("not an integer: %q", s)
		}
	}
	if intPart == "" {
		return "", false, fmt.Errorf("not a number: %q", s)
	}
	for _, c := range intPart {
		if c < '0' || c > '9' {
			return "", false, fmt.Errorf("not a number: %q", s)
		}
	}
	return intPart, negative, nil
}

// splitDecimal separates the integer part from the decimal fraction,
// removing dot thousands separators from the integer part.
func splitDecimal(s string) (intPart, frac string) {
	if i := strings.LastIndex(s, ","); i >= 0 {
		return strings.ReplaceAll(s[:i], ".", ""), s[i+1:]
	}

	parts := strings.Split(s, ".")
	if len(parts) == 1 {
		return s, ""
	}

	thousands := true
	for _, p := range parts[1:] {
		if len(p) != 3 {
			thousands = false
			break
		}
	}
	if thousands {
		return strings.Join(parts, ""), ""
	}
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	// several dots in non-thousands positions; leave them for the digit check to reject
	return s, ""
}

// normalizeToken lowercases, folds ё to е and collapses whitespace for token lookups.
func normalizeToken(s string) string {
	s = strings.ToLower(CleanCell(s))
	s = strings.ReplaceAll(s, "ё", "е")
	return strings.Join(strings.Fields(s), " ")
}

// CleanCell removes common CSV artifacts from a cell value:
//   - surrounding whitespace
//   - Excel formula wrapper (="...")
//   - one pair of surrounding quotes, when the value contains no other quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		return strings.TrimSpace(s[2 : len(s)-1])
	}

	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last && !strings.ContainsAny(s[1:len(s)-1], `"'`) {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}

	return s
}
