package core

// fieldmap.go resolves canonical company fields from localized CSV headers.
//
// Registry exports name the same column many ways ("ИНН", "ИНН организации",
// "Основная отрасль, 2023"). A FieldMapping lists the accepted aliases per
// canonical field; Resolve picks the header that supplies each field using
// three passes, first match wins:
//
//  1. exact, case-sensitive alias match
//  2. trimmed, whitespace-collapsed, case-insensitive match
//  3. header contains an alias as a substring (normalized as in pass 2)
//
// Within a pass headers are scanned in file column order, so the leftmost
// matching column wins.

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Canonical field names.
const (
	FieldINN                = "inn"
	FieldName               = "name"
	FieldFullName           = "full_name"
	FieldSparkStatus        = "spark_status"
	FieldMainIndustry       = "main_industry"
	FieldCompanySizeFinal   = "company_size_final"
	FieldOrganizationType   = "organization_type"
	FieldSupportMeasures    = "support_measures"
	FieldSpecialStatus      = "special_status"
	FieldConfirmationStatus = "confirmation_status"
)

// canonicalFields lists every canonical field in display order.
var canonicalFields = []string{
	FieldINN,
	FieldName,
	FieldFullName,
	FieldSparkStatus,
	FieldMainIndustry,
	FieldCompanySizeFinal,
	FieldOrganizationType,
	FieldSupportMeasures,
	FieldSpecialStatus,
	FieldConfirmationStatus,
}

// defaultAliases is the built-in alias table for Russian registry exports.
var defaultAliases = map[string][]string{
	FieldINN:                {"ИНН", "ИНН организации", "ИНН компании", "ИНН/КИО", "INN"},
	FieldName:               {"Наименование организации", "Наименование", "Название организации", "Название", "Краткое наименование", "Name"},
	FieldFullName:           {"Полное наименование организации", "Полное наименование", "Full name"},
	FieldSparkStatus:        {"Статус СПАРК", "Статус в СПАРК", "SPARK status"},
	FieldMainIndustry:       {"Основная отрасль", "Отрасль", "Main industry"},
	FieldCompanySizeFinal:   {"Размер предприятия (итог)", "Размер предприятия", "Company size"},
	FieldOrganizationType:   {"Тип организации", "Вид организации", "Organization type"},
	FieldSupportMeasures:    {"Данные о мерах поддержки", "Данные об оказанных мерах поддержки", "Меры поддержки", "Support measures"},
	FieldSpecialStatus:      {"Наличие особого статуса", "Особый статус", "Special status"},
	FieldConfirmationStatus: {"Статус подтверждения", "Подтвержден", "Confirmation status"},
}

// HeaderIndex maps canonical field names to their column position in the CSV header.
type HeaderIndex map[string]int

// FieldMapping is an immutable canonical field -> alias table.
// Safe for concurrent use.
type FieldMapping struct {
	aliases map[string][]string

	// normalized aliases, precomputed for passes 2 and 3
	normalized map[string][]string
}

// NewFieldMapping builds a mapping from an alias table.
// Every key must be a canonical field and every alias list non-empty.
// Canonical fields missing from aliases get no mapping.
func NewFieldMapping(aliases map[string][]string) (*FieldMapping, error) {
	m := &FieldMapping{
		aliases:    make(map[string][]string, len(aliases)),
		normalized: make(map[string][]string, len(aliases)),
	}

	for field, list := range aliases {
		if !isCanonicalField(field) {
			return nil, fmt.Errorf("field mapping: unknown canonical field %q", field)
		}

		var kept []string
		for _, a := range list {
			if strings.TrimSpace(a) != "" {
				kept = append(kept, a)
			}
		}
		if len(kept) == 0 {
			return nil, fmt.Errorf("field mapping: no aliases for %q", field)
		}

		m.aliases[field] = kept
		norm := make([]string, len(kept))
		for i, a := range kept {
			norm[i] = normalizeHeader(a)
		}
		m.normalized[field] = norm
	}

	return m, nil
}

// DefaultFieldMapping returns the built-in mapping for Russian registry exports.
func DefaultFieldMapping() *FieldMapping {
	m, err := NewFieldMapping(defaultAliases)
	if err != nil {
		panic(err) // static table
	}
	return m
}

// LoadFieldMapping reads a JSON alias table from path and lays it over the defaults.
// Fields present in the file replace the default alias list for that field.
func LoadFieldMapping(path string) (*FieldMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read field mapping: %w", err)
	}

	var fromFile map[string][]string
	if err := json.Unmarshal(data, &fromFile); err != nil {
		return nil, fmt.Errorf("parse field mapping %s: %w", path, err)
	}

	merged := make(map[string][]string, len(defaultAliases))
	for field, list := range defaultAliases {
		merged[field] = list
	}
	for field, list := range fromFile {
		merged[field] = list
	}

	return NewFieldMapping(merged)
}

// Fields returns the canonical fields that have aliases, in display order.
func (m *FieldMapping) Fields() []string {
	out := make([]string, 0, len(m.aliases))
	for _, f := range canonicalFields {
		if _, ok := m.aliases[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Aliases returns a copy of the alias list for field.
func (m *FieldMapping) Aliases(field string) []string {
	return append([]string(nil), m.aliases[field]...)
}

// Resolve returns the index of the header that supplies field.
// Returns false when no header matches; that is not an error.
func (m *FieldMapping) Resolve(headers []string, field string) (int, bool) {
	aliases, ok := m.aliases[field]
	if !ok {
		return -1, false
	}

	// Pass 1: exact
	for i, h := range headers {
		for _, a := range aliases {
			if h == a {
				return i, true
			}
		}
	}

	norm := m.normalized[field]
	normHeaders := make([]string, len(headers))
	for i, h := range headers {
		normHeaders[i] = normalizeHeader(h)
	}

	// Pass 2: case and whitespace insensitive
	for i, h := range normHeaders {
		for _, a := range norm {
			if h == a {
				return i, true
			}
		}
	}

	// Pass 3: substring
	for i, h := range normHeaders {
		if h == "" {
			continue
		}
		for _, a := range norm {
			if strings.Contains(h, a) {
				return i, true
			}
		}
	}

	return -1, false
}

// ResolveAll resolves every canonical field against headers once per file.
func (m *FieldMapping) ResolveAll(headers []string) HeaderIndex {
	idx := make(HeaderIndex, len(m.aliases))
	for _, field := range m.Fields() {
		if pos, ok := m.Resolve(headers, field); ok {
			idx[field] = pos
		}
	}
	return idx
}

// normalizeHeader lowercases, folds ё to е, and collapses whitespace runs.
func normalizeHeader(s string) string {
	s = CleanCell(s)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "ё", "е")
	return strings.Join(strings.Fields(s), " ")
}

func isCanonicalField(field string) bool {
	for _, f := range canonicalFields {
		if f == field {
			return true
		}
	}
	return false
}
