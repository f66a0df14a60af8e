package core

// decode.go turns raw upload bytes into CSV records.
//
// Registry exports arrive either as UTF-8 (often with a BOM, from Excel) or as
// Windows-1251 (legacy 1C and SPARK exports). Decoding tries UTF-8 first and
// falls back to Windows-1251. Bytes that are undefined in Windows-1251, or NUL
// bytes (a sign of UTF-16 input), make the file undecodable.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Encoding names reported in IngestionResult.
const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1251 = "windows-1251"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText decodes data into a UTF-8 string and reports the detected encoding.
func DecodeText(data []byte) (string, string, error) {
	if bytes.IndexByte(data, 0) >= 0 {
		return "", "", errors.New("file contains NUL bytes")
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), EncodingUTF8, nil
	}

	decoded, err := charmap.Windows1251.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", fmt.Errorf("windows-1251: %w", err)
	}
	if bytes.ContainsRune(decoded, utf8.RuneError) {
		return "", "", errors.New("bytes undefined in windows-1251")
	}
	return string(decoded), EncodingWindows1251, nil
}

// DetectDelimiter inspects the first non-blank line of text.
// It returns ';' when semicolons outnumber commas, ',' otherwise.
func DetectDelimiter(text string) rune {
	line := firstLine(text)
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';'
	}
	return ','
}

func firstLine(text string) string {
	for text != "" {
		var line string
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			line, text = text[:i], text[i+1:]
		} else {
			line, text = text, ""
		}
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}

// readRecords parses text with the given delimiter. Quoting is lenient and rows
// may have any number of fields.
func readRecords(text string, delim rune) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// DisambiguateHeaders returns a copy of headers where repeated names get an
// index suffix ("name", "name_2", "name_3"). Blank headers are named by
// position ("column_3").
func DisambiguateHeaders(headers []string) []string {
	out := make([]string, len(headers))
	seen := make(map[string]bool, len(headers))

	for i, h := range headers {
		if strings.TrimSpace(h) == "" {
			h = columnKey(i)
		}
		out[i] = claimName(seen, h)
	}
	return out
}

// claimName returns base, or base with the first free index suffix, and
// marks the result as taken.
func claimName(seen map[string]bool, base string) string {
	name := base
	for n := 2; seen[name]; n++ {
		name = base + "_" + strconv.Itoa(n)
	}
	seen[name] = true
	return name
}

// buildRawRow pairs values with headers. Short rows are padded with empty
// values; cells beyond the header are kept under positional keys that never
// repeat a header name.
func buildRawRow(headers, values []string) RawRow {
	n := len(headers)
	if len(values) > n {
		n = len(values)
	}

	row := RawRow{
		Headers: make([]string, n),
		Values:  make([]string, n),
	}
	copy(row.Headers, headers)
	copy(row.Values, values)
	if n == len(headers) {
		return row
	}

	seen := make(map[string]bool, n)
	for _, h := range headers {
		seen[h] = true
	}
	for i := len(headers); i < n; i++ {
		row.Headers[i] = claimName(seen, columnKey(i))
	}
	return row
}

func columnKey(i int) string {
	return "column_" + strconv.Itoa(i+1)
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
