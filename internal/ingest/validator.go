package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrorKind classifies a validation defect. The set is closed.
type ErrorKind string

const (
	KindMissingColumn ErrorKind = "MISSING_COLUMN"
	KindTypeMismatch  ErrorKind = "TYPE_MISMATCH"
	KindOutOfRange    ErrorKind = "OUT_OF_RANGE"
	KindDuplicateKey  ErrorKind = "DUPLICATE_KEY"
	KindFileTooLarge  ErrorKind = "FILE_TOO_LARGE"
)

// ValidationError is one addressable defect in an upload. Row is 1-based and
// counts data rows only, excluding the header; it is zero for file-level
// errors. Column is empty for file- and row-level errors.
type ValidationError struct {
	Row     int       `json:"row,omitempty"`
	Column  string    `json:"column,omitempty"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s: row %d, column %q: %s", e.Kind, e.Row, e.Column, e.Message)
	}
	if e.Row > 0 {
		return fmt.Sprintf("%s: row %d: %s", e.Kind, e.Row, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Row is one parsed, typed data row keyed by column name. Values are string,
// int64 or float64 according to the schema.
type Row map[string]any

// Validator validates uploads against registered schemas.
type Validator struct {
	maxBytes int64
}

// DefaultMaxUploadBytes is the upload size ceiling when none is configured.
const DefaultMaxUploadBytes = 10 << 20

// NewValidator creates a Validator with the given upload byte ceiling.
// A non-positive ceiling falls back to the default.
func NewValidator(maxBytes int64) *Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Validator{maxBytes: maxBytes}
}

// Validate checks data against the schema and returns the typed rows, or the
// complete ordered list of defects found. Errors are accumulated rather than
// fail-fast so one pass reports every defect; ordering follows file order of
// offending rows, then the schema's column order. Rows are returned only
// when the error list is empty.
func (v *Validator) Validate(data []byte, schema Schema) ([]Row, []ValidationError) {
	if int64(len(data)) > v.maxBytes {
		return nil, []ValidationError{{
			Kind:    KindFileTooLarge,
			Message: fmt.Sprintf("upload is %d bytes, limit is %d", len(data), v.maxBytes),
		}}
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, []ValidationError{{
			Kind:    KindTypeMismatch,
			Message: fmt.Sprintf("cannot parse header row: %v", err),
		}}
	}

	colIndex := make(map[string]int, len(header))
	for i, name := range header {
		colIndex[strings.TrimSpace(name)] = i
	}

	var errs []ValidationError
	for _, col := range schema.Columns {
		if _, ok := colIndex[col.Name]; !ok {
			errs = append(errs, ValidationError{
				Column:  col.Name,
				Kind:    KindMissingColumn,
				Message: fmt.Sprintf("required column %q is missing", col.Name),
			})
		}
	}
	// Header defects make positional body errors meaningless; stop here.
	if len(errs) > 0 {
		return nil, errs
	}

	var rows []Row
	seenKeys := make(map[string]int)
	rowNum := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNum++
		if err != nil {
			errs = append(errs, ValidationError{
				Row:     rowNum,
				Kind:    KindTypeMismatch,
				Message: fmt.Sprintf("cannot parse row: %v", err),
			})
			continue
		}

		row := make(Row, len(schema.Columns))
		rowOK := true
		for _, col := range schema.Columns {
			idx := colIndex[col.Name]
			if idx >= len(record) {
				errs = append(errs, ValidationError{
					Row:     rowNum,
					Column:  col.Name,
					Kind:    KindTypeMismatch,
					Message: "row has too few fields",
				})
				rowOK = false
				continue
			}
			value, verr := coerce(record[idx], col, rowNum)
			if verr != nil {
				errs = append(errs, *verr)
				rowOK = false
				continue
			}
			row[col.Name] = value
		}

		if len(schema.Key) > 0 {
			key := compositeKey(record, colIndex, schema.Key)
			if first, dup := seenKeys[key]; dup {
				errs = append(errs, ValidationError{
					Row:     rowNum,
					Column:  strings.Join(schema.Key, "+"),
					Kind:    KindDuplicateKey,
					Message: fmt.Sprintf("duplicate key %q, first seen at row %d", key, first),
				})
				rowOK = false
			} else {
				seenKeys[key] = rowNum
			}
		}

		if rowOK {
			rows = append(rows, row)
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return rows, nil
}

// coerce converts a raw cell into the column's declared type and checks its
// domain.
func coerce(raw string, col Column, rowNum int) (any, *ValidationError) {
	raw = strings.TrimSpace(raw)
	switch col.Type {
	case ColumnString:
		if raw == "" {
			return nil, &ValidationError{
				Row: rowNum, Column: col.Name, Kind: KindTypeMismatch,
				Message: "value must not be empty",
			}
		}
		return raw, nil
	case ColumnInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &ValidationError{
				Row: rowNum, Column: col.Name, Kind: KindTypeMismatch,
				Message: fmt.Sprintf("%q is not an integer", raw),
			}
		}
		if col.Min != nil && float64(n) < *col.Min {
			return nil, &ValidationError{
				Row: rowNum, Column: col.Name, Kind: KindOutOfRange,
				Message: fmt.Sprintf("%d is below the minimum of %v", n, *col.Min),
			}
		}
		return n, nil
	case ColumnFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &ValidationError{
				Row: rowNum, Column: col.Name, Kind: KindTypeMismatch,
				Message: fmt.Sprintf("%q is not a number", raw),
			}
		}
		if col.Min != nil && f < *col.Min {
			return nil, &ValidationError{
				Row: rowNum, Column: col.Name, Kind: KindOutOfRange,
				Message: fmt.Sprintf("%v is below the minimum of %v", f, *col.Min),
			}
		}
		return f, nil
	default:
		return nil, &ValidationError{
			Row: rowNum, Column: col.Name, Kind: KindTypeMismatch,
			Message: fmt.Sprintf("unknown column type %q", col.Type),
		}
	}
}

// compositeKey joins the raw key cell values. Raw values are used so rows
// with unparseable non-key cells still participate in duplicate detection.
func compositeKey(record []string, colIndex map[string]int, key []string) string {
	parts := make([]string, 0, len(key))
	for _, name := range key {
		idx := colIndex[name]
		if idx < len(record) {
			parts = append(parts, strings.TrimSpace(record[idx]))
		} else {
			parts = append(parts, "")
		}
	}
	return strings.Join(parts, "\x1f")
}
