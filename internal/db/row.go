package db

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Row is one result row keyed by column name. Accessors absorb the type
// differences between backends (TEXT timestamps vs TIMESTAMPTZ, TEXT JSON vs
// decoded JSONB, int32 vs int64).
type Row map[string]any

// String returns the column as a string; NULL becomes "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// NullString returns nil for NULL.
func (r Row) NullString(col string) *string {
	if r[col] == nil {
		return nil
	}
	s := r.String(col)
	return &s
}

func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case int16:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	}
	return 0
}

func (r Row) Float64(col string) float64 {
	switch v := r[col].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case []byte:
		f, _ := strconv.ParseFloat(string(v), 64)
		return f
	}
	return 0
}

var timeLayouts = []string{
	sqliteTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Time returns the column as UTC time; NULL or unparsable values are zero.
func (r Row) Time(col string) time.Time {
	switch v := r[col].(type) {
	case time.Time:
		return v.UTC()
	case string:
		return parseTime(v)
	case []byte:
		return parseTime(string(v))
	}
	return time.Time{}
}

// NullTime returns nil for NULL.
func (r Row) NullTime(col string) *time.Time {
	if r[col] == nil {
		return nil
	}
	t := r.Time(col)
	return &t
}

// JSON decodes a JSON-valued column into dst. NULL leaves dst untouched.
func (r Row) JSON(col string, dst any) error {
	var raw []byte
	switch v := r[col].(type) {
	case nil:
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		// JSONB arrives already decoded from pgx.
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("column %s: %w", col, err)
		}
		raw = b
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("column %s: %w", col, err)
	}
	return nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
