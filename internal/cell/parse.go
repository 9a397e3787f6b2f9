package cell

// parse.go converts raw sheet text into typed values.
//
// Sheets written by this system use ISO layouts, but archives also arrive
// from older exports and hand-edited spreadsheets, so the parsers accept:
//   - ISO-8601 dates and datetimes, then the localized dd.mm.yyyy[ HH:MM[:SS]] forms
//   - decimal commas and thin/non-breaking space thousands separators
//   - the usual boolean spellings (true/false, yes/no, t/f, y/n, 1/0, да/нет)

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrCoercion is the sentinel wrapped by every CoercionError.
var ErrCoercion = errors.New("cell coercion failed")

// CoercionError describes a raw value that could not be parsed as its column type.
type CoercionError struct {
	Column string
	Type   Type
	Raw    string
	Reason string
}

func (e *CoercionError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("column %q: cannot parse %q as %s: %s", e.Column, e.Raw, e.Type, e.Reason)
	}
	return fmt.Sprintf("cannot parse %q as %s: %s", e.Raw, e.Type, e.Reason)
}

func (e *CoercionError) Unwrap() error { return ErrCoercion }

// Type is the declared type of a column.
type Type uint8

const (
	TypeText Type = iota
	TypeInt
	TypeNumber
	TypeBool
	TypeDate
	TypeDateTime
	TypeJSONList
	TypeJSONDict
)

func (t Type) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeInt:
		return "integer"
	case TypeNumber:
		return "number"
	case TypeBool:
		return "boolean"
	case TypeDate:
		return "date"
	case TypeDateTime:
		return "datetime"
	case TypeJSONList:
		return "json list"
	case TypeJSONDict:
		return "json object"
	default:
		return "unknown"
	}
}

// Layouts tried in order. ISO first, localized second.
var (
	isoDateTimeLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04Z07:00",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
	}
	localDateTimeLayouts = []string{
		"2.1.2006 15:04:05",
		"2.1.2006 15:04",
	}
	isoDateLayouts   = []string{"2006-01-02"}
	localDateLayouts = []string{"2.1.2006"}
)

// Parse converts raw sheet text into a Value of type t.
// Empty input (after trimming) is Null for every type.
func Parse(t Type, raw string) (Value, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Null(), nil
	}

	switch t {
	case TypeText:
		return String(raw), nil
	case TypeInt:
		return parseInt(s)
	case TypeNumber:
		return parseNumber(s)
	case TypeBool:
		return parseBool(s)
	case TypeDate:
		return parseDate(s)
	case TypeDateTime:
		return parseDateTime(s)
	case TypeJSONList, TypeJSONDict:
		return parseJSON(t, s)
	default:
		return Null(), &CoercionError{Type: t, Raw: raw, Reason: "unsupported column type"}
	}
}

func parseInt(s string) (Value, error) {
	i, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return Int(i), nil
	}
	if errors.Is(err, strconv.ErrRange) {
		return Null(), &CoercionError{Type: TypeInt, Raw: s, Reason: "integer out of range"}
	}
	// Spreadsheets like to turn 3 into 3.0.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return Null(), &CoercionError{Type: TypeInt, Raw: s, Reason: "not an integer"}
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return Null(), &CoercionError{Type: TypeInt, Raw: s, Reason: "integer out of range"}
	}
	return Int(int64(f)), nil
}

func parseNumber(s string) (Value, error) {
	clean := strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "").Replace(s)
	if strings.Contains(clean, ",") {
		if strings.Contains(clean, ".") {
			clean = strings.ReplaceAll(clean, ",", "")
		} else {
			clean = strings.ReplaceAll(clean, ",", ".")
		}
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return Null(), &CoercionError{Type: TypeNumber, Raw: s, Reason: "not a number"}
	}
	return Number(f), nil
}

func parseBool(s string) (Value, error) {
	switch strings.ToLower(s) {
	case "true", "t", "yes", "y", "1", "да":
		return Bool(true), nil
	case "false", "f", "no", "n", "0", "нет":
		return Bool(false), nil
	default:
		return Null(), &CoercionError{Type: TypeBool, Raw: s, Reason: "not a boolean"}
	}
}

func parseDate(s string) (Value, error) {
	if t, ok := tryLayouts(s, isoDateLayouts); ok {
		return Date(t), nil
	}
	if t, ok := tryLayouts(s, localDateLayouts); ok {
		return Date(t), nil
	}
	// A datetime in a date column keeps its calendar day.
	if v, err := parseDateTime(s); err == nil {
		return Date(v.Time()), nil
	}
	return Null(), &CoercionError{Type: TypeDate, Raw: s, Reason: "expected YYYY-MM-DD or DD.MM.YYYY"}
}

func parseDateTime(s string) (Value, error) {
	for _, group := range [][]string{isoDateTimeLayouts, isoDateLayouts, localDateTimeLayouts, localDateLayouts} {
		if t, ok := tryLayouts(s, group); ok {
			return DateTime(t), nil
		}
	}
	return Null(), &CoercionError{Type: TypeDateTime, Raw: s, Reason: "expected ISO-8601 or DD.MM.YYYY[ HH:MM[:SS]]"}
}

// tryLayouts parses s with each layout in turn. Layouts without a zone
// are interpreted as UTC.
func tryLayouts(s string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseJSON(t Type, s string) (Value, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return Null(), &CoercionError{Type: t, Raw: s, Reason: "invalid JSON"}
	}
	switch v.(type) {
	case []any:
		if t != TypeJSONList {
			return Null(), &CoercionError{Type: t, Raw: s, Reason: "expected a JSON object, got a list"}
		}
	case map[string]any:
		if t != TypeJSONDict {
			return Null(), &CoercionError{Type: t, Raw: s, Reason: "expected a JSON list, got an object"}
		}
	case nil:
		return Null(), nil
	default:
		return Null(), &CoercionError{Type: t, Raw: s, Reason: "expected a JSON list or object"}
	}
	return JSON(v), nil
}

// MarshalJSON encodes v compactly without HTML escaping.
func MarshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
