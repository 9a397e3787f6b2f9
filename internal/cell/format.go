package cell

import (
	"fmt"
	"strconv"
	"time"
)

// Output layouts. DateTimeLayout always prints an explicit offset
// (+00:00 for UTC) and microseconds only when present.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04:05.999999-07:00"
)

// Format renders v as sheet text. Null is the empty string.
func Format(v Value) string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindNumber:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindDate:
		return v.t.Format(DateLayout)
	case KindDateTime:
		return v.t.UTC().Format(DateTimeLayout)
	case KindJSON:
		b, err := MarshalJSON(v.j)
		if err != nil {
			return fmt.Sprintf("%v", v.j)
		}
		return string(b)
	default:
		return ""
	}
}

// FormatTime renders t the way datetime cells are written.
func FormatTime(t time.Time) string {
	return t.UTC().Format(DateTimeLayout)
}
