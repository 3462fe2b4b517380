package demand

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Number is a loosely typed numeric form field. Legacy clients send numbers,
// numeric strings or empty strings for the same column, so parsing is
// deferred until the row is validated and the error can name the row.
type Number struct {
	raw string
}

// NumberOf wraps a float as a Number.
func NumberOf(v float64) Number {
	return Number{raw: strconv.FormatFloat(v, 'f', -1, 64)}
}

// NumberText wraps raw text as a Number.
func NumberText(s string) Number {
	return Number{raw: s}
}

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		n.raw = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		n.raw = s
		return nil
	}
	n.raw = string(b)
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if n.IsEmpty() {
		return []byte("null"), nil
	}
	if v, err := n.Float(); err == nil {
		return json.Marshal(v)
	}
	return json.Marshal(n.raw)
}

// IsEmpty reports whether the field was left blank.
func (n Number) IsEmpty() bool {
	return strings.TrimSpace(n.raw) == ""
}

// Float parses the field. Blank fields are an error; check IsEmpty first.
func (n Number) Float() (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(n.raw), 64)
}

// Int parses the field as a whole number.
func (n Number) Int() (int64, error) {
	s := strings.TrimSpace(n.raw)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, strconv.ErrSyntax
	}
	return int64(f), nil
}

func (n Number) String() string { return n.raw }
