package entity

import (
	"fmt"
	"strconv"
	"time"
)

// Conversion helpers for Scan implementations. Drivers and cache codecs hand
// back different Go types for the same column (MySQL returns []byte for text,
// SQLite returns int64 for every integer, msgpack shrinks small integers), so
// entities convert through these instead of asserting directly.

// AsInt64 converts a column value to int64; nil becomes 0
func AsInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", v)
	}
}

// AsInt converts a column value to int
func AsInt(v any) (int, error) {
	n, err := AsInt64(v)
	return int(n), err
}

// AsString converts a column value to string; nil becomes ""
func AsString(v any) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case fmt.Stringer:
		return s.String(), nil
	case int64, int32, int, float64:
		return fmt.Sprint(s), nil
	default:
		return "", fmt.Errorf("cannot convert %T to string", v)
	}
}

// AsBool converts a column value to bool
func AsBool(v any) (bool, error) {
	switch b := v.(type) {
	case nil:
		return false, nil
	case bool:
		return b, nil
	case []byte:
		return strconv.ParseBool(string(b))
	case string:
		return strconv.ParseBool(b)
	default:
		n, err := AsInt64(v)
		if err != nil {
			return false, fmt.Errorf("cannot convert %T to bool", v)
		}
		return n != 0, nil
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// AsTime converts a column value to time.Time; nil becomes the zero time
func AsTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, nil
		}
		return *t, nil
	case []byte:
		return parseTime(string(t))
	case string:
		return parseTime(t)
	case int64:
		return time.UnixMilli(t).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time.Time", v)
	}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as time", s)
}

// NullableTime returns nil for the zero time so it is stored as NULL
func NullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
