package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// timestampLayout is what the server expects: RFC3339 in UTC with
// millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Timestamp is a time on the wire. The zero time encodes as null. Decoding
// accepts RFC3339 with or without fractional seconds, the zone-less ISO form
// some server versions emit, null and "".
type Timestamp time.Time

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(tt.UTC().Format(timestampLayout))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s, isNull, err := jsonString(data)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if isNull || s == "" {
		*t = Timestamp{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateTime} {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = Timestamp(parsed.UTC())
			return nil
		}
	}
	return fmt.Errorf("timestamp: cannot parse %q", s)
}

// Time returns the value as a time.Time.
func (t Timestamp) Time() time.Time { return time.Time(t) }

// Date is a calendar date on the wire, formatted 2006-01-02. The zero date
// encodes as "".
type Date time.Time

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	tt := time.Time(d)
	if tt.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(tt.Format(time.DateOnly))
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	s, isNull, err := jsonString(data)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	if isNull || s == "" {
		*d = Date{}
		return nil
	}
	if len(s) > len(time.DateOnly) {
		s = s[:len(time.DateOnly)]
	}
	parsed, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return fmt.Errorf("date: cannot parse %q", s)
	}
	*d = Date(parsed)
	return nil
}

// Time returns the value as a time.Time.
func (d Date) Time() time.Time { return time.Time(d) }

// Bool accepts true/false as well as the 0/1 numbers and strings older
// servers send for boolean columns.
type Bool bool

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null", "false", "0", `"0"`, `""`, `"false"`:
		*b = false
		return nil
	case "true", "1", `"1"`, `"true"`:
		*b = true
		return nil
	}
	if n, err := strconv.ParseFloat(string(data), 64); err == nil {
		*b = n != 0
		return nil
	}
	return fmt.Errorf("bool: cannot parse %s", data)
}

// jsonString decodes a JSON string or null.
func jsonString(data []byte) (s string, isNull bool, err error) {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		return "", true, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return "", false, err
	}
	return s, false, nil
}
