package cosem

import (
	"encoding/binary"
	"fmt"
	"time"
)

const timestampSize = 8

// FormatTimestamp renders the date and time fields of a COSEM date-time as
// YYYY-MM-DDThh:mm:ssZ. Only the first eight bytes are used; the fields are
// not range checked.
func FormatTimestamp(b []byte) (string, error) {
	if len(b) < timestampSize {
		return "", fmt.Errorf("%w: date-time of %d bytes", ErrUnsupportedElementShape, len(b))
	}
	year := binary.BigEndian.Uint16(b[0:2])
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02dZ", year, b[2], b[3], b[5], b[6], b[7]), nil
}

// ParseDateTime converts a COSEM date-time into a UTC time. Unspecified
// fields (0xFF, year 0xFFFF) are rejected.
func ParseDateTime(b []byte) (time.Time, error) {
	if len(b) < timestampSize {
		return time.Time{}, fmt.Errorf("%w: date-time of %d bytes", ErrUnsupportedElementShape, len(b))
	}
	year := int(binary.BigEndian.Uint16(b[0:2]))
	month, day, hour, minute, second := int(b[2]), int(b[3]), int(b[5]), int(b[6]), int(b[7])
	if year == 0xFFFF || month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, fmt.Errorf("%w: unspecified or invalid date-time % X", ErrUnsupportedElementShape, b[:timestampSize])
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC), nil
}

// EncodeDateTime returns the 12-byte COSEM date-time of t in UTC with
// hundredths, deviation and clock status cleared.
func EncodeDateTime(t time.Time) [DateTimeSize]byte {
	t = t.UTC()
	var out [DateTimeSize]byte
	binary.BigEndian.PutUint16(out[0:2], uint16(t.Year()))
	out[2] = byte(t.Month())
	out[3] = byte(t.Day())
	dow := int(t.Weekday())
	if dow == 0 {
		dow = 7
	}
	out[4] = byte(dow)
	out[5] = byte(t.Hour())
	out[6] = byte(t.Minute())
	out[7] = byte(t.Second())
	return out
}

// Time parses the notification date-time of the header.
func (h Header) Time() (time.Time, error) {
	return ParseDateTime(h.DateTime)
}
