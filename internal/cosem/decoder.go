package cosem

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/d21d3q/gosmartmeter/internal/obis"
)

// Data-notification header: tag, long-invoke-id-and-priority, date-time
// octet string length and the date-time itself.
const (
	NotificationTag = 0x0F
	DateTimeSize    = 12
	HeaderSize      = 1 + invokeIDSize + 1 + DateTimeSize

	invokeIDSize  = 4
	dateTimeLenAt = 1 + invokeIDSize

	// Every value is followed by a two byte separator. A trailing
	// scaler/unit structure starting with metadataMarker adds six more.
	breakSize      = 2
	metadataMarker = TypeInteger
	metadataSize   = 6

	// The scaler of a LongUnsigned value sits this many bytes after the
	// start of the value.
	scalerOffset = 5

	elementPrefix = 2 + obis.Size
)

// Header is the fixed prefix of a data notification.
type Header struct {
	InvokeID uint32
	DateTime []byte
}

// ParseHeader validates the notification header and returns the offset of
// the first body element. A structure opener after the header is skipped.
func ParseHeader(plaintext []byte) (Header, int, error) {
	if len(plaintext) == 0 {
		return Header{}, 0, fmt.Errorf("%w: empty notification", ErrOutOfBounds)
	}
	if plaintext[0] != NotificationTag {
		return Header{}, 0, fmt.Errorf("%w: tag 0x%02X at offset 0", ErrInvalidNotificationHeader, plaintext[0])
	}
	if len(plaintext) <= dateTimeLenAt {
		return Header{}, 0, fmt.Errorf("%w: header needs %d bytes, have %d", ErrOutOfBounds, HeaderSize, len(plaintext))
	}
	if n := plaintext[dateTimeLenAt]; n != DateTimeSize {
		return Header{}, 0, fmt.Errorf("%w: date-time length %d at offset %d", ErrInvalidNotificationHeader, n, dateTimeLenAt)
	}
	if len(plaintext) < HeaderSize {
		return Header{}, 0, fmt.Errorf("%w: header needs %d bytes, have %d", ErrOutOfBounds, HeaderSize, len(plaintext))
	}
	h := Header{
		InvokeID: binary.BigEndian.Uint32(plaintext[1 : 1+invokeIDSize]),
		DateTime: plaintext[dateTimeLenAt+1 : HeaderSize],
	}
	pos := HeaderSize
	if pos < len(plaintext) && plaintext[pos] == TypeStructure {
		if pos+2 > len(plaintext) {
			return Header{}, 0, fmt.Errorf("%w: structure opener at offset %d", ErrOutOfBounds, pos)
		}
		pos += 2
	}
	return h, pos, nil
}

// Decode walks the notification body and returns one Measurement per
// classified element in wire order. Unknown codes and values whose type does
// not fit their kind are skipped with a warning. Any structural error aborts
// the whole body.
func Decode(plaintext []byte) ([]Measurement, error) {
	_, pos, err := ParseHeader(plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]Measurement, 0, 16)
	for pos < len(plaintext) {
		m, next, ok, err := decodeElement(plaintext, pos)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, m)
		}
		pos = next
	}
	return out, nil
}

func decodeElement(b []byte, pos int) (Measurement, int, bool, error) {
	start := pos
	if b[pos] != TypeOctetString {
		return Measurement{}, 0, false, fmt.Errorf("%w: type 0x%02X at offset %d, want OBIS code", ErrUnsupportedElementShape, b[pos], pos)
	}
	if pos+1 >= len(b) {
		return Measurement{}, 0, false, fmt.Errorf("%w: OBIS code length at offset %d", ErrOutOfBounds, pos+1)
	}
	if b[pos+1] != obis.Size {
		return Measurement{}, 0, false, fmt.Errorf("%w: OBIS code length %d at offset %d", ErrUnsupportedElementShape, b[pos+1], pos+1)
	}
	if pos+elementPrefix >= len(b) {
		return Measurement{}, 0, false, fmt.Errorf("%w: element at offset %d", ErrOutOfBounds, start)
	}
	code, _ := obis.FromBytes(b[pos+2:])
	pos += elementPrefix
	kind := obis.Classify(code)

	tag := b[pos]
	pos++
	var (
		value float64
		raw   []byte
		shape obis.Shape
	)
	switch tag {
	case TypeDoubleLongUnsigned:
		if pos+4 > len(b) {
			return Measurement{}, 0, false, fmt.Errorf("%w: double-long-unsigned at offset %d", ErrOutOfBounds, pos)
		}
		value = float64(binary.BigEndian.Uint32(b[pos : pos+4]))
		shape = obis.ShapeCounter
		pos += 4
	case TypeLongUnsigned:
		if pos+2 > len(b) {
			return Measurement{}, 0, false, fmt.Errorf("%w: long-unsigned at offset %d", ErrOutOfBounds, pos)
		}
		value = float64(binary.BigEndian.Uint16(b[pos : pos+2]))
		if at := pos + scalerOffset; at < len(b) {
			value = applyScaler(value, b[at])
		}
		shape = obis.ShapeScaled
		pos += 2
	case TypeOctetString:
		if pos >= len(b) {
			return Measurement{}, 0, false, fmt.Errorf("%w: octet-string length at offset %d", ErrOutOfBounds, pos)
		}
		n := int(b[pos])
		pos++
		if pos+n > len(b) {
			return Measurement{}, 0, false, fmt.Errorf("%w: octet-string of %d bytes at offset %d", ErrOutOfBounds, n, pos)
		}
		raw = b[pos : pos+n]
		shape = obis.ShapeText
		pos += n
	default:
		return Measurement{}, 0, false, fmt.Errorf("%w: 0x%02X at offset %d", ErrUnsupportedValueType, tag, pos-1)
	}

	pos = min(pos+breakSize, len(b))
	if pos < len(b) && b[pos] == metadataMarker {
		pos = min(pos+metadataSize, len(b))
	}

	fields := logrus.Fields{"obis": code.String(), "offset": start}
	if kind == obis.Unknown {
		log.WithFields(fields).Warn("skipping unsupported OBIS code")
		return Measurement{}, pos, false, nil
	}
	want := kind.ValueShape()
	if want == obis.ShapeDateTime {
		want = obis.ShapeText
	}
	if want != shape {
		log.WithFields(fields).WithField("kind", kind.String()).WithField("type", fmt.Sprintf("0x%02X", tag)).
			Warn("skipping value with unexpected type")
		return Measurement{}, pos, false, nil
	}

	m := Measurement{Kind: kind, Code: code, Value: value}
	switch kind.ValueShape() {
	case obis.ShapeDateTime:
		ts, err := FormatTimestamp(raw)
		if err != nil {
			return Measurement{}, 0, false, fmt.Errorf("%w at offset %d", err, start)
		}
		m.Text = ts
	case obis.ShapeText:
		m.Text = textValue(raw)
	}
	return m, pos, true, nil
}

func applyScaler(v float64, scaler byte) float64 {
	switch scaler {
	case 0xFF:
		return v / 10
	case 0xFE:
		return v / 100
	default:
		return v
	}
}

// textValue keeps printable ASCII as is and renders anything else as
// upper-case hex.
func textValue(b []byte) string {
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return strings.ToUpper(hex.EncodeToString(b))
		}
	}
	return string(b)
}
