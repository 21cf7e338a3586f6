package cosem

import (
	"encoding/binary"
	"time"

	"github.com/d21d3q/gosmartmeter/internal/obis"
)

// BodyBuilder encodes a data notification in the layout Decode expects:
// header, a structure opener and one element per value. Scaled elements
// carry a trailing {scaler, unit} structure.
type BodyBuilder struct {
	invokeID uint32
	dateTime [DateTimeSize]byte
	elements []element
}

type element struct {
	data   []byte
	scaled bool
}

func NewBodyBuilder(ts time.Time) *BodyBuilder {
	return &BodyBuilder{dateTime: EncodeDateTime(ts)}
}

func (b *BodyBuilder) WithInvokeID(id uint32) *BodyBuilder {
	b.invokeID = id
	return b
}

// AddU16 appends a LongUnsigned value with its scaler and unit.
func (b *BodyBuilder) AddU16(code obis.Code, v uint16, scaler int8, unit Unit) *BodyBuilder {
	data := elementHead(code, TypeLongUnsigned)
	data = binary.BigEndian.AppendUint16(data, v)
	return b.addScaled(data, scaler, unit)
}

// AddU32 appends a DoubleLongUnsigned value with its scaler and unit.
func (b *BodyBuilder) AddU32(code obis.Code, v uint32, scaler int8, unit Unit) *BodyBuilder {
	data := elementHead(code, TypeDoubleLongUnsigned)
	data = binary.BigEndian.AppendUint32(data, v)
	return b.addScaled(data, scaler, unit)
}

// AddOctets appends an octet string. Values longer than 255 bytes are cut.
func (b *BodyBuilder) AddOctets(code obis.Code, v []byte) *BodyBuilder {
	if len(v) > 0xFF {
		v = v[:0xFF]
	}
	data := elementHead(code, TypeOctetString)
	data = append(data, byte(len(v)))
	data = append(data, v...)
	b.elements = append(b.elements, element{data: data})
	return b
}

func (b *BodyBuilder) AddDateTime(code obis.Code, t time.Time) *BodyBuilder {
	dt := EncodeDateTime(t)
	return b.AddOctets(code, dt[:])
}

func (b *BodyBuilder) Bytes() []byte {
	out := make([]byte, 0, HeaderSize+2+len(b.elements)*24)
	out = append(out, NotificationTag)
	out = binary.BigEndian.AppendUint32(out, b.invokeID)
	out = append(out, DateTimeSize)
	out = append(out, b.dateTime[:]...)
	out = append(out, TypeStructure, byte(len(b.elements)))
	for i, el := range b.elements {
		if i > 0 {
			members := byte(2)
			if el.scaled {
				members = 3
			}
			out = append(out, TypeStructure, members)
		}
		out = append(out, el.data...)
	}
	return out
}

func (b *BodyBuilder) addScaled(data []byte, scaler int8, unit Unit) *BodyBuilder {
	data = append(data, TypeStructure, 2, TypeInteger, byte(scaler), TypeEnum, byte(unit))
	b.elements = append(b.elements, element{data: data, scaled: true})
	return b
}

func elementHead(code obis.Code, tag byte) []byte {
	data := make([]byte, 0, elementPrefix+16)
	data = append(data, TypeOctetString, obis.Size)
	data = append(data, code[:]...)
	return append(data, tag)
}
