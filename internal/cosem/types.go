package cosem

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/d21d3q/gosmartmeter/internal/obis"
)

// Data type tags (IEC 62056-6-2) seen in push notifications.
const (
	TypeNullData           = 0x00
	TypeStructure          = 0x02
	TypeDoubleLongUnsigned = 0x06
	TypeOctetString        = 0x09
	TypeInteger            = 0x0F
	TypeLongUnsigned       = 0x12
	TypeEnum               = 0x16
)

// Unit is a DLMS physical unit enumeration value.
type Unit byte

const (
	UnitNone Unit = 0xFF
	UnitW    Unit = 0x1B
	UnitWh   Unit = 0x1E
	UnitVarh Unit = 0x20
	UnitA    Unit = 0x21
	UnitV    Unit = 0x23
)

// UnitFor returns the DLMS unit matching a kind's physical unit.
func UnitFor(k obis.Kind) Unit {
	switch k.Unit() {
	case "V":
		return UnitV
	case "A":
		return UnitA
	case "W":
		return UnitW
	case "Wh":
		return UnitWh
	case "varh":
		return UnitVarh
	default:
		return UnitNone
	}
}

var (
	ErrUnsupportedElementShape = errors.New("cosem: unsupported element shape")
	ErrUnsupportedValueType    = errors.New("cosem: unsupported value type")
	ErrOutOfBounds             = errors.New("cosem: read past end of notification")

	ErrInvalidNotificationHeader = fmt.Errorf("%w: invalid notification header", ErrUnsupportedElementShape)
)

var log logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the logger used for skipped elements.
func SetLogger(l logrus.FieldLogger) {
	if l == nil {
		l = logrus.StandardLogger()
	}
	log = l
}

// Measurement is one classified value from a notification body. Text kinds
// (timestamp, serial number, device name) fill Text, the rest fill Value.
type Measurement struct {
	Kind  obis.Kind
	Code  obis.Code
	Value float64
	Text  string
}

func (m Measurement) IsText() bool { return m.Kind.IsText() }

func (m Measurement) String() string {
	if m.IsText() {
		return fmt.Sprintf("%s=%s", m.Kind, m.Text)
	}
	v := strconv.FormatFloat(m.Value, 'f', -1, 64)
	if u := m.Kind.Unit(); u != "" {
		return fmt.Sprintf("%s=%s %s", m.Kind, v, u)
	}
	return fmt.Sprintf("%s=%s", m.Kind, v)
}
