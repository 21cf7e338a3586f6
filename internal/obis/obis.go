package obis

import "fmt"

// Size is the number of bytes in an OBIS code.
const Size = 6

// Code is a 6-byte OBIS identifier A-B:C.D.E*F.
type Code [Size]byte

// Medium is the OBIS value group A.
type Medium byte

const (
	Abstract    Medium = 0x00
	Electricity Medium = 0x01
)

func (m Medium) String() string {
	switch m {
	case Abstract:
		return "abstract"
	case Electricity:
		return "electricity"
	default:
		return fmt.Sprintf("medium(0x%02X)", byte(m))
	}
}

// FromBytes copies the first Size bytes of b into a Code.
func FromBytes(b []byte) (Code, error) {
	var c Code
	if len(b) < Size {
		return c, fmt.Errorf("obis code requires %d bytes, got %d", Size, len(b))
	}
	copy(c[:], b)
	return c, nil
}

// New builds a code from its six value groups.
func New(a, b, c, d, e, f byte) Code {
	return Code{a, b, c, d, e, f}
}

func (c Code) A() byte        { return c[0] }
func (c Code) B() byte        { return c[1] }
func (c Code) C() byte        { return c[2] }
func (c Code) D() byte        { return c[3] }
func (c Code) E() byte        { return c[4] }
func (c Code) F() byte        { return c[5] }
func (c Code) Medium() Medium { return Medium(c[0]) }

// String renders the code in reduced OBIS notation, e.g. 1-0:32.7.0*255.
func (c Code) String() string {
	return fmt.Sprintf("%d-%d:%d.%d.%d*%d", c[0], c[1], c[2], c[3], c[4], c[5])
}

type pair struct{ c, d byte }

var electricity = map[pair]Kind{
	{0x20, 0x07}: VoltageL1,
	{0x34, 0x07}: VoltageL2,
	{0x48, 0x07}: VoltageL3,
	{0x1F, 0x07}: CurrentL1,
	{0x33, 0x07}: CurrentL2,
	{0x47, 0x07}: CurrentL3,
	{0x01, 0x07}: ActivePowerPlus,
	{0x02, 0x07}: ActivePowerMinus,
	{0x01, 0x08}: ActiveEnergyPlus,
	{0x02, 0x08}: ActiveEnergyMinus,
	{0x03, 0x08}: ReactiveEnergyPlus,
	{0x04, 0x08}: ReactiveEnergyMinus,
}

var abstract = map[pair]Kind{
	{0x01, 0x00}: Timestamp,
	{0x60, 0x01}: SerialNumber,
	{0x2A, 0x00}: DeviceName,
}

// Classify maps a code to a measurement kind using value groups A, C and D.
// Unrecognised codes yield Unknown.
func Classify(c Code) Kind {
	var table map[pair]Kind
	switch c.Medium() {
	case Electricity:
		table = electricity
	case Abstract:
		table = abstract
	default:
		return Unknown
	}
	if k, ok := table[pair{c.C(), c.D()}]; ok {
		return k
	}
	return Unknown
}

// CodeFor returns the canonical code of a kind (B=0, E=0, F=255). Unknown
// yields false.
func CodeFor(k Kind) (Code, bool) {
	for p, kind := range electricity {
		if kind == k {
			return New(byte(Electricity), 0, p.c, p.d, 0, 0xFF), true
		}
	}
	for p, kind := range abstract {
		if kind == k {
			return New(byte(Abstract), 0, p.c, p.d, 0, 0xFF), true
		}
	}
	return Code{}, false
}
