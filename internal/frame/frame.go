package frame

import (
	"errors"
	"fmt"
)

// M-Bus long frame layout (EN 13757-2):
//
//	68 L L 68 | C A CI | user data ... | CS 16
const (
	StartByte = 0x68
	StopByte  = 0x16

	HeaderLen = 7
	FooterLen = 2
	MaxSize   = 256
	MinSize   = HeaderLen + FooterLen

	start1Offset   = 0
	length1Offset  = 1
	length2Offset  = 2
	start2Offset   = 3
	controlOffset  = 4
	userDataOffset = 7

	// L counts the C, A and CI fields in addition to the user data.
	controlFieldLen = 3

	// MaxUserData is the user data carried by a frame of MaxSize bytes.
	MaxUserData = MaxSize - HeaderLen - FooterLen
)

var (
	ErrInvalidStart   = errors.New("mbus: invalid start bytes")
	ErrLengthMismatch = errors.New("mbus: length bytes do not match")
	ErrInvalidStop    = errors.New("mbus: invalid stop byte")
	ErrChecksum       = errors.New("mbus: checksum mismatch")

	ErrInvalidLength = fmt.Errorf("%w: length below control field size", ErrLengthMismatch)
	ErrTruncated     = fmt.Errorf("%w: frame exceeds received data", ErrInvalidStop)
	ErrNoFrame       = fmt.Errorf("%w: no complete frame in window", ErrInvalidStart)
)

// Frame is one validated long frame. UserData aliases the raw input.
type Frame struct {
	Offset   int
	Length   byte
	Control  byte
	Address  byte
	CI       byte
	UserData []byte
	Checksum byte
}

// Size returns the number of wire bytes occupied by the frame.
func (f Frame) Size() int {
	return HeaderLen + len(f.UserData) + FooterLen
}

type assembleConfig struct {
	verifyChecksum bool
}

// AssembleOption tunes Assemble.
type AssembleOption func(*assembleConfig)

// WithChecksum enables verification of the 8-bit arithmetic checksum.
func WithChecksum() AssembleOption {
	return func(c *assembleConfig) { c.verifyChecksum = true }
}

// Assemble validates every long frame in raw and returns the concatenation of
// their user data. Trailing bytes shorter than a minimal frame are ignored.
// On error nothing is returned.
func Assemble(raw []byte, opts ...AssembleOption) ([]byte, error) {
	frames, err := Split(raw, opts...)
	if err != nil {
		return nil, err
	}
	return Join(frames), nil
}

// Join concatenates the user data of frames in order.
func Join(frames []Frame) []byte {
	total := 0
	for _, f := range frames {
		total += len(f.UserData)
	}
	out := make([]byte, 0, total)
	for _, f := range frames {
		out = append(out, f.UserData...)
	}
	return out
}

// Split walks raw and returns each validated frame in order.
func Split(raw []byte, opts ...AssembleOption) ([]Frame, error) {
	var cfg assembleConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	frames := make([]Frame, 0, 2)
	cursor := 0
	for cursor+MinSize < len(raw) {
		f, err := parseAt(raw, cursor, cfg)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
		cursor += f.Size()
	}
	return frames, nil
}

func parseAt(raw []byte, cursor int, cfg assembleConfig) (Frame, error) {
	if raw[cursor+start1Offset] != StartByte || raw[cursor+start2Offset] != StartByte {
		return Frame{}, fmt.Errorf("%w at offset %d", ErrInvalidStart, cursor)
	}
	l1, l2 := raw[cursor+length1Offset], raw[cursor+length2Offset]
	if l1 != l2 {
		return Frame{}, fmt.Errorf("%w at offset %d (0x%02X != 0x%02X)", ErrLengthMismatch, cursor, l1, l2)
	}
	if int(l1) < controlFieldLen {
		return Frame{}, fmt.Errorf("%w at offset %d (L=%d)", ErrInvalidLength, cursor, l1)
	}
	payloadLen := int(l1) - controlFieldLen
	stop := cursor + HeaderLen + payloadLen + FooterLen - 1
	if stop >= len(raw) {
		return Frame{}, fmt.Errorf("%w at offset %d (need %d bytes, have %d)", ErrTruncated, cursor, stop+1-cursor, len(raw)-cursor)
	}
	if raw[stop] != StopByte {
		return Frame{}, fmt.Errorf("%w at offset %d (0x%02X)", ErrInvalidStop, stop, raw[stop])
	}
	f := Frame{
		Offset:   cursor,
		Length:   l1,
		Control:  raw[cursor+controlOffset],
		Address:  raw[cursor+controlOffset+1],
		CI:       raw[cursor+controlOffset+2],
		UserData: raw[cursor+userDataOffset : cursor+userDataOffset+payloadLen],
		Checksum: raw[stop-1],
	}
	if cfg.verifyChecksum {
		if sum := checksum(raw[cursor+controlOffset : stop-1]); sum != f.Checksum {
			return Frame{}, fmt.Errorf("%w at offset %d (0x%02X != 0x%02X)", ErrChecksum, cursor, sum, f.Checksum)
		}
	}
	return f, nil
}

// checksum is the arithmetic sum of C, A, CI and user data modulo 256.
func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}
