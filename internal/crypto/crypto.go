package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	KeySize   = 16
	NonceSize = 12

	counterSize    = 4
	maxTitleLength = 16
)

var (
	ErrKeyRequired = errors.New("encrypted notification: AES key required (use --key)")
	ErrInvalidKey  = errors.New("encrypted notification: AES-128 key must be 16 bytes")

	ErrInvalidApplicationHeader = errors.New("dlms: invalid application header")
	ErrUnsupportedCipherSuite   = errors.New("dlms: unsupported cipher suite")
	ErrInvalidFragmentHeader    = errors.New("dlms: invalid fragment header")
	ErrAuthenticationFailed     = errors.New("dlms: authentication failed")

	ErrTruncated = fmt.Errorf("%w: header exceeds user data", ErrInvalidApplicationHeader)
)

// Layout describes where a meter profile places the ciphering header inside
// the application-layer user data and how it fragments the ciphertext.
type Layout struct {
	StartMarker            [2]byte
	CipherSuite            byte
	TitleLengthOffset      int
	TitleOffset            int
	ReservedSize           int
	MaxFragmentSize        int
	ContinuationHeaderSize int
	TagSize                int
}

// GeneralGloCiphering is the general-glo-ciphering APDU tag.
const GeneralGloCiphering = 0xDB

// DefaultLayout matches meters that push general-glo-ciphered data
// notifications over M-Bus in 247-byte fragments.
var DefaultLayout = Layout{
	StartMarker:            [2]byte{0x01, 0x67},
	CipherSuite:            GeneralGloCiphering,
	TitleLengthOffset:      3,
	TitleOffset:            4,
	ReservedSize:           3,
	MaxFragmentSize:        247,
	ContinuationHeaderSize: 2,
	TagSize:                12,
}

// Context holds the values scattered across the first fragment that are
// needed to rebuild the nonce.
type Context struct {
	Title             []byte
	Reserved          []byte
	InvocationCounter uint32
	HeaderLen         int
}

// Nonce returns the 12-byte GCM nonce: system title first, invocation
// counter (big endian) in the last four bytes, zeros in between.
func (c Context) Nonce() [NonceSize]byte {
	var nonce [NonceSize]byte
	copy(nonce[:], c.Title)
	binary.BigEndian.PutUint32(nonce[NonceSize-counterSize:], c.InvocationCounter)
	return nonce
}

// SystemTitle renders the title as upper-case hex.
func (c Context) SystemTitle() string {
	return strings.ToUpper(hex.EncodeToString(c.Title))
}

// Plaintext is authenticated, decrypted application data.
type Plaintext struct {
	Context Context
	Data    []byte
}

// ParseContext validates the application header of the first fragment and
// extracts title, reserved region and invocation counter.
func ParseContext(userData []byte, l Layout) (Context, error) {
	if len(userData) < len(l.StartMarker) {
		return Context{}, fmt.Errorf("%w (%d bytes)", ErrTruncated, len(userData))
	}
	if userData[0] != l.StartMarker[0] || userData[1] != l.StartMarker[1] {
		return Context{}, fmt.Errorf("%w: start 0x%02X%02X at offset 0", ErrInvalidApplicationHeader, userData[0], userData[1])
	}
	if l.TitleLengthOffset >= len(userData) || l.TitleOffset > len(userData) {
		return Context{}, fmt.Errorf("%w (%d bytes)", ErrTruncated, len(userData))
	}
	const suiteOffset = 2
	if userData[suiteOffset] != l.CipherSuite {
		return Context{}, fmt.Errorf("%w: 0x%02X at offset %d", ErrUnsupportedCipherSuite, userData[suiteOffset], suiteOffset)
	}
	titleLen := int(userData[l.TitleLengthOffset])
	if titleLen > maxTitleLength {
		return Context{}, fmt.Errorf("%w: system title length %d at offset %d", ErrInvalidApplicationHeader, titleLen, l.TitleLengthOffset)
	}
	headerLen := l.TitleOffset + titleLen + l.ReservedSize + counterSize
	if headerLen > len(userData) || headerLen > l.MaxFragmentSize {
		return Context{}, fmt.Errorf("%w (need %d bytes, have %d)", ErrTruncated, headerLen, len(userData))
	}
	reservedAt := l.TitleOffset + titleLen
	counterAt := reservedAt + l.ReservedSize
	return Context{
		Title:             append([]byte(nil), userData[l.TitleOffset:reservedAt]...),
		Reserved:          append([]byte(nil), userData[reservedAt:counterAt]...),
		InvocationCounter: binary.BigEndian.Uint32(userData[counterAt : counterAt+counterSize]),
		HeaderLen:         headerLen,
	}, nil
}

// Reassemble concatenates the ciphertext carried by every application
// fragment. Fragments after the first start on multiples of
// l.MaxFragmentSize and must repeat the start marker.
func Reassemble(userData []byte, c Context, l Layout) ([]byte, error) {
	firstEnd := min(len(userData), l.MaxFragmentSize)
	if c.HeaderLen > firstEnd {
		return nil, fmt.Errorf("%w (need %d bytes, have %d)", ErrTruncated, c.HeaderLen, firstEnd)
	}
	out := make([]byte, 0, len(userData))
	out = append(out, userData[c.HeaderLen:firstEnd]...)
	for i := l.MaxFragmentSize; i < len(userData); i += l.MaxFragmentSize {
		end := min(len(userData), i+l.MaxFragmentSize)
		if end-i < l.ContinuationHeaderSize {
			return nil, fmt.Errorf("%w: %d trailing bytes at offset %d", ErrInvalidFragmentHeader, end-i, i)
		}
		if userData[i] != l.StartMarker[0] || userData[i+1] != l.StartMarker[1] {
			return nil, fmt.Errorf("%w: 0x%02X%02X at offset %d", ErrInvalidFragmentHeader, userData[i], userData[i+1], i)
		}
		out = append(out, userData[i+l.ContinuationHeaderSize:end]...)
	}
	return out, nil
}

// Decrypt parses the cipher context, reassembles the fragmented ciphertext
// and opens it with AES-128-GCM. The trailing l.TagSize bytes are the
// authentication tag. No plaintext is returned unless the tag verifies.
func Decrypt(userData, key []byte, l Layout) (Plaintext, error) {
	aead, err := newAEAD(key, l)
	if err != nil {
		return Plaintext{}, err
	}
	c, err := ParseContext(userData, l)
	if err != nil {
		return Plaintext{}, err
	}
	ciphertext, err := Reassemble(userData, c, l)
	if err != nil {
		return Plaintext{}, err
	}
	if len(ciphertext) < l.TagSize {
		return Plaintext{}, fmt.Errorf("%w: ciphertext of %d bytes is shorter than the tag", ErrAuthenticationFailed, len(ciphertext))
	}
	nonce := c.Nonce()
	plain, err := aead.Open(ciphertext[:0], nonce[:], ciphertext, nil)
	if err != nil {
		return Plaintext{}, fmt.Errorf("%w (invocation counter %d)", ErrAuthenticationFailed, c.InvocationCounter)
	}
	return Plaintext{Context: c, Data: plain}, nil
}

// Seal encrypts plaintext and lays it out as application-layer user data
// with the ciphering header in the first fragment and continuation markers
// on every following fragment. A nil c.Reserved is zero-filled.
func Seal(plaintext, key []byte, c Context, l Layout) ([]byte, error) {
	aead, err := newAEAD(key, l)
	if err != nil {
		return nil, err
	}
	if len(c.Title) > maxTitleLength {
		return nil, fmt.Errorf("%w: system title length %d", ErrInvalidApplicationHeader, len(c.Title))
	}
	reserved := c.Reserved
	if reserved == nil {
		reserved = make([]byte, l.ReservedSize)
	}
	if len(reserved) != l.ReservedSize {
		return nil, fmt.Errorf("%w: reserved region of %d bytes, want %d", ErrInvalidApplicationHeader, len(reserved), l.ReservedSize)
	}
	header := make([]byte, l.TitleOffset, l.TitleOffset+len(c.Title)+len(reserved)+counterSize)
	header[0], header[1] = l.StartMarker[0], l.StartMarker[1]
	header[2] = l.CipherSuite
	header[l.TitleLengthOffset] = byte(len(c.Title))
	header = append(header, c.Title...)
	header = append(header, reserved...)
	header = binary.BigEndian.AppendUint32(header, c.InvocationCounter)
	if len(header) >= l.MaxFragmentSize {
		return nil, fmt.Errorf("%w: header of %d bytes does not fit a fragment", ErrInvalidApplicationHeader, len(header))
	}

	nonce := c.Nonce()
	sealed := aead.Seal(nil, nonce[:], plaintext, nil)

	out := append(header, sealed[:min(len(sealed), l.MaxFragmentSize-len(header))]...)
	rest := sealed[min(len(sealed), l.MaxFragmentSize-len(header)):]
	chunk := l.MaxFragmentSize - l.ContinuationHeaderSize
	for len(rest) > 0 {
		n := min(len(rest), chunk)
		out = append(out, l.StartMarker[:]...)
		out = append(out, make([]byte, l.ContinuationHeaderSize-len(l.StartMarker))...)
		out = append(out, rest[:n]...)
		rest = rest[n:]
	}
	return out, nil
}

func newAEAD(key []byte, l Layout) (cipher.AEAD, error) {
	if len(key) == 0 {
		return nil, ErrKeyRequired
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, l.TagSize)
	if err != nil {
		return nil, fmt.Errorf("gcm tag size %d: %w", l.TagSize, err)
	}
	return aead, nil
}
