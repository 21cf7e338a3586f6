package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

var testKey = mustHex("000102030405060708090A0B0C0D0E0F")

// NIST GCM test case 3 with the IV split into an 8-byte system title and a
// 4-byte invocation counter, tag truncated to 12 bytes.
func TestDecryptKnownVector(t *testing.T) {
	key := mustHex("feffe9928665731c6d6a8f9467308308")
	userData := mustHex("0167DB08" + "cafebabefacedbad" + "81F820" + "decaf888" +
		"42831ec2217774244b7221b784d0d49ce3aa212f2c02a4e035c17e2329aca12e" +
		"21d514b25466931c7d8f6a5aac84aa051ba30b396a0aac973d58e091473f5985" +
		"4d5c2af327cd64a62cf35abd")
	want := mustHex("d9313225f88406e5a55909c5aff5269a86a7a9531534f7da2e4c303d8a318a72" +
		"1c3c0c95956809532fcf0e2449a6b525b16aedf5aa0de657ba637b391aafd255")

	pt, err := Decrypt(userData, key, DefaultLayout)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(pt.Data, want) {
		t.Fatalf("unexpected plaintext % X", pt.Data)
	}
	if pt.Context.InvocationCounter != 0xDECAF888 {
		t.Fatalf("unexpected invocation counter 0x%08X", pt.Context.InvocationCounter)
	}
	if pt.Context.SystemTitle() != "CAFEBABEFACEDBAD" {
		t.Fatalf("unexpected system title %s", pt.Context.SystemTitle())
	}
	if pt.Context.HeaderLen != 4+8+3+4 {
		t.Fatalf("unexpected header length %d", pt.Context.HeaderLen)
	}
}

func TestNonceLayout(t *testing.T) {
	c := Context{Title: []byte("SAG\x05\x01\x02\x03\x04"), InvocationCounter: 0x0A0B0C0D}
	nonce := c.Nonce()
	want := []byte{'S', 'A', 'G', 0x05, 0x01, 0x02, 0x03, 0x04, 0x0A, 0x0B, 0x0C, 0x0D}
	if !bytes.Equal(nonce[:], want) {
		t.Fatalf("unexpected nonce % X", nonce)
	}

	short := Context{Title: []byte{0xAA, 0xBB}, InvocationCounter: 1}.Nonce()
	if !bytes.Equal(short[:], []byte{0xAA, 0xBB, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}) {
		t.Fatalf("unexpected nonce for short title % X", short)
	}

	long := Context{Title: bytes.Repeat([]byte{0xEE}, 12), InvocationCounter: 2}.Nonce()
	if !bytes.Equal(long[:], []byte{0xEE, 0xEE, 0xEE, 0xEE, 0xEE, 0xEE, 0xEE, 0xEE, 0, 0, 0, 2}) {
		t.Fatalf("unexpected nonce for long title % X", long)
	}
}

func TestSealDecryptRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 50, 247, 600} {
		plain := make([]byte, n)
		for i := range plain {
			plain[i] = byte(i * 7)
		}
		c := Context{Title: []byte("SAGY1234"), Reserved: []byte{0x81, 0xF8, 0x20}, InvocationCounter: uint32(1000 + n)}
		userData, err := Seal(plain, testKey, c, DefaultLayout)
		if err != nil {
			t.Fatalf("n=%d: Seal: %v", n, err)
		}
		pt, err := Decrypt(userData, testKey, DefaultLayout)
		if err != nil {
			t.Fatalf("n=%d: Decrypt: %v", n, err)
		}
		if !bytes.Equal(pt.Data, plain) {
			t.Fatalf("n=%d: plaintext differs", n)
		}
		if pt.Context.InvocationCounter != c.InvocationCounter || !bytes.Equal(pt.Context.Reserved, c.Reserved) {
			t.Fatalf("n=%d: unexpected context %+v", n, pt.Context)
		}
	}
}

func TestSealFragmentsWithContinuationMarker(t *testing.T) {
	userData, err := Seal(make([]byte, 400), testKey, Context{Title: []byte("SAGY1234")}, DefaultLayout)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(userData) <= DefaultLayout.MaxFragmentSize {
		t.Fatalf("expected more than one fragment, got %d bytes", len(userData))
	}
	at := DefaultLayout.MaxFragmentSize
	if userData[at] != 0x01 || userData[at+1] != 0x67 {
		t.Fatalf("missing continuation marker, got % X", userData[at:at+2])
	}
	// 19 byte header, 400 bytes of data, 12 byte tag, one 2 byte marker.
	if len(userData) != 19+400+12+2 {
		t.Fatalf("unexpected user data length %d", len(userData))
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	c := Context{Title: []byte("SAGY1234"), Reserved: []byte{0x81, 0xF8, 0x20}, InvocationCounter: 77}
	userData, err := Seal(make([]byte, 300), testKey, c, DefaultLayout)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	// Counter, first ciphertext byte, a byte in the second fragment, last tag byte.
	for _, pos := range []int{18, 19, DefaultLayout.MaxFragmentSize + 10, len(userData) - 1} {
		mutated := append([]byte(nil), userData...)
		mutated[pos] ^= 0x01
		pt, err := Decrypt(mutated, testKey, DefaultLayout)
		if !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("pos %d: expected ErrAuthenticationFailed, got %v", pos, err)
		}
		if pt.Data != nil {
			t.Fatalf("pos %d: plaintext returned on failure", pos)
		}
	}

	wrongKey := append([]byte(nil), testKey...)
	wrongKey[0] ^= 0x80
	if _, err := Decrypt(userData, wrongKey, DefaultLayout); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed for wrong key, got %v", err)
	}
}

func TestDecryptHeaderErrors(t *testing.T) {
	valid, err := Seal(make([]byte, 300), testKey, Context{Title: []byte("SAGY1234")}, DefaultLayout)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	mutate := func(pos int, v byte) []byte {
		out := append([]byte(nil), valid...)
		out[pos] = v
		return out
	}
	cases := []struct {
		name string
		data []byte
		want error
	}{
		{name: "empty", data: nil, want: ErrInvalidApplicationHeader},
		{name: "first marker byte", data: mutate(0, 0x02), want: ErrInvalidApplicationHeader},
		{name: "second marker byte", data: mutate(1, 0x68), want: ErrInvalidApplicationHeader},
		{name: "cipher suite", data: mutate(2, 0xDC), want: ErrUnsupportedCipherSuite},
		{name: "title too long", data: mutate(3, 17), want: ErrInvalidApplicationHeader},
		{name: "header cut", data: valid[:10], want: ErrTruncated},
		{name: "continuation marker", data: mutate(DefaultLayout.MaxFragmentSize+1, 0x66), want: ErrInvalidFragmentHeader},
		{name: "dangling continuation byte", data: valid[:DefaultLayout.MaxFragmentSize+1], want: ErrInvalidFragmentHeader},
		{name: "shorter than tag", data: valid[:19+5], want: ErrAuthenticationFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pt, err := Decrypt(tc.data, testKey, DefaultLayout)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if pt.Data != nil {
				t.Fatalf("plaintext returned on failure")
			}
		})
	}
}

func TestDecryptKeyErrors(t *testing.T) {
	userData, err := Seal([]byte{1, 2, 3}, testKey, Context{Title: []byte("SAGY1234")}, DefaultLayout)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Decrypt(userData, nil, DefaultLayout); !errors.Is(err, ErrKeyRequired) {
		t.Fatalf("expected ErrKeyRequired, got %v", err)
	}
	if _, err := Decrypt(userData, testKey[:15], DefaultLayout); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestSealRejectsBadContext(t *testing.T) {
	if _, err := Seal(nil, testKey, Context{Title: make([]byte, 17)}, DefaultLayout); !errors.Is(err, ErrInvalidApplicationHeader) {
		t.Fatalf("expected ErrInvalidApplicationHeader for long title, got %v", err)
	}
	if _, err := Seal(nil, testKey, Context{Reserved: []byte{1}}, DefaultLayout); !errors.Is(err, ErrInvalidApplicationHeader) {
		t.Fatalf("expected ErrInvalidApplicationHeader for reserved size, got %v", err)
	}
}

func TestDecryptNeverPanics(t *testing.T) {
	userData, err := Seal(make([]byte, 500), testKey, Context{Title: []byte("SAGY1234")}, DefaultLayout)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	for i := 0; i <= len(userData); i++ {
		_, _ = Decrypt(userData[:i], testKey, DefaultLayout)
	}
	for i := 0; i < 30; i++ {
		mutated := append([]byte(nil), userData...)
		mutated[i] = 0xFF
		_, _ = Decrypt(mutated, testKey, DefaultLayout)
	}
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
