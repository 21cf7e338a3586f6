package options

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// KeyEnv names the environment variable consulted when no key is configured.
const KeyEnv = "GOSMARTMETER_KEY"

const keySize = 16

type securityKeyCtx struct{}

// WithSecurityKey returns ctx carrying a copy of key. An empty key leaves ctx
// unchanged.
func WithSecurityKey(ctx context.Context, key []byte) context.Context {
	if len(key) == 0 {
		return ctx
	}
	return context.WithValue(ctx, securityKeyCtx{}, bytes.Clone(key))
}

// SecurityKey returns the key stored by WithSecurityKey, nil when absent.
func SecurityKey(ctx context.Context) []byte {
	key, _ := ctx.Value(securityKeyCtx{}).([]byte)
	return key
}

// ParseKeyHex decodes a 32-hex-digit AES-128 key. Whitespace, ':' and '-'
// separators and a 0x prefix are ignored. An empty input yields a nil key.
func ParseKeyHex(input string) ([]byte, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	clean := stripSeparators(input)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	if len(clean) != keySize*2 {
		return nil, fmt.Errorf("AES key must be %d hex digits (%d bytes), got %d", keySize*2, keySize, len(clean))
	}
	dst := make([]byte, keySize)
	if _, err := hex.Decode(dst, []byte(clean)); err != nil {
		return nil, fmt.Errorf("invalid AES key hex: %w", err)
	}
	return dst, nil
}

// ResolveKey parses configured when set and falls back to KeyEnv.
func ResolveKey(configured string) ([]byte, error) {
	if strings.TrimSpace(configured) == "" {
		configured = os.Getenv(KeyEnv)
	}
	return ParseKeyHex(configured)
}

func stripSeparators(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) || r == ':' || r == '-' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
