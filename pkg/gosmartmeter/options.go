package gosmartmeter

import (
	"github.com/d21d3q/gosmartmeter/internal/driver/t210d"
	internalopts "github.com/d21d3q/gosmartmeter/internal/options"
)

// DefaultProfile is used when Options.Profile is empty.
const DefaultProfile = t210d.Name

// Options configures a Pipeline.
type Options struct {
	// KeyHex is the AES-128 key as 32 hex digits. Ignored when Key is set.
	KeyHex string
	Key    []byte
	// Profile selects the meter profile, DefaultProfile when empty.
	Profile string
	// VerifyChecksum enables the M-Bus frame checksum check.
	VerifyChecksum bool
	// Guard, when set, rejects notifications whose invocation counter does
	// not increase.
	Guard *ReplayGuard
}

func (opts Options) key() ([]byte, error) {
	if len(opts.Key) > 0 {
		return append([]byte(nil), opts.Key...), nil
	}
	return internalopts.ParseKeyHex(opts.KeyHex)
}

func (opts Options) profile() string {
	if opts.Profile == "" {
		return DefaultProfile
	}
	return opts.Profile
}
