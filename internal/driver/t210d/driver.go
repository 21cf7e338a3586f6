package t210d

import (
	"context"

	"github.com/d21d3q/gosmartmeter/internal/cosem"
	"github.com/d21d3q/gosmartmeter/internal/crypto"
	"github.com/d21d3q/gosmartmeter/internal/driver"
)

// Name is the profile name used in configuration and on the command line.
const Name = "t210d"

// M-Bus link fields the meter uses on its push port.
const (
	Control = 0x53
	Address = 0xFF
)

// Reserved is the region between system title and invocation counter as
// the meter sends it: a long-form length prefix and the security control
// byte.
var Reserved = []byte{0x81, 0xF8, 0x20}

// Scaler exponents the meter reports for LongUnsigned values.
const (
	VoltageScaler int8 = -1
	CurrentScaler int8 = -2
)

func init() {
	driver.Register(Driver{})
}

// Driver decodes Sagemcom T210-D style push notifications: general-glo-ciphered
// data notifications split across two M-Bus long frames.
type Driver struct{}

func (Driver) Name() string { return Name }

func (Driver) Layout() crypto.Layout { return crypto.DefaultLayout }

// Process decodes the notification body into measurements.
func (Driver) Process(ctx context.Context, pt crypto.Plaintext) ([]cosem.Measurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return cosem.Decode(pt.Data)
}
