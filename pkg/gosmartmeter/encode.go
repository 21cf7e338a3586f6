package gosmartmeter

import (
	"fmt"
	"math"
	"time"

	"github.com/d21d3q/gosmartmeter/internal/cosem"
	"github.com/d21d3q/gosmartmeter/internal/crypto"
	"github.com/d21d3q/gosmartmeter/internal/driver"
	"github.com/d21d3q/gosmartmeter/internal/driver/t210d"
	"github.com/d21d3q/gosmartmeter/internal/frame"
	"github.com/d21d3q/gosmartmeter/internal/obis"
)

// DefaultSystemTitle is used by Encode when no title is given.
var DefaultSystemTitle = []byte("SAG\x10\x30\x70\x00\x01")

// EncodeOptions configures Encode.
type EncodeOptions struct {
	KeyHex            string
	Key               []byte
	Profile           string
	SystemTitle       []byte
	InvocationCounter uint32
	// Time stamps the notification header. Zero means now.
	Time time.Time
}

// Encode builds the raw M-Bus frames a meter would push for ms: a data
// notification body, encrypted and fragmented, wrapped in long frames.
// Measurements are written in the order given.
func Encode(ms []Measurement, opts EncodeOptions) ([]byte, error) {
	key, err := Options{KeyHex: opts.KeyHex, Key: opts.Key}.key()
	if err != nil {
		return nil, err
	}
	profile := opts.Profile
	if profile == "" {
		profile = DefaultProfile
	}
	drv, err := driver.Lookup(profile)
	if err != nil {
		return nil, err
	}
	ts := opts.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	body, err := buildBody(ms, ts)
	if err != nil {
		return nil, err
	}
	title := opts.SystemTitle
	if title == nil {
		title = DefaultSystemTitle
	}
	userData, err := crypto.Seal(body, key, crypto.Context{
		Title:             title,
		Reserved:          t210d.Reserved,
		InvocationCounter: opts.InvocationCounter,
	}, drv.Layout())
	if err != nil {
		return nil, err
	}
	return frame.Wrap(userData, t210d.Control, t210d.Address), nil
}

func buildBody(ms []Measurement, ts time.Time) ([]byte, error) {
	b := cosem.NewBodyBuilder(ts)
	for _, m := range ms {
		code := m.Code
		if code == (obis.Code{}) {
			c, ok := obis.CodeFor(m.Kind)
			if !ok {
				return nil, fmt.Errorf("no OBIS code for measurement kind %q", m.Kind)
			}
			code = c
		}
		switch m.Kind.ValueShape() {
		case obis.ShapeScaled:
			scaler := t210d.VoltageScaler
			if m.Kind.Unit() == "A" {
				scaler = t210d.CurrentScaler
			}
			raw := math.Round(m.Value * math.Pow10(-int(scaler)))
			if raw < 0 || raw > math.MaxUint16 {
				return nil, fmt.Errorf("%s value %v out of range", m.Kind, m.Value)
			}
			b.AddU16(code, uint16(raw), scaler, cosem.UnitFor(m.Kind))
		case obis.ShapeCounter:
			raw := math.Round(m.Value)
			if raw < 0 || raw > math.MaxUint32 {
				return nil, fmt.Errorf("%s value %v out of range", m.Kind, m.Value)
			}
			b.AddU32(code, uint32(raw), 0, cosem.UnitFor(m.Kind))
		case obis.ShapeDateTime:
			at, err := time.Parse(time.RFC3339, m.Text)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m.Kind, err)
			}
			b.AddDateTime(code, at)
		case obis.ShapeText:
			b.AddOctets(code, []byte(m.Text))
		default:
			return nil, fmt.Errorf("cannot encode measurement kind %q", m.Kind)
		}
	}
	return b.Bytes(), nil
}
