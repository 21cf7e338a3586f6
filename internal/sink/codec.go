package sink

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/d21d3q/gosmartmeter/pkg/gosmartmeter"
)

// Codec serializes readings for the wire.
type Codec interface {
	Name() string
	Marshal(r Reading) ([]byte, error)
	Unmarshal(data []byte) (Reading, error)
	// Binary reports whether the encoding is not valid text.
	Binary() bool
}

type wireReading struct {
	At          time.Time      `json:"at" cbor:"at"`
	SystemTitle string         `json:"system_title" cbor:"system_title"`
	Counter     uint32         `json:"invocation_counter" cbor:"invocation_counter"`
	Values      map[string]any `json:"values" cbor:"values"`
}

func toWire(r Reading) wireReading {
	return wireReading{At: r.At, SystemTitle: r.SystemTitle, Counter: r.Counter, Values: r.Values.Map()}
}

func fromWire(w wireReading) (Reading, error) {
	values, err := gosmartmeter.MeasurementSetFromMap(w.Values)
	if err != nil {
		return Reading{}, err
	}
	return Reading{At: w.At, SystemTitle: w.SystemTitle, Counter: w.Counter, Values: values}, nil
}

// NewCodec returns the codec called name: json or cbor.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "json":
		return JSON{}, nil
	case "cbor":
		c, err := newCBOR()
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
}

type JSON struct{}

func (JSON) Name() string { return "json" }
func (JSON) Binary() bool { return false }

func (JSON) Marshal(r Reading) ([]byte, error) {
	return json.Marshal(toWire(r))
}

func (JSON) Unmarshal(data []byte) (Reading, error) {
	var w wireReading
	if err := json.Unmarshal(data, &w); err != nil {
		return Reading{}, err
	}
	return fromWire(w)
}

// CBOR writes timestamps as RFC 3339 text and sorts map keys so equal
// readings encode to equal bytes.
type CBOR struct {
	enc cbor.EncMode
}

func newCBOR() (*CBOR, error) {
	enc, err := cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		return nil, err
	}
	return &CBOR{enc: enc}, nil
}

func (*CBOR) Name() string { return "cbor" }
func (*CBOR) Binary() bool { return true }

func (c *CBOR) Marshal(r Reading) ([]byte, error) {
	return c.enc.Marshal(toWire(r))
}

func (*CBOR) Unmarshal(data []byte) (Reading, error) {
	var w wireReading
	if err := cbor.Unmarshal(data, &w); err != nil {
		return Reading{}, err
	}
	return fromWire(w)
}
