package gosmartmeter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/d21d3q/gosmartmeter/internal/cosem"
	"github.com/d21d3q/gosmartmeter/internal/obis"
)

// Measurement is one classified value from a notification.
type Measurement = cosem.Measurement

// MeasurementKind names what a measurement represents.
type MeasurementKind = obis.Kind

const (
	Timestamp           = obis.Timestamp
	SerialNumber        = obis.SerialNumber
	DeviceName          = obis.DeviceName
	VoltageL1           = obis.VoltageL1
	VoltageL2           = obis.VoltageL2
	VoltageL3           = obis.VoltageL3
	CurrentL1           = obis.CurrentL1
	CurrentL2           = obis.CurrentL2
	CurrentL3           = obis.CurrentL3
	ActivePowerPlus     = obis.ActivePowerPlus
	ActivePowerMinus    = obis.ActivePowerMinus
	ActiveEnergyPlus    = obis.ActiveEnergyPlus
	ActiveEnergyMinus   = obis.ActiveEnergyMinus
	ReactiveEnergyPlus  = obis.ReactiveEnergyPlus
	ReactiveEnergyMinus = obis.ReactiveEnergyMinus
)

// ParseKind resolves a kind from its snake_case name.
func ParseKind(name string) (MeasurementKind, error) { return obis.ParseKind(name) }

// MeasurementSet holds at most one measurement per kind, ordered by kind.
type MeasurementSet struct {
	items []Measurement
}

// NewMeasurementSet builds a set from ms. When a kind repeats, the last
// occurrence wins.
func NewMeasurementSet(ms []Measurement) MeasurementSet {
	return MeasurementSet{}.Merge(ms)
}

// Merge returns a new set with ms applied on top of s, last write wins.
func (s MeasurementSet) Merge(ms []Measurement) MeasurementSet {
	byKind := make(map[obis.Kind]Measurement, len(s.items)+len(ms))
	for _, m := range s.items {
		byKind[m.Kind] = m
	}
	for _, m := range ms {
		if m.Kind == obis.Unknown {
			continue
		}
		byKind[m.Kind] = m
	}
	items := make([]Measurement, 0, len(byKind))
	for _, m := range byKind {
		items = append(items, m)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Kind < items[j].Kind })
	return MeasurementSet{items: items}
}

func (s MeasurementSet) Len() int { return len(s.items) }

// All returns a copy of the measurements in kind order.
func (s MeasurementSet) All() []Measurement {
	return append([]Measurement(nil), s.items...)
}

// Kinds lists the kinds present in the set.
func (s MeasurementSet) Kinds() []MeasurementKind {
	out := make([]MeasurementKind, len(s.items))
	for i, m := range s.items {
		out[i] = m.Kind
	}
	return out
}

func (s MeasurementSet) Get(k MeasurementKind) (Measurement, bool) {
	i := sort.Search(len(s.items), func(i int) bool { return s.items[i].Kind >= k })
	if i < len(s.items) && s.items[i].Kind == k {
		return s.items[i], true
	}
	return Measurement{}, false
}

// Float returns the numeric value of k.
func (s MeasurementSet) Float(k MeasurementKind) (float64, error) {
	m, ok := s.Get(k)
	if !ok {
		return 0, fmt.Errorf("measurement %q missing", k)
	}
	if m.IsText() {
		return 0, fmt.Errorf("measurement %q is not numeric", k)
	}
	return m.Value, nil
}

// Text returns the string value of k.
func (s MeasurementSet) Text(k MeasurementKind) (string, error) {
	m, ok := s.Get(k)
	if !ok {
		return "", fmt.Errorf("measurement %q missing", k)
	}
	if !m.IsText() {
		return "", fmt.Errorf("measurement %q is not text", k)
	}
	return m.Text, nil
}

// Map renders the set as {kind_name: value}.
func (s MeasurementSet) Map() map[string]any {
	out := make(map[string]any, len(s.items))
	for _, m := range s.items {
		if m.IsText() {
			out[m.Kind.String()] = m.Text
		} else {
			out[m.Kind.String()] = m.Value
		}
	}
	return out
}

func (s MeasurementSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}

// UnmarshalJSON accepts the Map form. Unknown keys are rejected.
func (s *MeasurementSet) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	set, err := MeasurementSetFromMap(raw)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// MeasurementSetFromMap is the inverse of Map. Numbers may arrive as any Go
// numeric type, so decoders other than encoding/json can share it.
func MeasurementSetFromMap(raw map[string]any) (MeasurementSet, error) {
	ms := make([]Measurement, 0, len(raw))
	for name, v := range raw {
		k, err := obis.ParseKind(name)
		if err != nil {
			return MeasurementSet{}, err
		}
		m := Measurement{Kind: k}
		if code, ok := obis.CodeFor(k); ok {
			m.Code = code
		}
		switch val := v.(type) {
		case string:
			m.Text = val
		case float64:
			m.Value = val
		case float32:
			m.Value = float64(val)
		case int64:
			m.Value = float64(val)
		case uint64:
			m.Value = float64(val)
		case int:
			m.Value = float64(val)
		default:
			return MeasurementSet{}, fmt.Errorf("measurement %q has unsupported type %T", name, v)
		}
		ms = append(ms, m)
	}
	return NewMeasurementSet(ms), nil
}

// ParseAssignment parses "kind=value", e.g. "voltage_l1=230.5" or
// "device_name=T210-D".
func ParseAssignment(s string) (Measurement, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok {
		return Measurement{}, fmt.Errorf("expected kind=value, got %q", s)
	}
	k, err := obis.ParseKind(strings.TrimSpace(name))
	if err != nil {
		return Measurement{}, err
	}
	m := Measurement{Kind: k}
	if code, ok := obis.CodeFor(k); ok {
		m.Code = code
	}
	value = strings.TrimSpace(value)
	if k.IsText() {
		m.Text = value
		return m, nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return Measurement{}, fmt.Errorf("%s: %w", k, err)
	}
	m.Value = v
	return m, nil
}
