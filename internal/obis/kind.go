package obis

import (
	"fmt"
	"strings"
)

// Kind is the semantic category of a decoded measurement.
type Kind int

const (
	Unknown Kind = iota
	Timestamp
	SerialNumber
	DeviceName
	VoltageL1
	VoltageL2
	VoltageL3
	CurrentL1
	CurrentL2
	CurrentL3
	ActivePowerPlus
	ActivePowerMinus
	ActiveEnergyPlus
	ActiveEnergyMinus
	ReactiveEnergyPlus
	ReactiveEnergyMinus
)

// Shape is the value representation a kind expects on the wire.
type Shape int

const (
	ShapeNone Shape = iota
	// ShapeScaled is a LongUnsigned value with a trailing scaler byte.
	ShapeScaled
	// ShapeCounter is a DoubleLongUnsigned value.
	ShapeCounter
	ShapeText
	ShapeDateTime
)

type kindInfo struct {
	name  string
	unit  string
	shape Shape
}

var kinds = [...]kindInfo{
	Unknown:             {"unknown", "", ShapeNone},
	Timestamp:           {"timestamp", "", ShapeDateTime},
	SerialNumber:        {"serial_number", "", ShapeText},
	DeviceName:          {"device_name", "", ShapeText},
	VoltageL1:           {"voltage_l1", "V", ShapeScaled},
	VoltageL2:           {"voltage_l2", "V", ShapeScaled},
	VoltageL3:           {"voltage_l3", "V", ShapeScaled},
	CurrentL1:           {"current_l1", "A", ShapeScaled},
	CurrentL2:           {"current_l2", "A", ShapeScaled},
	CurrentL3:           {"current_l3", "A", ShapeScaled},
	ActivePowerPlus:     {"active_power_plus", "W", ShapeCounter},
	ActivePowerMinus:    {"active_power_minus", "W", ShapeCounter},
	ActiveEnergyPlus:    {"active_energy_plus", "Wh", ShapeCounter},
	ActiveEnergyMinus:   {"active_energy_minus", "Wh", ShapeCounter},
	ReactiveEnergyPlus:  {"reactive_energy_plus", "varh", ShapeCounter},
	ReactiveEnergyMinus: {"reactive_energy_minus", "varh", ShapeCounter},
}

func (k Kind) info() kindInfo {
	if k < 0 || int(k) >= len(kinds) {
		return kinds[Unknown]
	}
	return kinds[k]
}

// String returns the snake_case name used for JSON keys and storage.
func (k Kind) String() string { return k.info().name }

// Unit returns the physical unit, or "" for text values.
func (k Kind) Unit() string { return k.info().unit }

// ValueShape reports which wire representation the kind accepts.
func (k Kind) ValueShape() Shape { return k.info().shape }

// IsText reports whether the kind carries a string rather than a number.
func (k Kind) IsText() bool {
	s := k.ValueShape()
	return s == ShapeText || s == ShapeDateTime
}

// Kinds lists every known kind except Unknown in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds)-1)
	for k := Timestamp; int(k) < len(kinds); k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind resolves a snake_case name (case-insensitive).
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, info := range kinds {
		if Kind(k) != Unknown && info.name == name {
			return Kind(k), nil
		}
	}
	return Unknown, fmt.Errorf("unknown measurement kind %q", name)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
