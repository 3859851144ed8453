package ezo

import (
	"fmt"
	"math"
	"strconv"
)

// Value holds a measured quantity. The zero Value is unset, so a fresh
// snapshot can be told apart from a stamp that actually reported 0 or 7.0
type Value struct {
	v  float64
	ok bool
}

// NewValue returns a set Value
func NewValue(f float64) Value {
	return Value{v: f, ok: true}
}

// Float returns the value and whether it has been set
func (v Value) Float() (float64, bool) {
	return v.v, v.ok
}

// Valid reports whether the value has been set
func (v Value) Valid() bool {
	return v.ok
}

func (v Value) String() string {
	if !v.ok {
		return "unset"
	}
	return strconv.FormatFloat(v.v, 'f', -1, 64)
}

// MarshalJSON encodes an unset Value as null
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.ok || math.IsNaN(v.v) || math.IsInf(v.v, 0) {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(v.v, 'f', -1, 64)), nil
}

// CalState is the pH calibration state as reported by "?CAL,x"
type CalState int

// Calibration states. CalUnset never appears on the wire.
const (
	CalUnset   CalState = -1
	CalCleared CalState = 0
	CalMid     CalState = 1
	CalLow     CalState = 2
	CalHigh    CalState = 3
)

var calStateNames = map[CalState]string{
	CalUnset:   "unset",
	CalCleared: "cleared",
	CalMid:     "mid",
	CalLow:     "low",
	CalHigh:    "high",
}

func (c CalState) String() string {
	if s, ok := calStateNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CalState(%d)", int(c))
}

// Probe types as reported by the "?I," response
const (
	ProbePH  = "pH"
	ProbeORP = "ORP"
	ProbeEC  = "EC"
	ProbeDO  = "DO"
)

// Reset codes as reported by the "?STATUS," response
const (
	ResetPowerOn  = "P"
	ResetSoftware = "S"
	ResetBrownOut = "B"
	ResetWatchdog = "W"
	ResetUnknown  = "U"
)

// Physically valid measurement ranges, both bounds exclusive
const (
	MinPH  = 0.0
	MaxPH  = 14.0
	MinORP = -1021.0
	MaxORP = 1021.0
)

// Properties is the last known state of one connected EZO stamp
type Properties struct {
	LedOn bool `json:"led_on"`

	CurrentPh          Value `json:"ph"`
	CurrentOrp         Value `json:"orp"`
	CurrentEc          Value `json:"ec"`
	CurrentTemperature Value `json:"temperature"`

	CalibrationState CalState `json:"calibration_state"`
	AcidSlope        float64  `json:"acid_slope"`
	BasicSlope       float64  `json:"basic_slope"`

	ProbeType       string  `json:"probe_type,omitempty"`
	FirmwareVersion string  `json:"firmware_version,omitempty"`
	ResetCode       string  `json:"reset_code,omitempty"`
	SupplyVoltage   float64 `json:"supply_voltage"`

	I2cAddress        int8   `json:"i2c_address"`
	DeviceName        string `json:"device_name,omitempty"`
	BaudRate          int    `json:"baud_rate"`
	TransportIsSerial bool   `json:"transport_is_serial"`
}

// DefaultBaudRate is the factory UART speed of EZO stamps
const DefaultBaudRate = 9600

// NewProperties returns the snapshot of a freshly connected stamp
func NewProperties() Properties {
	return Properties{
		LedOn:             true,
		CalibrationState:  CalUnset,
		I2cAddress:        -1,
		BaudRate:          DefaultBaudRate,
		TransportIsSerial: true,
	}
}

// Measurement returns the reading matching the identified probe type
func (p Properties) Measurement() Value {
	switch p.ProbeType {
	case ProbePH:
		return p.CurrentPh
	case ProbeORP:
		return p.CurrentOrp
	case ProbeEC:
		return p.CurrentEc
	}
	return Value{}
}
