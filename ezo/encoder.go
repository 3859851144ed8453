package ezo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CR terminates every command and response frame
const CR byte = '\r'

var (
	// ErrInvalidArgument is returned by builders for parameters the stamp would reject
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownOperation is returned by Encoder.Build for unknown operation names
	ErrUnknownOperation = errors.New("unknown operation")
)

// CalStage selects the pH calibration point
type CalStage int

const (
	StageClear CalStage = iota
	StageMid
	StageLow
	StageHigh
)

// ParseCalStage accepts "clear", "mid", "low", "high" or the digits 0..3
func ParseCalStage(s string) (CalStage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "clear", "0":
		return StageClear, nil
	case "mid", "1":
		return StageMid, nil
	case "low", "2":
		return StageLow, nil
	case "high", "3":
		return StageHigh, nil
	}
	return 0, fmt.Errorf("calibration stage %q: %w", s, ErrInvalidArgument)
}

// BaudRates lists the UART speeds accepted by the SERIAL command
var BaudRates = []int{300, 1200, 2400, 9600, 19200, 38400, 57600, 115200}

const maxNameLen = 16

// Encoder builds command frames for one EZO stamp. It is either in pure
// serial mode or addresses the stamp through an I2C bus ("addr:" prefix).
type Encoder struct {
	i2cAddress int8
}

// NewEncoder returns an Encoder in pure serial mode
func NewEncoder() *Encoder {
	return &Encoder{i2cAddress: -1}
}

// SetI2cAddress switches to I2C addressing; -1 switches back to serial mode
func (e *Encoder) SetI2cAddress(addr int8) error {
	if addr != -1 && addr < 1 {
		return fmt.Errorf("i2c address %d: %w", addr, ErrInvalidArgument)
	}
	e.i2cAddress = addr
	return nil
}

// I2cAddress returns the configured address, -1 in serial mode
func (e *Encoder) I2cAddress() int8 {
	return e.i2cAddress
}

// Addressed reports whether frames carry an I2C address prefix
func (e *Encoder) Addressed() bool {
	return e.i2cAddress >= 0
}

func (e *Encoder) frame(body string) []byte {
	b := make([]byte, 0, len(body)+5)
	if e.Addressed() {
		b = strconv.AppendInt(b, int64(e.i2cAddress), 10)
		b = append(b, ':')
	}
	b = append(b, body...)
	return append(b, CR)
}

func onOff(prefix string, state bool) string {
	if state {
		return prefix + ",1"
	}
	return prefix + ",0"
}

func (e *Encoder) ReadLED() []byte { return e.frame("L,?") }

func (e *Encoder) WriteLED(state bool) []byte { return e.frame(onOff("L", state)) }

func (e *Encoder) ReadContinuous() []byte { return e.frame("C,?") }

func (e *Encoder) WriteContinuous(state bool) []byte { return e.frame(onOff("C", state)) }

// ReadMeasurement requests a single reading
func (e *Encoder) ReadMeasurement() []byte { return e.frame("R") }

func (e *Encoder) ReadTemperature() []byte { return e.frame("T,?") }

// WriteTemperature sets the temperature compensation in °C
func (e *Encoder) WriteTemperature(t float64) ([]byte, error) {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return nil, fmt.Errorf("temperature %v: %w", t, ErrInvalidArgument)
	}
	return e.frame("T," + strconv.FormatFloat(t, 'f', 2, 64)), nil
}

func (e *Encoder) ReadCalibrationState() []byte { return e.frame("Cal,?") }

// CalibratePh performs one step of the three point pH calibration
func (e *Encoder) CalibratePh(stage CalStage) ([]byte, error) {
	switch stage {
	case StageClear:
		return e.frame("Cal,clear"), nil
	case StageMid:
		return e.frame("Cal,mid,7.00"), nil
	case StageLow:
		return e.frame("Cal,low,4.00"), nil
	case StageHigh:
		return e.frame("Cal,high,10.00"), nil
	}
	return nil, fmt.Errorf("calibration stage %d: %w", stage, ErrInvalidArgument)
}

// CalibrateOrp calibrates an ORP stamp against a reference solution in mV
func (e *Encoder) CalibrateOrp(ref float64) ([]byte, error) {
	if math.IsNaN(ref) || math.IsInf(ref, 0) {
		return nil, fmt.Errorf("orp reference %v: %w", ref, ErrInvalidArgument)
	}
	return e.frame("Cal," + strconv.FormatFloat(ref, 'f', 1, 64)), nil
}

func (e *Encoder) ReadSlope() []byte { return e.frame("SLOPE,?") }

// ReadInfo queries probe type and firmware. The I2C/Tentacle firmware
// expects "?I" where the USB stamp expects "I".
func (e *Encoder) ReadInfo() []byte {
	if e.Addressed() {
		return e.frame("?I")
	}
	return e.frame("I")
}

func (e *Encoder) ReadStatus() []byte { return e.frame("STATUS") }

func (e *Encoder) ReadName() []byte { return e.frame("NAME,?") }

// WriteName sets the device name; at most 16 printable characters, no
// whitespace and no commas
func (e *Encoder) WriteName(name string) ([]byte, error) {
	if name == "" || len(name) > maxNameLen {
		return nil, fmt.Errorf("name %q: %w", name, ErrInvalidArgument)
	}
	for i := 0; i < len(name); i++ {
		if c := name[i]; c <= ' ' || c > '~' || c == ',' {
			return nil, fmt.Errorf("name %q: %w", name, ErrInvalidArgument)
		}
	}
	return e.frame("NAME," + name), nil
}

func (e *Encoder) ReadResponseMode() []byte { return e.frame("RESPONSE,?") }

func (e *Encoder) WriteResponseMode(state bool) []byte { return e.frame(onOff("RESPONSE", state)) }

func (e *Encoder) Sleep() []byte { return e.frame("SLEEP") }

// ChangeSerialBaud switches the stamp to UART mode at the given speed
func (e *Encoder) ChangeSerialBaud(baud int) ([]byte, error) {
	for _, b := range BaudRates {
		if b == baud {
			return e.frame("SERIAL," + strconv.Itoa(baud)), nil
		}
	}
	return nil, fmt.Errorf("baud rate %d: %w", baud, ErrInvalidArgument)
}

// ChangeI2CAddress moves the stamp to a new I2C address
func (e *Encoder) ChangeI2CAddress(addr int8) ([]byte, error) {
	if addr < 1 {
		return nil, fmt.Errorf("i2c address %d: %w", addr, ErrInvalidArgument)
	}
	return e.frame("I2C," + strconv.Itoa(int(addr))), nil
}

// FactoryReset resets the stamp. On I2C the reset is confirmed by
// re-querying STATUS and checking for reset code "S".
func (e *Encoder) FactoryReset() []byte {
	if e.Addressed() {
		return e.frame("STATUS")
	}
	return e.frame("Factory")
}

// Op names an encoder operation for Build
type Op string

const (
	OpReadLED              Op = "read_led"
	OpWriteLED             Op = "write_led"
	OpReadContinuous       Op = "read_continuous"
	OpWriteContinuous      Op = "write_continuous"
	OpReadMeasurement      Op = "read_measurement"
	OpReadTemperature      Op = "read_temperature"
	OpWriteTemperature     Op = "write_temperature"
	OpReadCalibrationState Op = "read_calibration_state"
	OpCalibratePh          Op = "calibrate_ph"
	OpCalibrateOrp         Op = "calibrate_orp"
	OpReadSlope            Op = "read_slope"
	OpReadInfo             Op = "read_info"
	OpReadStatus           Op = "read_status"
	OpReadName             Op = "read_name"
	OpWriteName            Op = "write_name"
	OpReadResponseMode     Op = "read_response_mode"
	OpWriteResponseMode    Op = "write_response_mode"
	OpSleep                Op = "sleep"
	OpChangeSerialBaud     Op = "change_serial_baud"
	OpChangeI2CAddress     Op = "change_i2c_address"
	OpFactoryReset         Op = "factory_reset"
)

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on":
		return true, nil
	case "0", "false", "off":
		return false, nil
	}
	return false, fmt.Errorf("boolean %q: %w", s, ErrInvalidArgument)
}

func parseFloat(s string) (float64, error) {
	f := parseNumber(s)
	if math.IsNaN(f) {
		return 0, fmt.Errorf("number %q: %w", s, ErrInvalidArgument)
	}
	return f, nil
}

// Build returns the frame for op, decoding its parameter from arg.
// Operations without parameters ignore arg.
func (e *Encoder) Build(op Op, arg string) ([]byte, error) {
	switch op {
	case OpReadLED:
		return e.ReadLED(), nil
	case OpWriteLED:
		b, err := parseBool(arg)
		if err != nil {
			return nil, err
		}
		return e.WriteLED(b), nil
	case OpReadContinuous:
		return e.ReadContinuous(), nil
	case OpWriteContinuous:
		b, err := parseBool(arg)
		if err != nil {
			return nil, err
		}
		return e.WriteContinuous(b), nil
	case OpReadMeasurement:
		return e.ReadMeasurement(), nil
	case OpReadTemperature:
		return e.ReadTemperature(), nil
	case OpWriteTemperature:
		f, err := parseFloat(arg)
		if err != nil {
			return nil, err
		}
		return e.WriteTemperature(f)
	case OpReadCalibrationState:
		return e.ReadCalibrationState(), nil
	case OpCalibratePh:
		stage, err := ParseCalStage(arg)
		if err != nil {
			return nil, err
		}
		return e.CalibratePh(stage)
	case OpCalibrateOrp:
		f, err := parseFloat(arg)
		if err != nil {
			return nil, err
		}
		return e.CalibrateOrp(f)
	case OpReadSlope:
		return e.ReadSlope(), nil
	case OpReadInfo:
		return e.ReadInfo(), nil
	case OpReadStatus:
		return e.ReadStatus(), nil
	case OpReadName:
		return e.ReadName(), nil
	case OpWriteName:
		return e.WriteName(strings.TrimSpace(arg))
	case OpReadResponseMode:
		return e.ReadResponseMode(), nil
	case OpWriteResponseMode:
		b, err := parseBool(arg)
		if err != nil {
			return nil, err
		}
		return e.WriteResponseMode(b), nil
	case OpSleep:
		return e.Sleep(), nil
	case OpChangeSerialBaud:
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			return nil, fmt.Errorf("baud rate %q: %w", arg, ErrInvalidArgument)
		}
		return e.ChangeSerialBaud(n)
	case OpChangeI2CAddress:
		n, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("i2c address %q: %w", arg, ErrInvalidArgument)
		}
		return e.ChangeI2CAddress(int8(n))
	case OpFactoryReset:
		return e.FactoryReset(), nil
	}
	return nil, fmt.Errorf("%q: %w", op, ErrUnknownOperation)
}
