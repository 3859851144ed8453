package ezo

import (
	"errors"
	"testing"
)

func TestEncoderSerial(t *testing.T) {
	e := NewEncoder()
	temp, _ := e.WriteTemperature(25.0)
	orp, _ := e.CalibrateOrp(225)
	name, _ := e.WriteName("tank1")
	baud, _ := e.ChangeSerialBaud(19200)
	addr, _ := e.ChangeI2CAddress(100)

	for _, tc := range []struct {
		got  []byte
		want string
	}{
		{e.ReadLED(), "L,?\r"},
		{e.WriteLED(true), "L,1\r"},
		{e.WriteLED(false), "L,0\r"},
		{e.ReadContinuous(), "C,?\r"},
		{e.WriteContinuous(true), "C,1\r"},
		{e.WriteContinuous(false), "C,0\r"},
		{e.ReadMeasurement(), "R\r"},
		{e.ReadTemperature(), "T,?\r"},
		{temp, "T,25.00\r"},
		{e.ReadCalibrationState(), "Cal,?\r"},
		{orp, "Cal,225.0\r"},
		{e.ReadSlope(), "SLOPE,?\r"},
		{e.ReadInfo(), "I\r"},
		{e.ReadStatus(), "STATUS\r"},
		{e.ReadName(), "NAME,?\r"},
		{name, "NAME,tank1\r"},
		{e.ReadResponseMode(), "RESPONSE,?\r"},
		{e.WriteResponseMode(true), "RESPONSE,1\r"},
		{e.WriteResponseMode(false), "RESPONSE,0\r"},
		{e.Sleep(), "SLEEP\r"},
		{baud, "SERIAL,19200\r"},
		{addr, "I2C,100\r"},
		{e.FactoryReset(), "Factory\r"},
	} {
		if string(tc.got) != tc.want {
			t.Errorf("Expected %q, got %q", tc.want, tc.got)
		}
	}
}

func TestEncoderI2C(t *testing.T) {
	e := NewEncoder()
	if err := e.SetI2cAddress(99); err != nil {
		t.Fatal(err)
	}
	temp, _ := e.WriteTemperature(25.0)
	if string(temp) != "99:T,25.00\r" {
		t.Errorf("Expected 99:T,25.00, got %q", temp)
	}
	if got := string(e.ReadInfo()); got != "99:?I\r" {
		t.Errorf("Expected 99:?I, got %q", got)
	}
	if got := string(e.FactoryReset()); got != "99:STATUS\r" {
		t.Errorf("Expected 99:STATUS, got %q", got)
	}

	if err := e.SetI2cAddress(-1); err != nil {
		t.Fatal(err)
	}
	if got := string(e.ReadLED()); got != "L,?\r" {
		t.Errorf("Expected unprefixed frame after switching back, got %q", got)
	}
	if err := e.SetI2cAddress(0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for address 0, got %v", err)
	}
}

func TestCalibratePh(t *testing.T) {
	e := NewEncoder()
	for stage, want := range map[CalStage]string{
		StageClear: "Cal,clear\r",
		StageMid:   "Cal,mid,7.00\r",
		StageLow:   "Cal,low,4.00\r",
		StageHigh:  "Cal,high,10.00\r",
	} {
		got, err := e.CalibratePh(stage)
		if err != nil || string(got) != want {
			t.Errorf("Stage %d: expected %q, got %q (%v)", stage, want, got, err)
		}
	}
	for _, stage := range []CalStage{-1, 4} {
		got, err := e.CalibratePh(stage)
		if !errors.Is(err, ErrInvalidArgument) || got != nil {
			t.Errorf("Stage %d: expected ErrInvalidArgument and no frame, got %q (%v)", stage, got, err)
		}
	}
}

func TestEncoderInvalidArguments(t *testing.T) {
	e := NewEncoder()
	for name, fn := range map[string]func() ([]byte, error){
		"baud":       func() ([]byte, error) { return e.ChangeSerialBaud(4800) },
		"address":    func() ([]byte, error) { return e.ChangeI2CAddress(0) },
		"empty name": func() ([]byte, error) { return e.WriteName("") },
		"long name":  func() ([]byte, error) { return e.WriteName("abcdefghijklmnopq") },
		"comma name": func() ([]byte, error) { return e.WriteName("a,b") },
		"space name": func() ([]byte, error) { return e.WriteName("a b") },
	} {
		if b, err := fn(); !errors.Is(err, ErrInvalidArgument) || b != nil {
			t.Errorf("%s: expected ErrInvalidArgument, got %q (%v)", name, b, err)
		}
	}
}

func TestBuild(t *testing.T) {
	e := NewEncoder()
	for _, tc := range []struct {
		op   Op
		arg  string
		want string
	}{
		{OpWriteLED, "on", "L,1\r"},
		{OpWriteContinuous, "0", "C,0\r"},
		{OpWriteTemperature, "21.456", "T,21.46\r"},
		{OpCalibratePh, "mid", "Cal,mid,7.00\r"},
		{OpCalibratePh, "3", "Cal,high,10.00\r"},
		{OpCalibrateOrp, "-12.34", "Cal,-12.3\r"},
		{OpChangeSerialBaud, "115200", "SERIAL,115200\r"},
		{OpChangeI2CAddress, "42", "I2C,42\r"},
		{OpWriteName, " probe-7 ", "NAME,probe-7\r"},
		{OpReadMeasurement, "ignored", "R\r"},
	} {
		got, err := e.Build(tc.op, tc.arg)
		if err != nil || string(got) != tc.want {
			t.Errorf("%v(%q): expected %q, got %q (%v)", tc.op, tc.arg, tc.want, got, err)
		}
	}

	if _, err := e.Build("reboot", ""); !errors.Is(err, ErrUnknownOperation) {
		t.Errorf("Expected ErrUnknownOperation, got %v", err)
	}
	for _, tc := range []struct {
		op  Op
		arg string
	}{
		{OpWriteLED, "maybe"},
		{OpWriteTemperature, "warm"},
		{OpCalibratePh, "medium"},
		{OpChangeI2CAddress, "300"},
	} {
		if _, err := e.Build(tc.op, tc.arg); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%v(%q): expected ErrInvalidArgument, got %v", tc.op, tc.arg, err)
		}
	}
}
