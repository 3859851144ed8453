package ezo

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	calDelay     = 2 * time.Second
	tempDelay    = 400 * time.Millisecond
	ledDelay     = 300 * time.Millisecond
	pollInterval = time.Second

	// OrpClearReference is the reference solution in mV used when an ORP
	// stamp is calibrated with StageClear
	OrpClearReference = 200.0
)

var (
	// ErrTimeout is returned when a stamp does not answer before the context deadline
	ErrTimeout = errors.New("timed out waiting for response")
	// ErrRejected is returned when a stamp answers a query with *ER
	ErrRejected = errors.New("command rejected by stamp")
)

func (o *Device) notify(ev Event) {
	o.wmu.Lock()
	defer o.wmu.Unlock()
	for c := range o.waiters {
		select {
		case c <- ev:
		default:
			// waiter already has an unread event, it will not block the reader
		}
	}
}

func (o *Device) addWaiter() chan Event {
	c := make(chan Event, 16)
	o.wmu.Lock()
	o.waiters[c] = struct{}{}
	o.wmu.Unlock()
	return c
}

func (o *Device) removeWaiter(c chan Event) {
	o.wmu.Lock()
	delete(o.waiters, c)
	o.wmu.Unlock()
}

// Send writes a complete frame built by the Encoder
func (o *Device) Send(frame []byte) error {
	_, err := o.Write(frame)
	return err
}

// Query writes frame and waits for the next event answering with the given
// response tag. Answers to other queries arriving meanwhile are skipped.
func (o *Device) Query(ctx context.Context, frame []byte, want Response) (Event, error) {
	c := o.addWaiter()
	defer o.removeWaiter(c)

	done := o.done()
	if err := o.Send(frame); err != nil {
		return Event{}, err
	}
	for {
		select {
		case ev := <-c:
			if ev.Response == want {
				return ev, nil
			}
			if ev.Kind == TransportStatus && ev.Status == UnknownCommand {
				return ev, fmt.Errorf("%q: %w", frame, ErrRejected)
			}
		case <-done:
			return Event{}, ErrNotConnected
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Event{}, fmt.Errorf("%q: %w", frame, ErrTimeout)
			}
			return Event{}, ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Identify queries probe type, firmware version and status of a freshly
// connected stamp
func (o *Device) Identify(ctx context.Context) (Properties, error) {
	if _, err := o.Query(ctx, o.Encoder.ReadInfo(), ResponseInfo); err != nil {
		return Properties{}, err
	}
	ev, err := o.Query(ctx, o.Encoder.ReadStatus(), ResponseStatus)
	if err != nil {
		return Properties{}, err
	}
	return ev.Props, nil
}

// Calibrate runs one calibration step for the identified probe type and
// reads back the calibration state. An ORP stamp only knows StageClear,
// which calibrates it against OrpClearReference.
func (o *Device) Calibrate(ctx context.Context, stage CalStage) (CalState, error) {
	if o.Parser.Properties().ProbeType == ProbeORP {
		if stage != StageClear {
			return CalUnset, fmt.Errorf("ORP calibration stage %d: %w", stage, ErrInvalidArgument)
		}
		return o.CalibrateOrp(ctx, OrpClearReference)
	}
	frame, err := o.Encoder.CalibratePh(stage)
	if err != nil {
		return CalUnset, err
	}
	return o.calibrate(ctx, frame)
}

// CalibrateOrp calibrates an ORP stamp against a reference solution in mV
// and reads back the calibration state
func (o *Device) CalibrateOrp(ctx context.Context, ref float64) (CalState, error) {
	frame, err := o.Encoder.CalibrateOrp(ref)
	if err != nil {
		return CalUnset, err
	}
	return o.calibrate(ctx, frame)
}

func (o *Device) calibrate(ctx context.Context, frame []byte) (CalState, error) {
	if err := o.Send(frame); err != nil {
		return CalUnset, err
	}
	if err := sleep(ctx, o.CalDelay); err != nil {
		return CalUnset, err
	}
	ev, err := o.Query(ctx, o.Encoder.ReadCalibrationState(), ResponseCalibration)
	if err != nil {
		return CalUnset, err
	}
	return ev.Props.CalibrationState, nil
}

// SetTemperature writes the temperature compensation and reads it back
func (o *Device) SetTemperature(ctx context.Context, t float64) (Value, error) {
	frame, err := o.Encoder.WriteTemperature(t)
	if err != nil {
		return Value{}, err
	}
	if err := o.Send(frame); err != nil {
		return Value{}, err
	}
	if err := sleep(ctx, o.TempDelay); err != nil {
		return Value{}, err
	}
	ev, err := o.Query(ctx, o.Encoder.ReadTemperature(), ResponseTemperature)
	if err != nil {
		return Value{}, err
	}
	return ev.Props.CurrentTemperature, nil
}

// SetLED switches the indicator LED and reads its state back
func (o *Device) SetLED(ctx context.Context, on bool) (bool, error) {
	if err := o.Send(o.Encoder.WriteLED(on)); err != nil {
		return false, err
	}
	if err := sleep(ctx, o.LedDelay); err != nil {
		return false, err
	}
	ev, err := o.Query(ctx, o.Encoder.ReadLED(), ResponseLED)
	if err != nil {
		return false, err
	}
	return ev.Led, nil
}

// Poll requests a single reading every interval until ctx is done.
// Results arrive as MeasurementChanged events on the Parser.
func (o *Device) Poll(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = pollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	frame := o.Encoder.ReadMeasurement()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.Send(frame); err != nil {
				log.Debugf("Poll: %v", err)
			}
		}
	}
}

// Properties returns the current snapshot
func (o *Device) Properties() Properties {
	return o.Parser.Properties()
}

// Stats returns the parser frame counters
func (o *Device) Stats() Stats {
	return o.Parser.Stats()
}

// Do builds the frame for op and writes it without waiting for an answer
func (o *Device) Do(op Op, arg string) error {
	frame, err := o.Encoder.Build(op, arg)
	if err != nil {
		return err
	}
	return o.Send(frame)
}
