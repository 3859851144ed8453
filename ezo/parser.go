package ezo

import (
	"bytes"
	"math"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// maxMeasurementLen is the widest bare reading: pH sends 6 bytes, ORP 7
const maxMeasurementLen = 7

// maxNameResponseLen caps the name taken from a "?NAME," response
const maxNameResponseLen = 8

// Stats counts frames handled by a Parser since the last Reset
type Stats struct {
	Frames  uint64 `json:"frames"`
	Dropped uint64 `json:"dropped"`
}

// Parser turns the inbound byte stream of one stamp into property updates.
// Chunks may split or join responses at any byte offset; incomplete data is
// kept until its CR arrives.
type Parser struct {
	mu       sync.Mutex
	buf      []byte
	props    Properties
	stats    Stats
	handlers []Handler
}

// ParserOption configures a Parser
type ParserOption func(*Parser)

// WithHandler subscribes h to all events
func WithHandler(h Handler) ParserOption {
	return func(p *Parser) {
		p.handlers = append(p.handlers, h)
	}
}

// WithProperties starts the session from a given snapshot instead of the defaults
func WithProperties(props Properties) ParserOption {
	return func(p *Parser) {
		p.props = props
	}
}

// NewParser returns a Parser holding a fresh snapshot
func NewParser(options ...ParserOption) *Parser {
	p := &Parser{props: NewProperties()}
	for _, option := range options {
		option(p)
	}
	return p
}

// Subscribe adds a handler. Handlers run on the goroutine calling Feed.
func (p *Parser) Subscribe(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Properties returns a copy of the current snapshot
func (p *Parser) Properties() Properties {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.props
}

// Stats returns the frame counters
func (p *Parser) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Buffered returns the number of bytes waiting for a CR
func (p *Parser) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Reset abandons buffered bytes and starts a fresh snapshot. Transport
// settings (baud rate, serial flag, I2C address) survive the reset.
func (p *Parser) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fresh := NewProperties()
	fresh.BaudRate = p.props.BaudRate
	fresh.TransportIsSerial = p.props.TransportIsSerial
	fresh.I2cAddress = p.props.I2cAddress
	p.props = fresh
	p.buf = nil
	p.stats = Stats{}
}

func (p *Parser) SetBaud(baud int) {
	p.mu.Lock()
	p.props.BaudRate = baud
	p.mu.Unlock()
}

func (p *Parser) SetAsSerial(serial bool) {
	p.mu.Lock()
	p.props.TransportIsSerial = serial
	p.mu.Unlock()
}

func (p *Parser) SetI2cAddress(addr int8) {
	p.mu.Lock()
	p.props.I2cAddress = addr
	p.mu.Unlock()
}

// Feed appends chunk to the inbound buffer and handles every complete
// frame in it. The resulting events are returned in order and delivered to
// the subscribed handlers after the parser lock has been released.
func (p *Parser) Feed(chunk []byte) []Event {
	p.mu.Lock()
	p.buf = append(p.buf, chunk...)

	var events []Event
	for {
		i := bytes.IndexByte(p.buf, CR)
		if i < 0 {
			break
		}
		frame := string(p.buf[:i])
		p.buf = p.buf[i+1:]

		p.stats.Frames++
		ev, ok := p.dispatch(frame)
		if !ok {
			p.stats.Dropped++
			continue
		}
		ev.Props = p.props
		events = append(events, ev)
	}
	if len(p.buf) == 0 {
		// release the backing array once everything has been consumed
		p.buf = nil
	}
	handlers := p.handlers
	p.mu.Unlock()

	for _, ev := range events {
		for _, h := range handlers {
			h(ev)
		}
	}
	return events
}

// dispatch classifies one frame and applies it to the snapshot.
// It reports false if the frame caused no change.
func (p *Parser) dispatch(frame string) (Event, bool) {
	for _, sc := range statusCodes {
		if strings.Contains(frame, sc.code) {
			log.Debugf("Status frame %q: %v", frame, sc.kind)
			return Event{Kind: TransportStatus, Status: sc.kind}, true
		}
	}

	switch {
	case strings.HasPrefix(frame, "?L,"):
		return p.parseLed(frame)
	case strings.HasPrefix(frame, "?T,"):
		return p.parseTemperature(frame)
	case strings.HasPrefix(frame, "?CAL,"):
		return p.parseCalibration(frame)
	case strings.HasPrefix(frame, "?SLOPE,"):
		return p.parseSlope(frame)
	case strings.HasPrefix(frame, "?I,"):
		return p.parseInfo(frame)
	case strings.HasPrefix(frame, "?STATUS,"):
		return p.parseStatus(frame)
	case strings.HasPrefix(frame, "?NAME,"):
		return p.parseName(frame)
	}
	return p.parseMeasurement(frame)
}

func (p *Parser) parseLed(frame string) (Event, bool) {
	switch mid(frame, 3, 1) {
	case "1":
		p.props.LedOn = true
	case "0":
		p.props.LedOn = false
	default:
		log.Warnf("Malformed LED response %q", frame)
		return Event{}, false
	}
	return Event{Kind: LedChanged, Response: ResponseLED, Led: p.props.LedOn}, true
}

func (p *Parser) parseTemperature(frame string) (Event, bool) {
	t := parseNumber(mid(frame, 3, 5))
	if math.IsNaN(t) {
		log.Warnf("Malformed temperature response %q", frame)
		return Event{}, false
	}
	p.props.CurrentTemperature = NewValue(t)
	return Event{Kind: InfoChanged, Response: ResponseTemperature}, true
}

func (p *Parser) parseCalibration(frame string) (Event, bool) {
	c := mid(frame, 5, 1)
	if len(c) != 1 || c[0] < '0' || c[0] > '3' {
		log.Warnf("Malformed calibration response %q", frame)
		return Event{}, false
	}
	p.props.CalibrationState = CalState(c[0] - '0')
	return Event{Kind: InfoChanged, Response: ResponseCalibration}, true
}

// parseSlope handles "?SLOPE,acid,basic", e.g. "?SLOPE,99.7,100.3"
func (p *Parser) parseSlope(frame string) (Event, bool) {
	changed := false
	if acid := parseNumber(field(frame, 1)); !math.IsNaN(acid) {
		p.props.AcidSlope = acid
		changed = true
	}
	if basic := parseNumber(field(frame, 2)); !math.IsNaN(basic) {
		p.props.BasicSlope = basic
		changed = true
	}
	if !changed {
		log.Warnf("Malformed slope response %q", frame)
		return Event{}, false
	}
	return Event{Kind: InfoChanged, Response: ResponseSlope}, true
}

// parseInfo handles "?I,type,version", e.g. "?I,pH,1.0" or "?I,ORP,1.0"
func (p *Parser) parseInfo(frame string) (Event, bool) {
	var probe, version string
	if mid(frame, 3, 2) == ProbePH {
		probe = ProbePH
	} else {
		probe = strings.TrimSpace(field(frame, 1))
		if probe == "D.O." {
			probe = ProbeDO
		}
	}
	switch probe {
	case ProbePH, ProbeORP, ProbeEC, ProbeDO:
	default:
		log.Warnf("Unknown probe type in info response %q", frame)
		return Event{}, false
	}
	version = strings.TrimSpace(mid(field(frame, 2), 0, 4))

	if p.props.ProbeType != "" && p.props.ProbeType != probe {
		log.Warnf("Dropping info response %q, stamp already identified as %v", frame, p.props.ProbeType)
		return Event{}, false
	}
	p.props.ProbeType = probe
	p.props.FirmwareVersion = version
	return Event{Kind: InfoChanged, Response: ResponseInfo}, true
}

// parseStatus handles "?STATUS,code,voltage", e.g. "?STATUS,P,5.038"
func (p *Parser) parseStatus(frame string) (Event, bool) {
	changed := false
	switch code := mid(frame, 8, 1); code {
	case ResetPowerOn, ResetSoftware, ResetBrownOut, ResetWatchdog, ResetUnknown:
		p.props.ResetCode = code
		changed = true
	}
	if v := parseNumber(mid(frame, 10, 5)); !math.IsNaN(v) {
		p.props.SupplyVoltage = v
		changed = true
	}
	if !changed {
		log.Warnf("Malformed status response %q", frame)
		return Event{}, false
	}
	return Event{Kind: InfoChanged, Response: ResponseStatus}, true
}

func (p *Parser) parseName(frame string) (Event, bool) {
	p.props.DeviceName = mid(frame, 6, maxNameResponseLen)
	return Event{Kind: InfoChanged, Response: ResponseName}, true
}

// parseMeasurement handles bare readings. There is no checksum on these
// frames, so the range check is the only thing keeping noise out.
func (p *Parser) parseMeasurement(frame string) (Event, bool) {
	v := parseNumber(mid(frame, 0, maxMeasurementLen))
	switch p.props.ProbeType {
	case ProbePH:
		if inRange(v, MinPH, MaxPH) {
			p.props.CurrentPh = NewValue(v)
			return Event{Kind: MeasurementChanged, Response: ResponseMeasurement}, true
		}
	case ProbeORP:
		if inRange(v, MinORP, MaxORP) {
			p.props.CurrentOrp = NewValue(v)
			return Event{Kind: MeasurementChanged, Response: ResponseMeasurement}, true
		}
	}
	log.Debugf("Dropping frame %q (probe type %q)", frame, p.props.ProbeType)
	return Event{}, false
}
