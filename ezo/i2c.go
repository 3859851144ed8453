package ezo

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// I2CBus is the part of an I2C bus driver needed to talk to a stamp.
// github.com/reef-pi/rpi/i2c.Bus satisfies it.
type I2CBus interface {
	ReadBytes(addr byte, num int) ([]byte, error)
	WriteBytes(addr byte, value []byte) error
	Close() error
}

// Response codes of a stamp in native I2C mode, sent as the first byte of a read
const (
	i2cSuccess    = 1
	i2cSyntaxErr  = 2
	i2cProcessing = 254
	i2cNoData     = 255
)

const (
	i2cReadLen   = 40
	i2cShortWait = 300 * time.Millisecond
	i2cLongWait  = 900 * time.Millisecond
	i2cRetries   = 5
)

// I2CConn talks to a stamp in native I2C mode and presents its answers as
// the CR terminated frame stream the Parser expects. A bare success without
// payload reads as "*OK", a syntax error as "*ER".
type I2CConn struct {
	bus  I2CBus
	addr byte

	// ShortWait and LongWait are the processing times before a response is
	// read, LongWait applies to readings and calibration
	ShortWait time.Duration
	LongWait  time.Duration

	cmds chan []byte
	quit chan struct{}
	r    *io.PipeReader
	w    *io.PipeWriter

	closeOnce sync.Once
}

// NewI2CConn starts a connection to the stamp at addr on bus
func NewI2CConn(bus I2CBus, addr byte) *I2CConn {
	r, w := io.Pipe()
	c := &I2CConn{
		bus:       bus,
		addr:      addr,
		ShortWait: i2cShortWait,
		LongWait:  i2cLongWait,
		cmds:      make(chan []byte, 16),
		quit:      make(chan struct{}),
		r:         r,
		w:         w,
	}
	go c.loop()
	return c
}

// Read returns the next synthesized frames
func (c *I2CConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

// Write queues one or more CR terminated frames. An "{addr}:" prefix
// selects a different stamp on the same bus.
func (c *I2CConn) Write(b []byte) (int, error) {
	select {
	case <-c.quit:
		return 0, io.ErrClosedPipe
	default:
	}
	for _, frame := range bytes.Split(b, []byte{CR}) {
		if len(frame) == 0 {
			continue
		}
		cmd := make([]byte, len(frame))
		copy(cmd, frame)
		select {
		case c.cmds <- cmd:
		case <-c.quit:
			return 0, io.ErrClosedPipe
		}
	}
	return len(b), nil
}

// Close stops the worker and closes the bus
func (c *I2CConn) Close() error {
	err := io.ErrClosedPipe
	c.closeOnce.Do(func() {
		close(c.quit)
		c.w.Close()
		err = c.bus.Close()
	})
	return err
}

func (c *I2CConn) loop() {
	for {
		select {
		case <-c.quit:
			return
		case cmd := <-c.cmds:
			frame, err := c.transact(cmd)
			if err != nil {
				log.Errorf("I2C %q: %v", cmd, err)
				c.w.CloseWithError(err)
				return
			}
			if frame == nil {
				continue
			}
			if _, err := c.w.Write(append(frame, CR)); err != nil {
				return
			}
		}
	}
}

// splitAddress removes an "{addr}:" prefix from cmd
func (c *I2CConn) splitAddress(cmd []byte) (byte, []byte) {
	i := bytes.IndexByte(cmd, ':')
	if i < 0 {
		return c.addr, cmd
	}
	addr, err := strconv.Atoi(string(cmd[:i]))
	if err != nil || addr < 1 || addr > 127 {
		return c.addr, cmd
	}
	return byte(addr), cmd[i+1:]
}

func (c *I2CConn) wait(cmd []byte) time.Duration {
	upper := bytes.ToUpper(cmd)
	if bytes.Equal(upper, []byte("R")) || (bytes.HasPrefix(upper, []byte("CAL,")) && !bytes.HasSuffix(upper, []byte("?"))) {
		return c.LongWait
	}
	return c.ShortWait
}

func (c *I2CConn) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.quit:
		return false
	}
}

// transact writes one command and reads its response. A nil frame means
// the stamp has nothing to say.
func (c *I2CConn) transact(cmd []byte) ([]byte, error) {
	addr, body := c.splitAddress(cmd)
	log.Debugf("I2C write addr=%d cmd=%q", addr, body)
	if err := c.bus.WriteBytes(addr, body); err != nil {
		return nil, err
	}
	if bytes.EqualFold(body, []byte("Sleep")) {
		// a sleeping stamp does not answer
		return []byte("*SL"), nil
	}

	d := c.wait(body)
	for i := 0; i < i2cRetries; i++ {
		if !c.sleep(d) {
			return nil, io.ErrClosedPipe
		}
		b, err := c.bus.ReadBytes(addr, i2cReadLen)
		if err != nil {
			return nil, err
		}
		if len(b) == 0 {
			return nil, errors.New("empty I2C read")
		}
		log.Debugf("I2C read addr=%d code=%d data=%q", addr, b[0], b[1:])
		switch b[0] {
		case i2cSuccess:
			payload := b[1:]
			if n := bytes.IndexByte(payload, 0); n >= 0 {
				payload = payload[:n]
			}
			if len(payload) == 0 {
				return []byte("*OK"), nil
			}
			return append([]byte(nil), payload...), nil
		case i2cSyntaxErr:
			return []byte("*ER"), nil
		case i2cNoData:
			return nil, nil
		case i2cProcessing:
			d = c.ShortWait
		default:
			return nil, fmt.Errorf("unknown I2C response code %d", b[0])
		}
	}
	log.Warnf("I2C %q: stamp still processing after %d reads", body, i2cRetries)
	return nil, nil
}
