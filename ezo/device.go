package ezo

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reef-pi/rpi/i2c"
	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// ErrNotConnected is returned when writing to a Device without a link
var ErrNotConnected = errors.New("device not connected")

// Device is one EZO stamp reachable over a serial line or a TCP socket
// (ser2net or similar). Inbound bytes are fed to Parser by a read goroutine.
type Device struct {
	conn         io.ReadWriteCloser
	rlock, wlock sync.Mutex

	link      string
	connected bool
	session   uuid.UUID

	// Done is closed when the connection goes away
	Done chan struct{}

	Encoder *Encoder
	Parser  *Parser

	// Baud is used for serial links; Dial replaces net.Dial for socket links
	// and OpenI2C opens the bus for i2c links
	Baud    int
	Dial    func(network, address string) (net.Conn, error)
	OpenI2C func() (I2CBus, error)

	// Settle times before re-reading after a calibration, temperature or LED write
	CalDelay  time.Duration
	TempDelay time.Duration
	LedDelay  time.Duration

	wmu     sync.Mutex
	waiters map[chan Event]struct{}
}

// NewDevice is the factory method to create a new Device
func NewDevice() *Device {
	o := &Device{
		Encoder:   NewEncoder(),
		Baud:      DefaultBaudRate,
		Dial:      net.Dial,
		OpenI2C:   openI2C,
		CalDelay:  calDelay,
		TempDelay: tempDelay,
		LedDelay:  ledDelay,
		waiters:   make(map[chan Event]struct{}),
	}
	o.Parser = NewParser(WithHandler(o.notify))
	o.Done = make(chan struct{})
	close(o.Done)
	return o
}

// SetI2cAddress configures addressing for both directions
func (o *Device) SetI2cAddress(addr int8) error {
	if err := o.Encoder.SetI2cAddress(addr); err != nil {
		return err
	}
	o.Parser.SetI2cAddress(addr)
	return nil
}

// Session identifies the current connection; it changes on every (re)connect
func (o *Device) Session() uuid.UUID {
	o.wlock.Lock()
	defer o.wlock.Unlock()
	return o.session
}

func (o *Device) done() chan struct{} {
	o.wlock.Lock()
	defer o.wlock.Unlock()
	return o.Done
}

// Connected reports whether the link is up
func (o *Device) Connected() bool {
	o.wlock.Lock()
	defer o.wlock.Unlock()
	return o.connected
}

func openI2C() (I2CBus, error) {
	return i2c.New()
}

// Connect attaches to the stamp via serial device, a tcp socket
// (socket://host:port) or natively on the I2C bus (i2c://address)
func (o *Device) Connect(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return err
	}

	var conn io.ReadWriteCloser
	switch u.Scheme {
	case "socket", "tcp":
		conn, err = o.Dial("tcp", u.Host)
		if err != nil {
			return err
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetKeepAlive(true)
			tc.SetKeepAlivePeriod(30 * time.Second)
		}
	case "i2c":
		addr, err := strconv.Atoi(u.Host)
		if err != nil || addr < 1 || addr > 127 {
			return fmt.Errorf("invalid I2C address in \"%v\"", link)
		}
		bus, err := o.OpenI2C()
		if err != nil {
			return err
		}
		conn = NewI2CConn(bus, byte(addr))
	case "file", "":
		conn, err = serial.OpenPort(&serial.Config{Name: u.Path, Baud: o.Baud, Size: 8, Parity: serial.ParityNone, StopBits: serial.Stop1})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("Can not find a valid connection string in \"%v\"", link)
	}
	return o.attach(link, conn)
}

// Attach runs the device on an already opened connection
func (o *Device) Attach(conn io.ReadWriteCloser) error {
	return o.attach("", conn)
}

func (o *Device) attach(link string, conn io.ReadWriteCloser) error {
	o.rlock.Lock()
	o.wlock.Lock()
	defer o.rlock.Unlock()
	defer o.wlock.Unlock()

	if o.connected {
		return fmt.Errorf("already connected to \"%v\"", o.link)
	}

	o.Parser.Reset()
	o.Parser.SetBaud(o.Baud)
	o.Parser.SetAsSerial(!o.Encoder.Addressed())

	o.conn = conn
	o.link = link
	o.connected = true
	o.session = uuid.New()
	o.Done = make(chan struct{})

	log.Infof("Connected to \"%v\", session %v", link, o.session)
	go o.readLoop(conn, o.Done)
	return nil
}

func (o *Device) readLoop(conn io.Reader, done chan struct{}) {
	b := make([]byte, 512)
	for {
		n, err := conn.Read(b)
		if n > 0 {
			log.Debugf("Read b='%q', n=%v", b[:n], n)
			o.feed(b[:n], done)
		}
		if err != nil {
			select {
			case <-done:
				log.Debugf("Closing, returning from reading loop goroutine")
			default:
				log.Errorf("Read failed: %v", err)
				o.Close()
			}
			return
		}
	}
}

// feed hands b to the Parser unless the connection it was read from has
// been closed. rlock keeps attach from resetting the Parser in between.
func (o *Device) feed(b []byte, done chan struct{}) {
	o.rlock.Lock()
	defer o.rlock.Unlock()
	select {
	case <-done:
		log.Debugf("Dropping %d bytes read after close", len(b))
	default:
		o.Parser.Feed(b)
	}
}

func (o *Device) Write(b []byte) (int, error) {
	o.wlock.Lock()
	defer o.wlock.Unlock()
	if !o.connected {
		return 0, ErrNotConnected
	}
	n, err := o.conn.Write(b)
	log.Debugf("Write b='%q', n=%v, err=%v", b, n, err)
	return n, err
}

// Close closes Device, closing underlying connection via serial or network.
// Buffered partial frames are abandoned.
func (o *Device) Close() error {
	o.wlock.Lock()
	defer o.wlock.Unlock()

	if !o.connected {
		return io.ErrClosedPipe
	}
	o.connected = false
	close(o.Done)
	return o.conn.Close()
}

// Reconnect device, starting a new session with a fresh snapshot
func (o *Device) Reconnect() error {
	o.Close()
	if o.link == "" {
		return ErrNotConnected
	}
	return o.Connect(o.link)
}
