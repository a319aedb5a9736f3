// Package i2c implements i2cdevice.Channel on top of the Linux i2c-dev
// interface through periph.io.
package i2c

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/i2cdevice"
	"github.com/mklimuk/i2cdevice/busctx"
)

// DefaultBufferSize matches the i2c-dev per-message limit.
const DefaultBufferSize = 8192

var (
	_ i2cdevice.Channel     = &GenericBus{}
	_ i2cdevice.Closer      = &GenericBus{}
	_ i2cdevice.ClockSetter = &GenericBus{}
	_ i2cdevice.Flusher     = &GenericBus{}
)

var errNotOpen = errors.New("i2c bus is not open")

// Opener returns an open periph bus for the named device.
type Opener func(name string) (i2c.BusCloser, error)

// HostOpener initializes periph host drivers and opens the bus by name.
func HostOpener(name string) (i2c.BusCloser, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("periph driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return bus, nil
}

// GenericBus adapts a periph bus to the begin/write/end and
// request/receive cycle. A frame closed without stop, empty ones included,
// is held and merged with the following read from the same address into a
// single combined transaction, which gives a repeated start on the wire.
// EndTransmission cannot see the outcome of a held frame: it is sent with
// the read, or alone by BeginTransmission, Flush or Close, and its failure
// is kept until Flush or Close returns it.
type GenericBus struct {
	open   Opener
	size   int
	bus    i2c.BusCloser
	device string

	addr   byte
	tx     []byte
	active bool

	held     bool
	heldAddr byte
	heldTx   []byte
	heldErr  error

	rx  []byte
	pos int
}

type Option func(*GenericBus)

func WithOpener(open Opener) Option {
	return func(b *GenericBus) {
		b.open = open
	}
}

func WithBufferSize(n int) Option {
	return func(b *GenericBus) {
		b.size = n
	}
}

func NewGenericBus(opts ...Option) *GenericBus {
	b := &GenericBus{
		open: HostOpener,
		size: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open opens cfg.Device. Opening the device that is already open only
// applies cfg.Frequency; opening another one closes the current bus first.
func (b *GenericBus) Open(ctx context.Context, cfg i2cdevice.Config) error {
	if cfg.Device == "" {
		cfg.Device = fmt.Sprintf("/dev/i2c-%d", cfg.Bus)
	}
	if b.bus != nil && b.device != cfg.Device {
		if err := b.Close(); err != nil {
			return err
		}
	}
	if b.bus == nil {
		bus, err := b.open(cfg.Device)
		if err != nil {
			return err
		}
		if busctx.IsVerbose(ctx) {
			slog.Debug("i2c bus open", "device", cfg.Device, "bus", bus.String())
		}
		b.bus, b.device = bus, cfg.Device
	}
	if cfg.Frequency != 0 {
		if err := b.bus.SetSpeed(physic.Frequency(cfg.Frequency) * physic.Hertz); err != nil {
			_ = b.Close()
			return fmt.Errorf("could not set bus speed: %w", err)
		}
	}
	return nil
}

// Close sends a held frame before closing and returns its failure along with
// the close error.
func (b *GenericBus) Close() error {
	if b.bus == nil {
		return nil
	}
	held := b.Flush(context.Background())
	err := b.bus.Close()
	b.bus, b.device = nil, ""
	if err != nil {
		err = fmt.Errorf("could not close i2c bus: %w", err)
	}
	return errors.Join(held, err)
}

// Flush sends a held frame and returns the last held frame failure.
func (b *GenericBus) Flush(ctx context.Context) error {
	b.flush()
	err := b.heldErr
	b.heldErr = nil
	return err
}

func (b *GenericBus) SetClock(hz uint32) error {
	if b.bus == nil {
		return errNotOpen
	}
	if err := b.bus.SetSpeed(physic.Frequency(hz) * physic.Hertz); err != nil {
		return fmt.Errorf("could not set bus speed: %w", err)
	}
	return nil
}

func (b *GenericBus) BufferSize() int {
	return b.size
}

func (b *GenericBus) BeginTransmission(address byte) {
	b.flush()
	b.addr = address
	b.tx = b.tx[:0]
	b.active = true
}

func (b *GenericBus) Write(p []byte) int {
	if !b.active {
		return 0
	}
	n := min(len(p), b.size-len(b.tx))
	b.tx = append(b.tx, p[:n]...)
	return n
}

func (b *GenericBus) EndTransmission(ctx context.Context, stop bool) i2cdevice.Status {
	if !b.active || b.bus == nil {
		return i2cdevice.StatusOther
	}
	b.active = false
	if !stop {
		b.held = true
		b.heldAddr = b.addr
		b.heldTx = append(b.heldTx[:0], b.tx...)
		return i2cdevice.StatusOK
	}
	if len(b.tx) == 0 {
		// a zero length write cannot be expressed through i2c-dev
		if err := b.bus.Tx(uint16(b.addr), nil, make([]byte, 1)); err != nil {
			return i2cdevice.StatusAddrNACK
		}
		return i2cdevice.StatusOK
	}
	if err := b.bus.Tx(uint16(b.addr), b.tx, nil); err != nil {
		slog.Debug("i2c write failed", "addr", fmt.Sprintf("0x%02x", b.addr), "error", err)
		return i2cdevice.StatusOther
	}
	return i2cdevice.StatusOK
}

// RequestFrom always ends with a stop condition; i2c-dev has no way to keep
// the bus after a read.
func (b *GenericBus) RequestFrom(ctx context.Context, address byte, n int, stop bool) int {
	b.rx, b.pos = nil, 0
	if b.bus == nil || n <= 0 {
		return 0
	}
	var w []byte
	merged := b.held && b.heldAddr == address
	if merged {
		if len(b.heldTx) > 0 {
			w = b.heldTx
		}
		b.held = false
	} else {
		b.flush()
	}
	rx := make([]byte, n)
	if err := b.bus.Tx(uint16(address), w, rx); err != nil {
		slog.Debug("i2c read failed", "addr", fmt.Sprintf("0x%02x", address), "error", err)
		if merged {
			// i2c-dev reports one error for the whole combined transaction
			b.heldErr = heldError(address, err)
		}
		return 0
	}
	b.rx = rx
	return n
}

func (b *GenericBus) Receive() byte {
	if b.pos >= len(b.rx) {
		return 0xFF
	}
	v := b.rx[b.pos]
	b.pos++
	return v
}

// flush sends a held frame that was not followed by a matching read.
func (b *GenericBus) flush() {
	if !b.held {
		return
	}
	b.held = false
	if b.bus == nil {
		return
	}
	var err error
	if len(b.heldTx) == 0 {
		err = b.bus.Tx(uint16(b.heldAddr), nil, make([]byte, 1))
	} else {
		err = b.bus.Tx(uint16(b.heldAddr), b.heldTx, nil)
	}
	if err != nil {
		slog.Debug("i2c held write failed", "addr", fmt.Sprintf("0x%02x", b.heldAddr), "error", err)
		b.heldErr = heldError(b.heldAddr, err)
	}
}

func heldError(addr byte, err error) error {
	return fmt.Errorf("held write to 0x%02x: %w: %w", addr, i2cdevice.ErrFrameClose, err)
}
