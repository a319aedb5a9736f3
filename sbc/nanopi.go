// Package sbc implements i2cdevice.Channel for single board computers
// through gobot adaptors.
package sbc

import (
	"context"
	"fmt"
	"log/slog"

	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/i2cdevice"
	"github.com/mklimuk/i2cdevice/busctx"
)

// DefaultBufferSize is the SMBus block limit most board drivers enforce.
const DefaultBufferSize = 32

var (
	_ i2cdevice.Channel = &Bus{}
	_ i2cdevice.Closer  = &Bus{}
)

// Conn is the part of a gobot I2C connection the channel uses.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ReadByte() (byte, error)
	Close() error
}

// Dialer returns a connection to address on the given bus number.
type Dialer func(address, bus int) (Conn, error)

// ConnectorDialer dials through a gobot I2C connector.
func ConnectorDialer(c i2c.Connector) Dialer {
	return func(address, bus int) (Conn, error) {
		return c.GetI2cConnection(address, bus)
	}
}

// Bus keeps one gobot connection per peripheral address. Every frame is a
// separate i2c-dev transfer, so a frame closed without stop still releases
// the bus.
type Bus struct {
	dial     Dialer
	connect  func() error
	finalize func() error
	size     int
	busNr    int
	conns    map[byte]Conn
	open     bool

	addr   byte
	tx     []byte
	active bool

	rx  []byte
	pos int
}

type Option func(*Bus)

func WithBufferSize(n int) Option {
	return func(b *Bus) {
		b.size = n
	}
}

// WithLifecycle sets the hooks run when the bus is opened and closed.
func WithLifecycle(connect, finalize func() error) Option {
	return func(b *Bus) {
		b.connect = connect
		b.finalize = finalize
	}
}

func New(dial Dialer, opts ...Option) *Bus {
	b := &Bus{
		dial:  dial,
		size:  DefaultBufferSize,
		conns: make(map[byte]Conn),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewNanoPi returns a channel on the I2C buses of a FriendlyElec NanoPi NEO.
func NewNanoPi(opts ...Option) *Bus {
	npi := nanopi.NewNeoAdaptor()
	opts = append([]Option{WithLifecycle(npi.I2cBusAdaptor.Connect, npi.I2cBusAdaptor.Finalize)}, opts...)
	return New(ConnectorDialer(npi), opts...)
}

// Open selects cfg.Bus. Connections are dialed lazily per address.
func (b *Bus) Open(ctx context.Context, cfg i2cdevice.Config) error {
	if cfg.Frequency != 0 {
		slog.Debug("bus frequency is fixed by the board device tree", "requested", cfg.Frequency)
	}
	if b.open && cfg.Bus == b.busNr {
		return nil
	}
	b.closeConns()
	if !b.open && b.connect != nil {
		if err := b.connect(); err != nil {
			return fmt.Errorf("adaptor connect error: %w", err)
		}
	}
	b.busNr = cfg.Bus
	b.open = true
	if busctx.IsVerbose(ctx) {
		slog.Debug("board i2c bus open", "bus", b.busNr)
	}
	return nil
}

func (b *Bus) Close() error {
	if !b.open {
		return nil
	}
	b.closeConns()
	b.open = false
	if b.finalize != nil {
		if err := b.finalize(); err != nil {
			return fmt.Errorf("adaptor finalize error: %w", err)
		}
	}
	return nil
}

func (b *Bus) closeConns() {
	for addr, c := range b.conns {
		if err := c.Close(); err != nil {
			slog.Debug("could not close i2c connection", "addr", fmt.Sprintf("0x%02x", addr), "error", err)
		}
		delete(b.conns, addr)
	}
}

func (b *Bus) conn(address byte) (Conn, error) {
	if !b.open {
		return nil, fmt.Errorf("bus %d is not open", b.busNr)
	}
	if c, ok := b.conns[address]; ok {
		return c, nil
	}
	c, err := b.dial(int(address), b.busNr)
	if err != nil {
		return nil, fmt.Errorf("could not connect to 0x%02x on bus %d: %w", address, b.busNr, err)
	}
	b.conns[address] = c
	return c, nil
}

func (b *Bus) BufferSize() int {
	return b.size
}

func (b *Bus) BeginTransmission(address byte) {
	b.addr = address
	b.tx = b.tx[:0]
	b.active = true
}

func (b *Bus) Write(p []byte) int {
	if !b.active {
		return 0
	}
	n := min(len(p), b.size-len(b.tx))
	b.tx = append(b.tx, p[:n]...)
	return n
}

func (b *Bus) EndTransmission(ctx context.Context, stop bool) i2cdevice.Status {
	if !b.active {
		return i2cdevice.StatusOther
	}
	b.active = false
	c, err := b.conn(b.addr)
	if err != nil {
		slog.Debug("i2c connection failed", "error", err)
		return i2cdevice.StatusOther
	}
	if len(b.tx) == 0 {
		if _, err := c.ReadByte(); err != nil {
			return i2cdevice.StatusAddrNACK
		}
		return i2cdevice.StatusOK
	}
	n, err := c.Write(b.tx)
	if err != nil {
		slog.Debug("i2c write failed", "addr", fmt.Sprintf("0x%02x", b.addr), "error", err)
		return i2cdevice.StatusOther
	}
	if n < len(b.tx) {
		return i2cdevice.StatusDataNACK
	}
	return i2cdevice.StatusOK
}

func (b *Bus) RequestFrom(ctx context.Context, address byte, n int, stop bool) int {
	b.rx, b.pos = nil, 0
	if n <= 0 {
		return 0
	}
	c, err := b.conn(address)
	if err != nil {
		slog.Debug("i2c connection failed", "error", err)
		return 0
	}
	rx := make([]byte, n)
	got, err := c.Read(rx)
	if err != nil {
		slog.Debug("i2c read failed", "addr", fmt.Sprintf("0x%02x", address), "error", err)
		return 0
	}
	b.rx = rx[:got]
	return got
}

func (b *Bus) Receive() byte {
	if b.pos >= len(b.rx) {
		return 0xFF
	}
	v := b.rx[b.pos]
	b.pos++
	return v
}
