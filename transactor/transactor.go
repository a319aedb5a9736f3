// Package transactor implements buffered I2C transactions against a single
// peripheral address on top of an i2cdevice.Channel.
//
// Usage:
//
//	t, err := transactor.New(bus, 0x39)
//	if err != nil { ... }
//	if err := t.Begin(ctx, true, i2cdevice.Config{Device: "/dev/i2c-1"}); err != nil { ... }
//	id := make([]byte, 1)
//	err = t.WriteThenRead(ctx, []byte{0xB2}, id, true)
//
// The transactor holds no locks. Callers sharing one channel between
// several transactors must serialize access themselves.
package transactor

import (
	"context"
	"fmt"
	"io"

	"github.com/mklimuk/i2cdevice"
)

type Transactor struct {
	addr        byte
	channel     i2cdevice.Channel
	begun       bool
	maxTransfer int
	defaults    i2cdevice.Config
	tracer      i2cdevice.Tracer
	report      io.Writer
}

type Option func(*Transactor)

// WithConfig sets the transport configuration used when Detected has to
// initialize the transactor on its own.
func WithConfig(cfg i2cdevice.Config) Option {
	return func(t *Transactor) {
		t.defaults = cfg
	}
}

// WithTracer installs the diagnostic sink notified on every transaction.
func WithTracer(tracer i2cdevice.Tracer) Option {
	return func(t *Transactor) {
		t.tracer = tracer
	}
}

// WithReport sets the writer receiving human readable scan progress.
func WithReport(w io.Writer) Option {
	return func(t *Transactor) {
		t.report = w
	}
}

// New binds a transactor to address on channel. The maximum transfer size
// is taken from the channel once and never changes afterwards.
func New(channel i2cdevice.Channel, address byte, opts ...Option) (*Transactor, error) {
	if address > i2cdevice.MaxAddress {
		return nil, fmt.Errorf("%w: %#x", i2cdevice.ErrInvalidAddress, address)
	}
	size := channel.BufferSize()
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", i2cdevice.ErrInvalidBufferSize, size)
	}
	t := &Transactor{
		addr:        address,
		channel:     channel,
		maxTransfer: size,
		tracer:      i2cdevice.Discard,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.tracer == nil {
		t.tracer = i2cdevice.Discard
	}
	return t, nil
}

func (t *Transactor) Address() byte {
	return t.addr
}

// Channel returns the channel the transactor talks through.
func (t *Transactor) Channel() i2cdevice.Channel {
	return t.channel
}

func (t *Transactor) IsInitialized() bool {
	return t.begun
}

func (t *Transactor) MaxTransferSize() int {
	return t.maxTransfer
}

// Begin opens the channel with cfg. With detect set it also checks that the
// peripheral acknowledges its address and returns ErrNotPresent otherwise.
// Every call re-opens the channel.
func (t *Transactor) Begin(ctx context.Context, detect bool, cfg i2cdevice.Config) error {
	err := t.channel.Open(ctx, cfg)
	t.tracer.Trace(ctx, i2cdevice.Event{Op: i2cdevice.OpOpen, Address: t.addr, Err: err})
	if err != nil {
		return fmt.Errorf("could not open channel: %w", err)
	}
	t.begun = true
	if detect && !t.probe(ctx, t.addr) {
		return fmt.Errorf("%w at 0x%02x", i2cdevice.ErrNotPresent, t.addr)
	}
	return nil
}

// End closes the channel when it supports closing. Channels that cannot be
// closed leave the transactor marked as initialized.
func (t *Transactor) End(ctx context.Context) error {
	closer, ok := t.channel.(i2cdevice.Closer)
	if !ok {
		return nil
	}
	err := closer.Close()
	t.tracer.Trace(ctx, i2cdevice.Event{Op: i2cdevice.OpClose, Address: t.addr, Err: err})
	t.begun = false
	if err != nil {
		return fmt.Errorf("could not close channel: %w", err)
	}
	return nil
}

// Detected reports whether the peripheral acknowledges its address. An
// uninitialized transactor is initialized with its default configuration first.
// Buses without pull-ups may report false positives.
func (t *Transactor) Detected(ctx context.Context) bool {
	if !t.begun {
		if err := t.Begin(ctx, false, t.defaults); err != nil {
			return false
		}
	}
	return t.probe(ctx, t.addr)
}

func (t *Transactor) probe(ctx context.Context, address byte) bool {
	status := t.empty(ctx, address)
	return status == i2cdevice.StatusOK
}

// empty sends a frame without payload and returns its close status.
func (t *Transactor) empty(ctx context.Context, address byte) i2cdevice.Status {
	t.channel.BeginTransmission(address)
	status := t.channel.EndTransmission(ctx, true)
	ev := i2cdevice.Event{Op: i2cdevice.OpProbe, Address: address, Stop: true, Status: status}
	if status != i2cdevice.StatusOK {
		ev.Err = i2cdevice.ErrNotPresent
	}
	t.tracer.Trace(ctx, ev)
	return status
}

// SetSpeed asks the channel to change the bus clock. A nil error means the
// platform accepted the request, the exact frequency may still be rounded.
func (t *Transactor) SetSpeed(ctx context.Context, hz uint32) error {
	setter, ok := t.channel.(i2cdevice.ClockSetter)
	if !ok {
		t.tracer.Trace(ctx, i2cdevice.Event{Op: i2cdevice.OpClock, Address: t.addr, Err: i2cdevice.ErrUnsupported})
		return fmt.Errorf("could not set clock to %d Hz: %w", hz, i2cdevice.ErrUnsupported)
	}
	err := setter.SetClock(hz)
	t.tracer.Trace(ctx, i2cdevice.Event{Op: i2cdevice.OpClock, Address: t.addr, Err: err})
	if err != nil {
		return fmt.Errorf("could not set clock to %d Hz: %w", hz, err)
	}
	return nil
}
