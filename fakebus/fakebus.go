// Package fakebus provides an in-memory i2cdevice.Channel that records every
// call it receives. It needs no hardware and is meant for tests and dry runs.
//
// Example usage:
//
//	// three devices answering, everything else NACKs
//	bus := fakebus.New(fakebus.WithAck(0x10, 0x39, 0x5A))
//
//	// written bytes come back on the next read from the same address
//	bus := fakebus.New(fakebus.WithEcho())
//
//	// second read request returns only 3 bytes
//	bus := fakebus.New(fakebus.WithShortRead(1, 3))
package fakebus

import (
	"context"

	"github.com/mklimuk/i2cdevice"
)

const DefaultBufferSize = 32

// Frame is a completed transmission.
type Frame struct {
	Address byte
	Data    []byte
	Stop    bool
	Status  i2cdevice.Status
}

// Request is a completed read request.
type Request struct {
	Address  byte
	N        int
	Stop     bool
	Received int
}

// ResponderFunc produces the bytes returned for a read request.
type ResponderFunc func(address byte, n int) []byte

// StatusFunc decides the close status of a frame.
type StatusFunc func(f Frame) i2cdevice.Status

type Bus struct {
	size        int
	acceptLimit int
	ack         map[byte]bool
	echo        bool
	memory      map[byte][]byte
	shortReads  map[int]int
	responder   ResponderFunc
	status      StatusFunc
	openErr     error
	closeErr    error
	clockErr    error

	Opens    []i2cdevice.Config
	Closes   int
	Clocks   []uint32
	Begins   int
	Frames   []Frame
	Requests []Request

	pending *Frame
	rx      []byte
	pos     int
}

type Option func(*Bus)

func WithBufferSize(n int) Option {
	return func(b *Bus) {
		b.size = n
	}
}

// WithAck restricts acknowledgement to the given addresses. Without it every
// address acknowledges.
func WithAck(addresses ...byte) Option {
	return func(b *Bus) {
		b.ack = make(map[byte]bool, len(addresses))
		for _, a := range addresses {
			b.ack[a] = true
		}
	}
}

// WithEcho stores written payloads per address and serves them back on reads.
func WithEcho() Option {
	return func(b *Bus) {
		b.echo = true
	}
}

// WithAcceptLimit caps how many bytes a single frame accepts.
func WithAcceptLimit(n int) Option {
	return func(b *Bus) {
		b.acceptLimit = n
	}
}

// WithShortRead makes the request with the given zero based index return only n bytes.
func WithShortRead(call, n int) Option {
	return func(b *Bus) {
		b.shortReads[call] = n
	}
}

func WithResponder(f ResponderFunc) Option {
	return func(b *Bus) {
		b.responder = f
	}
}

func WithStatus(f StatusFunc) Option {
	return func(b *Bus) {
		b.status = f
	}
}

func WithOpenError(err error) Option {
	return func(b *Bus) {
		b.openErr = err
	}
}

func WithCloseError(err error) Option {
	return func(b *Bus) {
		b.closeErr = err
	}
}

func WithClockError(err error) Option {
	return func(b *Bus) {
		b.clockErr = err
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{
		size:        DefaultBufferSize,
		acceptLimit: -1,
		memory:      make(map[byte][]byte),
		shortReads:  make(map[int]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.acceptLimit < 0 {
		b.acceptLimit = b.size
	}
	return b
}

func (b *Bus) acked(address byte) bool {
	if b.ack == nil {
		return true
	}
	return b.ack[address]
}

func (b *Bus) Open(ctx context.Context, cfg i2cdevice.Config) error {
	b.Opens = append(b.Opens, cfg)
	return b.openErr
}

func (b *Bus) Close() error {
	b.Closes++
	return b.closeErr
}

func (b *Bus) SetClock(hz uint32) error {
	b.Clocks = append(b.Clocks, hz)
	return b.clockErr
}

func (b *Bus) BufferSize() int {
	return b.size
}

func (b *Bus) BeginTransmission(address byte) {
	b.Begins++
	b.pending = &Frame{Address: address, Data: []byte{}}
}

func (b *Bus) Write(p []byte) int {
	if b.pending == nil {
		return 0
	}
	n := len(p)
	if room := b.acceptLimit - len(b.pending.Data); n > room {
		n = max(room, 0)
	}
	b.pending.Data = append(b.pending.Data, p[:n]...)
	return n
}

func (b *Bus) EndTransmission(ctx context.Context, stop bool) i2cdevice.Status {
	if b.pending == nil {
		return i2cdevice.StatusOther
	}
	f := *b.pending
	b.pending = nil
	f.Stop = stop
	switch {
	case b.status != nil:
		f.Status = b.status(f)
	case b.acked(f.Address):
		f.Status = i2cdevice.StatusOK
	default:
		f.Status = i2cdevice.StatusAddrNACK
	}
	if f.Status == i2cdevice.StatusOK && b.echo && len(f.Data) > 0 {
		b.memory[f.Address] = append(b.memory[f.Address], f.Data...)
	}
	b.Frames = append(b.Frames, f)
	return f.Status
}

func (b *Bus) RequestFrom(ctx context.Context, address byte, n int, stop bool) int {
	idx := len(b.Requests)
	req := Request{Address: address, N: n, Stop: stop}
	b.rx, b.pos = nil, 0
	if b.acked(address) {
		data := b.respond(address, n)
		if short, ok := b.shortReads[idx]; ok && short < len(data) {
			data = data[:short]
		}
		b.rx = data
		req.Received = len(data)
	}
	b.Requests = append(b.Requests, req)
	return req.Received
}

func (b *Bus) respond(address byte, n int) []byte {
	if b.responder != nil {
		data := b.responder(address, n)
		if len(data) > n {
			data = data[:n]
		}
		return data
	}
	if b.echo {
		stored := b.memory[address]
		if len(stored) < n {
			b.memory[address] = nil
			return stored
		}
		b.memory[address] = stored[n:]
		return stored[:n]
	}
	return make([]byte, n)
}

func (b *Bus) Receive() byte {
	if b.pos >= len(b.rx) {
		return 0xFF
	}
	v := b.rx[b.pos]
	b.pos++
	return v
}

// Probes returns the addresses of all frames closed without payload.
func (b *Bus) Probes() []byte {
	var res []byte
	for _, f := range b.Frames {
		if len(f.Data) == 0 {
			res = append(res, f.Address)
		}
	}
	return res
}

// Touched reports whether any frame or read request reached the bus.
func (b *Bus) Touched() bool {
	return b.Begins > 0 || len(b.Frames) > 0 || len(b.Requests) > 0
}

// Bare hides the optional Closer and ClockSetter capabilities of b.
func Bare(b *Bus) i2cdevice.Channel {
	return bare{b}
}

type bare struct {
	b *Bus
}

func (c bare) Open(ctx context.Context, cfg i2cdevice.Config) error { return c.b.Open(ctx, cfg) }
func (c bare) BeginTransmission(address byte)                         { c.b.BeginTransmission(address) }
func (c bare) Write(p []byte) int                                     { return c.b.Write(p) }
func (c bare) Receive() byte                                          { return c.b.Receive() }
func (c bare) BufferSize() int                                        { return c.b.BufferSize() }

func (c bare) EndTransmission(ctx context.Context, stop bool) i2cdevice.Status {
	return c.b.EndTransmission(ctx, stop)
}

func (c bare) RequestFrom(ctx context.Context, address byte, n int, stop bool) int {
	return c.b.RequestFrom(ctx, address, n, stop)
}
