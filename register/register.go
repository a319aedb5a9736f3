// Package register reads and writes 8-bit addressed device registers over a
// write-then-read capable bus.
package register

import (
	"context"
	"encoding/binary"
	"fmt"
)

// Bus is the subset of transactor.Transactor used for register access.
type Bus interface {
	WritePrefixed(ctx context.Context, prefix, payload []byte, stop bool) error
	WriteThenRead(ctx context.Context, w, r []byte, stop bool) error
}

// Map addresses the registers of one device. The command mask is OR-ed into
// every register selector, e.g. 0xA0 selects auto-increment on devices that
// expect a command byte.
type Map struct {
	bus     Bus
	command byte
	stop    bool
}

type Option func(*Map)

func WithCommand(mask byte) Option {
	return func(m *Map) {
		m.command = mask
	}
}

// WithStop releases the bus between selecting a register and reading it.
// Some devices do not support repeated start.
func WithStop(stop bool) Option {
	return func(m *Map) {
		m.stop = stop
	}
}

func New(bus Bus, opts ...Option) *Map {
	m := &Map{bus: bus}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Map) selector(reg byte) []byte {
	return []byte{reg | m.command}
}

// Read fills buf starting at register reg.
func (m *Map) Read(ctx context.Context, reg byte, buf []byte) error {
	err := m.bus.WriteThenRead(ctx, m.selector(reg), buf, m.stop)
	if err != nil {
		return fmt.Errorf("could not read register 0x%02x: %w", reg, err)
	}
	return nil
}

func (m *Map) Read8(ctx context.Context, reg byte) (byte, error) {
	buf := make([]byte, 1)
	if err := m.Read(ctx, reg, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (m *Map) Read16(ctx context.Context, reg byte, order binary.ByteOrder) (uint16, error) {
	buf := make([]byte, 2)
	if err := m.Read(ctx, reg, buf); err != nil {
		return 0, err
	}
	return order.Uint16(buf), nil
}

func (m *Map) Read32(ctx context.Context, reg byte, order binary.ByteOrder) (uint32, error) {
	buf := make([]byte, 4)
	if err := m.Read(ctx, reg, buf); err != nil {
		return 0, err
	}
	return order.Uint32(buf), nil
}

// ReadRange reads len(buf) consecutive registers starting at start. Reads
// longer than the bus transfer size are split by the bus itself.
func (m *Map) ReadRange(ctx context.Context, start byte, buf []byte) error {
	if int(start)+len(buf) > 256 {
		return fmt.Errorf("register range 0x%02x+%d exceeds 8-bit register space", start, len(buf))
	}
	return m.Read(ctx, start, buf)
}

// Write writes buf to the device starting at register reg, in one frame.
func (m *Map) Write(ctx context.Context, reg byte, buf []byte) error {
	err := m.bus.WritePrefixed(ctx, m.selector(reg), buf, true)
	if err != nil {
		return fmt.Errorf("could not write register 0x%02x: %w", reg, err)
	}
	return nil
}

func (m *Map) Write8(ctx context.Context, reg, value byte) error {
	return m.Write(ctx, reg, []byte{value})
}

func (m *Map) Write16(ctx context.Context, reg byte, value uint16, order binary.ByteOrder) error {
	buf := make([]byte, 2)
	order.PutUint16(buf, value)
	return m.Write(ctx, reg, buf)
}
