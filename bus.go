package i2cdevice

import (
	"context"
	"fmt"
)

// MaxAddress is the highest 7-bit peripheral address.
const MaxAddress = 0x7F

// Status is the result of closing a transmission frame.
type Status byte

const (
	StatusOK Status = iota
	StatusDataTooLong
	StatusAddrNACK
	StatusDataNACK
	StatusOther
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDataTooLong:
		return "data too long"
	case StatusAddrNACK:
		return "address not acknowledged"
	case StatusDataNACK:
		return "data not acknowledged"
	case StatusOther:
		return "other error"
	case StatusTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("status %d", byte(s))
	}
}

// Config carries transport settings handed to Channel.Open.
// Zero values keep the platform defaults.
type Config struct {
	Device    string
	Bus       int
	SDA       int
	SCL       int
	Frequency uint32
}

// Channel is the physical two-wire transport. Writes are queued between
// BeginTransmission and EndTransmission; reads are requested in one go with
// RequestFrom and then drained byte by byte with Receive.
type Channel interface {
	Open(ctx context.Context, cfg Config) error
	BeginTransmission(address byte)
	// Write queues p into the outgoing frame and returns how many bytes were accepted.
	Write(p []byte) int
	EndTransmission(ctx context.Context, stop bool) Status
	// RequestFrom reads up to n bytes from address and returns how many arrived.
	RequestFrom(ctx context.Context, address byte, n int, stop bool) int
	Receive() byte
	// BufferSize is the largest number of bytes a single frame can carry.
	BufferSize() int
}

// Closer is implemented by channels that can be shut down.
type Closer interface {
	Close() error
}

// Flusher is implemented by channels that postpone a frame closed without
// stop until the following read. Flush sends a frame still pending and
// returns, then clears, the failure of the last postponed frame. Such
// failures wrap ErrFrameClose.
type Flusher interface {
	Flush(ctx context.Context) error
}

// ClockSetter is implemented by channels that can change the bus clock.
type ClockSetter interface {
	SetClock(hz uint32) error
}
