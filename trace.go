package i2cdevice

import "context"

// Op identifies the kind of bus operation an Event describes.
type Op int

const (
	OpOpen Op = iota
	OpClose
	OpProbe
	OpWrite
	OpRead
	OpClock
)

func (o Op) String() string {
	switch o {
	case OpOpen:
		return "OPEN"
	case OpClose:
		return "CLOSE"
	case OpProbe:
		return "PROBE"
	case OpWrite:
		return "WRITE"
	case OpRead:
		return "READ"
	case OpClock:
		return "CLOCK"
	default:
		return "UNKNOWN"
	}
}

// Event describes one transaction boundary.
type Event struct {
	Op      Op
	Address byte
	Prefix  []byte
	Data    []byte
	Stop    bool
	Status  Status
	Err     error
}

// Tracer receives an Event for every transaction the transactor performs.
// Implementations must not retain the Prefix or Data slices.
type Tracer interface {
	Trace(ctx context.Context, ev Event)
}

type TracerFunc func(ctx context.Context, ev Event)

func (f TracerFunc) Trace(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Discard is a Tracer that drops every event.
var Discard Tracer = TracerFunc(func(context.Context, Event) {})
