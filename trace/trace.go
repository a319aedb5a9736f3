// Package trace provides diagnostic sinks for transactor events.
package trace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/mklimuk/i2cdevice"
	"github.com/mklimuk/i2cdevice/bytefmt"
)

// Format renders ev as a single line, e.g.
//
//	I2CWRITE @ 0X39 :: 0XA0, 0X01 STOP
func Format(ev i2cdevice.Event) string {
	var s strings.Builder
	s.WriteString("I2C")
	s.WriteString(ev.Op.String())
	s.WriteString(" @ ")
	s.WriteString(bytefmt.Byte(ev.Address, bytefmt.Hex, true))
	if len(ev.Prefix)+len(ev.Data) > 0 {
		s.WriteString(" ::")
		if len(ev.Prefix) > 0 {
			s.WriteString(" (")
			s.WriteString(bytefmt.Bytes(ev.Prefix, bytefmt.Hex, true))
			s.WriteString(")")
		}
		if len(ev.Data) > 0 {
			s.WriteString(" ")
			s.WriteString(bytefmt.Bytes(ev.Data, bytefmt.Hex, true))
		}
	}
	if ev.Stop {
		s.WriteString(" STOP")
	}
	if ev.Err != nil {
		s.WriteString(" error: ")
		s.WriteString(ev.Err.Error())
	}
	return s.String()
}

// Logger emits events as debug records, failures as warnings.
type Logger struct {
	log *slog.Logger
}

func NewLogger(log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{log: log}
}

func (l *Logger) Trace(ctx context.Context, ev i2cdevice.Event) {
	attrs := []any{
		"op", ev.Op.String(),
		"addr", fmt.Sprintf("0x%02x", ev.Address),
	}
	if len(ev.Prefix) > 0 {
		attrs = append(attrs, "prefix", fmt.Sprintf("% x", ev.Prefix))
	}
	if len(ev.Data) > 0 {
		attrs = append(attrs, "data", fmt.Sprintf("% x", ev.Data))
	}
	if ev.Op == i2cdevice.OpWrite || ev.Op == i2cdevice.OpRead {
		attrs = append(attrs, "stop", ev.Stop)
	}
	if ev.Err != nil {
		// probes of empty addresses are expected to fail during scans
		level := slog.LevelWarn
		if ev.Op == i2cdevice.OpProbe {
			level = slog.LevelDebug
		}
		l.log.Log(ctx, level, "i2c transaction failed", append(attrs, "error", ev.Err)...)
		return
	}
	l.log.DebugContext(ctx, "i2c transaction", attrs...)
}

// Writer prints every event as a text line, the way firmware prints to a
// debug serial port.
type Writer struct {
	mx sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) Trace(ctx context.Context, ev i2cdevice.Event) {
	w.mx.Lock()
	defer w.mx.Unlock()
	_, _ = fmt.Fprintf(w.w, "\t%s\r\n", Format(ev))
}

// Multi fans events out to every tracer in order.
func Multi(tracers ...i2cdevice.Tracer) i2cdevice.Tracer {
	return i2cdevice.TracerFunc(func(ctx context.Context, ev i2cdevice.Event) {
		for _, t := range tracers {
			if t != nil {
				t.Trace(ctx, ev)
			}
		}
	})
}
