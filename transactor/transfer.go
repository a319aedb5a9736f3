package transactor

import (
	"context"
	"fmt"

	"github.com/mklimuk/i2cdevice"
)

// Write sends payload in a single frame. See WritePrefixed.
func (t *Transactor) Write(ctx context.Context, payload []byte, stop bool) error {
	return t.WritePrefixed(ctx, nil, payload, stop)
}

// WriteValue sends a single byte in its own frame.
func (t *Transactor) WriteValue(ctx context.Context, v byte, stop bool) error {
	return t.WritePrefixed(ctx, nil, []byte{v}, stop)
}

// WritePrefixed sends prefix followed by payload in one frame. Writes are never
// split: when both together exceed MaxTransferSize the call fails with
// ErrOversizeRequest before touching the bus. With stop set to false the bus
// is held for a following read. Channels implementing i2cdevice.Flusher send
// such a frame later; its failure is returned by the next transfer, by Flush
// or by End.
func (t *Transactor) WritePrefixed(ctx context.Context, prefix, payload []byte, stop bool) error {
	if total := len(prefix) + len(payload); total > t.maxTransfer {
		err := fmt.Errorf("%w: %d > %d bytes", i2cdevice.ErrOversizeRequest, total, t.maxTransfer)
		t.traceWrite(ctx, prefix, payload, stop, i2cdevice.StatusDataTooLong, err)
		return err
	}
	if err := t.Flush(ctx); err != nil {
		return err
	}
	t.channel.BeginTransmission(t.addr)
	if len(prefix) > 0 {
		if n := t.channel.Write(prefix); n != len(prefix) {
			err := fmt.Errorf("could not queue prefix: %w: %d of %d bytes", i2cdevice.ErrShortTransfer, n, len(prefix))
			t.traceWrite(ctx, prefix, payload, stop, i2cdevice.StatusDataTooLong, err)
			return err
		}
	}
	if n := t.channel.Write(payload); n != len(payload) {
		err := fmt.Errorf("could not queue payload: %w: %d of %d bytes", i2cdevice.ErrShortTransfer, n, len(payload))
		t.traceWrite(ctx, prefix, payload, stop, i2cdevice.StatusDataTooLong, err)
		return err
	}
	status := t.channel.EndTransmission(ctx, stop)
	if status != i2cdevice.StatusOK {
		err := fmt.Errorf("could not write to 0x%02x: %w: %s", t.addr, i2cdevice.ErrFrameClose, status)
		t.traceWrite(ctx, prefix, payload, stop, status, err)
		return err
	}
	t.traceWrite(ctx, prefix, payload, stop, status, nil)
	return nil
}

func (t *Transactor) traceWrite(ctx context.Context, prefix, payload []byte, stop bool, status i2cdevice.Status, err error) {
	t.tracer.Trace(ctx, i2cdevice.Event{
		Op:      i2cdevice.OpWrite,
		Address: t.addr,
		Prefix:  prefix,
		Data:    payload,
		Stop:    stop,
		Status:  status,
		Err:     err,
	})
}

// Flush settles a write the channel held for a repeated start. Channels that
// send every frame immediately always return nil. A failure of the held
// frame wraps ErrFrameClose.
func (t *Transactor) Flush(ctx context.Context) error {
	f, ok := t.channel.(i2cdevice.Flusher)
	if !ok {
		return nil
	}
	if err := f.Flush(ctx); err != nil {
		t.tracer.Trace(ctx, i2cdevice.Event{Op: i2cdevice.OpWrite, Address: t.addr, Status: i2cdevice.StatusOther, Err: err})
		return fmt.Errorf("could not complete held write: %w", err)
	}
	return nil
}

// Read fills buf from the peripheral. Reads longer than MaxTransferSize are
// split into consecutive requests; only the last one honours stop, the
// earlier ones keep the bus held. On error the content of buf is undefined.
func (t *Transactor) Read(ctx context.Context, buf []byte, stop bool) error {
	pos := 0
	for pos < len(buf) {
		n := min(len(buf)-pos, t.maxTransfer)
		chunkStop := stop
		if pos+n < len(buf) {
			chunkStop = false
		}
		if err := t.read(ctx, buf[pos:pos+n], chunkStop); err != nil {
			return err
		}
		pos += n
	}
	return nil
}

func (t *Transactor) read(ctx context.Context, buf []byte, stop bool) error {
	recv := t.channel.RequestFrom(ctx, t.addr, len(buf), stop)
	if err := t.Flush(ctx); err != nil {
		return err
	}
	if recv != len(buf) {
		err := fmt.Errorf("could not read from 0x%02x: %w: %d of %d bytes", t.addr, i2cdevice.ErrShortTransfer, recv, len(buf))
		t.tracer.Trace(ctx, i2cdevice.Event{Op: i2cdevice.OpRead, Address: t.addr, Stop: stop, Err: err})
		return err
	}
	for i := range buf {
		buf[i] = t.channel.Receive()
	}
	t.tracer.Trace(ctx, i2cdevice.Event{Op: i2cdevice.OpRead, Address: t.addr, Data: buf, Stop: stop})
	return nil
}

// WriteThenRead writes w and, only if that succeeded, reads into r. stop
// applies to the write: false (the usual choice) holds the bus so the read
// follows with a repeated start. r is left untouched when the write fails.
func (t *Transactor) WriteThenRead(ctx context.Context, w, r []byte, stop bool) error {
	if err := t.Write(ctx, w, stop); err != nil {
		return err
	}
	return t.Read(ctx, r, true)
}
