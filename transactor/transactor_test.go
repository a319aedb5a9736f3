package transactor

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/i2cdevice"
	"github.com/mklimuk/i2cdevice/fakebus"
)

// MockChannel is a testify mock of i2cdevice.Channel
type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) Open(ctx context.Context, cfg i2cdevice.Config) error {
	return m.Called(ctx, cfg).Error(0)
}

func (m *MockChannel) BeginTransmission(address byte) {
	m.Called(address)
}

func (m *MockChannel) Write(p []byte) int {
	return m.Called(p).Int(0)
}

func (m *MockChannel) EndTransmission(ctx context.Context, stop bool) i2cdevice.Status {
	return m.Called(ctx, stop).Get(0).(i2cdevice.Status)
}

func (m *MockChannel) RequestFrom(ctx context.Context, address byte, n int, stop bool) int {
	return m.Called(ctx, address, n, stop).Int(0)
}

func (m *MockChannel) Receive() byte {
	return m.Called().Get(0).(byte)
}

func (m *MockChannel) BufferSize() int {
	return m.Called().Int(0)
}

func newTransactor(t *testing.T, ch i2cdevice.Channel, addr byte, opts ...Option) *Transactor {
	t.Helper()
	tr, err := New(ch, addr, opts...)
	require.NoError(t, err)
	return tr
}

func TestNew(t *testing.T) {
	t.Run("max transfer size from channel", func(t *testing.T) {
		tr := newTransactor(t, fakebus.New(fakebus.WithBufferSize(128)), 0x39)
		assert.Equal(t, 128, tr.MaxTransferSize())
		assert.Equal(t, byte(0x39), tr.Address())
		assert.False(t, tr.IsInitialized())
	})
	t.Run("address out of 7-bit range", func(t *testing.T) {
		_, err := New(fakebus.New(), 0x80)
		assert.ErrorIs(t, err, i2cdevice.ErrInvalidAddress)
	})
	t.Run("zero buffer size", func(t *testing.T) {
		_, err := New(fakebus.New(fakebus.WithBufferSize(0)), 0x39)
		assert.ErrorIs(t, err, i2cdevice.ErrInvalidBufferSize)
	})
	t.Run("buffer size queried once", func(t *testing.T) {
		ch := new(MockChannel)
		ch.On("BufferSize").Return(16).Once()
		tr := newTransactor(t, ch, 0x20)
		assert.Equal(t, 16, tr.MaxTransferSize())
		assert.Equal(t, 16, tr.MaxTransferSize())
		ch.AssertExpectations(t)
	})
}

func TestBegin(t *testing.T) {
	ctx := context.Background()
	cfg := i2cdevice.Config{Device: "/dev/i2c-1", SDA: 21, SCL: 22}

	t.Run("without detection", func(t *testing.T) {
		bus := fakebus.New(fakebus.WithAck())
		tr := newTransactor(t, bus, 0x39)
		require.NoError(t, tr.Begin(ctx, false, cfg))
		assert.True(t, tr.IsInitialized())
		assert.Equal(t, []i2cdevice.Config{cfg}, bus.Opens)
		assert.Empty(t, bus.Frames)
	})
	t.Run("device present", func(t *testing.T) {
		bus := fakebus.New(fakebus.WithAck(0x39))
		tr := newTransactor(t, bus, 0x39)
		require.NoError(t, tr.Begin(ctx, true, cfg))
		assert.Equal(t, []byte{0x39}, bus.Probes())
	})
	t.Run("device absent", func(t *testing.T) {
		bus := fakebus.New(fakebus.WithAck(0x10))
		tr := newTransactor(t, bus, 0x39)
		err := tr.Begin(ctx, true, cfg)
		assert.ErrorIs(t, err, i2cdevice.ErrNotPresent)
	})
	t.Run("open fails", func(t *testing.T) {
		openErr := errors.New("no such bus")
		bus := fakebus.New(fakebus.WithOpenError(openErr))
		tr := newTransactor(t, bus, 0x39)
		err := tr.Begin(ctx, true, cfg)
		assert.ErrorIs(t, err, openErr)
		assert.False(t, tr.IsInitialized())
		assert.False(t, bus.Touched())
	})
	t.Run("reopens on every call", func(t *testing.T) {
		bus := fakebus.New()
		tr := newTransactor(t, bus, 0x39)
		require.NoError(t, tr.Begin(ctx, false, cfg))
		require.NoError(t, tr.Begin(ctx, false, cfg))
		assert.Len(t, bus.Opens, 2)
	})
}

func TestEnd(t *testing.T) {
	ctx := context.Background()
	t.Run("closable channel", func(t *testing.T) {
		bus := fakebus.New()
		tr := newTransactor(t, bus, 0x39)
		require.NoError(t, tr.Begin(ctx, false, i2cdevice.Config{}))
		require.NoError(t, tr.End(ctx))
		assert.Equal(t, 1, bus.Closes)
		assert.False(t, tr.IsInitialized())
	})
	t.Run("close error", func(t *testing.T) {
		closeErr := errors.New("busy")
		bus := fakebus.New(fakebus.WithCloseError(closeErr))
		tr := newTransactor(t, bus, 0x39)
		require.NoError(t, tr.Begin(ctx, false, i2cdevice.Config{}))
		assert.ErrorIs(t, tr.End(ctx), closeErr)
	})
	t.Run("channel without close", func(t *testing.T) {
		bus := fakebus.New()
		tr := newTransactor(t, fakebus.Bare(bus), 0x39)
		require.NoError(t, tr.Begin(ctx, false, i2cdevice.Config{}))
		require.NoError(t, tr.End(ctx))
		assert.Equal(t, 0, bus.Closes)
		assert.True(t, tr.IsInitialized())
	})
}

func TestDetected(t *testing.T) {
	ctx := context.Background()
	defaults := i2cdevice.Config{Device: "/dev/i2c-2", Frequency: 100_000}

	t.Run("lazy initialization", func(t *testing.T) {
		bus := fakebus.New(fakebus.WithAck(0x39))
		tr := newTransactor(t, bus, 0x39, WithConfig(defaults))
		assert.True(t, tr.Detected(ctx))
		assert.True(t, tr.IsInitialized())
		assert.Equal(t, []i2cdevice.Config{defaults}, bus.Opens)
		assert.Equal(t, []byte{0x39}, bus.Probes())
	})
	t.Run("initialization fails", func(t *testing.T) {
		bus := fakebus.New(fakebus.WithOpenError(errors.New("no bus")))
		tr := newTransactor(t, bus, 0x39)
		assert.False(t, tr.Detected(ctx))
		assert.False(t, bus.Touched())
	})
	t.Run("already initialized", func(t *testing.T) {
		bus := fakebus.New(fakebus.WithAck(0x39))
		tr := newTransactor(t, bus, 0x39)
		require.NoError(t, tr.Begin(ctx, false, i2cdevice.Config{}))
		assert.True(t, tr.Detected(ctx))
		assert.Len(t, bus.Opens, 1)
	})
	t.Run("no acknowledgement", func(t *testing.T) {
		bus := fakebus.New(fakebus.WithAck(0x40))
		tr := newTransactor(t, bus, 0x39)
		assert.False(t, tr.Detected(ctx))
		require.Len(t, bus.Frames, 1)
		assert.True(t, bus.Frames[0].Stop)
	})
}

func TestSetSpeed(t *testing.T) {
	ctx := context.Background()
	t.Run("supported", func(t *testing.T) {
		bus := fakebus.New()
		tr := newTransactor(t, bus, 0x39)
		require.NoError(t, tr.SetSpeed(ctx, 400_000))
		assert.Equal(t, []uint32{400_000}, bus.Clocks)
	})
	t.Run("channel rejects", func(t *testing.T) {
		clockErr := errors.New("out of range")
		tr := newTransactor(t, fakebus.New(fakebus.WithClockError(clockErr)), 0x39)
		assert.ErrorIs(t, tr.SetSpeed(ctx, 5), clockErr)
	})
	t.Run("unsupported", func(t *testing.T) {
		bus := fakebus.New()
		tr := newTransactor(t, fakebus.Bare(bus), 0x39)
		assert.ErrorIs(t, tr.SetSpeed(ctx, 400_000), i2cdevice.ErrUnsupported)
		assert.Empty(t, bus.Clocks)
	})
}

func TestTracer(t *testing.T) {
	ctx := context.Background()
	var events []i2cdevice.Event
	tracer := i2cdevice.TracerFunc(func(ctx context.Context, ev i2cdevice.Event) {
		events = append(events, ev)
	})
	bus := fakebus.New(fakebus.WithBufferSize(4))
	tr := newTransactor(t, bus, 0x39, WithTracer(tracer))
	require.NoError(t, tr.Begin(ctx, true, i2cdevice.Config{}))
	require.NoError(t, tr.WriteThenRead(ctx, []byte{0xA0}, make([]byte, 6), false))

	ops := make([]i2cdevice.Op, len(events))
	for i, ev := range events {
		ops[i] = ev.Op
		assert.Equal(t, byte(0x39), ev.Address)
	}
	assert.Equal(t, []i2cdevice.Op{
		i2cdevice.OpOpen,
		i2cdevice.OpProbe,
		i2cdevice.OpWrite,
		i2cdevice.OpRead,
		i2cdevice.OpRead,
	}, ops)
	assert.False(t, events[2].Stop)
	assert.Len(t, events[3].Data, 4)
	assert.Len(t, events[4].Data, 2)
}

func TestListDevices(t *testing.T) {
	ctx := context.Background()

	t.Run("three devices", func(t *testing.T) {
		bus := fakebus.New(fakebus.WithAck(0x10, 0x39, 0x5A))
		tr := newTransactor(t, bus, 0x39)
		out := make([]byte, 9)
		n := tr.ListDevices(ctx, out, false)
		assert.Equal(t, 3, n)
		assert.Equal(t, []byte{0x10, 0x39, 0x5A}, out[:n])

		probes := bus.Probes()
		require.Len(t, probes, 127)
		for i, addr := range probes {
			assert.Equal(t, byte(i+1), addr)
		}
		assert.NotContains(t, probes, byte(0x00))
	})
	t.Run("output smaller than result", func(t *testing.T) {
		bus := fakebus.New(fakebus.WithAck(0x10, 0x39, 0x5A))
		tr := newTransactor(t, bus, 0x39)
		out := make([]byte, 2)
		assert.Equal(t, 3, tr.ListDevices(ctx, out, false))
		assert.Equal(t, []byte{0x10, 0x39}, out)
	})
	t.Run("verbose report", func(t *testing.T) {
		var report bytes.Buffer
		bus := fakebus.New(fakebus.WithStatus(func(f fakebus.Frame) i2cdevice.Status {
			switch f.Address {
			case 0x39:
				return i2cdevice.StatusOK
			case 0x50:
				return i2cdevice.StatusOther
			case 0x60:
				return i2cdevice.StatusTimeout
			}
			return i2cdevice.StatusAddrNACK
		}))
		tr := newTransactor(t, bus, 0x39, WithReport(&report))
		quiet := tr.ListDevices(ctx, make([]byte, 4), false)
		assert.Empty(t, report.String())

		out := make([]byte, 4)
		n := tr.ListDevices(ctx, out, true)
		assert.Equal(t, quiet, n)
		assert.Equal(t, byte(0x39), out[0])
		text := report.String()
		assert.Contains(t, text, "Scanning I2C bus")
		assert.Contains(t, text, "Found I2C device at address 0X39")
		assert.Contains(t, text, "Unknown error at address 0X50")
		assert.Contains(t, text, "Error occurred at address 0X60: timeout")
		assert.Contains(t, text, "Found one device on the I2C bus")
	})
	t.Run("empty bus", func(t *testing.T) {
		var report bytes.Buffer
		tr := newTransactor(t, fakebus.New(fakebus.WithAck()), 0x39, WithReport(&report))
		assert.Equal(t, 0, tr.ListDevices(ctx, nil, true))
		assert.Contains(t, report.String(), "No devices found on I2C bus")
	})
	t.Run("rescans every call", func(t *testing.T) {
		bus := fakebus.New(fakebus.WithAck(0x10))
		tr := newTransactor(t, bus, 0x39)
		tr.ListDevices(ctx, nil, false)
		tr.ListDevices(ctx, nil, false)
		assert.Len(t, bus.Probes(), 254)
	})
}

func TestScan(t *testing.T) {
	bus := fakebus.New(fakebus.WithAck(0x01, 0x39, 0x7F))
	tr := newTransactor(t, bus, 0x39)
	assert.Equal(t, []byte{0x01, 0x39, 0x7F}, tr.Scan(context.Background()))
}
