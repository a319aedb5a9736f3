package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/i2cdevice"
	"github.com/mklimuk/i2cdevice/transactor"
)

// chip simulates the I2C engine of the bridge.
type chip struct {
	acked map[byte]bool
	data  []byte
	busy  bool
	fixed bool
	nack  bool
}

func (c *chip) respond(req []byte) []byte {
	resp := make([]byte, reportSize)
	resp[0] = req[0]
	switch req[0] {
	case cmdWrite, cmdWriteNoStop, cmdRead, cmdReadRepeatedStart:
		if c.busy {
			resp[1] = 0x01
			return resp
		}
		c.nack = !c.acked[req[3]>>1]
	case cmdStatus:
		if c.nack {
			resp[respAddrNACK] = maskAddrNACK
		}
		if req[2] == statusCancel {
			c.nack = false
			resp[2] = statusCancel
		}
		if req[3] == statusSetSpeed && !c.fixed {
			resp[3] = statusSetSpeed
		}
		resp[13] = 4
		resp[14] = req[4]
		resp[16] = 0x72
		resp[25] = 1
	case cmdGetData:
		if c.nack {
			resp[1] = getDataFailed
			return resp
		}
		resp[3] = byte(len(c.data))
		copy(resp[4:], c.data)
	}
	return resp
}

type fakeHID struct {
	requests [][]byte
	pending  []byte
	respond  func(req []byte) []byte
	writeErr error
	closed   bool
}

func (f *fakeHID) Write(b []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	req := append([]byte(nil), b...)
	f.requests = append(f.requests, req)
	f.pending = f.respond(req)
	return len(b), nil
}

func (f *fakeHID) Read(b []byte) (int, error) {
	resp := make([]byte, reportSize)
	copy(resp, f.pending)
	return copy(b, resp), nil
}

func (f *fakeHID) Close() error {
	f.closed = true
	return nil
}

func openAdapter(t *testing.T, c *chip, cfg i2cdevice.Config) (*MCP2221, *fakeHID) {
	t.Helper()
	dev := &fakeHID{respond: c.respond}
	d := NewMCP2221(WithResponseWait(0), WithDialer(func(index int) (HIDDevice, error) {
		return dev, nil
	}))
	require.NoError(t, d.Open(context.Background(), cfg))
	return d, dev
}

func TestMCP2221_Open(t *testing.T) {
	var dialed int
	dev := &fakeHID{respond: (&chip{}).respond}
	d := NewMCP2221(WithResponseWait(0), WithDialer(func(index int) (HIDDevice, error) {
		dialed = index
		return dev, nil
	}))
	require.NoError(t, d.Open(context.Background(), i2cdevice.Config{Bus: 1, Frequency: 400_000}))
	assert.Equal(t, 1, dialed)
	require.Len(t, dev.requests, 1)
	assert.Equal(t, []byte{cmdStatus, 0x00, 0x00, statusSetSpeed, 27}, dev.requests[0][:5])
	assert.Equal(t, BufferSize, d.BufferSize())

	require.NoError(t, d.Close())
	assert.True(t, dev.closed)
	assert.NoError(t, d.Close())

	failing := NewMCP2221(WithDialer(func(index int) (HIDDevice, error) {
		return nil, ErrDeviceNotFound
	}))
	assert.ErrorIs(t, failing.Open(context.Background(), i2cdevice.Config{}), ErrDeviceNotFound)
}

func TestMCP2221_SetClock(t *testing.T) {
	c := &chip{}
	d, dev := openAdapter(t, c, i2cdevice.Config{})

	require.NoError(t, d.SetClock(100_000))
	assert.Equal(t, byte(117), dev.requests[0][4])

	assert.Error(t, d.SetClock(10))
	assert.Error(t, d.SetClock(0))
	assert.Error(t, d.SetClock(10_000_000))

	c.fixed = true
	assert.ErrorIs(t, d.SetClock(100_000), i2cdevice.ErrBusBusy)
}

func TestMCP2221_Write(t *testing.T) {
	c := &chip{acked: map[byte]bool{0x39: true}}
	d, dev := openAdapter(t, c, i2cdevice.Config{})
	ctx := context.Background()

	d.BeginTransmission(0x39)
	assert.Equal(t, 2, d.Write([]byte{0xA0, 0x03}))
	assert.Equal(t, i2cdevice.StatusOK, d.EndTransmission(ctx, true))
	require.Len(t, dev.requests, 2)
	assert.Equal(t, []byte{cmdWrite, 0x02, 0x00, 0x72, 0xA0, 0x03}, dev.requests[0][:6])
	assert.Equal(t, byte(cmdStatus), dev.requests[1][0])

	d.BeginTransmission(0x39)
	assert.Equal(t, BufferSize, d.Write(make([]byte, 70)))
	assert.Equal(t, 0, d.Write([]byte{1}))
}

func TestMCP2221_AddressNACK(t *testing.T) {
	c := &chip{acked: map[byte]bool{0x39: true}}
	d, dev := openAdapter(t, c, i2cdevice.Config{})
	ctx := context.Background()

	d.BeginTransmission(0x40)
	d.Write([]byte{0x01})
	assert.Equal(t, i2cdevice.StatusAddrNACK, d.EndTransmission(ctx, true))
	last := dev.requests[len(dev.requests)-1]
	assert.Equal(t, []byte{cmdStatus, 0x00, statusCancel}, last[:3])

	// empty frames are checked with a one byte read
	dev.requests = nil
	d.BeginTransmission(0x40)
	assert.Equal(t, i2cdevice.StatusAddrNACK, d.EndTransmission(ctx, true))
	require.Len(t, dev.requests, 3)
	assert.Equal(t, []byte{cmdRead, 0x01, 0x00, 0x81}, dev.requests[0][:4])
	assert.Equal(t, byte(cmdGetData), dev.requests[1][0])
	assert.Equal(t, []byte{cmdStatus, 0x00, statusCancel}, dev.requests[2][:3])

	dev.requests = nil
	d.BeginTransmission(0x39)
	assert.Equal(t, i2cdevice.StatusOK, d.EndTransmission(ctx, true))
	require.Len(t, dev.requests, 2)
	assert.Equal(t, []byte{cmdRead, 0x01, 0x00, 0x73}, dev.requests[0][:4])
	assert.Equal(t, byte(cmdGetData), dev.requests[1][0])
	for _, req := range dev.requests {
		assert.NotEqual(t, byte(cmdWrite), req[0])
	}
}

func TestMCP2221_Busy(t *testing.T) {
	c := &chip{acked: map[byte]bool{0x39: true}, busy: true}
	d, _ := openAdapter(t, c, i2cdevice.Config{})
	ctx := context.Background()

	d.BeginTransmission(0x39)
	d.Write([]byte{0x01})
	assert.Equal(t, i2cdevice.StatusTimeout, d.EndTransmission(ctx, true))
	assert.Equal(t, 0, d.RequestFrom(ctx, 0x39, 1, true))
}

func TestMCP2221_Read(t *testing.T) {
	c := &chip{acked: map[byte]bool{0x39: true}, data: []byte{0x10, 0x20, 0x30}}
	d, dev := openAdapter(t, c, i2cdevice.Config{})
	ctx := context.Background()

	require.Equal(t, 3, d.RequestFrom(ctx, 0x39, 3, true))
	assert.Equal(t, []byte{cmdRead, 0x03, 0x00, 0x73}, dev.requests[0][:4])
	assert.Equal(t, byte(cmdGetData), dev.requests[1][0])
	assert.Equal(t, byte(0x10), d.Receive())
	assert.Equal(t, byte(0x20), d.Receive())
	assert.Equal(t, byte(0x30), d.Receive())
	assert.Equal(t, byte(0xFF), d.Receive())

	// fewer bytes than requested
	assert.Equal(t, 3, d.RequestFrom(ctx, 0x39, 8, true))
	assert.Equal(t, 0, d.RequestFrom(ctx, 0x40, 1, true))
	assert.Equal(t, 0, d.RequestFrom(ctx, 0x39, 0, true))
}

func TestMCP2221_RepeatedStart(t *testing.T) {
	c := &chip{acked: map[byte]bool{0x39: true}, data: []byte{0x29}}
	d, dev := openAdapter(t, c, i2cdevice.Config{})
	ctx := context.Background()

	d.BeginTransmission(0x39)
	d.Write([]byte{0xB2})
	require.Equal(t, i2cdevice.StatusOK, d.EndTransmission(ctx, false))
	require.Equal(t, 1, d.RequestFrom(ctx, 0x39, 1, true))
	assert.Equal(t, byte(cmdWriteNoStop), dev.requests[0][0])
	assert.Equal(t, byte(cmdReadRepeatedStart), dev.requests[2][0])

	// the next read starts fresh
	require.Equal(t, 1, d.RequestFrom(ctx, 0x39, 1, true))
	assert.Equal(t, byte(cmdRead), dev.requests[4][0])
}

func TestMCP2221_NotOpen(t *testing.T) {
	d := NewMCP2221()
	d.BeginTransmission(0x39)
	assert.Equal(t, i2cdevice.StatusOther, d.EndTransmission(context.Background(), true))
	assert.Equal(t, 0, d.RequestFrom(context.Background(), 0x39, 1, true))
	_, err := d.Status(context.Background())
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestMCP2221_WriteError(t *testing.T) {
	c := &chip{acked: map[byte]bool{0x39: true}}
	d, dev := openAdapter(t, c, i2cdevice.Config{})
	dev.writeErr = errors.New("device disconnected")
	d.BeginTransmission(0x39)
	assert.Equal(t, i2cdevice.StatusOther, d.EndTransmission(context.Background(), true))
}

func TestMCP2221_Status(t *testing.T) {
	c := &chip{}
	d, dev := openAdapter(t, c, i2cdevice.Config{})

	status, err := d.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, status.I2CDataBufferCounter)
	assert.Equal(t, "7200", status.CurrentAddress)
	assert.Equal(t, 1, status.ReadPending)
	assert.False(t, status.AddressNACK)

	_, err = d.ReleaseBus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(statusCancel), dev.requests[1][2])
}

func TestMCP2221_WriteGPIO(t *testing.T) {
	d, dev := openAdapter(t, &chip{}, i2cdevice.Config{})
	ctx := context.Background()

	require.NoError(t, d.WriteGPIO(ctx, 1, true))
	req := dev.requests[0]
	assert.Equal(t, byte(cmdSetGPIO), req[0])
	assert.Equal(t, []byte{0x01, 0x01}, req[6:8])

	require.NoError(t, d.WriteGPIO(ctx, 3, false))
	assert.Equal(t, []byte{0x01, 0x00}, dev.requests[1][14:16])

	assert.Error(t, d.WriteGPIO(ctx, 4, true))
}

func TestMCP2221_Transactor(t *testing.T) {
	c := &chip{acked: map[byte]bool{0x39: true}, data: []byte{0x29}}
	d, _ := openAdapter(t, c, i2cdevice.Config{})
	ctx := context.Background()

	tr, err := transactor.New(d, 0x39)
	require.NoError(t, err)
	assert.Equal(t, BufferSize, tr.MaxTransferSize())
	require.NoError(t, tr.Begin(ctx, true, i2cdevice.Config{}))

	id := make([]byte, 1)
	require.NoError(t, tr.WriteThenRead(ctx, []byte{0xB2}, id, false))
	assert.Equal(t, byte(0x29), id[0])
	assert.Equal(t, []byte{0x39}, tr.Scan(ctx))

	missing, err := transactor.New(d, 0x40)
	require.NoError(t, err)
	assert.ErrorIs(t, missing.Begin(ctx, true, i2cdevice.Config{}), i2cdevice.ErrNotPresent)
}

func TestMCP2221_GPIOParameters(t *testing.T) {
	c := &chip{}
	dev := &fakeHID{respond: func(req []byte) []byte {
		resp := c.respond(req)
		if req[0] == cmdGetSRAM {
			resp[4] = byte(GPIO0LedUartRx)
			resp[5] = byte(GPIOModeIn)
			resp[7] = byte(GPIO3LEDI2C)
		}
		return resp
	}}
	d := NewMCP2221(WithResponseWait(0), WithDialer(func(int) (HIDDevice, error) { return dev, nil }))
	ctx := context.Background()
	require.NoError(t, d.Open(ctx, i2cdevice.Config{}))

	params, err := d.GetGPIOParameters(ctx)
	require.NoError(t, err)
	assert.Equal(t, GPIO0LedUartRx, params.GPIO0Designation)
	assert.Equal(t, GPIOModeIn, params.GPIO1Mode)
	assert.Equal(t, GPIO3LEDI2C, params.GPIO3Designation)

	require.NoError(t, params.SetPin(0, GPIOModeOut, GPIOOperation))
	assert.Error(t, params.SetPin(4, GPIOModeOut, GPIOOperation))
	require.NoError(t, d.SetGPIOParameters(ctx, params))
	req := dev.requests[len(dev.requests)-1]
	assert.Equal(t, []byte{cmdSetSRAM, 0x01, 0x00, byte(GPIOModeIn), 0x00, byte(GPIO3LEDI2C)}, req[:6])
}

func TestMCP2221_ReadGPIO(t *testing.T) {
	dev := &fakeHID{respond: func(req []byte) []byte {
		resp := make([]byte, reportSize)
		resp[0] = req[0]
		copy(resp[2:], []byte{1, 0, 0, 1, 0, byte(GPIOModeNoOperation), 1, 0})
		return resp
	}}
	d := NewMCP2221(WithResponseWait(0), WithDialer(func(int) (HIDDevice, error) { return dev, nil }))
	require.NoError(t, d.Open(context.Background(), i2cdevice.Config{}))

	values, err := d.ReadGPIO(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(1), values.GPIO0Value)
	assert.Equal(t, GPIOModeOut, values.GPIO0Mode)
	assert.Equal(t, GPIOModeIn, values.GPIO1Mode)
	assert.Equal(t, GPIOModeNoOperation, values.GPIO2Mode)
	assert.Equal(t, "INPUT", values.GPIO1Mode.String())
}
