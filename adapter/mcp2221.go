package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/i2cdevice"
	"github.com/mklimuk/i2cdevice/busctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

// BufferSize is the largest I2C payload a single HID report carries.
const BufferSize = 60

const reportSize = 64

const (
	cmdStatus            = 0x10
	cmdGetData           = 0x40
	cmdSetGPIO           = 0x50
	cmdGetGPIO           = 0x51
	cmdWrite             = 0x90
	cmdRead              = 0x91
	cmdReadRepeatedStart = 0x93
	cmdWriteNoStop       = 0x94
	cmdGetSRAM           = 0xB0
	cmdSetSRAM           = 0xB1

	statusCancel   = 0x10
	statusSetSpeed = 0x20

	respAddrNACK  = 20
	maskAddrNACK  = 0x40
	getDataFailed = 0x41
	clockBase     = 12_000_000
)

var ErrCommandUnsupported = errors.New("unsupported command")
var ErrCommandFailed = errors.New("command failed")
var ErrDeviceNotFound = errors.New("MCP2221 device not found")

var (
	_ i2cdevice.Channel     = &MCP2221{}
	_ i2cdevice.Closer      = &MCP2221{}
	_ i2cdevice.ClockSetter = &MCP2221{}
)

// HIDDevice is an open USB HID handle.
type HIDDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// Dialer opens the adapter with the given enumeration index.
type Dialer func(index int) (HIDDevice, error)

// Devices lists attached MCP2221 adapters.
func Devices() []hid.DeviceInfo {
	return hid.Enumerate(VendorID, ProductID)
}

// HIDDialer opens the index-th attached MCP2221 adapter.
func HIDDialer(index int) (HIDDevice, error) {
	devs := Devices()
	if len(devs) == 0 {
		return nil, ErrDeviceNotFound
	}
	if index < 0 || index >= len(devs) {
		return nil, fmt.Errorf("no device with id %d (%d attached)", index, len(devs))
	}
	if len(devs) > 1 {
		slog.Debug("several MCP2221 adapters attached", "count", len(devs), "using", index)
	}
	dev, err := devs[index].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}

// MCP2221 drives the I2C engine of a Microchip MCP2221 USB bridge. Payloads
// are queued locally and sent as one HID report when the frame is closed.
type MCP2221 struct {
	mx           sync.Mutex
	dial         Dialer
	dev          HIDDevice
	request      []byte
	response     []byte
	responseWait time.Duration

	addr   byte
	tx     []byte
	active bool
	// set when the last frame kept the bus
	restart     bool
	restartAddr byte

	rx  []byte
	pos int
}

type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"buffer_counter"`
	I2CSpeedDivider        int    `yaml:"speed_divider"`
	I2CTimeout             int    `yaml:"timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_requested_size"`
	LastWriteSentSize      uint16 `yaml:"last_sent_size"`
	ReadPending            int    `yaml:"read_pending"`
	AddressNACK            bool   `yaml:"address_nack"`
}

type Option func(*MCP2221)

func WithDialer(dial Dialer) Option {
	return func(d *MCP2221) {
		d.dial = dial
	}
}

// WithResponseWait sets the delay between a request and reading its response.
func WithResponseWait(wait time.Duration) Option {
	return func(d *MCP2221) {
		d.responseWait = wait
	}
}

func NewMCP2221(opts ...Option) *MCP2221 {
	d := &MCP2221{
		dial:         HIDDialer,
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open opens the adapter selected by cfg.Bus and applies cfg.Frequency.
func (d *MCP2221) Open(ctx context.Context, cfg i2cdevice.Config) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.dev == nil {
		dev, err := d.dial(cfg.Bus)
		if err != nil {
			return err
		}
		d.dev = dev
	}
	if cfg.Frequency != 0 {
		return d.setClock(ctx, cfg.Frequency)
	}
	return nil
}

func (d *MCP2221) Close() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.dev == nil {
		return nil
	}
	err := d.dev.Close()
	d.dev = nil
	if err != nil {
		return fmt.Errorf("could not close adapter: %w", err)
	}
	return nil
}

func (d *MCP2221) BufferSize() int {
	return BufferSize
}

func (d *MCP2221) SetClock(hz uint32) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.setClock(context.Background(), hz)
}

func (d *MCP2221) setClock(ctx context.Context, hz uint32) error {
	if hz == 0 {
		return fmt.Errorf("invalid clock frequency %d Hz", hz)
	}
	divider := int(clockBase/hz) - 3
	if divider < 1 || divider > 0xFF {
		return fmt.Errorf("clock frequency %d Hz out of range", hz)
	}
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[3] = statusSetSpeed
	d.request[4] = byte(divider)
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("set speed request failed: %w", err)
	}
	if d.response[3] != statusSetSpeed {
		// the engine refuses new speed while a transfer is in progress
		return i2cdevice.ErrBusBusy
	}
	return nil
}

func (d *MCP2221) BeginTransmission(address byte) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.addr = address
	d.tx = d.tx[:0]
	d.active = true
}

func (d *MCP2221) Write(p []byte) int {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.active {
		return 0
	}
	n := min(len(p), BufferSize-len(d.tx))
	d.tx = append(d.tx, p[:n]...)
	return n
}

func (d *MCP2221) EndTransmission(ctx context.Context, stop bool) i2cdevice.Status {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.active || d.dev == nil {
		return i2cdevice.StatusOther
	}
	d.active = false
	d.restart = false
	d.resetBuffers()
	if len(d.tx) == 0 {
		return d.probe(ctx)
	}
	d.request[0] = cmdWrite
	if !stop {
		d.request[0] = cmdWriteNoStop
	}
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(d.tx)))
	d.request[3] = d.addr << 1
	copy(d.request[4:], d.tx)
	if err := d.send(ctx); err != nil {
		slog.Debug("write to adapter failed", "addr", fmt.Sprintf("0x%02x", d.addr), "error", err)
		return i2cdevice.StatusOther
	}
	if d.response[1] != 0x00 {
		slog.Debug("adapter busy", "addr", fmt.Sprintf("0x%02x", d.addr))
		d.cancel(ctx)
		return i2cdevice.StatusTimeout
	}
	status, err := d.status(ctx)
	if err != nil {
		return i2cdevice.StatusOther
	}
	if status.AddressNACK {
		d.cancel(ctx)
		return i2cdevice.StatusAddrNACK
	}
	if !stop {
		d.restart = true
		d.restartAddr = d.addr
	}
	return i2cdevice.StatusOK
}

// probe checks the address with a one byte read since the engine is not
// given zero length writes. The bus is always released afterwards.
func (d *MCP2221) probe(ctx context.Context) i2cdevice.Status {
	d.request[0] = cmdRead
	binary.LittleEndian.PutUint16(d.request[1:3], 1)
	d.request[3] = d.addr<<1 + 1
	if err := d.send(ctx); err != nil {
		slog.Debug("probe failed", "addr", fmt.Sprintf("0x%02x", d.addr), "error", err)
		return i2cdevice.StatusOther
	}
	if d.response[1] != 0x00 {
		slog.Debug("adapter busy", "addr", fmt.Sprintf("0x%02x", d.addr))
		d.cancel(ctx)
		return i2cdevice.StatusTimeout
	}
	d.resetBuffers()
	d.request[0] = cmdGetData
	if err := d.send(ctx); err != nil {
		slog.Debug("error getting probe data from adapter", "error", err)
		return i2cdevice.StatusOther
	}
	if d.response[1] == getDataFailed {
		d.cancel(ctx)
		return i2cdevice.StatusAddrNACK
	}
	return i2cdevice.StatusOK
}

func (d *MCP2221) RequestFrom(ctx context.Context, address byte, n int, stop bool) int {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.rx, d.pos = nil, 0
	if d.dev == nil || n <= 0 {
		return 0
	}
	n = min(n, BufferSize)
	d.resetBuffers()
	d.request[0] = cmdRead
	if d.restart && d.restartAddr == address {
		d.request[0] = cmdReadRepeatedStart
	}
	d.restart = false
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(n))
	d.request[3] = address<<1 + 1
	if err := d.send(ctx); err != nil {
		slog.Debug("bus read failed", "addr", fmt.Sprintf("0x%02x", address), "error", err)
		return 0
	}
	if d.response[1] != 0x00 {
		slog.Debug("adapter busy", "addr", fmt.Sprintf("0x%02x", address))
		d.cancel(ctx)
		return 0
	}
	d.resetBuffers()
	d.request[0] = cmdGetData
	if err := d.send(ctx); err != nil {
		slog.Debug("error getting read data from adapter", "error", err)
		return 0
	}
	if d.response[1] == getDataFailed {
		slog.Debug("error reading the I2C slave data from the I2C engine", "addr", fmt.Sprintf("0x%02x", address))
		d.cancel(ctx)
		return 0
	}
	size := int(d.response[3])
	if size == 127 {
		return 0
	}
	size = min(size, n)
	d.rx = append([]byte(nil), d.response[4:4+size]...)
	return size
}

func (d *MCP2221) Receive() byte {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.pos >= len(d.rx) {
		return 0xFF
	}
	v := d.rx[d.pos]
	d.pos++
	return v
}

type GPIOMode byte

const (
	GPIOModeOut         GPIOMode = 0b00000000
	GPIOModeIn          GPIOMode = 0b00001000
	GPIOModeNoOperation GPIOMode = 0xEF
)

func (m GPIOMode) String() string {
	switch m {
	case GPIOModeIn:
		return "INPUT"
	case GPIOModeOut:
		return "OUTPUT"
	default:
		return "NOOP"
	}
}

type GPIODesignation byte

const (
	GPIOOperation GPIODesignation = 0b00000000
	// alternate function of GP0
	GPIO0LedUartRx GPIODesignation = 0b00000001
	GPIO0SSPND     GPIODesignation = 0b00000010
	// dedicated function of GP1
	GPIO1ClockOutput        GPIODesignation = 0b00000001
	GPIO1ADC1               GPIODesignation = 0b00000010
	GPIO1LedUartTx          GPIODesignation = 0b00000011
	GPIO1InterruptDetection GPIODesignation = 0b00000100
	GPIO2ClockOutput        GPIODesignation = 0b00000001
	GPIO2ADC2               GPIODesignation = 0b00000010
	GPIO2DAC1               GPIODesignation = 0b00000011
	// dedicated function of GP3, lights on I2C traffic
	GPIO3LEDI2C GPIODesignation = 0b00000001
	GPIO3ADC3   GPIODesignation = 0b00000010
	GPIO3DAC2   GPIODesignation = 0b00000011
)

const gpioModeMask = 0b00001000
const gpioOperationMask = 0b00000111

// GPIOPins is the number of general purpose pins on the adapter.
const GPIOPins = 4

type MCP2221GPIOValues struct {
	GPIO0Mode  GPIOMode `yaml:"GP0_mode"`
	GPIO0Value byte     `yaml:"GPIO0"`
	GPIO1Mode  GPIOMode `yaml:"GP1_mode"`
	GPIO1Value byte     `yaml:"GPIO1"`
	GPIO2Mode  GPIOMode `yaml:"GP2_mode"`
	GPIO2Value byte     `yaml:"GPIO2"`
	GPIO3Mode  GPIOMode `yaml:"GP3_mode"`
	GPIO3Value byte     `yaml:"GPIO3"`
}

type MCP2221GPIOParameters struct {
	GPIO0Mode        GPIOMode        `yaml:"GP0_mode"`
	GPIO0Designation GPIODesignation `yaml:"GP0_designation"`
	GPIO1Mode        GPIOMode        `yaml:"GP1_mode"`
	GPIO1Designation GPIODesignation `yaml:"GP1_designation"`
	GPIO2Mode        GPIOMode        `yaml:"GP2_mode"`
	GPIO2Designation GPIODesignation `yaml:"GP2_designation"`
	GPIO3Mode        GPIOMode        `yaml:"GP3_mode"`
	GPIO3Designation GPIODesignation `yaml:"GP3_designation"`
}

// SetPin changes the mode and designation of one pin.
func (p *MCP2221GPIOParameters) SetPin(pin int, mode GPIOMode, designation GPIODesignation) error {
	switch pin {
	case 0:
		p.GPIO0Mode, p.GPIO0Designation = mode, designation
	case 1:
		p.GPIO1Mode, p.GPIO1Designation = mode, designation
	case 2:
		p.GPIO2Mode, p.GPIO2Designation = mode, designation
	case 3:
		p.GPIO3Mode, p.GPIO3Designation = mode, designation
	default:
		return fmt.Errorf("invalid GPIO pin %d", pin)
	}
	return nil
}

func (d *MCP2221) SetGPIOParameters(ctx context.Context, params MCP2221GPIOParameters) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdSetSRAM
	d.request[1] = 0x01
	d.request[2] = byte(params.GPIO0Designation) | byte(params.GPIO0Mode)
	d.request[3] = byte(params.GPIO1Designation) | byte(params.GPIO1Mode)
	d.request[4] = byte(params.GPIO2Designation) | byte(params.GPIO2Mode)
	d.request[5] = byte(params.GPIO3Designation) | byte(params.GPIO3Mode)
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("set GP parameters command write failed: %w", err)
	}
	if d.response[1] == 0x01 {
		return ErrCommandFailed
	}
	return nil
}

func (d *MCP2221) GetGPIOParameters(ctx context.Context) (MCP2221GPIOParameters, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdGetSRAM
	d.request[1] = 0x01
	if err := d.send(ctx); err != nil {
		return MCP2221GPIOParameters{}, fmt.Errorf("get GP parameters command write failed: %w", err)
	}
	if d.response[1] == 0x01 {
		return MCP2221GPIOParameters{}, ErrCommandUnsupported
	}
	return MCP2221GPIOParameters{
		GPIO0Mode:        GPIOMode(d.response[4] & gpioModeMask),
		GPIO0Designation: GPIODesignation(d.response[4] & gpioOperationMask),
		GPIO1Mode:        GPIOMode(d.response[5] & gpioModeMask),
		GPIO1Designation: GPIODesignation(d.response[5] & gpioOperationMask),
		GPIO2Mode:        GPIOMode(d.response[6] & gpioModeMask),
		GPIO2Designation: GPIODesignation(d.response[6] & gpioOperationMask),
		GPIO3Mode:        GPIOMode(d.response[7] & gpioModeMask),
		GPIO3Designation: GPIODesignation(d.response[7] & gpioOperationMask),
	}, nil
}

func (d *MCP2221) ReadGPIO(ctx context.Context) (MCP2221GPIOValues, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdGetGPIO
	var res MCP2221GPIOValues
	if err := d.send(ctx); err != nil {
		return res, fmt.Errorf("read GPIO values command write failed: %w", err)
	}
	if d.response[1] == 0x01 {
		return res, ErrCommandFailed
	}
	mode := func(b byte) GPIOMode {
		if b == byte(GPIOModeNoOperation) {
			return GPIOModeNoOperation
		}
		return GPIOMode(b << 3)
	}
	res.GPIO0Value, res.GPIO0Mode = d.response[2], mode(d.response[3])
	res.GPIO1Value, res.GPIO1Mode = d.response[4], mode(d.response[5])
	res.GPIO2Value, res.GPIO2Mode = d.response[6], mode(d.response[7])
	res.GPIO3Value, res.GPIO3Mode = d.response[8], mode(d.response[9])
	return res, nil
}

// WriteGPIO sets the output value of a pin configured as GPIO output.
func (d *MCP2221) WriteGPIO(ctx context.Context, pin int, value bool) error {
	if pin < 0 || pin >= GPIOPins {
		return fmt.Errorf("invalid GPIO pin %d", pin)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdSetGPIO
	offset := 2 + 4*pin
	d.request[offset] = 0x01
	if value {
		d.request[offset+1] = 0x01
	}
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("set GPIO values command write failed: %w", err)
	}
	if d.response[1] != 0x00 || d.response[offset] != 0x00 {
		return ErrCommandFailed
	}
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.status(ctx)
}

func (d *MCP2221) status(ctx context.Context) (*MCP2221Status, error) {
	d.resetBuffers()
	d.request[0] = cmdStatus
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

// ReleaseBus cancels the current transfer and frees the bus.
func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.releaseBus(ctx)
}

func (d *MCP2221) releaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = statusCancel
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) cancel(ctx context.Context) {
	if _, err := d.releaseBus(ctx); err != nil {
		slog.Debug("could not release bus", "error", err)
	}
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
		20: bit 6 set when the slave did not acknowledge its address
		25: I2C read pending
	*/
	status := &MCP2221Status{
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
		AddressNACK:          buffer[respAddrNACK]&maskAddrNACK != 0,
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

func (d *MCP2221) send(ctx context.Context) error {
	if d.dev == nil {
		return ErrDeviceNotFound
	}
	verbose := busctx.IsVerbose(ctx)
	if verbose {
		slog.Debug("sending message to adapter", "report", "\n"+hex.Dump(d.request))
	}
	n, err := d.dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	if d.responseWait > 0 {
		time.Sleep(d.responseWait)
	}
	n, err = d.dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	if verbose {
		slog.Debug("read message from adapter", "report", "\n"+hex.Dump(d.response))
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}
