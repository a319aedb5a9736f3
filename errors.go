package i2cdevice

import "errors"

var (
	ErrOversizeRequest   = errors.New("request exceeds maximum transfer size")
	ErrShortTransfer     = errors.New("short transfer")
	ErrFrameClose        = errors.New("frame close failed")
	ErrNotPresent        = errors.New("device not present")
	ErrUnsupported       = errors.New("capability not supported")
	ErrInvalidAddress    = errors.New("invalid 7-bit address")
	ErrInvalidBufferSize = errors.New("invalid transfer buffer size")
	ErrBusBusy           = errors.New("I2C engine is busy (command not completed)")
)
