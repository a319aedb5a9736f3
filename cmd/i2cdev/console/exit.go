package console

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cdevice"
)

// Exit codes returned by i2cdev.
const (
	CodeFailure    = 1
	CodeNotPresent = 2
	CodeBusError   = 3
	CodeUsage      = 64
)

func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}

// ExitErr maps a transaction error to an exit code.
func ExitErr(msg string, err error) cli.ExitCoder {
	code := CodeFailure
	switch {
	case errors.Is(err, i2cdevice.ErrNotPresent):
		code = CodeNotPresent
	case errors.Is(err, i2cdevice.ErrFrameClose), errors.Is(err, i2cdevice.ErrShortTransfer), errors.Is(err, i2cdevice.ErrBusBusy):
		code = CodeBusError
	case errors.Is(err, i2cdevice.ErrOversizeRequest), errors.Is(err, i2cdevice.ErrInvalidAddress):
		code = CodeUsage
	}
	return cli.Exit(fmt.Sprintf("%s: %s", msg, Red(err)), code)
}
