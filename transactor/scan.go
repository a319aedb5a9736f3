package transactor

import (
	"context"
	"fmt"

	"github.com/mklimuk/i2cdevice"
	"github.com/mklimuk/i2cdevice/bytefmt"
)

// ListDevices probes every address from 1 to 127 with an empty frame.
// Acknowledging addresses are stored in out while it has room; the return
// value counts all of them. verbose only controls the progress report.
func (t *Transactor) ListDevices(ctx context.Context, out []byte, verbose bool) int {
	found := 0
	t.printf(verbose, "Scanning I2C bus\n")
	for addr := byte(1); addr <= i2cdevice.MaxAddress; addr++ {
		status := t.empty(ctx, addr)
		addrStr := bytefmt.Byte(addr, bytefmt.Hex, true)
		switch status {
		case i2cdevice.StatusOK:
			t.printf(verbose, "Found I2C device at address %s\n", addrStr)
			if found < len(out) {
				out[found] = addr
			}
			found++
		case i2cdevice.StatusAddrNACK:
		case i2cdevice.StatusOther:
			t.printf(verbose, "Unknown error at address %s\n", addrStr)
		default:
			t.printf(verbose, "Error occurred at address %s: %s\n", addrStr, status)
		}
	}
	switch found {
	case 0:
		t.printf(verbose, "No devices found on I2C bus\n")
	case 1:
		t.printf(verbose, "Found one device on the I2C bus\n")
	default:
		t.printf(verbose, "Found %d devices on the I2C bus\n", found)
	}
	return found
}

// Scan returns the addresses of all acknowledging devices.
func (t *Transactor) Scan(ctx context.Context) []byte {
	out := make([]byte, i2cdevice.MaxAddress)
	n := t.ListDevices(ctx, out, false)
	return out[:n]
}

func (t *Transactor) printf(verbose bool, format string, args ...any) {
	if !verbose || t.report == nil {
		return
	}
	_, _ = fmt.Fprintf(t.report, format, args...)
}
