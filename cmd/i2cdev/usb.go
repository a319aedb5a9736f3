package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/karalabe/hid"
	"github.com/knieriem/serport/serenum"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cdevice/adapter"
	"github.com/mklimuk/i2cdevice/cmd/i2cdev/console"
)

var usbCmd = cli.Command{
	Name:  "usb",
	Usage: "inspect USB bridges and serial ports",
	Subcommands: cli.Commands{
		&usbLsCmd,
		&usbDetectCmd,
		&usbSerialCmd,
	},
}

var usbLsCmd = cli.Command{
	Name:  "ls",
	Usage: "list all HID devices",
	Action: func(c *cli.Context) error {
		devices := hid.Enumerate(0, 0)

		w := tabwriter.NewWriter(console.Writer(), 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "PATH\tSERIAL\tVENDOR\tPRODUCT ID\tMANUFACTURER\tPRODUCT\n")
		for _, dev := range devices {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%#x\t%#x\t%s\t%s\n",
				dev.Path, dev.Serial, dev.VendorID, dev.ProductID, dev.Manufacturer, dev.Product)
		}
		return w.Flush()
	},
}

var usbDetectCmd = cli.Command{
	Name:  "detect",
	Usage: "list attached I2C bridges with their adapter index",
	Action: func(c *cli.Context) error {
		w := tabwriter.NewWriter(console.Writer(), 12, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "INDEX\tVENDOR\tPRODUCT\tDEVICE\tSERIAL\n")
		for i, dev := range adapter.Devices() {
			_, _ = fmt.Fprintf(w, "%d\t%#x\t%#x\t%s\t%s\n", i, dev.VendorID, dev.ProductID, "MCP2221", dev.Serial)
		}
		return w.Flush()
	},
}

var usbSerialCmd = cli.Command{
	Name:  "serial",
	Usage: "list serial ports usable as --trace-port",
	Action: func(c *cli.Context) error {
		for _, info := range serenum.Ports() {
			console.Printf("%s\t%s\n", info.Device, info.Format(nil))
		}
		return nil
	},
}
