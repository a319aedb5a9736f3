package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cdevice/bytefmt"
	"github.com/mklimuk/i2cdevice/cmd/i2cdev/console"
	"github.com/mklimuk/i2cdevice/register"
)

var dumpCmd = cli.Command{
	Name:  "dump",
	Usage: "print the ID register and a range of registers as a table",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "command", Value: "0xA0", Usage: "mask OR-ed into every register selector"},
		&cli.StringFlag{Name: "id", Value: "0x12", Usage: "ID register, empty to skip"},
		&cli.StringFlag{Name: "start", Value: "0x00", Usage: "first register of the table"},
		&cli.IntFlag{Name: "count", Value: 32, Usage: "number of registers in the table"},
		&cli.BoolFlag{Name: "stop", Usage: "release the bus between selector and read"},
	},
	Action: func(c *cli.Context) error {
		command, err := parseByte(c.String("command"))
		if err != nil {
			return console.Exit(console.CodeUsage, "invalid command mask: %v", err)
		}
		start, err := parseByte(c.String("start"))
		if err != nil {
			return console.Exit(console.CodeUsage, "invalid start register: %v", err)
		}
		count := c.Int("count")
		if count <= 0 || int(start)+count > 256 {
			return console.Exit(console.CodeUsage, "invalid register count %d", count)
		}
		s, err := openSession(c, true)
		if err != nil {
			return err
		}
		defer s.close()
		regs := register.New(s.tr, register.WithCommand(command), register.WithStop(c.Bool("stop")))

		if id := c.String("id"); id != "" {
			reg, err := parseByte(id)
			if err != nil {
				return console.Exit(console.CodeUsage, "invalid ID register: %v", err)
			}
			v, err := regs.Read8(s.ctx, reg)
			if err != nil {
				return console.ExitErr("could not read ID register", err)
			}
			console.Printf("register %s: %s (%s)\n\n",
				bytefmt.Byte(reg, bytefmt.Hex, true),
				console.White(bytefmt.Byte(v, bytefmt.Bin, true)),
				bytefmt.Byte(v, bytefmt.Hex, true))
		}
		values := make([]byte, count)
		if err := regs.ReadRange(s.ctx, start, values); err != nil {
			return console.ExitErr("could not read registers", err)
		}
		if err := bytefmt.Table(console.Writer(), start, values); err != nil {
			return console.Exit(console.CodeFailure, "output error: %v", err)
		}
		return nil
	},
}
