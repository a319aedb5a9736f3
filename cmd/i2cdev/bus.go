package main

import (
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cdevice"
	"github.com/mklimuk/i2cdevice/bytefmt"
	"github.com/mklimuk/i2cdevice/cmd/i2cdev/console"
)

var scanCmd = cli.Command{
	Name:  "scan",
	Usage: "list devices acknowledging their address",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "print addresses only"},
	},
	Action: func(c *cli.Context) error {
		s, err := openSession(c, false)
		if err != nil {
			return err
		}
		defer s.close()
		out := make([]byte, i2cdevice.MaxAddress)
		n := s.tr.ListDevices(s.ctx, out, !c.Bool("quiet"))
		if c.Bool("quiet") {
			for _, addr := range out[:min(n, len(out))] {
				console.Print(bytefmt.Byte(addr, bytefmt.Hex, true))
			}
		}
		return nil
	},
}

var detectCmd = cli.Command{
	Name:  "detect",
	Usage: "check whether the device at --addr acknowledges",
	Action: func(c *cli.Context) error {
		s, err := openSession(c, false)
		if err != nil {
			return err
		}
		defer s.close()
		if !s.tr.Detected(s.ctx) {
			console.PInfof(console.PictoGhost, "no device at %s", console.Addr(s.tr.Address()))
			return console.Exit(console.CodeNotPresent, "device not present")
		}
		console.PInfof(console.PictoPin, "device found at %s", console.Addr(s.tr.Address()))
		return nil
	},
}

var radixFlag = &cli.BoolFlag{Name: "bin", Usage: "print values in binary"}

func radix(c *cli.Context) bytefmt.Radix {
	if c.Bool("bin") {
		return bytefmt.Bin
	}
	return bytefmt.Hex
}

var readCmd = cli.Command{
	Name:      "read",
	Usage:     "read bytes from the device, optionally selecting a register first",
	ArgsUsage: "<count>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "reg", Aliases: []string{"r"}, Usage: "bytes written before reading, e.g. 0xB2"},
		&cli.BoolFlag{Name: "stop", Usage: "release the bus between register write and read"},
		radixFlag,
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(console.CodeUsage, "expected 1 argument, got %d", c.NArg())
		}
		count, err := strconv.Atoi(c.Args().Get(0))
		if err != nil || count < 0 {
			return console.Exit(console.CodeUsage, "invalid byte count %q", c.Args().Get(0))
		}
		var reg []byte
		if c.IsSet("reg") {
			reg, err = parseBytes([]string{c.String("reg")})
			if err != nil {
				return console.Exit(console.CodeUsage, "invalid register: %v", err)
			}
		}
		s, err := openSession(c, true)
		if err != nil {
			return err
		}
		defer s.close()
		buf := make([]byte, count)
		if len(reg) > 0 {
			err = s.tr.WriteThenRead(s.ctx, reg, buf, c.Bool("stop"))
		} else {
			err = s.tr.Read(s.ctx, buf, true)
		}
		if err != nil {
			return console.ExitErr("read failed", err)
		}
		console.Print(bytefmt.Bytes(buf, radix(c), true))
		return nil
	},
}

var writeCmd = cli.Command{
	Name:      "write",
	Usage:     "write bytes to the device in a single frame",
	ArgsUsage: "<byte>...",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "prefix", Usage: "bytes sent ahead of the payload in the same frame"},
		&cli.BoolFlag{Name: "no-stop", Usage: "keep the bus after the frame"},
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return console.Exit(console.CodeUsage, "nothing to write")
		}
		payload, err := parseBytes(c.Args().Slice())
		if err != nil {
			return console.Exit(console.CodeUsage, "%v", err)
		}
		var prefix []byte
		if c.IsSet("prefix") {
			prefix, err = parseBytes([]string{c.String("prefix")})
			if err != nil {
				return console.Exit(console.CodeUsage, "invalid prefix: %v", err)
			}
		}
		s, err := openSession(c, true)
		if err != nil {
			return err
		}
		defer s.close()
		question := "write " + bytefmt.Bytes(append(append([]byte{}, prefix...), payload...), bytefmt.Hex, true) +
			" to " + console.Addr(s.tr.Address()) + "?"
		ok, err := console.Confirm(question, c.Bool("yes"))
		if err != nil {
			return console.Exit(console.CodeFailure, "prompt error: %v", err)
		}
		if !ok {
			console.PInfof(console.PictoStop, "aborted")
			return nil
		}
		if err := s.tr.WritePrefixed(s.ctx, prefix, payload, !c.Bool("no-stop")); err != nil {
			return console.ExitErr("write failed", err)
		}
		if err := s.tr.Flush(s.ctx); err != nil {
			return console.ExitErr("write failed", err)
		}
		console.PInfof(console.PictoFinish, "%d bytes written", len(prefix)+len(payload))
		return nil
	},
}

var speedCmd = cli.Command{
	Name:      "speed",
	Usage:     "change the bus clock",
	ArgsUsage: "<hz>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(console.CodeUsage, "expected 1 argument, got %d", c.NArg())
		}
		hz, err := strconv.ParseUint(c.Args().Get(0), 10, 32)
		if err != nil {
			return console.Exit(console.CodeUsage, "invalid frequency %q", c.Args().Get(0))
		}
		s, err := openSession(c, false)
		if err != nil {
			return err
		}
		defer s.close()
		if err := s.tr.SetSpeed(s.ctx, uint32(hz)); err != nil {
			return console.ExitErr("speed change failed", err)
		}
		console.Infof("bus clock set to %s Hz", console.White(hz))
		return nil
	},
}
