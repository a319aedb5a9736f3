package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cdevice/cmd/i2cdev/console"
)

// pinWriter is implemented by channels with general purpose outputs.
type pinWriter interface {
	WriteGPIO(ctx context.Context, pin int, value bool) error
}

var blinkCmd = cli.Command{
	Name:  "blink",
	Usage: "toggle a GPIO output of the adapter as a heartbeat",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "pin", Value: 0, Usage: "GPIO pin"},
		&cli.IntFlag{Name: "times", Value: 5, Usage: "number of blinks"},
		&cli.DurationFlag{Name: "period", Value: time.Second, Usage: "blink period"},
	},
	Action: func(c *cli.Context) error {
		s, err := openSession(c, false)
		if err != nil {
			return err
		}
		defer s.close()
		pins, ok := s.channel.(pinWriter)
		if !ok {
			return console.Exit(console.CodeUsage, "platform %s has no GPIO outputs", s.platform.Name)
		}
		half := c.Duration("period") / 2
		pin := c.Int("pin")
		for i := 0; i < c.Int("times"); i++ {
			for _, on := range []bool{true, false} {
				if err := pins.WriteGPIO(s.ctx, pin, on); err != nil {
					return console.Exit(console.CodeFailure, "could not set GPIO %d: %s", pin, console.Red(err))
				}
				select {
				case <-s.ctx.Done():
					return nil
				case <-time.After(half):
				}
			}
			console.PInfof(console.PictoBulb, "blink %d", i+1)
		}
		return nil
	},
}
