package main

import (
	"context"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/i2cdevice"
	"github.com/mklimuk/i2cdevice/adapter"
	"github.com/mklimuk/i2cdevice/busctx"
	"github.com/mklimuk/i2cdevice/cmd/i2cdev/console"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "MCP2221 bridge maintenance",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
		&mcp2221GPIOCmd,
		&mcp2221OutputCmd,
	},
}

// withBridge opens the bridge selected by --bus and runs fn on it.
func withBridge(c *cli.Context, fn func(ctx context.Context, a *adapter.MCP2221) (any, error)) error {
	ctx := busctx.SetVerbose(c.Context, c.Bool("verbose"))
	a := adapter.NewMCP2221()
	if err := a.Open(ctx, i2cdevice.Config{Bus: c.Int("bus")}); err != nil {
		return console.Exit(console.CodeFailure, "adapter initialization error: %s", console.Red(err))
	}
	defer func() { _ = a.Close() }()
	res, err := fn(ctx, a)
	if err != nil {
		return console.Exit(console.CodeFailure, "adapter communication error: %s", console.Red(err))
	}
	enc := yaml.NewEncoder(console.Writer())
	if err := enc.Encode(res); err != nil {
		return console.Exit(console.CodeFailure, "encoding error: %s", console.Red(err))
	}
	return enc.Close()
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the I2C engine status",
	Action: func(c *cli.Context) error {
		return withBridge(c, func(ctx context.Context, a *adapter.MCP2221) (any, error) {
			return a.Status(ctx)
		})
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current transfer and free the bus",
	Action: func(c *cli.Context) error {
		return withBridge(c, func(ctx context.Context, a *adapter.MCP2221) (any, error) {
			return a.ReleaseBus(ctx)
		})
	},
}

var mcp2221GPIOCmd = cli.Command{
	Name:  "gpio",
	Usage: "print GPIO designations and values",
	Action: func(c *cli.Context) error {
		return withBridge(c, func(ctx context.Context, a *adapter.MCP2221) (any, error) {
			params, err := a.GetGPIOParameters(ctx)
			if err != nil {
				return nil, err
			}
			values, err := a.ReadGPIO(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"parameters": params, "values": values}, nil
		})
	},
}

var mcp2221OutputCmd = cli.Command{
	Name:  "output",
	Usage: "configure a pin as GPIO output, e.g. for blink",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "pin", Value: 0, Usage: "GPIO pin"},
	},
	Action: func(c *cli.Context) error {
		return withBridge(c, func(ctx context.Context, a *adapter.MCP2221) (any, error) {
			params, err := a.GetGPIOParameters(ctx)
			if err != nil {
				return nil, err
			}
			if err := params.SetPin(c.Int("pin"), adapter.GPIOModeOut, adapter.GPIOOperation); err != nil {
				return nil, err
			}
			if err := a.SetGPIOParameters(ctx, params); err != nil {
				return nil, err
			}
			return params, nil
		})
	},
}
