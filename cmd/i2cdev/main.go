package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cdevice/cmd/i2cdev/console"
	"github.com/mklimuk/i2cdevice/config"
)

var commit string
var date string

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := cli.NewApp()
	app.Name = "i2cdev"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", config.Version, date, commit)
	app.Usage = "talk to I2C peripherals through a Linux bus, an MCP2221 bridge or a NanoPi"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "enable verbose logging and transaction traces",
		},
		&cli.StringFlag{
			Name:    "platform",
			Aliases: []string{"p"},
			Value:   "linux",
			Usage:   "built-in platform profile (linux, mcp2221, nanopi)",
			EnvVars: []string{"I2CDEV_PLATFORM"},
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML platform file overriding the profile",
			EnvVars: []string{"I2CDEV_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "device",
			Usage: "bus device, e.g. /dev/i2c-1",
		},
		&cli.IntFlag{
			Name:  "bus",
			Usage: "bus number or adapter index",
		},
		&cli.UintFlag{
			Name:  "freq",
			Usage: "bus clock in Hz",
		},
		&cli.StringFlag{
			Name:  "addr",
			Usage: "peripheral address, hex (0x39) or decimal",
		},
		&cli.StringFlag{
			Name:  "trace-port",
			Usage: "serial port receiving a text trace of every transaction",
		},
		&cli.StringFlag{
			Name:  "trace-port-ctl",
			Usage: "serial line settings for the trace port, e.g. b115200",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stderr, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if ctx.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
		}
		slog.SetDefault(slog.New(charm))
		return nil
	}
	app.Commands = cli.Commands{
		&scanCmd,
		&detectCmd,
		&readCmd,
		&writeCmd,
		&dumpCmd,
		&speedCmd,
		&blinkCmd,
		&platformCmd,
		&usbCmd,
		&mcp2221Cmd,
	}
	// exit codes are returned from run instead of terminating the process
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			console.Errorf("%v", err)
			return exerr.ExitCode()
		}
		log.Printf("unexpected error: %v", err)
		return 1
	}
	return 0
}
