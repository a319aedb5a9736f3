package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cdevice/cmd/i2cdev/console"
	"github.com/mklimuk/i2cdevice/config"
)

var platformCmd = cli.Command{
	Name:  "platform",
	Usage: "print the resolved platform configuration",
	Subcommands: cli.Commands{
		&cli.Command{
			Name:  "show",
			Usage: "print the platform after applying config file and flags",
			Action: func(c *cli.Context) error {
				p, err := loadPlatform(c)
				if err != nil {
					return console.Exit(console.CodeUsage, "platform error: %s", console.Red(err))
				}
				if err := p.Encode(console.Writer()); err != nil {
					return console.Exit(console.CodeFailure, "%v", err)
				}
				return nil
			},
		},
		&cli.Command{
			Name:  "ls",
			Usage: "list built-in profiles",
			Action: func(c *cli.Context) error {
				for _, name := range config.Profiles() {
					console.Print(name)
				}
				return nil
			},
		},
	},
}
