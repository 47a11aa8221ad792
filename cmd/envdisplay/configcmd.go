package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/envdisplay/cmd/envdisplay/console"
)

var configCmd = cli.Command{
	Name:  "config",
	Usage: "print the effective configuration",
	Flags: configFlags(),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.ExitErr("configuration error", err)
		}
		if err := cfg.Encode(console.Writer()); err != nil {
			return console.ExitErr("encoding error", err)
		}
		return nil
	},
}
