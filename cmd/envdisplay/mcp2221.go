package main

import (
	"context"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/envdisplay/adapter"
	"github.com/mklimuk/envdisplay/cmd/envdisplay/console"
	"github.com/mklimuk/envdisplay/snsctx"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "query or reset the MCP2221 bridge",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
	},
}

var mcp2221StatusCmd = cli.Command{
	Name: "status",
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221()
		ctx := snsctx.SetVerbose(context.Background(), c.Bool("verbose"))
		status, err := a.Status(ctx)
		if err != nil {
			return console.ExitErr("adapter communication error", err)
		}
		return encodeStatus(status)
	},
}

// mcp2221ReleaseCmd cancels the current bridge transfer, which frees a bus
// left stuck by an interrupted transaction.
var mcp2221ReleaseCmd = cli.Command{
	Name: "release",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "do not ask for confirmation",
		},
	},
	Action: func(c *cli.Context) error {
		if !c.Bool("yes") {
			ok, err := console.Confirm("cancel the current I2C transfer")
			if err != nil {
				return console.ExitErr("prompt error", err)
			}
			if !ok {
				console.PInfof(console.PictoStop, "aborted")
				return nil
			}
		}
		a := adapter.NewMCP2221()
		ctx := snsctx.SetVerbose(context.Background(), c.Bool("verbose"))
		status, err := a.ReleaseBus(ctx)
		if err != nil {
			return console.ExitErr("adapter communication error", err)
		}
		return encodeStatus(status)
	},
}

func encodeStatus(status *adapter.MCP2221Status) error {
	enc := yaml.NewEncoder(console.Writer())
	if err := enc.Encode(status); err != nil {
		return console.ExitErr("encoding error", err)
	}
	return enc.Close()
}
