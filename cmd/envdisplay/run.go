package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/envdisplay/cmd/envdisplay/console"
	"github.com/mklimuk/envdisplay/snsctx"
)

var runCmd = cli.Command{
	Name:  "run",
	Usage: "measure and display readings until interrupted",
	Flags: append(configFlags(),
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "refresh interval",
		},
		&cli.StringFlag{
			Name:  "render-mode",
			Usage: "frame (full redraw) or terminal (write at cursor)",
		},
		&cli.IntFlag{
			Name:  "max-failures",
			Usage: "stop after that many failed cycles in a row, 0 never stops",
		},
	),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.ExitErr("configuration error", err)
		}
		if c.IsSet("interval") {
			cfg.Station.Interval = c.Duration("interval")
		}
		if c.IsSet("render-mode") {
			cfg.Station.RenderMode = c.String("render-mode")
		}
		if c.IsSet("max-failures") {
			cfg.Station.MaxConsecutiveFailures = c.Int("max-failures")
		}
		if err := cfg.Validate(); err != nil {
			return console.ExitErr("configuration error", err)
		}

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = snsctx.SetVerbose(ctx, c.Bool("verbose"))

		bus, closeBus, err := openBus(cfg.Bus)
		if err != nil {
			return console.ExitErr("bus error", err)
		}
		defer closeBus()
		st, arb, err := newStation(cfg, bus)
		if err != nil {
			return console.ExitErr("setup error", err)
		}
		err = st.Run(ctx)
		stats := st.Stats()
		console.PInfof(console.PictoFinish, "%s cycles, %s failed, %s bus transactions",
			console.White(stats.Cycles), console.White(stats.Failures), console.White(arb.Stats().Transactions))
		if err != nil {
			return console.ExitErr("station stopped", err)
		}
		return nil
	},
}
