package main

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/envdisplay/cmd/envdisplay/console"
	"github.com/mklimuk/envdisplay/snsctx"
)

var readCmd = cli.Command{
	Name:  "read",
	Usage: "take a single sensor reading",
	Flags: configFlags(),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.ExitErr("configuration error", err)
		}
		ctx := snsctx.SetVerbose(context.Background(), c.Bool("verbose"))
		bus, closeBus, err := openBus(cfg.Bus)
		if err != nil {
			return console.ExitErr("bus error", err)
		}
		defer closeBus()
		s, err := newSensor(cfg, bus)
		if err != nil {
			return console.ExitErr("sensor error", err)
		}
		if err := s.Init(ctx); err != nil {
			return console.ExitErr("sensor initialization error", err)
		}
		r, err := s.Measure(ctx)
		if err != nil {
			return console.ExitErr("error getting sensor read", err)
		}
		env := r.Env()
		console.Printf("%s  %s\n%s %s\n", console.PictoThermometer, console.White(env.Temperature), console.PictoHumidity, console.White(env.Humidity))
		if r.Pressure > 0 {
			console.Printf("%s %s\n", console.PictoPressure, console.White(env.Pressure))
		}
		return nil
	},
}
