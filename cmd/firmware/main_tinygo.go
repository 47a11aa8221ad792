//go:build tinygo

package main

import (
	"context"
	"log/slog"
	"machine"

	"github.com/mklimuk/envdisplay/i2c"
)

func main() {
	logger := slog.New(slog.NewTextHandler(machine.Serial, nil))
	bus := machine.I2C0
	err := bus.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
	})
	if err != nil {
		logger.Error("could not configure i2c", "error", err)
		halt()
	}
	transport, err := i2c.NewTinyGoBus(bus, i2c.WithLogger(logger))
	if err != nil {
		logger.Error("could not open i2c", "error", err)
		halt()
	}
	st, err := newDevice(transport, logger)
	if err != nil {
		logger.Error("could not set up device", "error", err)
		halt()
	}
	_ = serve(context.Background(), st, logger)
	halt()
}

func halt() {
	select {}
}
