// Command firmware runs the environmental display on a TinyGo board: a
// BME280 and an SSD1306 share I2C0 and the panel shows temperature and
// humidity refreshed every second.
package main

import (
	"context"
	"log/slog"

	"github.com/mklimuk/envdisplay"
	"github.com/mklimuk/envdisplay/display"
	"github.com/mklimuk/envdisplay/environment"
	"github.com/mklimuk/envdisplay/shared"
	"github.com/mklimuk/envdisplay/station"
)

// newDevice wires the sensor and the panel to bus through the arbiter.
func newDevice(bus envdisplay.I2CBus, logger *slog.Logger) (*station.Station, error) {
	arb, err := shared.New(bus, shared.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	sensor := environment.NewBME280(arb.Acquire(shared.WithName("bme280")))
	oled := display.NewSSD1306(arb.Acquire(shared.WithName("ssd1306")))
	return station.New(sensor, oled, station.WithLogger(logger))
}

// serve runs the station until it stops; a device that cannot be set up is
// reported once and left halted.
func serve(ctx context.Context, st *station.Station, logger *slog.Logger) error {
	err := st.Run(ctx)
	if err != nil {
		logger.Error("display halted", "error", err, "state", st.Stats().State)
	}
	return err
}
