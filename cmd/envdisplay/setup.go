package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/envdisplay"
	"github.com/mklimuk/envdisplay/adapter"
	"github.com/mklimuk/envdisplay/config"
	"github.com/mklimuk/envdisplay/display"
	"github.com/mklimuk/envdisplay/environment"
	"github.com/mklimuk/envdisplay/i2c"
	"github.com/mklimuk/envdisplay/shared"
	"github.com/mklimuk/envdisplay/station"
)

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"ENVDISPLAY_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "adapter",
			Aliases: []string{"a"},
			Usage:   "bus adapter: periph, mcp2221, nanopi or mock",
		},
		&cli.StringFlag{
			Name:    "device",
			Aliases: []string{"d"},
			Usage:   "host bus name (periph) or number (nanopi)",
		},
		&cli.StringFlag{
			Name:    "sensor",
			Aliases: []string{"s"},
			Usage:   "sensor model: bme280, shtc3 or mock",
		},
	}
}

// loadConfig reads the configuration file and applies command line overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	if c.IsSet("adapter") {
		cfg.Bus.Adapter = c.String("adapter")
	}
	if c.IsSet("device") {
		cfg.Bus.Device = c.String("device")
	}
	if c.IsSet("sensor") {
		cfg.Sensor.Model = c.String("sensor")
	}
	return cfg, cfg.Validate()
}

// openBus opens the transport selected in cfg. The returned function
// releases it.
func openBus(cfg config.Bus) (envdisplay.I2CBus, func(), error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, i2c.WithLogger(slog.Default()))
	switch cfg.Adapter {
	case config.AdapterPeriph:
		bus, err := i2c.NewGenericBus(cfg.Device, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open host bus: %w", err)
		}
		return bus, func() {
			if err := bus.Close(); err != nil {
				slog.Error("error closing bus", "error", err)
			}
		}, nil
	case config.AdapterMCP2221:
		bridge := adapter.NewMCP2221()
		if err := bridge.Init(); err != nil {
			return nil, nil, fmt.Errorf("adapter initialization error: %w", err)
		}
		return bridge, func() {}, nil
	case config.AdapterNanoPi:
		busNr := -1
		if cfg.Device != "" {
			n, err := strconv.Atoi(cfg.Device)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid nanopi bus %q: %w", cfg.Device, err)
			}
			busNr = n
		}
		npi := nanopi.NewNeoAdaptor()
		if err := npi.I2cBusAdaptor.Connect(); err != nil {
			return nil, nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		bus, err := i2c.NewGobotBus(npi, busNr, opts...)
		if err != nil {
			_ = npi.I2cBusAdaptor.Finalize()
			return nil, nil, err
		}
		return bus, func() {
			if err := bus.Close(); err != nil {
				slog.Error("error closing bus", "error", err)
			}
			_ = npi.I2cBusAdaptor.Finalize()
		}, nil
	case config.AdapterMock:
		return nullBus{}, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown bus adapter %q", cfg.Adapter)
}

// nullBus acknowledges every write and no read; it lets the display driver
// run without hardware.
type nullBus struct{}

func (nullBus) WriteToAddr(context.Context, byte, []byte) error { return nil }

func (nullBus) ReadFromAddr(context.Context, byte, []byte) error { return envdisplay.ErrNoAck }

func (nullBus) Release(context.Context) error { return nil }

func newSensor(cfg config.Config, bus envdisplay.I2CBus) (station.Sensor, error) {
	if cfg.Bus.Adapter == config.AdapterMock || cfg.Sensor.Model == config.SensorMock {
		return driftingSensor(time.Now()), nil
	}
	switch cfg.Sensor.Model {
	case config.SensorBME280:
		opts, err := cfg.Sensor.BME280Options()
		if err != nil {
			return nil, err
		}
		return environment.NewBME280(bus, opts...), nil
	case config.SensorSHTC3:
		return environment.NewSHTC3(bus), nil
	}
	return nil, fmt.Errorf("unknown sensor model %q", cfg.Sensor.Model)
}

// driftingSensor slowly oscillates around room conditions.
func driftingSensor(start time.Time) *environment.MockSensor {
	phase := func() float64 {
		return time.Since(start).Minutes() / 10 * 2 * math.Pi
	}
	return environment.NewMockSensor(
		func(context.Context) (float32, error) { return float32(21.5 + 2*math.Sin(phase())), nil },
		func(context.Context) (float32, error) { return float32(45 + 10*math.Cos(phase())), nil },
	)
}

// newStation shares bus between the sensor and the display.
func newStation(cfg config.Config, bus envdisplay.I2CBus) (*station.Station, *shared.Arbiter, error) {
	arb, err := shared.New(bus, shared.WithLogger(slog.Default()))
	if err != nil {
		return nil, nil, err
	}
	sensor, err := newSensor(cfg, arb.Acquire(shared.WithName(cfg.Sensor.Model)))
	if err != nil {
		return nil, nil, err
	}
	oled := display.NewSSD1306(arb.Acquire(shared.WithName(cfg.Display.Model)), cfg.Display.SSD1306Options()...)
	opts, err := cfg.Station.Options()
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, station.WithLogger(slog.Default()))
	st, err := station.New(sensor, oled, opts...)
	if err != nil {
		return nil, nil, err
	}
	return st, arb, nil
}
