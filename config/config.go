// Package config holds the device configuration loaded from YAML.
//
// Every field has a default matching the reference deployment, so an empty
// file (or no file at all) describes a BME280 at 0x76 and a 128x32 SSD1306 at
// 0x3C on a 400 kHz bus, refreshed every second.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/envdisplay/display"
	"github.com/mklimuk/envdisplay/environment"
	"github.com/mklimuk/envdisplay/i2c"
	"github.com/mklimuk/envdisplay/station"
)

const (
	AdapterPeriph  = "periph"
	AdapterMCP2221 = "mcp2221"
	AdapterNanoPi  = "nanopi"
	AdapterMock    = "mock"

	SensorBME280 = "bme280"
	SensorSHTC3  = "shtc3"
	SensorMock   = "mock"

	DisplaySSD1306 = "ssd1306"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Bus     Bus     `yaml:"bus"`
	Sensor  Sensor  `yaml:"sensor"`
	Display Display `yaml:"display"`
	Station Station `yaml:"station"`
}

type Bus struct {
	Adapter string `yaml:"adapter"`
	// Device names the host bus, empty for the first one. For the nanopi
	// adapter it is the bus number.
	Device       string        `yaml:"device"`
	Frequency    string        `yaml:"frequency"`
	DutyCycle    string        `yaml:"duty_cycle"`
	StartTimeout time.Duration `yaml:"start_timeout"`
	ByteTimeout  time.Duration `yaml:"byte_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

type Sensor struct {
	Model        string       `yaml:"model"`
	Address      int          `yaml:"address"`
	Oversampling Oversampling `yaml:"oversampling"`
	Filter       int          `yaml:"filter"`
}

// Oversampling is the number of samples per channel; 0 skips the channel.
type Oversampling struct {
	Temperature int `yaml:"temperature"`
	Pressure    int `yaml:"pressure"`
	Humidity    int `yaml:"humidity"`
}

type Display struct {
	Model     string `yaml:"model"`
	Address   int    `yaml:"address"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	ChunkSize int    `yaml:"chunk_size"`
}

type Station struct {
	Interval               time.Duration `yaml:"interval"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	RenderMode             string        `yaml:"render_mode"`
}

func Default() Config {
	return Config{
		Bus: Bus{
			Adapter:      AdapterPeriph,
			Frequency:    i2c.DefaultFrequency.String(),
			DutyCycle:    i2c.DutyCycle2to1.String(),
			StartTimeout: i2c.DefaultStartTimeout,
			ByteTimeout:  i2c.DefaultByteTimeout,
			MaxRetries:   i2c.DefaultMaxRetries,
		},
		Sensor: Sensor{
			Model:   SensorBME280,
			Address: environment.BME280AddressPrimary,
			Oversampling: Oversampling{
				Temperature: 1,
				Pressure:    1,
				Humidity:    1,
			},
		},
		Display: Display{
			Model:     DisplaySSD1306,
			Address:   display.DefaultAddress,
			Width:     128,
			Height:    32,
			ChunkSize: display.DefaultChunkSize,
		},
		Station: Station{
			Interval:   station.DefaultInterval,
			RenderMode: station.RenderFrame.String(),
		},
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not open config: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return Read(f)
}

func Read(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("could not decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

func Parse(data []byte) (Config, error) {
	return Read(bytes.NewReader(data))
}

func (c Config) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

func (c Config) Validate() error {
	var errs []error
	switch c.Bus.Adapter {
	case AdapterPeriph, AdapterMCP2221, AdapterNanoPi, AdapterMock:
	default:
		errs = append(errs, fmt.Errorf("unknown bus adapter %q", c.Bus.Adapter))
	}
	if f, err := c.Bus.ParseFrequency(); err != nil {
		errs = append(errs, err)
	} else if f <= 0 {
		errs = append(errs, fmt.Errorf("bus frequency must be positive"))
	}
	if _, err := i2c.ParseDutyCycle(c.Bus.DutyCycle); err != nil {
		errs = append(errs, err)
	}
	if c.Bus.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("negative bus retries"))
	}
	if c.Bus.StartTimeout < 0 || c.Bus.ByteTimeout < 0 {
		errs = append(errs, fmt.Errorf("negative bus timeout"))
	}
	switch c.Sensor.Model {
	case SensorBME280, SensorSHTC3, SensorMock:
	default:
		errs = append(errs, fmt.Errorf("unknown sensor model %q", c.Sensor.Model))
	}
	if c.Sensor.Address < 0x08 || c.Sensor.Address > 0x77 {
		errs = append(errs, fmt.Errorf("sensor address 0x%02x out of range", c.Sensor.Address))
	}
	for _, n := range []int{c.Sensor.Oversampling.Temperature, c.Sensor.Oversampling.Pressure, c.Sensor.Oversampling.Humidity} {
		if _, err := oversampling(n); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := filter(c.Sensor.Filter); err != nil {
		errs = append(errs, err)
	}
	if c.Display.Model != DisplaySSD1306 {
		errs = append(errs, fmt.Errorf("unknown display model %q", c.Display.Model))
	}
	if c.Display.Address < 0x08 || c.Display.Address > 0x77 {
		errs = append(errs, fmt.Errorf("display address 0x%02x out of range", c.Display.Address))
	}
	if c.Display.Width != 128 || (c.Display.Height != 32 && c.Display.Height != 64) {
		errs = append(errs, fmt.Errorf("%w: %dx%d", display.ErrUnsupportedGeometry, c.Display.Width, c.Display.Height))
	}
	if c.Display.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("display chunk size must be positive"))
	}
	if c.Station.Interval <= 0 {
		errs = append(errs, fmt.Errorf("refresh interval must be positive"))
	}
	if c.Station.MaxConsecutiveFailures < 0 {
		errs = append(errs, fmt.Errorf("negative failure limit"))
	}
	if _, err := station.ParseRenderMode(c.Station.RenderMode); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// ParseFrequency accepts SI notation such as "400kHz" or "1MHz".
func (b Bus) ParseFrequency() (physic.Frequency, error) {
	var f physic.Frequency
	if err := f.Set(b.Frequency); err != nil {
		return 0, fmt.Errorf("invalid bus frequency %q: %w", b.Frequency, err)
	}
	return f, nil
}

// Options converts the bus section to transport options.
func (b Bus) Options() ([]i2c.Opt, error) {
	f, err := b.ParseFrequency()
	if err != nil {
		return nil, err
	}
	duty, err := i2c.ParseDutyCycle(b.DutyCycle)
	if err != nil {
		return nil, err
	}
	return []i2c.Opt{
		i2c.WithFrequency(f),
		i2c.WithDutyCycle(duty),
		i2c.WithStartTimeout(b.StartTimeout),
		i2c.WithByteTimeout(b.ByteTimeout),
		i2c.WithMaxRetries(b.MaxRetries),
	}, nil
}

// BME280Options converts the sensor section to driver options.
func (s Sensor) BME280Options() ([]environment.BME280Opt, error) {
	t, err := oversampling(s.Oversampling.Temperature)
	if err != nil {
		return nil, err
	}
	p, err := oversampling(s.Oversampling.Pressure)
	if err != nil {
		return nil, err
	}
	h, err := oversampling(s.Oversampling.Humidity)
	if err != nil {
		return nil, err
	}
	f, err := filter(s.Filter)
	if err != nil {
		return nil, err
	}
	return []environment.BME280Opt{
		environment.WithBME280Address(byte(s.Address)),
		environment.WithOversampling(t, p, h),
		environment.WithFilter(f),
	}, nil
}

// SSD1306Options converts the display section to driver options.
func (d Display) SSD1306Options() []display.Opt {
	return []display.Opt{
		display.WithAddress(byte(d.Address)),
		display.WithSize(int16(d.Width), int16(d.Height)),
		display.WithChunkSize(d.ChunkSize),
	}
}

// Options converts the station section to loop options.
func (s Station) Options() ([]station.Opt, error) {
	mode, err := station.ParseRenderMode(s.RenderMode)
	if err != nil {
		return nil, err
	}
	return []station.Opt{
		station.WithInterval(s.Interval),
		station.WithMaxConsecutiveFailures(s.MaxConsecutiveFailures),
		station.WithRenderMode(mode),
	}, nil
}

func oversampling(samples int) (environment.Oversampling, error) {
	switch samples {
	case 0:
		return environment.OversamplingOff, nil
	case 1:
		return environment.Oversampling1, nil
	case 2:
		return environment.Oversampling2, nil
	case 4:
		return environment.Oversampling4, nil
	case 8:
		return environment.Oversampling8, nil
	case 16:
		return environment.Oversampling16, nil
	}
	return 0, fmt.Errorf("unsupported oversampling x%d", samples)
}

func filter(coefficient int) (environment.Filter, error) {
	switch coefficient {
	case 0:
		return environment.FilterOff, nil
	case 2:
		return environment.Filter2, nil
	case 4:
		return environment.Filter4, nil
	case 8:
		return environment.Filter8, nil
	case 16:
		return environment.Filter16, nil
	}
	return 0, fmt.Errorf("unsupported filter coefficient %d", coefficient)
}
