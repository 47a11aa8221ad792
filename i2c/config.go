package i2c

import (
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/physic"
)

// DutyCycle is the fast-mode SCL low/high ratio.
type DutyCycle byte

const (
	DutyCycle2to1 DutyCycle = iota
	DutyCycle16to9
)

func (d DutyCycle) String() string {
	switch d {
	case DutyCycle2to1:
		return "2:1"
	case DutyCycle16to9:
		return "16:9"
	default:
		return fmt.Sprintf("DutyCycle(%d)", byte(d))
	}
}

// ParseDutyCycle accepts "2:1" and "16:9".
func ParseDutyCycle(s string) (DutyCycle, error) {
	switch s {
	case "2:1", "":
		return DutyCycle2to1, nil
	case "16:9":
		return DutyCycle16to9, nil
	}
	return 0, fmt.Errorf("unknown duty cycle %q", s)
}

const (
	DefaultFrequency    = 400 * physic.KiloHertz
	DefaultStartTimeout = 1000 * time.Microsecond
	DefaultByteTimeout  = 1000 * time.Microsecond
	DefaultMaxRetries   = 10
)

// Opts is supplied once at transport construction.
type Opts struct {
	Frequency    physic.Frequency
	DutyCycle    DutyCycle
	StartTimeout time.Duration
	ByteTimeout  time.Duration
	MaxRetries   int
	Logger       *slog.Logger
}

type Opt func(*Opts)

func WithFrequency(f physic.Frequency) Opt {
	return func(o *Opts) {
		o.Frequency = f
	}
}

func WithDutyCycle(d DutyCycle) Opt {
	return func(o *Opts) {
		o.DutyCycle = d
	}
}

func WithStartTimeout(d time.Duration) Opt {
	return func(o *Opts) {
		o.StartTimeout = d
	}
}

func WithByteTimeout(d time.Duration) Opt {
	return func(o *Opts) {
		o.ByteTimeout = d
	}
}

func WithMaxRetries(n int) Opt {
	return func(o *Opts) {
		o.MaxRetries = n
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(o *Opts) {
		o.Logger = logger
	}
}

func newOpts(opts []Opt) Opts {
	config := Opts{
		Frequency:    DefaultFrequency,
		DutyCycle:    DutyCycle2to1,
		StartTimeout: DefaultStartTimeout,
		ByteTimeout:  DefaultByteTimeout,
		MaxRetries:   DefaultMaxRetries,
		Logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return config
}

// budget is the time a transaction moving n data bytes may take.
func (o Opts) budget(n int) time.Duration {
	return o.StartTimeout + time.Duration(n+1)*o.ByteTimeout
}
