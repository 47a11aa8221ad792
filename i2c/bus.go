package i2c

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/envdisplay"
)

var (
	_ envdisplay.I2CBus     = &GenericBus{}
	_ envdisplay.Transactor = &GenericBus{}
)

// GenericBus is a host I2C bus opened through periph.io.
type GenericBus struct {
	mx   sync.Mutex
	bus  i2c.BusCloser
	opts Opts
}

// NewGenericBus initializes the host drivers and opens dev (empty for the
// first available bus).
func NewGenericBus(dev string, opts ...Opt) (*GenericBus, error) {
	config := newOpts(opts)
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		config.Logger.Debug("host driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	b, err := NewGenericBusFrom(bus, opts...)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	return b, nil
}

// NewGenericBusFrom wraps an already opened periph bus.
func NewGenericBusFrom(bus i2c.BusCloser, opts ...Opt) (*GenericBus, error) {
	if bus == nil {
		return nil, envdisplay.ErrInvalidTransport
	}
	config := newOpts(opts)
	if config.Frequency > 0 {
		if err := bus.SetSpeed(config.Frequency); err != nil {
			return nil, fmt.Errorf("could not set bus speed to %s: %w", config.Frequency, err)
		}
	}
	config.Logger.Debug("i2c bus ready", "bus", bus.String(), "frequency", config.Frequency.String(), "duty_cycle", config.DutyCycle.String())
	return &GenericBus{bus: bus, opts: config}, nil
}

func (b *GenericBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.tx(ctx, address, nil, buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GenericBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.tx(ctx, address, buffer, nil)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GenericBus) Tx(ctx context.Context, address byte, w, r []byte) error {
	err := b.tx(ctx, address, w, r)
	if err != nil {
		return fmt.Errorf("could not transfer on i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GenericBus) tx(ctx context.Context, address byte, w, r []byte) error {
	return withRetries(ctx, b.opts, b.Release, address, func() error {
		return bounded(ctx, b.opts, len(w)+len(r), func() error {
			b.mx.Lock()
			defer b.mx.Unlock()
			return classify(b.bus.Tx(uint16(address), w, r))
		})
	})
}

// Release is a no-op, the kernel driver frees the bus after each message.
func (b *GenericBus) Release(ctx context.Context) error {
	return nil
}

func (b *GenericBus) String() string {
	return fmt.Sprintf("%s@%s", b.bus.String(), b.opts.Frequency)
}

func (b *GenericBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.bus.Close()
}
