package i2c

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/drivers"

	"github.com/mklimuk/envdisplay"
)

var (
	_ envdisplay.I2CBus     = &TinyGoBus{}
	_ envdisplay.Transactor = &TinyGoBus{}
)

// TinyGoBus adapts a TinyGo bus (machine.I2C0 and friends, already
// configured) to envdisplay.I2CBus.
type TinyGoBus struct {
	mx   sync.Mutex
	bus  drivers.I2C
	opts Opts
}

func NewTinyGoBus(bus drivers.I2C, opts ...Opt) (*TinyGoBus, error) {
	if bus == nil {
		return nil, envdisplay.ErrInvalidTransport
	}
	return &TinyGoBus{bus: bus, opts: newOpts(opts)}, nil
}

func (b *TinyGoBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := b.tx(ctx, address, nil, buffer); err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *TinyGoBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := b.tx(ctx, address, buffer, nil); err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *TinyGoBus) Tx(ctx context.Context, address byte, w, r []byte) error {
	if err := b.tx(ctx, address, w, r); err != nil {
		return fmt.Errorf("could not transfer on i2c bus %x: %w", address, err)
	}
	return nil
}

// tx runs inline: the machine package enforces its own wait budget and there
// is no scheduler to hand work to on a microcontroller.
func (b *TinyGoBus) tx(ctx context.Context, address byte, w, r []byte) error {
	return withRetries(ctx, b.opts, b.Release, address, func() error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", envdisplay.ErrTimeout, err)
		}
		b.mx.Lock()
		defer b.mx.Unlock()
		return classify(b.bus.Tx(uint16(address), w, r))
	})
}

func (b *TinyGoBus) Release(ctx context.Context) error {
	return nil
}
