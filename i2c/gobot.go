package i2c

import (
	"context"
	"fmt"
	"sync"

	gobotI2C "gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/envdisplay"
)

var _ envdisplay.I2CBus = &GobotBus{}

// GobotBus talks to devices through a gobot I2C connector such as the NanoPi
// adaptor. One connection is opened lazily per device address.
type GobotBus struct {
	mx        sync.Mutex
	connector gobotI2C.Connector
	busNr     int
	conns     map[byte]gobotI2C.Connection
	opts      Opts
}

func NewGobotBus(connector gobotI2C.Connector, busNr int, opts ...Opt) (*GobotBus, error) {
	if connector == nil {
		return nil, envdisplay.ErrInvalidTransport
	}
	if busNr < 0 {
		busNr = connector.DefaultI2cBus()
	}
	return &GobotBus{
		connector: connector,
		busNr:     busNr,
		conns:     make(map[byte]gobotI2C.Connection),
		opts:      newOpts(opts),
	}, nil
}

func (b *GobotBus) connection(address byte) (gobotI2C.Connection, error) {
	if conn, ok := b.conns[address]; ok {
		return conn, nil
	}
	conn, err := b.connector.GetI2cConnection(int(address), b.busNr)
	if err != nil {
		return nil, fmt.Errorf("could not open connection to %x on bus %d: %w", address, b.busNr, err)
	}
	b.conns[address] = conn
	return conn, nil
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	err := withRetries(ctx, b.opts, b.Release, address, func() error {
		return bounded(ctx, b.opts, len(buffer), func() error {
			b.mx.Lock()
			defer b.mx.Unlock()
			conn, err := b.connection(address)
			if err != nil {
				return err
			}
			n, err := conn.Write(buffer)
			if err != nil {
				return classify(err)
			}
			if n != len(buffer) {
				return fmt.Errorf("%w: short write %d of %d", envdisplay.ErrIO, n, len(buffer))
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	err := withRetries(ctx, b.opts, b.Release, address, func() error {
		return bounded(ctx, b.opts, len(buffer), func() error {
			b.mx.Lock()
			defer b.mx.Unlock()
			conn, err := b.connection(address)
			if err != nil {
				return err
			}
			n, err := conn.Read(buffer)
			if err != nil {
				return classify(err)
			}
			if n != len(buffer) {
				return fmt.Errorf("%w: short read %d of %d", envdisplay.ErrIO, n, len(buffer))
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GobotBus) Release(ctx context.Context) error {
	return nil
}

// Close closes every device connection opened so far.
func (b *GobotBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var first error
	for addr, conn := range b.conns {
		if err := conn.Close(); err != nil && first == nil {
			first = fmt.Errorf("could not close connection to %x: %w", addr, err)
		}
		delete(b.conns, addr)
	}
	return first
}
