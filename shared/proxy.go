package shared

import (
	"context"
	"sync/atomic"

	"github.com/mklimuk/envdisplay"
)

var (
	_ envdisplay.I2CBus     = &Proxy{}
	_ envdisplay.Transactor = &Proxy{}
)

// Proxy is a driver's handle on the shared bus.
type Proxy struct {
	arbiter *Arbiter
	id      int
	name    string
	open    atomic.Bool
}

func (p *Proxy) ID() int { return p.id }

func (p *Proxy) Name() string { return p.name }

// Begin starts a transaction addressed to address and holds the bus until
// End is called.
func (p *Proxy) Begin(ctx context.Context, address byte) (*Transaction, error) {
	if !p.open.CompareAndSwap(false, true) {
		return nil, ErrReentrant
	}
	if err := p.arbiter.lock(ctx, p.id); err != nil {
		p.open.Store(false)
		return nil, err
	}
	return &Transaction{proxy: p, address: address}, nil
}

func (p *Proxy) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	return p.do(ctx, address, func(tx *Transaction) error {
		return tx.Write(ctx, buffer)
	})
}

func (p *Proxy) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	return p.do(ctx, address, func(tx *Transaction) error {
		return tx.Read(ctx, buffer)
	})
}

// Tx writes w and reads r within a single transaction.
func (p *Proxy) Tx(ctx context.Context, address byte, w, r []byte) error {
	return p.do(ctx, address, func(tx *Transaction) error {
		if len(w) > 0 || len(r) == 0 {
			if err := tx.Write(ctx, w); err != nil {
				return err
			}
		}
		if len(r) == 0 {
			return nil
		}
		return tx.Read(ctx, r)
	})
}

// Release asks the transport to free the bus, under the guard.
func (p *Proxy) Release(ctx context.Context) error {
	if !p.open.CompareAndSwap(false, true) {
		return ErrReentrant
	}
	defer p.open.Store(false)
	if err := p.arbiter.lock(ctx, p.id); err != nil {
		return err
	}
	defer p.arbiter.unlock()
	return p.arbiter.transport.Release(ctx)
}

func (p *Proxy) do(ctx context.Context, address byte, body func(tx *Transaction) error) error {
	tx, err := p.Begin(ctx, address)
	if err != nil {
		return err
	}
	err = body(tx)
	endErr := tx.End(ctx)
	if err != nil {
		return err
	}
	return endErr
}
