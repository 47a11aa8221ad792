package shared

import (
	"context"
	"errors"

	"github.com/mklimuk/envdisplay"
)

var ErrTransactionClosed = errors.New("shared: transaction already ended")

// Transaction is an open start..stop sequence on the shared bus. Written
// bytes are held back until the next Read or End so that a register write
// followed by a read goes out as one repeated-start transfer.
type Transaction struct {
	proxy   *Proxy
	address byte
	pending []byte
	dirty   bool
	err     error
	done    bool
}

func (t *Transaction) Address() byte { return t.address }

func (t *Transaction) Write(ctx context.Context, buffer []byte) error {
	if t.done {
		return ErrTransactionClosed
	}
	if t.err != nil {
		return t.err
	}
	t.pending = append(t.pending, buffer...)
	t.dirty = true
	return nil
}

func (t *Transaction) Read(ctx context.Context, buffer []byte) error {
	if t.done {
		return ErrTransactionClosed
	}
	if t.err != nil {
		return t.err
	}
	transport := t.proxy.arbiter.transport
	var err error
	switch {
	case !t.dirty:
		err = transport.ReadFromAddr(ctx, t.address, buffer)
	default:
		if tx, ok := transport.(envdisplay.Transactor); ok {
			err = tx.Tx(ctx, t.address, t.pending, buffer)
		} else {
			err = transport.WriteToAddr(ctx, t.address, t.pending)
			if err == nil {
				err = transport.ReadFromAddr(ctx, t.address, buffer)
			}
		}
		t.pending = t.pending[:0]
		t.dirty = false
	}
	if err != nil {
		t.err = err
	}
	return err
}

// End flushes held-back bytes, issues the stop and hands the bus over. A
// transaction that failed asks the transport to release the bus first.
func (t *Transaction) End(ctx context.Context) error {
	if t.done {
		return ErrTransactionClosed
	}
	t.done = true
	arbiter := t.proxy.arbiter
	defer func() {
		arbiter.unlock()
		t.proxy.open.Store(false)
	}()
	if t.err == nil && t.dirty {
		t.err = arbiter.transport.WriteToAddr(ctx, t.address, t.pending)
		t.pending = nil
		t.dirty = false
	}
	arbiter.transactions.Add(1)
	if t.err != nil {
		arbiter.failures.Add(1)
		arbiter.logger.Debug("bus transaction failed", "proxy", t.proxy.name, "addr", t.address, "error", t.err)
		// the bus may be left mid-transfer
		_ = arbiter.transport.Release(ctx)
	}
	return t.err
}
