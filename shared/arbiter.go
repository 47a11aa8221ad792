// Package shared lets several drivers use one physical I2C bus as if each of
// them owned it.
//
// An Arbiter takes ownership of a transport and hands out proxies. Every
// proxy implements the same envdisplay.I2CBus capability as the transport,
// but holds the arbiter's guard for the duration of each transaction, so the
// transport only ever sees complete, non-interleaved transactions:
//
//	arb, err := shared.New(bus)
//	sensor := environment.NewBME280(arb.Acquire(shared.WithName("bme280")))
//	oled := display.NewSSD1306(arb.Acquire(shared.WithName("ssd1306")))
package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/mklimuk/envdisplay"
)

// ErrReentrant is returned when a proxy starts a transaction while it
// already has one open.
var ErrReentrant = errors.New("shared: proxy already has an open transaction")

type Opts struct {
	Logger *slog.Logger
}

type Opt func(*Opts)

func WithLogger(logger *slog.Logger) Opt {
	return func(o *Opts) {
		o.Logger = logger
	}
}

// Stats is a snapshot of arbiter activity.
type Stats struct {
	Proxies      int
	Transactions uint64
	Failures     uint64
}

type Arbiter struct {
	transport envdisplay.I2CBus
	guard     chan struct{}
	logger    *slog.Logger

	mx      sync.Mutex
	proxies int
	holder  int

	transactions atomic.Uint64
	failures     atomic.Uint64
}

// New takes ownership of transport. The transport must not be used directly
// afterwards.
func New(transport envdisplay.I2CBus, opts ...Opt) (*Arbiter, error) {
	if isNil(transport) {
		return nil, envdisplay.ErrInvalidTransport
	}
	config := Opts{Logger: slog.Default()}
	for _, opt := range opts {
		opt(&config)
	}
	return &Arbiter{
		transport: transport,
		guard:     make(chan struct{}, 1),
		logger:    config.Logger,
	}, nil
}

func isNil(transport envdisplay.I2CBus) bool {
	if transport == nil {
		return true
	}
	v := reflect.ValueOf(transport)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}

type ProxyOpts struct {
	Name string
}

type ProxyOpt func(*ProxyOpts)

func WithName(name string) ProxyOpt {
	return func(o *ProxyOpts) {
		o.Name = name
	}
}

// Acquire returns a new independent proxy bound to the shared transport.
func (a *Arbiter) Acquire(opts ...ProxyOpt) *Proxy {
	a.mx.Lock()
	a.proxies++
	id := a.proxies
	a.mx.Unlock()
	config := ProxyOpts{Name: fmt.Sprintf("proxy-%d", id)}
	for _, opt := range opts {
		opt(&config)
	}
	a.logger.Debug("bus proxy acquired", "proxy", config.Name, "id", id)
	return &Proxy{arbiter: a, id: id, name: config.Name}
}

func (a *Arbiter) Stats() Stats {
	a.mx.Lock()
	proxies := a.proxies
	a.mx.Unlock()
	return Stats{
		Proxies:      proxies,
		Transactions: a.transactions.Load(),
		Failures:     a.failures.Load(),
	}
}

// lock waits for the guard; a done ctx while waiting fails with ErrTimeout.
func (a *Arbiter) lock(ctx context.Context, proxy int) error {
	select {
	case a.guard <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for bus: %w", envdisplay.ErrTimeout, ctx.Err())
	}
	a.mx.Lock()
	a.holder = proxy
	a.mx.Unlock()
	return nil
}

func (a *Arbiter) unlock() {
	a.mx.Lock()
	a.holder = 0
	a.mx.Unlock()
	<-a.guard
}

// Holder returns the id of the proxy currently inside a transaction, 0 if
// the bus is idle.
func (a *Arbiter) Holder() int {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.holder
}
