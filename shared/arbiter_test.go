package shared

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/envdisplay"
)

// MockI2CBus is a testify mock of envdisplay.I2CBus that tracks how many
// operations overlap.
type MockI2CBus struct {
	mock.Mock
	concurrentOps int64
	maxConcurrent int64
}

func (m *MockI2CBus) enter() {
	concurrent := atomic.AddInt64(&m.concurrentOps, 1)
	for {
		max := atomic.LoadInt64(&m.maxConcurrent)
		if concurrent <= max || atomic.CompareAndSwapInt64(&m.maxConcurrent, max, concurrent) {
			return
		}
	}
}

func (m *MockI2CBus) leave() { atomic.AddInt64(&m.concurrentOps, -1) }

func (m *MockI2CBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	m.enter()
	defer m.leave()
	args := m.Called(ctx, address, buffer)
	return args.Error(0)
}

func (m *MockI2CBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	m.enter()
	defer m.leave()
	args := m.Called(ctx, address, buffer)
	if data, ok := args.Get(0).([]byte); ok && len(data) <= len(buffer) {
		copy(buffer, data)
	}
	return args.Error(1)
}

func (m *MockI2CBus) Release(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockTransactor adds repeated-start support to MockI2CBus.
type MockTransactor struct {
	MockI2CBus
}

func (m *MockTransactor) Tx(ctx context.Context, address byte, w, r []byte) error {
	m.enter()
	defer m.leave()
	args := m.Called(ctx, address, w, r)
	if data, ok := args.Get(0).([]byte); ok && len(data) <= len(r) {
		copy(r, data)
	}
	return args.Error(1)
}

type op struct {
	kind   string
	addr   byte
	holder int
	data   byte
}

// recorder logs every transport call together with the proxy holding the
// guard at that moment.
type recorder struct {
	mx      sync.Mutex
	arbiter *Arbiter
	ops     []op
	active  int64
	overlap bool
}

func (r *recorder) record(kind string, addr byte, data []byte) {
	if atomic.AddInt64(&r.active, 1) > 1 {
		r.overlap = true
	}
	defer atomic.AddInt64(&r.active, -1)
	// widen the window for overlapping calls
	time.Sleep(50 * time.Microsecond)
	var b byte
	if len(data) > 0 {
		b = data[0]
	}
	r.mx.Lock()
	r.ops = append(r.ops, op{kind: kind, addr: addr, holder: r.arbiter.Holder(), data: b})
	r.mx.Unlock()
}

func (r *recorder) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	r.record("w", address, buffer)
	return nil
}

func (r *recorder) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	r.record("r", address, nil)
	return nil
}

func (r *recorder) Release(ctx context.Context) error { return nil }

func newRecorder(t *testing.T) (*recorder, *Arbiter) {
	rec := &recorder{}
	arb, err := New(rec)
	require.NoError(t, err)
	rec.arbiter = arb
	return rec, arb
}

func TestNew_InvalidTransport(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, envdisplay.ErrInvalidTransport)

	var typed *MockI2CBus
	_, err = New(typed)
	assert.ErrorIs(t, err, envdisplay.ErrInvalidTransport)
}

func TestArbiter_AcquireIndependentProxies(t *testing.T) {
	arb, err := New(new(MockI2CBus))
	require.NoError(t, err)
	p1 := arb.Acquire(WithName("bme280"))
	p2 := arb.Acquire()
	assert.NotSame(t, p1, p2)
	assert.Equal(t, "bme280", p1.Name())
	assert.Equal(t, "proxy-2", p2.Name())
	assert.Equal(t, 1, p1.ID())
	assert.Equal(t, 2, p2.ID())
	assert.Equal(t, 2, arb.Stats().Proxies)
}

func TestProxy_SequentialTransactionsInCallOrder(t *testing.T) {
	rec, arb := newRecorder(t)
	sensor := arb.Acquire()
	oled := arb.Acquire()
	ctx := context.Background()

	require.NoError(t, sensor.WriteToAddr(ctx, 0x76, []byte{0xF4, 0x25}))
	require.NoError(t, oled.WriteToAddr(ctx, 0x3C, []byte{0x00, 0xAF}))

	require.Len(t, rec.ops, 2)
	assert.Equal(t, op{kind: "w", addr: 0x76, holder: sensor.ID(), data: 0xF4}, rec.ops[0])
	assert.Equal(t, op{kind: "w", addr: 0x3C, holder: oled.ID(), data: 0x00}, rec.ops[1])
	assert.Equal(t, 0, arb.Holder())
	assert.Equal(t, uint64(2), arb.Stats().Transactions)
}

func TestProxy_InterleavedTransactionsNeverOverlap(t *testing.T) {
	rec, arb := newRecorder(t)
	const proxies = 4
	const rounds = 25
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < proxies; i++ {
		p := arb.Acquire()
		addr := byte(0x10 + i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				tx, err := p.Begin(ctx, addr)
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, tx.Write(ctx, []byte{byte(j)}))
				assert.NoError(t, tx.Read(ctx, make([]byte, 2)))
				assert.NoError(t, tx.Write(ctx, []byte{0xFF}))
				assert.NoError(t, tx.End(ctx))
			}
		}()
	}
	wg.Wait()

	assert.False(t, rec.overlap, "transport calls must never overlap")
	require.Len(t, rec.ops, proxies*rounds*3)
	// every transaction shows up as an uninterrupted w, r, w run of one proxy
	for i := 0; i < len(rec.ops); i += 3 {
		first := rec.ops[i]
		assert.NotZero(t, first.holder)
		assert.Equal(t, "w", first.kind)
		assert.Equal(t, "r", rec.ops[i+1].kind)
		assert.Equal(t, "w", rec.ops[i+2].kind)
		assert.Equal(t, byte(0xFF), rec.ops[i+2].data)
		for k := 1; k < 3; k++ {
			assert.Equal(t, first.holder, rec.ops[i+k].holder)
			assert.Equal(t, first.addr, rec.ops[i+k].addr)
		}
	}
}

func TestProxy_ConcurrentOneShotCallsSerialised(t *testing.T) {
	bus := new(MockI2CBus)
	arb, err := New(bus)
	require.NoError(t, err)
	ctx := context.Background()
	bus.On("WriteToAddr", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(time.Millisecond) }).Return(nil)
	bus.On("ReadFromAddr", mock.Anything, mock.Anything, mock.Anything).Return([]byte{0x60}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		p := arb.Acquire()
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 1)
			assert.NoError(t, p.Tx(ctx, 0x76, []byte{0xD0}, buf))
			assert.Equal(t, byte(0x60), buf[0])
			assert.NoError(t, p.WriteToAddr(ctx, 0x3C, []byte{0x00}))
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt64(&bus.maxConcurrent), int64(1))
	assert.Equal(t, uint64(16), arb.Stats().Transactions)
}

func TestTransaction_UsesRepeatedStart(t *testing.T) {
	bus := new(MockTransactor)
	arb, err := New(bus)
	require.NoError(t, err)
	p := arb.Acquire()
	ctx := context.Background()
	bus.On("Tx", mock.Anything, byte(0x76), []byte{0xD0}, mock.Anything).Return([]byte{0x60}, nil).Once()

	buf := make([]byte, 1)
	require.NoError(t, envdisplay.ReadRegister(ctx, p, 0x76, 0xD0, buf))
	assert.Equal(t, byte(0x60), buf[0])
	bus.AssertExpectations(t)
	bus.AssertNotCalled(t, "WriteToAddr", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransaction_WritesCoalesced(t *testing.T) {
	bus := new(MockI2CBus)
	arb, err := New(bus)
	require.NoError(t, err)
	p := arb.Acquire()
	ctx := context.Background()
	bus.On("WriteToAddr", mock.Anything, byte(0x3C), []byte{0x00, 0x21, 0x00, 0x7F}).Return(nil).Once()

	tx, err := p.Begin(ctx, 0x3C)
	require.NoError(t, err)
	assert.Equal(t, byte(0x3C), tx.Address())
	require.NoError(t, tx.Write(ctx, []byte{0x00}))
	require.NoError(t, tx.Write(ctx, []byte{0x21, 0x00, 0x7F}))
	require.NoError(t, tx.End(ctx))
	assert.ErrorIs(t, tx.End(ctx), ErrTransactionClosed)
	assert.ErrorIs(t, tx.Write(ctx, nil), ErrTransactionClosed)
	bus.AssertExpectations(t)
}

func TestTransaction_EmptyTransactionTouchesNothing(t *testing.T) {
	bus := new(MockI2CBus)
	arb, err := New(bus)
	require.NoError(t, err)
	tx, err := arb.Acquire().Begin(context.Background(), 0x27)
	require.NoError(t, err)
	require.NoError(t, tx.End(context.Background()))
	bus.AssertNotCalled(t, "WriteToAddr", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransaction_FailureReleasesBus(t *testing.T) {
	bus := new(MockI2CBus)
	arb, err := New(bus)
	require.NoError(t, err)
	p := arb.Acquire()
	ctx := context.Background()
	bus.On("WriteToAddr", mock.Anything, byte(0x76), mock.Anything).Return(envdisplay.ErrNoAck).Once()
	bus.On("Release", mock.Anything).Return(nil).Once()

	tx, err := p.Begin(ctx, 0x76)
	require.NoError(t, err)
	require.NoError(t, tx.Write(ctx, []byte{0xF7}))
	err = tx.Read(ctx, make([]byte, 8))
	assert.ErrorIs(t, err, envdisplay.ErrNoAck)
	// sticky error
	assert.ErrorIs(t, tx.Write(ctx, []byte{0x00}), envdisplay.ErrNoAck)
	assert.ErrorIs(t, tx.End(ctx), envdisplay.ErrNoAck)

	bus.AssertExpectations(t)
	assert.Equal(t, uint64(1), arb.Stats().Failures)

	// the guard is free again
	bus.On("WriteToAddr", mock.Anything, byte(0x76), []byte{0xE0, 0xB6}).Return(nil).Once()
	assert.NoError(t, p.WriteToAddr(ctx, 0x76, []byte{0xE0, 0xB6}))
}

func TestProxy_Reentrant(t *testing.T) {
	arb, err := New(new(MockI2CBus))
	require.NoError(t, err)
	p := arb.Acquire()
	ctx := context.Background()
	tx, err := p.Begin(ctx, 0x76)
	require.NoError(t, err)

	_, err = p.Begin(ctx, 0x76)
	assert.ErrorIs(t, err, ErrReentrant)
	assert.ErrorIs(t, p.WriteToAddr(ctx, 0x76, nil), ErrReentrant)
	assert.ErrorIs(t, p.Release(ctx), ErrReentrant)
	require.NoError(t, tx.End(ctx))
}

func TestProxy_WaitForBusHonoursContext(t *testing.T) {
	arb, err := New(new(MockI2CBus))
	require.NoError(t, err)
	holder := arb.Acquire()
	waiter := arb.Acquire()
	tx, err := holder.Begin(context.Background(), 0x76)
	require.NoError(t, err)
	assert.Equal(t, holder.ID(), arb.Holder())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = waiter.WriteToAddr(ctx, 0x3C, []byte{0x00})
	assert.ErrorIs(t, err, envdisplay.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, tx.End(context.Background()))
	// waiter is usable once the guard is free
	_, err = waiter.Begin(context.Background(), 0x3C)
	assert.NoError(t, err)
}

func TestProxy_Release(t *testing.T) {
	bus := new(MockI2CBus)
	arb, err := New(bus)
	require.NoError(t, err)
	bus.On("Release", mock.Anything).Return(errors.New("release failed")).Once()
	assert.EqualError(t, arb.Acquire().Release(context.Background()), "release failed")
	bus.AssertExpectations(t)
}
