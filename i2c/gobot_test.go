package i2c

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gobotI2C "gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/envdisplay"
)

// fakeConnection only implements the io.ReadWriteCloser part of the gobot
// connection; other methods panic through the nil embedded interface.
type fakeConnection struct {
	gobotI2C.Connection
	written [][]byte
	reply   []byte
	closed  bool
	err     error
}

func (c *fakeConnection) Write(b []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.written = append(c.written, append([]byte(nil), b...))
	return len(b), nil
}

func (c *fakeConnection) Read(b []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	return copy(b, c.reply), nil
}

func (c *fakeConnection) Close() error {
	c.closed = true
	return nil
}

type fakeConnector struct {
	conns  map[int]*fakeConnection
	opened []int
	busNr  int
}

func (f *fakeConnector) GetI2cConnection(address int, busNr int) (gobotI2C.Connection, error) {
	conn, ok := f.conns[address]
	if !ok {
		return nil, errors.New("no device")
	}
	f.opened = append(f.opened, address)
	f.busNr = busNr
	return conn, nil
}

func (f *fakeConnector) DefaultI2cBus() int { return 2 }

func TestGobotBus_ReadWrite(t *testing.T) {
	sensor := &fakeConnection{reply: []byte{0x60}}
	connector := &fakeConnector{conns: map[int]*fakeConnection{0x76: sensor}}
	bus, err := NewGobotBus(connector, -1, relaxed()...)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, bus.WriteToAddr(ctx, 0x76, []byte{0xD0}))
	id := make([]byte, 1)
	require.NoError(t, bus.ReadFromAddr(ctx, 0x76, id))
	assert.Equal(t, byte(0x60), id[0])
	assert.Equal(t, [][]byte{{0xD0}}, sensor.written)
	// one connection per address, default bus used
	assert.Equal(t, []int{0x76}, connector.opened)
	assert.Equal(t, 2, connector.busNr)

	require.NoError(t, bus.Close())
	assert.True(t, sensor.closed)
}

func TestGobotBus_Errors(t *testing.T) {
	_, err := NewGobotBus(nil, 0)
	assert.ErrorIs(t, err, envdisplay.ErrInvalidTransport)

	connector := &fakeConnector{conns: map[int]*fakeConnection{0x76: {err: errors.New("read /dev/i2c-2: input/output error")}}}
	bus, err := NewGobotBus(connector, 0, relaxed()...)
	require.NoError(t, err)
	ctx := context.Background()
	assert.ErrorIs(t, bus.ReadFromAddr(ctx, 0x76, make([]byte, 1)), envdisplay.ErrIO)
	assert.Error(t, bus.WriteToAddr(ctx, 0x3C, []byte{0x00}))

	// short read
	connector.conns[0x77] = &fakeConnection{reply: []byte{0x01}}
	assert.ErrorIs(t, bus.ReadFromAddr(ctx, 0x77, make([]byte, 4)), envdisplay.ErrIO)
}
