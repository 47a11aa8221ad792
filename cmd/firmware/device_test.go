package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/envdisplay"
	"github.com/mklimuk/envdisplay/station"
)

type absentBus struct {
	writes int
}

func (b *absentBus) WriteToAddr(context.Context, byte, []byte) error {
	b.writes++
	return envdisplay.ErrNoAck
}

func (b *absentBus) ReadFromAddr(context.Context, byte, []byte) error { return envdisplay.ErrNoAck }

func (b *absentBus) Release(context.Context) error { return nil }

func TestNewDevice(t *testing.T) {
	_, err := newDevice(nil, slog.Default())
	assert.ErrorIs(t, err, envdisplay.ErrInvalidTransport)

	bus := &absentBus{}
	st, err := newDevice(bus, slog.Default())
	require.NoError(t, err)

	err = serve(context.Background(), st, slog.Default())
	var initErr *envdisplay.InitError
	require.True(t, errors.As(err, &initErr))
	assert.Equal(t, "bme280", initErr.Device)
	assert.Equal(t, station.StateHalted, st.Stats().State)
	// the sensor reset is the only write attempted
	assert.Equal(t, 1, bus.writes)
}
