//go:build linux

package station_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/envdisplay/display"
	"github.com/mklimuk/envdisplay/environment"
	"github.com/mklimuk/envdisplay/i2c"
	"github.com/mklimuk/envdisplay/shared"
	"github.com/mklimuk/envdisplay/station"
)

// hardwareBus opens the host bus named by ENVDISPLAY_I2C_BUS (the first one
// when empty) with a BME280 at 0x76 and an SSD1306 at 0x3C attached.
func hardwareBus(t *testing.T) *shared.Arbiter {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION_ENABLED") == "" {
		t.Skip("hardware tests disabled, run dev integration-test")
	}
	bus, err := i2c.NewGenericBus(os.Getenv("ENVDISPLAY_I2C_BUS"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = bus.Close()
	})
	arb, err := shared.New(bus)
	require.NoError(t, err)
	return arb
}

func TestHardware_BME280(t *testing.T) {
	arb := hardwareBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sensor := environment.NewBME280(arb.Acquire(shared.WithName("bme280")))
	require.NoError(t, sensor.Init(ctx))
	r, err := sensor.Measure(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, r.Temperature, float32(-40))
	assert.LessOrEqual(t, r.Temperature, float32(85))
	assert.GreaterOrEqual(t, r.Humidity, float32(0))
	assert.LessOrEqual(t, r.Humidity, float32(100))
	assert.Greater(t, r.Pressure, float32(30000))
}

func TestHardware_SSD1306(t *testing.T) {
	arb := hardwareBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	oled := display.NewSSD1306(arb.Acquire(shared.WithName("ssd1306")))
	require.NoError(t, oled.Init(ctx))
	require.NoError(t, oled.RenderText(ctx, "hardware test"))
	require.NoError(t, oled.Clear(ctx))
}

func TestHardware_Station(t *testing.T) {
	arb := hardwareBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sensor := environment.NewBME280(arb.Acquire(shared.WithName("bme280")))
	oled := display.NewSSD1306(arb.Acquire(shared.WithName("ssd1306")))
	st, err := station.New(sensor, oled)
	require.NoError(t, err)
	require.NoError(t, st.Setup(ctx))
	for range 3 {
		frame, err := st.Cycle(ctx)
		require.NoError(t, err)
		assert.Len(t, frame, 64)
	}
	stats := arb.Stats()
	assert.Zero(t, stats.Failures)
	assert.NotZero(t, stats.Transactions)
}
