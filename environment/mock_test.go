package environment

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/envdisplay"
)

func TestMockSensor_StaticValues(t *testing.T) {
	sensor := StaticSensor(22.5, 45.0)
	ctx := context.Background()
	require.NoError(t, sensor.Init(ctx))

	temp, err := sensor.GetTemperature(ctx)
	require.NoError(t, err)
	assert.Equal(t, float32(22.5), temp)

	hum, err := sensor.GetHumidity(ctx)
	require.NoError(t, err)
	assert.Equal(t, float32(45.0), hum)

	r, err := sensor.Measure(ctx)
	require.NoError(t, err)
	assert.Equal(t, Reading{Temperature: 22.5, Humidity: 45}, r)
}

func TestMockSensor_DynamicBehavior(t *testing.T) {
	currentTemp := float32(20.0)
	sensor := NewMockSensor(
		func(ctx context.Context) (float32, error) { return currentTemp, nil },
		func(ctx context.Context) (float32, error) { return 40 + rand.Float32()*20, nil },
	)
	ctx := context.Background()

	for i := range 5 {
		currentTemp = float32(20 + i)
		temp, hum, err := sensor.GetTempAndHum(ctx)
		require.NoError(t, err)
		assert.Equal(t, currentTemp, temp)
		assert.GreaterOrEqual(t, hum, float32(40))
		assert.Less(t, hum, float32(60))
	}
}

func TestMockSensor_Errors(t *testing.T) {
	ctx := context.Background()
	busErr := &envdisplay.MeasureError{Device: "mock", Err: envdisplay.ErrTimeout}
	humCalled := false
	sensor := NewMockSensor(
		func(ctx context.Context) (float32, error) { return 0, busErr },
		func(ctx context.Context) (float32, error) { humCalled = true; return 50, nil },
		WithInitBehavior(func(ctx context.Context) error {
			return &envdisplay.InitError{Device: "mock", Err: envdisplay.ErrNoAck}
		}),
	)
	assert.ErrorIs(t, sensor.Init(ctx), envdisplay.ErrNoAck)
	_, err := sensor.Measure(ctx)
	assert.True(t, errors.Is(err, envdisplay.ErrTimeout))
	assert.False(t, humCalled)
}

func TestReading_Env(t *testing.T) {
	env := Reading{Temperature: 25, Humidity: 50, Pressure: 101325}.Env()
	assert.Equal(t, physic.ZeroCelsius+25*physic.Celsius, env.Temperature)
	assert.Equal(t, 50*physic.PercentRH, env.Humidity)
	assert.Equal(t, 101325*physic.Pascal, env.Pressure)
}
