package environment

import (
	"context"
)

// TemperatureBehaviorFunc defines the function signature for temperature behavior.
// It returns the temperature in Celsius or an error.
type TemperatureBehaviorFunc func(ctx context.Context) (float32, error)

// HumidityBehaviorFunc defines the function signature for humidity behavior.
// It returns the relative humidity in %RH or an error.
type HumidityBehaviorFunc func(ctx context.Context) (float32, error)

// InitBehaviorFunc is called by Init.
type InitBehaviorFunc func(ctx context.Context) error

// MockSensor is a sensor that uses behavior functions to produce results
// without requiring any hardware. It stands in for the BME280 or SHTC3 in
// tests and in the CLI mock adapter.
type MockSensor struct {
	initBehavior InitBehaviorFunc
	tempBehavior TemperatureBehaviorFunc
	humBehavior  HumidityBehaviorFunc
}

type MockSensorOpt func(*MockSensor)

// WithInitBehavior makes Init run fn, typically to simulate an absent device.
func WithInitBehavior(fn InitBehaviorFunc) MockSensorOpt {
	return func(m *MockSensor) {
		m.initBehavior = fn
	}
}

// NewMockSensor creates a new mock sensor with the given behavior functions.
//
// Example usage:
//
//	// Simple static values
//	sensor := NewMockSensor(
//		func(ctx context.Context) (float32, error) { return 22.5, nil },
//		func(ctx context.Context) (float32, error) { return 45.0, nil },
//	)
//
//	// Absent device
//	sensor := NewMockSensor(nil, nil, WithInitBehavior(func(ctx context.Context) error {
//		return &envdisplay.InitError{Device: "bme280", Err: envdisplay.ErrNoAck}
//	}))
func NewMockSensor(tempBehavior TemperatureBehaviorFunc, humBehavior HumidityBehaviorFunc, opts ...MockSensorOpt) *MockSensor {
	m := &MockSensor{
		tempBehavior: tempBehavior,
		humBehavior:  humBehavior,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StaticSensor always reports the same temperature and humidity.
func StaticSensor(temperature, humidity float32) *MockSensor {
	return NewMockSensor(
		func(context.Context) (float32, error) { return temperature, nil },
		func(context.Context) (float32, error) { return humidity, nil },
	)
}

func (m *MockSensor) Init(ctx context.Context) error {
	if m.initBehavior == nil {
		return nil
	}
	return m.initBehavior(ctx)
}

// Measure calls the temperature behavior, then the humidity behavior.
func (m *MockSensor) Measure(ctx context.Context) (Reading, error) {
	var r Reading
	var err error
	if m.tempBehavior != nil {
		if r.Temperature, err = m.tempBehavior(ctx); err != nil {
			return Reading{}, err
		}
	}
	if m.humBehavior != nil {
		if r.Humidity, err = m.humBehavior(ctx); err != nil {
			return Reading{}, err
		}
	}
	return r, nil
}

// GetTemperature returns the temperature by calling the temperature behavior function.
func (m *MockSensor) GetTemperature(ctx context.Context) (float32, error) {
	r, err := m.Measure(ctx)
	return r.Temperature, err
}

// GetHumidity returns the humidity by calling the humidity behavior function.
func (m *MockSensor) GetHumidity(ctx context.Context) (float32, error) {
	r, err := m.Measure(ctx)
	return r.Humidity, err
}

func (m *MockSensor) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	return tempAndHum(ctx, m)
}

var (
	_ Sensor = &BME280{}
	_ Sensor = &SHTC3{}
	_ Sensor = &MockSensor{}
)
