package environment

import (
	"context"

	"periph.io/x/conn/v3/physic"
)

// Reading is a single compensated measurement. Pressure is zero for sensors
// that do not measure it.
type Reading struct {
	Temperature float32 // °C
	Humidity    float32 // %RH
	Pressure    float32 // Pa
}

// Env converts the reading to periph physical units.
func (r Reading) Env() physic.Env {
	return physic.Env{
		Temperature: physic.ZeroCelsius + physic.Temperature(float64(r.Temperature)*float64(physic.Celsius)),
		Humidity:    physic.RelativeHumidity(float64(r.Humidity) * float64(physic.PercentRH)),
		Pressure:    physic.Pressure(float64(r.Pressure) * float64(physic.Pascal)),
	}
}

// Sensor is a temperature and humidity sensor able to produce a Reading.
type Sensor interface {
	Init(ctx context.Context) error
	Measure(ctx context.Context) (Reading, error)
}

// tempAndHum adapts a Sensor to the GetTemperature/GetHumidity style API.
func tempAndHum(ctx context.Context, s Sensor) (float32, float32, error) {
	r, err := s.Measure(ctx)
	if err != nil {
		return 0, 0, err
	}
	return r.Temperature, r.Humidity, nil
}
