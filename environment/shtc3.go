package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/mklimuk/envdisplay"
)

// SHTC3 I2C address (7-bit)
const SHTC3Address = 0x70

const shtc3Device = "shtc3"

// Commands (Big Endian on the wire)
const (
	shtc3CmdWake  uint16 = 0x3517
	shtc3CmdSleep uint16 = 0xB098
	shtc3CmdID    uint16 = 0xEFC8

	// Normal power, clock stretching disabled
	// Measure T first, then RH
	shtc3CmdMeasureTFirstNoCS uint16 = 0x7866
)

const (
	shtc3WakeTime    = time.Millisecond
	shtc3MeasureTime = 15 * time.Millisecond
)

// SHTC3 represents Sensirion SHTC3 Temperature/Humidity sensor. It is a
// drop-in alternative to the BME280 without pressure.
//
//	s := NewSHTC3(bus)
//	r, err := s.Measure(ctx)
type SHTC3 struct {
	mx        sync.Mutex
	transport envdisplay.I2CBus
	sleeper   envdisplay.Sleeper
}

type SHTC3Opt func(*SHTC3)

func WithSHTC3Sleeper(sleeper envdisplay.Sleeper) SHTC3Opt {
	return func(s *SHTC3) {
		s.sleeper = sleeper
	}
}

func NewSHTC3(trans envdisplay.I2CBus, opts ...SHTC3Opt) *SHTC3 {
	s := &SHTC3{transport: trans, sleeper: envdisplay.SystemClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init wakes the sensor and checks its product code.
func (s *SHTC3) Init(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.identify(ctx); err != nil {
		return &envdisplay.InitError{Device: shtc3Device, Err: err}
	}
	return nil
}

func (s *SHTC3) identify(ctx context.Context) error {
	if err := s.wake(ctx); err != nil {
		return err
	}
	if err := s.writeCmd(ctx, shtc3CmdID); err != nil {
		return fmt.Errorf("id command failed: %w", err)
	}
	buf := make([]byte, 3)
	if err := s.transport.ReadFromAddr(ctx, SHTC3Address, buf); err != nil {
		return fmt.Errorf("id read failed: %w", err)
	}
	if !shtCRC8Check(buf[0:2], buf[2]) {
		return fmt.Errorf("%w: id CRC mismatch", envdisplay.ErrMalformed)
	}
	// product code pattern xxxx 1xxx xx00 0111
	if id := binary.BigEndian.Uint16(buf[0:2]); id&0x083F != 0x0807 {
		return fmt.Errorf("%w: unexpected product code 0x%04x", envdisplay.ErrMalformed, id)
	}
	return s.writeCmd(ctx, shtc3CmdSleep)
}

// Measure performs a single measurement.
func (s *SHTC3) Measure(ctx context.Context) (Reading, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	r, err := s.measure(ctx)
	if err != nil {
		return Reading{}, &envdisplay.MeasureError{Device: shtc3Device, Err: err}
	}
	return r, nil
}

// GetTemperature performs a single measurement and returns temperature in Celsius.
func (s *SHTC3) GetTemperature(ctx context.Context) (float32, error) {
	r, err := s.Measure(ctx)
	return r.Temperature, err
}

// GetHumidity performs a single measurement and returns relative humidity in %RH.
func (s *SHTC3) GetHumidity(ctx context.Context) (float32, error) {
	r, err := s.Measure(ctx)
	return r.Humidity, err
}

func (s *SHTC3) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	return tempAndHum(ctx, s)
}

func (s *SHTC3) wake(ctx context.Context) error {
	if err := s.writeCmd(ctx, shtc3CmdWake); err != nil {
		return fmt.Errorf("wake failed: %w", err)
	}
	// wake time is below 240us
	return s.sleeper.Sleep(ctx, shtc3WakeTime)
}

func (s *SHTC3) measure(ctx context.Context) (Reading, error) {
	if err := s.wake(ctx); err != nil {
		return Reading{}, err
	}
	if err := s.writeCmd(ctx, shtc3CmdMeasureTFirstNoCS); err != nil {
		return Reading{}, fmt.Errorf("measure command failed: %w", err)
	}
	// ~12.1 ms in normal mode
	if err := s.sleeper.Sleep(ctx, shtc3MeasureTime); err != nil {
		return Reading{}, err
	}

	// T[0:2], CRC, RH[3:5], CRC
	buf := make([]byte, 6)
	if err := s.transport.ReadFromAddr(ctx, SHTC3Address, buf); err != nil {
		return Reading{}, fmt.Errorf("read failed: %w", err)
	}
	if !shtCRC8Check(buf[0:2], buf[2]) {
		return Reading{}, fmt.Errorf("%w: temperature CRC mismatch", envdisplay.ErrMalformed)
	}
	if !shtCRC8Check(buf[3:5], buf[5]) {
		return Reading{}, fmt.Errorf("%w: humidity CRC mismatch", envdisplay.ErrMalformed)
	}

	rawT := binary.BigEndian.Uint16(buf[0:2])
	rawRH := binary.BigEndian.Uint16(buf[3:5])
	r := Reading{
		Temperature: -45.0 + (175.0 * float32(rawT) / 65535.0),
		Humidity:    100.0 * float32(rawRH) / 65535.0,
	}

	if err := s.writeCmd(ctx, shtc3CmdSleep); err != nil {
		return Reading{}, fmt.Errorf("sleep failed: %w", err)
	}
	return r, nil
}

func (s *SHTC3) writeCmd(ctx context.Context, cmd uint16) error {
	var out [2]byte
	binary.BigEndian.PutUint16(out[:], cmd)
	return s.transport.WriteToAddr(ctx, SHTC3Address, out[:])
}

// Sensirion CRC-8, polynomial 0x31, init 0xFF
func shtCRC8(data []byte) byte {
	var crc byte = 0xFF
	for _, b := range data {
		crc ^= b
		for range 8 {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func shtCRC8Check(data []byte, expected byte) bool {
	return shtCRC8(data) == expected
}
