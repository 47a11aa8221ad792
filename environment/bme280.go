package environment

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mklimuk/envdisplay"
)

const (
	BME280AddressPrimary   = 0x76
	BME280AddressSecondary = 0x77
)

const bme280Device = "bme280"

const (
	bme280RegCalib00  = 0x88
	bme280RegChipID   = 0xD0
	bme280RegReset    = 0xE0
	bme280RegCalib26  = 0xE1
	bme280RegCtrlHum  = 0xF2
	bme280RegStatus   = 0xF3
	bme280RegCtrlMeas = 0xF4
	bme280RegConfig   = 0xF5
	bme280RegData     = 0xF7

	bme280ChipID      = 0x60
	bme280ResetWord   = 0xB6
	bme280StatusNVM   = 0x01
	bme280StatusBusy  = 0x08
	bme280ModeSleep   = 0x00
	bme280ModeForced  = 0x01
	bme280StartupTime = 2 * time.Millisecond

	// reported by the chip when a channel was skipped
	bme280SkippedTP = 0x80000
	bme280SkippedH  = 0x8000
)

var ErrNotInitialized = errors.New("sensor not initialized")

// Oversampling sets how many samples the BME280 averages per channel.
type Oversampling byte

const (
	OversamplingOff Oversampling = iota
	Oversampling1
	Oversampling2
	Oversampling4
	Oversampling8
	Oversampling16
)

func (o Oversampling) samples() int {
	if o == OversamplingOff {
		return 0
	}
	return 1 << (o - 1)
}

// Filter is the IIR filter coefficient applied to temperature and pressure.
type Filter byte

const (
	FilterOff Filter = iota
	Filter2
	Filter4
	Filter8
	Filter16
)

type bme280Calibration struct {
	T1 uint16
	T2 int16
	T3 int16

	P1 uint16
	P2 int16
	P3 int16
	P4 int16
	P5 int16
	P6 int16
	P7 int16
	P8 int16
	P9 int16

	H1 uint8
	H2 int16
	H3 uint8
	H4 int16
	H5 int16
	H6 int8
}

// BME280 is a Bosch BME280 pressure, temperature and humidity sensor driven
// in forced mode: every Measure triggers exactly one conversion.
//
//	s := NewBME280(bus, WithBME280Address(BME280AddressPrimary))
//	if err := s.Init(ctx); err != nil { ... }
//	r, err := s.Measure(ctx)
type BME280 struct {
	mx           sync.Mutex
	transport    envdisplay.I2CBus
	address      byte
	sleeper      envdisplay.Sleeper
	tempOS       Oversampling
	pressOS      Oversampling
	humOS        Oversampling
	filter       Filter
	pollInterval time.Duration
	maxPolls     int
	calib        *bme280Calibration
}

type BME280Opt func(*BME280)

func WithBME280Address(address byte) BME280Opt {
	return func(s *BME280) {
		s.address = address
	}
}

// WithBME280Sleeper replaces the clock used for startup and conversion waits.
func WithBME280Sleeper(sleeper envdisplay.Sleeper) BME280Opt {
	return func(s *BME280) {
		s.sleeper = sleeper
	}
}

// WithOversampling sets temperature, pressure and humidity oversampling.
// Temperature and humidity cannot be switched off; OversamplingOff keeps x1
// for them.
func WithOversampling(temperature, pressure, humidity Oversampling) BME280Opt {
	return func(s *BME280) {
		s.tempOS = max(min(temperature, Oversampling16), Oversampling1)
		s.pressOS = min(pressure, Oversampling16)
		s.humOS = max(min(humidity, Oversampling16), Oversampling1)
	}
}

func WithFilter(filter Filter) BME280Opt {
	return func(s *BME280) {
		s.filter = min(filter, Filter16)
	}
}

// WithPolling sets how often and how many times the status register is
// checked after the expected conversion time elapsed.
func WithPolling(interval time.Duration, polls int) BME280Opt {
	return func(s *BME280) {
		s.pollInterval = interval
		s.maxPolls = max(polls, 1)
	}
}

func NewBME280(trans envdisplay.I2CBus, opts ...BME280Opt) *BME280 {
	s := &BME280{
		transport:    trans,
		address:      BME280AddressPrimary,
		sleeper:      envdisplay.SystemClock{},
		tempOS:       Oversampling1,
		pressOS:      Oversampling1,
		humOS:        Oversampling1,
		filter:       FilterOff,
		pollInterval: time.Millisecond,
		maxPolls:     10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BME280) Address() byte {
	return s.address
}

// Init resets the chip, verifies its identity, loads the factory calibration
// and leaves it in sleep mode with the configured oversampling.
func (s *BME280) Init(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.init(ctx); err != nil {
		return &envdisplay.InitError{Device: bme280Device, Err: err}
	}
	return nil
}

func (s *BME280) init(ctx context.Context) error {
	if err := envdisplay.WriteRegister(ctx, s.transport, s.address, bme280RegReset, bme280ResetWord); err != nil {
		return fmt.Errorf("soft reset failed: %w", err)
	}
	if err := s.sleeper.Sleep(ctx, bme280StartupTime); err != nil {
		return err
	}
	id := make([]byte, 1)
	if err := envdisplay.ReadRegister(ctx, s.transport, s.address, bme280RegChipID, id); err != nil {
		return fmt.Errorf("chip id read failed: %w", err)
	}
	if id[0] != bme280ChipID {
		return fmt.Errorf("%w: unexpected chip id 0x%02x", envdisplay.ErrMalformed, id[0])
	}
	if err := s.waitStatus(ctx, bme280StatusNVM); err != nil {
		return fmt.Errorf("calibration copy: %w", err)
	}
	low := make([]byte, 26)
	if err := envdisplay.ReadRegister(ctx, s.transport, s.address, bme280RegCalib00, low); err != nil {
		return fmt.Errorf("calibration read failed: %w", err)
	}
	high := make([]byte, 7)
	if err := envdisplay.ReadRegister(ctx, s.transport, s.address, bme280RegCalib26, high); err != nil {
		return fmt.Errorf("humidity calibration read failed: %w", err)
	}
	calib, err := parseBME280Calibration(low, high)
	if err != nil {
		return err
	}
	// ctrl_hum only takes effect after ctrl_meas is written
	if err := envdisplay.WriteRegister(ctx, s.transport, s.address, bme280RegCtrlHum, byte(s.humOS)); err != nil {
		return fmt.Errorf("ctrl_hum write failed: %w", err)
	}
	if err := envdisplay.WriteRegister(ctx, s.transport, s.address, bme280RegConfig, byte(s.filter)<<2); err != nil {
		return fmt.Errorf("config write failed: %w", err)
	}
	if err := envdisplay.WriteRegister(ctx, s.transport, s.address, bme280RegCtrlMeas, s.ctrlMeas(bme280ModeSleep)); err != nil {
		return fmt.Errorf("ctrl_meas write failed: %w", err)
	}
	s.calib = calib
	return nil
}

func parseBME280Calibration(low, high []byte) (*bme280Calibration, error) {
	if blank(low) || blank(high) {
		return nil, fmt.Errorf("%w: blank calibration memory", envdisplay.ErrMalformed)
	}
	le := binary.LittleEndian
	c := &bme280Calibration{
		T1: le.Uint16(low[0:]),
		T2: int16(le.Uint16(low[2:])),
		T3: int16(le.Uint16(low[4:])),
		P1: le.Uint16(low[6:]),
		P2: int16(le.Uint16(low[8:])),
		P3: int16(le.Uint16(low[10:])),
		P4: int16(le.Uint16(low[12:])),
		P5: int16(le.Uint16(low[14:])),
		P6: int16(le.Uint16(low[16:])),
		P7: int16(le.Uint16(low[18:])),
		P8: int16(le.Uint16(low[20:])),
		P9: int16(le.Uint16(low[22:])),
		H1: low[25],
		H2: int16(le.Uint16(high[0:])),
		H3: high[2],
		H4: int16(int8(high[3]))<<4 | int16(high[4]&0x0F),
		H5: int16(int8(high[5]))<<4 | int16(high[4]>>4),
		H6: int8(high[6]),
	}
	if c.T1 == 0 || c.P1 == 0 {
		return nil, fmt.Errorf("%w: invalid calibration (T1=%d, P1=%d)", envdisplay.ErrMalformed, c.T1, c.P1)
	}
	return c, nil
}

// blank reports calibration memory reading back as all zeros or all ones.
func blank(b []byte) bool {
	zeros, ones := true, true
	for _, v := range b {
		zeros = zeros && v == 0x00
		ones = ones && v == 0xFF
	}
	return zeros || ones
}

func (s *BME280) ctrlMeas(mode byte) byte {
	return byte(s.tempOS)<<5 | byte(s.pressOS)<<2 | mode
}

// waitStatus polls the status register until all bits of mask are cleared.
func (s *BME280) waitStatus(ctx context.Context, mask byte) error {
	status := make([]byte, 1)
	for range s.maxPolls {
		if err := envdisplay.ReadRegister(ctx, s.transport, s.address, bme280RegStatus, status); err != nil {
			return fmt.Errorf("status read failed: %w", err)
		}
		if status[0]&mask == 0 {
			return nil
		}
		if err := s.sleeper.Sleep(ctx, s.pollInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: status 0x%02x did not clear", envdisplay.ErrTimeout, status[0])
}

// conversionTime is the datasheet maximum measurement time.
func (s *BME280) conversionTime() time.Duration {
	us := 1250 + 2300*s.tempOS.samples()
	if n := s.pressOS.samples(); n > 0 {
		us += 2300*n + 575
	}
	if n := s.humOS.samples(); n > 0 {
		us += 2300*n + 575
	}
	return time.Duration(us) * time.Microsecond
}

// Measure triggers a forced conversion and returns the compensated values.
func (s *BME280) Measure(ctx context.Context) (Reading, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	r, err := s.measure(ctx)
	if err != nil {
		return Reading{}, &envdisplay.MeasureError{Device: bme280Device, Err: err}
	}
	return r, nil
}

func (s *BME280) measure(ctx context.Context) (Reading, error) {
	if s.calib == nil {
		return Reading{}, ErrNotInitialized
	}
	if err := envdisplay.WriteRegister(ctx, s.transport, s.address, bme280RegCtrlMeas, s.ctrlMeas(bme280ModeForced)); err != nil {
		return Reading{}, fmt.Errorf("trigger failed: %w", err)
	}
	if err := s.sleeper.Sleep(ctx, s.conversionTime()); err != nil {
		return Reading{}, err
	}
	if err := s.waitStatus(ctx, bme280StatusBusy); err != nil {
		return Reading{}, fmt.Errorf("conversion: %w", err)
	}
	data := make([]byte, 8)
	if err := envdisplay.ReadRegister(ctx, s.transport, s.address, bme280RegData, data); err != nil {
		return Reading{}, fmt.Errorf("data read failed: %w", err)
	}
	adcP := int32(data[0])<<12 | int32(data[1])<<4 | int32(data[2])>>4
	adcT := int32(data[3])<<12 | int32(data[4])<<4 | int32(data[5])>>4
	adcH := int32(data[6])<<8 | int32(data[7])
	if adcT == bme280SkippedTP {
		return Reading{}, fmt.Errorf("%w: temperature not sampled", envdisplay.ErrMalformed)
	}
	if adcH == bme280SkippedH {
		return Reading{}, fmt.Errorf("%w: humidity not sampled", envdisplay.ErrMalformed)
	}
	tFine, t := s.calib.temperature(adcT)
	r := Reading{
		Temperature: float32(t) / 100,
		Humidity:    float32(s.calib.humidity(adcH, tFine)) / 1024,
	}
	if adcP != bme280SkippedTP {
		r.Pressure = float32(s.calib.pressure(adcP, tFine)) / 256
	}
	return r, nil
}

func (s *BME280) GetTemperature(ctx context.Context) (float32, error) {
	r, err := s.Measure(ctx)
	return r.Temperature, err
}

func (s *BME280) GetHumidity(ctx context.Context) (float32, error) {
	r, err := s.Measure(ctx)
	return r.Humidity, err
}

func (s *BME280) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	return tempAndHum(ctx, s)
}

// temperature returns t_fine and the temperature in 0.01 °C.
func (c *bme280Calibration) temperature(adc int32) (int32, int32) {
	var1 := (((adc >> 3) - (int32(c.T1) << 1)) * int32(c.T2)) >> 11
	d := (adc >> 4) - int32(c.T1)
	var2 := (((d * d) >> 12) * int32(c.T3)) >> 14
	tFine := var1 + var2
	return tFine, (tFine*5 + 128) >> 8
}

// pressure returns the pressure in Pa as unsigned Q24.8.
func (c *bme280Calibration) pressure(adc, tFine int32) uint32 {
	var1 := int64(tFine) - 128000
	var2 := var1 * var1 * int64(c.P6)
	var2 += (var1 * int64(c.P5)) << 17
	var2 += int64(c.P4) << 35
	var1 = ((var1 * var1 * int64(c.P3)) >> 8) + ((var1 * int64(c.P2)) << 12)
	var1 = ((int64(1)<<47 + var1) * int64(c.P1)) >> 33
	if var1 == 0 {
		return 0
	}
	p := 1048576 - int64(adc)
	p = (((p << 31) - var2) * 3125) / var1
	var1 = (int64(c.P9) * (p >> 13) * (p >> 13)) >> 25
	var2 = (int64(c.P8) * p) >> 19
	p = ((p + var1 + var2) >> 8) + (int64(c.P7) << 4)
	return uint32(p)
}

// humidity returns the relative humidity in %RH as unsigned Q22.10.
func (c *bme280Calibration) humidity(adc, tFine int32) uint32 {
	v := tFine - 76800
	v = (((adc << 14) - (int32(c.H4) << 20) - (int32(c.H5) * v) + 16384) >> 15) *
		(((((((v*int32(c.H6))>>10)*(((v*int32(c.H3))>>11)+32768))>>10)+2097152)*int32(c.H2) + 8192) >> 14)
	v -= ((((v >> 15) * (v >> 15)) >> 7) * int32(c.H1)) >> 4
	v = min(max(v, 0), 419430400)
	return uint32(v >> 12)
}
