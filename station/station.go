// Package station runs the measure, format, render loop of the device.
//
// A Station is set up once (sensor first, then display) and then repeats
// cycles separated by a fixed interval measured on an injected clock. A
// failed cycle is classified with envdisplay.Retryable: retryable failures are
// logged and the next cycle runs as usual, anything else stops the loop.
package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/envdisplay"
	"github.com/mklimuk/envdisplay/environment"
	"github.com/mklimuk/envdisplay/format"
)

const DefaultInterval = time.Second

var (
	ErrNoSensor         = errors.New("station: missing sensor")
	ErrNoDisplay        = errors.New("station: missing display")
	ErrCapacityMismatch = errors.New("station: formatter and display capacity differ")
	ErrTooManyFailures  = errors.New("station: too many consecutive failures")
)

type Sensor interface {
	Init(ctx context.Context) error
	Measure(ctx context.Context) (environment.Reading, error)
}

type Display interface {
	Init(ctx context.Context) error
	Clear(ctx context.Context) error
	WriteText(ctx context.Context, text string) error
}

// FrameRenderer is implemented by displays able to redraw their full text
// grid in one call.
type FrameRenderer interface {
	RenderText(ctx context.Context, text string) error
}

type sized interface {
	Capacity() int
}

// RenderMode selects how a frame reaches the display.
type RenderMode int

const (
	// RenderFrame redraws the whole grid when the display supports it.
	RenderFrame RenderMode = iota
	// RenderTerminal always writes at the display cursor.
	RenderTerminal
)

func (m RenderMode) String() string {
	switch m {
	case RenderFrame:
		return "frame"
	case RenderTerminal:
		return "terminal"
	}
	return fmt.Sprintf("RenderMode(%d)", int(m))
}

func ParseRenderMode(s string) (RenderMode, error) {
	switch s {
	case "", "frame":
		return RenderFrame, nil
	case "terminal":
		return RenderTerminal, nil
	}
	return 0, fmt.Errorf("unknown render mode %q", s)
}

type State int

const (
	StateSetup State = iota
	StateRunning
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Opts struct {
	Formatter *format.Formatter
	Sleeper   envdisplay.Sleeper
	Interval  time.Duration
	// MaxConsecutiveFailures stops the loop after that many retryable
	// failures in a row. Zero retries forever.
	MaxConsecutiveFailures int
	RenderMode             RenderMode
	Logger                 *slog.Logger
}

type Opt func(*Opts)

func WithFormatter(f *format.Formatter) Opt {
	return func(o *Opts) {
		o.Formatter = f
	}
}

func WithSleeper(s envdisplay.Sleeper) Opt {
	return func(o *Opts) {
		o.Sleeper = s
	}
}

func WithInterval(d time.Duration) Opt {
	return func(o *Opts) {
		o.Interval = d
	}
}

func WithMaxConsecutiveFailures(n int) Opt {
	return func(o *Opts) {
		o.MaxConsecutiveFailures = max(n, 0)
	}
}

func WithRenderMode(m RenderMode) Opt {
	return func(o *Opts) {
		o.RenderMode = m
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(o *Opts) {
		o.Logger = logger
	}
}

// Stats describes the loop progress.
type Stats struct {
	State               State
	Cycles              uint64
	Failures            uint64
	ConsecutiveFailures int
	LastReading         environment.Reading
	LastFrame           string
	LastError           error
}

type Station struct {
	sensor  Sensor
	display Display
	opts    Opts

	mx    sync.Mutex
	stats Stats
}

// New composes a station. Without an explicit formatter one is sized to the
// display capacity when the display reports it, format.DefaultCapacity
// otherwise.
func New(sensor Sensor, display Display, opts ...Opt) (*Station, error) {
	if sensor == nil {
		return nil, ErrNoSensor
	}
	if display == nil {
		return nil, ErrNoDisplay
	}
	o := Opts{
		Sleeper:  envdisplay.SystemClock{},
		Interval: DefaultInterval,
		Logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Formatter == nil {
		capacity := format.DefaultCapacity
		if s, ok := display.(sized); ok {
			capacity = s.Capacity()
		}
		f, err := format.New(capacity)
		if err != nil {
			return nil, fmt.Errorf("station: display capacity %d: %w", capacity, err)
		}
		o.Formatter = f
	}
	if s, ok := display.(sized); ok && s.Capacity() != o.Formatter.Capacity() {
		return nil, fmt.Errorf("%w: %d != %d", ErrCapacityMismatch, o.Formatter.Capacity(), s.Capacity())
	}
	return &Station{sensor: sensor, display: display, opts: o}, nil
}

func (s *Station) Stats() Stats {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.stats
}

func (s *Station) setState(state State) {
	s.mx.Lock()
	s.stats.State = state
	s.mx.Unlock()
}

// Setup initializes the sensor, then the display, and blanks the display.
// A sensor that fails to initialize stops Setup before the display is
// touched. Every error returned by Setup is an *envdisplay.InitError.
func (s *Station) Setup(ctx context.Context) error {
	logger := s.opts.Logger
	if err := s.sensor.Init(ctx); err != nil {
		s.halt(err)
		return asInitError("sensor", err)
	}
	logger.Debug("sensor initialized")
	if err := s.display.Init(ctx); err != nil {
		s.halt(err)
		return asInitError("display", err)
	}
	if err := s.display.Clear(ctx); err != nil {
		s.halt(err)
		return asInitError("display", err)
	}
	logger.Debug("display initialized")
	s.setState(StateRunning)
	return nil
}

func (s *Station) halt(err error) {
	s.mx.Lock()
	s.stats.State = StateHalted
	s.stats.LastError = err
	s.mx.Unlock()
}

func asInitError(device string, err error) error {
	var initErr *envdisplay.InitError
	if errors.As(err, &initErr) {
		return err
	}
	return &envdisplay.InitError{Device: device, Err: err}
}

// Cycle measures once, formats the reading and renders the frame. The
// rendered frame is returned even when rendering fails.
func (s *Station) Cycle(ctx context.Context) (string, error) {
	reading, err := s.sensor.Measure(ctx)
	if err != nil {
		err = asMeasureError(err)
		s.record(environment.Reading{}, "", err)
		return "", err
	}
	frame := s.opts.Formatter.Format(format.Truncate(reading.Temperature), format.Truncate(reading.Humidity))
	if err := s.render(ctx, frame); err != nil {
		err = asIoError(err)
		s.record(reading, frame, err)
		return frame, err
	}
	s.record(reading, frame, nil)
	return frame, nil
}

func (s *Station) render(ctx context.Context, frame string) error {
	if r, ok := s.display.(FrameRenderer); ok && s.opts.RenderMode == RenderFrame {
		return r.RenderText(ctx, frame)
	}
	return s.display.WriteText(ctx, frame)
}

func asMeasureError(err error) error {
	var measureErr *envdisplay.MeasureError
	var initErr *envdisplay.InitError
	if errors.As(err, &measureErr) || errors.As(err, &initErr) || errors.Is(err, context.Canceled) {
		return err
	}
	return &envdisplay.MeasureError{Device: "sensor", Err: err}
}

func asIoError(err error) error {
	var ioErr *envdisplay.IoError
	if errors.As(err, &ioErr) || errors.Is(err, context.Canceled) {
		return err
	}
	return &envdisplay.IoError{Device: "display", Op: "write", Err: err}
}

func (s *Station) record(reading environment.Reading, frame string, err error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.stats.Cycles++
	s.stats.LastError = err
	if err != nil {
		s.stats.Failures++
		s.stats.ConsecutiveFailures++
		return
	}
	s.stats.ConsecutiveFailures = 0
	s.stats.LastReading = reading
	s.stats.LastFrame = frame
}

// Run sets the station up if needed and repeats cycles until ctx is done
// (returning nil) or a cycle fails with a non retryable error.
func (s *Station) Run(ctx context.Context) error {
	if s.Stats().State != StateRunning {
		if err := s.Setup(ctx); err != nil {
			return err
		}
	}
	logger := s.opts.Logger
	logger.Info("station running", "interval", s.opts.Interval, "capacity", s.opts.Formatter.Capacity(), "mode", s.opts.RenderMode)
	for {
		frame, err := s.Cycle(ctx)
		if ctx.Err() != nil {
			s.setState(StateHalted)
			return nil
		}
		if err != nil {
			if !envdisplay.Retryable(err) {
				s.halt(err)
				logger.Error("cycle failed", "error", err)
				return err
			}
			stats := s.Stats()
			if limit := s.opts.MaxConsecutiveFailures; limit > 0 && stats.ConsecutiveFailures >= limit {
				s.halt(err)
				return fmt.Errorf("%w (%d): %w", ErrTooManyFailures, stats.ConsecutiveFailures, err)
			}
			logger.Warn("cycle failed, retrying", "cycle", stats.Cycles, "failures", stats.ConsecutiveFailures, "error", err)
		} else {
			logger.Debug("frame rendered", "frame", frame)
		}
		if err := s.opts.Sleeper.Sleep(ctx, s.opts.Interval); err != nil {
			s.setState(StateHalted)
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
