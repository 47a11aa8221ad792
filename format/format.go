// Package format builds the fixed-width text frame shown on the display.
//
// A frame carries two labelled fields, temperature in the first half and
// humidity in the second, each padded with spaces so that the frame always
// has exactly the display's character capacity:
//
//	"T:   23C" + 24 spaces + "H:   45%" + 24 spaces
package format

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// DefaultCapacity is the character capacity of a 128x32 panel with 8x8 glyphs.
const DefaultCapacity = 64

// MinCapacity fits both fields on one line each.
const MinCapacity = 16

const (
	MinValue = 0
	MaxValue = 99
)

var ErrCapacity = fmt.Errorf("capacity must be an even number of at least %d characters", MinCapacity)

var ErrGrid = errors.New("invalid character grid")

// Formatter renders readings into frames of a fixed capacity.
type Formatter struct {
	capacity int
}

func New(capacity int) (*Formatter, error) {
	if capacity < MinCapacity || capacity%2 != 0 {
		return nil, ErrCapacity
	}
	return &Formatter{capacity: capacity}, nil
}

// Capacity computes how many glyphs of glyphWidth x glyphHeight pixels fit
// on a width x height pixel display.
func Capacity(width, height, glyphWidth, glyphHeight int) (int, error) {
	if width <= 0 || height <= 0 || glyphWidth <= 0 || glyphHeight <= 0 {
		return 0, ErrGrid
	}
	return (width / glyphWidth) * (height / glyphHeight), nil
}

func (f *Formatter) Capacity() int {
	return f.capacity
}

// Format returns the frame for the given readings. Values outside
// [MinValue, MaxValue] are clamped so that the layout never shifts.
func (f *Formatter) Format(temperature, humidity int) string {
	half := f.capacity / 2
	var b strings.Builder
	b.Grow(f.capacity)
	field(&b, fmt.Sprintf("T:   %02dC", clamp(temperature)), half)
	field(&b, fmt.Sprintf("H:   %02d%%", clamp(humidity)), half)
	return b.String()
}

// field writes s padded with spaces to width.
func field(b *strings.Builder, s string, width int) {
	b.WriteString(s)
	for range width - len(s) {
		b.WriteByte(' ')
	}
}

func clamp(v int) int {
	return min(max(v, MinValue), MaxValue)
}

// Offsets returns the positions of the temperature and humidity digits.
func (f *Formatter) Offsets() (temperature, humidity int) {
	return 5, f.capacity/2 + 5
}

var defaultFormatter = &Formatter{capacity: DefaultCapacity}

// Format renders a frame of DefaultCapacity characters.
func Format(temperature, humidity int) string {
	return defaultFormatter.Format(temperature, humidity)
}

// Truncate converts a reading to an integer for display, dropping the
// fraction. Negative readings and NaN give 0, readings above 255 give 255.
func Truncate(v float32) int {
	switch {
	case math.IsNaN(float64(v)), v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return int(v)
}
