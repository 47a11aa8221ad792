// Package display drives a monochrome SSD1306 OLED over I2C.
//
// The controller RAM is mirrored in a local framebuffer: drawing only changes
// the framebuffer and Flush sends the whole visible region to the device.
// On top of the framebuffer the driver keeps a grid of 8x8 character cells
// used by WriteText and RenderText.
package display

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"sync"

	"tinygo.org/x/drivers"
	"tinygo.org/x/tinyfont"

	"github.com/mklimuk/envdisplay"
)

const DefaultAddress = 0x3C

const device = "ssd1306"

const (
	controlCommand = 0x00
	controlData    = 0x40

	cmdDisplayOff       = 0xAE
	cmdDisplayOn        = 0xAF
	cmdClockDiv         = 0xD5
	cmdMultiplex        = 0xA8
	cmdDisplayOffset    = 0xD3
	cmdStartLine        = 0x40
	cmdChargePump       = 0x8D
	cmdMemoryMode       = 0x20
	cmdSegRemap         = 0xA1
	cmdComScanDec       = 0xC8
	cmdComPins          = 0xDA
	cmdContrast         = 0x81
	cmdPrecharge        = 0xD9
	cmdVcomDetect       = 0xDB
	cmdDisplayRAM       = 0xA4
	cmdNormalDisplay    = 0xA6
	cmdDeactivateScroll = 0x2E
	cmdColumnAddr       = 0x21
	cmdPageAddr         = 0x22
)

// DefaultChunkSize keeps every data write, control byte included, within
// the payload of the smallest supported bridge.
const DefaultChunkSize = 32

var ErrUnsupportedGeometry = errors.New("unsupported display geometry")

var _ drivers.Displayer = &SSD1306{}

// SSD1306 is a 128x32 or 128x64 OLED panel in horizontal addressing mode.
type SSD1306 struct {
	mx        sync.Mutex
	transport envdisplay.I2CBus
	address   byte
	width     int16
	height    int16
	chunk     int
	contrast  byte
	font      tinyfont.Fonter
	baseline  int16
	buffer    []byte
	cursor    int
}

type Opt func(*SSD1306)

func WithAddress(address byte) Opt {
	return func(d *SSD1306) {
		d.address = address
	}
}

func WithSize(width, height int16) Opt {
	return func(d *SSD1306) {
		d.width = width
		d.height = height
	}
}

// WithChunkSize sets the number of framebuffer bytes sent per bus write.
func WithChunkSize(n int) Opt {
	return func(d *SSD1306) {
		d.chunk = max(n, 1)
	}
}

func WithContrast(contrast byte) Opt {
	return func(d *SSD1306) {
		d.contrast = contrast
	}
}

// WithFont replaces the glyph font. baseline is the glyph origin offset from
// the top of a character cell.
func WithFont(font tinyfont.Fonter, baseline int16) Opt {
	return func(d *SSD1306) {
		d.font = font
		d.baseline = baseline
	}
}

func NewSSD1306(trans envdisplay.I2CBus, opts ...Opt) *SSD1306 {
	d := &SSD1306{
		transport: trans,
		address:   DefaultAddress,
		width:     128,
		height:    32,
		chunk:     DefaultChunkSize,
		contrast:  0x8F,
		font:      &tinyfont.Picopixel,
		baseline:  6,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.width > 0 && d.height > 0 {
		d.buffer = make([]byte, int(d.width)*((int(d.height)+7)/8))
	}
	return d
}

func (d *SSD1306) Address() byte {
	return d.address
}

// Init configures multiplexing, addressing mode and charge pump for the panel
// geometry and switches the display on.
func (d *SSD1306) Init(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	seq, err := d.initSequence()
	if err != nil {
		return &envdisplay.InitError{Device: device, Err: err}
	}
	for _, cmd := range seq {
		if err := d.command(ctx, cmd...); err != nil {
			return &envdisplay.InitError{Device: device, Err: fmt.Errorf("command 0x%02x failed: %w", cmd[0], err)}
		}
	}
	clear(d.buffer)
	d.cursor = 0
	return nil
}

func (d *SSD1306) initSequence() ([][]byte, error) {
	var multiplex, comPins byte
	switch {
	case d.width == 128 && d.height == 32:
		multiplex, comPins = 0x1F, 0x02
	case d.width == 128 && d.height == 64:
		multiplex, comPins = 0x3F, 0x12
	default:
		return nil, fmt.Errorf("%w: %dx%d", ErrUnsupportedGeometry, d.width, d.height)
	}
	return [][]byte{
		{cmdDisplayOff},
		{cmdClockDiv, 0x80},
		{cmdMultiplex, multiplex},
		{cmdDisplayOffset, 0x00},
		{cmdStartLine},
		{cmdChargePump, 0x14},
		{cmdMemoryMode, 0x00},
		{cmdSegRemap},
		{cmdComScanDec},
		{cmdComPins, comPins},
		{cmdContrast, d.contrast},
		{cmdPrecharge, 0xF1},
		{cmdVcomDetect, 0x40},
		{cmdDisplayRAM},
		{cmdNormalDisplay},
		{cmdDeactivateScroll},
		{cmdDisplayOn},
	}, nil
}

func (d *SSD1306) command(ctx context.Context, cmd ...byte) error {
	buf := make([]byte, 0, len(cmd)+1)
	buf = append(buf, controlCommand)
	buf = append(buf, cmd...)
	return d.transport.WriteToAddr(ctx, d.address, buf)
}

// Size implements drivers.Displayer.
func (d *SSD1306) Size() (x, y int16) {
	return d.width, d.height
}

// SetPixel implements drivers.Displayer. Any non-black colour lights the pixel.
// It is safe to call while another goroutine writes text.
func (d *SSD1306) SetPixel(x, y int16, c color.RGBA) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.setPixel(x, y, c)
}

func (d *SSD1306) setPixel(x, y int16, c color.RGBA) {
	if x < 0 || y < 0 || x >= d.width || y >= d.height {
		return
	}
	idx := int(x) + int(y/8)*int(d.width)
	bit := byte(1) << (y % 8)
	if c.R != 0 || c.G != 0 || c.B != 0 {
		d.buffer[idx] |= bit
	} else {
		d.buffer[idx] &^= bit
	}
}

// Pixel tells whether the framebuffer pixel at x, y is lit.
func (d *SSD1306) Pixel(x, y int16) bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	if x < 0 || y < 0 || x >= d.width || y >= d.height {
		return false
	}
	return d.buffer[int(x)+int(y/8)*int(d.width)]&(1<<(y%8)) != 0
}

// Display implements drivers.Displayer.
func (d *SSD1306) Display() error {
	return d.Flush(context.Background())
}

// Flush sends the whole framebuffer to the controller.
func (d *SSD1306) Flush(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.flush(ctx); err != nil {
		return &envdisplay.IoError{Device: device, Op: "flush", Err: err}
	}
	return nil
}

func (d *SSD1306) flush(ctx context.Context) error {
	pages := byte(d.height / 8)
	if err := d.command(ctx, cmdColumnAddr, 0, byte(d.width-1)); err != nil {
		return fmt.Errorf("column address: %w", err)
	}
	if err := d.command(ctx, cmdPageAddr, 0, pages-1); err != nil {
		return fmt.Errorf("page address: %w", err)
	}
	packet := make([]byte, d.chunk+1)
	packet[0] = controlData
	for off := 0; off < len(d.buffer); off += d.chunk {
		n := copy(packet[1:], d.buffer[off:])
		if err := d.transport.WriteToAddr(ctx, d.address, packet[:n+1]); err != nil {
			return fmt.Errorf("data at %d: %w", off, err)
		}
	}
	return nil
}

// Clear blanks the framebuffer and the panel and moves the cursor home.
func (d *SSD1306) Clear(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	clear(d.buffer)
	d.cursor = 0
	if err := d.flush(ctx); err != nil {
		return &envdisplay.IoError{Device: device, Op: "clear", Err: err}
	}
	return nil
}
