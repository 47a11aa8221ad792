package display

import (
	"context"
	"errors"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/drivers"
	"tinygo.org/x/tinyfont"

	"github.com/mklimuk/envdisplay"
)

type recordingBus struct {
	writes [][]byte
	fail   error
}

func (b *recordingBus) WriteToAddr(_ context.Context, address byte, buffer []byte) error {
	if address != DefaultAddress {
		return envdisplay.ErrNoAck
	}
	if b.fail != nil {
		return b.fail
	}
	b.writes = append(b.writes, append([]byte(nil), buffer...))
	return nil
}

func (b *recordingBus) ReadFromAddr(context.Context, byte, []byte) error {
	return errors.New("not supported")
}

func (b *recordingBus) Release(context.Context) error { return nil }

// dotFont draws every glyph as a single pixel at its origin.
type dotFont struct {
	g dotGlyph
}

type dotGlyph struct {
	r rune
}

func (g *dotGlyph) Draw(display drivers.Displayer, x, y int16, c color.RGBA) {
	display.SetPixel(x, y, c)
}

func (g *dotGlyph) Info() tinyfont.GlyphInfo {
	return tinyfont.GlyphInfo{Rune: g.r, Width: 1, Height: 1, XAdvance: 1}
}

func (f *dotFont) GetYAdvance() uint8 { return 8 }

func (f *dotFont) GetGlyph(r rune) tinyfont.Glypher {
	f.g.r = r
	return &f.g
}

func newTestDisplay(bus *recordingBus, opts ...Opt) *SSD1306 {
	return NewSSD1306(bus, append([]Opt{WithFont(&dotFont{}, 3)}, opts...)...)
}

// lit lists the character cells holding any lit pixel.
func lit(d *SSD1306) []int {
	var cells []int
	cols, rows := d.Grid()
	for cell := range cols * rows {
		x0 := int16(cell%cols) * CellWidth
		y0 := int16(cell/cols) * CellHeight
	scan:
		for y := y0; y < y0+CellHeight; y++ {
			for x := x0; x < x0+CellWidth; x++ {
				if d.Pixel(x, y) {
					cells = append(cells, cell)
					break scan
				}
			}
		}
	}
	return cells
}

func TestSSD1306_Init(t *testing.T) {
	tests := []struct {
		height    int16
		multiplex byte
		comPins   byte
		capacity  int
	}{
		{32, 0x1F, 0x02, 64},
		{64, 0x3F, 0x12, 128},
	}
	for _, tt := range tests {
		bus := &recordingBus{}
		d := newTestDisplay(bus, WithSize(128, tt.height))
		require.NoError(t, d.Init(context.Background()))
		require.Len(t, bus.writes, 17)
		for _, w := range bus.writes {
			assert.Equal(t, byte(controlCommand), w[0])
		}
		assert.Equal(t, []byte{0x00, cmdDisplayOff}, bus.writes[0])
		assert.Equal(t, []byte{0x00, cmdMultiplex, tt.multiplex}, bus.writes[2])
		assert.Equal(t, []byte{0x00, cmdChargePump, 0x14}, bus.writes[5])
		assert.Equal(t, []byte{0x00, cmdComPins, tt.comPins}, bus.writes[9])
		assert.Equal(t, []byte{0x00, cmdDisplayOn}, bus.writes[16])
		assert.Equal(t, tt.capacity, d.Capacity())
	}
}

func TestSSD1306_InitErrors(t *testing.T) {
	ctx := context.Background()
	var initErr *envdisplay.InitError

	err := newTestDisplay(&recordingBus{}, WithSize(96, 16)).Init(ctx)
	require.ErrorAs(t, err, &initErr)
	assert.ErrorIs(t, err, ErrUnsupportedGeometry)

	err = newTestDisplay(&recordingBus{}, WithAddress(0x3D)).Init(ctx)
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "ssd1306", initErr.Device)
	assert.ErrorIs(t, err, envdisplay.ErrNoAck)
	assert.False(t, envdisplay.Retryable(err))
}

func TestSSD1306_Flush(t *testing.T) {
	bus := &recordingBus{}
	d := newTestDisplay(bus)
	d.SetPixel(0, 0, on)
	d.SetPixel(5, 9, on)
	d.SetPixel(127, 31, on)
	d.SetPixel(128, 0, on) // out of bounds
	d.SetPixel(-1, 3, on)
	require.NoError(t, d.Display())

	require.Len(t, bus.writes, 2+512/DefaultChunkSize)
	assert.Equal(t, []byte{0x00, cmdColumnAddr, 0, 127}, bus.writes[0])
	assert.Equal(t, []byte{0x00, cmdPageAddr, 0, 3}, bus.writes[1])
	var frame []byte
	for _, w := range bus.writes[2:] {
		require.Len(t, w, DefaultChunkSize+1)
		assert.Equal(t, byte(controlData), w[0])
		frame = append(frame, w[1:]...)
	}
	require.Len(t, frame, 512)
	assert.Equal(t, byte(0x01), frame[0])
	assert.Equal(t, byte(0x02), frame[128+5])
	assert.Equal(t, byte(0x80), frame[3*128+127])
	assert.True(t, d.Pixel(5, 9))
	assert.False(t, d.Pixel(5, 10))

	d.SetPixel(5, 9, off)
	assert.False(t, d.Pixel(5, 9))
}

func TestSSD1306_FlushChunks(t *testing.T) {
	bus := &recordingBus{}
	d := newTestDisplay(bus, WithChunkSize(60))
	require.NoError(t, d.Flush(context.Background()))
	// 512 bytes in 60 byte packets: 8 full ones and 32 bytes left
	data := bus.writes[2:]
	require.Len(t, data, 9)
	assert.Len(t, data[0], 61)
	assert.Len(t, data[8], 33)
}

func TestSSD1306_WriteText(t *testing.T) {
	ctx := context.Background()
	bus := &recordingBus{}
	d := newTestDisplay(bus)
	assert.Equal(t, 64, d.Capacity())
	cols, rows := d.Grid()
	assert.Equal(t, 16, cols)
	assert.Equal(t, 4, rows)

	require.NoError(t, d.WriteText(ctx, "AB"))
	assert.Equal(t, []int{0, 1}, lit(d))
	assert.Equal(t, 2, d.Cursor())
	assert.True(t, d.Pixel(8, 3))

	// text continues at the cursor
	require.NoError(t, d.WriteText(ctx, "C D"))
	assert.Equal(t, []int{0, 1, 2, 4}, lit(d))

	require.NoError(t, d.WriteText(ctx, "\nE"))
	assert.Equal(t, []int{0, 1, 2, 4, 16}, lit(d))
	require.NoError(t, d.WriteText(ctx, "\rF"))
	assert.Equal(t, 17, d.Cursor())

	// a write of capacity characters lands back on the same cell
	require.NoError(t, d.WriteText(ctx, strings.Repeat(" ", 64)))
	assert.Equal(t, 17, d.Cursor())
	assert.Empty(t, lit(d))

	require.NoError(t, d.Clear(ctx))
	assert.Equal(t, 0, d.Cursor())
}

func TestSSD1306_StaleGlyphs(t *testing.T) {
	ctx := context.Background()
	bus := &recordingBus{}
	d := newTestDisplay(bus)

	require.NoError(t, d.WriteText(ctx, "XY"+strings.Repeat(" ", 62)))
	assert.Equal(t, 0, d.Cursor())
	// a short write leaves the second glyph on screen
	require.NoError(t, d.WriteText(ctx, "X"))
	assert.Equal(t, []int{0, 1}, lit(d))

	// a full redraw does not
	require.NoError(t, d.RenderText(ctx, "X"))
	assert.Equal(t, []int{0}, lit(d))
	assert.Equal(t, 0, d.Cursor())

	require.NoError(t, d.RenderText(ctx, "T\nH"))
	assert.Equal(t, []int{0, 16}, lit(d))
}

func TestSSD1306_WriteErrors(t *testing.T) {
	ctx := context.Background()
	bus := &recordingBus{fail: envdisplay.ErrTimeout}
	d := newTestDisplay(bus)

	var ioErr *envdisplay.IoError
	err := d.WriteText(ctx, "T")
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "write", ioErr.Op)
	assert.True(t, envdisplay.Retryable(err))

	err = d.RenderText(ctx, "T")
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "render", ioErr.Op)

	err = d.Clear(ctx)
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "clear", ioErr.Op)
	assert.ErrorIs(t, err, envdisplay.ErrTimeout)
}

func TestSSD1306_DefaultFont(t *testing.T) {
	bus := &recordingBus{}
	d := NewSSD1306(bus)
	require.NoError(t, d.RenderText(context.Background(), "T:   23C"))
	cells := lit(d)
	assert.NotEmpty(t, cells)
	for _, c := range cells {
		assert.Less(t, c, 16)
	}
}

func TestSSD1306_ConcurrentDrawing(t *testing.T) {
	bus := &recordingBus{}
	d := newTestDisplay(bus)
	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 100 {
			d.SetPixel(int16(i), 31, on)
			_ = d.Pixel(int16(i), 31)
		}
	}()
	for range 10 {
		require.NoError(t, d.RenderText(ctx, "T:   23C"))
	}
	<-done
	require.NoError(t, d.RenderText(ctx, "T:   23C"))
	assert.Equal(t, []int{0, 1, 5, 6, 7}, lit(d))
	d.SetPixel(99, 31, on)
	assert.True(t, d.Pixel(99, 31))
}
