package display

import (
	"context"
	"image/color"

	"tinygo.org/x/tinyfont"

	"github.com/mklimuk/envdisplay"
)

const (
	CellWidth  = 8
	CellHeight = 8
)

var (
	on  = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	off = color.RGBA{A: 0xFF}
)

// Grid returns the number of character columns and rows.
func (d *SSD1306) Grid() (cols, rows int) {
	return int(d.width) / CellWidth, int(d.height) / CellHeight
}

// Capacity is the number of characters visible at once.
func (d *SSD1306) Capacity() int {
	cols, rows := d.Grid()
	return cols * rows
}

// Cursor returns the cell the next WriteText character goes to.
func (d *SSD1306) Cursor() int {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.cursor
}

// WriteText draws text at the cursor like a terminal: characters replace
// the cells they land on, '\n' moves to the next row, '\r' to the start of
// the row and the cursor wraps to the first cell after the last one. Cells
// that are not written keep their previous glyphs.
func (d *SSD1306) WriteText(ctx context.Context, text string) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.print(text)
	if err := d.flush(ctx); err != nil {
		return &envdisplay.IoError{Device: device, Op: "write", Err: err}
	}
	return nil
}

// RenderText replaces the whole grid with text drawn from the first cell.
// Cells past the end of text are blank, so text may be shorter than
// Capacity. Text longer than Capacity wraps over the beginning.
func (d *SSD1306) RenderText(ctx context.Context, text string) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	clear(d.buffer)
	d.cursor = 0
	d.print(text)
	d.cursor = 0
	if err := d.flush(ctx); err != nil {
		return &envdisplay.IoError{Device: device, Op: "render", Err: err}
	}
	return nil
}

func (d *SSD1306) print(text string) {
	cols, _ := d.Grid()
	capacity := d.Capacity()
	if capacity == 0 {
		return
	}
	for _, r := range text {
		switch {
		case r == '\n':
			d.cursor = (d.cursor/cols + 1) * cols % capacity
		case r == '\r':
			d.cursor = d.cursor / cols * cols
		case r < ' ':
		default:
			d.drawCell(d.cursor, r)
			d.cursor = (d.cursor + 1) % capacity
		}
	}
}

func (d *SSD1306) drawCell(cell int, r rune) {
	cols, _ := d.Grid()
	x := int16(cell%cols) * CellWidth
	y := int16(cell/cols) * CellHeight
	for dy := range int16(CellHeight) {
		for dx := range int16(CellWidth) {
			d.setPixel(x+dx, y+dy, off)
		}
	}
	if r == ' ' {
		return
	}
	tinyfont.DrawChar(canvas{d}, d.font, x, y+d.baseline, r, on)
}

// canvas draws into the framebuffer of a display whose lock is already held.
type canvas struct {
	d *SSD1306
}

func (c canvas) Size() (x, y int16) { return c.d.width, c.d.height }

func (c canvas) SetPixel(x, y int16, col color.RGBA) { c.d.setPixel(x, y, col) }

func (c canvas) Display() error { return nil }
