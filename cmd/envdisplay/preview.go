package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/envdisplay/cmd/envdisplay/console"
	"github.com/mklimuk/envdisplay/display"
	"github.com/mklimuk/envdisplay/format"
)

var previewCmd = cli.Command{
	Name:  "preview",
	Usage: "render a frame in the terminal as the display would show it",
	Flags: []cli.Flag{
		&cli.Float64Flag{
			Name:    "temperature",
			Aliases: []string{"t"},
			Value:   23,
		},
		&cli.Float64Flag{
			Name:    "humidity",
			Aliases: []string{"u"},
			Value:   45,
		},
		&cli.IntFlag{
			Name:  "height",
			Usage: "panel height, 32 or 64",
			Value: 32,
		},
	},
	Action: func(c *cli.Context) error {
		err := preview(console.Writer(), float32(c.Float64("temperature")), float32(c.Float64("humidity")), int16(c.Int("height")))
		if err != nil {
			return console.ExitErr("preview error", err)
		}
		return nil
	},
}

// preview renders one frame into an SSD1306 framebuffer detached from any
// hardware and prints the lit pixels followed by the character grid.
func preview(w io.Writer, temperature, humidity float32, height int16) error {
	oled := display.NewSSD1306(nullBus{}, display.WithSize(128, height))
	f, err := format.New(oled.Capacity())
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := oled.Init(ctx); err != nil {
		return err
	}
	frame := f.Format(format.Truncate(temperature), format.Truncate(humidity))
	if err := oled.RenderText(ctx, frame); err != nil {
		return err
	}
	width, h := oled.Size()
	border := "+" + strings.Repeat("-", int(width)) + "+"
	_, _ = fmt.Fprintln(w, border)
	for y := range h {
		var line strings.Builder
		line.WriteByte('|')
		for x := range width {
			if oled.Pixel(x, y) {
				line.WriteByte('#')
			} else {
				line.WriteByte(' ')
			}
		}
		line.WriteByte('|')
		_, _ = fmt.Fprintln(w, line.String())
	}
	_, _ = fmt.Fprintln(w, border)
	cols, _ := oled.Grid()
	for row := 0; row < len(frame); row += cols {
		_, _ = fmt.Fprintf(w, "%s %q\n", console.PictoDisplay, frame[row:min(row+cols, len(frame))])
	}
	return nil
}
