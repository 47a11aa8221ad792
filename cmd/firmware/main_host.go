//go:build !tinygo

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "firmware must be built with tinygo, e.g. dev firmware --target pico")
	fmt.Fprintln(os.Stderr, "use envdisplay run to drive the display from a host")
	os.Exit(2)
}
