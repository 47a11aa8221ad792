package i2c

import (
	"errors"
	"fmt"

	"github.com/mklimuk/envdisplay"
)

// classify maps host errors onto the bus error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, envdisplay.ErrBusBusy), errors.Is(err, envdisplay.ErrNoAck),
		errors.Is(err, envdisplay.ErrTimeout), errors.Is(err, envdisplay.ErrIO):
		return err
	}
	if sentinel := classifyErrno(err); sentinel != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return fmt.Errorf("%w: %w", envdisplay.ErrIO, err)
}
