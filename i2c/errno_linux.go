package i2c

import (
	"errors"
	"syscall"

	"github.com/mklimuk/envdisplay"
)

func classifyErrno(err error) error {
	switch {
	case errors.Is(err, syscall.EREMOTEIO), errors.Is(err, syscall.ENXIO):
		return envdisplay.ErrNoAck
	case errors.Is(err, syscall.EBUSY), errors.Is(err, syscall.EAGAIN):
		return envdisplay.ErrBusBusy
	case errors.Is(err, syscall.ETIMEDOUT):
		return envdisplay.ErrTimeout
	}
	return nil
}
