package envdisplay

import (
	"context"
	"errors"
)

var (
	ErrBusBusy          = errors.New("I2C engine is busy (command not completed)")
	ErrNoAck            = errors.New("device did not acknowledge")
	ErrTimeout          = errors.New("bus transaction timed out")
	ErrIO               = errors.New("bus i/o failure")
	ErrMalformed        = errors.New("malformed device response")
	ErrInvalidTransport = errors.New("invalid bus transport")
)

type BusReader interface {
	Read(ctx context.Context, buffer []byte) error
}

type BusWriter interface {
	Write(ctx context.Context, buffer []byte) error
}

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is the capability every driver in this module is written against.
// Each call is one complete bus transaction (start, address, bytes, stop).
type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// Transactor is implemented by buses able to write and then read from the
// same device with a repeated start, without releasing the bus in between.
type Transactor interface {
	Tx(ctx context.Context, address byte, w, r []byte) error
}

// ReadRegister writes the register pointer and reads len(buffer) bytes back.
// It uses a repeated start when the bus supports it.
func ReadRegister(ctx context.Context, bus I2CBus, address, register byte, buffer []byte) error {
	if tx, ok := bus.(Transactor); ok {
		return tx.Tx(ctx, address, []byte{register}, buffer)
	}
	if err := bus.WriteToAddr(ctx, address, []byte{register}); err != nil {
		return err
	}
	return bus.ReadFromAddr(ctx, address, buffer)
}

// WriteRegister writes value bytes starting at register.
func WriteRegister(ctx context.Context, bus I2CBus, address, register byte, value ...byte) error {
	buf := make([]byte, 0, len(value)+1)
	buf = append(buf, register)
	buf = append(buf, value...)
	return bus.WriteToAddr(ctx, address, buf)
}
