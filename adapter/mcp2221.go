// Package adapter provides USB bridges exposing an I2C bus to a desktop host.
package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/envdisplay"
	"github.com/mklimuk/envdisplay/snsctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

// maxPayload is the largest I2C payload carried by a single 64 byte report.
const maxPayload = 60

const (
	cmdStatus          = 0x10
	cmdGetData         = 0x40
	cmdWrite           = 0x90
	cmdRead            = 0x91
	cmdReadRepeated    = 0x93
	cmdWriteNoStop     = 0x94
	statusCancelI2C    = 0x10
	respBusy           = 0x01
	respGetDataFailure = 0x41
	respSizeInvalid    = 127
)

var ErrCommandFailed = errors.New("command failed")
var ErrPayloadTooLarge = fmt.Errorf("payload exceeds %d bytes", maxPayload)

var (
	_ envdisplay.I2CBus     = &MCP2221{}
	_ envdisplay.Transactor = &MCP2221{}
)

type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"i2c_data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"i2c_speed_divider"`
	I2CTimeout             int    `yaml:"i2c_timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested_size"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent_size"`
	ReadPending            int    `yaml:"read_pending"`
}

type device interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// MCP2221 is a Microchip MCP2221 USB-HID to I2C bridge.
type MCP2221 struct {
	mx           sync.Mutex
	request      []byte
	response     []byte
	responseWait time.Duration
	open         func(id int) (device, error)
	id           int
}

type MCP2221Opt func(*MCP2221)

// WithDeviceIndex selects one of several attached bridges.
func WithDeviceIndex(id int) MCP2221Opt {
	return func(d *MCP2221) {
		d.id = id
	}
}

func WithResponseWait(wait time.Duration) MCP2221Opt {
	return func(d *MCP2221) {
		d.responseWait = wait
	}
}

func NewMCP2221(opts ...MCP2221Opt) *MCP2221 {
	d := &MCP2221{
		request:      make([]byte, 64),
		response:     make([]byte, 64),
		responseWait: 50 * time.Millisecond,
		open:         openHID,
		id:           -1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func openHID(id int) (device, error) {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return nil, fmt.Errorf("MCP2221 device not found")
	}
	if id < 0 {
		if len(devs) > 1 {
			return nil, fmt.Errorf("ambiguous device identification")
		}
		id = 0
	}
	if id >= len(devs) {
		return nil, fmt.Errorf("no device with id %d", id)
	}
	dev, err := devs[id].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}

// Init checks that the bridge can be reached.
func (d *MCP2221) Init() error {
	_, err := d.Status(context.Background())
	return err
}

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.write(ctx, cmdWrite, address, buffer); err != nil {
		return fmt.Errorf("write to %x failed: %w", address, err)
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.read(ctx, cmdRead, address, buffer); err != nil {
		return fmt.Errorf("bus read from %x failed: %w", address, err)
	}
	return nil
}

// Tx writes w without a stop condition and reads r after a repeated start.
func (d *MCP2221) Tx(ctx context.Context, address byte, w, r []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if len(r) == 0 {
		if err := d.write(ctx, cmdWrite, address, w); err != nil {
			return fmt.Errorf("write to %x failed: %w", address, err)
		}
		return nil
	}
	if err := d.write(ctx, cmdWriteNoStop, address, w); err != nil {
		return fmt.Errorf("write to %x failed: %w", address, err)
	}
	if err := d.read(ctx, cmdReadRepeated, address, r); err != nil {
		return fmt.Errorf("repeated start read from %x failed: %w", address, err)
	}
	return nil
}

func (d *MCP2221) write(ctx context.Context, cmd, address byte, buffer []byte) error {
	if len(buffer) > maxPayload {
		return ErrPayloadTooLarge
	}
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	copy(d.request[4:], buffer)
	if err := d.send(ctx, true); err != nil {
		return err
	}
	if d.response[1] == respBusy {
		snsctx.Logger(ctx).Debug("adapter busy", "addr", address)
		return envdisplay.ErrBusBusy
	}
	return nil
}

func (d *MCP2221) read(ctx context.Context, cmd, address byte, buffer []byte) error {
	if len(buffer) > maxPayload {
		return ErrPayloadTooLarge
	}
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 + 1
	if err := d.send(ctx, true); err != nil {
		return err
	}
	if d.response[1] == respBusy {
		return envdisplay.ErrBusBusy
	}
	d.resetBuffers()
	d.request[0] = cmdGetData
	if err := d.send(ctx, true); err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == respGetDataFailure {
		return fmt.Errorf("%w: error reading the I2C slave data from the I2C engine", envdisplay.ErrNoAck)
	}
	if d.response[3] == respSizeInvalid || int(d.response[3]) != len(buffer) {
		return fmt.Errorf("%w: invalid data size byte; expected %d, got %d", envdisplay.ErrMalformed, len(buffer), d.response[3])
	}
	copy(buffer, d.response[4:])
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	if err := d.send(ctx, true); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
	*/
	status := &MCP2221Status{
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

// Release cancels the current I2C transfer and frees the bus.
func (d *MCP2221) Release(ctx context.Context) error {
	_, err := d.ReleaseBus(ctx)
	return err
}

func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = statusCancelI2C
	if err := d.send(ctx, true); err != nil {
		return nil, fmt.Errorf("release request failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return nil, ErrCommandFailed
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) send(ctx context.Context, response bool) error {
	dev, err := d.open(d.id)
	if err != nil {
		return err
	}
	defer func() {
		_ = dev.Close()
	}()
	logger := snsctx.Logger(ctx)
	verbose := snsctx.IsVerbose(ctx)
	if verbose {
		logger.Debug("sending message to adapter", "dump", hex.Dump(d.request))
	}
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("%w: could not write request: %w", envdisplay.ErrIO, err)
	}
	if n != 64 {
		return fmt.Errorf("%w: short write: %d", envdisplay.ErrIO, n)
	}
	if !response {
		return nil
	}
	if err := (envdisplay.SystemClock{}).Sleep(ctx, d.responseWait); err != nil {
		return fmt.Errorf("%w: %w", envdisplay.ErrTimeout, err)
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("%w: could not read response: %w", envdisplay.ErrIO, err)
	}
	if n != 64 {
		return fmt.Errorf("%w: short read: %d", envdisplay.ErrIO, n)
	}
	if verbose {
		logger.Debug("read message from adapter", "dump", hex.Dump(d.response))
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}
