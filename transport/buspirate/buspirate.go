// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package buspirate drives an SD card through a Bus Pirate's binary SPI
// mode over its USB serial port
package buspirate

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.bug.st/serial"

	sdcard "github.com/ZaparooProject/go-sdcard"
	"github.com/ZaparooProject/go-sdcard/internal/syncutil"
)

// Speed is a Bus Pirate SPI clock setting
type Speed byte

// SPI clock settings understood by the binary mode
const (
	Speed30kHz Speed = iota
	Speed125kHz
	Speed250kHz
	Speed1MHz
	Speed2MHz
	Speed2600kHz
	Speed4MHz
	Speed8MHz
)

func (s Speed) String() string {
	switch s {
	case Speed30kHz:
		return "30kHz"
	case Speed125kHz:
		return "125kHz"
	case Speed250kHz:
		return "250kHz"
	case Speed1MHz:
		return "1MHz"
	case Speed2MHz:
		return "2MHz"
	case Speed2600kHz:
		return "2.6MHz"
	case Speed4MHz:
		return "4MHz"
	case Speed8MHz:
		return "8MHz"
	default:
		return fmt.Sprintf("Speed(%d)", byte(s))
	}
}

const (
	// DefaultSpeed stays below the 400kHz identification-mode limit
	DefaultSpeed = Speed250kHz

	// DefaultReadTimeout bounds each reply from the bridge
	DefaultReadTimeout = 100 * time.Millisecond

	baudRate = 115200

	cmdReset       = 0x00
	cmdEnterSPI    = 0x01
	cmdCSLow       = 0x02
	cmdCSHigh      = 0x03
	cmdExitBinary  = 0x0F
	cmdBulk        = 0x10
	cmdPeripherals = 0x40
	cmdSpeed       = 0x60
	cmdConfig      = 0x80

	// power on, CS idle high
	peripheralsOn = 0x09
	// 3.3V push-pull outputs, clock idle low, data out on the active-to-idle
	// edge, sample in the middle: SPI mode 0
	configMode0 = 0x0A

	ack         = 0x01
	maxBulk     = 16
	resetTries  = 20
	filler      = 0xFF
	bitbangSync = "BBIO1"
	spiSync     = "SPI1"
)

// ErrNoBridge is returned when the device never answers the binary-mode
// handshake
var ErrNoBridge = errors.New("no Bus Pirate binary mode response")

// ErrNak is returned when the bridge rejects a command
var ErrNak = errors.New("bus pirate rejected command")

type config struct {
	speed       Speed
	readTimeout time.Duration
}

// Option configures a Transport
type Option func(*config)

// WithSpeed sets the SPI clock
func WithSpeed(s Speed) Option {
	return func(c *config) {
		c.speed = s
	}
}

// WithReadTimeout sets how long to wait for each reply from the bridge
func WithReadTimeout(d time.Duration) Option {
	return func(c *config) {
		c.readTimeout = d
	}
}

// Transport implements sdcard.Transport on a Bus Pirate in binary SPI mode.
// Every exchange is a bulk transfer of up to 16 bytes; the bridge answers
// each one with an ack followed by the bytes clocked in.
type Transport struct {
	port     serial.Port
	portName string
	mu       syncutil.Mutex
	speed    Speed
	selected bool
	closed   bool
}

// New opens the Bus Pirate on the given serial port and switches it into
// binary SPI mode
func New(portName string, opts ...Option) (*Transport, error) {
	cfg := config{speed: DefaultSpeed, readTimeout: DefaultReadTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open Bus Pirate port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(cfg.readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set Bus Pirate read timeout: %w", err)
	}

	t, err := open(port, portName, cfg.speed)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return t, nil
}

// open runs the binary-mode handshake on an already opened port
func open(port serial.Port, name string, speed Speed) (*Transport, error) {
	t := &Transport{port: port, portName: name, speed: speed}
	if err := t.enterSPI(); err != nil {
		return nil, err
	}
	sdcard.Debugf("buspirate: %s in SPI mode at %s", name, speed)
	return t, nil
}

func (t *Transport) enterSPI() error {
	if err := t.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to reset Bus Pirate input: %w", err)
	}

	synced := false
	reply := make([]byte, len(bitbangSync))
	for range resetTries {
		if err := t.write([]byte{cmdReset}); err != nil {
			return err
		}
		n, err := t.readUpTo(reply)
		if err != nil {
			return err
		}
		if bytes.Contains(reply[:n], []byte(bitbangSync)) {
			synced = true
			break
		}
	}
	if !synced {
		return sdcard.NewTransportError("handshake", t.portName, ErrNoBridge, sdcard.ErrorTypePermanent)
	}
	// Replies to the extra resets may still be in flight
	if err := t.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to reset Bus Pirate input: %w", err)
	}

	if err := t.write([]byte{cmdEnterSPI}); err != nil {
		return err
	}
	mode := make([]byte, len(spiSync))
	if err := t.readFull("handshake", mode); err != nil {
		return err
	}
	if string(mode) != spiSync {
		return sdcard.NewTransportError("handshake", t.portName,
			fmt.Errorf("%w: got %q", ErrNoBridge, mode), sdcard.ErrorTypePermanent)
	}

	for _, cmd := range []byte{
		cmdConfig | configMode0,
		cmdSpeed | byte(t.speed),
		cmdPeripherals | peripheralsOn,
	} {
		if err := t.command("configure", cmd); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) write(data []byte) error {
	n, err := t.port.Write(data)
	if err != nil {
		return sdcard.NewTransportError("write", t.portName,
			fmt.Errorf("%w: %w", sdcard.ErrTransportWrite, err), sdcard.ErrorTypeTransient)
	}
	if n != len(data) {
		return sdcard.NewTransportWriteError("write", t.portName)
	}
	return nil
}

// readUpTo collects bytes until buf is full or the port goes quiet
func (t *Transport) readUpTo(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := t.port.Read(buf[total:])
		if err != nil {
			return total, sdcard.NewTransportError("read", t.portName,
				fmt.Errorf("%w: %w", sdcard.ErrTransportRead, err), sdcard.ErrorTypeTransient)
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

// readFull reads exactly len(buf) bytes; a read timeout means the bridge
// stopped answering
func (t *Transport) readFull(op string, buf []byte) error {
	n, err := t.readUpTo(buf)
	if err != nil {
		return err
	}
	if n < len(buf) {
		return sdcard.NewTransportNotReadyError(op, t.portName)
	}
	return nil
}

// command sends a one-byte command and expects the ack
func (t *Transport) command(op string, cmd byte) error {
	if err := t.write([]byte{cmd}); err != nil {
		return err
	}
	var reply [1]byte
	if err := t.readFull(op, reply[:]); err != nil {
		return err
	}
	if reply[0] != ack {
		return sdcard.NewTransportError(op, t.portName,
			fmt.Errorf("%w: command 0x%02X answered 0x%02X", ErrNak, cmd, reply[0]),
			sdcard.ErrorTypeTransient)
	}
	return nil
}

// Transfer exchanges one byte
func (t *Transport) Transfer(b byte) (byte, error) {
	var rx [1]byte
	if err := t.TransferBlock([]byte{b}, rx[:]); err != nil {
		return filler, err
	}
	return rx[0], nil
}

// TransferBlock exchanges tx in chunks of up to 16 bytes. rx may be nil.
func (t *Transport) TransferBlock(tx, rx []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return sdcard.NewTransportClosedError("transfer", t.portName)
	}

	packet := make([]byte, 0, maxBulk+1)
	reply := make([]byte, maxBulk+1)
	for off := 0; off < len(tx); off += maxBulk {
		chunk := tx[off:min(off+maxBulk, len(tx))]
		packet = append(packet[:0], cmdBulk|byte(len(chunk)-1))
		packet = append(packet, chunk...)
		if err := t.write(packet); err != nil {
			return err
		}

		in := reply[:len(chunk)+1]
		if err := t.readFull("transfer", in); err != nil {
			return err
		}
		if in[0] != ack {
			return sdcard.NewTransportError("transfer", t.portName,
				fmt.Errorf("%w: bulk transfer answered 0x%02X", ErrNak, in[0]),
				sdcard.ErrorTypeTransient)
		}
		if rx != nil {
			copy(rx[off:], in[1:])
		}
	}
	return nil
}

// Select drives CS low
func (t *Transport) Select() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return sdcard.NewTransportClosedError("select", t.portName)
	}
	if err := t.command("select", cmdCSLow); err != nil {
		return err
	}
	t.selected = true
	return nil
}

// Deselect drives CS high
func (t *Transport) Deselect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return sdcard.NewTransportClosedError("deselect", t.portName)
	}
	if err := t.command("deselect", cmdCSHigh); err != nil {
		return err
	}
	t.selected = false
	return nil
}

// Close releases CS, returns the bridge to its terminal and closes the port
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var result *multierror.Error
	if t.selected {
		if err := t.command("deselect", cmdCSHigh); err != nil {
			result = multierror.Append(result, err)
		}
		t.selected = false
	}
	if err := t.write([]byte{cmdReset, cmdExitBinary}); err != nil {
		result = multierror.Append(result, err)
	}
	if err := t.port.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("Bus Pirate close failed: %w", err))
	}
	return result.ErrorOrNil()
}

// IsConnected returns true if the transport has not been closed
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// String returns the serial port name
func (t *Transport) String() string {
	return t.portName
}

// Type returns the transport type
func (*Transport) Type() sdcard.TransportType {
	return sdcard.TransportBusPirate
}

// IsBusPirate reports whether a USB product string looks like a Bus Pirate
func IsBusPirate(product string) bool {
	p := strings.ToLower(product)
	return strings.Contains(p, "bus pirate") || strings.Contains(p, "buspirate")
}

var (
	_ sdcard.Transport      = (*Transport)(nil)
	_ sdcard.BulkTransferer = (*Transport)(nil)
)
