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

// Package spi provides a periph.io SPI transport for SD cards
package spi

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	sdcard "github.com/ZaparooProject/go-sdcard"
	"github.com/ZaparooProject/go-sdcard/internal/syncutil"
)

const (
	// DefaultFrequency is the identification-mode clock every card accepts
	DefaultFrequency = 400 * physic.KiloHertz

	// SD cards sample on the rising edge with the clock idle low
	mode     = spi.Mode0
	bitsWord = 8
	filler   = 0xFF
)

// ChipSelect drives the card's chip select line. Low selects the card.
// gpio.PinIO satisfies it.
type ChipSelect interface {
	Out(l gpio.Level) error
}

type config struct {
	chipSelect string
	frequency  physic.Frequency
}

// Option configures a Transport
type Option func(*config)

// WithChipSelect drives chip select from the named GPIO pin instead of the
// controller's hardware CS line
func WithChipSelect(pin string) Option {
	return func(c *config) {
		c.chipSelect = pin
	}
}

// WithFrequency sets the bus clock
func WithFrequency(freq physic.Frequency) Option {
	return func(c *config) {
		c.frequency = freq
	}
}

// Transport implements sdcard.Transport on a periph.io SPI port.
//
// With a GPIO chip select the pin is driven directly and the controller's
// own CS is disabled. Without one, the hardware CS line is held asserted
// between transfers while the card is selected; Deselect then clocks one
// filler byte to release it, and bytes exchanged while deselected briefly
// assert CS.
type Transport struct {
	port     spi.PortCloser
	conn     spi.Conn
	cs       ChipSelect
	scratch  []byte
	portName string
	mu       syncutil.Mutex
	selected bool
	closed   bool
}

// New opens an SPI port by name ("" picks the first one registered) and
// connects at DefaultFrequency in mode 0
func New(portName string, opts ...Option) (*Transport, error) {
	cfg := config{frequency: DefaultFrequency}
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	var cs ChipSelect
	spiMode := mode
	if cfg.chipSelect != "" {
		pin := gpioreg.ByName(cfg.chipSelect)
		if pin == nil {
			return nil, fmt.Errorf("chip select pin %q not found", cfg.chipSelect)
		}
		cs = pin
		spiMode |= spi.NoCS
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	conn, err := port.Connect(cfg.frequency, spiMode, bitsWord)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	t := newTransport(port, conn, cs, port.String())
	if cs != nil {
		if err := cs.Out(gpio.High); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("failed to release chip select: %w", err)
		}
	}
	sdcard.Debugf("spi: opened %s at %s", t.portName, cfg.frequency)
	return t, nil
}

func newTransport(port spi.PortCloser, conn spi.Conn, cs ChipSelect, name string) *Transport {
	return &Transport{
		port:     port,
		conn:     conn,
		cs:       cs,
		portName: name,
	}
}

// Transfer exchanges one byte
func (t *Transport) Transfer(b byte) (byte, error) {
	var rx [1]byte
	if err := t.TransferBlock([]byte{b}, rx[:]); err != nil {
		return filler, err
	}
	return rx[0], nil
}

// TransferBlock exchanges tx in one bus transaction. rx may be nil.
func (t *Transport) TransferBlock(tx, rx []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return sdcard.NewTransportClosedError("transfer", t.portName)
	}
	if rx == nil {
		if cap(t.scratch) < len(tx) {
			t.scratch = make([]byte, len(tx))
		}
		rx = t.scratch[:len(tx)]
	}

	var err error
	if t.cs == nil && t.selected {
		err = t.conn.TxPackets([]spi.Packet{{W: tx, R: rx, KeepCS: true}})
	} else {
		err = t.conn.Tx(tx, rx)
	}
	if err != nil {
		return sdcard.NewTransportError("transfer", t.portName,
			fmt.Errorf("%w: %w", sdcard.ErrTransportRead, err), sdcard.ErrorTypeTransient)
	}
	return nil
}

// Select asserts chip select
func (t *Transport) Select() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return sdcard.NewTransportClosedError("select", t.portName)
	}
	if t.cs != nil {
		if err := t.cs.Out(gpio.Low); err != nil {
			return sdcard.NewTransportError("select", t.portName,
				fmt.Errorf("%w: %w", sdcard.ErrTransportWrite, err), sdcard.ErrorTypeTransient)
		}
	}
	t.selected = true
	return nil
}

// Deselect releases chip select
func (t *Transport) Deselect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return sdcard.NewTransportClosedError("deselect", t.portName)
	}
	return t.release()
}

func (t *Transport) release() error {
	wasSelected := t.selected
	t.selected = false

	if t.cs != nil {
		if err := t.cs.Out(gpio.High); err != nil {
			return sdcard.NewTransportError("deselect", t.portName,
				fmt.Errorf("%w: %w", sdcard.ErrTransportWrite, err), sdcard.ErrorTypeTransient)
		}
		return nil
	}
	if !wasSelected {
		return nil
	}

	// The hardware line drops at the end of a packet without KeepCS
	var rx [1]byte
	if err := t.conn.Tx([]byte{filler}, rx[:]); err != nil {
		return sdcard.NewTransportError("deselect", t.portName,
			fmt.Errorf("%w: %w", sdcard.ErrTransportWrite, err), sdcard.ErrorTypeTransient)
	}
	return nil
}

// Close releases chip select and closes the port
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var result *multierror.Error
	if err := t.release(); err != nil {
		result = multierror.Append(result, err)
	}
	if t.port != nil {
		if err := t.port.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("SPI close failed: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// IsConnected returns true if the transport has not been closed
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil && !t.closed
}

// String returns the port name
func (t *Transport) String() string {
	return t.portName
}

// Type returns the transport type
func (*Transport) Type() sdcard.TransportType {
	return sdcard.TransportSPI
}

var (
	_ sdcard.Transport      = (*Transport)(nil)
	_ sdcard.BulkTransferer = (*Transport)(nil)
)
