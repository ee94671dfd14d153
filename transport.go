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

package sdcard

// Transport is the byte-level link to the card: a full-duplex SPI exchange
// plus control of the card's chip-select line. Implementations live under
// transport/ (periph.io SPI, Bus Pirate bridge) and internal/testing.
//
// Transfer blocks until the byte has been exchanged. No timeout is imposed
// by this package; a transport that never completes an exchange hangs its
// caller.
type Transport interface {
	// Transfer clocks out one byte and returns the byte clocked in
	Transfer(b byte) (byte, error)

	// Select asserts chip select (drives CS low)
	Select() error

	// Deselect releases chip select (drives CS high)
	Deselect() error

	// Close releases the underlying bus
	Close() error
}

// BulkTransferer is implemented by transports that can exchange a whole
// buffer in one bus transaction. tx and rx have equal length; rx may be nil.
// The bytes on the wire are the same as len(tx) calls to Transfer.
type BulkTransferer interface {
	TransferBlock(tx, rx []byte) error
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportSPI represents a native SPI bus
	TransportSPI TransportType = "spi"
	// TransportBusPirate represents a Bus Pirate USB-serial SPI bridge
	TransportBusPirate TransportType = "buspirate"
	// TransportMock represents a simulated card for testing
	TransportMock TransportType = "mock"
)
