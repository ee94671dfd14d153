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

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/ZaparooProject/go-sdcard/internal/frame"
)

// State is the position of a card in the initialization sequence
type State int

const (
	StateUninitialized State = iota
	StatePoweredUp
	StateResetAcknowledged
	StateVoltageChecked
	StateNegotiating
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StatePoweredUp:
		return "powered up"
	case StateResetAcknowledged:
		return "reset acknowledged"
	case StateVoltageChecked:
		return "voltage checked"
	case StateNegotiating:
		return "negotiating"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CardVersion distinguishes cards that understand CMD8 from legacy ones
type CardVersion int

const (
	CardVersionUnknown CardVersion = iota
	// CardVersion1 rejected CMD8 as an illegal command
	CardVersion1
	// CardVersion2 accepted CMD8
	CardVersion2
)

func (v CardVersion) String() string {
	switch v {
	case CardVersion1:
		return "SD v1"
	case CardVersion2:
		return "SD v2+"
	default:
		return "unknown"
	}
}

// Addressing is the unit of the argument to CMD17 and CMD24
type Addressing int

const (
	// AddressBlock addresses sectors by index (high-capacity cards)
	AddressBlock Addressing = iota
	// AddressByte addresses sectors by byte offset (standard-capacity cards)
	AddressByte
)

func (a Addressing) String() string {
	if a == AddressByte {
		return "byte"
	}
	return "block"
}

// OCR register bits
const (
	ocrPowerUpDone uint32 = 1 << 31
	ocrCCS         uint32 = 1 << 30
	ocrVoltageLow         = 15 // 2.7-2.8V
	ocrVoltageHigh        = 23 // 3.5-3.6V
)

// Session is the state of one card from mount onward. It is created by
// Card.Initialize, advanced only by the initialization sequence, and owned by
// the Disk that mounted the card.
type Session struct {
	IfCondEcho   [4]byte
	State        State
	Version      CardVersion
	Addressing   Addressing
	OCR          uint32
	LastResponse byte
	FailCode     byte
	OCRValid     bool
}

// NewSession returns a session in the uninitialized state
func NewSession() *Session {
	return &Session{
		State:        StateUninitialized,
		LastResponse: frame.Filler,
	}
}

// Ready returns true once initialization has completed
func (s *Session) Ready() bool {
	return s != nil && s.State == StateReady
}

// HighCapacity returns true if the card reported CCS in its OCR
func (s *Session) HighCapacity() bool {
	return s.OCRValid && s.OCR&ocrCCS != 0
}

// VoltageRange decodes the OCR voltage window in millivolts.
func (s *Session) VoltageRange() (minMilliVolts, maxMilliVolts int, ok bool) {
	if !s.OCRValid {
		return 0, 0, false
	}
	window := (s.OCR >> ocrVoltageLow) & (1<<(ocrVoltageHigh-ocrVoltageLow+1) - 1)
	if window == 0 {
		return 0, 0, false
	}
	low := bits.TrailingZeros32(window)
	high := 31 - bits.LeadingZeros32(window)
	return 2700 + 100*low, 2800 + 100*high, true
}

// String summarizes the session for logs
func (s *Session) String() string {
	if s.State == StateFailed {
		return fmt.Sprintf("%s (code 0x%02X: %s)", s.State, s.FailCode, DescribeResponse(s.FailCode))
	}
	if s.State != StateReady {
		return s.State.String()
	}
	capacity := "standard capacity"
	if s.Addressing == AddressBlock {
		capacity = "high capacity"
	}
	out := fmt.Sprintf("%s, %s, %s, %s addressing", s.State, s.Version, capacity, s.Addressing)
	if lo, hi, ok := s.VoltageRange(); ok {
		out += fmt.Sprintf(", %d.%d-%d.%dV", lo/1000, lo%1000/100, hi/1000, hi%1000/100)
	}
	return out
}

func (s *Session) transition(next State) {
	Debugf("card: %s -> %s", s.State, next)
	s.State = next
}

func (s *Session) fail(code byte) {
	Debugf("card: %s -> %s (code 0x%02X)", s.State, StateFailed, code)
	s.State = StateFailed
	s.FailCode = code
	s.LastResponse = code
}

// address converts a sector number to the command argument the card expects
func (s *Session) address(sector uint32) (uint32, error) {
	if s.Addressing == AddressBlock {
		return sector, nil
	}
	if sector > math.MaxUint32/frame.SectorSize {
		return 0, fmt.Errorf("%w: sector %d beyond byte-addressable range", ErrParameter, sector)
	}
	return sector * frame.SectorSize, nil
}
