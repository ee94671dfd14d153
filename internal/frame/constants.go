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

package frame

// Command indices used by the SPI-mode driver. Application commands (ACMDn)
// must be preceded by CmdAppCommand.
const (
	CmdGoIdleState      byte = 0  // CMD0
	CmdSendIfCond       byte = 8  // CMD8
	CmdSetBlockLen      byte = 16 // CMD16
	CmdReadSingleBlock  byte = 17 // CMD17
	CmdWriteSingleBlock byte = 24 // CMD24
	CmdAppCommand       byte = 55 // CMD55
	CmdReadOCR          byte = 58 // CMD58
	ACmdSendOpCond      byte = 41 // ACMD41
)

// Wire framing
const (
	// Size is the fixed length of a command frame on the wire.
	Size = 6
	// StartBits is OR'd into the first byte: start bit 0, transmission bit 1.
	StartBits = 0x40
	// IndexMask limits a command index to 6 bits.
	IndexMask = 0x3F
	// Filler is clocked out whenever the host only wants to read.
	Filler = 0xFF
)

// Fixed CRC bytes, computed offline. The card checks CRC on CMD0 and CMD8
// before SPI mode has turned CRC checking off.
const (
	GoIdleCRC     = 0x95
	SendIfCondCRC = 0x87
	// PlaceholderCRC is a zero CRC field with the stop bit set.
	PlaceholderCRC = 0x01
)

// SendIfCondArg selects the 2.7-3.6V range (0x1) with check pattern 0xAA.
const SendIfCondArg uint32 = 0x000001AA

// CheckPattern is the low byte of SendIfCondArg, echoed back in R7.
const CheckPattern = 0xAA

// HighCapacitySupport is the HCS bit of the ACMD41 argument.
const HighCapacitySupport uint32 = 1 << 30

// Data block framing
const (
	SectorSize       = 512
	StartBlockToken  = 0xFE
	DataCRCSize      = 2
	DataResponseMask = 0x1F
	DataAccepted     = 0x05
	DataCRCError     = 0x0B
	DataWriteError   = 0x0D
)
