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

// Package frame encodes SD card SPI-mode command frames.
package frame

import (
	"encoding/binary"
	"fmt"
)

// Command is an immutable SD command frame.
type Command struct {
	arg   uint32
	index byte
	crc   byte
}

// New builds a command sent with CRC checking disabled.
func New(index byte, arg uint32) Command {
	return Command{index: index & IndexMask, arg: arg, crc: PlaceholderCRC >> 1}
}

// WithCRC builds a command carrying a precomputed 7-bit CRC.
func WithCRC(index byte, arg uint32, crc7 byte) Command {
	return Command{index: index & IndexMask, arg: arg, crc: crc7 & 0x7F}
}

// GoIdle returns the CMD0 frame with its fixed CRC.
func GoIdle() Command {
	return WithCRC(CmdGoIdleState, 0, GoIdleCRC>>1)
}

// SendIfCond returns the CMD8 frame with its fixed argument and CRC.
func SendIfCond() Command {
	return WithCRC(CmdSendIfCond, SendIfCondArg, SendIfCondCRC>>1)
}

// Index returns the 6-bit command index.
func (c Command) Index() byte { return c.index }

// Arg returns the 32-bit argument.
func (c Command) Arg() uint32 { return c.arg }

// CRC returns the 7-bit CRC field.
func (c Command) CRC() byte { return c.crc }

// Bytes returns the 6-byte wire form.
func (c Command) Bytes() [Size]byte {
	var b [Size]byte
	b[0] = StartBits | c.index
	binary.BigEndian.PutUint32(b[1:5], c.arg)
	b[5] = c.crc<<1 | 1
	return b
}

// String formats the frame as CMDn(arg).
func (c Command) String() string {
	return fmt.Sprintf("CMD%d(0x%08X)", c.index, c.arg)
}

// Parse decodes a 6-byte wire frame. It reports false when the start and
// transmission bits or the stop bit are wrong.
func Parse(b []byte) (Command, bool) {
	if len(b) < Size || b[0]&0xC0 != StartBits || b[5]&0x01 != 1 {
		return Command{}, false
	}
	return Command{
		index: b[0] & IndexMask,
		arg:   binary.BigEndian.Uint32(b[1:5]),
		crc:   b[5] >> 1,
	}, true
}
