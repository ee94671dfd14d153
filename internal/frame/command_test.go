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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBytes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cmd  Command
		want [Size]byte
	}{
		{
			name: "go idle uses fixed CRC",
			cmd:  GoIdle(),
			want: [Size]byte{0x40, 0x00, 0x00, 0x00, 0x00, 0x95},
		},
		{
			name: "send if cond uses fixed CRC",
			cmd:  SendIfCond(),
			want: [Size]byte{0x48, 0x00, 0x00, 0x01, 0xAA, 0x87},
		},
		{
			name: "read block argument is big-endian",
			cmd:  New(CmdReadSingleBlock, 0x12345678),
			want: [Size]byte{0x51, 0x12, 0x34, 0x56, 0x78, PlaceholderCRC},
		},
		{
			name: "op cond carries HCS",
			cmd:  New(ACmdSendOpCond, HighCapacitySupport),
			want: [Size]byte{0x69, 0x40, 0x00, 0x00, 0x00, PlaceholderCRC},
		},
		{
			name: "index is masked to six bits",
			cmd:  New(0xFF, 0),
			want: [Size]byte{0x7F, 0x00, 0x00, 0x00, 0x00, PlaceholderCRC},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cmd.Bytes())
		})
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	wire := New(CmdWriteSingleBlock, 0xDEADBEEF).Bytes()
	cmd, ok := Parse(wire[:])
	require.True(t, ok)
	assert.Equal(t, CmdWriteSingleBlock, cmd.Index())
	assert.Equal(t, uint32(0xDEADBEEF), cmd.Arg())
	assert.Equal(t, "CMD24(0xDEADBEEF)", cmd.String())

	_, ok = Parse([]byte{0xFF, 0, 0, 0, 0, 0x01})
	assert.False(t, ok, "missing start bit")

	_, ok = Parse([]byte{0x40, 0, 0, 0, 0, 0x94})
	assert.False(t, ok, "missing stop bit")

	_, ok = Parse([]byte{0x40, 0, 0})
	assert.False(t, ok, "short frame")
}
