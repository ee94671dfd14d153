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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC7(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{name: "empty data", data: []byte{}, want: 0x00},
		{name: "CMD0", data: []byte{0x40, 0x00, 0x00, 0x00, 0x00}, want: 0x4A},
		{name: "CMD8 check pattern", data: []byte{0x48, 0x00, 0x00, 0x01, 0xAA}, want: 0x43},
		{name: "CMD55", data: []byte{0x77, 0x00, 0x00, 0x00, 0x00}, want: 0x32},
		{name: "ACMD41 with HCS", data: []byte{0x69, 0x40, 0x00, 0x00, 0x00}, want: 0x3B},
		{name: "CMD58", data: []byte{0x7A, 0x00, 0x00, 0x00, 0x00}, want: 0x7E},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CRC7(tt.data))
		})
	}
}

func TestFixedCRCConstantsMatchCRC7(t *testing.T) {
	t.Parallel()

	idle := GoIdle().Bytes()
	assert.Equal(t, byte(GoIdleCRC), CRC7(idle[:5])<<1|1)

	ifCond := SendIfCond().Bytes()
	assert.Equal(t, byte(SendIfCondCRC), CRC7(ifCond[:5])<<1|1)
}

func TestCRC16(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint16(0), CRC16(nil))
	assert.Equal(t, uint16(0x7FA1), CRC16(bytes.Repeat([]byte{0xFF}, SectorSize)))
	assert.Equal(t, uint16(0x31C3), CRC16([]byte("123456789")))
}
