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
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-sdcard/internal/frame"
	virt "github.com/ZaparooProject/go-sdcard/internal/testing"
)

var (
	_ io.ReaderAt = (*Volume)(nil)
	_ io.WriterAt = (*Volume)(nil)
)

func TestVolume_Lifecycle(t *testing.T) {
	t.Parallel()
	disk, _ := newTestDisk(t, virt.SDHCProfile())
	vol := NewVolume(disk, Drive)

	require.ErrorIs(t, vol.Status(), ErrNotReady)
	assert.Zero(t, vol.GetSectorCount())
	assert.Equal(t, uint64(SectorSize), vol.GetSectorSize())

	require.NoError(t, vol.Initialize())
	require.NoError(t, vol.Status())
	assert.Equal(t, uint64(DefaultSectorCount), vol.GetSectorCount())
	assert.Equal(t, uint64(512), vol.GetSectorSize())
}

func TestVolume_Sectors(t *testing.T) {
	t.Parallel()
	disk, sim := newReadyDisk(t, virt.SDSCProfile())
	vol := NewVolume(disk, Drive)
	data := pattern(0x11, 2)

	require.NoError(t, vol.WriteSectors(40, 2, data))
	got := make([]byte, len(data))
	require.NoError(t, vol.ReadSectors(40, 2, got))

	assert.Equal(t, data, got)
	assert.Equal(t, []uint32{40 * SectorSize, 41 * SectorSize}, commandArgs(sim, frame.CmdWriteSingleBlock))

	require.ErrorIs(t, vol.ReadSectors(math.MaxUint32+1, 1, got), ErrParameter)
	require.ErrorIs(t, vol.WriteSectors(math.MaxUint32+1, 1, got), ErrParameter)
}

func TestVolume_ReaderAtWriterAt(t *testing.T) {
	t.Parallel()
	disk, sim := newReadyDisk(t, virt.SDHCProfile())
	vol := NewVolume(disk, Drive)
	data := pattern(0x42, 3)

	n, err := vol.WriteAt(data, 6*SectorSize)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data[:SectorSize], sim.Block(6))

	got := make([]byte, len(data))
	n, err = vol.ReadAt(got, 6*SectorSize)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, got)

	n, err = vol.ReadAt(nil, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVolume_Alignment(t *testing.T) {
	t.Parallel()
	disk, sim := newReadyDisk(t, virt.SDHCProfile())
	vol := NewVolume(disk, Drive)

	tests := []struct {
		name string
		buf  []byte
		off  int64
	}{
		{name: "unaligned offset", buf: make([]byte, SectorSize), off: 100},
		{name: "unaligned length", buf: make([]byte, SectorSize+1), off: 0},
		{name: "negative offset", buf: make([]byte, SectorSize), off: -SectorSize},
		{name: "beyond address space", buf: make([]byte, SectorSize), off: (math.MaxUint32 + 1) * SectorSize},
	}

	for _, tt := range tests {
		_, err := vol.ReadAt(tt.buf, tt.off)
		require.ErrorIs(t, err, ErrParameter, tt.name)
		_, err = vol.WriteAt(tt.buf, tt.off)
		require.ErrorIs(t, err, ErrParameter, tt.name)
	}
	assert.Empty(t, sim.Commands())
}
