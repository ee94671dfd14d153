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
	"context"
	"fmt"
	"math"
)

// Volume presents one drive of a Disk with the method set Go bindings for
// FatFs expect of a block device, plus io.ReaderAt and io.WriterAt for
// sector-aligned access.
type Volume struct {
	disk  *Disk
	drive byte
}

// NewVolume wraps a drive of disk
func NewVolume(disk *Disk, drive byte) *Volume {
	return &Volume{disk: disk, drive: drive}
}

// Initialize mounts the card
func (v *Volume) Initialize() error {
	_, err := v.disk.Initialize(context.Background(), v.drive)
	return err
}

// Status returns ErrNotReady until the card is initialized
func (v *Volume) Status() error {
	if v.disk.Status(v.drive)&StatusNotInitialized != 0 {
		return ErrNotReady
	}
	return nil
}

// ReadSectors reads count sectors starting at sector into buff
func (v *Volume) ReadSectors(sector uint64, count uint32, buff []byte) error {
	if sector > math.MaxUint32 {
		return fmt.Errorf("%w: sector %d", ErrParameter, sector)
	}
	return v.disk.Read(context.Background(), v.drive, buff, uint32(sector), uint(count))
}

// WriteSectors writes count sectors starting at sector from buff
func (v *Volume) WriteSectors(sector uint64, count uint32, buff []byte) error {
	if sector > math.MaxUint32 {
		return fmt.Errorf("%w: sector %d", ErrParameter, sector)
	}
	return v.disk.Write(context.Background(), v.drive, buff, uint32(sector), uint(count))
}

// GetSectorSize returns the sector size in bytes
func (v *Volume) GetSectorSize() uint64 {
	size, err := v.disk.Ioctl(v.drive, IoctlGetSectorSize)
	if err != nil {
		return SectorSize
	}
	return uint64(size)
}

// GetSectorCount returns the number of sectors, or zero if the drive is not
// ready
func (v *Volume) GetSectorCount() uint64 {
	count, err := v.disk.Ioctl(v.drive, IoctlGetSectorCount)
	if err != nil {
		return 0
	}
	return uint64(count)
}

// ReadAt implements io.ReaderAt. off and len(p) must be sector aligned.
func (v *Volume) ReadAt(p []byte, off int64) (int, error) {
	sector, count, err := alignedRange(p, off)
	if err != nil || count == 0 {
		return 0, err
	}
	if err := v.disk.Read(context.Background(), v.drive, p, sector, count); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteAt implements io.WriterAt. off and len(p) must be sector aligned.
func (v *Volume) WriteAt(p []byte, off int64) (int, error) {
	sector, count, err := alignedRange(p, off)
	if err != nil || count == 0 {
		return 0, err
	}
	if err := v.disk.Write(context.Background(), v.drive, p, sector, count); err != nil {
		return 0, err
	}
	return len(p), nil
}

func alignedRange(p []byte, off int64) (sector uint32, count uint, err error) {
	if off < 0 || off%SectorSize != 0 || len(p)%SectorSize != 0 {
		return 0, 0, fmt.Errorf("%w: offset %d length %d not sector aligned", ErrParameter, off, len(p))
	}
	if off/SectorSize > math.MaxUint32 {
		return 0, 0, fmt.Errorf("%w: offset %d beyond address space", ErrParameter, off)
	}
	return uint32(off / SectorSize), uint(len(p) / SectorSize), nil
}
