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
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ZaparooProject/go-sdcard/internal/syncutil"
)

// DriveStatus is the FatFs-compatible drive status bitmask
type DriveStatus byte

const (
	// StatusNotInitialized is set until Initialize succeeds
	StatusNotInitialized DriveStatus = 0x01
	// StatusNoDisk reports no medium in the drive
	StatusNoDisk DriveStatus = 0x02
	// StatusWriteProtected reports the medium is write protected
	StatusWriteProtected DriveStatus = 0x04
)

func (s DriveStatus) String() string {
	if s == 0 {
		return "ready"
	}
	var out string
	add := func(flag DriveStatus, name string) {
		if s&flag == 0 {
			return
		}
		if out != "" {
			out += "|"
		}
		out += name
	}
	add(StatusNotInitialized, "not initialized")
	add(StatusNoDisk, "no disk")
	add(StatusWriteProtected, "write protected")
	return out
}

// Result is the FatFs-compatible outcome of a disk operation
type Result int

const (
	ResultOK Result = iota
	ResultError
	ResultWriteProtected
	ResultNotReady
	ResultParameter
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultError:
		return "error"
	case ResultWriteProtected:
		return "write protected"
	case ResultNotReady:
		return "not ready"
	case ResultParameter:
		return "invalid parameter"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// ResultOf maps an error returned by Disk to its FatFs result code
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrParameter):
		return ResultParameter
	case errors.Is(err, ErrNotReady):
		return ResultNotReady
	case errors.Is(err, ErrWriteProtected):
		return ResultWriteProtected
	default:
		return ResultError
	}
}

// IoctlCommand selects a Disk.Ioctl operation
type IoctlCommand byte

const (
	// IoctlSync flushes pending writes; writes are never cached, so it is a no-op
	IoctlSync IoctlCommand = 0
	// IoctlGetSectorCount reports the number of sectors on the drive
	IoctlGetSectorCount IoctlCommand = 1
	// IoctlGetSectorSize reports the sector size, always 512
	IoctlGetSectorSize IoctlCommand = 2
	// IoctlGetBlockSize reports the erase block size in sectors
	IoctlGetBlockSize IoctlCommand = 3
)

const (
	// Drive is the only drive number a Disk answers to
	Drive byte = 0
	// DefaultSectorCount is reported by IoctlGetSectorCount (4 GiB)
	DefaultSectorCount uint32 = 0x800000
	// EraseBlockSize is reported by IoctlGetBlockSize
	EraseBlockSize uint32 = 1
)

// DiskOption configures a Disk
type DiskOption func(*Disk) error

// WithCardOptions passes options through to the underlying Card
func WithCardOptions(opts ...CardOption) DiskOption {
	return func(d *Disk) error {
		d.cardOpts = append(d.cardOpts, opts...)
		return nil
	}
}

// WithWriteProtect marks the drive write protected
func WithWriteProtect() DiskOption {
	return func(d *Disk) error {
		d.writeProtected = true
		return nil
	}
}

// WithSectorCount overrides the sector count reported by Ioctl
func WithSectorCount(count uint32) DiskOption {
	return func(d *Disk) error {
		if count == 0 {
			return fmt.Errorf("%w: sector count must be positive", ErrParameter)
		}
		d.sectorCount = count
		return nil
	}
}

// WithClock makes CurrentTime report the clock's time instead of the fixed
// timestamp
func WithClock(clock func() time.Time) DiskOption {
	return func(d *Disk) error {
		d.clock = clock
		return nil
	}
}

// Disk adapts a card to the drive-level contract of a FAT filesystem
// library. It owns the card session and the drive status; both change only
// under its mutex.
type Disk struct {
	card           *Card
	session        *Session
	clock          func() time.Time
	cardOpts       []CardOption
	mu             syncutil.Mutex
	sectorCount    uint32
	status         DriveStatus
	writeProtected bool
}

// NewDisk creates a disk on the given transport. The card is not touched
// until Initialize.
func NewDisk(transport Transport, opts ...DiskOption) (*Disk, error) {
	disk := &Disk{
		sectorCount: DefaultSectorCount,
		status:      StatusNotInitialized,
	}
	for _, opt := range opts {
		if err := opt(disk); err != nil {
			return nil, err
		}
	}
	if disk.writeProtected {
		disk.status |= StatusWriteProtected
	}

	card, err := NewCard(transport, disk.cardOpts...)
	if err != nil {
		return nil, err
	}
	disk.card = card
	disk.session = NewSession()
	return disk, nil
}

func checkDrive(drive byte) error {
	if drive != Drive {
		return fmt.Errorf("%w: drive %d", ErrParameter, drive)
	}
	return nil
}

// Status returns the drive status. Unknown drives report not initialized.
func (d *Disk) Status(drive byte) DriveStatus {
	if checkDrive(drive) != nil {
		return StatusNotInitialized
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Session returns a snapshot of the current card session
func (d *Disk) Session() Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.session
}

// Initialize runs the card initialization sequence. On success the
// not-initialized flag is cleared; on failure it is set and the error
// carries the card's failure code. Calling it again re-runs the whole
// sequence, which is the only way to recover after a failure.
func (d *Disk) Initialize(ctx context.Context, drive byte) (DriveStatus, error) {
	if err := checkDrive(drive); err != nil {
		Debugf("disk: initialize: %v", err)
		return StatusNotInitialized, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	Debugf("disk: initializing drive %d", drive)
	session, err := d.card.Initialize(ctx)
	d.session = session
	if err != nil {
		d.status |= StatusNotInitialized
		return d.status, fmt.Errorf("initialize drive %d: %w", drive, err)
	}
	d.status &^= StatusNotInitialized
	Debugf("disk: drive %d ready: %s", drive, session)
	return d.status, nil
}

// checkTransfer validates a read or write request before any bus traffic
func (d *Disk) checkTransfer(drive byte, buf []byte, sector uint32, count uint) error {
	if err := checkDrive(drive); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: zero sector count", ErrParameter)
	}
	if uint64(len(buf)) < uint64(count)*SectorSize {
		return fmt.Errorf("%w: buffer holds %d bytes, need %d", ErrParameter, len(buf), uint64(count)*SectorSize)
	}
	if uint64(sector)+uint64(count)-1 > math.MaxUint32 {
		return fmt.Errorf("%w: sectors %d+%d overflow the address space", ErrParameter, sector, count)
	}
	return nil
}

// Read reads count consecutive sectors starting at sector into buf, one
// single-block command per sector. It stops at the first failing sector.
func (d *Disk) Read(ctx context.Context, drive byte, buf []byte, sector uint32, count uint) error {
	if err := d.checkTransfer(drive, buf, sector, count); err != nil {
		Debugf("disk: read: %v", err)
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status&StatusNotInitialized != 0 {
		Debugf("disk: read: drive %d not initialized", drive)
		return ErrNotReady
	}

	Debugf("disk: reading %d sector(s) from %d", count, sector)
	for i := range count {
		current := sector + uint32(i)
		off := i * SectorSize
		if err := d.card.ReadBlock(ctx, d.session, current, buf[off:off+SectorSize]); err != nil {
			Debugf("disk: read failed at sector %d: %v", current, err)
			return fmt.Errorf("read sector %d: %w", current, err)
		}
	}
	return nil
}

// Write writes count consecutive sectors starting at sector from buf, one
// single-block command per sector. It stops at the first failing sector.
func (d *Disk) Write(ctx context.Context, drive byte, buf []byte, sector uint32, count uint) error {
	if err := d.checkTransfer(drive, buf, sector, count); err != nil {
		Debugf("disk: write: %v", err)
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status&StatusNotInitialized != 0 {
		Debugf("disk: write: drive %d not initialized", drive)
		return ErrNotReady
	}
	if d.status&StatusWriteProtected != 0 {
		return ErrWriteProtected
	}

	Debugf("disk: writing %d sector(s) at %d", count, sector)
	for i := range count {
		current := sector + uint32(i)
		off := i * SectorSize
		if err := d.card.WriteBlock(ctx, d.session, current, buf[off:off+SectorSize]); err != nil {
			Debugf("disk: write failed at sector %d: %v", current, err)
			return fmt.Errorf("write sector %d: %w", current, err)
		}
	}
	return nil
}

// Ioctl answers drive geometry queries. The values do not depend on the
// card; IoctlGetSectorSize is always 512.
func (d *Disk) Ioctl(drive byte, cmd IoctlCommand) (uint32, error) {
	if err := checkDrive(drive); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status&StatusNotInitialized != 0 {
		return 0, ErrNotReady
	}

	switch cmd {
	case IoctlSync:
		return 0, nil
	case IoctlGetSectorCount:
		return d.sectorCount, nil
	case IoctlGetSectorSize:
		return SectorSize, nil
	case IoctlGetBlockSize:
		return EraseBlockSize, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedIoctl, cmd)
	}
}

// CurrentTime returns the packed timestamp stamped on filesystem metadata
func (d *Disk) CurrentTime() uint32 {
	if d.clock == nil {
		return PackTimestamp(FixedTimestamp)
	}
	return PackTimestamp(d.clock())
}

// Close closes the card's transport and marks the drive not initialized
func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.status |= StatusNotInitialized
	d.session = NewSession()
	return d.card.Close()
}
