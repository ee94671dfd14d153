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

package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	sdcard "github.com/ZaparooProject/go-sdcard"
	"github.com/ZaparooProject/go-sdcard/detection"
)

// maxChunk bounds how many sectors a command moves per Disk call
const maxChunk = 64

var errUsage = errors.New("wrong number of arguments")

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "info",
			Usage:  "Initialize the card and describe it",
			Action: runInfo,
		},
		{
			Name:      "read",
			Usage:     "Hex dump sectors",
			ArgsUsage: "SECTOR [COUNT]",
			Action:    runRead,
		},
		{
			Name:      "dump",
			Usage:     "Copy sectors into a file",
			ArgsUsage: "OUTPUT",
			Flags: []cli.Flag{
				&cli.UintFlag{Name: "start", Usage: "first sector"},
				&cli.UintFlag{Name: "count", Value: 1, Usage: "number of sectors"},
			},
			Action: runDump,
		},
		{
			Name:      "write",
			Usage:     "Write a file to the card starting at a sector",
			ArgsUsage: "SECTOR FILE",
			Action:    runWrite,
		},
		{
			Name:  "verify",
			Usage: "Write test patterns to a scratch sector and read them back",
			Flags: []cli.Flag{
				&cli.UintFlag{Name: "sector", Value: 2048, Usage: "scratch sector; its contents are restored"},
			},
			Action: runVerify,
		},
		{
			Name:  "detect",
			Usage: "List buses with a card attached",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "mode", Value: "safe", Usage: "passive, safe or full"},
			},
			Action: runDetect,
		},
	}
}

func parseSector(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid sector %q: %w", s, err)
	}
	return uint32(v), nil
}

// withDisk mounts the card for the duration of fn
func withDisk(c *cli.Context, fn func(*sdcard.Disk) error) (err error) {
	disk, err := mount(c)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := disk.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close card: %w", closeErr)
		}
	}()
	return fn(disk)
}

// forChunks walks count sectors from start in runs of at most maxChunk
func forChunks(start uint32, count uint, fn func(sector uint32, n uint) error) error {
	for done := uint(0); done < count; {
		n := min(count-done, maxChunk)
		if err := fn(start+uint32(done), n); err != nil {
			return err
		}
		done += n
	}
	return nil
}

func runInfo(c *cli.Context) error {
	return withDisk(c, func(disk *sdcard.Disk) error {
		session := disk.Session()
		out := c.App.Writer
		_, _ = fmt.Fprintf(out, "Card:       %s\n", &session)
		_, _ = fmt.Fprintf(out, "Version:    %s\n", session.Version)
		_, _ = fmt.Fprintf(out, "Addressing: %s\n", session.Addressing)
		if session.OCRValid {
			_, _ = fmt.Fprintf(out, "OCR:        0x%08X\n", session.OCR)
		}
		size, err := disk.Ioctl(sdcard.Drive, sdcard.IoctlGetSectorSize)
		if err != nil {
			return err
		}
		block, err := disk.Ioctl(sdcard.Drive, sdcard.IoctlGetBlockSize)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Sector:     %d bytes\n", size)
		_, _ = fmt.Fprintf(out, "Erase:      %d sectors\n", block)
		return nil
	})
}

func runRead(c *cli.Context) error {
	if c.NArg() < 1 || c.NArg() > 2 {
		return fmt.Errorf("%w: read SECTOR [COUNT]", errUsage)
	}
	start, err := parseSector(c.Args().Get(0))
	if err != nil {
		return err
	}
	count := uint(1)
	if c.NArg() == 2 {
		n, err := strconv.ParseUint(c.Args().Get(1), 0, 16)
		if err != nil || n == 0 {
			return fmt.Errorf("invalid count %q", c.Args().Get(1))
		}
		count = uint(n)
	}

	return withDisk(c, func(disk *sdcard.Disk) error {
		buf := make([]byte, maxChunk*sdcard.SectorSize)
		return forChunks(start, count, func(sector uint32, n uint) error {
			data := buf[:n*sdcard.SectorSize]
			if err := disk.Read(c.Context, sdcard.Drive, data, sector, n); err != nil {
				return err
			}
			for i := range n {
				_, _ = fmt.Fprintf(c.App.Writer, "sector %d:\n%s", sector+uint32(i),
					hex.Dump(data[i*sdcard.SectorSize:(i+1)*sdcard.SectorSize]))
			}
			return nil
		})
	})
}

func runDump(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("%w: dump OUTPUT", errUsage)
	}
	start := uint32(c.Uint("start"))
	count := c.Uint("count")

	out, err := files.Create(c.Args().First())
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer func() { _ = out.Close() }()

	err = withDisk(c, func(disk *sdcard.Disk) error {
		buf := make([]byte, maxChunk*sdcard.SectorSize)
		return forChunks(start, count, func(sector uint32, n uint) error {
			data := buf[:n*sdcard.SectorSize]
			if err := disk.Read(c.Context, sdcard.Drive, data, sector, n); err != nil {
				return err
			}
			_, err := out.Write(data)
			return err
		})
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.App.Writer, "Dumped %d sectors from %d to %s\n", count, start, c.Args().First())
	return out.Close()
}

func runWrite(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("%w: write SECTOR FILE", errUsage)
	}
	start, err := parseSector(c.Args().Get(0))
	if err != nil {
		return err
	}
	data, err := afero.ReadFile(files, c.Args().Get(1))
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if len(data) == 0 {
		return errors.New("input file is empty")
	}
	// Pad the tail sector with zeros
	if rem := len(data) % sdcard.SectorSize; rem != 0 {
		data = append(data, make([]byte, sdcard.SectorSize-rem)...)
	}
	count := uint(len(data) / sdcard.SectorSize)

	err = withDisk(c, func(disk *sdcard.Disk) error {
		return forChunks(start, count, func(sector uint32, n uint) error {
			off := uint(sector-start) * sdcard.SectorSize
			return disk.Write(c.Context, sdcard.Drive, data[off:off+n*sdcard.SectorSize], sector, n)
		})
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.App.Writer, "Wrote %d sectors at %d\n", count, start)
	return nil
}

var verifyPatterns = []byte{0x00, 0xFF, 0x55, 0xAA}

func runVerify(c *cli.Context) error {
	sector := uint32(c.Uint("sector"))

	return withDisk(c, func(disk *sdcard.Disk) error {
		original := make([]byte, sdcard.SectorSize)
		if err := disk.Read(c.Context, sdcard.Drive, original, sector, 1); err != nil {
			return fmt.Errorf("failed to save sector %d: %w", sector, err)
		}

		var result *multierror.Error
		got := make([]byte, sdcard.SectorSize)
		for _, p := range verifyPatterns {
			want := bytes.Repeat([]byte{p}, sdcard.SectorSize)
			// Vary the content so a stuck address line shows up
			want[0], want[sdcard.SectorSize-1] = byte(sector), byte(sector>>8)
			if err := disk.Write(c.Context, sdcard.Drive, want, sector, 1); err != nil {
				result = multierror.Append(result, fmt.Errorf("pattern 0x%02X: write: %w", p, err))
				continue
			}
			if err := disk.Read(c.Context, sdcard.Drive, got, sector, 1); err != nil {
				result = multierror.Append(result, fmt.Errorf("pattern 0x%02X: read: %w", p, err))
				continue
			}
			if !bytes.Equal(want, got) {
				result = multierror.Append(result, fmt.Errorf("pattern 0x%02X: read back differs", p))
			}
		}

		if err := disk.Write(c.Context, sdcard.Drive, original, sector, 1); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to restore sector %d: %w", sector, err))
		}
		if err := result.ErrorOrNil(); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(c.App.Writer, "Verified %d patterns on sector %d\n", len(verifyPatterns), sector)
		return nil
	})
}

func runDetect(c *cli.Context) error {
	opts := detection.DefaultOptions()
	switch c.String("mode") {
	case "passive":
		opts.Mode = detection.Passive
	case "safe":
		opts.Mode = detection.Safe
	case "full":
		opts.Mode = detection.Full
	default:
		return fmt.Errorf("unknown detection mode %q", c.String("mode"))
	}
	opts.EnableCache = false
	if c.IsSet(flagTransport) {
		opts.Transports = []string{c.String(flagTransport)}
	}

	devices, err := detection.DetectAll(c.Context, &opts)
	if err != nil {
		return err
	}
	for _, device := range devices {
		_, _ = fmt.Fprintln(c.App.Writer, device)
		for k, v := range device.Metadata {
			_, _ = fmt.Fprintf(c.App.Writer, "  %s: %s\n", k, v)
		}
	}
	return nil
}
