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

	"github.com/ZaparooProject/go-sdcard/internal/frame"
)

// SectorSize is the fixed size of every block transferred
const SectorSize = frame.SectorSize

// ReadBlock reads one sector into dst[:SectorSize]. The session must be
// ready; the sector is converted to the card's addressing unit.
func (c *Card) ReadBlock(ctx context.Context, s *Session, sector uint32, dst []byte) error {
	if !s.Ready() {
		return ErrNotReady
	}
	if len(dst) < SectorSize {
		return fmt.Errorf("%w: read buffer holds %d bytes, need %d", ErrParameter, len(dst), SectorSize)
	}
	addr, err := s.address(sector)
	if err != nil {
		return err
	}

	cmd := frame.New(frame.CmdReadSingleBlock, addr)
	return c.transaction("read block", func() error {
		r1, err := c.command(ctx, s, cmd, c.policy.ReadCommandPollAttempts, 0)
		if err != nil {
			return err
		}
		if r1 != R1Ready {
			return newCardError("read block", cmd, r1, ErrCommandRejected)
		}

		token, err := c.poll(ctx, c.policy.DataTokenPollAttempts, 0, "data token")
		if err != nil && !isNoResponse(err) {
			return err
		}
		s.LastResponse = token
		if token != frame.StartBlockToken {
			return newCardError("read block", cmd, token, ErrNoDataToken)
		}

		if err := c.receive(dst[:SectorSize], "data"); err != nil {
			return err
		}
		var crc [frame.DataCRCSize]byte
		return c.receive(crc[:], "data CRC (ignored)")
	})
}

// WriteBlock writes src[:SectorSize] to one sector and waits for the card
// to finish programming it. Chip select is released on every path.
func (c *Card) WriteBlock(ctx context.Context, s *Session, sector uint32, src []byte) error {
	if !s.Ready() {
		return ErrNotReady
	}
	if len(src) < SectorSize {
		return fmt.Errorf("%w: write buffer holds %d bytes, need %d", ErrParameter, len(src), SectorSize)
	}
	addr, err := s.address(sector)
	if err != nil {
		return err
	}

	cmd := frame.New(frame.CmdWriteSingleBlock, addr)
	return c.transaction("write block", func() error {
		r1, err := c.command(ctx, s, cmd, c.policy.WriteCommandPollAttempts, 0)
		if err != nil {
			return err
		}
		if r1 != R1Ready {
			return newCardError("write block", cmd, r1, ErrCommandRejected)
		}

		if err := c.send([]byte{frame.StartBlockToken}, "start token"); err != nil {
			return err
		}
		if err := c.send(src[:SectorSize], "data"); err != nil {
			return err
		}
		if err := c.send([]byte{frame.Filler, frame.Filler}, "data CRC (placeholder)"); err != nil {
			return err
		}

		var resp [1]byte
		if err := c.receive(resp[:], "data response"); err != nil {
			return err
		}
		s.LastResponse = resp[0]
		if resp[0]&frame.DataResponseMask != frame.DataAccepted {
			return newCardError("write block", cmd, resp[0], ErrWriteRejected)
		}

		return c.waitNotBusy(ctx, s, cmd)
	})
}

// waitNotBusy polls until the card releases the data line. The card holds
// it low while programming.
func (c *Card) waitNotBusy(ctx context.Context, s *Session, cmd frame.Command) error {
	for attempt := range c.policy.BusyPollAttempts {
		if attempt > 0 && c.policy.BusyPollDelay > 0 {
			if err := c.waiter.Wait(ctx, c.policy.BusyPollDelay); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return fmt.Errorf("busy wait cancelled: %w", err)
		}

		rx, err := c.transfer(frame.Filler)
		if err != nil {
			return err
		}
		if rx != 0x00 {
			return nil
		}
	}
	if c.trace != nil {
		c.trace.RecordTimeout(fmt.Sprintf("busy after %d attempts", c.policy.BusyPollAttempts))
	}
	s.LastResponse = 0x00
	return newCardError("write block", cmd, 0x00, ErrCardBusy)
}
