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
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-sdcard/internal/frame"
)

var fillerBlock = bytes.Repeat([]byte{frame.Filler}, frame.SectorSize)

// transaction brackets fn with exactly one select/deselect pair. A filler
// byte is clocked before selecting and after deselecting; the card needs
// those edges to release the data-out line. Errors from fn come back wrapped
// with the wire trace of the transaction.
func (c *Card) transaction(op string, fn func() error) (err error) {
	c.trace = NewTraceBuffer(c.name, op, 32)
	trace := c.trace
	defer func() { c.trace = nil }()

	if _, err = c.transfer(frame.Filler); err != nil {
		return trace.WrapError(err)
	}
	if err = c.transport.Select(); err != nil {
		return trace.WrapError(fmt.Errorf("%s: select: %w", op, err))
	}

	defer func() {
		deselectErr := c.transport.Deselect()
		_, fillErr := c.transfer(frame.Filler)
		if err == nil && deselectErr != nil {
			err = fmt.Errorf("%s: deselect: %w", op, deselectErr)
		}
		if err == nil && fillErr != nil {
			err = fillErr
		}
		err = trace.WrapError(err)
	}()

	return fn()
}

// transfer exchanges one byte
func (c *Card) transfer(b byte) (byte, error) {
	rx, err := c.transport.Transfer(b)
	if err != nil {
		return frame.Filler, fmt.Errorf("transfer 0x%02X: %w", b, err)
	}
	return rx, nil
}

// send clocks out buf, discarding what comes back
func (c *Card) send(buf []byte, note string) error {
	if c.trace != nil {
		c.trace.RecordTX(buf, note)
	}
	if bulk, ok := c.transport.(BulkTransferer); ok {
		if err := bulk.TransferBlock(buf, nil); err != nil {
			return fmt.Errorf("block transfer: %w", err)
		}
		return nil
	}
	for _, b := range buf {
		if _, err := c.transfer(b); err != nil {
			return err
		}
	}
	return nil
}

// receive fills buf with bytes clocked in while sending filler
func (c *Card) receive(buf []byte, note string) error {
	if bulk, ok := c.transport.(BulkTransferer); ok {
		for off := 0; off < len(buf); off += len(fillerBlock) {
			end := min(off+len(fillerBlock), len(buf))
			if err := bulk.TransferBlock(fillerBlock[:end-off], buf[off:end]); err != nil {
				return fmt.Errorf("block transfer: %w", err)
			}
		}
	} else {
		for i := range buf {
			rx, err := c.transfer(frame.Filler)
			if err != nil {
				return err
			}
			buf[i] = rx
		}
	}
	if c.trace != nil {
		c.trace.RecordRX(buf, note)
	}
	return nil
}

// sendCommand clocks out a 6-byte command frame
func (c *Card) sendCommand(cmd frame.Command) error {
	wire := cmd.Bytes()
	return c.send(wire[:], cmd.String())
}

// poll clocks filler until the card drives something other than all-ones,
// or attempts run out. Exhaustion returns ErrNoResponse with a filler byte,
// never a panic or an unbounded loop. delay is waited between attempts.
func (c *Card) poll(ctx context.Context, attempts int, delay time.Duration, note string) (byte, error) {
	for attempt := range attempts {
		if attempt > 0 && delay > 0 {
			if err := c.waiter.Wait(ctx, delay); err != nil {
				return frame.Filler, err
			}
		} else if err := ctx.Err(); err != nil {
			return frame.Filler, fmt.Errorf("poll cancelled: %w", err)
		}

		rx, err := c.transfer(frame.Filler)
		if err != nil {
			return frame.Filler, err
		}
		if rx != frame.Filler {
			if c.trace != nil {
				c.trace.RecordRX([]byte{rx}, note)
			}
			return rx, nil
		}
	}
	if c.trace != nil {
		c.trace.RecordTimeout(fmt.Sprintf("%s after %d attempts", note, attempts))
	}
	return frame.Filler, ErrNoResponse
}

// command sends cmd and polls for its R1 response. A poll timeout is not an
// error here: it comes back as the filler byte, which every caller treats as
// a rejection carrying 0xFF. Only transport failures and cancellation return
// an error.
func (c *Card) command(
	ctx context.Context, s *Session, cmd frame.Command, attempts int, delay time.Duration,
) (byte, error) {
	if err := c.sendCommand(cmd); err != nil {
		return frame.Filler, err
	}
	r1, err := c.poll(ctx, attempts, delay, "R1 "+cmd.String())
	if err != nil && !isNoResponse(err) {
		return frame.Filler, err
	}
	s.LastResponse = r1
	return r1, nil
}

func isNoResponse(err error) bool {
	return errors.Is(err, ErrNoResponse)
}
