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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-sdcard/internal/frame"
)

// Initialize brings the card from power-on to SPI-mode ready and returns the
// resulting session. The session is returned even on failure; it is then in
// StateFailed with the last protocol byte in FailCode.
//
// Sequence: power-up clocks, CMD0 reset, CMD8 voltage check, CMD55+ACMD41
// negotiation until the card leaves idle, CMD58 OCR read (informational),
// and CMD16 for byte-addressed cards.
func (c *Card) Initialize(ctx context.Context) (*Session, error) {
	s := NewSession()

	err := c.initialize(ctx, s)
	if err != nil {
		if s.State != StateFailed {
			s.fail(s.LastResponse)
		}
		Debugf("card %s: initialization failed: %v", c.name, err)
		return s, err
	}

	Debugf("card %s: %s", c.name, s)
	return s, nil
}

func (c *Card) initialize(ctx context.Context, s *Session) error {
	if err := c.powerUp(ctx, s); err != nil {
		return err
	}
	if err := c.reset(ctx, s); err != nil {
		return err
	}
	if err := c.checkVoltage(ctx, s); err != nil {
		return err
	}
	if err := c.negotiate(ctx, s); err != nil {
		return err
	}
	if err := c.readOCR(ctx, s); err != nil {
		return err
	}
	c.selectAddressing(s)
	if s.Addressing == AddressByte {
		if err := c.setBlockLength(ctx, s); err != nil {
			return err
		}
	}
	s.transition(StateReady)
	return nil
}

// rejected moves the session to Failed and builds the error carrying the
// byte the card returned.
func rejected(s *Session, op string, cmd frame.Command, response byte, sentinel error) error {
	s.fail(response)
	return newCardError(op, cmd, response, sentinel)
}

// powerUp clocks filler with the card deselected so its controller can
// settle before the first command.
func (c *Card) powerUp(ctx context.Context, s *Session) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("power up: %w", err)
	}
	if err := c.transport.Deselect(); err != nil {
		return fmt.Errorf("power up: deselect: %w", err)
	}
	for range c.policy.PowerUpFillBytes {
		if _, err := c.transfer(frame.Filler); err != nil {
			return fmt.Errorf("power up: %w", err)
		}
	}
	s.transition(StatePoweredUp)
	return nil
}

// reset sends CMD0, which switches the card to SPI mode. Only the idle
// response is acceptable.
func (c *Card) reset(ctx context.Context, s *Session) error {
	cmd := frame.GoIdle()
	err := c.transaction("reset", func() error {
		r1, err := c.command(ctx, s, cmd, c.policy.ResetPollAttempts, 0)
		if err != nil {
			return err
		}
		if r1 != R1Idle {
			return rejected(s, "reset", cmd, r1, ErrResetRejected)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.transition(StateResetAcknowledged)
	return nil
}

// checkVoltage sends CMD8. A version 2 card answers idle plus an echo of the
// argument; a version 1 card flags the command illegal, and initialization
// continues the same way for both. The echo is recorded but not validated.
func (c *Card) checkVoltage(ctx context.Context, s *Session) error {
	cmd := frame.SendIfCond()
	err := c.transaction("voltage check", func() error {
		r1, err := c.command(ctx, s, cmd, c.policy.IfCondPollAttempts, 0)
		if err != nil {
			return err
		}
		switch r1 {
		case R1Idle:
			s.Version = CardVersion2
			if err := c.receive(s.IfCondEcho[:], "R7 echo"); err != nil {
				return err
			}
			if s.IfCondEcho[3] != frame.CheckPattern || s.IfCondEcho[2]&0x0F != 0x01 {
				Debugf("card %s: CMD8 echo % X does not match argument", c.name, s.IfCondEcho)
			}
		case R1Idle | R1IllegalCommand:
			s.Version = CardVersion1
		default:
			return rejected(s, "voltage check", cmd, r1, ErrVoltageCheckFailed)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.transition(StateVoltageChecked)
	return nil
}

// negotiate repeats CMD55+ACMD41 with the HCS bit set while the card still
// reports idle. Each response is polled within its own bounded budget; the
// number of rounds is capped by Policy.NegotiationRounds.
func (c *Card) negotiate(ctx context.Context, s *Session) error {
	s.transition(StateNegotiating)
	appCmd := frame.New(frame.CmdAppCommand, 0)
	opCond := frame.New(frame.ACmdSendOpCond, frame.HighCapacitySupport)

	for round := 1; ; round++ {
		if c.policy.NegotiationRounds > 0 && round > c.policy.NegotiationRounds {
			return rejected(s, "negotiate", opCond, s.LastResponse, ErrNegotiationTimeout)
		}

		err := c.transaction("app command", func() error {
			r1, err := c.command(ctx, s, appCmd, c.policy.AppCmdPollAttempts, c.policy.AppCmdPollDelay)
			if err != nil {
				return err
			}
			if r1 != R1Idle {
				return rejected(s, "app command", appCmd, r1, ErrAppCommandRejected)
			}
			return nil
		})
		if err != nil {
			return err
		}

		var r1 byte
		err = c.transaction("send op cond", func() error {
			var err error
			r1, err = c.command(ctx, s, opCond, c.policy.OpCondPollAttempts, c.policy.OpCondPollDelay)
			if err != nil {
				return err
			}
			if r1 != R1Ready && r1 != R1Idle {
				return rejected(s, "send op cond", opCond, r1, ErrOpCondRejected)
			}
			return nil
		})
		if err != nil {
			return err
		}

		if r1 == R1Ready {
			Debugf("card %s: left idle state after %d round(s)", c.name, round)
			return nil
		}
	}
}

// readOCR reads the operating conditions register for the voltage window
// and capacity class. It never fails initialization on a protocol error;
// transport failures and cancellation still abort.
func (c *Card) readOCR(ctx context.Context, s *Session) error {
	cmd := frame.New(frame.CmdReadOCR, 0)
	err := c.transaction("read OCR", func() error {
		r1, err := c.command(ctx, s, cmd, c.policy.CommandPollAttempts, 0)
		if err != nil {
			return err
		}
		if r1 != R1Ready {
			return newCardError("read OCR", cmd, r1, ErrCommandRejected)
		}
		var ocr [4]byte
		if err := c.receive(ocr[:], "OCR"); err != nil {
			return err
		}
		s.OCR = binary.BigEndian.Uint32(ocr[:])
		s.OCRValid = true
		return nil
	})

	var ce *CardError
	if errors.As(err, &ce) {
		Debugf("card %s: OCR unavailable, continuing: %v", c.name, err)
		return nil
	}
	if err != nil {
		return err
	}
	if s.OCR&ocrPowerUpDone == 0 {
		Debugf("card %s: OCR 0x%08X reports power-up still in progress", c.name, s.OCR)
	}
	return nil
}

// selectAddressing picks the unit of data-command addresses. Version 1 cards
// and version 2 cards without CCS take byte offsets; everything else takes
// block indexes, including version 2 cards whose OCR could not be read.
func (*Card) selectAddressing(s *Session) {
	switch {
	case s.Version == CardVersion1:
		s.Addressing = AddressByte
	case s.OCRValid && s.OCR&ocrCCS == 0:
		s.Addressing = AddressByte
	default:
		s.Addressing = AddressBlock
	}
}

// setBlockLength fixes the transfer size of a byte-addressed card at one
// sector.
func (c *Card) setBlockLength(ctx context.Context, s *Session) error {
	cmd := frame.New(frame.CmdSetBlockLen, frame.SectorSize)
	return c.transaction("set block length", func() error {
		r1, err := c.command(ctx, s, cmd, c.policy.CommandPollAttempts, 0)
		if err != nil {
			return err
		}
		if r1 != R1Ready {
			return rejected(s, "set block length", cmd, r1, ErrBlockLengthRejected)
		}
		return nil
	})
}
