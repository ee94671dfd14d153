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

// Package sdcard drives SD memory cards in SPI mode and exposes them as a
// 512-byte-sector block device.
//
// A Card is the protocol engine: it frames commands, runs the initialization
// handshake, and moves single blocks. A Disk wraps a Card in the drive-level
// contract a FAT filesystem library expects (status, initialize, read, write,
// ioctl, timestamp).
package sdcard

import (
	"errors"
	"fmt"
)

// CardOption configures a Card
type CardOption func(*Card) error

// WithPolicy replaces the protocol poll budgets
func WithPolicy(policy *Policy) CardOption {
	return func(c *Card) error {
		if policy == nil {
			return errors.New("policy cannot be nil")
		}
		if err := policy.Validate(); err != nil {
			return err
		}
		c.policy = policy
		return nil
	}
}

// WithWaiter replaces the pause used between polls
func WithWaiter(waiter Waiter) CardOption {
	return func(c *Card) error {
		if waiter == nil {
			return errors.New("waiter cannot be nil")
		}
		c.waiter = waiter
		return nil
	}
}

// WithName labels the card in logs and wire traces
func WithName(name string) CardOption {
	return func(c *Card) error {
		c.name = name
		return nil
	}
}

// Card runs the SD SPI-mode protocol over a Transport.
//
// Thread Safety: Card is NOT thread-safe. Disk serializes access to it; use
// a Disk, or external synchronization, when sharing a card between goroutines.
type Card struct {
	transport Transport
	waiter    Waiter
	policy    *Policy
	trace     *TraceBuffer
	name      string
}

// NewCard creates a card engine on the given transport
func NewCard(transport Transport, opts ...CardOption) (*Card, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: transport cannot be nil", ErrParameter)
	}
	card := &Card{
		transport: transport,
		waiter:    SleepWaiter{},
		policy:    DefaultPolicy(),
		name:      "sd0",
	}

	for _, opt := range opts {
		if err := opt(card); err != nil {
			return nil, err
		}
	}

	return card, nil
}

// Policy returns the card's poll budgets
func (c *Card) Policy() Policy {
	return *c.policy
}

// Close closes the underlying transport
func (c *Card) Close() error {
	if err := c.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}
