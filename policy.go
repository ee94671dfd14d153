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
	"time"
)

// Policy holds the bounded retry budgets of the card protocol. Attempt
// counts are byte exchanges; delays are waited between polls through the
// card's Waiter.
type Policy struct {
	PowerUpFillBytes   int
	ResetPollAttempts  int
	IfCondPollAttempts int

	AppCmdPollAttempts int
	AppCmdPollDelay    time.Duration
	OpCondPollAttempts int
	OpCondPollDelay    time.Duration
	// NegotiationRounds caps CMD55+ACMD41 rounds; zero means no cap.
	NegotiationRounds int

	CommandPollAttempts int

	ReadCommandPollAttempts  int
	DataTokenPollAttempts    int
	WriteCommandPollAttempts int
	BusyPollAttempts         int
	BusyPollDelay            time.Duration
}

// DefaultPolicy returns the default protocol budgets
func DefaultPolicy() *Policy {
	return &Policy{
		PowerUpFillBytes:         DefaultPowerUpFillBytes,
		ResetPollAttempts:        DefaultResetPollAttempts,
		IfCondPollAttempts:       DefaultIfCondPollAttempts,
		AppCmdPollAttempts:       DefaultAppCmdPollAttempts,
		AppCmdPollDelay:          DefaultAppCmdPollDelay,
		OpCondPollAttempts:       DefaultOpCondPollAttempts,
		OpCondPollDelay:          DefaultOpCondPollDelay,
		NegotiationRounds:        DefaultNegotiationRounds,
		CommandPollAttempts:      DefaultCommandPollAttempts,
		ReadCommandPollAttempts:  DefaultReadCommandPollAttempts,
		DataTokenPollAttempts:    DefaultDataTokenPollAttempts,
		WriteCommandPollAttempts: DefaultWriteCommandPollAttempts,
		BusyPollAttempts:         DefaultBusyPollAttempts,
	}
}

// Validate checks that every poll budget allows at least one attempt.
func (p *Policy) Validate() error {
	budgets := []struct {
		name  string
		value int
	}{
		{"PowerUpFillBytes", p.PowerUpFillBytes},
		{"ResetPollAttempts", p.ResetPollAttempts},
		{"IfCondPollAttempts", p.IfCondPollAttempts},
		{"AppCmdPollAttempts", p.AppCmdPollAttempts},
		{"OpCondPollAttempts", p.OpCondPollAttempts},
		{"CommandPollAttempts", p.CommandPollAttempts},
		{"ReadCommandPollAttempts", p.ReadCommandPollAttempts},
		{"DataTokenPollAttempts", p.DataTokenPollAttempts},
		{"WriteCommandPollAttempts", p.WriteCommandPollAttempts},
		{"BusyPollAttempts", p.BusyPollAttempts},
	}
	for _, b := range budgets {
		if b.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrParameter, b.name, b.value)
		}
	}
	if p.NegotiationRounds < 0 {
		return fmt.Errorf("%w: NegotiationRounds must not be negative", ErrParameter)
	}
	if p.AppCmdPollDelay < 0 || p.OpCondPollDelay < 0 || p.BusyPollDelay < 0 {
		return fmt.Errorf("%w: poll delays must not be negative", ErrParameter)
	}
	return nil
}

// Waiter pauses between polls. Tests inject one that returns immediately.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

// WaiterFunc adapts a function to the Waiter interface
type WaiterFunc func(ctx context.Context, d time.Duration) error

// Wait implements Waiter
func (f WaiterFunc) Wait(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// SleepWaiter waits on a timer, returning early if ctx is done
type SleepWaiter struct{}

// Wait implements Waiter
func (SleepWaiter) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// NoWait never pauses. It still honors cancellation.
type NoWait struct{}

// Wait implements Waiter
func (NoWait) Wait(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
