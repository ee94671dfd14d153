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
	"math/rand/v2"
	"time"
)

// RetryConfig configures RetryWithConfig
type RetryConfig struct {
	// Waiter pauses between attempts; nil means SleepWaiter
	Waiter Waiter
	// MaxAttempts is the total number of attempts (0 = run once, no retry)
	MaxAttempts int
	// InitialBackoff is the pause after the first failed attempt
	InitialBackoff time.Duration
	// MaxBackoff caps the pause
	MaxBackoff time.Duration
	// BackoffMultiplier grows the pause after each failure
	BackoffMultiplier float64
	// Jitter adds up to this fraction of the pause at random
	Jitter float64
	// RetryTimeout bounds all attempts together (0 = no bound)
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns the configuration used by InitializeWithRetry
// when none is given
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultInitRetries,
		InitialBackoff:    InitInitialBackoff,
		MaxBackoff:        InitMaxBackoff,
		BackoffMultiplier: InitBackoffMultiplier,
		Jitter:            InitJitter,
		RetryTimeout:      InitRetryTimeout,
	}
}

// backoff returns the pause after the given failed attempt (0-based).
// r in [0,1) scales the jitter.
func (c *RetryConfig) backoff(attempt int, r float64) time.Duration {
	d := float64(c.InitialBackoff)
	if c.BackoffMultiplier > 1 {
		d *= math.Pow(c.BackoffMultiplier, float64(attempt))
	}
	if c.MaxBackoff > 0 {
		d = math.Min(d, float64(c.MaxBackoff))
	}
	if c.Jitter > 0 {
		d += d * c.Jitter * r
	}
	return time.Duration(d)
}

// RetryWithConfig runs fn until it succeeds, returns an error IsRetryable
// rejects, or the attempts or RetryTimeout run out. Cancellation between
// attempts returns the last error from fn.
func RetryWithConfig(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts <= 0 {
		return fn()
	}
	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}
	waiter := config.Waiter
	if waiter == nil {
		waiter = SleepWaiter{}
	}

	var lastErr error
	for attempt := range config.MaxAttempts {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn()
		if lastErr == nil || !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == config.MaxAttempts-1 {
			break
		}
		pause := config.backoff(attempt, rand.Float64()) //nolint:gosec // jitter needs no crypto
		Debugf("retry: attempt %d failed, next in %s: %v", attempt+1, pause, lastErr)
		if err := waiter.Wait(ctx, pause); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// InitializeWithRetry re-runs Disk.Initialize until it succeeds or the
// retry budget is spent. Disk never re-initializes on its own; this is the
// explicit opt-in.
func InitializeWithRetry(ctx context.Context, disk *Disk, drive byte, config *RetryConfig) (DriveStatus, error) {
	status := StatusNotInitialized
	err := RetryWithConfig(ctx, config, func() error {
		var err error
		status, err = disk.Initialize(ctx, drive)
		return err
	})
	return status, err
}
