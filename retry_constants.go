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

import "time"

// Initialization poll budgets. Counts are byte exchanges on the bus, so the
// wall-clock time they cover depends on the SPI clock.
const (
	// DefaultPowerUpFillBytes clocks 80 cycles with CS high; the card needs 74.
	DefaultPowerUpFillBytes = 10
	// DefaultResetPollAttempts bounds the wait for the CMD0 response.
	DefaultResetPollAttempts = 10
	// DefaultIfCondPollAttempts bounds the wait for the CMD8 response.
	DefaultIfCondPollAttempts = 10
	// DefaultAppCmdPollAttempts bounds the wait for each CMD55 response.
	DefaultAppCmdPollAttempts = 10
	// DefaultAppCmdPollDelay is the pause between CMD55 response polls.
	DefaultAppCmdPollDelay = 10 * time.Microsecond
	// DefaultOpCondPollAttempts bounds the wait for each ACMD41 response.
	DefaultOpCondPollAttempts = 50
	// DefaultOpCondPollDelay is the pause between ACMD41 response polls.
	DefaultOpCondPollDelay = 100 * time.Microsecond
	// DefaultNegotiationRounds caps CMD55+ACMD41 rounds. Cards must leave
	// the idle state within one second of the first ACMD41.
	DefaultNegotiationRounds = 250
	// DefaultCommandPollAttempts bounds the wait for CMD16 and CMD58 responses.
	DefaultCommandPollAttempts = 10
)

// Block transfer poll budgets.
const (
	// DefaultReadCommandPollAttempts bounds the wait for the CMD17 response.
	DefaultReadCommandPollAttempts = 100
	// DefaultDataTokenPollAttempts bounds the wait for the read start token.
	DefaultDataTokenPollAttempts = 5000
	// DefaultWriteCommandPollAttempts bounds the wait for the CMD24 response.
	DefaultWriteCommandPollAttempts = 1000
	// DefaultBusyPollAttempts bounds the wait for programming to finish.
	DefaultBusyPollAttempts = 1000
)

// Re-initialization retry constants control InitializeWithRetry.
const (
	// DefaultInitRetries is the number of full initialization attempts.
	DefaultInitRetries = 3
	// InitInitialBackoff is the delay before the second attempt.
	InitInitialBackoff = 100 * time.Millisecond
	// InitMaxBackoff is the maximum delay between attempts.
	InitMaxBackoff = 1 * time.Second
	// InitBackoffMultiplier is the exponential backoff multiplier.
	InitBackoffMultiplier = 2.0
	// InitJitter is the random jitter factor (0.0-1.0).
	InitJitter = 0.1
	// InitRetryTimeout is the overall timeout for all attempts.
	InitRetryTimeout = 10 * time.Second
)
