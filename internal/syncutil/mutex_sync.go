//go:build !deadlock

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

// Package syncutil holds the locks shared by the disk, the transports and
// detection. Builds tagged deadlock swap in go-deadlock's lock-order checker;
// everything else gets the plain sync types.
package syncutil

import "sync"

// Mutex guards a card session or a bus
//
//nolint:gocritic // embedded so callers use Lock/Unlock directly
type Mutex struct {
	sync.Mutex
}

// RWMutex guards read-mostly state such as the detection cache
//
//nolint:gocritic // embedded so callers use Lock/Unlock directly
type RWMutex struct {
	sync.RWMutex
}
