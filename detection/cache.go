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

package detection

import (
	"time"

	"github.com/ZaparooProject/go-sdcard/internal/syncutil"
)

type cached struct {
	stored  time.Time
	devices []DeviceInfo
}

// resultCache keeps the last non-empty result per transport. Slices are
// copied on the way in and out.
type resultCache struct {
	byTransport map[string]cached
	mu          syncutil.RWMutex
	now         func() time.Time
}

var results = newResultCache()

func newResultCache() *resultCache {
	return &resultCache{byTransport: make(map[string]cached), now: time.Now}
}

func (c *resultCache) get(transport string, ttl time.Duration) ([]DeviceInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.byTransport[transport]
	if !ok || c.now().Sub(entry.stored) > ttl {
		return nil, false
	}
	return append([]DeviceInfo(nil), entry.devices...), true
}

func (c *resultCache) set(transport string, devices []DeviceInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byTransport[transport] = cached{
		stored:  c.now(),
		devices: append([]DeviceInfo(nil), devices...),
	}
}

// clear drops one transport's entry, or everything when transport is empty
func (c *resultCache) clear(transport string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if transport == "" {
		c.byTransport = make(map[string]cached)
		return
	}
	delete(c.byTransport, transport)
}
