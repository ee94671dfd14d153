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
	"context"
	"fmt"

	sdcard "github.com/ZaparooProject/go-sdcard"
)

// ProbeCard runs the initialization sequence on transport and, in Full
// mode, reads sector 0. On success it returns metadata describing the card.
// The transport is left open; closing it is the caller's job.
//
// Probes make a single attempt. Retrying against a bus that has no card
// only delays detection of the buses that do.
func ProbeCard(ctx context.Context, transport sdcard.Transport, mode Mode, opts ...sdcard.CardOption) (map[string]string, error) {
	if mode == Passive {
		return map[string]string{}, nil
	}

	card, err := sdcard.NewCard(transport, opts...)
	if err != nil {
		return nil, err
	}
	session, err := card.Initialize(ctx)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}

	meta := map[string]string{
		"version":    session.Version.String(),
		"addressing": session.Addressing.String(),
	}
	if session.HighCapacity() {
		meta["capacity"] = "high"
	} else {
		meta["capacity"] = "standard"
	}

	if mode == Full {
		buf := make([]byte, sdcard.SectorSize)
		if err := card.ReadBlock(ctx, session, 0, buf); err != nil {
			return nil, fmt.Errorf("probe: %w", err)
		}
		if buf[510] == 0x55 && buf[511] == 0xAA {
			meta["boot_signature"] = "present"
		}
	}
	return meta, nil
}
