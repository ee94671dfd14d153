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
	"testing"

	"github.com/stretchr/testify/require"

	virt "github.com/ZaparooProject/go-sdcard/internal/testing"
)

// newTestCard returns a card engine wired to a simulated card that never
// sleeps between polls
func newTestCard(t *testing.T, profile virt.CardProfile, opts ...CardOption) (*Card, *virt.VirtualCard) {
	t.Helper()
	sim := virt.NewVirtualCard(profile)
	card, err := NewCard(sim, append([]CardOption{WithWaiter(NoWait{})}, opts...)...)
	require.NoError(t, err)
	return card, sim
}

// newReadyCard returns an initialized card and its session
func newReadyCard(t *testing.T, profile virt.CardProfile, opts ...CardOption) (*Card, *Session, *virt.VirtualCard) {
	t.Helper()
	card, sim := newTestCard(t, profile, opts...)
	session, err := card.Initialize(context.Background())
	require.NoError(t, err)
	require.True(t, session.Ready())
	sim.ClearCommandLog()
	return card, session, sim
}

// newTestDisk returns an uninitialized disk on a simulated card
func newTestDisk(t *testing.T, profile virt.CardProfile, opts ...DiskOption) (*Disk, *virt.VirtualCard) {
	t.Helper()
	sim := virt.NewVirtualCard(profile)
	opts = append([]DiskOption{WithCardOptions(WithWaiter(NoWait{}))}, opts...)
	disk, err := NewDisk(sim, opts...)
	require.NoError(t, err)
	return disk, sim
}

// newReadyDisk returns an initialized disk on a simulated card
func newReadyDisk(t *testing.T, profile virt.CardProfile, opts ...DiskOption) (*Disk, *virt.VirtualCard) {
	t.Helper()
	disk, sim := newTestDisk(t, profile, opts...)
	_, err := disk.Initialize(context.Background(), Drive)
	require.NoError(t, err)
	sim.ClearCommandLog()
	return disk, sim
}

// bulkCard adds block transfers to a simulated card so the bulk path of the
// engine is exercised
type bulkCard struct {
	*virt.VirtualCard
	blocks int
}

func (b *bulkCard) TransferBlock(tx, rx []byte) error {
	b.blocks++
	for i, out := range tx {
		in, err := b.Transfer(out)
		if err != nil {
			return err
		}
		if rx != nil {
			rx[i] = in
		}
	}
	return nil
}

// pattern fills a sector-sized buffer with bytes derived from seed
func pattern(seed byte, sectors int) []byte {
	buf := make([]byte, sectors*SectorSize)
	for i := range buf {
		buf[i] = seed + byte(i*7)
	}
	return buf
}

// commandArgs returns the arguments of every logged command with index
func commandArgs(sim *virt.VirtualCard, index byte) []uint32 {
	var args []uint32
	for _, cmd := range sim.Commands() {
		if cmd.Index() == index {
			args = append(args, cmd.Arg())
		}
	}
	return args
}

func requireBusIdle(t *testing.T, sim *virt.VirtualCard) {
	t.Helper()
	stats := sim.Stats()
	require.False(t, stats.Selected, "chip select left asserted")
	require.Zero(t, stats.Overlaps, "overlapping transactions")
}
