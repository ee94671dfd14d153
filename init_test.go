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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-sdcard/internal/frame"
	virt "github.com/ZaparooProject/go-sdcard/internal/testing"
)

func TestInitialize_CardTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		profile    virt.CardProfile
		echo       [4]byte
		version    CardVersion
		addressing Addressing
		blockLen   int
	}{
		{
			name:       "high capacity",
			profile:    virt.SDHCProfile(),
			version:    CardVersion2,
			addressing: AddressBlock,
			echo:       [4]byte{0x00, 0x00, 0x01, 0xAA},
		},
		{
			name:       "standard capacity",
			profile:    virt.SDSCProfile(),
			version:    CardVersion2,
			addressing: AddressByte,
			echo:       [4]byte{0x00, 0x00, 0x01, 0xAA},
			blockLen:   1,
		},
		{
			name:       "version 1",
			profile:    virt.LegacyProfile(),
			version:    CardVersion1,
			addressing: AddressByte,
			blockLen:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			card, sim := newTestCard(t, tt.profile)

			session, err := card.Initialize(context.Background())

			require.NoError(t, err)
			assert.Equal(t, StateReady, session.State)
			assert.True(t, session.Ready())
			assert.Equal(t, tt.version, session.Version)
			assert.Equal(t, tt.addressing, session.Addressing)
			assert.Equal(t, tt.echo, session.IfCondEcho)
			assert.True(t, session.OCRValid)
			assert.Equal(t, byte(R1Ready), session.LastResponse)
			assert.Equal(t, tt.blockLen, sim.CommandCount(frame.CmdSetBlockLen))
			if tt.blockLen > 0 {
				assert.Equal(t, []uint32{SectorSize}, commandArgs(sim, frame.CmdSetBlockLen))
			}
			requireBusIdle(t, sim)
		})
	}
}

func TestInitialize_CommandSequence(t *testing.T) {
	t.Parallel()
	card, sim := newTestCard(t, virt.SDHCProfile())

	_, err := card.Initialize(context.Background())
	require.NoError(t, err)

	var indexes []byte
	for _, cmd := range sim.Commands() {
		indexes = append(indexes, cmd.Index())
	}
	assert.Equal(t, []byte{0, 8, 55, 41, 55, 41, 55, 41, 58}, indexes)

	for _, arg := range commandArgs(sim, frame.ACmdSendOpCond) {
		assert.Equal(t, frame.HighCapacitySupport, arg)
	}
	assert.Equal(t, []uint32{frame.SendIfCondArg}, commandArgs(sim, frame.CmdSendIfCond))
}

func TestInitialize_NegotiationRounds(t *testing.T) {
	t.Parallel()
	profile := virt.SDHCProfile()
	profile.IdleRounds = 1
	card, sim := newTestCard(t, profile)

	_, err := card.Initialize(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, sim.CommandCount(frame.ACmdSendOpCond))
	assert.Equal(t, 2, sim.CommandCount(frame.CmdAppCommand))
}

func TestInitialize_NegotiationCap(t *testing.T) {
	t.Parallel()

	t.Run("capped", func(t *testing.T) {
		t.Parallel()
		profile := virt.SDHCProfile()
		profile.IdleRounds = 100
		policy := DefaultPolicy()
		policy.NegotiationRounds = 5
		card, sim := newTestCard(t, profile, WithPolicy(policy))

		session, err := card.Initialize(context.Background())

		require.ErrorIs(t, err, ErrNegotiationTimeout)
		assert.Equal(t, StateFailed, session.State)
		assert.Equal(t, byte(R1Idle), session.FailCode)
		assert.Equal(t, 5, sim.CommandCount(frame.ACmdSendOpCond))
		requireBusIdle(t, sim)
	})

	t.Run("unbounded", func(t *testing.T) {
		t.Parallel()
		profile := virt.SDHCProfile()
		profile.IdleRounds = 300
		policy := DefaultPolicy()
		policy.NegotiationRounds = 0
		card, sim := newTestCard(t, profile, WithPolicy(policy))

		_, err := card.Initialize(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 301, sim.CommandCount(frame.ACmdSendOpCond))
	})
}

func TestInitialize_UnresponsiveCardIsBounded(t *testing.T) {
	t.Parallel()
	st := virt.NewScriptedTransport()
	card, err := NewCard(st, WithWaiter(NoWait{}))
	require.NoError(t, err)

	session, err := card.Initialize(context.Background())

	require.ErrorIs(t, err, ErrResetRejected)
	require.ErrorIs(t, err, ErrNoResponse)
	assert.Equal(t, StateFailed, session.State)
	assert.Equal(t, byte(0xFF), session.FailCode)

	var want []byte
	want = append(want, bytes.Repeat([]byte{0xFF}, DefaultPowerUpFillBytes)...)
	want = append(want, 0xFF)
	want = append(want, 0x40, 0x00, 0x00, 0x00, 0x00, 0x95)
	want = append(want, bytes.Repeat([]byte{0xFF}, DefaultResetPollAttempts)...)
	want = append(want, 0xFF)
	assert.Equal(t, want, st.Sent())

	assert.Equal(t, 1, st.Count(virt.EventSelect))
	assert.Equal(t, 2, st.Count(virt.EventDeselect))
	assert.False(t, st.Selected())

	events := st.Events()
	assert.Equal(t, virt.EventDeselect, events[0])
	assert.Equal(t, virt.EventSelect, events[DefaultPowerUpFillBytes+2])
	assert.Equal(t, virt.EventDeselect, events[len(events)-2])
	assert.Equal(t, virt.EventTransfer, events[len(events)-1])
}

func TestInitialize_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		profile  func() virt.CardProfile
		wantErr  error
		name     string
		index    byte
		response byte
	}{
		{
			name:     "reset answers ready",
			profile:  virt.SDHCProfile,
			index:    frame.CmdGoIdleState,
			response: R1Ready,
			wantErr:  ErrResetRejected,
		},
		{
			name:     "voltage check CRC error",
			profile:  virt.SDHCProfile,
			index:    frame.CmdSendIfCond,
			response: R1Idle | R1CRCError,
			wantErr:  ErrVoltageCheckFailed,
		},
		{
			name:     "app command illegal",
			profile:  virt.SDHCProfile,
			index:    frame.CmdAppCommand,
			response: R1Idle | R1IllegalCommand,
			wantErr:  ErrAppCommandRejected,
		},
		{
			name:     "op cond parameter error",
			profile:  virt.SDHCProfile,
			index:    frame.ACmdSendOpCond,
			response: R1ParameterError,
			wantErr:  ErrOpCondRejected,
		},
		{
			name:     "block length rejected",
			profile:  virt.SDSCProfile,
			index:    frame.CmdSetBlockLen,
			response: R1ParameterError,
			wantErr:  ErrBlockLengthRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			card, sim := newTestCard(t, tt.profile())
			sim.InjectCommandResponse(tt.index, tt.response)

			session, err := card.Initialize(context.Background())

			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, StateFailed, session.State)
			assert.Equal(t, tt.response, session.FailCode)
			assert.False(t, session.Ready())

			var ce *CardError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.index, ce.Command.Index())
			assert.Equal(t, tt.response, ce.Response)
			assert.True(t, HasTrace(err))
			requireBusIdle(t, sim)
		})
	}
}

func TestInitialize_MissingOCR(t *testing.T) {
	t.Parallel()

	for _, profile := range []virt.CardProfile{virt.SDHCProfile(), virt.SDSCProfile()} {
		card, sim := newTestCard(t, profile)
		sim.InjectMissingOCR()

		session, err := card.Initialize(context.Background())

		require.NoError(t, err)
		assert.False(t, session.OCRValid)
		assert.Equal(t, AddressBlock, session.Addressing)
		assert.Zero(t, sim.CommandCount(frame.CmdSetBlockLen))
	}
}

func TestInitialize_TransportFailure(t *testing.T) {
	t.Parallel()
	errBus := errors.New("bus fault")
	st := virt.NewScriptedTransport()
	st.FailAfter(3, errBus)
	card, err := NewCard(st, WithWaiter(NoWait{}))
	require.NoError(t, err)

	session, err := card.Initialize(context.Background())

	require.ErrorIs(t, err, errBus)
	assert.Equal(t, StateFailed, session.State)
	assert.Equal(t, byte(0xFF), session.FailCode)
	assert.Zero(t, st.Count(virt.EventSelect))
}

func TestInitialize_Cancellation(t *testing.T) {
	t.Parallel()

	t.Run("before start", func(t *testing.T) {
		t.Parallel()
		card, sim := newTestCard(t, virt.SDHCProfile())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		session, err := card.Initialize(ctx)

		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StateFailed, session.State)
		assert.Zero(t, sim.Stats().Transfers)
	})

	t.Run("while polling", func(t *testing.T) {
		t.Parallel()
		profile := virt.SDHCProfile()
		profile.ResponseDelay = 1
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		waiter := WaiterFunc(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		})
		card, sim := newTestCard(t, profile, WithWaiter(waiter))

		_, err := card.Initialize(ctx)

		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, sim.CommandCount(frame.CmdAppCommand))
		requireBusIdle(t, sim)
	})
}

func TestInitialize_BulkTransfers(t *testing.T) {
	t.Parallel()
	sim := &bulkCard{VirtualCard: virt.NewVirtualCard(virt.SDHCProfile())}
	card, err := NewCard(sim, WithWaiter(NoWait{}))
	require.NoError(t, err)

	session, err := card.Initialize(context.Background())

	require.NoError(t, err)
	assert.True(t, session.Ready())
	assert.Positive(t, sim.blocks)
}

func TestInitialize_Reinitialize(t *testing.T) {
	t.Parallel()
	card, sim := newTestCard(t, virt.SDHCProfile())

	first, err := card.Initialize(context.Background())
	require.NoError(t, err)
	second, err := card.Initialize(context.Background())
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, sim.CommandCount(frame.CmdGoIdleState))
}
