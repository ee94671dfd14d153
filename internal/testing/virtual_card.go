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

// Package testing provides wire-level SD card simulators for transport and
// protocol tests. Nothing here talks to hardware.
package testing

import (
	"encoding/binary"
	"errors"

	"github.com/ZaparooProject/go-sdcard/internal/frame"
	"github.com/ZaparooProject/go-sdcard/internal/syncutil"
)

// R1 bits as a card drives them
const (
	r1Ready          = 0x00
	r1Idle           = 0x01
	r1IllegalCommand = 0x04
	r1CRCError       = 0x08
	r1AddressError   = 0x20
	r1ParameterError = 0x40
)

const (
	ocrVoltageWindow = 0x00FF8000 // 2.7-3.6V
	ocrPowerUpDone   = 1 << 31
	ocrCCS           = 1 << 30
)

// ErrCardClosed is returned by every bus operation after Close
var ErrCardClosed = errors.New("virtual card closed")

// CardProfile describes the card a VirtualCard pretends to be
type CardProfile struct {
	// Blocks is the number of addressable sectors
	Blocks uint32
	// IdleRounds is how many ACMD41 rounds answer idle before the card
	// reports ready
	IdleRounds int
	// ResponseDelay is the number of filler bytes before each R1
	ResponseDelay int
	// TokenDelay is the number of filler bytes between a read R1 and the
	// start token
	TokenDelay int
	// BusyBytes is the number of busy bytes after an accepted write
	BusyBytes int
	// HighCapacity sets CCS in the OCR and makes data addresses block
	// indexes
	HighCapacity bool
	// Legacy makes the card reject CMD8 as a version 1 card does
	Legacy bool
}

// SDHCProfile is a version 2 block-addressed card
func SDHCProfile() CardProfile {
	return CardProfile{
		Blocks:       0x800000,
		IdleRounds:   2,
		TokenDelay:   3,
		BusyBytes:    4,
		HighCapacity: true,
	}
}

// SDSCProfile is a version 2 byte-addressed card
func SDSCProfile() CardProfile {
	p := SDHCProfile()
	p.Blocks = 0x400000
	p.HighCapacity = false
	return p
}

// LegacyProfile is a version 1 card
func LegacyProfile() CardProfile {
	p := SDSCProfile()
	p.Legacy = true
	return p
}

type phase int

const (
	phaseCommand phase = iota
	phaseWriteToken
	phaseWriteData
)

// VirtualCard simulates an SD card on an SPI bus one byte at a time. It
// satisfies the card transport contract (Transfer, Select, Deselect, Close)
// so it can stand in for real hardware.
//
// Bytes the card answers appear starting with the transfer after the one
// that completed the command, the same way a card shifts them out.
type VirtualCard struct {
	blocks         map[uint32][]byte
	rejectCommands map[byte]byte
	commandLog     []frame.Command
	out            []byte
	cmdBuf         []byte
	writeBuf       []byte
	profile        CardProfile
	mu             syncutil.Mutex
	phase          phase
	writeBlock     uint32
	opCondRounds   int
	selects        int
	deselects      int
	overlaps       int
	transfers      int
	selectedXfers  int
	closed         bool
	selected       bool
	idle           bool
	appCommand     bool
	unresponsive   bool
	rejectWrites   bool
	noDataToken    bool
	noOCR          bool
	stuckBusy      bool
}

// NewVirtualCard creates a powered-off card with the given profile
func NewVirtualCard(profile CardProfile) *VirtualCard {
	return &VirtualCard{
		profile:        profile,
		blocks:         make(map[uint32][]byte),
		rejectCommands: make(map[byte]byte),
		idle:           true,
	}
}

// Select asserts chip select
func (v *VirtualCard) Select() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrCardClosed
	}
	if v.selected {
		v.overlaps++
	}
	v.selected = true
	v.selects++
	return nil
}

// Deselect releases chip select. Any half-received command or write is
// dropped.
func (v *VirtualCard) Deselect() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrCardClosed
	}
	v.selected = false
	v.deselects++
	v.cmdBuf = v.cmdBuf[:0]
	v.writeBuf = v.writeBuf[:0]
	v.out = v.out[:0]
	v.phase = phaseCommand
	return nil
}

// Close marks the card unusable
func (v *VirtualCard) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

// Transfer shifts one byte in each direction
func (v *VirtualCard) Transfer(b byte) (byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return frame.Filler, ErrCardClosed
	}

	v.transfers++
	if !v.selected {
		return frame.Filler, nil
	}
	v.selectedXfers++

	rx := byte(frame.Filler)
	if len(v.out) > 0 {
		rx = v.out[0]
		v.out = v.out[1:]
	}
	v.receive(b)
	return rx, nil
}

func (v *VirtualCard) receive(b byte) {
	switch v.phase {
	case phaseWriteToken:
		if b == frame.StartBlockToken {
			v.phase = phaseWriteData
			v.writeBuf = v.writeBuf[:0]
		}
	case phaseWriteData:
		v.writeBuf = append(v.writeBuf, b)
		if len(v.writeBuf) == frame.SectorSize+frame.DataCRCSize {
			v.finishWrite()
		}
	default:
		if len(v.cmdBuf) == 0 && b&0xC0 != frame.StartBits {
			return
		}
		v.cmdBuf = append(v.cmdBuf, b)
		if len(v.cmdBuf) == frame.Size {
			cmd, ok := frame.Parse(v.cmdBuf)
			v.cmdBuf = v.cmdBuf[:0]
			if ok {
				v.execute(cmd)
			}
		}
	}
}

func (v *VirtualCard) idleBit() byte {
	if v.idle {
		return r1Idle
	}
	return r1Ready
}

// respond queues an R1 and any trailing bytes after the configured delay
func (v *VirtualCard) respond(r1 byte, extra ...byte) {
	if v.unresponsive {
		return
	}
	v.out = v.out[:0]
	for range v.profile.ResponseDelay {
		v.out = append(v.out, frame.Filler)
	}
	v.out = append(v.out, r1)
	v.out = append(v.out, extra...)
}

func (v *VirtualCard) execute(cmd frame.Command) {
	v.commandLog = append(v.commandLog, cmd)
	wasAppCommand := v.appCommand
	v.appCommand = false

	if r1, ok := v.rejectCommands[cmd.Index()]; ok {
		v.respond(r1)
		return
	}

	switch cmd.Index() {
	case frame.CmdGoIdleState:
		if !v.checkCRC(cmd) {
			return
		}
		v.idle = true
		v.opCondRounds = 0
		v.respond(r1Idle)
	case frame.CmdSendIfCond:
		if v.profile.Legacy {
			v.respond(r1Idle | r1IllegalCommand)
			return
		}
		if !v.checkCRC(cmd) {
			return
		}
		arg := cmd.Arg()
		v.respond(v.idleBit(), 0x00, 0x00, byte(arg>>8)&0x0F, byte(arg))
	case frame.CmdAppCommand:
		v.appCommand = true
		v.respond(v.idleBit())
	case frame.ACmdSendOpCond:
		if !wasAppCommand {
			v.respond(v.idleBit() | r1IllegalCommand)
			return
		}
		v.opCondRounds++
		if v.opCondRounds > v.profile.IdleRounds {
			v.idle = false
		}
		v.respond(v.idleBit())
	case frame.CmdReadOCR:
		if v.noOCR {
			v.respond(v.idleBit() | r1IllegalCommand)
			return
		}
		ocr := uint32(ocrVoltageWindow)
		if !v.idle {
			ocr |= ocrPowerUpDone
		}
		if v.profile.HighCapacity {
			ocr |= ocrCCS
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], ocr)
		v.respond(v.idleBit(), buf[:]...)
	case frame.CmdSetBlockLen:
		if cmd.Arg() != frame.SectorSize {
			v.respond(v.idleBit() | r1ParameterError)
			return
		}
		v.respond(v.idleBit())
	case frame.CmdReadSingleBlock:
		v.read(cmd)
	case frame.CmdWriteSingleBlock:
		v.write(cmd)
	default:
		v.respond(v.idleBit() | r1IllegalCommand)
	}
}

// checkCRC answers a CRC error when a command that is checked before SPI
// mode is fully entered carries the wrong checksum
func (v *VirtualCard) checkCRC(cmd frame.Command) bool {
	wire := cmd.Bytes()
	if frame.CRC7(wire[:5])<<1|1 == wire[5] {
		return true
	}
	v.respond(v.idleBit() | r1CRCError)
	return false
}

// block converts a data address to a sector index, answering the error R1
// itself when the address is unusable
func (v *VirtualCard) block(cmd frame.Command) (uint32, bool) {
	if v.idle {
		v.respond(r1Idle | r1IllegalCommand)
		return 0, false
	}
	addr := cmd.Arg()
	if !v.profile.HighCapacity {
		if addr%frame.SectorSize != 0 {
			v.respond(r1AddressError)
			return 0, false
		}
		addr /= frame.SectorSize
	}
	if addr >= v.profile.Blocks {
		v.respond(r1ParameterError)
		return 0, false
	}
	return addr, true
}

func (v *VirtualCard) read(cmd frame.Command) {
	block, ok := v.block(cmd)
	if !ok {
		return
	}
	if v.noDataToken {
		v.respond(r1Ready)
		return
	}

	data := v.blocks[block]
	if data == nil {
		data = make([]byte, frame.SectorSize)
	}
	extra := make([]byte, 0, v.profile.TokenDelay+1+frame.SectorSize+frame.DataCRCSize)
	for range v.profile.TokenDelay {
		extra = append(extra, frame.Filler)
	}
	extra = append(extra, frame.StartBlockToken)
	extra = append(extra, data...)
	extra = binary.BigEndian.AppendUint16(extra, frame.CRC16(data))
	v.respond(r1Ready, extra...)
}

func (v *VirtualCard) write(cmd frame.Command) {
	block, ok := v.block(cmd)
	if !ok {
		return
	}
	v.writeBlock = block
	v.phase = phaseWriteToken
	v.respond(r1Ready)
}

func (v *VirtualCard) finishWrite() {
	v.phase = phaseCommand
	v.out = v.out[:0]
	if v.rejectWrites {
		v.out = append(v.out, 0xE0|frame.DataWriteError)
		return
	}

	data := make([]byte, frame.SectorSize)
	copy(data, v.writeBuf)
	v.blocks[v.writeBlock] = data

	v.out = append(v.out, 0xE0|frame.DataAccepted)
	busy := v.profile.BusyBytes
	if v.stuckBusy {
		busy = 1 << 16
	}
	for range busy {
		v.out = append(v.out, 0x00)
	}
}

// InjectUnresponsive makes the card stop answering commands
func (v *VirtualCard) InjectUnresponsive() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unresponsive = true
}

// InjectCommandResponse makes every command with the given index answer r1
func (v *VirtualCard) InjectCommandResponse(index, r1 byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejectCommands[index] = r1
}

// InjectWriteRejection makes the card refuse every data block
func (v *VirtualCard) InjectWriteRejection() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejectWrites = true
}

// InjectMissingDataToken makes reads acknowledge the command but never send
// the start token
func (v *VirtualCard) InjectMissingDataToken() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.noDataToken = true
}

// InjectMissingOCR makes CMD58 answer illegal command
func (v *VirtualCard) InjectMissingOCR() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.noOCR = true
}

// InjectStuckBusy keeps the data line low after accepted writes for longer
// than any sane poll budget
func (v *VirtualCard) InjectStuckBusy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stuckBusy = true
}

// SetBlock stores data at the given sector
func (v *VirtualCard) SetBlock(sector uint32, data []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	block := make([]byte, frame.SectorSize)
	copy(block, data)
	v.blocks[sector] = block
}

// Block returns a copy of the data stored at the given sector. Sectors never
// written read as zeros.
func (v *VirtualCard) Block(sector uint32) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	block := make([]byte, frame.SectorSize)
	copy(block, v.blocks[sector])
	return block
}

// Commands returns every command the card has received, in order
func (v *VirtualCard) Commands() []frame.Command {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]frame.Command(nil), v.commandLog...)
}

// CommandCount returns how many commands with the given index were received
func (v *VirtualCard) CommandCount(index byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, cmd := range v.commandLog {
		if cmd.Index() == index {
			n++
		}
	}
	return n
}

// ClearCommandLog forgets all received commands
func (v *VirtualCard) ClearCommandLog() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.commandLog = nil
}

// BusStats reports chip select and transfer activity
type BusStats struct {
	Selects           int
	Deselects         int
	Overlaps          int
	Transfers         int
	SelectedTransfers int
	Selected          bool
}

// Stats returns the bus activity seen so far
func (v *VirtualCard) Stats() BusStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return BusStats{
		Selects:           v.selects,
		Deselects:         v.deselects,
		Overlaps:          v.overlaps,
		Transfers:         v.transfers,
		SelectedTransfers: v.selectedXfers,
		Selected:          v.selected,
	}
}

// Idle reports whether the card is still in the idle state
func (v *VirtualCard) Idle() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.idle
}
