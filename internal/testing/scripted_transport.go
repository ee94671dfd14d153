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

package testing

import (
	"github.com/ZaparooProject/go-sdcard/internal/frame"
	"github.com/ZaparooProject/go-sdcard/internal/syncutil"
)

// Bus events recorded by ScriptedTransport
const (
	EventSelect   = "select"
	EventDeselect = "deselect"
	EventTransfer = "transfer"
	EventClose    = "close"
)

// ScriptedTransport answers transfers from a fixed script and records what
// the host sent. Once the script runs out every transfer reads filler.
type ScriptedTransport struct {
	failErr   error
	script    []byte
	sent      []byte
	events    []string
	mu        syncutil.Mutex
	failAfter int
	selected  bool
}

// NewScriptedTransport creates a transport that answers with script, one
// byte per transfer
func NewScriptedTransport(script ...byte) *ScriptedTransport {
	return &ScriptedTransport{script: script, failAfter: -1}
}

// FailAfter makes every transfer after the first n return err
func (s *ScriptedTransport) FailAfter(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
	s.failErr = err
}

// Transfer records b and returns the next script byte
func (s *ScriptedTransport) Transfer(b byte) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter >= 0 && len(s.sent) >= s.failAfter {
		return frame.Filler, s.failErr
	}
	s.sent = append(s.sent, b)
	s.events = append(s.events, EventTransfer)
	if len(s.script) == 0 {
		return frame.Filler, nil
	}
	rx := s.script[0]
	s.script = s.script[1:]
	return rx, nil
}

// Select records a chip select assertion
func (s *ScriptedTransport) Select() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = true
	s.events = append(s.events, EventSelect)
	return nil
}

// Deselect records a chip select release
func (s *ScriptedTransport) Deselect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = false
	s.events = append(s.events, EventDeselect)
	return nil
}

// Close records the close
func (s *ScriptedTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, EventClose)
	return nil
}

// Sent returns every byte the host clocked out
func (s *ScriptedTransport) Sent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.sent...)
}

// Events returns the bus event log
func (s *ScriptedTransport) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// Count returns how many times event was recorded
func (s *ScriptedTransport) Count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

// Selected reports whether chip select is currently asserted
func (s *ScriptedTransport) Selected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}
