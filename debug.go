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
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ZaparooProject/go-sdcard/internal/syncutil"
)

// debugLog fans debug lines out to the console, when enabled, and to the
// session log, when one is open. The session log gets every line.
type debugLog struct {
	console io.Writer
	session io.Writer
	file    *os.File
	path    string
	mu      syncutil.Mutex
	enabled bool
}

var logger = &debugLog{
	console: os.Stdout,
	enabled: os.Getenv("SDCARD_DEBUG") != "" || os.Getenv("DEBUG") != "",
}

func (l *debugLog) write(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session != nil {
		_, _ = fmt.Fprintf(l.session, "%s DEBUG: %s", time.Now().Format("15:04:05.000"), message)
	}
	if l.enabled && l.console != nil {
		_, _ = fmt.Fprint(l.console, "DEBUG: ", message)
	}
}

// Debugf logs a formatted line
func Debugf(format string, args ...any) {
	logger.write(fmt.Sprintf(format, args...) + "\n")
}

// Debugln logs its operands the way fmt.Sprintln formats them
func Debugln(args ...any) {
	logger.write(fmt.Sprintln(args...))
}

// SetDebugEnabled turns console output on or off. The session log is
// unaffected.
func SetDebugEnabled(enabled bool) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.enabled = enabled
}

// SetDebugOutput redirects console debug output, os.Stdout by default
func SetDebugOutput(w io.Writer) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.console = w
}
