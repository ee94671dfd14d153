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
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// InitSessionLog opens sdcard_<timestamp>.log in dir (the working directory
// if empty) and mirrors every debug line into it. An already open session
// log is closed first. Returns the file's path.
func InitSessionLog(dir string) (string, error) {
	path := filepath.Join(dir, "sdcard_"+time.Now().Format("20060102_150405")+".log")

	file, err := os.Create(path) //nolint:gosec // name is generated here
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}
	writeSessionHeader(file)

	if err := CloseSessionLog(); err != nil {
		Debugf("closing previous session log: %v", err)
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.file = file
	logger.session = file
	logger.path = path
	return path, nil
}

// CloseSessionLog writes the footer and closes the session log, if any
func CloseSessionLog() error {
	logger.mu.Lock()
	defer logger.mu.Unlock()

	if logger.file == nil {
		return nil
	}
	_, _ = fmt.Fprintf(logger.session, "\n%s === Session ended ===\n", time.Now().Format("15:04:05.000"))
	err := logger.file.Close()
	logger.file = nil
	logger.session = nil
	logger.path = ""
	if err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// GetSessionLogPath returns the open session log's path, or ""
func GetSessionLogPath() string {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	return logger.path
}

func writeSessionHeader(w io.Writer) {
	lines := []string{
		"=== SD Card Debug Session Log ===",
		"Started: " + time.Now().Format(time.RFC3339),
		fmt.Sprintf("PID: %d", os.Getpid()),
		"OS: " + runtime.GOOS + "/" + runtime.GOARCH,
		"Go Version: " + runtime.Version(),
		"Command Line: " + strings.Join(os.Args, " "),
		"=================================",
	}
	_, _ = io.WriteString(w, strings.Join(lines, "\n")+"\n\n")
}
