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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPackTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		time time.Time
		name string
		want uint32
	}{
		{name: "fixed timestamp", time: FixedTimestamp, want: 0x58216000},
		{name: "odd seconds truncate", time: time.Date(2025, time.June, 15, 8, 30, 45, 0, time.UTC), want: 0x5ACF43D6},
		{name: "before epoch clamps", time: time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC), want: 0x00210000},
		{name: "after range clamps", time: time.Date(2200, time.March, 3, 3, 3, 3, 0, time.UTC), want: 0xFF9FBF7D},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, PackTimestamp(tt.time))
		})
	}
}

func TestUnpackTimestamp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FixedTimestamp, UnpackTimestamp(PackTimestamp(FixedTimestamp)))

	odd := time.Date(2031, time.November, 30, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, odd.Add(-time.Second), UnpackTimestamp(PackTimestamp(odd)))
}
