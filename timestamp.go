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

import "time"

// FixedTimestamp is reported by Disk.CurrentTime when no clock is configured
var FixedTimestamp = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

// FAT timestamps cover 1980 through 2107
const (
	timestampMinYear = 1980
	timestampMaxYear = 2107
)

// PackTimestamp encodes t in the FAT directory-entry layout: year-1980 in
// bits 25-31, month 21-24, day 16-20, hour 11-15, minute 5-10, seconds/2
// 0-4. Years outside 1980-2107 are clamped.
func PackTimestamp(t time.Time) uint32 {
	year := t.Year()
	switch {
	case year < timestampMinYear:
		return packFields(0, 1, 1, 0, 0, 0)
	case year > timestampMaxYear:
		return packFields(timestampMaxYear-timestampMinYear, 12, 31, 23, 59, 58)
	}
	return packFields(year-timestampMinYear, int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
}

func packFields(year, month, day, hour, minute, second int) uint32 {
	return uint32(year)<<25 |
		uint32(month)<<21 |
		uint32(day)<<16 |
		uint32(hour)<<11 |
		uint32(minute)<<5 |
		uint32(second/2)
}

// UnpackTimestamp decodes a packed FAT timestamp in UTC
func UnpackTimestamp(v uint32) time.Time {
	return time.Date(
		int(v>>25)+timestampMinYear,
		time.Month(v>>21&0x0F),
		int(v>>16&0x1F),
		int(v>>11&0x1F),
		int(v>>5&0x3F),
		int(v&0x1F)*2,
		0, time.UTC)
}
