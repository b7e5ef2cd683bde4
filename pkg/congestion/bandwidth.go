// Copyright (C) 2025  mieru authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package congestion

import (
	"fmt"
	"math"
	"time"
)

// Bandwidth is a network transfer rate in bits per second.
type Bandwidth int64

const (
	// BitsPerSecond is 1 bit per second.
	BitsPerSecond Bandwidth = 1

	// BytesPerSecond is 1 byte per second.
	BytesPerSecond = 8 * BitsPerSecond

	// infiniteBandwidth is the upper bound of Bandwidth.
	infiniteBandwidth Bandwidth = math.MaxInt64
)

// BandwidthFromBytesPerSecond returns the Bandwidth of transferring the
// given number of bytes every second.
func BandwidthFromBytesPerSecond(bytes int64) Bandwidth {
	return Bandwidth(bytes) * BytesPerSecond
}

// BandwidthFromBytesAndTimeDelta returns the Bandwidth of transferring the
// given number of bytes within the time duration.
func BandwidthFromBytesAndTimeDelta(bytes int64, delta time.Duration) Bandwidth {
	if delta <= 0 {
		return infiniteBandwidth
	}
	nanoBits := 8 * bytes * int64(time.Second/time.Nanosecond)
	return Bandwidth(nanoBits / int64(delta.Nanoseconds()))
}

// Scale multiplies the Bandwidth with a non-negative factor.
func (b Bandwidth) Scale(factor float64) Bandwidth {
	if factor < 0 {
		panic("Bandwidth can't be scaled with a negative factor")
	}
	return Bandwidth(float64(b) * factor)
}

// ToBytesPerSecond returns the number of bytes transferred every second
// under the Bandwidth.
func (b Bandwidth) ToBytesPerSecond() int64 {
	return int64(b / BytesPerSecond)
}

// ToBytesPerPeriod returns the number of bytes transferred within the time
// duration under the Bandwidth.
func (b Bandwidth) ToBytesPerPeriod(period time.Duration) int64 {
	return int64(b) * int64(period.Nanoseconds()) / int64(time.Second/time.Nanosecond) / 8
}

// TransferTime returns the duration of transferring the given number of
// bytes under the Bandwidth.
func (b Bandwidth) TransferTime(bytes int64) time.Duration {
	if b <= 0 {
		return 0
	}
	return time.Duration(bytes*8*int64(time.Second/time.Nanosecond)/int64(b)) * time.Nanosecond
}

// IsZero returns true if the Bandwidth is zero.
func (b Bandwidth) IsZero() bool {
	return b == 0
}

// IsInfinite returns true if the Bandwidth can't be any larger.
func (b Bandwidth) IsInfinite() bool {
	return b >= infiniteBandwidth
}

func (b Bandwidth) String() string {
	if b.IsInfinite() {
		return "+Inf bps"
	}
	return fmt.Sprintf("%d bps", int64(b))
}
