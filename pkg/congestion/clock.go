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

import "time"

// Clock reads the current time. Tests inject their own implementation.
type Clock interface {
	Now() time.Time
}

// DefaultClock reads the system time.
type DefaultClock struct{}

var _ Clock = DefaultClock{}

func (DefaultClock) Now() time.Time {
	return time.Now()
}
