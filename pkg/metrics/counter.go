// Copyright (C) 2023  mieru authors
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

package metrics

import "sync/atomic"

// Counter holds a named int64 value that can't decrease.
type Counter struct {
	name  string
	value atomic.Int64
}

var _ Metric = &Counter{}

func (c *Counter) Name() string {
	return c.name
}

func (c *Counter) Type() MetricType {
	return COUNTER
}

func (c *Counter) Add(delta int64) int64 {
	if delta < 0 {
		panic("Can't add a negative value to Counter")
	}
	return c.value.Add(delta)
}

func (c *Counter) Load() int64 {
	return c.value.Load()
}

func (c *Counter) Store(val int64) {
	panic("Store() is not supported by Counter")
}
