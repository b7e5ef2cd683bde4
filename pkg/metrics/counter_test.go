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

import "testing"

func TestCounter(t *testing.T) {
	c := &Counter{name: "counter"}

	if c.Name() != "counter" {
		t.Errorf("Name() = %v, want %v", c.Name(), "counter")
	}
	if c.Type() != COUNTER {
		t.Errorf("Type() = %v, want %v", c.Type(), COUNTER)
	}

	c.Add(10)
	c.Add(0)
	c.Add(20)
	if c.Load() != 30 {
		t.Errorf("Load() = %v, want %v", c.Load(), 30)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Add() a negative value to Counter should panic")
		}
	}()
	c.Add(-1)
}
