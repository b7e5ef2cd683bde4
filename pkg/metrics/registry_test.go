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

package metrics

import "testing"

func TestRegisterMetric(t *testing.T) {
	m1 := RegisterMetric("group 1", "metric 1", COUNTER)
	m2 := RegisterMetric("group 1", "metric 1", COUNTER)
	if m1 != m2 {
		t.Errorf("RegisterMetric() with the same name returns a different object")
	}

	group := GetMetricGroupByName("group 1")
	if group == nil {
		t.Fatalf("GetMetricGroupByName() = nil, want a registered group")
	}
	if !group.IsLoggingEnabled() {
		t.Errorf("IsLoggingEnabled() = %v, want %v", false, true)
	}
	if _, ok := group.GetMetric("metric 1"); !ok {
		t.Errorf("GetMetric() can't find a registered metric")
	}

	if GetMetricGroupByName("no such group") != nil {
		t.Errorf("GetMetricGroupByName() = %v, want %v", GetMetricGroupByName("no such group"), nil)
	}
}
