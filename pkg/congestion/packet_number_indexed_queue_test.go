// Copyright (C) 2024  mieru authors
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
	"testing"
	"time"
)

func TestPacketNumberIndexedQueue(t *testing.T) {
	queue := NewPacketNumberIndexedQueue[int64]()
	total := 10

	// Create and insert packets.
	packets := make([]int64, total)
	for i := 0; i < total; i++ {
		clockTime := time.Now().UnixMilli()
		packets[i] = clockTime
		time.Sleep(10 * time.Millisecond)
	}

	for i := 0; i < total; i++ {
		if ok := queue.Emplace(packets[i], packets[i]); !ok {
			t.Fatalf("Emplace() failed on packet %d", i)
		}
	}
	oldTime := time.Now().Add(-1 * time.Minute).UnixMilli()
	if ok := queue.Emplace(oldTime, oldTime); ok {
		t.Fatalf("Emplace() didn't reject out of order packet")
	}

	for i := 0; i < total; i++ {
		v := queue.GetEntry(packets[i])
		if v == nil {
			t.Fatalf("GetEntry() returned nil")
		}
		if *v != packets[i] {
			t.Fatalf("GetEntry() returned unexpected value")
		}
	}

	if queue.FirstPacket() != packets[0] {
		t.Errorf("Got unexpected first packet %v, want %v", queue.FirstPacket(), packets[0])
	}
	if queue.LastPacket() != packets[total-1] {
		t.Errorf("Got unexpected last packet %v, want %v", queue.LastPacket(), packets[total-1])
	}
	if queue.EntrySlotsUsed() <= total {
		t.Errorf("Queue has %d slots, want more than %d", queue.EntrySlotsUsed(), total)
	}

	for i := total - 1; i >= 0; i-- {
		if ok := queue.Remove(packets[i]); !ok {
			t.Fatalf("Remove() failed on packet %d", i)
		}
	}
	if !queue.IsEmpty() {
		t.Errorf("Queue is not empty after removing all the packets")
	}
}

func TestPacketNumberIndexedQueueFrontCompaction(t *testing.T) {
	queue := NewPacketNumberIndexedQueue[int64]()

	queue.Emplace(5, 50)
	queue.Emplace(6, 60)
	queue.Emplace(7, 70)
	if v := queue.GetEntry(6); v == nil || *v != 60 {
		t.Fatalf("GetEntry(6) = %v, want 60", v)
	}

	// Removing the first packet moves the window forward.
	if ok := queue.Remove(5); !ok {
		t.Fatalf("Remove(5) failed")
	}
	if v := queue.GetEntry(5); v != nil {
		t.Errorf("GetEntry(5) = %v after removal, want nil", *v)
	}
	if queue.FirstPacket() != 6 {
		t.Errorf("FirstPacket() = %d, want 6", queue.FirstPacket())
	}

	// Removing a middle packet leaves a hole but keeps the window.
	queue.Emplace(8, 80)
	if ok := queue.Remove(7); !ok {
		t.Fatalf("Remove(7) failed")
	}
	if queue.FirstPacket() != 6 {
		t.Errorf("FirstPacket() = %d after removing a middle packet, want 6", queue.FirstPacket())
	}
	if v := queue.GetEntry(8); v == nil || *v != 80 {
		t.Fatalf("GetEntry(8) = %v, want 80", v)
	}

	// The number of slots never exceeds the packet number span.
	if span := queue.LastPacket() - queue.FirstPacket() + 1; int64(queue.EntrySlotsUsed()) > span {
		t.Errorf("EntrySlotsUsed() = %d, want at most the packet number span %d", queue.EntrySlotsUsed(), span)
	}
}
