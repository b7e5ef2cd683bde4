// MIT License
//
// Copyright (c) 2016 the quic-go authors & Google, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package congestion

import (
	"testing"
	"time"
)

func TestHybridSlowStartRoundTracking(t *testing.T) {
	slowStart := HybridSlowStart{}

	packetNumber := int64(1)
	endPacketNumber := int64(3)
	slowStart.StartReceiveRound(endPacketNumber)

	for ; packetNumber < endPacketNumber; packetNumber++ {
		if slowStart.IsEndOfRound(packetNumber) {
			t.Fatalf("IsEndOfRound(%d) = true before the end of the round", packetNumber)
		}
	}
	// Packet number past the end of the round.
	packetNumber++
	if !slowStart.IsEndOfRound(packetNumber) {
		t.Errorf("IsEndOfRound(%d) = false at the end of the round", packetNumber)
	}
}

func TestHybridSlowStartDelayDetection(t *testing.T) {
	slowStart := HybridSlowStart{}

	rtt := 60 * time.Millisecond
	// The threshold for a 60ms min RTT is clamped into [4ms, 16ms], the raw
	// 60/8 = 7.5ms value applies.
	exitThreshold := 8 * time.Millisecond
	congestionWindow := hybridStartLowWindow

	slowStart.OnPacketSent(100)

	// Eight samples within the threshold do not trigger the exit.
	for i := uint32(0); i < hybridStartMinSamples; i++ {
		if slowStart.ShouldExitSlowStart(rtt+time.Duration(i)*time.Millisecond, rtt, congestionWindow) {
			t.Fatalf("ShouldExitSlowStart() = true on sample %d, want false", i+1)
		}
	}
	// The ninth sample exceeds min RTT by more than the threshold.
	if !slowStart.ShouldExitSlowStart(rtt+exitThreshold, rtt, congestionWindow) {
		t.Errorf("ShouldExitSlowStart() = false on the sample above the delay threshold, want true")
	}
}

func TestHybridSlowStartWindowTooLow(t *testing.T) {
	slowStart := HybridSlowStart{}

	rtt := 60 * time.Millisecond
	congestionWindow := hybridStartLowWindow - 1

	slowStart.OnPacketSent(100)
	for i := uint32(0); i < hybridStartMinSamples; i++ {
		slowStart.ShouldExitSlowStart(rtt, rtt, congestionWindow)
	}
	// The delay spike is detected, but the exit is suppressed until the
	// congestion window reaches the low window bound.
	if slowStart.ShouldExitSlowStart(rtt+20*time.Millisecond, rtt, congestionWindow) {
		t.Errorf("ShouldExitSlowStart() = true below the low window bound, want false")
	}
	if !slowStart.ShouldExitSlowStart(rtt, rtt, hybridStartLowWindow) {
		t.Errorf("ShouldExitSlowStart() = false after the window reached the low window bound, want true")
	}
}

func TestHybridSlowStartMonotonicExit(t *testing.T) {
	slowStart := HybridSlowStart{}

	rtt := 60 * time.Millisecond
	congestionWindow := hybridStartLowWindow

	slowStart.OnPacketSent(100)
	for i := uint32(0); i < hybridStartMinSamples; i++ {
		slowStart.ShouldExitSlowStart(rtt, rtt, congestionWindow)
	}
	if !slowStart.ShouldExitSlowStart(rtt+20*time.Millisecond, rtt, congestionWindow) {
		t.Fatalf("ShouldExitSlowStart() = false on the sample above the delay threshold, want true")
	}

	// Once found, the exit condition persists even for samples below the
	// threshold, until an explicit restart.
	if !slowStart.ShouldExitSlowStart(rtt, rtt, congestionWindow) {
		t.Errorf("ShouldExitSlowStart() = false after the exit condition was found, want true")
	}
	slowStart.Restart()
	if slowStart.ShouldExitSlowStart(rtt, rtt, congestionWindow) {
		t.Errorf("ShouldExitSlowStart() = true after Restart(), want false")
	}
}
