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

func TestCubicWindowAfterPacketLoss(t *testing.T) {
	cubic := NewCubic(DefaultClock{})

	got := cubic.CongestionWindowAfterPacketLoss(100)
	if got != 70 {
		t.Errorf("CongestionWindowAfterPacketLoss(100) = %d, want %d", got, 70)
	}
	if cubic.lastMaxCongestionWindow != 100 {
		t.Errorf("lastMaxCongestionWindow = %d, want %d", cubic.lastMaxCongestionWindow, 100)
	}
}

func TestCubicFastConvergence(t *testing.T) {
	cubic := NewCubic(DefaultClock{})

	cubic.CongestionWindowAfterPacketLoss(100 * maxDatagramSize)

	// The window never got back to the previous max, so the recorded max is
	// reduced by an extra backoff factor.
	currentWindow := int64(50 * maxDatagramSize)
	got := cubic.CongestionWindowAfterPacketLoss(currentWindow)
	if want := int64(float32(currentWindow) * 0.7); got != want {
		t.Errorf("CongestionWindowAfterPacketLoss(%d) = %d, want %d", currentWindow, got, want)
	}
	if want := int64(float32(currentWindow) * 0.85); cubic.lastMaxCongestionWindow != want {
		t.Errorf("lastMaxCongestionWindow = %d, want %d", cubic.lastMaxCongestionWindow, want)
	}
}

func TestCubicWindowGrowsAfterAck(t *testing.T) {
	cubic := NewCubic(DefaultClock{})
	cubic.SetAllowPerAckUpdates(true)

	currentWindow := 10 * maxDatagramSize
	minRTT := 100 * time.Millisecond
	eventTime := time.Now()

	// The first ack starts a new epoch at currentWindow.
	window := cubic.CongestionWindowAfterAck(maxDatagramSize, currentWindow, minRTT, eventTime)
	if window < currentWindow {
		t.Errorf("CongestionWindowAfterAck() = %d, want at least %d", window, currentWindow)
	}

	// Successive acks with advancing time never shrink the window.
	previous := window
	for i := 1; i <= 20; i++ {
		eventTime = eventTime.Add(minRTT)
		window = cubic.CongestionWindowAfterAck(maxDatagramSize, previous, minRTT, eventTime)
		if window < previous {
			t.Fatalf("CongestionWindowAfterAck() = %d after %d acks, previous window was %d", window, i+1, previous)
		}
		previous = window
	}
	if previous <= currentWindow {
		t.Errorf("congestion window did not grow, got %d from initial %d", previous, currentWindow)
	}
}

func TestCubicRecomputeThrottle(t *testing.T) {
	cubic := NewCubic(DefaultClock{})

	currentWindow := 20 * maxDatagramSize
	minRTT := 50 * time.Millisecond
	eventTime := time.Now()

	first := cubic.CongestionWindowAfterAck(maxDatagramSize, currentWindow, minRTT, eventTime)

	// Within 30ms and with an unchanged window, the target is not recomputed.
	second := cubic.CongestionWindowAfterAck(maxDatagramSize, currentWindow, minRTT, eventTime.Add(10*time.Millisecond))
	if second != first {
		t.Errorf("CongestionWindowAfterAck() = %d within the recompute interval, want %d", second, first)
	}
}

func TestCubicApplicationLimitedFreezesGrowth(t *testing.T) {
	cubic := NewCubic(DefaultClock{})
	cubic.SetAllowPerAckUpdates(true)

	currentWindow := 10 * maxDatagramSize
	minRTT := 100 * time.Millisecond
	eventTime := time.Now()

	cubic.CongestionWindowAfterAck(maxDatagramSize, currentWindow, minRTT, eventTime)
	if cubic.epoch.IsZero() {
		t.Fatalf("epoch is not started after the first ack")
	}
	cubic.OnApplicationLimited()
	if !cubic.epoch.IsZero() {
		t.Errorf("epoch is not reset by OnApplicationLimited()")
	}
}
