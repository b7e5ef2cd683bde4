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

import "testing"

func TestPrrFirstAckAfterLossGrantsSend(t *testing.T) {
	prr := PrrSender{}

	prr.OnPacketLost(10000)
	prr.OnPacketAcked(1000)

	// No bytes were sent since the loss, so the very first opportunity is
	// always granted.
	if !prr.CanSend(5000, 9000, 5000) {
		t.Errorf("CanSend() = false on the first opportunity after a loss, want true")
	}

	// Re-evaluating with the same inputs yields the same answer.
	if !prr.CanSend(5000, 9000, 5000) {
		t.Errorf("CanSend() is not idempotent")
	}
}

func TestPrrSingleLossResultsInSendOnEveryOtherAck(t *testing.T) {
	prr := PrrSender{}

	// After a loss cut the slow start threshold equals the reduced window.
	congestionWindow := 10 * maxDatagramSize
	bytesInFlight := 20 * maxDatagramSize
	sstresh := congestionWindow

	prr.OnPacketLost(bytesInFlight)

	// Ack a packet. PRR allows one packet to leave immediately.
	prr.OnPacketAcked(maxDatagramSize)
	bytesInFlight -= maxDatagramSize
	if !prr.CanSend(congestionWindow, bytesInFlight, sstresh) {
		t.Fatalf("CanSend() = false after the first ack, want true")
	}

	// Send a packet in response, PRR disallows the next send.
	prr.OnPacketSent(maxDatagramSize)
	if prr.CanSend(congestionWindow, bytesInFlight, sstresh) {
		t.Fatalf("CanSend() = true directly after a send, want false")
	}

	// One packet is allowed for every other ack while bytes in flight is
	// above the congestion window.
	for i := 0; i < 10; i++ {
		prr.OnPacketAcked(maxDatagramSize)
		bytesInFlight -= maxDatagramSize
		if !prr.CanSend(congestionWindow, bytesInFlight, sstresh) {
			t.Fatalf("CanSend() = false after ack %d, want true", i+1)
		}
		prr.OnPacketSent(maxDatagramSize)
		if prr.CanSend(congestionWindow, bytesInFlight, sstresh) {
			t.Fatalf("CanSend() = true directly after send %d, want false", i+1)
		}
	}

	// Once bytes in flight drops below the congestion window, sends are no
	// longer restricted.
	bytesInFlight = congestionWindow - maxDatagramSize
	if !prr.CanSend(congestionWindow, bytesInFlight, sstresh) {
		t.Errorf("CanSend() = false with bytes in flight below the congestion window, want true")
	}
}

func TestPrrBurstLossSlowStartReduction(t *testing.T) {
	prr := PrrSender{}

	// Lose most of the window at once.
	bytesInFlight := 20 * maxDatagramSize
	prr.OnPacketLost(bytesInFlight)
	congestionWindow := 10 * maxDatagramSize
	sstresh := congestionWindow

	// The catch-up rule of PRR-SSRB: grant one extra send for every two
	// acked packets while sent bytes lag delivered bytes.
	prr.OnPacketAcked(maxDatagramSize)
	bytesInFlight -= maxDatagramSize
	prr.OnPacketAcked(maxDatagramSize)
	bytesInFlight -= maxDatagramSize
	for i := 0; i < 2; i++ {
		if !prr.CanSend(congestionWindow, bytesInFlight, sstresh) {
			t.Fatalf("CanSend() = false during catch-up send %d, want true", i+1)
		}
		prr.OnPacketSent(maxDatagramSize)
	}
}
