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

func TestBandwidthSamplerFirstAckHasNoReference(t *testing.T) {
	sampler := NewBandwidthSampler()
	start := time.Now()

	sampler.OnPacketSent(start, 1, 1000, 1000, true)
	sampler.OnPacketSent(start.Add(10*time.Millisecond), 2, 1000, 2000, true)

	// The first acknowledged packet has no previously acknowledged packet to
	// measure against, so no bandwidth sample can be produced.
	sample := sampler.OnPacketAcknowledged(start.Add(20*time.Millisecond), 1)
	if sample.bandwidth != 0 {
		t.Errorf("first acknowledgement produced bandwidth %v, want 0", sample.bandwidth)
	}

	// The second acknowledgement has both reference points.
	sample = sampler.OnPacketAcknowledged(start.Add(30*time.Millisecond), 2)
	if sample.bandwidth <= 0 {
		t.Errorf("second acknowledgement produced bandwidth %v, want a positive value", sample.bandwidth)
	}
	if sample.bandwidth.IsInfinite() {
		t.Errorf("second acknowledgement produced an infinite bandwidth sample")
	}
}

func TestBandwidthSamplerSendAndAckRateBound(t *testing.T) {
	sampler := NewBandwidthSampler()
	start := time.Now()
	rtt := 50 * time.Millisecond
	packetSize := int64(1500)

	// Send 20 packets at a constant rate of one packet per 1ms, acknowledge
	// each of them one RTT after it was sent.
	sendInterval := time.Millisecond
	var inFlight int64
	for i := int64(1); i <= 20; i++ {
		inFlight += packetSize
		sampler.OnPacketSent(start.Add(time.Duration(i)*sendInterval), i, packetSize, inFlight, true)
	}
	sendRate := BandwidthFromBytesAndTimeDelta(packetSize, sendInterval)
	for i := int64(1); i <= 20; i++ {
		sample := sampler.OnPacketAcknowledged(start.Add(time.Duration(i)*sendInterval+rtt), i)
		if i == 1 {
			continue
		}
		if sample.bandwidth <= 0 {
			t.Fatalf("acknowledgement of packet %d produced bandwidth %v, want a positive value", i, sample.bandwidth)
		}
		// Both curves advance at the send rate, the sample can not exceed it.
		if sample.bandwidth > sendRate {
			t.Fatalf("acknowledgement of packet %d produced bandwidth %v, want at most the send rate %v", i, sample.bandwidth, sendRate)
		}
		if sample.rtt != rtt {
			t.Fatalf("acknowledgement of packet %d produced rtt %v, want %v", i, sample.rtt, rtt)
		}
	}
}

func TestBandwidthSamplerMonotonicAccounting(t *testing.T) {
	sampler := NewBandwidthSampler()
	start := time.Now()

	var wantSent int64
	for i := int64(1); i <= 50; i++ {
		bytes := 100 * i
		wantSent += bytes
		sampler.OnPacketSent(start.Add(time.Duration(i)*time.Millisecond), i, bytes, wantSent, true)
		if sampler.totalBytesSent != wantSent {
			t.Fatalf("totalBytesSent = %d after packet %d, want %d", sampler.totalBytesSent, i, wantSent)
		}
	}
}

func TestBandwidthSamplerAppLimitedPhase(t *testing.T) {
	sampler := NewBandwidthSampler()
	start := time.Now()

	sampler.OnPacketSent(start, 1, 1000, 1000, true)
	sampler.OnAppLimited()
	if !sampler.IsAppLimited() {
		t.Fatalf("IsAppLimited() = false after OnAppLimited()")
	}
	if sampler.EndOfAppLimitedPhase() != 1 {
		t.Errorf("EndOfAppLimitedPhase() = %d, want %d", sampler.EndOfAppLimitedPhase(), 1)
	}

	// Packets sent during the app-limited phase produce app-limited samples.
	sampler.OnPacketSent(start.Add(10*time.Millisecond), 2, 1000, 1000, true)
	sampler.OnPacketAcknowledged(start.Add(20*time.Millisecond), 1)
	sample := sampler.OnPacketAcknowledged(start.Add(30*time.Millisecond), 2)
	if !sample.isAppLimited {
		t.Errorf("sample of a packet sent in the app-limited phase is not marked app-limited")
	}

	// The phase expires once a packet past its end is acknowledged.
	if sampler.IsAppLimited() {
		t.Errorf("IsAppLimited() = true after acknowledging a packet past the app-limited phase")
	}
}

func TestBandwidthSamplerUnknownPacket(t *testing.T) {
	sampler := NewBandwidthSampler()

	// Acknowledging a packet the sampler does not track is not an error.
	sample := sampler.OnPacketAcknowledged(time.Now(), 42)
	if sample.bandwidth != 0 {
		t.Errorf("acknowledgement of an unknown packet produced bandwidth %v, want 0", sample.bandwidth)
	}
}
