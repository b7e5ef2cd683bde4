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
	"time"

	"github.com/enfein/congestion/pkg/mathext"
)

// Note(pwestin): the magic clamping numbers come from the original code in
// tcp_cubic.c.
const hybridStartLowWindow = int64(16)

// Number of delay samples for detecting the increase of delay.
const hybridStartMinSamples = uint32(8)

// Exit slow start if the min rtt has increased by more than 1/8th.
const hybridStartDelayFactorExp = 3 // 2^3 = 8

// The original paper specifies 2 and 8ms, but those have changed over time.
const (
	hybridStartDelayMinThresholdUs = int64(4000)
	hybridStartDelayMaxThresholdUs = int64(16000)
)

// HybridSlowStart implements the TCP hybrid slow start algorithm.
// It detects imminent queue buildup from the growth of per-round minimum RTT,
// and signals the sender to leave slow start before the first loss.
type HybridSlowStart struct {
	endPacketNumber      int64
	lastSentPacketNumber int64
	started              bool
	currentMinRTT        time.Duration
	rttSampleCount       uint32
	hystartFound         bool
}

// StartReceiveRound is called at the beginning of each receive round.
func (s *HybridSlowStart) StartReceiveRound(lastSent int64) {
	s.endPacketNumber = lastSent
	s.currentMinRTT = 0
	s.rttSampleCount = 0
	s.started = true
}

// IsEndOfRound returns true if this ack is the last packet number of our
// current slow start round.
func (s *HybridSlowStart) IsEndOfRound(ack int64) bool {
	return s.endPacketNumber < ack
}

// ShouldExitSlowStart returns true if the connection should exit slow start.
// It is called on every new ack frame, since a new RTT measurement can be
// made then.
//
// rtt: the RTT for this ack packet.
// minRTT: is the lowest delay (RTT) we have seen during the session.
// congestionWindow: the congestion window size in packets.
func (s *HybridSlowStart) ShouldExitSlowStart(latestRTT time.Duration, minRTT time.Duration, congestionWindow int64) bool {
	if !s.started {
		// Time to start the hybrid slow start.
		s.StartReceiveRound(s.lastSentPacketNumber)
	}
	if s.hystartFound {
		return congestionWindow >= hybridStartLowWindow
	}
	// Accumulate the round's minimum RTT over the first samples. Once enough
	// samples have been collected, every further sample of the round is
	// checked against the delay threshold, so a single late spike within the
	// round is still detected.
	if s.rttSampleCount < hybridStartMinSamples {
		s.rttSampleCount++
		if s.currentMinRTT == 0 || s.currentMinRTT > latestRTT {
			s.currentMinRTT = latestRTT
		}
	}
	if s.rttSampleCount >= hybridStartMinSamples {
		// Divide minRTT by 8 to get a rtt increase threshold for exiting.
		minRTTIncreaseThresholdUs := minRTT.Microseconds() >> hybridStartDelayFactorExp
		// Ensure the rtt threshold is never less than 2ms or more than 16ms.
		minRTTIncreaseThresholdUs = mathext.Min(minRTTIncreaseThresholdUs, hybridStartDelayMaxThresholdUs)
		minRTTIncreaseThreshold := time.Duration(mathext.Max(minRTTIncreaseThresholdUs, hybridStartDelayMinThresholdUs)) * time.Microsecond

		if mathext.Max(s.currentMinRTT, latestRTT) > minRTT+minRTTIncreaseThreshold {
			s.hystartFound = true
		}
	}
	return congestionWindow >= hybridStartLowWindow && s.hystartFound
}

// OnPacketSent is called when a packet was sent.
func (s *HybridSlowStart) OnPacketSent(packetNumber int64) {
	s.lastSentPacketNumber = packetNumber
}

// OnPacketAcked gets invoked after ShouldExitSlowStart, so it's best to end
// the round when the final packet of the burst is received and start it on
// the next incoming ack.
func (s *HybridSlowStart) OnPacketAcked(ackedPacketNumber int64) {
	if s.IsEndOfRound(ackedPacketNumber) {
		s.started = false
	}
}

// Started returns true if started.
func (s *HybridSlowStart) Started() bool {
	return s.started
}

// Restart resets the slow start phase.
func (s *HybridSlowStart) Restart() {
	s.started = false
	s.hystartFound = false
}
