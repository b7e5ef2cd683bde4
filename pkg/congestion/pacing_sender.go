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
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// Number of packets the connection can send immediately after quiescence
	// before pacing delays kick in.
	initialUnpacedBurst = 10

	// Delays below the alarm granularity are not worth scheduling a timer
	// for. Such sends happen immediately, trading a small burst for fewer
	// wakeups.
	pacingAlarmGranularity = time.Millisecond
)

// PacingSender wraps a send algorithm and spaces consecutive packet sends
// according to the wrapped algorithm's pacing rate. The wrapped algorithm is
// not owned, the caller remains responsible for its lifetime.
type PacingSender struct {
	mu sync.Mutex

	// Additional context of this PacingSender. Used in the log.
	loggingContext string

	sender SendAlgorithm

	// Hard limit of the pacing rate. Zero means no limit.
	maxPacingRate Bandwidth

	// Number of packets that can be sent immediately without pacing delay.
	burstTokens int64

	// The time the next packet should be sent to stay on the ideal pacing
	// schedule.
	idealNextPacketSendTime time.Time

	initialBurstSize int64

	wasLastSendDelayed bool
}

// NewPacingSender creates a pacing wrapper around sender. Panics if sender is
// nil.
func NewPacingSender(loggingContext string, sender SendAlgorithm) *PacingSender {
	if sender == nil {
		panic("sender must not be nil")
	}
	return &PacingSender{
		loggingContext:   loggingContext,
		sender:           sender,
		burstTokens:      initialUnpacedBurst,
		initialBurstSize: initialUnpacedBurst,
	}
}

// SetMaxPacingRate limits the pacing rate reported to the caller. A zero
// rate removes the limit.
func (p *PacingSender) SetMaxPacingRate(rate Bandwidth) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxPacingRate = rate
}

// OnPacketSent forwards the send to the wrapped algorithm and advances the
// pacing schedule.
func (p *PacingSender) OnPacketSent(sentTime time.Time, bytesInFlight int64, packetNumber int64, bytes int64, hasRetransmittableData bool) {
	p.sender.OnPacketSent(sentTime, bytesInFlight, packetNumber, bytes, hasRetransmittableData)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !hasRetransmittableData {
		return
	}
	if bytesInFlight <= 0 && !p.sender.InRecovery() {
		// The connection is leaving quiescence. Refill the burst allowance so
		// a short burst is not throttled by pacing.
		p.burstTokens = p.initialBurstSize
	}
	if p.burstTokens > 0 {
		p.burstTokens--
		p.wasLastSendDelayed = false
		p.idealNextPacketSendTime = time.Time{}
		return
	}

	delay := p.pacingRateLocked(bytesInFlight).TransferTime(bytes)
	if p.wasLastSendDelayed {
		// The pacing alarm fired late. Let the connection make up for the
		// lost time by keeping the schedule anchored to the ideal time
		// instead of the actual send time.
		p.idealNextPacketSendTime = p.idealNextPacketSendTime.Add(delay)
		if !p.idealNextPacketSendTime.After(sentTime) {
			// The send took longer than the pacing delay between packets,
			// so the sender is not limited by pacing.
			p.idealNextPacketSendTime = sentTime
			p.wasLastSendDelayed = false
		}
	} else {
		next := p.idealNextPacketSendTime.Add(delay)
		if t := sentTime.Add(delay); t.After(next) {
			next = t
		}
		p.idealNextPacketSendTime = next
	}
	if log.IsLevelEnabled(log.TraceLevel) {
		log.Tracef("[PacingSender %s] OnPacketSent(packetNumber=%d, bytes=%d) idealNextPacketSendTime=%s", p.loggingContext, packetNumber, bytes, p.idealNextPacketSendTime.Format(timeFormat))
	}
}

// TimeUntilSend returns how long the caller should wait before putting the
// next packet on the wire. Zero means the packet can be sent immediately.
// Pacing never creates a send opportunity that congestion control forbids,
// so the caller must still consult CanSend.
func (p *PacingSender) TimeUntilSend(now time.Time, bytesInFlight int64) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.sender.CanSend(bytesInFlight) {
		return 0
	}
	if p.burstTokens > 0 || bytesInFlight <= 0 {
		return 0
	}
	if p.idealNextPacketSendTime.After(now.Add(pacingAlarmGranularity)) {
		p.wasLastSendDelayed = true
		return p.idealNextPacketSendTime.Sub(now)
	}
	return 0
}

// PacingRate delegates to the wrapped algorithm, clamped to the configured
// maximum pacing rate.
func (p *PacingSender) PacingRate(bytesInFlight int64) Bandwidth {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pacingRateLocked(bytesInFlight)
}

func (p *PacingSender) pacingRateLocked(bytesInFlight int64) Bandwidth {
	rate := p.sender.PacingRate(bytesInFlight)
	if p.maxPacingRate > 0 && rate > p.maxPacingRate {
		return p.maxPacingRate
	}
	return rate
}

// The remaining methods delegate to the wrapped algorithm unchanged.

func (p *PacingSender) SetFromConfig(config Config, perspective Perspective) {
	p.mu.Lock()
	p.maxPacingRate = config.MaxPacingRate
	p.mu.Unlock()
	p.sender.SetFromConfig(config, perspective)
}

func (p *PacingSender) AdjustNetworkParameters(bandwidth Bandwidth, rtt time.Duration) {
	p.sender.AdjustNetworkParameters(bandwidth, rtt)
}

func (p *PacingSender) OnCongestionEvent(rttUpdated bool, priorInFlight int64, eventTime time.Time, ackedPackets []AckedPacketInfo, lostPackets []LostPacketInfo) {
	p.sender.OnCongestionEvent(rttUpdated, priorInFlight, eventTime, ackedPackets, lostPackets)
}

func (p *PacingSender) OnRetransmissionTimeout(packetsRetransmitted bool) {
	p.sender.OnRetransmissionTimeout(packetsRetransmitted)
}

func (p *PacingSender) OnConnectionMigration() {
	p.mu.Lock()
	p.burstTokens = p.initialBurstSize
	p.idealNextPacketSendTime = time.Time{}
	p.wasLastSendDelayed = false
	p.mu.Unlock()
	p.sender.OnConnectionMigration()
}

func (p *PacingSender) OnApplicationLimited(bytesInFlight int64) {
	p.sender.OnApplicationLimited(bytesInFlight)
}

func (p *PacingSender) CanSend(bytesInFlight int64) bool {
	return p.sender.CanSend(bytesInFlight)
}

func (p *PacingSender) BandwidthEstimate() Bandwidth {
	return p.sender.BandwidthEstimate()
}

func (p *PacingSender) GetCongestionWindow() int64 {
	return p.sender.GetCongestionWindow()
}

func (p *PacingSender) GetSlowStartThreshold() int64 {
	return p.sender.GetSlowStartThreshold()
}

func (p *PacingSender) InSlowStart() bool {
	return p.sender.InSlowStart()
}

func (p *PacingSender) InRecovery() bool {
	return p.sender.InRecovery()
}

func (p *PacingSender) IsProbingForMoreBandwidth() bool {
	return p.sender.IsProbingForMoreBandwidth()
}

func (p *PacingSender) GetDebugState() string {
	return p.sender.GetDebugState()
}

var _ SendAlgorithm = &PacingSender{}
