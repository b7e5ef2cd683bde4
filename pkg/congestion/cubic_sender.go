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
	"fmt"
	"sync"
	"time"

	"github.com/enfein/congestion/pkg/mathext"
	log "github.com/sirupsen/logrus"
)

const (
	// Maximum burst allowance outside of slow start.
	maxBurstBytes = 3 * maxDatagramSize

	// The floor of the congestion window after any reduction.
	defaultCubicMinimumCongestionWindow = 2 * maxDatagramSize

	defaultCubicInitialCongestionWindow = 32 * maxDatagramSize
)

// CubicSender implements the classical TCP congestion control, CUBIC by
// default or Reno when the reno flag is set, using byte arithmetic. It
// composes HybridSlowStart, PrrSender and Cubic into one state machine:
// slow start until the hybrid slow start heuristic or a loss ends it,
// congestion avoidance growth driven by Cubic or Reno, and PRR controlled
// recovery after a loss.
type CubicSender struct {
	mu sync.Mutex

	// Additional context of this CubicSender. Used in the log.
	loggingContext string

	clock    Clock
	rttStats *RTTStats

	hybridSlowStart HybridSlowStart
	prr             PrrSender
	cubic           *Cubic

	// When true, use Reno additive increase instead of the cubic function.
	reno bool

	// Number of emulated parallel TCP connections.
	numConnections int

	noPRR                   bool
	slowStartLargeReduction bool
	min4Mode                bool

	// The packet number of the most recently sent packet.
	largestSentPacketNumber int64

	// The largest packet number acknowledged so far.
	largestAckedPacketNumber int64

	// The largest packet number sent when the congestion window was reduced
	// the last time. Acknowledgments at or below this number are absorbed by
	// the current recovery episode.
	largestSentAtLastCutback int64

	// Whether the last loss event caused us to exit slow start. Used for
	// stats collection of slow start rollback.
	lastCutbackExitedSlowstart bool

	// The minimum window when exiting slow start with large reduction.
	minSlowStartExitWindow int64

	// Congestion window in bytes.
	congestionWindow int64

	// The congestion window can never drop below this value.
	minCongestionWindow int64

	// The congestion window can never grow beyond this value.
	maxCongestionWindow int64

	// Slow start congestion window in bytes, aka ssthresh.
	slowstartThreshold int64

	initialCongestionWindow    int64
	initialMaxCongestionWindow int64

	// Acks received since the last window increase in Reno mode.
	numAckedPackets int64
}

var _ SendAlgorithm = &CubicSender{}

// NewCubicSender creates a Reno or CUBIC congestion control.
func NewCubicSender(loggingContext string, clock Clock, rttStats *RTTStats, reno bool) *CubicSender {
	if clock == nil {
		clock = DefaultClock{}
	}
	if rttStats == nil {
		rttStats = NewRTTStats()
	}
	return &CubicSender{
		loggingContext:             loggingContext,
		clock:                      clock,
		rttStats:                   rttStats,
		cubic:                      NewCubic(clock),
		reno:                       reno,
		numConnections:             defaultNumConnections,
		congestionWindow:           defaultCubicInitialCongestionWindow,
		minCongestionWindow:        defaultCubicMinimumCongestionWindow,
		maxCongestionWindow:        defaultMaximumCongestionWindow,
		slowstartThreshold:         defaultMaximumCongestionWindow,
		initialCongestionWindow:    defaultCubicInitialCongestionWindow,
		initialMaxCongestionWindow: defaultMaximumCongestionWindow,
	}
}

func (s *CubicSender) SetFromConfig(config Config, perspective Perspective) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if config.NumEmulatedConnections > 0 {
		s.numConnections = mathext.Max(config.NumEmulatedConnections, 1)
		s.cubic.SetNumConnections(s.numConnections)
	}
	if config.InitialCongestionWindowPackets > 0 {
		s.initialCongestionWindow = config.InitialCongestionWindowPackets * maxDatagramSize
		s.congestionWindow = s.initialCongestionWindow
	}
	if config.MaxCongestionWindowPackets > 0 {
		s.maxCongestionWindow = config.MaxCongestionWindowPackets * maxDatagramSize
		s.initialMaxCongestionWindow = s.maxCongestionWindow
		s.slowstartThreshold = s.maxCongestionWindow
	}
	s.noPRR = config.NoPRR
	s.slowStartLargeReduction = config.SlowStartLargeReduction
	s.min4Mode = config.Min4Mode
	s.cubic.SetAllowPerAckUpdates(config.CubicPerAckUpdates)
}

func (s *CubicSender) AdjustNetworkParameters(bandwidth Bandwidth, rtt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bandwidth <= 0 || rtt <= 0 {
		return
	}
	s.congestionWindow = mathext.Mid(s.minCongestionWindow, bandwidth.ToBytesPerPeriod(rtt), s.maxCongestionWindow)
}

func (s *CubicSender) OnCongestionEvent(rttUpdated bool, priorInFlight int64, eventTime time.Time, ackedPackets []AckedPacketInfo, lostPackets []LostPacketInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rttUpdated && s.isInSlowStart() && s.hybridSlowStart.ShouldExitSlowStart(s.rttStats.LatestRTT(), s.rttStats.MinRTT(), s.getCongestionWindow()/maxDatagramSize) {
		s.exitSlowstart()
	}
	for _, lostPacket := range lostPackets {
		if log.IsLevelEnabled(log.TraceLevel) {
			log.Tracef("[CubicSender %s] OnCongestionEvent(priorInFlight=%d, lostPacket=%v)", s.loggingContext, priorInFlight, lostPacket)
		}
		s.onPacketLost(lostPacket.PacketNumber, lostPacket.BytesLost, priorInFlight)
	}
	for _, ackedPacket := range ackedPackets {
		if log.IsLevelEnabled(log.TraceLevel) {
			log.Tracef("[CubicSender %s] OnCongestionEvent(priorInFlight=%d, ackedPacket=%v)", s.loggingContext, priorInFlight, ackedPacket)
		}
		s.onPacketAcked(ackedPacket.PacketNumber, ackedPacket.BytesAcked, priorInFlight, eventTime)
	}
}

func (s *CubicSender) OnPacketSent(sentTime time.Time, bytesInFlight int64, packetNumber int64, bytes int64, hasRetransmittableData bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !hasRetransmittableData {
		return
	}
	if s.isInRecovery() && !s.noPRR {
		// PRR is used when in recovery.
		s.prr.OnPacketSent(bytes)
	}
	s.largestSentPacketNumber = packetNumber
	s.hybridSlowStart.OnPacketSent(packetNumber)
}

func (s *CubicSender) OnRetransmissionTimeout(packetsRetransmitted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.largestSentAtLastCutback = 0
	if !packetsRetransmitted {
		return
	}
	s.hybridSlowStart.Restart()
	s.cubic.Reset()
	s.slowstartThreshold = s.congestionWindow / 2
	s.congestionWindow = s.minCongestionWindow
}

func (s *CubicSender) OnConnectionMigration() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hybridSlowStart.Restart()
	s.prr = PrrSender{}
	s.largestSentPacketNumber = 0
	s.largestAckedPacketNumber = 0
	s.largestSentAtLastCutback = 0
	s.lastCutbackExitedSlowstart = false
	s.cubic.Reset()
	s.numAckedPackets = 0
	s.congestionWindow = s.initialCongestionWindow
	s.maxCongestionWindow = s.initialMaxCongestionWindow
	s.slowstartThreshold = s.initialMaxCongestionWindow
}

func (s *CubicSender) OnApplicationLimited(bytesInFlight int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cubic.OnApplicationLimited()
}

func (s *CubicSender) CanSend(bytesInFlight int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.noPRR && s.isInRecovery() {
		return s.prr.CanSend(s.getCongestionWindow(), bytesInFlight, s.slowstartThreshold)
	}
	if bytesInFlight < s.getCongestionWindow() {
		return true
	}
	return s.min4Mode && bytesInFlight < 4*maxDatagramSize
}

func (s *CubicSender) PacingRate(bytesInFlight int64) Bandwidth {
	s.mu.Lock()
	defer s.mu.Unlock()

	// We pace at twice the rate of the underlying sender's bandwidth estimate
	// during slow start and 1.25x during congestion avoidance to ensure
	// pacing doesn't prevent us from filling the window.
	srtt := s.rttStats.SmoothedRTT()
	if srtt <= 0 {
		srtt = defaultInitialRTT
	}
	pacingRate := BandwidthFromBytesAndTimeDelta(s.getCongestionWindow(), srtt)
	if s.noPRR && s.isInRecovery() {
		return pacingRate
	}
	if s.isInSlowStart() {
		return pacingRate.Scale(2)
	}
	return pacingRate.Scale(1.25)
}

func (s *CubicSender) BandwidthEstimate() Bandwidth {
	s.mu.Lock()
	defer s.mu.Unlock()

	srtt := s.rttStats.SmoothedRTT()
	if srtt <= 0 {
		// If we haven't measured an rtt, the bandwidth estimate is unknown.
		return 0
	}
	return BandwidthFromBytesAndTimeDelta(s.getCongestionWindow(), srtt)
}

func (s *CubicSender) GetCongestionWindow() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCongestionWindow()
}

func (s *CubicSender) GetSlowStartThreshold() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slowstartThreshold
}

func (s *CubicSender) InSlowStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isInSlowStart()
}

func (s *CubicSender) InRecovery() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isInRecovery()
}

func (s *CubicSender) IsProbingForMoreBandwidth() bool {
	return false
}

func (s *CubicSender) GetDebugState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("CubicSender{reno=%v, congestionWindow=%d, slowstartThreshold=%d, slowStart=%v, recovery=%v}",
		s.reno, s.congestionWindow, s.slowstartThreshold, s.isInSlowStart(), s.isInRecovery())
}

// SetNumEmulatedConnections makes the sender behave like an ensemble of n
// parallel TCP connections.
func (s *CubicSender) SetNumEmulatedConnections(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.numConnections = mathext.Max(n, 1)
	s.cubic.SetNumConnections(s.numConnections)
}

func (s *CubicSender) isInSlowStart() bool {
	return s.congestionWindow < s.slowstartThreshold
}

func (s *CubicSender) isInRecovery() bool {
	return s.largestAckedPacketNumber != 0 && s.largestAckedPacketNumber <= s.largestSentAtLastCutback
}

func (s *CubicSender) getCongestionWindow() int64 {
	return s.congestionWindow
}

func (s *CubicSender) exitSlowstart() {
	if log.IsLevelEnabled(log.TraceLevel) {
		log.Tracef("[CubicSender %s] exiting slow start with congestionWindow=%d", s.loggingContext, s.congestionWindow)
	}
	s.slowstartThreshold = s.congestionWindow
}

// renoBeta is the backoff factor after loss for our N-connection emulation,
// which emulates the effective backoff of an ensemble of N TCP-Reno
// connections on a single loss event.
func (s *CubicSender) renoBeta() float32 {
	return (float32(s.numConnections) - 1 + cubicBeta) / float32(s.numConnections)
}

func (s *CubicSender) onPacketAcked(ackedPacketNumber int64, ackedBytes int64, priorInFlight int64, eventTime time.Time) {
	s.largestAckedPacketNumber = mathext.Max(s.largestAckedPacketNumber, ackedPacketNumber)
	if s.isInRecovery() {
		if !s.noPRR {
			// PRR is used when in recovery.
			s.prr.OnPacketAcked(ackedBytes)
		}
		return
	}
	s.maybeIncreaseCwnd(ackedPacketNumber, ackedBytes, priorInFlight, eventTime)
	if s.isInSlowStart() {
		s.hybridSlowStart.OnPacketAcked(ackedPacketNumber)
	}
}

func (s *CubicSender) onPacketLost(packetNumber int64, lostBytes int64, priorInFlight int64) {
	// TCP NewReno (RFC 6582) says that once a loss occurs, any losses in
	// packets already sent should be treated as a single loss event, since
	// it's expected.
	if packetNumber <= s.largestSentAtLastCutback {
		if s.lastCutbackExitedSlowstart && s.slowStartLargeReduction {
			// Near-equivalent of the slow start loss exit: reduce the
			// window by the lost bytes, but never below half of the window
			// at the time of the exit.
			s.congestionWindow = mathext.Max(s.congestionWindow-lostBytes, s.minSlowStartExitWindow)
			s.slowstartThreshold = s.congestionWindow
		}
		return
	}
	s.lastCutbackExitedSlowstart = s.isInSlowStart()

	if !s.noPRR {
		s.prr.OnPacketLost(priorInFlight)
	}

	if s.slowStartLargeReduction && s.isInSlowStart() {
		if s.congestionWindow >= 2*s.initialCongestionWindow {
			s.minSlowStartExitWindow = s.congestionWindow / 2
		}
		s.congestionWindow -= maxDatagramSize
	} else if s.reno {
		s.congestionWindow = int64(float32(s.congestionWindow) * s.renoBeta())
	} else {
		s.congestionWindow = s.cubic.CongestionWindowAfterPacketLoss(s.congestionWindow)
	}
	s.congestionWindow = mathext.Max(s.congestionWindow, s.minCongestionWindow)
	s.slowstartThreshold = s.congestionWindow
	s.largestSentAtLastCutback = s.largestSentPacketNumber
	// Reset packet count from congestion avoidance mode. We start counting
	// again when we're out of recovery.
	s.numAckedPackets = 0
	if log.IsLevelEnabled(log.TraceLevel) {
		log.Tracef("[CubicSender %s] packet %d lost, new congestionWindow=%d, slowstartThreshold=%d", s.loggingContext, packetNumber, s.congestionWindow, s.slowstartThreshold)
	}
}

// maybeIncreaseCwnd is called once per congestion event when not in recovery.
func (s *CubicSender) maybeIncreaseCwnd(ackedPacketNumber int64, ackedBytes int64, priorInFlight int64, eventTime time.Time) {
	// Do not increase the congestion window unless the sender is close to
	// using the current window.
	if !s.isCwndLimited(priorInFlight) {
		s.cubic.OnApplicationLimited()
		return
	}
	if s.congestionWindow >= s.maxCongestionWindow {
		return
	}
	if s.isInSlowStart() {
		// TCP slow start, exponential growth, increase by one for each ACK.
		s.congestionWindow += maxDatagramSize
		return
	}
	// Congestion avoidance.
	if s.reno {
		// Classic Reno congestion avoidance.
		s.numAckedPackets++
		// Divide by numConnections to smoothly increase the CWND at a faster
		// rate than conventional Reno.
		if s.numAckedPackets*int64(s.numConnections) >= s.congestionWindow/maxDatagramSize {
			s.congestionWindow += maxDatagramSize
			s.numAckedPackets = 0
		}
	} else {
		s.congestionWindow = mathext.Min(s.maxCongestionWindow, s.cubic.CongestionWindowAfterAck(ackedBytes, s.congestionWindow, s.rttStats.MinRTT(), eventTime))
	}
}

func (s *CubicSender) isCwndLimited(bytesInFlight int64) bool {
	congestionWindow := s.getCongestionWindow()
	if bytesInFlight >= congestionWindow {
		return true
	}
	availableBytes := congestionWindow - bytesInFlight
	slowStartLimited := s.isInSlowStart() && bytesInFlight > congestionWindow/2
	return slowStartLimited || availableBytes <= maxBurstBytes
}
