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

package congestion

import (
	"sync"
	"time"

	"github.com/enfein/congestion/pkg/mathext"
	"github.com/enfein/congestion/pkg/metrics"
	log "github.com/sirupsen/logrus"
)

const (
	// A packet is declared lost when at least this many packets with higher
	// packet numbers have been acknowledged.
	lossReorderingThreshold = 3
)

var (
	metricGroupName = "congestion"

	packetsSentMetric = metrics.RegisterMetric(metricGroupName, "PacketsSent", metrics.COUNTER)
	bytesSentMetric   = metrics.RegisterMetric(metricGroupName, "BytesSent", metrics.COUNTER)
	packetsAckMetric  = metrics.RegisterMetric(metricGroupName, "PacketsAcknowledged", metrics.COUNTER)
	bytesAckMetric    = metrics.RegisterMetric(metricGroupName, "BytesAcknowledged", metrics.COUNTER)
	packetsLostMetric = metrics.RegisterMetric(metricGroupName, "PacketsLost", metrics.COUNTER)
	bytesLostMetric   = metrics.RegisterMetric(metricGroupName, "BytesLost", metrics.COUNTER)
)

// sentPacketRecord is the per packet bookkeeping kept between the send and
// the acknowledgement or the loss declaration.
type sentPacketRecord struct {
	sentTime        time.Time
	bytes           int64
	retransmittable bool
}

// SentPacketManager connects the packet send and acknowledgement stream of a
// connection to a send algorithm. It owns the algorithm selected by the
// factory, wrapped in a PacingSender, tracks the bytes in flight, converts
// incoming ack frames into congestion event batches with gap based loss
// detection, and feeds RTT samples into the shared RTTStats.
type SentPacketManager struct {
	mu sync.Mutex

	// Additional context of this SentPacketManager. Used in the log.
	loggingContext string

	clock    Clock
	rttStats *RTTStats
	sender   *PacingSender

	unacked *PacketNumberIndexedQueue[sentPacketRecord]

	bytesInFlight int64

	// The packet number of the most recently sent packet.
	largestSentPacket int64

	// The largest packet number acknowledged so far.
	largestAckedPacket int64
}

// NewSentPacketManager creates a manager driving the given congestion
// control algorithm. A nil clock selects the system clock.
func NewSentPacketManager(loggingContext string, congestionControlType CongestionControlType, clock Clock, config Config, perspective Perspective) *SentPacketManager {
	if clock == nil {
		clock = DefaultClock{}
	}
	rttStats := NewRTTStats()
	algorithm := NewSendAlgorithm(loggingContext, congestionControlType, clock, rttStats, config, perspective)
	return &SentPacketManager{
		loggingContext: loggingContext,
		clock:          clock,
		rttStats:       rttStats,
		sender:         NewPacingSender(loggingContext, algorithm),
		unacked:        NewPacketNumberIndexedQueue[sentPacketRecord](),
	}
}

// OnPacketSent records a sent packet and forwards it to the send algorithm.
// Packet numbers must be strictly increasing. A packet number at or below
// the largest sent packet is ignored and false is returned.
func (m *SentPacketManager) OnPacketSent(packetNumber int64, bytes int64, hasRetransmittableData bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if packetNumber <= m.largestSentPacket {
		log.Debugf("[SentPacketManager %s] ignored out of order sent packet %d, largest sent packet is %d", m.loggingContext, packetNumber, m.largestSentPacket)
		return false
	}
	now := m.clock.Now()
	m.unacked.Emplace(packetNumber, sentPacketRecord{
		sentTime:        now,
		bytes:           bytes,
		retransmittable: hasRetransmittableData,
	})
	m.sender.OnPacketSent(now, m.bytesInFlight, packetNumber, bytes, hasRetransmittableData)
	m.largestSentPacket = packetNumber
	if hasRetransmittableData {
		m.bytesInFlight += bytes
	}
	packetsSentMetric.Add(1)
	bytesSentMetric.Add(bytes)
	return true
}

// OnAckReceived processes one incoming ack frame. ackedPacketNumbers lists
// the packet numbers newly acknowledged by the frame, in increasing order.
// ackDelay is the delay reported by the peer between receiving the largest
// acknowledged packet and sending the ack.
func (m *SentPacketManager) OnAckReceived(ackedPacketNumbers []int64, ackDelay time.Duration, eventTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if eventTime.IsZero() {
		eventTime = m.clock.Now()
	}

	var ackedPackets []AckedPacketInfo
	rttUpdated := false
	for _, packetNumber := range ackedPacketNumbers {
		record := m.unacked.GetEntry(packetNumber)
		if record == nil {
			// Duplicate or unknown acknowledgement. No information.
			continue
		}
		ackedPackets = append(ackedPackets, AckedPacketInfo{
			PacketNumber:     packetNumber,
			BytesAcked:       record.bytes,
			ReceiveTimestamp: eventTime,
		})
		if packetNumber > m.largestAckedPacket {
			m.largestAckedPacket = packetNumber
			if !record.sentTime.IsZero() {
				rttSample := eventTime.Sub(record.sentTime)
				if ackDelay > 0 && ackDelay < rttSample {
					rttSample -= ackDelay
				}
				m.rttStats.UpdateRTT(rttSample)
				rttUpdated = true
			}
		}
	}

	if len(ackedPackets) == 0 {
		return
	}

	priorInFlight := m.bytesInFlight
	for _, acked := range ackedPackets {
		record := m.unacked.GetEntry(acked.PacketNumber)
		if record != nil && record.retransmittable {
			m.bytesInFlight -= record.bytes
		}
		m.unacked.Remove(acked.PacketNumber)
		packetsAckMetric.Add(1)
		bytesAckMetric.Add(acked.BytesAcked)
	}

	// Loss detection runs after the acknowledged packets have been removed,
	// so only packets that are still outstanding can be declared lost.
	lostPackets := m.detectLostPackets()
	for _, lost := range lostPackets {
		record := m.unacked.GetEntry(lost.PacketNumber)
		if record != nil && record.retransmittable {
			m.bytesInFlight -= record.bytes
		}
		m.unacked.Remove(lost.PacketNumber)
		packetsLostMetric.Add(1)
		bytesLostMetric.Add(lost.BytesLost)
	}
	m.bytesInFlight = mathext.Max(m.bytesInFlight, 0)

	m.sender.OnCongestionEvent(rttUpdated, priorInFlight, eventTime, ackedPackets, lostPackets)
}

// OnRetransmissionTimeout forwards a retransmission timeout fired by the
// external timer infrastructure.
func (m *SentPacketManager) OnRetransmissionTimeout(packetsRetransmitted bool) {
	m.sender.OnRetransmissionTimeout(packetsRetransmitted)
}

// OnConnectionMigration resets the whole congestion state after the
// connection moved to a new path.
func (m *SentPacketManager) OnConnectionMigration() {
	m.mu.Lock()
	m.unacked = NewPacketNumberIndexedQueue[sentPacketRecord]()
	m.bytesInFlight = 0
	m.largestAckedPacket = 0
	m.mu.Unlock()
	m.sender.OnConnectionMigration()
}

// OnApplicationLimited informs the algorithm that the application has no
// more data to send.
func (m *SentPacketManager) OnApplicationLimited() {
	m.mu.Lock()
	bytesInFlight := m.bytesInFlight
	m.mu.Unlock()
	m.sender.OnApplicationLimited(bytesInFlight)
}

// AdjustNetworkParameters seeds the algorithm with a cached bandwidth and
// RTT estimation.
func (m *SentPacketManager) AdjustNetworkParameters(bandwidth Bandwidth, rtt time.Duration) {
	m.sender.AdjustNetworkParameters(bandwidth, rtt)
}

// CanSend returns true if congestion control allows one more packet to be
// sent right now.
func (m *SentPacketManager) CanSend() bool {
	m.mu.Lock()
	bytesInFlight := m.bytesInFlight
	m.mu.Unlock()
	return m.sender.CanSend(bytesInFlight)
}

// TimeUntilSend returns the pacing delay before the next packet should be
// sent. Zero means the packet can be sent immediately.
func (m *SentPacketManager) TimeUntilSend(now time.Time) time.Duration {
	m.mu.Lock()
	bytesInFlight := m.bytesInFlight
	m.mu.Unlock()
	if now.IsZero() {
		now = m.clock.Now()
	}
	return m.sender.TimeUntilSend(now, bytesInFlight)
}

func (m *SentPacketManager) BytesInFlight() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesInFlight
}

func (m *SentPacketManager) BandwidthEstimate() Bandwidth {
	return m.sender.BandwidthEstimate()
}

func (m *SentPacketManager) PacingRate() Bandwidth {
	m.mu.Lock()
	bytesInFlight := m.bytesInFlight
	m.mu.Unlock()
	return m.sender.PacingRate(bytesInFlight)
}

func (m *SentPacketManager) GetCongestionWindow() int64 {
	return m.sender.GetCongestionWindow()
}

func (m *SentPacketManager) RTTStats() *RTTStats {
	return m.rttStats
}

func (m *SentPacketManager) GetDebugState() string {
	return m.sender.GetDebugState()
}

// detectLostPackets declares tracked packets lost when the reordering
// threshold of newer packets has already been acknowledged.
func (m *SentPacketManager) detectLostPackets() []LostPacketInfo {
	if m.unacked.IsEmpty() {
		return nil
	}
	var lostPackets []LostPacketInfo
	threshold := m.largestAckedPacket - lossReorderingThreshold
	for packetNumber := m.unacked.FirstPacket(); packetNumber <= threshold; packetNumber++ {
		record := m.unacked.GetEntry(packetNumber)
		if record == nil {
			continue
		}
		lostPackets = append(lostPackets, LostPacketInfo{
			PacketNumber: packetNumber,
			BytesLost:    record.bytes,
		})
		if log.IsLevelEnabled(log.TraceLevel) {
			log.Tracef("[SentPacketManager %s] packet %d declared lost, largest acknowledged packet is %d", m.loggingContext, packetNumber, m.largestAckedPacket)
		}
	}
	return lostPackets
}
