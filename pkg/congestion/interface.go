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
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	timeFormat = "15:04:05.999"

	maxDatagramSize = int64(1500)
)

// CongestionControlType selects the congestion control algorithm of a
// connection.
type CongestionControlType int

const (
	// CUBIC using byte arithmetic.
	CongestionControlCubic CongestionControlType = iota

	// Reno using byte arithmetic.
	CongestionControlReno

	// BBR version 1.
	CongestionControlBBR

	// Performance-oriented congestion control. There is no implementation
	// available, requesting it falls back to CUBIC.
	CongestionControlPCC
)

func (t CongestionControlType) String() string {
	switch t {
	case CongestionControlCubic:
		return "CUBIC"
	case CongestionControlReno:
		return "Reno"
	case CongestionControlBBR:
		return "BBR"
	case CongestionControlPCC:
		return "PCC"
	default:
		return "UNKNOWN"
	}
}

// Perspective indicates whether the endpoint initiated the connection.
type Perspective int

const (
	PerspectiveClient Perspective = iota
	PerspectiveServer
)

func (p Perspective) String() string {
	switch p {
	case PerspectiveClient:
		return "client"
	case PerspectiveServer:
		return "server"
	default:
		return "UNKNOWN"
	}
}

// Config carries the tunable options of the congestion control algorithms.
// It replaces runtime connection option negotiation: the value passed to the
// factory is never mutated afterwards.
type Config struct {
	// Initial congestion window in packets. Zero selects the default.
	InitialCongestionWindowPackets int64

	// Largest congestion window in packets. Zero selects the default.
	MaxCongestionWindowPackets int64

	// Number of emulated parallel TCP connections used by the Reno and CUBIC
	// backoff and growth math. Zero or one emulates a single connection.
	NumEmulatedConnections int

	// Disable proportional rate reduction during recovery.
	NoPRR bool

	// On slow start exit triggered by hybrid slow start, reduce the
	// congestion window more aggressively.
	SlowStartLargeReduction bool

	// Always allow at least 4 segments in flight regardless of the
	// congestion window.
	Min4Mode bool

	// Recompute the cubic target window on every ack instead of at most
	// once per 30ms.
	CubicPerAckUpdates bool

	// BBR: disable packet conservation in STARTUP.
	RateBasedStartup bool

	// BBR: pace at 1.5x instead of 2.885x in STARTUP once loss has been
	// detected.
	SlowerStartup bool

	// BBR: stay in low gain mode until bytes in flight drops below BDP.
	FullyDrainQueue bool

	// BBR: exit STARTUP if one round has passed with no bandwidth increase
	// while the connection is in recovery.
	ExitStartupOnLoss bool

	// BBR: use 0.75 * BDP as the PROBE RTT window instead of the minimum
	// congestion window.
	ProbeRTTBasedOnBDP bool

	// BBR: skip PROBE RTT if the min RTT measured since the last probe is
	// within 12.5% of the current min RTT estimate.
	ProbeRTTSkippedIfSimilarRTT bool

	// BBR: skip PROBE RTT if the connection was recently app limited.
	ProbeRTTDisabledIfAppLimited bool

	// BBR: multiplier of the max ack height added to the congestion window
	// to compensate for ack aggregation. Zero disables the compensation.
	MaxAckHeightWindowMultiplier float64

	// Hard limit of the pacing rate. Zero means no limit.
	MaxPacingRate Bandwidth
}

// AckedPacketInfo is the information of an acknowledged packet inside one
// congestion event.
type AckedPacketInfo struct {
	PacketNumber     int64
	BytesAcked       int64
	ReceiveTimestamp time.Time
}

func (i AckedPacketInfo) String() string {
	return fmt.Sprintf("AckedPacketInfo{PacketNumber=%d, BytesAcked=%d, ReceiveTimestamp=%s}", i.PacketNumber, i.BytesAcked, i.ReceiveTimestamp.Format(timeFormat))
}

// LostPacketInfo is the information of a lost packet inside one congestion
// event.
type LostPacketInfo struct {
	PacketNumber int64
	BytesLost    int64
}

func (i LostPacketInfo) String() string {
	return fmt.Sprintf("LostPacketInfo{PacketNumber=%d, BytesLost=%d}", i.PacketNumber, i.BytesLost)
}

// SendAlgorithm decides, from the stream of sent and acknowledged packets,
// how much data may be in flight and at what rate packets should be paced
// onto the wire. Calls into one instance must be serialized by the caller.
type SendAlgorithm interface {
	// SetFromConfig applies the configuration to the algorithm.
	// It should be called before the first packet is sent.
	SetFromConfig(config Config, perspective Perspective)

	// AdjustNetworkParameters seeds the algorithm with an externally cached
	// bandwidth and RTT estimation, e.g. from a previous connection on the
	// same path.
	AdjustNetworkParameters(bandwidth Bandwidth, rtt time.Duration)

	// OnCongestionEvent processes one incoming ack frame's worth of
	// acknowledged and lost packets.
	OnCongestionEvent(rttUpdated bool, priorInFlight int64, eventTime time.Time, ackedPackets []AckedPacketInfo, lostPackets []LostPacketInfo)

	// OnPacketSent records a sent packet. Packet numbers must be strictly
	// increasing.
	OnPacketSent(sentTime time.Time, bytesInFlight int64, packetNumber int64, bytes int64, hasRetransmittableData bool)

	// OnRetransmissionTimeout reacts to a retransmission timeout fired by
	// the external timer infrastructure.
	OnRetransmissionTimeout(packetsRetransmitted bool)

	// OnConnectionMigration resets the congestion state, because path
	// characteristics before the migration carry no information about the
	// new path.
	OnConnectionMigration()

	// OnApplicationLimited informs the algorithm that the sender does not
	// have enough data to fill the congestion window.
	OnApplicationLimited(bytesInFlight int64)

	// CanSend returns true if one more packet can be sent right now.
	CanSend(bytesInFlight int64) bool

	// PacingRate returns the rate at which packets should leave the sender.
	PacingRate(bytesInFlight int64) Bandwidth

	// BandwidthEstimate returns the estimated bandwidth of the connection.
	// Zero if no estimation is available.
	BandwidthEstimate() Bandwidth

	// GetCongestionWindow returns the congestion window in bytes.
	GetCongestionWindow() int64

	// GetSlowStartThreshold returns the slow start threshold in bytes.
	GetSlowStartThreshold() int64

	InSlowStart() bool

	InRecovery() bool

	IsProbingForMoreBandwidth() bool

	// GetDebugState returns a free form description of the internal state,
	// for diagnostics only.
	GetDebugState() string
}

// NewSendAlgorithm creates the send algorithm selected by
// congestionControlType. An unavailable algorithm falls back to CUBIC, it is
// not an error. A nil clock selects the system clock. A nil rttStats creates
// a private RTTStats instance.
func NewSendAlgorithm(loggingContext string, congestionControlType CongestionControlType, clock Clock, rttStats *RTTStats, config Config, perspective Perspective) SendAlgorithm {
	if clock == nil {
		clock = DefaultClock{}
	}
	if rttStats == nil {
		rttStats = NewRTTStats()
	}
	var algorithm SendAlgorithm
	switch congestionControlType {
	case CongestionControlBBR:
		algorithm = NewBBRSender(loggingContext, rttStats)
	case CongestionControlReno:
		algorithm = NewCubicSender(loggingContext, clock, rttStats, true)
	case CongestionControlCubic:
		algorithm = NewCubicSender(loggingContext, clock, rttStats, false)
	default:
		log.Debugf("[SendAlgorithm %s] %v is not available, falling back to CUBIC", loggingContext, congestionControlType)
		algorithm = NewCubicSender(loggingContext, clock, rttStats, false)
	}
	algorithm.SetFromConfig(config, perspective)
	return algorithm
}
