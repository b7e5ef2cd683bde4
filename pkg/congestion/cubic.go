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
	"math"
	"time"

	"github.com/enfein/congestion/pkg/mathext"
)

// Constants based on TCP defaults.
// The following constants are in 2^10 fractions of a second instead of ms to
// allow a 10 shift right to divide.
const (
	cubeScale                 = 40
	cubeCongestionWindowScale = 410
	cubeFactor                = 1 << cubeScale / cubeCongestionWindowScale / maxDatagramSize

	defaultNumConnections = 1

	// Default Cubic backoff factor.
	cubicBeta float32 = 0.7

	// Additional backoff factor when loss occurs in the concave part of the
	// Cubic curve. This additional backoff factor is expected to give up
	// bandwidth to new concurrent flows and speed up convergence.
	cubicBetaLastMax float32 = 0.85

	// The congestion window does not need to be recomputed for every ack.
	maxCubicTimeInterval = 30 * time.Millisecond
)

// Cubic implements the cubic window growth function. It is a pure function
// object over an injected clock, with no I/O of its own.
type Cubic struct {
	clock Clock

	// Number of connections to simulate.
	numConnections int

	// If true, recompute the target window on every ack instead of at most
	// once per maxCubicTimeInterval.
	allowPerAckUpdates bool

	// Time when this cycle started, after last loss event.
	epoch time.Time

	// Time when the congestion window was last recomputed.
	lastUpdateTime time.Time

	// Congestion window in bytes at the time of the last recompute.
	lastCongestionWindow int64

	// Max congestion window in bytes used just before last loss event.
	// Note: to improve fairness to other streams an additional back off is
	// applied to this value if the new value is below our latest value.
	lastMaxCongestionWindow int64

	// Number of acked bytes since the cycle started (epoch).
	ackedBytesCount int64

	// TCP Reno equivalent congestion window in bytes.
	estimatedTCPCongestionWindow int64

	// Origin point of cubic function in bytes.
	originPointCongestionWindow int64

	// Time to origin point of cubic function in 2^10 fractions of a second.
	timeToOriginPoint uint32

	// Last congestion window in bytes computed with the cubic function.
	lastTargetCongestionWindow int64
}

// NewCubic returns a new Cubic instance.
func NewCubic(clock Clock) *Cubic {
	c := &Cubic{
		clock:          clock,
		numConnections: defaultNumConnections,
	}
	c.Reset()
	return c
}

// Reset is called after a timeout to reset the cubic state.
func (c *Cubic) Reset() {
	c.epoch = time.Time{}
	c.lastUpdateTime = time.Time{}
	c.lastCongestionWindow = 0
	c.lastMaxCongestionWindow = 0
	c.ackedBytesCount = 0
	c.estimatedTCPCongestionWindow = 0
	c.originPointCongestionWindow = 0
	c.timeToOriginPoint = 0
	c.lastTargetCongestionWindow = 0
}

// SetNumConnections sets the number of emulated connections.
func (c *Cubic) SetNumConnections(n int) {
	c.numConnections = mathext.Max(n, 1)
}

// SetAllowPerAckUpdates overrides the recompute interval bound.
func (c *Cubic) SetAllowPerAckUpdates(allow bool) {
	c.allowPerAckUpdates = allow
}

// alpha is the additive increase factor for our N-connection emulation,
// derived from the TCPFriendly alpha in Section 3.3 of the CUBIC paper.
// Note that the beta used there is a window multiplier, 1-beta from the paper.
func (c *Cubic) alpha() float32 {
	b := c.beta()
	return 3 * float32(c.numConnections) * float32(c.numConnections) * (1 - b) / (1 + b)
}

// beta is the backoff factor after loss for our N-connection emulation.
func (c *Cubic) beta() float32 {
	return (float32(c.numConnections) - 1 + cubicBeta) / float32(c.numConnections)
}

// betaLastMax is the additional backoff factor applied to the recorded max
// window for our N-connection emulation.
func (c *Cubic) betaLastMax() float32 {
	return (float32(c.numConnections) - 1 + cubicBetaLastMax) / float32(c.numConnections)
}

// OnApplicationLimited is called on ack arrival when the sender is unable to
// use the available congestion window.
func (c *Cubic) OnApplicationLimited() {
	// When the sender is not using the available congestion window, the
	// window does not grow. But to be RTT-independent, Cubic assumes that
	// the sender has been using the entire window since the beginning of the
	// current epoch (the end of the last loss recovery period).
	// Application-limited periods break this assumption, so the epoch is
	// reset. This effectively freezes window growth through the
	// application-limited period and lets growth continue afterwards.
	c.epoch = time.Time{}
}

// CongestionWindowAfterPacketLoss computes a new congestion window to use
// after a loss event. Returns the new congestion window in bytes. The new
// congestion window is a multiplicative decrease of our current window.
func (c *Cubic) CongestionWindowAfterPacketLoss(currentCongestionWindow int64) int64 {
	if currentCongestionWindow+maxDatagramSize < c.lastMaxCongestionWindow {
		// We never reached the old max, so assume we are competing with
		// another flow. Use our extra back off factor to allow the other
		// flow to go up.
		c.lastMaxCongestionWindow = int64(c.betaLastMax() * float32(currentCongestionWindow))
	} else {
		c.lastMaxCongestionWindow = currentCongestionWindow
	}
	c.epoch = time.Time{}
	return int64(float32(currentCongestionWindow) * c.beta())
}

// CongestionWindowAfterAck computes a new congestion window to use after a
// received ack. Returns the new congestion window in bytes. The new
// congestion window follows a cubic function that depends on the time passed
// since the last packet loss.
func (c *Cubic) CongestionWindowAfterAck(ackedBytes int64, currentCongestionWindow int64, delayMin time.Duration, eventTime time.Time) int64 {
	c.ackedBytesCount += ackedBytes

	if c.epoch.IsZero() {
		// First ack after a loss event.
		c.epoch = eventTime
		c.ackedBytesCount = ackedBytes
		// Sync the Reno equivalent window with cubic.
		c.estimatedTCPCongestionWindow = currentCongestionWindow
		if c.lastMaxCongestionWindow <= currentCongestionWindow {
			c.timeToOriginPoint = 0
			c.originPointCongestionWindow = currentCongestionWindow
		} else {
			c.timeToOriginPoint = uint32(math.Cbrt(float64(cubeFactor * (c.lastMaxCongestionWindow - currentCongestionWindow))))
			c.originPointCongestionWindow = c.lastMaxCongestionWindow
		}
	} else if !c.allowPerAckUpdates && currentCongestionWindow == c.lastCongestionWindow && eventTime.Sub(c.lastUpdateTime) <= maxCubicTimeInterval {
		return mathext.Max(c.lastTargetCongestionWindow, c.estimatedTCPCongestionWindow)
	}
	c.lastCongestionWindow = currentCongestionWindow
	c.lastUpdateTime = eventTime

	// Change the time unit from microseconds to 2^10 fractions per second.
	// This is done to allow the use of shift as a divide operator. The
	// elapsed time is measured one delayMin in the future, because the new
	// window takes effect roughly one RTT from now.
	elapsedTime := int64(eventTime.Add(delayMin).Sub(c.epoch)/time.Microsecond) << 10 / (1000 * 1000)

	// Right-shifts of negative, signed numbers have implementation-dependent
	// behavior, so force the offset to be positive, as is done in the kernel.
	offset := int64(c.timeToOriginPoint) - elapsedTime
	if offset < 0 {
		offset = -offset
	}

	deltaCongestionWindow := cubeCongestionWindowScale * offset * offset * offset * maxDatagramSize >> cubeScale
	var targetCongestionWindow int64
	if elapsedTime > int64(c.timeToOriginPoint) {
		targetCongestionWindow = c.originPointCongestionWindow + deltaCongestionWindow
	} else {
		targetCongestionWindow = c.originPointCongestionWindow - deltaCongestionWindow
	}

	// Increase the window by approximately alpha * 1 MSS of bytes every time
	// an estimated TCP window of bytes is acknowledged.
	c.estimatedTCPCongestionWindow += int64(float32(c.ackedBytesCount) * c.alpha() * float32(maxDatagramSize) / float32(c.estimatedTCPCongestionWindow))
	c.ackedBytesCount = 0

	c.lastTargetCongestionWindow = targetCongestionWindow

	// Our congestion window is the max of the cubic and the TCP Reno
	// equivalent window.
	return mathext.Max(targetCongestionWindow, c.estimatedTCPCongestionWindow)
}
