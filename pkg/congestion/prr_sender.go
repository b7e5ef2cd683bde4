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

// PrrSender implements the proportional rate reduction (PRR) per RFC 6937.
// It bounds the amount of data sent during a recovery episode to the rate
// the network has proven it can sustain.
type PrrSender struct {
	bytesSentSinceLoss      int64
	bytesDeliveredSinceLoss int64
	ackCountSinceLoss       int64
	bytesInFlightBeforeLoss int64
}

// OnPacketSent should be called after a packet was sent.
func (p *PrrSender) OnPacketSent(sentBytes int64) {
	p.bytesSentSinceLoss += sentBytes
}

// OnPacketLost should be called on the first loss that triggers a recovery
// period and only once per loss period, before measuring the prior in flight.
func (p *PrrSender) OnPacketLost(priorInFlight int64) {
	p.bytesSentSinceLoss = 0
	p.bytesInFlightBeforeLoss = priorInFlight
	p.bytesDeliveredSinceLoss = 0
	p.ackCountSinceLoss = 0
}

// OnPacketAcked should be called after a packet was acked.
func (p *PrrSender) OnPacketAcked(ackedBytes int64) {
	p.bytesDeliveredSinceLoss += ackedBytes
	p.ackCountSinceLoss++
}

// CanSend returns true if the sender is allowed to put one more packet on
// the wire during the recovery period.
func (p *PrrSender) CanSend(congestionWindow, bytesInFlight, slowstartThreshold int64) bool {
	// Packet conservation is not yet binding.
	if bytesInFlight < congestionWindow {
		return true
	}
	// The catch-up rule of PRR-SSRB: while significantly behind the target,
	// allow one extra packet for every two acks.
	if p.bytesSentSinceLoss < p.bytesDeliveredSinceLoss {
		return true
	}
	if p.bytesInFlightBeforeLoss <= 0 {
		return false
	}
	limit := p.bytesDeliveredSinceLoss * congestionWindow / p.bytesInFlightBeforeLoss
	if congestionWindow > slowstartThreshold {
		// Avoid excessive window undershoot during a non slow start recovery.
		limit += maxDatagramSize
	}
	return p.bytesSentSinceLoss < limit
}
