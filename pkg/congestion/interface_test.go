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
	"strings"
	"testing"
)

func TestNewSendAlgorithmSelection(t *testing.T) {
	testcases := []struct {
		name                  string
		congestionControlType CongestionControlType
		wantBBR               bool
		wantReno              bool
	}{
		{"cubic", CongestionControlCubic, false, false},
		{"reno", CongestionControlReno, false, true},
		{"bbr", CongestionControlBBR, true, false},
		// PCC has no implementation and falls back to CUBIC.
		{"pcc", CongestionControlPCC, false, false},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			algorithm := NewSendAlgorithm("Test", tc.congestionControlType, nil, nil, Config{}, PerspectiveClient)
			if algorithm == nil {
				t.Fatalf("NewSendAlgorithm(%v) = nil", tc.congestionControlType)
			}
			_, isBBR := algorithm.(*BBRSender)
			if isBBR != tc.wantBBR {
				t.Fatalf("NewSendAlgorithm(%v) created a BBR sender: %v, want %v", tc.congestionControlType, isBBR, tc.wantBBR)
			}
			if cubicSender, ok := algorithm.(*CubicSender); ok {
				isReno := strings.Contains(cubicSender.GetDebugState(), "reno=true")
				if isReno != tc.wantReno {
					t.Errorf("NewSendAlgorithm(%v) created a Reno sender: %v, want %v", tc.congestionControlType, isReno, tc.wantReno)
				}
			}
		})
	}
}

func TestNewSendAlgorithmAppliesConfig(t *testing.T) {
	algorithm := NewSendAlgorithm("Test", CongestionControlCubic, nil, nil, Config{
		InitialCongestionWindowPackets: 16,
	}, PerspectiveServer)
	if got := algorithm.GetCongestionWindow(); got != 16*maxDatagramSize {
		t.Errorf("GetCongestionWindow() = %d, want %d", got, 16*maxDatagramSize)
	}
}

func TestCongestionControlTypeString(t *testing.T) {
	testcases := []struct {
		congestionControlType CongestionControlType
		want                  string
	}{
		{CongestionControlCubic, "CUBIC"},
		{CongestionControlReno, "Reno"},
		{CongestionControlBBR, "BBR"},
		{CongestionControlPCC, "PCC"},
		{CongestionControlType(100), "UNKNOWN"},
	}
	for _, tc := range testcases {
		if got := tc.congestionControlType.String(); got != tc.want {
			t.Errorf("%d.String() = %q, want %q", int(tc.congestionControlType), got, tc.want)
		}
	}
}
