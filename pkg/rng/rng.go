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

// Package rng is the process-wide random source shared by all connections.
// The top level math/rand functions are safe for concurrent use.
package rng

import (
	mrand "math/rand"
	"sync"
	"time"
)

var once sync.Once

func init() {
	InitSeed()
}

// InitSeed initializes the random seed.
func InitSeed() {
	once.Do(func() {
		mrand.Seed(time.Now().UnixNano())
	})
}

// Intn returns a uniform random int from [0, n).
func Intn(n int) int {
	return mrand.Intn(n)
}

// Int63n returns a uniform random int64 from [0, n).
func Int63n(n int64) int64 {
	return mrand.Int63n(n)
}

// IntRange returns a uniform random int from [m, n).
func IntRange(m, n int) int {
	return m + Intn(n-m)
}

// IntRange64 returns a uniform random int64 from [m, n).
func IntRange64(m, n int64) int64 {
	return m + Int63n(n-m)
}
