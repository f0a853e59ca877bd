// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package faketime provides a fake clock for the stack that only advances
// when told to.
package faketime

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Epoch is the time a ManualClock starts at.
var Epoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// ManualClock implements clockwork.Clock and only advances manually with the
// Advance method.
type ManualClock struct {
	clockwork.FakeClock
}

var _ clockwork.Clock = (*ManualClock)(nil)

// NewManualClock creates a new ManualClock instance.
func NewManualClock() *ManualClock {
	return &ManualClock{FakeClock: clockwork.NewFakeClockAt(Epoch)}
}

// Elapsed returns the time advanced since Epoch.
func (mc *ManualClock) Elapsed() time.Duration {
	return mc.Now().Sub(Epoch)
}

// AdvanceWhenBlocked waits until n callers are blocked on the clock, through
// After, Sleep or timers, then advances it by d.
func (mc *ManualClock) AdvanceWhenBlocked(n int, d time.Duration) {
	mc.BlockUntil(n)
	mc.Advance(d)
}
