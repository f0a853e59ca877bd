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

package pipe

import (
	"testing"
	"time"

	"gvisor.dev/inet/pkg/tcpip"
)

type recorder chan []byte

func (r recorder) DeliverFrame(f []byte) {
	r <- f
}

func TestPipe(t *testing.T) {
	ep1, ep2 := New("\x02\x00\x00\x00\x00\x01", "\x02\x00\x00\x00\x00\x02", 1500)
	r1, r2 := make(recorder, 1), make(recorder, 1)
	ep1.Attach(r1)
	ep2.Attach(r2)
	defer ep1.Close()

	if err := ep1.WriteFrame([]byte("ping")); err != nil {
		t.Fatalf("WriteFrame: %s", err)
	}
	select {
	case f := <-r2:
		if string(f) != "ping" {
			t.Errorf("got %q, want ping", f)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("frame not delivered")
	}
	select {
	case f := <-r1:
		t.Errorf("writer received its own frame %q", f)
	default:
	}

	ep2.Close()
	if err := ep1.WriteFrame([]byte("late")); err != tcpip.ErrAborted {
		t.Errorf("WriteFrame to a closed peer = %v, want %v", err, tcpip.ErrAborted)
	}
}
