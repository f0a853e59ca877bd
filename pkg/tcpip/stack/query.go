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

package stack

import (
	"cmp"
	"context"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/jonboulle/clockwork"
	"gvisor.dev/inet/pkg/tcpip"
)

// PendingQuery is an in-flight request waiting for an asynchronous reply, such
// as an ARP request keyed by target address or a ping keyed by identifier.
//
// A query goes from registered to resolved or removed exactly once: the
// responder Takes it from its QueryTable and Completes it, while a caller
// that gives up Forgets it. Whichever removes it from the table first wins.
type PendingQuery[K cmp.Ordered] struct {
	key       K
	seq       uint64
	submitted time.Time
	done      chan struct{}

	mu       sync.Mutex
	received bool
	success  bool
	linkAddr tcpip.LinkAddress
	payload  []byte
	elapsed  time.Duration
}

// NewPendingQuery returns an unregistered query for key submitted at now.
func NewPendingQuery[K cmp.Ordered](key K, now time.Time) *PendingQuery[K] {
	return &PendingQuery[K]{
		key:       key,
		submitted: now,
		done:      make(chan struct{}),
	}
}

// Key returns the key the query waits on.
func (q *PendingQuery[K]) Key() K { return q.key }

// Submitted returns the time the query was created.
func (q *PendingQuery[K]) Submitted() time.Time { return q.submitted }

// Complete records a successful reply and wakes the waiter. Only the first
// call has an effect; it reports whether it was that call.
func (q *PendingQuery[K]) Complete(linkAddr tcpip.LinkAddress, payload []byte, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.received {
		return false
	}
	q.received = true
	q.success = true
	q.linkAddr = linkAddr
	if payload != nil {
		q.payload = append([]byte(nil), payload...)
	}
	q.elapsed = now.Sub(q.submitted)
	close(q.done)
	return true
}

// Wait blocks until the query is completed, timeout elapses on clock or ctx
// is done. It returns whether a reply was received. A reply that races with
// the timeout is still observed.
func (q *PendingQuery[K]) Wait(ctx context.Context, clock clockwork.Clock, timeout time.Duration) bool {
	select {
	case <-q.done:
		return true
	default:
	}
	select {
	case <-q.done:
		return true
	case <-clock.After(timeout):
	case <-ctx.Done():
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.received
}

// Done is closed once the query is completed.
func (q *PendingQuery[K]) Done() <-chan struct{} {
	return q.done
}

// QueryResult is a snapshot of a query.
type QueryResult struct {
	Received    bool
	Success     bool
	LinkAddress tcpip.LinkAddress
	Payload     []byte
	Elapsed     time.Duration
}

// Result returns a snapshot of the query fields.
func (q *PendingQuery[K]) Result() QueryResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueryResult{
		Received:    q.received,
		Success:     q.success,
		LinkAddress: q.linkAddr,
		Payload:     q.payload,
		Elapsed:     q.elapsed,
	}
}

// QueryTable holds the pending queries of one protocol on one interface,
// ordered by key. Several queries may wait on the same key; they are taken in
// registration order.
type QueryTable[K cmp.Ordered] struct {
	mu   sync.Mutex
	tree *btree.BTreeG[*PendingQuery[K]]
	seq  uint64
}

func lessQuery[K cmp.Ordered](a, b *PendingQuery[K]) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	return a.seq < b.seq
}

// NewQueryTable returns an empty table.
func NewQueryTable[K cmp.Ordered]() *QueryTable[K] {
	return &QueryTable[K]{
		tree: btree.NewG[*PendingQuery[K]](2, lessQuery[K]),
	}
}

// Register inserts q. A query must be registered at most once.
func (t *QueryTable[K]) Register(q *PendingQuery[K]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	q.seq = t.seq
	t.tree.ReplaceOrInsert(q)
}

// Take atomically finds and removes the oldest query registered for key.
func (t *QueryTable[K]) Take(key K) *PendingQuery[K] {
	t.mu.Lock()
	defer t.mu.Unlock()
	var found *PendingQuery[K]
	t.tree.AscendGreaterOrEqual(&PendingQuery[K]{key: key}, func(q *PendingQuery[K]) bool {
		if q.key == key {
			found = q
		}
		return false
	})
	if found != nil {
		t.tree.Delete(found)
	}
	return found
}

// Forget removes q if it is still registered and reports whether it was.
// Forgetting a query that was already taken is a no-op.
func (t *QueryTable[K]) Forget(q *PendingQuery[K]) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tree.Delete(q)
	return ok
}

// Contains reports whether any query waits on key.
func (t *QueryTable[K]) Contains(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	found := false
	t.tree.AscendGreaterOrEqual(&PendingQuery[K]{key: key}, func(q *PendingQuery[K]) bool {
		found = q.key == key
		return false
	})
	return found
}

// Len returns the number of pending queries.
func (t *QueryTable[K]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree.Len()
}
