// Package ice buffers connectivity candidates that arrive before the
// call is ready for them. Candidates are produced asynchronously by the
// negotiation engine and may show up before the peer/session identity is
// known (outbound) or before the remote description has been applied
// (inbound); the queue decouples arrival from delivery so neither side
// ever drops a candidate solely due to timing.
package ice

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/tutorlink/rtc/internal/util"
)

// Queue holds pending candidates for the single active call. It is
// cleared when the call ends; everything else is FIFO.
type Queue struct {
	mu       sync.Mutex
	outbound []webrtc.ICECandidateInit
	inbound  []webrtc.ICECandidateInit
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// PushLocal appends a locally generated candidate for later delivery.
func (q *Queue) PushLocal(c webrtc.ICECandidateInit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.outbound = append(q.outbound, c)
}

// FlushLocal delivers pending outbound candidates in order. Successfully
// sent candidates are removed; on the first send failure the remainder
// stays queued for the next trigger.
func (q *Queue) FlushLocal(send func(webrtc.ICECandidateInit) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.outbound) > 0 {
		if err := send(q.outbound[0]); err != nil {
			util.LogDebug("ice: outbound flush paused: %v", err)
			return
		}
		q.outbound = q.outbound[1:]
	}
}

// PushRemote appends a received candidate that cannot be applied yet.
func (q *Queue) PushRemote(c webrtc.ICECandidateInit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inbound = append(q.inbound, c)
}

// FlushRemote applies pending inbound candidates strictly in arrival
// order. A candidate that still fails to apply is discarded with a
// warning rather than retried, so the queue cannot grow without bound
// on a malformed candidate.
func (q *Queue) FlushRemote(apply func(webrtc.ICECandidateInit) error) {
	q.mu.Lock()
	pending := q.inbound
	q.inbound = nil
	q.mu.Unlock()

	for _, c := range pending {
		if err := apply(c); err != nil {
			util.LogWarning("ice: discarding candidate that failed to apply: %v", err)
		}
	}
}

// Clear discards all pending candidates. Called when the owning call
// has fully ended.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.outbound = nil
	q.inbound = nil
}

// PendingLocal reports the number of queued outbound candidates.
func (q *Queue) PendingLocal() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.outbound)
}

// PendingRemote reports the number of queued inbound candidates.
func (q *Queue) PendingRemote() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inbound)
}
