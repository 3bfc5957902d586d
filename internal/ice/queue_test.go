package ice

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pion/webrtc/v4"
)

func cand(i int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: fmt.Sprintf("cand-%d", i)}
}

func TestFlushLocalOrder(t *testing.T) {
	q := NewQueue()
	for i := range 4 {
		q.PushLocal(cand(i))
	}

	var sent []string
	q.FlushLocal(func(c webrtc.ICECandidateInit) error {
		sent = append(sent, c.Candidate)
		return nil
	})

	if q.PendingLocal() != 0 {
		t.Fatalf("pending = %d, want 0", q.PendingLocal())
	}
	for i, s := range sent {
		if want := fmt.Sprintf("cand-%d", i); s != want {
			t.Fatalf("sent[%d] = %q, want %q", i, s, want)
		}
	}
}

// A send failure stops the flush and keeps the failed candidate and
// everything behind it queued for the next trigger.
func TestFlushLocalKeepsRemainderOnFailure(t *testing.T) {
	q := NewQueue()
	for i := range 4 {
		q.PushLocal(cand(i))
	}

	calls := 0
	q.FlushLocal(func(c webrtc.ICECandidateInit) error {
		calls++
		if calls == 3 {
			return errors.New("relay down")
		}
		return nil
	})

	if q.PendingLocal() != 2 {
		t.Fatalf("pending after failed flush = %d, want 2", q.PendingLocal())
	}

	// Next trigger resumes with the failed candidate first.
	var resumed []string
	q.FlushLocal(func(c webrtc.ICECandidateInit) error {
		resumed = append(resumed, c.Candidate)
		return nil
	})
	if len(resumed) != 2 || resumed[0] != "cand-2" || resumed[1] != "cand-3" {
		t.Fatalf("resumed flush = %v, want [cand-2 cand-3]", resumed)
	}
}

func TestFlushRemoteDiscardsFailures(t *testing.T) {
	q := NewQueue()
	for i := range 3 {
		q.PushRemote(cand(i))
	}

	var applied []string
	q.FlushRemote(func(c webrtc.ICECandidateInit) error {
		if c.Candidate == "cand-1" {
			return errors.New("malformed")
		}
		applied = append(applied, c.Candidate)
		return nil
	})

	if q.PendingRemote() != 0 {
		t.Fatalf("failed candidates must be discarded, pending = %d", q.PendingRemote())
	}
	if len(applied) != 2 || applied[0] != "cand-0" || applied[1] != "cand-2" {
		t.Fatalf("applied = %v, want [cand-0 cand-2]", applied)
	}
}

func TestFlushRemoteAppliesExactlyOnce(t *testing.T) {
	q := NewQueue()
	q.PushRemote(cand(0))

	count := 0
	apply := func(webrtc.ICECandidateInit) error { count++; return nil }
	q.FlushRemote(apply)
	q.FlushRemote(apply)

	if count != 1 {
		t.Fatalf("candidate applied %d times, want 1", count)
	}
}

func TestClear(t *testing.T) {
	q := NewQueue()
	q.PushLocal(cand(0))
	q.PushRemote(cand(1))

	q.Clear()

	if q.PendingLocal() != 0 || q.PendingRemote() != 0 {
		t.Fatalf("queue not empty after Clear: %d/%d", q.PendingLocal(), q.PendingRemote())
	}
}
