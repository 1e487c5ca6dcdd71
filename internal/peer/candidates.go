package peer

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/gtpeer/internal/signaling"
	"github.com/1ureka/gtpeer/internal/util"
)

// candidateQueue trickles local ICE candidates to the peer. Candidates are
// held until release is called, which the session does right after its
// local description has been sent, then flushed in gathering order. The end
// of gathering is forwarded as the empty candidate.
type candidateQueue struct {
	mu       sync.Mutex
	pending  []string
	released bool
	ended    bool
	wake     chan struct{}
}

func newCandidateQueue() *candidateQueue {
	return &candidateQueue{wake: make(chan struct{}, 1)}
}

// push is the OnICECandidate callback; nil marks the end of gathering.
func (q *candidateQueue) push(c *webrtc.ICECandidateInit) {
	q.mu.Lock()
	if c == nil {
		if q.ended {
			q.mu.Unlock()
			return
		}
		q.ended = true
		q.pending = append(q.pending, "")
	} else {
		data, err := json.Marshal(c)
		if err != nil {
			q.mu.Unlock()
			util.LogWarning("dropping unserializable ICE candidate: %v", err)
			return
		}
		q.pending = append(q.pending, string(data))
	}
	q.mu.Unlock()
	q.signal()
}

func (q *candidateQueue) release() {
	q.mu.Lock()
	q.released = true
	q.mu.Unlock()
	q.signal()
}

func (q *candidateQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *candidateQueue) take() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.released || len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	return out
}

// run sends released candidates until done is closed or a send fails.
func (q *candidateQueue) run(send func(signaling.Operation) error, done <-chan struct{}) {
	for {
		select {
		case <-q.wake:
		case <-done:
			return
		}
		for _, c := range q.take() {
			if err := send(signaling.Candidate{Candidate: c}); err != nil {
				util.LogDebug("stopped trickling candidates: %v", err)
				return
			}
		}
	}
}
