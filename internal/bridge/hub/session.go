package hub

import "sync/atomic"

// sessionQueueCapacity is the bounded outbound queue capacity per client
// session.
const sessionQueueCapacity = 256

// session is one connected client's outbound frame queue and lifecycle.
// clientID is process-unique and monotonic.
type session struct {
	clientID uint64
	traceID  string
	outbound chan []byte
	stale    atomic.Bool
}

func newSession(clientID uint64, traceID string) *session {
	return &session{
		clientID: clientID,
		traceID:  traceID,
		outbound: make(chan []byte, sessionQueueCapacity),
	}
}

func (s *session) markStale() {
	s.stale.Store(true)
}

func (s *session) isStale() bool {
	return s.stale.Load()
}
