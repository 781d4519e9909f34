// Package hub is the fan-out notification bus: a registry of connected
// client sessions, a bounded replayable event log, and the send
// disciplines (broadcast vs. unicast) that keep one slow client from
// holding up everyone else.
//
// Ownership: the hub exclusively owns the replay log and the client
// table. No other component holds a reference into either; all
// cross-component effects happen through Broadcast/Reply.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leapmux/bridged/internal/bridge/agentbridge"
	"github.com/leapmux/bridged/internal/bridge/traceid"
	"github.com/leapmux/bridged/internal/metrics"
)

// unicastWait is how long a unicast send waits for queue space before
// marking the session stale. Broadcast never waits.
const unicastWait = 250 * time.Millisecond

// ResponseFrame is a unicast reply frame: `{"id":..., "result":...}` or
// `{"id":..., "error":{...}}`.
type ResponseFrame struct {
	ID     json.RawMessage      `json:"id"`
	Result json.RawMessage      `json:"result,omitempty"`
	Error  *agentbridge.RPCError `json:"error,omitempty"`
}

// Hub is the client registry and notification bus. Its zero value is not
// usable; construct with New.
type Hub struct {
	replayCapacity int
	log            *replayLog

	mu           sync.RWMutex
	clients      map[uint64]*session
	nextClientID atomic.Uint64
}

// New creates a Hub whose replay log holds up to capacity envelopes.
// capacity == 0 disables replay storage (broadcast still allocates event
// ids and delivers live, but replaySince always returns nothing).
func New(capacity int) *Hub {
	return &Hub{
		replayCapacity: capacity,
		log:            newReplayLog(capacity),
		clients:        make(map[uint64]*session),
	}
}

// Register creates and returns a new client session. traceID, when
// non-empty, is the id the HTTP layer already minted for this
// connection's accept request (so the access log line and every log
// line for the connection's lifetime share one id); Register mints its
// own otherwise. The caller (the transport layer) is responsible for
// reading from Outbound() and writing frames to the socket, and for
// calling Remove when the connection ends.
func (h *Hub) Register(traceID string) *ClientSession {
	id := h.nextClientID.Add(1)
	if traceID == "" {
		traceID = traceid.Generate()
	}
	s := newSession(id, traceID)

	h.mu.Lock()
	h.clients[id] = s
	h.mu.Unlock()

	metrics.ConnectedClients.Inc()
	return &ClientSession{ClientID: id, TraceID: s.traceID, outbound: s.outbound}
}

// ClientSession is the transport layer's handle on a registered client:
// the id to use for Reply/Remove, and the channel to drain toward the
// socket.
type ClientSession struct {
	ClientID uint64
	TraceID  string
	outbound <-chan []byte
}

// Outbound returns the channel of frames queued for this client.
func (c *ClientSession) Outbound() <-chan []byte {
	return c.outbound
}

// Remove destroys a client session. Safe to call more than once.
func (h *Hub) Remove(clientID uint64) {
	h.mu.Lock()
	_, existed := h.clients[clientID]
	delete(h.clients, clientID)
	h.mu.Unlock()

	if existed {
		metrics.ConnectedClients.Dec()
	}
}

// Broadcast allocates an eventId, appends `{method,eventId,params}` to
// the replay log, and pushes it to every live client's queue. A client
// whose queue is full is skipped for this notification (no wait); a
// client whose session has already gone is simply absent from the
// table. Implements agentbridge.Broadcaster.
func (h *Hub) Broadcast(method string, params any) uint64 {
	raw, err := json.Marshal(params)
	if err != nil {
		slog.Error("broadcast: marshal params failed", "method", method, "error", err)
		raw = json.RawMessage("null")
	}

	eventID := h.log.append(method, raw)
	metrics.ReplayLogSize.Set(float64(h.log.size()))

	frame, err := json.Marshal(Envelope{Method: method, EventID: eventID, Params: raw})
	if err != nil {
		slog.Error("broadcast: marshal envelope failed", "method", method, "error", err)
		return eventID
	}

	h.mu.RLock()
	for _, s := range h.clients {
		select {
		case s.outbound <- frame:
		default:
		}
	}
	h.mu.RUnlock()
	return eventID
}

// Reply delivers a unicast response to the client that originated a
// forwarded request. It tries a non-blocking send first, then waits up
// to 250ms for space before giving up and evicting the session.
// Implements agentbridge.Replier.
func (h *Hub) Reply(clientID uint64, clientRequestID json.RawMessage, result json.RawMessage, rpcErr *agentbridge.RPCError) {
	frame, err := json.Marshal(ResponseFrame{ID: clientRequestID, Result: result, Error: rpcErr})
	if err != nil {
		slog.Error("reply: marshal failed", "client_id", clientID, "error", err)
		return
	}
	h.SendTo(clientID, frame)
}

// SendTo enqueues a raw frame for one client, using the unicast
// discipline: non-blocking first, then up to 250ms wait, then stale
// eviction.
func (h *Hub) SendTo(clientID uint64, frame []byte) {
	h.mu.RLock()
	s, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	select {
	case s.outbound <- frame:
		return
	default:
	}

	select {
	case s.outbound <- frame:
	case <-time.After(unicastWait):
		s.markStale()
		h.Remove(clientID)
	}
}

// ReplaySince returns every envelope with eventId > afterID (afterID ==
// nil is treated as 0 by callers), truncated to limit in eventId order,
// clamped to [1, 1000] with a default of 200.
func (h *Hub) ReplaySince(afterID uint64, limit int) (events []Envelope, hasMore bool) {
	return h.log.replaySince(afterID, clampLimit(limit))
}

// EarliestEventID returns the oldest eventId still held in the replay
// log, or the latest-ever-allocated id if the log is empty.
func (h *Hub) EarliestEventID() uint64 {
	return h.log.earliestEventID()
}

// LatestEventID returns the highest eventId ever allocated, or 0 if none.
func (h *Hub) LatestEventID() uint64 {
	return h.log.latestEventID()
}

// ClientCount returns the number of currently registered sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
