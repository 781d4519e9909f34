package hub

import (
	"encoding/json"
	"sync"

	"github.com/leapmux/bridged/internal/bridge/msgcodec"
)

// compressThreshold is the params size above which an envelope is stored
// zstd-compressed in the replay log, to bound memory for the bounded
// buffer without writing anything to disk.
const compressThreshold = 2048

// Envelope is a notification as delivered to clients and recorded in the
// replay log: `{method, eventId, params}`.
type Envelope struct {
	Method  string          `json:"method"`
	EventID uint64          `json:"eventId"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// logEntry is how an envelope is actually held in the ring buffer. Params
// above compressThreshold are kept zstd-compressed; ReplaySince
// decompresses on the way out.
type logEntry struct {
	method     string
	eventID    uint64
	params     []byte
	compressed bool
}

func (e logEntry) decode() Envelope {
	params := e.params
	if e.compressed {
		decoded, err := msgcodec.Decompress(e.params, msgcodec.CompressionZstd)
		if err == nil {
			params = decoded
		}
	}
	return Envelope{Method: e.method, EventID: e.eventID, Params: json.RawMessage(params)}
}

// replayLog is a bounded, strictly-ordered ring buffer of envelopes.
// Capacity R; oldest entries are evicted first; eventId is never reused
// or gapped.
type replayLog struct {
	mu       sync.Mutex
	capacity int
	entries  []logEntry // ordered oldest-first
	nextID   uint64
	latestID uint64
}

func newReplayLog(capacity int) *replayLog {
	if capacity < 0 {
		capacity = 0
	}
	return &replayLog{capacity: capacity, nextID: 1}
}

// append allocates the next eventId and stores the envelope, evicting the
// oldest entries while over capacity. A zero-capacity log allocates ids
// and reports latestEventId correctly but stores nothing.
func (l *replayLog) append(method string, params json.RawMessage) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	l.latestID = id

	if l.capacity == 0 {
		return id
	}

	entry := logEntry{method: method, eventID: id, params: params}
	if len(params) > compressThreshold {
		if compressed, err := msgcodec.Compress(params); err == nil {
			entry.params = compressed
			entry.compressed = true
		}
	}

	l.entries = append(l.entries, entry)
	if len(l.entries) > l.capacity {
		drop := len(l.entries) - l.capacity
		l.entries = l.entries[drop:]
	}
	return id
}

// replaySince returns every envelope with eventId > afterID, in order,
// truncated to limit entries. hasMore is true iff the scan was truncated.
func (l *replayLog) replaySince(afterID uint64, limit int) ([]Envelope, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Envelope, 0, limit)
	hasMore := false
	for _, e := range l.entries {
		if e.eventID <= afterID {
			continue
		}
		if len(out) >= limit {
			hasMore = true
			break
		}
		out = append(out, e.decode())
	}
	return out, hasMore
}

func (l *replayLog) earliestEventID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return l.latestID
	}
	return l.entries[0].eventID
}

func (l *replayLog) latestEventID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latestID
}

func (l *replayLog) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// clampLimit applies the replaySince limit clamp: [1, 1000], default 200.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
