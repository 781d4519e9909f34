package rollout

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/leapmux/bridged/internal/metrics"
)

// tailBufferBytes is how much of an existing file's tail is read on
// first discovery; only the bytes after the first newline within this
// window are considered (the rest is an unrecoverable partial line).
const tailBufferBytes = 64 * 1024

// trackedFile is the tailer's per-file state. Exclusive to the tailer
// goroutine; never touched concurrently.
type trackedFile struct {
	path     string
	offset   int64
	modTime  time.Time
	lastSeen time.Time

	partialLine          []byte
	dropFirstPartialLine bool
	dedup                *hashSet

	threadID           string
	originator         string
	includeForLiveSync bool
}

func newTrackedFile(path string, size int64, modTime time.Time) *trackedFile {
	offset := size - tailBufferBytes
	if offset < 0 {
		offset = 0
	}
	return &trackedFile{
		path:                 path,
		offset:               offset,
		modTime:              modTime,
		lastSeen:             time.Now(),
		dropFirstPartialLine: offset > 0,
		dedup:                newHashSet(),
		includeForLiveSync:   true,
	}
}

// tickResult is what one poll of a tracked file produced.
type tickResult struct {
	notFound    bool
	projections []projection
}

// poll reads any bytes appended since the last tick, splits complete
// lines, dedups them, and projects each to zero or more notifications.
func (f *trackedFile) poll() tickResult {
	info, err := os.Stat(f.path)
	if err != nil {
		return tickResult{notFound: true}
	}

	size := info.Size()
	if size < f.offset {
		// Truncated or rotated out from under us.
		f.offset = 0
		f.partialLine = nil
		f.dedup.reset()
		return tickResult{}
	}
	if size == f.offset {
		return tickResult{}
	}

	fh, err := os.Open(f.path)
	if err != nil {
		return tickResult{}
	}
	defer fh.Close()

	if _, err := fh.Seek(f.offset, io.SeekStart); err != nil {
		return tickResult{}
	}
	chunk := make([]byte, size-f.offset)
	n, err := io.ReadFull(fh, chunk)
	chunk = chunk[:n]
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return tickResult{}
	}
	f.offset += int64(n)
	f.lastSeen = time.Now()
	f.modTime = info.ModTime()

	data := append(f.partialLine, chunk...)
	f.partialLine = nil

	if f.dropFirstPartialLine {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			f.partialLine = data
			return tickResult{}
		}
		data = data[idx+1:]
		f.dropFirstPartialLine = false
	}

	lines := bytes.Split(data, []byte{'\n'})
	complete := lines[:len(lines)-1]
	f.partialLine = append([]byte(nil), lines[len(lines)-1]...)

	var out []projection
	for _, line := range complete {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		h := xxhash.Sum64(line)
		if f.dedup.seenOrAdd(h) {
			continue
		}
		out = append(out, f.processLine(line)...)
	}
	return tickResult{projections: out}
}

func (f *trackedFile) processLine(line []byte) []projection {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil
	}
	metrics.RolloutRecordsTotal.WithLabelValues(rec.Type).Inc()

	switch rec.Type {
	case "session_meta":
		var meta sessionMetaPayload
		if err := json.Unmarshal(rec.Payload, &meta); err == nil {
			if tid := meta.threadID(); tid != "" {
				f.threadID = tid
			}
			f.originator = meta.Originator
			f.includeForLiveSync = includeOriginator(meta.Originator)
		}
		return nil

	case "event_msg":
		if !f.includeForLiveSync {
			return nil
		}
		return projectEventMsg(f.threadID, rec.Payload)

	case "response_item":
		if !f.includeForLiveSync {
			return nil
		}
		if p := projectResponseItem(f.threadID, rec.Payload); p != nil {
			return []projection{*p}
		}
		return nil
	}
	return nil
}
