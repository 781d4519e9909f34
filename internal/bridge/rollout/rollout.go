// Package rollout tails the agent's rollout-*.jsonl journals and
// projects new lines as bridge notifications, so clients observe
// activity independently of the live agent subprocess session.
package rollout

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/leapmux/bridged/internal/metrics"
)

const (
	maxFileAge      = 48 * time.Hour
	maxTrackedFiles = 64
	defaultPoll     = 900 * time.Millisecond
	defaultDiscover = 1 // every tick, matching spec's default D=1
)

// Broadcaster is the hub's notification sink. Satisfied by
// *hub.Hub; kept as a small local interface so this package never
// imports the hub.
type Broadcaster interface {
	Broadcast(method string, params any) uint64
}

// Options configures a Tailer.
type Options struct {
	// Root is the sessions root directory to scan recursively.
	Root string
	// PollInterval is how often tracked files are re-read. Defaults to
	// 900ms.
	PollInterval time.Duration
	// DiscoverEveryTicks is how many poll ticks elapse between
	// directory scans. Defaults to 1 (every tick).
	DiscoverEveryTicks int
}

// Tailer owns all rollout-file state. Nothing outside its own run
// loop goroutine ever touches it.
type Tailer struct {
	root         string
	pollInterval time.Duration
	discoverEvery int

	broadcaster Broadcaster
	files       map[string]*trackedFile
	tick        uint64
	scanBackoff *backoff.ExponentialBackOff
	nextScanAt  time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// New constructs a Tailer. Call Start to begin polling.
func New(opts Options, broadcaster Broadcaster) *Tailer {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPoll
	}
	discover := opts.DiscoverEveryTicks
	if discover <= 0 {
		discover = defaultDiscover
	}
	return &Tailer{
		root:          opts.Root,
		pollInterval:  poll,
		discoverEvery: discover,
		broadcaster:   broadcaster,
		files:         make(map[string]*trackedFile),
		scanBackoff:   newScanBackoff(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func newScanBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 60 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}

// Start launches the tailer's poll loop in its own goroutine.
func (t *Tailer) Start() {
	go t.run()
}

// Stop halts the poll loop and waits for it to exit.
func (t *Tailer) Stop() {
	t.once.Do(func() { close(t.stop) })
	<-t.done
}

func (t *Tailer) run() {
	defer close(t.done)

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	t.discover()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.tick++
			if t.tick%uint64(t.discoverEvery) == 0 && !time.Now().Before(t.nextScanAt) {
				t.discover()
			}
			t.pollTrackedFiles()
		}
	}
}

// discover walks the root for rollout-*.jsonl candidates, opens newly
// seen ones, and drops tracked files that are gone or have aged out.
func (t *Tailer) discover() {
	type candidate struct {
		path    string
		size    int64
		modTime time.Time
	}

	seenOnDisk := make(map[string]candidate)
	var fresh []candidate

	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == t.root {
				return err // the root itself cannot be read: fail this scan
			}
			return nil // best-effort: skip unreadable entries below the root
		}
		if d.IsDir() || !isRolloutName(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		c := candidate{path: path, size: info.Size(), modTime: info.ModTime()}
		seenOnDisk[path] = c
		if time.Since(info.ModTime()) <= maxFileAge {
			fresh = append(fresh, c)
		}
		return nil
	})
	if err != nil {
		slog.Warn("rollout: directory scan failed, backing off", "root", t.root, "error", err)
		t.nextScanAt = time.Now().Add(t.scanBackoff.NextBackOff())
		return
	}
	t.scanBackoff.Reset()

	sort.Slice(fresh, func(i, j int) bool { return fresh[i].modTime.After(fresh[j].modTime) })
	if len(fresh) > maxTrackedFiles {
		fresh = fresh[:maxTrackedFiles]
	}

	for _, c := range fresh {
		if _, tracked := t.files[c.path]; tracked {
			continue
		}
		t.files[c.path] = newTrackedFile(c.path, c.size, c.modTime)
	}

	for path, f := range t.files {
		c, onDisk := seenOnDisk[path]
		if !onDisk {
			delete(t.files, path)
			continue
		}
		if time.Since(c.modTime) > maxFileAge {
			delete(t.files, path)
		}
	}

	metrics.TrackedRolloutFiles.Set(float64(len(t.files)))
}

func isRolloutName(name string) bool {
	return strings.HasPrefix(name, "rollout-") && strings.HasSuffix(name, ".jsonl")
}

func (t *Tailer) pollTrackedFiles() {
	dedupTotal := 0
	for path, f := range t.files {
		result := f.poll()
		if result.notFound {
			delete(t.files, path)
			continue
		}
		for _, p := range result.projections {
			t.broadcaster.Broadcast(p.method, p.params)
		}
		dedupTotal += f.dedup.len()
	}
	metrics.DedupSetSize.Set(float64(dedupTotal))
}
