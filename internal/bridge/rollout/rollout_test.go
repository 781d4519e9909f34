package rollout

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroadcaster struct {
	mu      sync.Mutex
	methods []string
	next    uint64
}

func (b *fakeBroadcaster) Broadcast(method string, params any) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.methods = append(b.methods, method)
	return b.next
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.methods)
}

func TestTailer_DiscoverTracksMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sessions", "2026", "07")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(sub, "rollout-a.jsonl"), []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "ignored.txt"), []byte("nope"), 0o644))

	tl := New(Options{Root: dir}, &fakeBroadcaster{})
	tl.discover()

	assert.Len(t, tl.files, 1)
}

func TestTailer_DiscoverIgnoresStaleFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rollout-old.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
	old := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	tl := New(Options{Root: dir}, &fakeBroadcaster{})
	tl.discover()

	assert.Empty(t, tl.files)
}

func TestTailer_DiscoverDropsVanishedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rollout-a.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	tl := New(Options{Root: dir}, &fakeBroadcaster{})
	tl.discover()
	require.Len(t, tl.files, 1)

	require.NoError(t, os.Remove(path))
	tl.discover()
	assert.Empty(t, tl.files)
}

func TestTailer_DiscoverCapsAtSixtyFourRetainingNewest(t *testing.T) {
	dir := t.TempDir()
	base := time.Now()
	for i := 0; i < 70; i++ {
		path := filepath.Join(dir, "rollout-"+string(rune('a'+i%26))+string(rune('A'+i/26))+".jsonl")
		require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
		ts := base.Add(-time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, ts, ts))
	}

	tl := New(Options{Root: dir}, &fakeBroadcaster{})
	tl.discover()
	assert.Len(t, tl.files, maxTrackedFiles)
	assert.Contains(t, tl.files, filepath.Join(dir, "rollout-aA.jsonl"), "newest file must be kept")
	assert.NotContains(t, tl.files, filepath.Join(dir, "rollout-rC.jsonl"), "oldest file must be dropped")
}

func TestTailer_StartAndStopIsClean(t *testing.T) {
	dir := t.TempDir()
	tl := New(Options{Root: dir, PollInterval: 10 * time.Millisecond}, &fakeBroadcaster{})
	tl.Start()
	time.Sleep(30 * time.Millisecond)
	tl.Stop()
}

func TestTailer_EndToEndProjectsNotifications(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rollout-a.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"type":"session_meta","payload":{"threadId":"t1","originator":"codex"}}`+"\n",
	), 0o644))

	b := &fakeBroadcaster{}
	tl := New(Options{Root: dir, PollInterval: 5 * time.Millisecond}, b)
	tl.Start()
	defer tl.Stop()

	time.Sleep(20 * time.Millisecond)

	fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = fh.WriteString(`{"type":"event_msg","payload":{"type":"agent_message","message":"hi"}}` + "\n")
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	require.Eventually(t, func() bool {
		return b.count() > 0
	}, time.Second, 5*time.Millisecond)
}
