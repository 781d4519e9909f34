package rollout

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewTrackedFile_SmallFileStartsAtZero(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rollout-1.jsonl", "hello\n")
	f := newTrackedFile(path, 6, time.Now())
	assert.Equal(t, int64(0), f.offset)
	assert.False(t, f.dropFirstPartialLine)
}

func TestNewTrackedFile_LargeFileStartsAtTailWindowAndDropsFirstLine(t *testing.T) {
	f := newTrackedFile("/whatever", tailBufferBytes+5000, time.Now())
	assert.Equal(t, int64(5000), f.offset)
	assert.True(t, f.dropFirstPartialLine)
}

func TestTrackedFile_PollReadsNewCompleteLines(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rollout-1.jsonl",
		`{"type":"session_meta","payload":{"threadId":"t1","originator":"codex"}}`+"\n"+
			`{"type":"event_msg","payload":{"type":"agent_message","message":"hi"}}`+"\n")

	info, err := os.Stat(path)
	require.NoError(t, err)
	f := newTrackedFile(path, 0, info.ModTime())

	result := f.poll()
	assert.False(t, result.notFound)
	require.Len(t, result.projections, 1)
	assert.Equal(t, "codex/event/agent_message_delta", result.projections[0].method)
	assert.Equal(t, "t1", f.threadID)
	assert.Equal(t, info.Size(), f.offset)
}

func TestTrackedFile_PollBuffersPartialLine(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rollout-1.jsonl", `{"type":"event_msg",`)

	f := newTrackedFile(path, 0, time.Now())
	f.threadID = "t1"
	result := f.poll()
	assert.Empty(t, result.projections)
	assert.NotEmpty(t, f.partialLine)

	// Append the rest of the line plus a new complete one.
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = fh.WriteString(`"payload":{"type":"agent_message","message":"hi"}}` + "\n")
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	result = f.poll()
	require.Len(t, result.projections, 1)
	assert.Empty(t, f.partialLine)
}

func TestTrackedFile_PollSkipsWhenUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rollout-1.jsonl", "")
	f := newTrackedFile(path, 0, time.Now())

	result := f.poll()
	assert.Empty(t, result.projections)
	assert.Equal(t, int64(0), f.offset)
}

func TestTrackedFile_PollDetectsTruncationAndResets(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rollout-1.jsonl", `{"type":"event_msg","payload":{"type":"agent_message","message":"hi"}}`+"\n")
	info, _ := os.Stat(path)
	f := newTrackedFile(path, 0, info.ModTime())
	f.poll()
	require.Greater(t, f.offset, int64(0))

	f.dedup.seenOrAdd(12345)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	result := f.poll()
	assert.False(t, result.notFound)
	assert.Empty(t, result.projections)
	assert.Equal(t, int64(0), f.offset)
	assert.Equal(t, 0, f.dedup.len())
}

func TestTrackedFile_PollReportsNotFound(t *testing.T) {
	f := newTrackedFile("/nonexistent/path/rollout-1.jsonl", 0, time.Now())
	result := f.poll()
	assert.True(t, result.notFound)
}

func TestTrackedFile_DedupSkipsRepeatedLines(t *testing.T) {
	dir := t.TempDir()
	line := `{"type":"event_msg","payload":{"type":"agent_message","message":"hi"}}` + "\n"
	path := writeFile(t, dir, "rollout-1.jsonl", line)
	f := newTrackedFile(path, 0, time.Now())
	f.threadID = "t1"

	first := f.poll()
	require.Len(t, first.projections, 1)

	fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = fh.WriteString(line)
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	second := f.poll()
	assert.Empty(t, second.projections, "duplicate line hash should be suppressed")
}

func TestTrackedFile_NonCodexOriginatorSuppressesLiveSync(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rollout-1.jsonl",
		`{"type":"session_meta","payload":{"threadId":"t1","originator":"some-other-tool"}}`+"\n"+
			`{"type":"event_msg","payload":{"type":"agent_message","message":"hi"}}`+"\n")
	f := newTrackedFile(path, 0, time.Now())

	result := f.poll()
	assert.Empty(t, result.projections)
	assert.False(t, f.includeForLiveSync)
}
