package gateway

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapmux/bridged/internal/bridge/agentbridge"
	"github.com/leapmux/bridged/internal/bridge/hub"
)

type fakeHub struct {
	mu     sync.Mutex
	frames map[uint64][][]byte

	replayEvents  []hub.Envelope
	replayHasMore bool
	earliest      uint64
	latest        uint64
	clientCount   int
}

func newFakeHub() *fakeHub {
	return &fakeHub{frames: make(map[uint64][][]byte)}
}

func (f *fakeHub) SendTo(clientID uint64, frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[clientID] = append(f.frames[clientID], frame)
}

func (f *fakeHub) ReplaySince(afterID uint64, limit int) ([]hub.Envelope, bool) {
	return f.replayEvents, f.replayHasMore
}

func (f *fakeHub) EarliestEventID() uint64 { return f.earliest }
func (f *fakeHub) LatestEventID() uint64   { return f.latest }
func (f *fakeHub) ClientCount() int        { return f.clientCount }

func (f *fakeHub) last(clientID uint64) hub.ResponseFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	frames := f.frames[clientID]
	if len(frames) == 0 {
		return hub.ResponseFrame{}
	}
	var out hub.ResponseFrame
	_ = json.Unmarshal(frames[len(frames)-1], &out)
	return out
}

func (f *fakeHub) count(clientID uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames[clientID])
}

type fakeForwarder struct {
	forwardErr      error
	forwardedMethod string
	forwardedParams json.RawMessage

	approvals      []*agentbridge.PendingApproval
	resolveApprovalErr error
	resolveUserInputErr error

	alive              bool
	pendingApprovals   int
	pendingUserInputs  int
}

func (f *fakeForwarder) ForwardRequest(clientID uint64, clientRequestID json.RawMessage, method string, params json.RawMessage) error {
	f.forwardedMethod = method
	f.forwardedParams = params
	return f.forwardErr
}

func (f *fakeForwarder) ListApprovals() []*agentbridge.PendingApproval { return f.approvals }

func (f *fakeForwarder) ResolveApproval(id string, rawDecision json.RawMessage) error {
	return f.resolveApprovalErr
}

func (f *fakeForwarder) ResolveUserInput(id string, answers map[string]agentbridge.Answer) error {
	return f.resolveUserInputErr
}

func (f *fakeForwarder) Alive() bool { return f.alive }

func (f *fakeForwarder) PendingCounts() (int, int) {
	return f.pendingApprovals, f.pendingUserInputs
}

func newTestGateway() (*Gateway, *fakeHub, *fakeForwarder) {
	h := newFakeHub()
	fwd := &fakeForwarder{}
	return New(h, fwd, Options{}), h, fwd
}

func TestHandleText_MalformedJSONYieldsParseError(t *testing.T) {
	g, h, _ := newTestGateway()
	g.HandleText(1, []byte(`{not json`))

	resp := h.last(1)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeParseError, resp.Error.Code)
	assert.Equal(t, "null", string(resp.ID))
}

func TestHandleText_MissingMethodYieldsInvalidRequest(t *testing.T) {
	g, h, _ := newTestGateway()
	g.HandleText(1, []byte(`{"id":"r1"}`))

	resp := h.last(1)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidRequest, resp.Error.Code)
}

func TestHandleText_MissingIDIsDroppedAsNotification(t *testing.T) {
	g, h, fwd := newTestGateway()
	g.HandleText(1, []byte(`{"method":"thread/start","params":{}}`))

	assert.Equal(t, 0, h.count(1))
	assert.Empty(t, fwd.forwardedMethod, "a notification must never be dispatched")
}

func TestHandleText_ForwardedMethodRelaysToAgentBridge(t *testing.T) {
	g, _, fwd := newTestGateway()
	g.HandleText(1, []byte(`{"id":"r1","method":"thread/start","params":{"foo":"bar"}}`))

	assert.Equal(t, "thread/start", fwd.forwardedMethod)
	assert.JSONEq(t, `{"foo":"bar"}`, string(fwd.forwardedParams))
}

func TestHandleText_ForwardedMethodWriteFailureRepliesServerError(t *testing.T) {
	g, h, fwd := newTestGateway()
	fwd.forwardErr = assert.AnError
	g.HandleText(1, []byte(`{"id":"r1","method":"thread/start"}`))

	resp := h.last(1)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeServerError, resp.Error.Code)
}

func TestHandleText_NonAllowListedMethodYieldsMethodNotFound(t *testing.T) {
	g, h, _ := newTestGateway()
	g.HandleText(1, []byte(`{"id":"r1","method":"totally/unknown"}`))

	resp := h.last(1)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "totally/unknown")
}

func TestHandleBinary_YieldsInvalidRequestError(t *testing.T) {
	g, h, _ := newTestGateway()
	g.HandleBinary(1)

	resp := h.last(1)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidRequest, resp.Error.Code)
	assert.Equal(t, "null", string(resp.ID))
}

func TestHandleText_BridgeHealthRead(t *testing.T) {
	g, h, fwd := newTestGateway()
	fwd.alive = true
	fwd.pendingApprovals = 2
	g.HandleText(1, []byte(`{"id":"h1","method":"bridge/health/read"}`))

	resp := h.last(1)
	require.Nil(t, resp.Error)
	var result map[string]any
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "ok", result["status"])
	assert.Equal(t, true, result["agentAlive"])
	assert.Equal(t, float64(2), result["pendingApprovals"])
}

func TestHandleText_BridgeEventsReplay(t *testing.T) {
	g, h, _ := newTestGateway()
	h.replayEvents = []hub.Envelope{{Method: "turn/completed", EventID: 2}}
	h.replayHasMore = false
	h.latest = 2

	g.HandleText(1, []byte(`{"id":"e1","method":"bridge/events/replay","params":{"afterEventId":1,"limit":10}}`))

	resp := h.last(1)
	require.Nil(t, resp.Error)
	var result struct {
		Events  []hub.Envelope `json:"events"`
		HasMore bool           `json:"hasMore"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Events, 1)
	assert.Equal(t, uint64(2), result.Events[0].EventID)
	assert.False(t, result.HasMore)
}

func TestHandleText_ApprovalsResolveMapsNotFoundError(t *testing.T) {
	g, h, fwd := newTestGateway()
	fwd.resolveApprovalErr = agentbridge.ErrNotFound
	g.HandleText(1, []byte(`{"id":"a1","method":"bridge/approvals/resolve","params":{"id":"missing","decision":"accept"}}`))

	resp := h.last(1)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeNotFound, resp.Error.Code)
}

func TestHandleText_ApprovalsResolveMapsInvalidDecisionError(t *testing.T) {
	g, h, fwd := newTestGateway()
	fwd.resolveApprovalErr = agentbridge.ErrInvalidDecision
	g.HandleText(1, []byte(`{"id":"a1","method":"bridge/approvals/resolve","params":{"id":"x","decision":"bogus"}}`))

	resp := h.last(1)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestHandleText_ApprovalsResolveMissingParamsIsInvalidParams(t *testing.T) {
	g, h, _ := newTestGateway()
	g.HandleText(1, []byte(`{"id":"a1","method":"bridge/approvals/resolve","params":{}}`))

	resp := h.last(1)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestHandleText_TerminalExecDisabledWhenNotConfigured(t *testing.T) {
	g, h, _ := newTestGateway()
	g.HandleText(1, []byte(`{"id":"t1","method":"bridge/terminal/exec","params":{"command":"echo hi"}}`))

	resp := h.last(1)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeForbidden, resp.Error.Code)
}

func TestHandleText_GitStatusDisabledWhenNotConfigured(t *testing.T) {
	g, h, _ := newTestGateway()
	g.HandleText(1, []byte(`{"id":"g1","method":"bridge/git/status"}`))

	resp := h.last(1)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeForbidden, resp.Error.Code)
}

func TestHandleText_UnknownBridgeLocalMethod(t *testing.T) {
	g, h, _ := newTestGateway()
	g.HandleText(1, []byte(`{"id":"z1","method":"bridge/does/not/exist"}`))

	resp := h.last(1)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestIsForwardedMethod(t *testing.T) {
	assert.True(t, isForwardedMethod("thread/start"))
	assert.True(t, isForwardedMethod("command/exec"))
	assert.False(t, isForwardedMethod("bridge/health/read"))
	assert.False(t, isForwardedMethod("totally/unknown"))
}
