// Package agentbridge supervises the agent subprocess and correlates the
// bidirectional JSON-RPC-like protocol spoken over its stdio: client
// requests forwarded down, subprocess responses matched back up, and
// subprocess-originated server-requests (approvals, user-input, and a
// handful of other interaction types) materialized as pending state.
//
// Exactly one monotonic counter allocates ids for both the forwarded-
// request map and the internal-waiter map; resolution checks the
// forwarded map first, then the waiter map. Using two counters would let
// a forwarded request and an internal waiter collide on the same id.
package agentbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leapmux/bridged/internal/bridge/agent"
	"github.com/leapmux/bridged/internal/metrics"
)

const initializeTimeout = 15 * time.Second

// Options configures credential-refresh behavior and the subprocess to
// supervise.
type Options struct {
	Process agent.Options

	// Credentials, if non-nil, lets the bridge synthesize a reply to the
	// subprocess's account/chatgptAuthTokens/refresh server-request
	// instead of broadcasting a refresh.required notification.
	Credentials *Credentials
}

// Credentials holds a pre-configured access token used to answer a
// credential-refresh server-request without user interaction.
type Credentials struct {
	AccessToken     string
	ChatGPTAccount  string
	ChatGPTPlanType string
}

// Bridge supervises one agent subprocess.
type Bridge struct {
	proc *agent.Process

	broadcaster Broadcaster
	replier     Replier
	credentials *Credentials

	idCounter atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]pendingForwardedRequest

	waitersMu sync.Mutex
	waiters   map[uint64]chan waiterResult

	approvalCounter  atomic.Uint64
	userInputCounter atomic.Uint64

	approvalsMu sync.Mutex
	approvals   map[string]*PendingApproval

	userInputMu sync.Mutex
	userInputs  map[string]*PendingUserInput

	exitOnce sync.Once
}

// Start spawns the agent subprocess, performs the initialize handshake,
// and begins servicing its stdout. It returns once the handshake succeeds;
// the exit watcher and stdout demultiplexer keep running in the
// background until the subprocess exits.
func Start(ctx context.Context, opts Options, broadcaster Broadcaster, replier Replier) (*Bridge, error) {
	b := &Bridge{
		broadcaster: broadcaster,
		replier:     replier,
		credentials: opts.Credentials,
		pending:     make(map[uint64]pendingForwardedRequest),
		waiters:     make(map[uint64]chan waiterResult),
		approvals:   make(map[string]*PendingApproval),
		userInputs:  make(map[string]*PendingUserInput),
	}

	proc, err := agent.Start(ctx, opts.Process, b.handleLine)
	if err != nil {
		return nil, fmt.Errorf("start agent process: %w", err)
	}
	b.proc = proc

	go b.watchExit()

	if _, err := b.sendInternal(ctx, "initialize", nil, initializeTimeout); err != nil {
		proc.Stop()
		_ = proc.Wait()
		return nil, fmt.Errorf("initialize handshake: %w", err)
	}

	if err := b.writeNotification("initialized", nil); err != nil {
		proc.Stop()
		_ = proc.Wait()
		return nil, fmt.Errorf("send initialized: %w", err)
	}

	metrics.AgentAlive.Set(1)
	return b, nil
}

// Stop requests a graceful shutdown of the subprocess.
func (b *Bridge) Stop() {
	b.proc.Stop()
}

// Wait blocks until the subprocess has exited.
func (b *Bridge) Wait() error {
	return b.proc.Wait()
}

// Alive reports whether the agent subprocess is still running.
func (b *Bridge) Alive() bool {
	select {
	case <-b.proc.Done():
		return false
	default:
		return true
	}
}

// PendingCounts returns the number of currently outstanding approvals and
// user-input requests, for health reporting and metrics gauges.
func (b *Bridge) PendingCounts() (approvals, userInputs int) {
	b.approvalsMu.Lock()
	approvals = len(b.approvals)
	b.approvalsMu.Unlock()

	b.userInputMu.Lock()
	userInputs = len(b.userInputs)
	b.userInputMu.Unlock()

	return approvals, userInputs
}

// nextID allocates the next id from the single shared counter. Ids start
// at 1; 0 is never allocated, so it is safe to use as a "no id" sentinel
// if ever needed.
func (b *Bridge) nextID() uint64 {
	return b.idCounter.Add(1)
}

// ForwardRequest relays a client's allow-listed RPC to the subprocess,
// recording enough state to route the eventual reply back to that client.
// On write failure the map entry is rolled back and an error is returned
// to the caller, who is responsible for replying to the client directly.
func (b *Bridge) ForwardRequest(clientID uint64, clientRequestID json.RawMessage, method string, params json.RawMessage) error {
	id := b.nextID()
	metrics.ForwardedRequestsTotal.WithLabelValues(method).Inc()

	b.pendingMu.Lock()
	b.pending[id] = pendingForwardedRequest{clientID: clientID, clientRequestID: clientRequestID}
	b.pendingMu.Unlock()

	if err := b.writeRequest(id, method, params); err != nil {
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
		return fmt.Errorf("forward request: %w", err)
	}
	return nil
}

// sendInternal issues a bridge-originated request and waits for its
// result via the waiter map, sharing the same id counter as forwarded
// requests.
func (b *Bridge) sendInternal(ctx context.Context, method string, params json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	id := b.nextID()
	ch := make(chan waiterResult, 1)

	b.waitersMu.Lock()
	b.waiters[id] = ch
	b.waitersMu.Unlock()

	cleanup := func() {
		b.waitersMu.Lock()
		delete(b.waiters, id)
		b.waitersMu.Unlock()
	}

	if err := b.writeRequest(id, method, params); err != nil {
		cleanup()
		return nil, err
	}

	select {
	case res := <-ch:
		cleanup()
		return res.result, res.err
	case <-b.proc.Done():
		cleanup()
		stderr := strings.TrimSpace(b.proc.Stderr())
		if stderr != "" {
			return nil, fmt.Errorf("agent process exited: %s", stderr)
		}
		return nil, fmt.Errorf("agent process exited unexpectedly")
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-time.After(timeout):
		cleanup()
		return nil, fmt.Errorf("timeout waiting for agent response")
	}
}

func (b *Bridge) writeRequest(id uint64, method string, params json.RawMessage) error {
	data, err := json.Marshal(outboundRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return b.proc.WriteLine(data)
}

func (b *Bridge) writeNotification(method string, params json.RawMessage) error {
	data, err := json.Marshal(outboundNotification{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return b.proc.WriteLine(data)
}

func (b *Bridge) writeReply(id json.RawMessage, result json.RawMessage, rpcErr *RPCError) error {
	data, err := json.Marshal(outboundReply{ID: id, Result: result, Error: rpcErr})
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	return b.proc.WriteLine(data)
}

// handleLine demultiplexes one line from the subprocess's stdout into a
// server-request, a notification, a response, or (if it matches none of
// the shapes) nothing.
func (b *Bridge) handleLine(line []byte) {
	var env wireEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		slog.Warn("agent stdout parse error", "error", err)
		return
	}

	hasID := len(env.ID) > 0 && string(env.ID) != "null"
	hasMethod := env.Method != ""

	switch {
	case hasMethod && hasID:
		b.handleServerRequest(env.ID, env.Method, env.Params)
	case hasMethod:
		b.handleNotification(env.Method, env.Params)
	case hasID:
		b.handleResponse(env.ID, env.Result, env.Error)
	default:
		// Neither an id nor a method: not a well-formed envelope, drop it.
	}
}

// handleNotification relays an agent-originated notification verbatim to
// every connected client.
func (b *Bridge) handleNotification(method string, params json.RawMessage) {
	b.broadcaster.Broadcast(method, params)
}

// handleResponse resolves a reply from the subprocess against the
// forwarded-request map, then the internal-waiter map. An id matching
// neither is silently dropped, per spec.
func (b *Bridge) handleResponse(rawID json.RawMessage, result json.RawMessage, rpcErr *RPCError) {
	id, ok := parseInternalID(rawID)
	if !ok {
		return
	}

	b.pendingMu.Lock()
	entry, found := b.pending[id]
	if found {
		delete(b.pending, id)
	}
	b.pendingMu.Unlock()

	if found {
		b.replier.Reply(entry.clientID, entry.clientRequestID, result, rpcErr)
		return
	}

	b.waitersMu.Lock()
	ch, found := b.waiters[id]
	if found {
		delete(b.waiters, id)
	}
	b.waitersMu.Unlock()

	if found {
		if rpcErr != nil {
			ch <- waiterResult{err: rpcErr}
		} else {
			ch <- waiterResult{result: result}
		}
		return
	}

	// Matches neither map: drop.
}

// watchExit drains all pending state once the subprocess exits. It runs
// exactly once and is terminal: the bridge never respawns the subprocess.
func (b *Bridge) watchExit() {
	<-b.proc.Done()
	b.exitOnce.Do(func() {
		metrics.AgentAlive.Set(0)

		b.pendingMu.Lock()
		drained := b.pending
		b.pending = make(map[uint64]pendingForwardedRequest)
		b.pendingMu.Unlock()

		for _, entry := range drained {
			b.replier.Reply(entry.clientID, entry.clientRequestID, nil, &RPCError{
				Code:    -32000,
				Message: "agent closed",
			})
		}

		b.waitersMu.Lock()
		waiters := b.waiters
		b.waiters = make(map[uint64]chan waiterResult)
		b.waitersMu.Unlock()
		for _, ch := range waiters {
			ch <- waiterResult{err: fmt.Errorf("agent process exited")}
		}

		b.approvalsMu.Lock()
		b.approvals = make(map[string]*PendingApproval)
		b.approvalsMu.Unlock()
		metrics.PendingApprovals.Set(0)

		b.userInputMu.Lock()
		b.userInputs = make(map[string]*PendingUserInput)
		b.userInputMu.Unlock()
		metrics.PendingUserInputs.Set(0)

		slog.Info("agent bridge torn down: subprocess exited", "exit_code", b.proc.ExitCode())
	})
}

// parseInternalID accepts an id as carried on the wire: an unsigned JSON
// number, a non-negative signed JSON number, or a decimal string
// parseable as uint64. Anything else — including negative numbers — is
// rejected.
func parseInternalID(raw json.RawMessage) (uint64, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return 0, false
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, false
		}
		n, err := strconv.ParseUint(str, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err == nil {
		return n, true
	}
	// Signed but non-negative (e.g. "5" already handled above; this
	// covers forms strconv.ParseUint rejects like a leading '+').
	if signed, err := strconv.ParseInt(s, 10, 64); err == nil && signed >= 0 {
		return uint64(signed), true
	}
	return 0, false
}
