// Package gateway is the single entry point for every client-facing
// frame: it parses the wire protocol, decides whether a method is
// bridge-local, forwarded to the agent subprocess, or disallowed, and
// renders every outcome (success or typed failure) back through the hub's
// unicast discipline.
//
// It owns no state of its own beyond its dependencies' handles — no
// locks, no maps — so it has nothing to tear down and nothing that can
// leak across client reconnects.
package gateway

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/leapmux/bridged/internal/bridge/agentbridge"
	"github.com/leapmux/bridged/internal/bridge/hub"
	"github.com/leapmux/bridged/internal/bridge/termexec"
)

// Error codes in the gateway's own taxonomy (distinct from whatever the
// subprocess returns for a forwarded RPC).
const (
	codeParseError             = -32700
	codeInvalidRequest         = -32600
	codeMethodNotFound         = -32601
	codeInvalidParams          = -32602
	codeServerError            = -32000
	codeCredentialUnconfigured = -32001
	codeForbidden              = -32003
	codeNotFound               = -32004
)

// Sender is the subset of the hub's API the gateway needs to deliver a
// frame to one client, used both for replies and for parse/protocol
// errors that have no forwarding-map entry to resolve through.
type Sender interface {
	SendTo(clientID uint64, frame []byte)
}

// ReplayReader is the subset of the hub's API bridge/events/replay and
// bridge/health/read need.
type ReplayReader interface {
	ReplaySince(afterID uint64, limit int) ([]hub.Envelope, bool)
	EarliestEventID() uint64
	LatestEventID() uint64
	ClientCount() int
}

// Hub is everything the gateway needs from the client hub.
type Hub interface {
	Sender
	ReplayReader
}

// Forwarder is everything the gateway needs from the agent bridge: relay
// an allow-listed request, and service the bridge-local approval/
// user-input endpoints.
type Forwarder interface {
	ForwardRequest(clientID uint64, clientRequestID json.RawMessage, method string, params json.RawMessage) error
	ListApprovals() []*agentbridge.PendingApproval
	ResolveApproval(id string, rawDecision json.RawMessage) error
	ResolveUserInput(id string, answers map[string]agentbridge.Answer) error
	Alive() bool
	PendingCounts() (approvals, userInputs int)
}

// Options configures passthrough helpers that back a handful of
// bridge-local methods. Either may be nil, in which case the
// corresponding method replies with a forbidden error.
type Options struct {
	Terminal *termexec.Executor
	GitRoot  string // working directory for bridge/git/status; "" disables it
}

// Gateway dispatches client frames.
type Gateway struct {
	hub       Hub
	forwarder Forwarder
	opts      Options
	startedAt time.Time
}

// New builds a Gateway. hub and forwarder must be non-nil.
func New(h Hub, forwarder Forwarder, opts Options) *Gateway {
	return &Gateway{hub: h, forwarder: forwarder, opts: opts, startedAt: time.Now()}
}

// clientFrame is the client → server wire shape.
type clientFrame struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// HandleBinary answers a binary frame with a protocol error. The wire
// protocol is JSON text only; binary frames are never valid.
func (g *Gateway) HandleBinary(clientID uint64) {
	g.sendError(clientID, nullID, codeInvalidRequest, "binary frames are not supported", nil)
}

var nullID = json.RawMessage("null")

// HandleText parses and dispatches one client text frame. It never
// blocks beyond whatever SendTo/ForwardRequest themselves do (both are
// non-blocking-first with a bounded unicast wait).
func (g *Gateway) HandleText(clientID uint64, raw []byte) {
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		g.sendError(clientID, nullID, codeParseError, "parse error: "+err.Error(), nil)
		return
	}

	if strings.TrimSpace(frame.Method) == "" {
		g.sendError(clientID, frameID(frame), codeInvalidRequest, "missing method", nil)
		return
	}

	if !hasID(frame.ID) {
		// No id: a notification. Dropped without being dispatched.
		return
	}

	switch {
	case strings.HasPrefix(frame.Method, "bridge/"):
		g.dispatchLocal(clientID, frame)
	case isForwardedMethod(frame.Method):
		if err := g.forwarder.ForwardRequest(clientID, frame.ID, frame.Method, frame.Params); err != nil {
			g.sendError(clientID, frame.ID, codeServerError, err.Error(), nil)
		}
		// On success the subprocess's eventual response (or the
		// exit-watcher's fail-all-pending) delivers the reply
		// asynchronously via agentbridge's Replier wiring.
	default:
		g.sendError(clientID, frame.ID, codeMethodNotFound, "Method not allowed: "+frame.Method, nil)
	}
}

func hasID(id json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(id))
	return trimmed != "" && trimmed != "null"
}

func frameID(frame clientFrame) json.RawMessage {
	if hasID(frame.ID) {
		return frame.ID
	}
	return nullID
}

func (g *Gateway) dispatchLocal(clientID uint64, frame clientFrame) {
	switch frame.Method {
	case "bridge/health/read":
		g.handleHealthRead(clientID, frame.ID)
	case "bridge/events/replay":
		g.handleEventsReplay(clientID, frame.ID, frame.Params)
	case "bridge/approvals/list":
		g.handleApprovalsList(clientID, frame.ID)
	case "bridge/approvals/resolve":
		g.handleApprovalsResolve(clientID, frame.ID, frame.Params)
	case "bridge/userInput/resolve":
		g.handleUserInputResolve(clientID, frame.ID, frame.Params)
	case "bridge/terminal/exec":
		g.handleTerminalExec(clientID, frame.ID, frame.Params)
	case "bridge/git/status":
		g.handleGitStatus(clientID, frame.ID, frame.Params)
	default:
		g.sendError(clientID, frame.ID, codeMethodNotFound, "Method not allowed: "+frame.Method, nil)
	}
}

func (g *Gateway) sendResult(clientID uint64, id json.RawMessage, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		g.sendError(clientID, id, codeServerError, "marshal result: "+err.Error(), nil)
		return
	}
	frame, err := json.Marshal(hub.ResponseFrame{ID: id, Result: raw})
	if err != nil {
		return
	}
	g.hub.SendTo(clientID, frame)
}

func (g *Gateway) sendError(clientID uint64, id json.RawMessage, code int, message string, data any) {
	frame, err := json.Marshal(hub.ResponseFrame{
		ID: id,
		Error: &agentbridge.RPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
	if err != nil {
		return
	}
	g.hub.SendTo(clientID, frame)
}

// mapResolveError translates an agentbridge resolve error into the
// gateway's error taxonomy: not-found, invalid-params, or a generic
// server error for anything else (e.g. a subprocess write failure).
func mapResolveError(err error) (code int, message string) {
	switch {
	case errors.Is(err, agentbridge.ErrNotFound):
		return codeNotFound, err.Error()
	case errors.Is(err, agentbridge.ErrInvalidDecision), errors.Is(err, agentbridge.ErrInvalidAnswers):
		return codeInvalidParams, err.Error()
	default:
		return codeServerError, err.Error()
	}
}
