package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/leapmux/bridged/internal/bridge/agentbridge"
	"github.com/leapmux/bridged/internal/bridge/gitutil"
	"github.com/leapmux/bridged/internal/bridge/termexec"
)

// handleHealthRead answers bridge/health/read with a snapshot of the
// bridge's vital signs: connected client count, replay-log bounds, agent
// liveness, and pending interaction counts.
func (g *Gateway) handleHealthRead(clientID uint64, id json.RawMessage) {
	g.sendResult(clientID, id, g.HealthSnapshot())
}

// HealthSnapshot reports the bridge's vital signs: connected client
// count, replay-log bounds, agent liveness, and pending interaction
// counts. Shared between bridge/health/read and the plain HTTP
// /healthz endpoint.
func (g *Gateway) HealthSnapshot() map[string]any {
	approvals, userInputs := g.forwarder.PendingCounts()
	return map[string]any{
		"status":            "ok",
		"uptimeMs":          time.Since(g.startedAt).Milliseconds(),
		"clientCount":       g.hub.ClientCount(),
		"earliestEventId":   g.hub.EarliestEventID(),
		"latestEventId":     g.hub.LatestEventID(),
		"agentAlive":        g.forwarder.Alive(),
		"pendingApprovals":  approvals,
		"pendingUserInputs": userInputs,
	}
}

// eventsReplayParams is the inbound shape of bridge/events/replay.
type eventsReplayParams struct {
	AfterEventID uint64 `json:"afterEventId"`
	Limit        int    `json:"limit"`
}

func (g *Gateway) handleEventsReplay(clientID uint64, id json.RawMessage, params json.RawMessage) {
	var p eventsReplayParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			g.sendError(clientID, id, codeInvalidParams, "invalid params: "+err.Error(), nil)
			return
		}
	}

	events, hasMore := g.hub.ReplaySince(p.AfterEventID, p.Limit)
	g.sendResult(clientID, id, map[string]any{
		"events":          events,
		"hasMore":         hasMore,
		"earliestEventId": g.hub.EarliestEventID(),
		"latestEventId":   g.hub.LatestEventID(),
	})
}

func (g *Gateway) handleApprovalsList(clientID uint64, id json.RawMessage) {
	g.sendResult(clientID, id, map[string]any{
		"approvals": g.forwarder.ListApprovals(),
	})
}

type approvalsResolveParams struct {
	ID       string          `json:"id"`
	Decision json.RawMessage `json:"decision"`
}

func (g *Gateway) handleApprovalsResolve(clientID uint64, id json.RawMessage, params json.RawMessage) {
	var p approvalsResolveParams
	if err := json.Unmarshal(params, &p); err != nil || p.ID == "" || len(p.Decision) == 0 {
		g.sendError(clientID, id, codeInvalidParams, "params must include id and decision", nil)
		return
	}

	if err := g.forwarder.ResolveApproval(p.ID, p.Decision); err != nil {
		code, message := mapResolveError(err)
		g.sendError(clientID, id, code, message, nil)
		return
	}
	g.sendResult(clientID, id, map[string]any{"ok": true})
}

type userInputResolveParams struct {
	ID      string                         `json:"id"`
	Answers map[string]agentbridge.Answer `json:"answers"`
}

func (g *Gateway) handleUserInputResolve(clientID uint64, id json.RawMessage, params json.RawMessage) {
	var p userInputResolveParams
	if err := json.Unmarshal(params, &p); err != nil || p.ID == "" {
		g.sendError(clientID, id, codeInvalidParams, "params must include id and answers", nil)
		return
	}

	if err := g.forwarder.ResolveUserInput(p.ID, p.Answers); err != nil {
		code, message := mapResolveError(err)
		g.sendError(clientID, id, code, message, nil)
		return
	}
	g.sendResult(clientID, id, map[string]any{"ok": true})
}

func (g *Gateway) handleTerminalExec(clientID uint64, id json.RawMessage, params json.RawMessage) {
	if g.opts.Terminal == nil {
		g.sendError(clientID, id, codeForbidden, "terminal exec is not configured on this bridge", nil)
		return
	}

	var req termexec.Request
	if err := json.Unmarshal(params, &req); err != nil {
		g.sendError(clientID, id, codeInvalidParams, "invalid params: "+err.Error(), nil)
		return
	}

	result, rpcErr := g.opts.Terminal.ExecuteShell(context.Background(), req)
	if rpcErr != nil {
		g.sendError(clientID, id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	g.sendResult(clientID, id, result)
}

type gitStatusParams struct {
	Cwd string `json:"cwd"`
}

func (g *Gateway) handleGitStatus(clientID uint64, id json.RawMessage, params json.RawMessage) {
	if g.opts.GitRoot == "" {
		g.sendError(clientID, id, codeForbidden, "git passthrough is not configured on this bridge", nil)
		return
	}

	var p gitStatusParams
	if len(params) > 0 {
		_ = json.Unmarshal(params, &p)
	}
	dir := g.opts.GitRoot
	if p.Cwd != "" {
		dir = p.Cwd
	}

	status := gitutil.GetGitStatus(dir)
	if status == nil {
		g.sendError(clientID, id, codeServerError, "not a git repository or git unavailable", nil)
		return
	}
	g.sendResult(clientID, id, status)
}
