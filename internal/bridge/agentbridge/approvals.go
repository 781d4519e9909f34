package agentbridge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/leapmux/bridged/internal/metrics"
	"github.com/leapmux/bridged/internal/util/timefmt"
)

// ResponseFormat records which wire vocabulary a pending approval's reply
// must be rendered in, so resolving it speaks back in the shape the
// subprocess expects.
type ResponseFormat int

const (
	ResponseFormatModern ResponseFormat = iota
	ResponseFormatLegacy
)

// String renders the wire vocabulary spec.md §3 requires: "modern" or
// "legacy", never the bare int.
func (f ResponseFormat) String() string {
	if f == ResponseFormatLegacy {
		return "legacy"
	}
	return "modern"
}

// MarshalJSON renders ResponseFormat as its wire string rather than the
// underlying int.
func (f ResponseFormat) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// PendingApproval is a server-request from the subprocess awaiting a
// client decision.
type PendingApproval struct {
	ID                  string `json:"id"`
	subprocessRequestID json.RawMessage
	ResponseFormat      ResponseFormat `json:"responseFormat"`
	Kind                string         `json:"kind"` // "commandExecution" | "fileChange"
	ThreadID            string         `json:"threadId"`
	TurnID              string         `json:"turnId"`
	ItemID              string         `json:"itemId"`
	RequestedAt         string         `json:"requestedAt"`
	Reason              string         `json:"reason,omitempty"`
	Command             string         `json:"command,omitempty"`
	Cwd                 string         `json:"cwd,omitempty"`
	GrantRoot           string         `json:"grantRoot,omitempty"`
}

const (
	methodApprovalCommandExecution = "item/commandExecution/requestApproval"
	methodApprovalFileChange       = "item/fileChange/requestApproval"
	methodApprovalApplyPatchLegacy = "applyPatchApproval"
	methodApprovalExecCommandLegacy = "execCommandApproval"
)

func orPlaceholder(value, placeholder string) string {
	if value == "" {
		return placeholder
	}
	return value
}

// handleApprovalRequest materializes a server-request as a pending
// approval and broadcasts bridge/approval.requested. It handles both the
// modern requestApproval methods and the two legacy variants, normalizing
// field names into one payload shape.
func (b *Bridge) handleApprovalRequest(subprocessID json.RawMessage, method string, params json.RawMessage) {
	var modern struct {
		ThreadID  string `json:"threadId"`
		TurnID    string `json:"turnId"`
		ItemID    string `json:"itemId"`
		Command   string `json:"command"`
		Cwd       string `json:"cwd"`
		Reason    string `json:"reason"`
		GrantRoot string `json:"grantRoot"`
	}
	var legacy struct {
		ConversationID string   `json:"conversationId"`
		CallID         string   `json:"callId"`
		Command        []string `json:"command"`
		Cwd            string   `json:"cwd"`
		Reason         string   `json:"reason"`
		GrantRoot      string   `json:"grantRoot"`
	}

	approval := &PendingApproval{
		ID:                  fmt.Sprintf("%d-%d", time.Now().UnixMilli(), b.approvalCounter.Add(1)),
		subprocessRequestID: subprocessID,
		RequestedAt:         timefmt.Format(time.Now()),
	}

	switch method {
	case methodApprovalCommandExecution, methodApprovalFileChange:
		_ = json.Unmarshal(params, &modern)
		approval.ResponseFormat = ResponseFormatModern
		if method == methodApprovalCommandExecution {
			approval.Kind = "commandExecution"
		} else {
			approval.Kind = "fileChange"
		}
		approval.ThreadID = orPlaceholder(modern.ThreadID, "unknown-thread")
		approval.TurnID = orPlaceholder(modern.TurnID, "unknown-turn")
		approval.ItemID = orPlaceholder(modern.ItemID, "unknown-item")
		approval.Command = modern.Command
		approval.Cwd = modern.Cwd
		approval.Reason = modern.Reason
		approval.GrantRoot = modern.GrantRoot
	case methodApprovalApplyPatchLegacy, methodApprovalExecCommandLegacy:
		_ = json.Unmarshal(params, &legacy)
		approval.ResponseFormat = ResponseFormatLegacy
		if method == methodApprovalExecCommandLegacy {
			approval.Kind = "commandExecution"
		} else {
			approval.Kind = "fileChange"
		}
		approval.ThreadID = orPlaceholder(legacy.ConversationID, "unknown-thread")
		approval.TurnID = "unknown-turn"
		approval.ItemID = orPlaceholder(legacy.CallID, "unknown-item")
		approval.Command = strings.Join(legacy.Command, " ")
		approval.Cwd = legacy.Cwd
		approval.Reason = legacy.Reason
		approval.GrantRoot = legacy.GrantRoot
	default:
		return
	}

	b.approvalsMu.Lock()
	b.approvals[approval.ID] = approval
	count := len(b.approvals)
	b.approvalsMu.Unlock()
	metrics.PendingApprovals.Set(float64(count))

	b.broadcaster.Broadcast("bridge/approval.requested", approval)
}

// ListApprovals returns every pending approval, newest request first.
func (b *Bridge) ListApprovals() []*PendingApproval {
	b.approvalsMu.Lock()
	defer b.approvalsMu.Unlock()

	out := make([]*PendingApproval, 0, len(b.approvals))
	for _, a := range b.approvals {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt > out[j].RequestedAt
	})
	return out
}

// ErrNotFound is returned when an approval or user-input id no longer
// has a pending entry (already resolved, or the subprocess exited).
var ErrNotFound = fmt.Errorf("no pending entry for id")

// ErrInvalidDecision wraps a decision that failed to parse, so callers at
// the gateway layer can distinguish a client-input problem (map to the
// invalid-params error code) from an internal write failure.
var ErrInvalidDecision = fmt.Errorf("invalid approval decision")

// ResolveApproval parses decision, writes the reply to the subprocess in
// the shape the pending entry's responseFormat requires, and broadcasts
// bridge/approval.resolved on success. If the write fails, the pending
// entry is restored so the client may retry.
func (b *Bridge) ResolveApproval(id string, rawDecision json.RawMessage) error {
	b.approvalsMu.Lock()
	approval, ok := b.approvals[id]
	if ok {
		delete(b.approvals, id)
	}
	count := len(b.approvals)
	b.approvalsMu.Unlock()
	if ok {
		metrics.PendingApprovals.Set(float64(count))
	}

	if !ok {
		return ErrNotFound
	}

	decision, err := ParseDecision(rawDecision)
	if err != nil {
		b.restoreApproval(approval)
		return fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}

	var result json.RawMessage
	if approval.ResponseFormat == ResponseFormatLegacy {
		result, err = decision.renderLegacy()
	} else {
		result, err = decision.renderModern()
	}
	if err != nil {
		b.restoreApproval(approval)
		return err
	}

	if err := b.writeReply(approval.subprocessRequestID, result, nil); err != nil {
		b.restoreApproval(approval)
		return fmt.Errorf("write approval reply: %w", err)
	}

	b.broadcaster.Broadcast("bridge/approval.resolved", map[string]any{
		"id":         approval.ID,
		"threadId":   approval.ThreadID,
		"decision":   decision.String(),
		"resolvedAt": timefmt.Format(time.Now()),
	})
	return nil
}

func (b *Bridge) restoreApproval(approval *PendingApproval) {
	b.approvalsMu.Lock()
	b.approvals[approval.ID] = approval
	count := len(b.approvals)
	b.approvalsMu.Unlock()
	metrics.PendingApprovals.Set(float64(count))
}

// subprocessRequestIDString renders a subprocess request id for logging.
func subprocessRequestIDString(raw json.RawMessage) string {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strconv.Quote(string(raw))
}
