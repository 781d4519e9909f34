package rollout

import (
	"encoding/json"
	"strings"

	"github.com/google/shlex"
)

// record is one rollout-*.jsonl line: a type discriminator and an
// arbitrary payload, the shape the agent's journal writer actually
// emits (`{"timestamp":..., "type":"...", "payload":{...}}`).
type record struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// sessionMetaPayload carries the fields session_meta records use to
// (re)identify the file's thread and originator.
type sessionMetaPayload struct {
	ThreadID       string `json:"threadId"`
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Originator     string `json:"originator"`
}

func (p sessionMetaPayload) threadID() string {
	for _, v := range []string{p.ThreadID, p.ID, p.ConversationID} {
		if v != "" {
			return v
		}
	}
	return ""
}

// eventMsgPayload is the generic shape of event_msg payloads: a type
// plus whatever fields that type carries.
type eventMsgPayload struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Message  string `json:"message"`
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	ItemID   string `json:"itemId"`
}

// noiseEventTypes are event_msg types dropped entirely per spec.
var noiseEventTypes = map[string]bool{
	"token_count":       true,
	"user_message":      true,
	"context_compacted": true,
}

// taskLifecycleStatus maps an event_msg type to the thread status it
// implies, for the companion thread/status/changed notification.
var taskLifecycleStatus = map[string]string{
	"task_started":     "running",
	"task_complete":    "completed",
	"task_failed":      "failed",
	"turn_failed":      "failed",
	"task_interrupted": "interrupted",
	"turn_aborted":     "interrupted",
}

// responseItemPayload is the generic shape of response_item payloads:
// only function_call items are ever projected. call_id is the item's
// own identifier; when the record itself carries no threadId, the
// file's threadId from session_meta is used, and a missing turnId
// becomes the "unknown-turn" placeholder.
type responseItemPayload struct {
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	ThreadID  string          `json:"threadId"`
	TurnID    string          `json:"turnId"`
	ItemID    string          `json:"itemId"`
	CallID    string          `json:"call_id"`
}

// execCommandArgs is the decoded `arguments` of an exec_command
// function_call response_item.
type execCommandArgs struct {
	Cmd string `json:"cmd"`
	Cwd string `json:"cwd"`
}

// searchQueryArgs is the decoded `arguments` of a search_query or
// image_query function_call response_item. q is a single string; when
// it is empty, the first non-empty entry of the queries array is used.
type searchQueryArgs struct {
	Q       string   `json:"q"`
	Queries []string `json:"queries"`
}

// projection is one notification the tailer wants to broadcast; the
// broadcast is a hub-wide fan-out, not per-thread.
type projection struct {
	method string
	params any
}

// includeOriginator reports whether a session_meta originator should
// mark the file for live-sync projection: absent, or case-insensitively
// containing "codex" or "clawdex".
func includeOriginator(originator string) bool {
	if originator == "" {
		return true
	}
	lower := strings.ToLower(originator)
	return strings.Contains(lower, "codex") || strings.Contains(lower, "clawdex")
}

// projectEventMsg turns one event_msg record into zero or more
// notifications, given the file's carried-forward threadId.
func projectEventMsg(threadID string, raw json.RawMessage) []projection {
	var p eventMsgPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if noiseEventTypes[p.Type] {
		return nil
	}
	tid := firstNonEmpty(p.ThreadID, threadID)
	if tid == "" {
		return nil
	}

	var out []projection
	switch p.Type {
	case "agent_reasoning":
		out = append(out, projection{method: "codex/event/agent_reasoning_delta", params: map[string]any{
			"threadId": tid, "turnId": orPlaceholder(p.TurnID, "unknown-turn"), "itemId": orPlaceholder(p.ItemID, "unknown-item"),
			"delta": p.Text,
		}})
	case "agent_message":
		out = append(out, projection{method: "codex/event/agent_message_delta", params: map[string]any{
			"threadId": tid, "turnId": orPlaceholder(p.TurnID, "unknown-turn"), "itemId": orPlaceholder(p.ItemID, "unknown-item"),
			"delta": p.Message,
		}})
	default:
		out = append(out, projection{method: "codex/event/" + p.Type, params: json.RawMessage(raw)})
	}

	if status, ok := taskLifecycleStatus[p.Type]; ok {
		out = append(out, projection{method: "thread/status/changed", params: map[string]any{
			"threadId": tid,
			"status":   status,
		}})
	}
	return out
}

// projectResponseItem turns one response_item record into zero or one
// notification: only exec_command, mcp__*, search_query, and
// image_query function calls are projected.
func projectResponseItem(threadID string, raw json.RawMessage) *projection {
	var p responseItemPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if p.Type != "function_call" {
		return nil
	}
	tid := firstNonEmpty(p.ThreadID, threadID)
	if tid == "" {
		return nil
	}
	turnID := orPlaceholder(p.TurnID, "unknown-turn")
	callID := orPlaceholder(firstNonEmpty(p.CallID, p.ItemID), "unknown-item")

	switch {
	case p.Name == "exec_command":
		var args execCommandArgs
		if err := json.Unmarshal(p.Arguments, &args); err != nil || args.Cmd == "" {
			return nil
		}
		argv, err := shlex.Split(args.Cmd)
		if err != nil || len(argv) == 0 {
			argv = []string{args.Cmd}
		}
		return &projection{method: "codex/event/exec_command_begin", params: map[string]any{
			"thread_id": tid, "turn_id": turnID, "call_id": callID,
			"command": argv,
			"cwd":     args.Cwd,
		}}

	case strings.HasPrefix(p.Name, "mcp__"):
		server, tool := splitMCPTool(p.Name)
		return &projection{method: "codex/event/mcp_tool_call_begin", params: map[string]any{
			"thread_id": tid, "turn_id": turnID, "call_id": callID,
			"server": server, "tool": tool,
		}}

	case p.Name == "search_query" || p.Name == "image_query":
		var args searchQueryArgs
		if err := json.Unmarshal(p.Arguments, &args); err != nil {
			return nil
		}
		q := args.Q
		if q == "" {
			for _, candidate := range args.Queries {
				if candidate != "" {
					q = candidate
					break
				}
			}
		}
		if q == "" {
			return nil
		}
		return &projection{method: "codex/event/web_search_begin", params: map[string]any{
			"thread_id": tid, "turn_id": turnID, "call_id": callID,
			"query": q,
		}}
	}
	return nil
}

// splitMCPTool splits "mcp__<server>__<tool...>" into server and tool,
// rejoining any extra "__"-delimited segments into the tool name.
func splitMCPTool(name string) (server, tool string) {
	rest := strings.TrimPrefix(name, "mcp__")
	parts := strings.SplitN(rest, "__", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func orPlaceholder(value, placeholder string) string {
	if value == "" {
		return placeholder
	}
	return value
}
