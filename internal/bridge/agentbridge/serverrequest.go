package agentbridge

import (
	"encoding/json"
	"fmt"
)

const (
	methodUserInputRequest     = "item/userInput/request"
	methodUnsupportedToolCall  = "item/tool/call"
	methodCredentialRefresh    = "account/chatgptAuthTokens/refresh"
)

// handleServerRequest dispatches a subprocess-originated request (one
// that carries both a method and an id) to the handler for its class.
// Approval and user-input requests are held as pending entries and
// answered later by ResolveApproval/ResolveUserInput; the unsupported
// tool call, credential refresh and any other method are answered to
// the subprocess immediately.
func (b *Bridge) handleServerRequest(subprocessID json.RawMessage, method string, params json.RawMessage) {
	switch method {
	case methodApprovalCommandExecution, methodApprovalFileChange,
		methodApprovalApplyPatchLegacy, methodApprovalExecCommandLegacy:
		b.handleApprovalRequest(subprocessID, method, params)

	case methodUserInputRequest:
		b.handleUserInputRequest(subprocessID, params)

	case methodUnsupportedToolCall:
		b.handleUnsupportedToolCall(subprocessID, params)

	case methodCredentialRefresh:
		b.handleCredentialRefresh(subprocessID)

	default:
		_ = b.writeReply(subprocessID, nil, &RPCError{
			Code:    -32601,
			Message: fmt.Sprintf("Unsupported server request method: %s", method),
		})
	}
}

// handleUnsupportedToolCall immediately rejects a dynamic tool call the
// bridge has no handler for, and tells clients it happened.
func (b *Bridge) handleUnsupportedToolCall(subprocessID json.RawMessage, params json.RawMessage) {
	var body struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal(params, &body)

	result, _ := json.Marshal(map[string]any{
		"success": false,
		"contentItems": []map[string]string{
			{"type": "inputText", "text": "This tool call is not supported by the bridge."},
		},
	})
	_ = b.writeReply(subprocessID, result, nil)

	b.broadcaster.Broadcast("bridge/tool.call.unsupported", map[string]any{
		"name": body.Name,
	})
}

// handleCredentialRefresh answers a credential-refresh server-request
// using pre-configured credentials if present; otherwise it asks the
// client to provide fresh credentials out of band.
func (b *Bridge) handleCredentialRefresh(subprocessID json.RawMessage) {
	if b.credentials == nil {
		b.broadcaster.Broadcast("bridge/account.chatgptAuthTokens.refresh.required", map[string]any{})
		_ = b.writeReply(subprocessID, nil, &RPCError{
			Code:    -32001,
			Message: "no chatgpt credentials configured",
		})
		return
	}

	result, _ := json.Marshal(map[string]any{
		"accessToken":     b.credentials.AccessToken,
		"chatgptAccountId": b.credentials.ChatGPTAccount,
		"chatgptPlanType":  b.credentials.ChatGPTPlanType,
	})
	_ = b.writeReply(subprocessID, result, nil)
}
