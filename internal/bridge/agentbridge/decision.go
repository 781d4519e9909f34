package agentbridge

import (
	"encoding/json"
	"fmt"
)

// DecisionKind is the closed set of canonical approval decisions. The
// wire protocol accepts several spellings for the same decision (plain
// strings in either "modern" or "legacy" vocabulary, or an object for the
// execpolicy-amendment variant); everything is normalized to one of
// these before being acted on, then re-serialized in the shape the
// pending entry's responseFormat requires.
type DecisionKind int

const (
	DecisionAccept DecisionKind = iota
	DecisionAcceptForSession
	DecisionDecline
	DecisionCancel
	DecisionAcceptWithExecpolicyAmendment
)

// Decision is a parsed, canonical approval decision.
type Decision struct {
	Kind               DecisionKind
	ExecpolicyTokens    []string // only set when Kind == DecisionAcceptWithExecpolicyAmendment
}

// String renders the decision using modern vocabulary, for broadcast
// notifications (which are not tied to either wire format).
func (d Decision) String() string {
	switch d.Kind {
	case DecisionAccept:
		return "accept"
	case DecisionAcceptForSession:
		return "acceptForSession"
	case DecisionDecline:
		return "decline"
	case DecisionCancel:
		return "cancel"
	case DecisionAcceptWithExecpolicyAmendment:
		return "acceptWithExecpolicyAmendment"
	default:
		return "unknown"
	}
}

// ParseDecision normalizes any accepted wire spelling — modern or legacy,
// string or object — into a canonical Decision.
func ParseDecision(raw json.RawMessage) (Decision, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		switch asString {
		case "accept", "approved":
			return Decision{Kind: DecisionAccept}, nil
		case "acceptForSession", "approved_for_session":
			return Decision{Kind: DecisionAcceptForSession}, nil
		case "decline", "denied":
			return Decision{Kind: DecisionDecline}, nil
		case "cancel", "abort":
			return Decision{Kind: DecisionCancel}, nil
		default:
			return Decision{}, fmt.Errorf("unrecognized decision %q", asString)
		}
	}

	var asObject struct {
		AcceptWithExecpolicyAmendment *struct {
			ExecpolicyAmendment []string `json:"execpolicy_amendment"`
		} `json:"acceptWithExecpolicyAmendment"`
		ApprovedExecpolicyAmendment *struct {
			ProposedExecpolicyAmendment []string `json:"proposed_execpolicy_amendment"`
		} `json:"approved_execpolicy_amendment"`
	}
	if err := json.Unmarshal(raw, &asObject); err != nil {
		return Decision{}, fmt.Errorf("decision is neither a recognized string nor object: %w", err)
	}

	var tokens []string
	switch {
	case asObject.AcceptWithExecpolicyAmendment != nil:
		tokens = asObject.AcceptWithExecpolicyAmendment.ExecpolicyAmendment
	case asObject.ApprovedExecpolicyAmendment != nil:
		tokens = asObject.ApprovedExecpolicyAmendment.ProposedExecpolicyAmendment
	default:
		return Decision{}, fmt.Errorf("decision object has no recognized variant")
	}

	if len(tokens) == 0 {
		return Decision{}, fmt.Errorf("execpolicy amendment array must be non-empty")
	}
	for _, tok := range tokens {
		if tok == "" {
			return Decision{}, fmt.Errorf("execpolicy amendment tokens must be non-empty strings")
		}
	}

	return Decision{Kind: DecisionAcceptWithExecpolicyAmendment, ExecpolicyTokens: tokens}, nil
}

// renderModern serializes the decision in the vocabulary the "modern"
// approval methods (item/commandExecution/requestApproval,
// item/fileChange/requestApproval) expect as a reply.
func (d Decision) renderModern() (json.RawMessage, error) {
	switch d.Kind {
	case DecisionAccept:
		return json.Marshal(map[string]string{"decision": "accept"})
	case DecisionAcceptForSession:
		return json.Marshal(map[string]string{"decision": "acceptForSession"})
	case DecisionDecline:
		return json.Marshal(map[string]string{"decision": "decline"})
	case DecisionCancel:
		return json.Marshal(map[string]string{"decision": "cancel"})
	case DecisionAcceptWithExecpolicyAmendment:
		return json.Marshal(map[string]any{
			"decision": map[string]any{
				"acceptWithExecpolicyAmendment": map[string]any{
					"execpolicy_amendment": d.ExecpolicyTokens,
				},
			},
		})
	default:
		return nil, fmt.Errorf("unrenderable decision kind")
	}
}

// renderLegacy serializes the decision in the vocabulary the legacy
// approval methods (applyPatchApproval, execCommandApproval) expect.
func (d Decision) renderLegacy() (json.RawMessage, error) {
	switch d.Kind {
	case DecisionAccept:
		return json.Marshal(map[string]string{"decision": "approved"})
	case DecisionAcceptForSession:
		return json.Marshal(map[string]string{"decision": "approved_for_session"})
	case DecisionDecline:
		return json.Marshal(map[string]string{"decision": "denied"})
	case DecisionCancel:
		return json.Marshal(map[string]string{"decision": "abort"})
	case DecisionAcceptWithExecpolicyAmendment:
		return json.Marshal(map[string]any{
			"decision": map[string]any{
				"approved_execpolicy_amendment": map[string]any{
					"proposed_execpolicy_amendment": d.ExecpolicyTokens,
				},
			},
		})
	default:
		return nil, fmt.Errorf("unrenderable decision kind")
	}
}
