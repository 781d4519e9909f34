package agentbridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/leapmux/bridged/internal/metrics"
	"github.com/leapmux/bridged/internal/util/timefmt"
)

// Question is one question the subprocess is asking the human, as part
// of a pending user-input interaction.
type Question struct {
	ID        string          `json:"id"`
	Header    string          `json:"header,omitempty"`
	Question  string          `json:"question"`
	IsOther   bool            `json:"isOther,omitempty"`
	IsSecret  bool            `json:"isSecret,omitempty"`
	Options   []QuestionOption `json:"options,omitempty"`
}

// QuestionOption is one selectable answer to a Question.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// PendingUserInput is a server-request asking the human to answer one or
// more questions before the subprocess can proceed.
type PendingUserInput struct {
	ID                  string `json:"id"`
	subprocessRequestID json.RawMessage
	ThreadID            string     `json:"threadId"`
	TurnID              string     `json:"turnId"`
	ItemID              string     `json:"itemId"`
	RequestedAt         string     `json:"requestedAt"`
	Questions           []Question `json:"questions"`
}

// Answer is one answered question, submitted by userInput/resolve.
type Answer struct {
	Answers []string `json:"answers"`
}

// ErrInvalidAnswers wraps a validation failure on the answers map passed
// to ResolveUserInput, so callers at the gateway layer can map it to the
// invalid-params error code rather than a generic server error.
var ErrInvalidAnswers = fmt.Errorf("invalid user-input answers")

func (b *Bridge) handleUserInputRequest(subprocessID json.RawMessage, params json.RawMessage) {
	var body struct {
		ThreadID  string     `json:"threadId"`
		TurnID    string     `json:"turnId"`
		ItemID    string     `json:"itemId"`
		Questions []Question `json:"questions"`
	}
	_ = json.Unmarshal(params, &body)

	entry := &PendingUserInput{
		ID:                  fmt.Sprintf("request-user-input-%d-%d", time.Now().UnixMilli(), b.userInputCounter.Add(1)),
		subprocessRequestID: subprocessID,
		ThreadID:            orPlaceholder(body.ThreadID, "unknown-thread"),
		TurnID:              orPlaceholder(body.TurnID, "unknown-turn"),
		ItemID:              orPlaceholder(body.ItemID, "unknown-item"),
		RequestedAt:         timefmt.Format(time.Now()),
		Questions:           body.Questions,
	}

	b.userInputMu.Lock()
	b.userInputs[entry.ID] = entry
	count := len(b.userInputs)
	b.userInputMu.Unlock()
	metrics.PendingUserInputs.Set(float64(count))

	b.broadcaster.Broadcast("bridge/userInput.requested", entry)
}

// ResolveUserInput validates the answers map, writes the reply to the
// subprocess, and broadcasts bridge/userInput.resolved on success.
// Validation: the map must be non-empty, every key non-blank, and every
// answer's string array non-empty with no blank strings.
func (b *Bridge) ResolveUserInput(id string, answers map[string]Answer) error {
	if len(answers) == 0 {
		return fmt.Errorf("%w: answers must be non-empty", ErrInvalidAnswers)
	}
	for key, answer := range answers {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("%w: answer key must not be blank", ErrInvalidAnswers)
		}
		if len(answer.Answers) == 0 {
			return fmt.Errorf("%w: answer for %q must be non-empty", ErrInvalidAnswers, key)
		}
		for _, s := range answer.Answers {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%w: answer for %q must not contain blank strings", ErrInvalidAnswers, key)
			}
		}
	}

	b.userInputMu.Lock()
	entry, ok := b.userInputs[id]
	if ok {
		delete(b.userInputs, id)
	}
	count := len(b.userInputs)
	b.userInputMu.Unlock()
	if ok {
		metrics.PendingUserInputs.Set(float64(count))
	}

	if !ok {
		return ErrNotFound
	}

	result, err := json.Marshal(map[string]any{"answers": answers})
	if err != nil {
		b.restoreUserInput(entry)
		return fmt.Errorf("marshal answers: %w", err)
	}

	if err := b.writeReply(entry.subprocessRequestID, result, nil); err != nil {
		b.restoreUserInput(entry)
		return fmt.Errorf("write user-input reply: %w", err)
	}

	b.broadcaster.Broadcast("bridge/userInput.resolved", map[string]any{
		"id":         entry.ID,
		"threadId":   entry.ThreadID,
		"resolvedAt": timefmt.Format(time.Now()),
	})
	return nil
}

func (b *Bridge) restoreUserInput(entry *PendingUserInput) {
	b.userInputMu.Lock()
	b.userInputs[entry.ID] = entry
	count := len(b.userInputs)
	b.userInputMu.Unlock()
	metrics.PendingUserInputs.Set(float64(count))
}
