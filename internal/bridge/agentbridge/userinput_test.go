package agentbridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userInputAgentScript = `
read -r line
echo '{"id":1,"result":{}}'
echo '{"method":"item/userInput/request","id":"sr-ui-1","params":{"threadId":"t1","turnId":"u1","itemId":"i1","questions":[{"id":"q1","question":"Proceed?"}]}}'
exec cat >/dev/null
`

func waitForOneUserInput(t *testing.T, b *Bridge) string {
	t.Helper()
	var id string
	require.Eventually(t, func() bool {
		_, userInputs := b.PendingCounts()
		if userInputs != 1 {
			return false
		}
		b.userInputMu.Lock()
		for k := range b.userInputs {
			id = k
		}
		b.userInputMu.Unlock()
		return id != ""
	}, 2*time.Second, 10*time.Millisecond)
	return id
}

func TestHandleUserInputRequest_TrackedAndBroadcast(t *testing.T) {
	b, bc, _ := startTestBridge(t, userInputAgentScript)
	waitForOneUserInput(t, b)

	assert.Contains(t, bc.methods(), "bridge/userInput.requested")
}

func TestPendingUserInput_MarshalsCamelCaseKeys(t *testing.T) {
	b, _, _ := startTestBridge(t, userInputAgentScript)
	id := waitForOneUserInput(t, b)

	b.userInputMu.Lock()
	entry := b.userInputs[id]
	b.userInputMu.Unlock()

	raw, err := json.Marshal(entry)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, id, decoded["id"])
	assert.Equal(t, "t1", decoded["threadId"])
	assert.Equal(t, "u1", decoded["turnId"])
	assert.Equal(t, "i1", decoded["itemId"])
	assert.NotEmpty(t, decoded["requestedAt"])
	assert.NotEmpty(t, decoded["questions"])

	for _, pascal := range []string{"ID", "ThreadID", "TurnID", "ItemID", "RequestedAt", "Questions"} {
		assert.NotContains(t, decoded, pascal)
	}
}

func TestResolveUserInput_UnknownIDReturnsNotFound(t *testing.T) {
	b, _, _ := startTestBridge(t, handshakeScript)
	err := b.ResolveUserInput("nope", map[string]Answer{"q1": {Answers: []string{"yes"}}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveUserInput_EmptyAnswersRejected(t *testing.T) {
	b, _, _ := startTestBridge(t, userInputAgentScript)
	id := waitForOneUserInput(t, b)

	err := b.ResolveUserInput(id, map[string]Answer{})
	assert.ErrorIs(t, err, ErrInvalidAnswers)
}

func TestResolveUserInput_BlankAnswerKeyRejected(t *testing.T) {
	b, _, _ := startTestBridge(t, userInputAgentScript)
	id := waitForOneUserInput(t, b)

	err := b.ResolveUserInput(id, map[string]Answer{"": {Answers: []string{"yes"}}})
	assert.ErrorIs(t, err, ErrInvalidAnswers)
}

func TestResolveUserInput_EmptyAnswerArrayRejected(t *testing.T) {
	b, _, _ := startTestBridge(t, userInputAgentScript)
	id := waitForOneUserInput(t, b)

	err := b.ResolveUserInput(id, map[string]Answer{"q1": {Answers: []string{}}})
	assert.ErrorIs(t, err, ErrInvalidAnswers)
}

func TestResolveUserInput_BlankAnswerStringRejected(t *testing.T) {
	b, _, _ := startTestBridge(t, userInputAgentScript)
	id := waitForOneUserInput(t, b)

	err := b.ResolveUserInput(id, map[string]Answer{"q1": {Answers: []string{""}}})
	assert.ErrorIs(t, err, ErrInvalidAnswers)
}

func TestResolveUserInput_ValidAnswersRemovesAndBroadcasts(t *testing.T) {
	b, bc, _ := startTestBridge(t, userInputAgentScript)
	id := waitForOneUserInput(t, b)

	err := b.ResolveUserInput(id, map[string]Answer{"q1": {Answers: []string{"yes"}}})
	require.NoError(t, err)

	_, userInputs := b.PendingCounts()
	assert.Equal(t, 0, userInputs)
	assert.Contains(t, bc.methods(), "bridge/userInput.resolved")
}

func TestResolveUserInput_InvalidAnswersRestoresEntry(t *testing.T) {
	b, _, _ := startTestBridge(t, userInputAgentScript)
	id := waitForOneUserInput(t, b)

	err := b.ResolveUserInput(id, map[string]Answer{})
	require.ErrorIs(t, err, ErrInvalidAnswers)

	_, userInputs := b.PendingCounts()
	assert.Equal(t, 1, userInputs, "rejected resolution must restore the pending entry")
}
