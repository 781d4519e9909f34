package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RequiresAgentCommand(t *testing.T) {
	c := &Config{AuthToken: "tok", DataDir: t.TempDir()}
	c.AgentCommand = ""
	err := c.Validate()
	assert.ErrorContains(t, err, "agent command")
}

func TestValidate_RequiresAuthToken(t *testing.T) {
	c := &Config{AgentCommand: "codex", DataDir: t.TempDir()}
	err := c.Validate()
	assert.ErrorContains(t, err, "auth token")
}

func TestValidate_RejectsNegativeReplayCapacity(t *testing.T) {
	c := &Config{AgentCommand: "codex", AuthToken: "tok", DataDir: t.TempDir(), ReplayCapacity: -1}
	err := c.Validate()
	assert.ErrorContains(t, err, "replay capacity")
}

func TestValidate_CreatesDataDirAndDefaultsTerminalRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "bridged")
	c := &Config{AgentCommand: "codex", AuthToken: "tok", DataDir: dir}
	require.NoError(t, c.Validate())

	assert.DirExists(t, dir)
	assert.Equal(t, dir, c.TerminalRoot)
}

func TestValidate_PreservesExplicitTerminalRoot(t *testing.T) {
	dataDir := t.TempDir()
	termRoot := t.TempDir()
	c := &Config{AgentCommand: "codex", AuthToken: "tok", DataDir: dataDir, TerminalRoot: termRoot}
	require.NoError(t, c.Validate())

	assert.Equal(t, termRoot, c.TerminalRoot)
}

func TestAgentArgList(t *testing.T) {
	c := &Config{AgentArgs: "proto --flag value"}
	assert.Equal(t, []string{"proto", "--flag", "value"}, c.AgentArgList())
}

func TestAgentArgList_Empty(t *testing.T) {
	c := &Config{AgentArgs: "   "}
	assert.Nil(t, c.AgentArgList())
}

func TestTerminalAllowedCommandList(t *testing.T) {
	c := &Config{TerminalAllowedCommands: "git, ls ,,cat"}
	assert.Equal(t, []string{"git", "ls", "cat"}, c.TerminalAllowedCommandList())
}
