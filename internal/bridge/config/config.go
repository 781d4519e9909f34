// Package config defines the bridge daemon's runtime configuration and
// the command-line flags that populate it.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
)

// Config holds the bridge daemon's full runtime configuration.
type Config struct {
	Addr string // TCP listen address, e.g. ":4328"

	AgentCommand string // path to the agent subprocess executable
	AgentArgs    string // space-separated extra args, split with shlex rules at startup
	AgentDir     string // working directory for the agent subprocess; "" uses the daemon's cwd

	AuthToken       string // bearer token required on /rpc
	AllowQueryToken bool   // dev toggle: accept ?token=<tok> in addition to the Authorization header

	ReplayCapacity int // bounded replay log capacity; 0 disables replay storage

	DataDir     string // base directory for persisted state
	RolloutRoot string // root directory the rollout tailer scans; "" disables the tailer

	TerminalDisabled        bool   // if true, bridge/terminal/exec always replies forbidden
	TerminalAllowedCommands string // comma-separated allow-list for bridge/terminal/exec
	TerminalRoot            string // cwd confinement root for bridge/terminal/exec; defaults to DataDir

	GitRoot string // working directory for bridge/git/status; "" disables it
}

// DefineFlags registers command-line flags for the bridge configuration.
// Call flag.Parse() separately after defining all flags.
func DefineFlags() *Config {
	c := &Config{}
	flag.StringVar(&c.Addr, "addr", ":4328", "TCP listen address")

	flag.StringVar(&c.AgentCommand, "agent-command", "codex", "agent subprocess executable")
	flag.StringVar(&c.AgentArgs, "agent-args", "proto", "space-separated extra arguments to the agent subprocess")
	flag.StringVar(&c.AgentDir, "agent-dir", "", "working directory for the agent subprocess (default: daemon's cwd)")

	flag.StringVar(&c.AuthToken, "auth-token", "", "bearer token required on /rpc (required)")
	flag.BoolVar(&c.AllowQueryToken, "dev-allow-query-token", false, "accept ?token=<tok> as well as the Authorization header (dev only)")

	flag.IntVar(&c.ReplayCapacity, "replay-capacity", 500, "bounded replay log capacity (0 disables replay storage)")

	flag.StringVar(&c.DataDir, "data-dir", defaultDataDir(), "base directory for persisted state")
	flag.StringVar(&c.RolloutRoot, "rollout-root", defaultRolloutRoot(), "root directory the rollout tailer scans (empty disables it)")

	flag.BoolVar(&c.TerminalDisabled, "terminal-disabled", false, "disable bridge/terminal/exec entirely")
	flag.StringVar(&c.TerminalAllowedCommands, "terminal-allowed-commands", "git,ls,cat,pwd", "comma-separated allow-list for bridge/terminal/exec")
	flag.StringVar(&c.TerminalRoot, "terminal-root", "", "cwd confinement root for bridge/terminal/exec (default: data-dir)")

	flag.StringVar(&c.GitRoot, "git-root", "", "working directory for bridge/git/status (empty disables it)")

	return c
}

// Validate checks the configuration, fills in directory-dependent
// defaults, and ensures required directories exist.
func (c *Config) Validate() error {
	if c.AgentCommand == "" {
		return fmt.Errorf("agent command is required")
	}
	if c.AuthToken == "" {
		return fmt.Errorf("auth token is required")
	}
	if c.ReplayCapacity < 0 {
		return fmt.Errorf("replay capacity must be non-negative")
	}

	if err := os.MkdirAll(c.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if c.TerminalRoot == "" {
		c.TerminalRoot = c.DataDir
	}

	return nil
}

// AgentArgList splits AgentArgs into an argv slice using shell-style
// quoting rules, so a flag value containing spaces can be passed quoted.
func (c *Config) AgentArgList() []string {
	fields, err := shlex.Split(c.AgentArgs)
	if err != nil || len(fields) == 0 {
		return nil
	}
	return fields
}

// TerminalAllowedCommandList splits TerminalAllowedCommands on commas,
// trimming whitespace and dropping empty entries.
func (c *Config) TerminalAllowedCommandList() []string {
	var out []string
	for _, part := range strings.Split(c.TerminalAllowedCommands, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "leapmux", "bridged")
	}
	return filepath.Join(home, ".config", "leapmux", "bridged")
}

func defaultRolloutRoot() string {
	if home := os.Getenv("CODEX_HOME"); home != "" {
		return filepath.Join(home, "sessions")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".codex", "sessions")
}
