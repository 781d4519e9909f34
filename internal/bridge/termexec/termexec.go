// Package termexec runs one-shot shell commands on behalf of a connected
// client, within a fixed working-directory root.
//
// It is an external collaborator in the sense used elsewhere in this
// module: it has no notion of threads, turns, or the agent subprocess. It
// only knows how to validate a command line, clamp a timeout, run the
// command, and report back what happened.
package termexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/shlex"

	"github.com/leapmux/bridged/internal/bridge/agentbridge"
)

const (
	defaultTimeout = 30 * time.Second
	minTimeout     = 100 * time.Millisecond
	maxTimeout     = 120 * time.Second

	// waitDelay bounds how long Run waits for stdout/stderr pipes to drain
	// once the context deadline fires and the child has been killed.
	waitDelay = 2 * time.Second
)

var disallowedControlChars = []rune{';', '|', '&', '<', '>', '`'}

// Result is what a terminal exec call reports back to the client.
type Result struct {
	Command    string `json:"command"`
	Cwd        string `json:"cwd"`
	Code       *int   `json:"code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	TimedOut   bool   `json:"timedOut"`
	DurationMs int64  `json:"durationMs"`
}

// Request is the inbound shape of a bridge/terminal/exec call.
type Request struct {
	Command   string `json:"command"`
	Cwd       string `json:"cwd"`
	TimeoutMs int64  `json:"timeoutMs"`
}

// Executor runs commands rooted at a fixed working directory, optionally
// restricted to an allow-list of binaries.
type Executor struct {
	root     string
	allowed  map[string]struct{}
	disabled bool
}

// New builds an Executor. allowedCommands may be empty, meaning any binary
// is permitted. root is the directory commands are confined to; a relative
// or absolute cwd in a request is rejected unless it normalizes to root or
// a descendant of root.
func New(root string, allowedCommands []string, disabled bool) *Executor {
	allowed := make(map[string]struct{}, len(allowedCommands))
	for _, c := range allowedCommands {
		allowed[c] = struct{}{}
	}
	return &Executor{root: filepath.Clean(root), allowed: allowed, disabled: disabled}
}

// ExecuteShell parses req.Command with shell-style quoting, validates it
// against the allow-list and control-character policy, and runs it.
func (e *Executor) ExecuteShell(ctx context.Context, req Request) (*Result, *agentbridge.RPCError) {
	if e.disabled {
		return nil, &agentbridge.RPCError{
			Code:    -32003,
			Message: "Terminal execution is disabled on this bridge.",
			Data:    map[string]string{"error": "terminal_exec_disabled"},
		}
	}

	command := strings.TrimSpace(req.Command)
	if command == "" {
		return nil, invalidParams("command must not be empty")
	}
	if containsDisallowedControlChars(command) {
		return nil, invalidParams("command contains disallowed control characters")
	}

	tokens, err := shlex.Split(command)
	if err != nil || len(tokens) == 0 {
		return nil, invalidParams("invalid command quoting")
	}

	binary := tokens[0]
	if len(e.allowed) > 0 {
		if _, ok := e.allowed[binary]; !ok {
			names := make([]string, 0, len(e.allowed))
			for name := range e.allowed {
				names = append(names, name)
			}
			sort.Strings(names)
			return nil, invalidParams(fmt.Sprintf(
				"Command %q is not allowed. Allowed commands: %s", binary, strings.Join(names, ", ")))
		}
	}
	args := tokens[1:]

	cwd, ok := resolveCwdWithinRoot(req.Cwd, e.root)
	if !ok {
		return nil, invalidParams("cwd must stay within the bridge working directory")
	}

	return e.run(ctx, binary, args, command, cwd, req.TimeoutMs)
}

// ExecuteBinary runs binary directly, bypassing the allow-list and control
// character checks. It is used by in-process helpers (e.g. the git
// passthrough) that already know exactly what they want to run.
func (e *Executor) ExecuteBinary(ctx context.Context, binary string, args []string, cwd string, timeoutMs int64) (*Result, *agentbridge.RPCError) {
	resolved, ok := resolveCwdWithinRoot(cwd, e.root)
	if !ok {
		return nil, invalidParams("cwd must stay within the bridge working directory")
	}
	display := strings.Join(append([]string{binary}, args...), " ")
	return e.run(ctx, binary, args, display, resolved, timeoutMs)
}

func (e *Executor) run(ctx context.Context, binary string, args []string, displayCommand, cwd string, timeoutMs int64) (*Result, *agentbridge.RPCError) {
	timeout := clampTimeout(timeoutMs)
	started := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.Dir = cwd
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	elapsed := time.Since(started)

	result := &Result{
		Command:    displayCommand,
		Cwd:        cwd,
		DurationMs: elapsed.Milliseconds(),
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.TimedOut = true
	case runErr == nil:
		code := cmd.ProcessState.ExitCode()
		result.Code = &code
	default:
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			result.Code = &code
		} else {
			code := -1
			result.Code = &code
			appendWaitError(&stderr, runErr)
		}
	}

	result.Stdout = trimTrailingSpace(stdout.String())
	result.Stderr = trimTrailingSpace(stderr.String())
	return result, nil
}

func appendWaitError(stderr *bytes.Buffer, err error) {
	if stderr.Len() > 0 {
		stderr.WriteByte('\n')
	}
	stderr.WriteString(err.Error())
}

func clampTimeout(requestedMs int64) time.Duration {
	if requestedMs <= 0 {
		return defaultTimeout
	}
	d := time.Duration(requestedMs) * time.Millisecond
	if d < minTimeout {
		return minTimeout
	}
	if d > maxTimeout {
		return maxTimeout
	}
	return d
}

func containsDisallowedControlChars(s string) bool {
	for _, r := range s {
		for _, bad := range disallowedControlChars {
			if r == bad {
				return true
			}
		}
	}
	return false
}

// resolveCwdWithinRoot normalizes raw (which may be empty, relative, or
// absolute) against root and reports whether the result stays within root.
func resolveCwdWithinRoot(raw, root string) (string, bool) {
	var requested string
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		if filepath.IsAbs(trimmed) {
			requested = trimmed
		} else {
			requested = filepath.Join(root, trimmed)
		}
	} else {
		requested = root
	}

	normalizedRoot := filepath.Clean(root)
	normalizedRequested := filepath.Clean(requested)

	if normalizedRequested == normalizedRoot {
		return normalizedRequested, true
	}
	if strings.HasPrefix(normalizedRequested, normalizedRoot+string(filepath.Separator)) {
		return normalizedRequested, true
	}
	return "", false
}

func trimTrailingSpace(s string) string {
	return strings.TrimRightFunc(s, unicode.IsSpace)
}

func invalidParams(message string) *agentbridge.RPCError {
	return &agentbridge.RPCError{Code: -32602, Message: message}
}
