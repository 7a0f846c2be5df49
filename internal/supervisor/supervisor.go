// Package supervisor implements the Process Supervisor (spec.md §4.6): a
// pure adapter over a terminal-multiplexer CLI (tmux) that materializes
// each service as a named window inside one shared session. It carries no
// in-memory state about services — the multiplexer session is the state.
//
// All subprocess invocation is isolated behind the Runner interface, the
// same seam dockform's internal/dockercli.Client uses for the docker CLI
// (grounded in other_examples, 70323aa0_gcstr-dockform__internal-dockercli-
// dockercli.go.go): a SystemRunner shells out for real, tests substitute a
// fake. This keeps the rest of the codebase free of exec concerns (Design
// Notes, "Dependency on an external CLI").
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/atimmer/devservers/internal/catalog"
	"github.com/atimmer/devservers/pkg/logging"
)

// SessionName is the fixed tmux session every service window lives in
// (spec.md §4.6).
const SessionName = "devservers"

var shellCommands = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "fish": true,
}

// Runner abstracts tmux subprocess execution for testability (Design
// Notes: "the adapter should be the only seam that talks to subprocesses").
type Runner interface {
	Run(ctx context.Context, args ...string) (stdout string, err error)
}

// SystemRunner shells out to the real tmux binary.
type SystemRunner struct{}

// Run executes `tmux <args...>` and returns its trimmed stdout.
func (SystemRunner) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Supervisor drives a shared tmux session on behalf of the Orchestrator.
type Supervisor struct {
	runner Runner
}

// New returns a Supervisor backed by the real tmux binary.
func New() *Supervisor {
	return &Supervisor{runner: SystemRunner{}}
}

// NewWithRunner returns a Supervisor backed by an arbitrary Runner, for
// tests.
func NewWithRunner(r Runner) *Supervisor {
	return &Supervisor{runner: r}
}

// EnsureSession creates the devservers session, detached, if it does not
// already exist.
func (s *Supervisor) EnsureSession(ctx context.Context) error {
	if _, err := s.runner.Run(ctx, "has-session", "-t", SessionName); err == nil {
		return nil
	}
	if _, err := s.runner.Run(ctx, "new-session", "-d", "-s", SessionName); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// ListWindows returns the set of window names in the session, empty on any
// error (spec.md §4.6).
func (s *Supervisor) ListWindows(ctx context.Context) map[string]bool {
	out, err := s.runner.Run(ctx, "list-windows", "-t", SessionName, "-F", "#{window_name}")
	if err != nil {
		return map[string]bool{}
	}
	windows := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			windows[line] = true
		}
	}
	return windows
}

func (s *Supervisor) windowTarget(name string) string {
	return fmt.Sprintf("%s:%s", SessionName, name)
}

func (s *Supervisor) windowExists(ctx context.Context, name string) bool {
	return s.ListWindows(ctx)[name]
}

// paneDead reports whether the window's pane has exited.
func (s *Supervisor) paneDead(ctx context.Context, name string) bool {
	out, err := s.runner.Run(ctx, "list-panes", "-t", s.windowTarget(name), "-F", "#{pane_dead}")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "1"
}

// paneCurrentCommand returns the pane's current foreground command.
func (s *Supervisor) paneCurrentCommand(ctx context.Context, name string) string {
	out, err := s.runner.Run(ctx, "list-panes", "-t", s.windowTarget(name), "-F", "#{pane_current_command}")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// Start materializes a service as a window and types its resolved command.
// If the window exists with a live, non-shell pane it is left untouched and
// Start returns false (spec.md §4.6).
func (s *Supervisor) Start(ctx context.Context, svc catalog.Service, resolvedCommand string) (bool, error) {
	if err := s.EnsureSession(ctx); err != nil {
		return false, err
	}

	if s.windowExists(ctx, svc.Name) && !s.paneDead(ctx, svc.Name) && !shellCommands[s.paneCurrentCommand(ctx, svc.Name)] {
		return false, nil
	}

	if s.windowExists(ctx, svc.Name) {
		if _, err := s.runner.Run(ctx, "kill-window", "-t", s.windowTarget(svc.Name)); err != nil {
			logging.Warn("Supervisor", "failed to kill stale window %s: %v", svc.Name, err)
		}
	}

	if _, err := s.runner.Run(ctx, "new-window", "-d", "-t", SessionName, "-n", svc.Name, "-c", svc.Cwd); err != nil {
		return false, fmt.Errorf("create window %s: %w", svc.Name, err)
	}

	if _, err := s.runner.Run(ctx, "send-keys", "-t", s.windowTarget(svc.Name), resolvedCommand, "Enter"); err != nil {
		return false, fmt.Errorf("send start command to %s: %w", svc.Name, err)
	}

	return true, nil
}

// Stop sends an interrupt to the window's pane, waits briefly, then kills
// the window. A missing window is a silent no-op (spec.md §4.6, §7).
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	if !s.windowExists(ctx, name) {
		return nil
	}

	if _, err := s.runner.Run(ctx, "send-keys", "-t", s.windowTarget(name), "C-c"); err != nil {
		logging.Warn("Supervisor", "failed to send interrupt to %s: %v", name, err)
	}

	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
	}

	if _, err := s.runner.Run(ctx, "kill-window", "-t", s.windowTarget(name)); err != nil {
		logging.Warn("Supervisor", "failed to kill window %s (tolerated): %v", name, err)
	}
	return nil
}

// Restart stops then, after a short pause, starts the service again.
func (s *Supervisor) Restart(ctx context.Context, svc catalog.Service, resolvedCommand string) (bool, error) {
	if err := s.Stop(ctx, svc.Name); err != nil {
		return false, err
	}
	select {
	case <-time.After(300 * time.Millisecond):
	case <-ctx.Done():
	}
	return s.Start(ctx, svc, resolvedCommand)
}

// CapturePane returns the last `lines` rows of the window's pane scrollback.
// Returns empty string if the window does not exist (spec.md §4.6).
func (s *Supervisor) CapturePane(ctx context.Context, name string, lines int, ansi bool) string {
	if !s.windowExists(ctx, name) {
		return ""
	}
	args := []string{"capture-pane", "-p", "-t", s.windowTarget(name), "-S", fmt.Sprintf("-%d", lines)}
	if ansi {
		args = append(args, "-e")
	}
	out, err := s.runner.Run(ctx, args...)
	if err != nil {
		return ""
	}
	return out
}

// GetStatus derives a service's observed status from the supervisor
// (spec.md §4.6, §8).
func (s *Supervisor) GetStatus(ctx context.Context, name string) catalog.Status {
	if !s.windowExists(ctx, name) {
		return catalog.StatusStopped
	}
	if s.paneDead(ctx, name) {
		return catalog.StatusError
	}
	if shellCommands[s.paneCurrentCommand(ctx, name)] {
		return catalog.StatusStopped
	}
	return catalog.StatusRunning
}

// BuildCommand materializes the resolved command: the service's command
// string prefixed by KEY='VALUE' environment assignments, derived from the
// already-template-expanded env (spec.md §4.6).
func BuildCommand(svc catalog.Service, expandedEnv map[string]string) string {
	if len(expandedEnv) == 0 {
		return svc.Command
	}

	keys := make([]string, 0, len(expandedEnv))
	for k := range expandedEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	assignments := make([]string, 0, len(keys))
	for _, k := range keys {
		assignments = append(assignments, fmt.Sprintf("%s=%s", k, shellQuote(expandedEnv[k])))
	}
	return strings.Join(assignments, " ") + " " + svc.Command
}

// shellQuote wraps v in single quotes, escaping embedded single quotes.
func shellQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}
