// Package builtin ships one working plugin (exec) alongside the
// plugin.Plugin contract itself, playing the role of the original
// implementation's ListPlugin (bin/main.py's query_plugins().append(
// ListPlugin)) -- a plugin that always exists so `orcha serve`/`orcha run`
// have something to exercise even with nothing else installed. It shells
// out to `sh -c <command>`, streaming stdout as chunk frames and
// terminating the child's process group on cancellation via
// petition.SignalingPetition.
package builtin

import (
	"bufio"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/orchaframework/orcha/hook"
	"github.com/orchaframework/orcha/manager"
	"github.com/orchaframework/orcha/orchaerr"
	"github.com/orchaframework/orcha/petition"
	"github.com/orchaframework/orcha/plugin"
	"github.com/orchaframework/orcha/queue"
)

// Exec is the built-in "exec" plugin.
type Exec struct{}

func (Exec) Name() string      { return "exec" }
func (Exec) Aliases() []string { return nil }
func (Exec) Help() string {
	return "runs a shell command as a petition, streaming its stdout"
}

func (Exec) NewManager() manager.Manager {
	return &execManager{Base: manager.NewBase()}
}

// ClientMessage builds a Message from the remaining CLI arguments: the
// first is the petition id, the rest, joined with spaces, is the shell
// command.
func (Exec) ClientMessage(args []string) (petition.Message, error) {
	if len(args) == 0 {
		return petition.Message{}, fmt.Errorf("exec: usage: orcha run exec <id> <command...>")
	}
	id := args[0]
	if len(args) < 2 {
		return petition.Message{}, fmt.Errorf("exec: usage: orcha run exec <id> <command...>")
	}
	return petition.Message{
		ID:     id,
		Extras: map[string]any{"command": strings.Join(args[1:], " ")},
	}, nil
}

// execManager converts a Message into a SignalingPetition that runs the
// command with os/exec and gates every petition on nothing beyond the
// default running-id bookkeeping Base already provides.
type execManager struct {
	*manager.Base
}

func (m *execManager) ConvertToPetition(msg petition.Message) (petition.Petition, error) {
	command, _ := msg.Extras["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("exec: message %q has no command", msg.ID)
	}

	priority := 0.0
	if raw, ok := msg.Extras["priority"]; ok {
		switch v := raw.(type) {
		case float64:
			priority = v
		case string:
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				priority = parsed
			}
		}
	}

	replyQ := queue.New[petition.Frame]()
	act := func(p *petition.SignalingPetition) error {
		return runCommand(p, command)
	}
	p := petition.NewSignalingPetition(msg.ID, priority, replyQ, syscall.SIGTERM, true, act)
	return p, nil
}

func (m *execManager) Condition(petition.Petition) *orchaerr.ConditionFailed {
	return nil
}

func (m *execManager) Hooks() *hook.Chain {
	return hook.NewChain()
}

func runCommand(p *petition.SignalingPetition, command string) error {
	cmd := exec.Command("sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return err
	}
	p.PID = cmd.Process.Pid

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		p.Write(petition.ChunkFrame(scanner.Text()), true)
	}

	return cmd.Wait()
}

func init() {
	plugin.Register(Exec{})
}
