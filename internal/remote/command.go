package remote

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/model"
	"github.com/rileyhilliard/fleetwatch/internal/util"
)

// waitDelay bounds how long Wait blocks on pipes after the shell is
// killed, in case a grandchild still holds them open.
const waitDelay = 2 * time.Second

// CommandEnumerator runs a local command that prints the cluster table.
type CommandEnumerator struct {
	Command string
	Shell   string
}

// Enumerate runs the enumeration command and returns its stdout.
func (e *CommandEnumerator) Enumerate(ctx context.Context) (string, error) {
	stdout, err := runChecked(ctx, e.Shell, e.Command)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrEnumerate,
			"Couldn't list clusters",
			"Check that the cluster CLI is installed and logged in: "+e.Command)
	}
	return stdout, nil
}

// CommandRunner runs local command templates such as
// "pw ssh {uri} show_usage". {uri} and {name} are substituted shell-quoted.
type CommandRunner struct {
	UsageCommand string
	QueueCommand string
	Shell        string
}

// Query runs the template for kind against ep.
func (r *CommandRunner) Query(ctx context.Context, ep model.ClusterEndpoint, kind QueryKind) (string, error) {
	template, err := templateFor(kind, r.UsageCommand, r.QueueCommand)
	if err != nil {
		return "", err
	}
	cmd := util.ExpandCommand(template, placeholders(ep))
	stdout, err := runChecked(ctx, r.Shell, cmd)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrRemote,
			fmt.Sprintf("%s query failed on %s", kind, ep.Name()),
			"Check the cluster is connected: "+cmd)
	}
	return stdout, nil
}

func templateFor(kind QueryKind, usage, queue string) (string, error) {
	switch kind {
	case QueryUsage:
		return usage, nil
	case QueryQueue:
		return queue, nil
	}
	return "", errors.New(errors.ErrRemote, fmt.Sprintf("Unknown query kind %q", kind), "")
}

// runChecked runs cmd and treats a non-zero exit as an error carrying
// the first line of stderr.
func runChecked(ctx context.Context, shell, cmd string) (string, error) {
	stdout, stderr, code, err := RunLocal(ctx, shell, cmd)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", exitError(code, stderr)
	}
	return string(stdout), nil
}

func exitError(code int, stderr []byte) error {
	msg := strings.TrimSpace(string(stderr))
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if msg == "" {
		return fmt.Errorf("exit status %d", code)
	}
	return fmt.Errorf("exit status %d: %s", code, msg)
}

// RunLocal runs cmd through shell -c and captures its output. The
// process is killed when ctx is done. Exit code is -1 if the command
// couldn't be run at all.
func RunLocal(ctx context.Context, shell, cmd string) (stdout, stderr []byte, exitCode int, err error) {
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	command := exec.CommandContext(ctx, shell, "-c", cmd)
	command.WaitDelay = waitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	command.Stdout = &stdoutBuf
	command.Stderr = &stderrBuf

	runErr := command.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdoutBuf.Bytes(), stderrBuf.Bytes(), -1, errors.WrapWithCode(ctxErr, errors.ErrExec,
			fmt.Sprintf("'%s' didn't finish in time", cmd),
			"Raise remote.timeout if the cluster is just slow")
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if stderrors.As(runErr, &exitErr) {
			return stdoutBuf.Bytes(), stderrBuf.Bytes(), exitErr.ExitCode(), nil
		}
		return nil, nil, -1, errors.WrapWithCode(runErr, errors.ErrExec,
			"Couldn't run the command locally",
			"Make sure the command exists and is executable.")
	}

	return stdoutBuf.Bytes(), stderrBuf.Bytes(), 0, nil
}
