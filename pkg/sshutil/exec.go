package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
)

// Run executes cmd in a new session and captures its output.
// Exit code is -1 if the command couldn't be executed at all.
func (c *Client) Run(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error) {
	session, err := c.Client.NewSession()
	if err != nil {
		return nil, nil, -1, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Failed to open an SSH session on '%s'", c.host),
			"Connection may have been closed. It will be re-established on the next poll.")
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		// Closing the session unblocks Run.
		_ = session.Close()
		<-done
		return stdoutBuf.Bytes(), stderrBuf.Bytes(), -1, errors.WrapWithCode(ctx.Err(), errors.ErrSSH,
			fmt.Sprintf("'%s' on %s didn't finish in time", cmd, c.host),
			"Raise remote.timeout if the cluster is just slow")
	case runErr := <-done:
		if runErr != nil {
			var exitErr *ssh.ExitError
			if stderrors.As(runErr, &exitErr) {
				return stdoutBuf.Bytes(), stderrBuf.Bytes(), exitErr.ExitStatus(), nil
			}
			return nil, nil, -1, errors.WrapWithCode(runErr, errors.ErrExec,
				fmt.Sprintf("Failed to execute command: %s", cmd),
				"Check if the command exists on the remote host.")
		}
	}

	return stdoutBuf.Bytes(), stderrBuf.Bytes(), 0, nil
}

// Alive sends an OpenSSH keepalive request, which is cheaper than
// opening a session. A connection that has not answered by the time ctx
// is done is closed, which also unblocks the pending request.
func (c *Client) Alive(ctx context.Context) bool {
	if c == nil || c.Client == nil {
		return false
	}
	done := make(chan error, 1)
	go func() {
		_, _, err := c.Client.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()

	select {
	case err := <-done:
		return err == nil
	case <-ctx.Done():
		_ = c.Client.Close()
		return false
	}
}
