package sshutil

import "context"

// Executor runs commands on one remote host. The real Client and test
// fakes both satisfy it.
type Executor interface {
	// Run executes cmd and returns its output. A non-zero exit code with a
	// nil error means the command ran but failed. The session is closed
	// when ctx is done.
	Run(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error)

	// Alive reports whether the connection still answers. It gives up and
	// returns false once ctx is done.
	Alive(ctx context.Context) bool

	// Host returns the host or alias used to connect.
	Host() string

	Close() error
}
