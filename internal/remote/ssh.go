package remote

import (
	"context"
	"fmt"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/model"
	"github.com/rileyhilliard/fleetwatch/internal/util"
)

// SSHRunner runs the report commands directly on each cluster's login
// node over pooled SSH connections.
type SSHRunner struct {
	Pool *Pool

	// HostTemplate maps a cluster to an SSH host or config alias.
	// {name} and {uri} are substituted verbatim.
	HostTemplate string
	UsageCommand string
	QueueCommand string
}

// Host returns the SSH host used for ep.
func (r *SSHRunner) Host(ep model.ClusterEndpoint) string {
	return util.ExpandPlain(r.HostTemplate, placeholders(ep))
}

// Query runs the command for kind on ep's login node. A connection that
// fails mid-command is dropped from the pool so the next call redials.
func (r *SSHRunner) Query(ctx context.Context, ep model.ClusterEndpoint, kind QueryKind) (string, error) {
	template, err := templateFor(kind, r.UsageCommand, r.QueueCommand)
	if err != nil {
		return "", err
	}
	host := r.Host(ep)
	cmd := util.ExpandCommand(template, placeholders(ep))

	client, err := r.Pool.Get(ctx, host)
	if err != nil {
		return "", err
	}

	stdout, stderr, code, err := client.Run(ctx, cmd)
	if err != nil {
		r.Pool.Discard(host, client)
		return "", err
	}
	if code != 0 {
		return "", errors.WrapWithCode(exitError(code, stderr), errors.ErrRemote,
			fmt.Sprintf("%s query failed on %s", kind, ep.Name()),
			fmt.Sprintf("Try it by hand: ssh %s %s", host, cmd))
	}
	return string(stdout), nil
}
