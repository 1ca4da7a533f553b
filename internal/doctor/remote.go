package doctor

import (
	"context"
	"fmt"
	"time"

	"github.com/rileyhilliard/fleetwatch/internal/model"
	"github.com/rileyhilliard/fleetwatch/internal/parsers"
	"github.com/rileyhilliard/fleetwatch/internal/remote"
	"github.com/rileyhilliard/fleetwatch/internal/util"
)

// EndpointLister is satisfied by *directory.Directory.
type EndpointLister interface {
	Enumerate(ctx context.Context) ([]model.ClusterEndpoint, error)
}

// EnumerationCheck runs the enumeration command. The endpoints it finds
// are kept in Found for the per-cluster checks that follow it.
type EnumerationCheck struct {
	Lister EndpointLister
	Found  []model.ClusterEndpoint
}

func (c *EnumerationCheck) Name() string     { return "cluster_enumeration" }
func (c *EnumerationCheck) Category() string { return "CLUSTERS" }

func (c *EnumerationCheck) Run(ctx context.Context) CheckResult {
	endpoints, err := c.Lister.Enumerate(ctx)
	if err != nil {
		return failure(err, "Check remote.enumerate_command and that you are logged in")
	}
	c.Found = endpoints
	if len(endpoints) == 0 {
		return CheckResult{
			Status:     StatusWarn,
			Message:    "No active clusters",
			Suggestion: "Start a cluster, or widen cluster.include",
		}
	}
	return CheckResult{
		Status: StatusPass,
		Message: fmt.Sprintf("%d active %s", len(endpoints),
			util.Pluralize(len(endpoints), "cluster", "clusters")),
	}
}

// QueryCheck runs one report command against one cluster and checks
// that the output contains rows fleetwatch can parse.
type QueryCheck struct {
	Runner   remote.Runner
	Endpoint model.ClusterEndpoint
	Kind     remote.QueryKind
	Timeout  time.Duration
}

func (c *QueryCheck) Name() string {
	return fmt.Sprintf("%s_%s", c.Kind, c.Endpoint.Name())
}
func (c *QueryCheck) Category() string { return "CLUSTERS" }

func (c *QueryCheck) Run(ctx context.Context) CheckResult {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	name := c.Endpoint.Name()
	text, err := c.Runner.Query(ctx, c.Endpoint, c.Kind)
	if err != nil {
		res := failure(err, fmt.Sprintf("Check remote.%s_command", c.Kind))
		res.Message = fmt.Sprintf("%s %s: %s", name, c.Kind, res.Message)
		return res
	}

	var n int
	var what string
	switch c.Kind {
	case remote.QueryUsage:
		n, what = len(parsers.ParseUsage(text).Systems), "usage rows"
	default:
		n, what = len(parsers.ParseQueues(text).Queues), "queues"
	}
	if n == 0 {
		return CheckResult{
			Status:     StatusWarn,
			Message:    fmt.Sprintf("%s %s: command ran but no %s were recognized", name, c.Kind, what),
			Suggestion: "Compare the command's output with the expected table layout",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s %s: %d %s", name, c.Kind, n, what),
	}
}

// SSHCheck dials a cluster's login node and closes the connection.
type SSHCheck struct {
	Host string
	Dial remote.DialFunc
}

func (c *SSHCheck) Name() string     { return "ssh_" + c.Host }
func (c *SSHCheck) Category() string { return "SSH" }

func (c *SSHCheck) Run(ctx context.Context) CheckResult {
	start := time.Now()
	client, err := c.Dial(ctx, c.Host)
	if err != nil {
		res := failure(err, "Check remote.ssh.host_template and your SSH keys")
		res.Message = fmt.Sprintf("%s: %s", c.Host, res.Message)
		return res
	}
	defer client.Close()
	latency := time.Since(start)

	if !client.Alive(ctx) {
		return CheckResult{
			Status:     StatusFail,
			Message:    fmt.Sprintf("%s: connected but not responding", c.Host),
			Suggestion: "Check the login node's sshd",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s: connected in %s", c.Host, latency.Round(time.Millisecond)),
	}
}
