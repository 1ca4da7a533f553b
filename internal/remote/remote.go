// Package remote runs the commands that produce cluster text output,
// either as local CLI processes or over direct SSH connections.
package remote

import (
	"context"

	"github.com/rileyhilliard/fleetwatch/internal/model"
)

// QueryKind selects which report a Runner fetches from a cluster.
type QueryKind string

const (
	QueryUsage QueryKind = "usage"
	QueryQueue QueryKind = "queue"
)

// Enumerator lists the clusters the operator can reach, as the raw
// table printed by the cluster CLI.
type Enumerator interface {
	Enumerate(ctx context.Context) (string, error)
}

// Runner fetches one report from one cluster. The returned text is the
// command's stdout.
type Runner interface {
	Query(ctx context.Context, ep model.ClusterEndpoint, kind QueryKind) (string, error)
}

func placeholders(ep model.ClusterEndpoint) map[string]string {
	return map[string]string{
		"uri":  ep.URI,
		"name": ep.Name(),
	}
}
