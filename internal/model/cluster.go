// Package model holds the typed records fleetwatch builds from cluster
// text output, and the immutable FleetSnapshot that ties them together.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// ClusterEndpoint identifies one remote cluster. Identity is the URI.
type ClusterEndpoint struct {
	URI    string `json:"uri"`
	Status string `json:"status"`
	Type   string `json:"type"`
}

// Name returns the last non-empty path segment of the URI,
// e.g. "jean" for "pw://mshaxted/jean/".
func (e ClusterEndpoint) Name() string {
	return ClusterName(e.URI)
}

// ClusterName extracts the cluster name from a URI.
func ClusterName(uri string) string {
	parts := strings.Split(uri, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if p := strings.TrimSpace(parts[i]); p != "" {
			return p
		}
	}
	return strings.TrimSpace(uri)
}

// UsageRecord is one row of the allocation usage table.
type UsageRecord struct {
	System              string  `json:"system"`
	Subproject          string  `json:"subproject"`
	HoursAllocated      int64   `json:"hours_allocated"`
	HoursUsed           int64   `json:"hours_used"`
	HoursRemaining      int64   `json:"hours_remaining"`
	PercentRemaining    float64 `json:"percent_remaining"`
	BackgroundHoursUsed int64   `json:"background_hours_used"`
}

// QueueRecord is one row of the queue information table. The limit
// columns stay textual because "-" means unlimited.
type QueueRecord struct {
	QueueName    string `json:"queue_name"`
	MaxWalltime  string `json:"max_walltime"`
	MaxJobs      string `json:"max_jobs"`
	MinCores     string `json:"min_cores"`
	MaxCores     string `json:"max_cores"`
	JobsRunning  int64  `json:"jobs_running"`
	JobsPending  int64  `json:"jobs_pending"`
	CoresRunning int64  `json:"cores_running"`
	CoresPending int64  `json:"cores_pending"`
	QueueType    string `json:"queue_type"`
	Enabled      bool   `json:"enabled"`
	Reserved     bool   `json:"reserved"`
}

// NodeClassRecord is one row of the node information table.
type NodeClassRecord struct {
	NodeType       string `json:"node_type"`
	NodesAvailable int64  `json:"nodes_available"`
	CoresPerNode   int64  `json:"cores_per_node"`
	CoresAvailable int64  `json:"cores_available"`
	CoresRunning   int64  `json:"cores_running"`
	CoresFree      int64  `json:"cores_free"`
}

// ClusterMetadata describes where and when a document was collected.
type ClusterMetadata struct {
	Name      string    `json:"name"`
	URI       string    `json:"uri"`
	Status    string    `json:"status"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// UsageSection is the parsed output of the usage query.
type UsageSection struct {
	Header         string        `json:"header"`
	FiscalYearInfo string        `json:"fiscal_year_info"`
	Systems        []UsageRecord `json:"systems"`
}

// QueueSection is the parsed output of the queue query.
type QueueSection struct {
	Queues []QueueRecord     `json:"queues"`
	Nodes  []NodeClassRecord `json:"nodes"`
}

// ClusterDocument is everything collected from one cluster in one poll.
// Treat it as immutable once built.
type ClusterDocument struct {
	Metadata ClusterMetadata `json:"cluster_metadata"`
	Usage    UsageSection    `json:"usage_data"`
	Queue    QueueSection    `json:"queue_data"`
}

// NewClusterDocument assembles a document, normalizing nil sections so
// they serialize as empty arrays.
func NewClusterDocument(ep ClusterEndpoint, usage UsageSection, queue QueueSection, at time.Time) ClusterDocument {
	doc := ClusterDocument{
		Metadata: ClusterMetadata{
			Name:      ep.Name(),
			URI:       ep.URI,
			Status:    ep.Status,
			Type:      ep.Type,
			Timestamp: at.UTC(),
		},
		Usage: usage,
		Queue: queue,
	}
	doc.normalize()
	return doc
}

func (d *ClusterDocument) normalize() {
	if d.Usage.Systems == nil {
		d.Usage.Systems = []UsageRecord{}
	}
	if d.Queue.Queues == nil {
		d.Queue.Queues = []QueueRecord{}
	}
	if d.Queue.Nodes == nil {
		d.Queue.Nodes = []NodeClassRecord{}
	}
}

// UnmarshalJSON tolerates documents persisted with missing or null
// sections.
func (d *ClusterDocument) UnmarshalJSON(data []byte) error {
	type plain ClusterDocument
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*d = ClusterDocument(p)
	d.normalize()
	return nil
}

// Endpoint reconstructs the endpoint a document was collected from.
func (d ClusterDocument) Endpoint() ClusterEndpoint {
	return ClusterEndpoint{URI: d.Metadata.URI, Status: d.Metadata.Status, Type: d.Metadata.Type}
}
