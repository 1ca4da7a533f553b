package views

import (
	"sort"
	"strings"
	"time"

	"github.com/rileyhilliard/fleetwatch/internal/model"
)

// CapacityThreshold is the percent of allocation remaining above which a
// cluster is considered to have capacity.
const CapacityThreshold = 5.0

// UsageProfile totals a cluster's allocation usage.
type UsageProfile struct {
	TotalAllocatedHours int64 `json:"total_allocated_hours"`
	TotalUsedHours      int64 `json:"total_used_hours"`
	TotalRemainingHours int64 `json:"total_remaining_hours"`
	// PercentRemaining is nil when nothing is allocated.
	PercentRemaining *float64 `json:"percent_remaining"`
}

// NewUsageProfile sums the usage records of doc.
func NewUsageProfile(doc model.ClusterDocument) UsageProfile {
	var p UsageProfile
	for _, u := range doc.Usage.Systems {
		p.TotalAllocatedHours += u.HoursAllocated
		p.TotalUsedHours += u.HoursUsed
		p.TotalRemainingHours += u.HoursRemaining
	}
	if p.TotalAllocatedHours > 0 {
		pct := float64(p.TotalRemainingHours) / float64(p.TotalAllocatedHours) * 100
		p.PercentRemaining = &pct
	}
	return p
}

// Counts pairs running and pending amounts with their total.
type Counts struct {
	Running int64 `json:"running"`
	Pending int64 `json:"pending"`
	Total   int64 `json:"total"`
}

// QueueProfile is a queue with its load derived.
type QueueProfile struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Enabled     bool   `json:"enabled"`
	Reserved    bool   `json:"reserved"`
	MaxWalltime string `json:"max_walltime"`
	Jobs        Counts `json:"jobs"`
	Cores       Counts `json:"cores"`
	// UtilizationPercent is the running share of cores, nil when the
	// queue has no cores running or pending.
	UtilizationPercent *float64 `json:"utilization_percent"`
}

// NewQueueProfile derives totals and utilization for q.
func NewQueueProfile(q model.QueueRecord) QueueProfile {
	p := QueueProfile{
		Name:        q.QueueName,
		Type:        q.QueueType,
		Enabled:     q.Enabled,
		Reserved:    q.Reserved,
		MaxWalltime: q.MaxWalltime,
		Jobs: Counts{
			Running: q.JobsRunning,
			Pending: q.JobsPending,
			Total:   q.JobsRunning + q.JobsPending,
		},
		Cores: Counts{
			Running: q.CoresRunning,
			Pending: q.CoresPending,
			Total:   q.CoresRunning + q.CoresPending,
		},
	}
	if p.Cores.Total > 0 {
		pct := float64(p.Cores.Running) / float64(p.Cores.Total) * 100
		p.UtilizationPercent = &pct
	}
	return p
}

// LeastBackloggedQueue returns the queue with the fewest pending jobs,
// then fewest pending cores. Ties keep input order. Nil for no queues.
func LeastBackloggedQueue(queues []QueueProfile) *QueueProfile {
	if len(queues) == 0 {
		return nil
	}
	sorted := make([]QueueProfile, len(queues))
	copy(sorted, queues)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Jobs.Pending != sorted[j].Jobs.Pending {
			return sorted[i].Jobs.Pending < sorted[j].Jobs.Pending
		}
		return sorted[i].Cores.Pending < sorted[j].Cores.Pending
	})
	best := sorted[0]
	return &best
}

// HasCapacity is true when usage is unknown or above CapacityThreshold.
func HasCapacity(u UsageProfile) bool {
	return u.PercentRemaining == nil || *u.PercentRemaining > CapacityThreshold
}

// PlacementHint suggests where to submit work on a cluster.
type PlacementHint struct {
	LeastBackloggedQueue *QueueProfile `json:"least_backlogged_queue"`
	HasCapacity          bool          `json:"has_capacity"`
}

// ClusterProfile is the per-cluster view served to the dashboard.
type ClusterProfile struct {
	Cluster       string                  `json:"cluster"`
	Slug          string                  `json:"slug"`
	URI           string                  `json:"uri"`
	Status        string                  `json:"status"`
	Timestamp     time.Time               `json:"timestamp"`
	Header        string                  `json:"header,omitempty"`
	FiscalYear    string                  `json:"fiscal_year_info,omitempty"`
	Usage         UsageProfile            `json:"usage"`
	Systems       []model.UsageRecord     `json:"systems"`
	Queues        []QueueProfile          `json:"queues"`
	Nodes         []model.NodeClassRecord `json:"nodes"`
	PlacementHint PlacementHint           `json:"placement_hint"`
}

// NewClusterProfile builds the profile for one document.
func NewClusterProfile(doc model.ClusterDocument) ClusterProfile {
	usage := NewUsageProfile(doc)
	queues := make([]QueueProfile, 0, len(doc.Queue.Queues))
	for _, q := range doc.Queue.Queues {
		queues = append(queues, NewQueueProfile(q))
	}
	systems := doc.Usage.Systems
	if systems == nil {
		systems = []model.UsageRecord{}
	}
	nodes := doc.Queue.Nodes
	if nodes == nil {
		nodes = []model.NodeClassRecord{}
	}

	return ClusterProfile{
		Cluster:    doc.Metadata.Name,
		Slug:       Slug(doc.Metadata.Name),
		URI:        doc.Metadata.URI,
		Status:     doc.Metadata.Status,
		Timestamp:  doc.Metadata.Timestamp,
		Header:     doc.Usage.Header,
		FiscalYear: doc.Usage.FiscalYearInfo,
		Usage:      usage,
		Systems:    systems,
		Queues:     queues,
		Nodes:      nodes,
		PlacementHint: PlacementHint{
			LeastBackloggedQueue: LeastBackloggedQueue(queues),
			HasCapacity:          HasCapacity(usage),
		},
	}
}

// ClusterProfiles returns a profile per document in processing order.
func ClusterProfiles(snap *model.FleetSnapshot) []ClusterProfile {
	docs := snap.Documents()
	out := make([]ClusterProfile, 0, len(docs))
	for _, d := range docs {
		out = append(out, NewClusterProfile(d))
	}
	return out
}

// FindProfile returns the profile whose slug matches, comparing slugs
// so "Jean", "jean" and "JEAN" all resolve.
func FindProfile(snap *model.FleetSnapshot, slug string) (ClusterProfile, bool) {
	want := Slug(slug)
	if want == "" {
		return ClusterProfile{}, false
	}
	for _, d := range snap.Documents() {
		if Slug(d.Metadata.Name) == want {
			return NewClusterProfile(d), true
		}
	}
	return ClusterProfile{}, false
}

// Slugs returns the slugs of every cluster in processing order.
func Slugs(snap *model.FleetSnapshot) []string {
	names := snap.Names()
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, Slug(n))
	}
	return out
}

// Slug lower-cases name and keeps only [a-z0-9].
func Slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
