package model

import (
	"encoding/json"
	"sort"
)

// FleetSnapshot is an immutable view of every collected cluster document,
// keyed by cluster name, in processing order, plus the set of endpoint
// URIs already processed. Use WithDocument to derive a new snapshot.
type FleetSnapshot struct {
	docs  map[string]ClusterDocument
	order []string
	known map[string]struct{}
}

// NewFleetSnapshot builds a snapshot from documents in processing order.
// On a name collision the later document wins but keeps the earlier
// position. Every document URI is marked known, plus any extra URIs.
func NewFleetSnapshot(docs []ClusterDocument, known ...string) *FleetSnapshot {
	s := &FleetSnapshot{
		docs:  make(map[string]ClusterDocument, len(docs)),
		order: make([]string, 0, len(docs)),
		known: make(map[string]struct{}, len(docs)+len(known)),
	}
	for _, d := range docs {
		s.put(d)
	}
	for _, uri := range known {
		s.known[uri] = struct{}{}
	}
	return s
}

// SeedSnapshot builds a snapshot from persisted documents without
// marking any URI known, so fast watch still treats them as new until a
// full cycle has processed them.
func SeedSnapshot(docs []ClusterDocument) *FleetSnapshot {
	s := NewFleetSnapshot(nil)
	for _, d := range docs {
		name := d.Metadata.Name
		if _, ok := s.docs[name]; !ok {
			s.order = append(s.order, name)
		}
		s.docs[name] = d
	}
	return s
}

func (s *FleetSnapshot) put(d ClusterDocument) {
	name := d.Metadata.Name
	if _, ok := s.docs[name]; !ok {
		s.order = append(s.order, name)
	}
	s.docs[name] = d
	if d.Metadata.URI != "" {
		s.known[d.Metadata.URI] = struct{}{}
	}
}

func (s *FleetSnapshot) clone() *FleetSnapshot {
	if s == nil {
		return NewFleetSnapshot(nil)
	}
	c := &FleetSnapshot{
		docs:  make(map[string]ClusterDocument, len(s.docs)+1),
		order: append(make([]string, 0, len(s.order)+1), s.order...),
		known: make(map[string]struct{}, len(s.known)+1),
	}
	for k, v := range s.docs {
		c.docs[k] = v
	}
	for k := range s.known {
		c.known[k] = struct{}{}
	}
	return c
}

// WithDocument returns a copy of s with doc added (or replaced) and its
// URI marked known. A nil receiver behaves as the empty snapshot.
func (s *FleetSnapshot) WithDocument(doc ClusterDocument) *FleetSnapshot {
	c := s.clone()
	c.put(doc)
	return c
}

// WithKnown returns a copy of s with the given URIs marked known.
func (s *FleetSnapshot) WithKnown(uris ...string) *FleetSnapshot {
	c := s.clone()
	for _, u := range uris {
		c.known[u] = struct{}{}
	}
	return c
}

// Len returns the number of cluster documents.
func (s *FleetSnapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Get returns the document for a cluster name.
func (s *FleetSnapshot) Get(name string) (ClusterDocument, bool) {
	if s == nil {
		return ClusterDocument{}, false
	}
	d, ok := s.docs[name]
	return d, ok
}

// Names returns cluster names in processing order.
func (s *FleetSnapshot) Names() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

// Documents returns documents in processing order.
func (s *FleetSnapshot) Documents() []ClusterDocument {
	if s == nil {
		return []ClusterDocument{}
	}
	out := make([]ClusterDocument, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.docs[name])
	}
	return out
}

// IsKnown reports whether uri has been processed.
func (s *FleetSnapshot) IsKnown(uri string) bool {
	if s == nil {
		return false
	}
	_, ok := s.known[uri]
	return ok
}

// KnownURIs returns the known set, sorted.
func (s *FleetSnapshot) KnownURIs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.known))
	for u := range s.known {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON renders the snapshot as the ordered document list, the same
// layout written to disk.
func (s *FleetSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Documents())
}
