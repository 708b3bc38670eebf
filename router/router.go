// Package router maps an outgoing call's target authority and metadata
// to a cluster name against an ordered route table.
//
// The table is replaced atomically on every accepted discovery
// snapshot; resolution reads one consistent snapshot and never observes
// a partial update.
package router

import (
	"sync/atomic"

	"meshrpc/discovery"
	"meshrpc/metadata"
	"meshrpc/status"
)

// Table is the single-writer, multi-reader route table.
type Table struct {
	routes atomic.Pointer[[]discovery.RouteResource]
}

// New returns an empty table; every resolution fails until the first
// Swap.
func New() *Table {
	t := &Table{}
	t.routes.Store(&[]discovery.RouteResource{})
	return t
}

// Swap atomically replaces the whole table.
func (t *Table) Swap(routes []discovery.RouteResource) {
	copied := append([]discovery.RouteResource(nil), routes...)
	t.routes.Store(&copied)
}

// Routes returns the current snapshot. The returned slice must not be
// mutated.
func (t *Table) Routes() []discovery.RouteResource {
	return *t.routes.Load()
}

// Resolve returns the target cluster for a call: the first route whose
// criteria match wins. It fails with Unavailable when nothing matches.
func (t *Table) Resolve(authority string, md metadata.MD) (string, error) {
	for _, route := range t.Routes() {
		if matches(route, authority, md) {
			return route.Cluster, nil
		}
	}
	return "", status.Newf(status.Unavailable, "no route for authority %q", authority).Err()
}

func matches(route discovery.RouteResource, authority string, md metadata.MD) bool {
	if route.Authority != "" && route.Authority != authority {
		return false
	}
	for _, hm := range route.Headers {
		values := md.Values(hm.Name)
		switch {
		case hm.Exact != "":
			if len(values) == 0 || values[0] != hm.Exact {
				return false
			}
		case hm.Present:
			if len(values) == 0 {
				return false
			}
		}
	}
	return true
}

// Validate checks a route snapshot against a known cluster set. Any
// route referencing an unknown cluster makes the whole snapshot
// invalid, so the caller can reject it and keep the previous table.
func Validate(routes []discovery.RouteResource, clusters map[string]bool) error {
	for _, route := range routes {
		if route.Cluster == "" {
			return status.Newf(status.InvalidArgument, "route %q has no target cluster", route.Name).Err()
		}
		if !clusters[route.Cluster] {
			return status.Newf(status.InvalidArgument, "route %q references unknown cluster %q", route.Name, route.Cluster).Err()
		}
	}
	return nil
}
