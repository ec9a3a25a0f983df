// Package resource models the plant hierarchy (areas, lines, devices) as an
// explicit parent-id graph.
package resource

import (
	"sort"
	"sync"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
)

// Kind distinguishes devices, which produce counter data, from grouping
// nodes such as lines and areas.
type Kind string

const (
	KindDevice Kind = "device"
	KindLine   Kind = "line"
)

// Node is one resource and the id of its parent. Parent is empty for roots.
type Node struct {
	ID     string `json:"id"`
	Parent string `json:"parent,omitempty"`
	Kind   Kind   `json:"kind"`
}

// Graph is a forest of resources. Parents may be declared after their
// children; unknown parents are created as lines on first reference.
type Graph struct {
	mu       sync.RWMutex
	nodes    map[string]Node
	children map[string][]string
}

func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]Node),
		children: make(map[string][]string),
	}
}

// Add inserts or re-parents a node. It fails when the new parent link would
// close a cycle.
func (g *Graph) Add(n Node) error {
	errFactory := errors.New()

	if n.ID == "" {
		return errFactory.WithMessage(errors.ErrMissingField, "resource id is required")
	}
	if n.ID == n.Parent {
		return errFactory.WithData(errors.ErrResourceHierarchyCycle, n.ID)
	}
	if n.Kind == "" {
		n.Kind = KindDevice
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if n.Parent != "" && g.reachesLocked(n.Parent, n.ID) {
		return errFactory.WithData(errors.ErrResourceHierarchyCycle, struct {
			ID     string
			Parent string
		}{
			ID:     n.ID,
			Parent: n.Parent,
		})
	}

	if old, ok := g.nodes[n.ID]; ok && old.Parent != "" {
		g.children[old.Parent] = remove(g.children[old.Parent], n.ID)
	}
	g.nodes[n.ID] = n

	if n.Parent != "" {
		if _, ok := g.nodes[n.Parent]; !ok {
			g.nodes[n.Parent] = Node{ID: n.Parent, Kind: KindLine}
		}
		g.children[n.Parent] = append(g.children[n.Parent], n.ID)
		sort.Strings(g.children[n.Parent])
	}
	return nil
}

// reachesLocked reports whether walking up from id arrives at target.
func (g *Graph) reachesLocked(id, target string) bool {
	seen := make(map[string]bool)
	for cur := id; cur != ""; {
		if cur == target {
			return true
		}
		if seen[cur] {
			return true
		}
		seen[cur] = true
		cur = g.nodes[cur].Parent
	}
	return false
}

func (g *Graph) Get(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Ancestors returns the parent chain of id, nearest first.
func (g *Graph) Ancestors(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, errors.New().WithData(errors.ErrDeviceNotFound, id)
	}

	var out []string
	for cur := n.Parent; cur != ""; cur = g.nodes[cur].Parent {
		out = append(out, cur)
	}
	return out, nil
}

// Descendants returns every node below id in breadth-first order.
func (g *Graph) Descendants(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[id]; !ok {
		return nil, errors.New().WithData(errors.ErrDeviceNotFound, id)
	}

	var out []string
	queue := append([]string(nil), g.children[id]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)
		queue = append(queue, g.children[cur]...)
	}
	return out, nil
}

// Devices returns the device descendants of id, or id itself when it is a
// device.
func (g *Graph) Devices(id string) ([]string, error) {
	if n, ok := g.Get(id); ok && n.Kind == KindDevice {
		return []string{id}, nil
	}

	all, err := g.Descendants(id)
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(all))
	for _, d := range all {
		if g.nodes[d].Kind == KindDevice {
			out = append(out, d)
		}
	}
	return out, nil
}

// Roots returns the ids of nodes without a parent, sorted.
func (g *Graph) Roots() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	for id, n := range g.nodes {
		if n.Parent == "" {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
