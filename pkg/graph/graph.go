// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package graph builds the transient image graph a vacuum reasons over:
// parent/child links, in-use propagation, keep-pattern pinning, and
// effective-timestamp computation. Rebuilt fresh every vacuum, per spec.
//
// The representation is a flat node array addressed by integer index, not
// a pointer graph: parent links are indices into Nodes, and the
// children-per-node set is computed once per build in a single pass, per
// the design note against allocation-per-edge graphs.
package graph

import (
	"regexp"
	"time"

	"github.com/reaperd/reaperd/pkg/engine"
	"github.com/reaperd/reaperd/pkg/store"
)

// Node is one image in the graph.
type Node struct {
	ID        engine.ImageID
	ParentIdx int // -1 if the image has no parent
	CreatedAt time.Time
	SizeBytes int64
	RepoTags  []string
	InUse     bool // true once in-use propagation has run
	Pinned    bool // true once keep-pattern pinning has run

	lastUsed  time.Time
	effective time.Time
}

// Graph is the full transient snapshot for one vacuum.
type Graph struct {
	Nodes    []Node
	indexOf  map[engine.ImageID]int
	children [][]int
}

// IndexOf returns the node index for id, or -1 if the id is unknown.
func (g *Graph) IndexOf(id engine.ImageID) int {
	if i, ok := g.indexOf[id]; ok {
		return i
	}
	return -1
}

// LastUsed returns the image's own stored last-used timestamp.
func (g *Graph) LastUsed(i int) time.Time { return g.Nodes[i].lastUsed }

// Effective returns the minimum of the image's own last-used timestamp and
// that of every descendant. pkg/vacuum orders ready deletion candidates by
// it; the children-before-parents constraint itself is enforced there by a
// topological sort.
func (g *Graph) Effective(i int) time.Time { return g.Nodes[i].effective }

// Children returns the indices of i's direct children.
func (g *Graph) Children(i int) []int { return g.children[i] }

// Build joins a fresh engine snapshot with the persisted store document,
// producing both the graph used for vacuum selection and the reconciled
// document that should eventually be persisted back (new images
// bootstrapped, vanished images dropped).
func Build(images []engine.Image, containers []engine.Container, doc store.Document, now func() time.Time) (*Graph, store.Document, error) {
	g := &Graph{
		Nodes:   make([]Node, len(images)),
		indexOf: make(map[engine.ImageID]int, len(images)),
	}
	for i, img := range images {
		g.indexOf[img.ID] = i
	}
	for i, img := range images {
		parentIdx := -1
		if img.ParentID != "" {
			if pi, ok := g.indexOf[img.ParentID]; ok {
				parentIdx = pi
			}
		}
		g.Nodes[i] = Node{
			ID:        img.ID,
			ParentIdx: parentIdx,
			CreatedAt: img.CreatedAt,
			SizeBytes: img.SizeBytes,
			RepoTags:  img.RepoTags,
		}
	}

	g.children = make([][]int, len(images))
	for i, n := range g.Nodes {
		if n.ParentIdx >= 0 {
			g.children[n.ParentIdx] = append(g.children[n.ParentIdx], i)
		}
	}

	reconciled := reconcile(g, doc, now)

	markInUse(g, containers)
	computeEffective(g)

	return g, reconciled, nil
}

// reconcile applies spec.md §4.4's store reconciliation and fills in each
// node's lastUsed field from the (possibly just-bootstrapped) record.
func reconcile(g *Graph, doc store.Document, now func() time.Time) store.Document {
	out := store.Document{
		SchemaVersion: store.CurrentSchemaVersion,
		FirstRun:      false, // once reconciled, the daemon has a real record; next load is never first-run
		Images:        make(map[store.ImageID]store.Record, len(g.Nodes)),
	}

	for i := range g.Nodes {
		id := store.ImageID(g.Nodes[i].ID)
		rec, known := doc.Images[id]
		if !known {
			if doc.FirstRun {
				rec = store.Record{LastUsed: g.Nodes[i].CreatedAt}
			} else {
				rec = store.Record{LastUsed: now()}
			}
		}
		out.Images[id] = rec
		g.Nodes[i].lastUsed = rec.LastUsed
	}
	// Images present in the store but gone from the engine are simply not
	// copied into out.Images: dropped, per spec.
	return out
}

// markInUse sets Node.InUse for every image directly referenced by a
// container, then propagates up the parent chain: if a child is in use,
// every ancestor is too.
func markInUse(g *Graph, containers []engine.Container) {
	for _, c := range containers {
		if i := g.IndexOf(c.ImageID); i >= 0 {
			g.Nodes[i].InUse = true
		}
	}
	for i := range g.Nodes {
		if g.Nodes[i].InUse {
			propagateUp(g, g.Nodes[i].ParentIdx)
		}
	}
}

func propagateUp(g *Graph, idx int) {
	for idx >= 0 && !g.Nodes[idx].InUse {
		g.Nodes[idx].InUse = true
		idx = g.Nodes[idx].ParentIdx
	}
}

// computeEffective fills in each node's effective timestamp: the minimum
// of its own last-used time and every descendant's, via one post-order
// pass over the flat array (children always have a higher or unrelated
// index than their parent in the engine's listing is not guaranteed, so
// this walks explicitly rather than assuming array order).
func computeEffective(g *Graph) {
	for i := range g.Nodes {
		g.Nodes[i].effective = g.Nodes[i].lastUsed
	}
	// Depth-first: for each node compute the min over its subtree lazily
	// via memoized recursion, since the parent/child structure is acyclic
	// (engine-enforced) but not necessarily ordered.
	memo := make([]bool, len(g.Nodes))
	var visit func(i int) time.Time
	visit = func(i int) time.Time {
		if memo[i] {
			return g.Nodes[i].effective
		}
		min := g.Nodes[i].lastUsed
		for _, c := range g.children[i] {
			ce := visit(c)
			if ce.Before(min) {
				min = ce
			}
		}
		g.Nodes[i].effective = min
		memo[i] = true
		return min
	}
	for i := range g.Nodes {
		visit(i)
	}
}

// MarkPinned pins every image whose concatenated "repository:tag" matches
// any of patterns, and every ancestor of such an image.
func MarkPinned(g *Graph, patterns []*regexp.Regexp) {
	if len(patterns) == 0 {
		return
	}
	for i := range g.Nodes {
		for _, tag := range g.Nodes[i].RepoTags {
			for _, p := range patterns {
				if p.MatchString(tag) {
					pinUp(g, i)
					break
				}
			}
		}
	}
}

func pinUp(g *Graph, idx int) {
	for idx >= 0 && !g.Nodes[idx].Pinned {
		g.Nodes[idx].Pinned = true
		idx = g.Nodes[idx].ParentIdx
	}
}
