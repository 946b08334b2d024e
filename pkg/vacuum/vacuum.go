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

// Package vacuum is the LRU eviction algorithm: given a fresh image graph
// and a byte threshold, it selects and deletes images until usage is back
// under budget, honoring the keep-list, minimum-age filter, and the
// engine's children-before-parents deletion constraint.
package vacuum

import (
	"container/heap"
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/reaperd/reaperd/pkg/engine"
	"github.com/reaperd/reaperd/pkg/graph"
	"github.com/reaperd/reaperd/pkg/logging"
	"github.com/reaperd/reaperd/pkg/store"
	"github.com/reaperd/reaperd/pkg/threshold"
)

// Options configures one vacuum run.
type Options struct {
	Threshold    threshold.Expr
	Capacity     threshold.CapacityFunc // only consulted for percentage thresholds
	Keep         []*regexp.Regexp
	MinAge       time.Duration // 0 disables the filter
	ChunkSize    int           // >= 1
	RequeryEvery int           // re-query the engine every K chunks; 0 = never
}

// Report summarizes one vacuum run for logging.
type Report struct {
	UsageBefore      int64
	UsageAfter       int64
	ThresholdBytes   int64
	Deleted          int
	SkippedHasChild  int
	SkippedInUse     int
	SkippedNotFound  int
	ExhaustedWithout bool // true if candidates ran out before reaching threshold
}

// Run executes exactly one vacuum per spec.md §4.5.
func Run(ctx context.Context, ad engine.Adapter, st *store.Store, opts Options, now func() time.Time, log *logging.Logger) (Report, error) {
	if opts.ChunkSize < 1 {
		opts.ChunkSize = 1
	}

	doc, err := st.Load()
	if err != nil {
		return Report{}, fmt.Errorf("loading state: %w", err)
	}

	images, err := ad.ListImages(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("listing images: %w", err)
	}
	containers, err := ad.ListContainers(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("listing containers: %w", err)
	}

	g, reconciled, err := graph.Build(images, containers, doc, now)
	if err != nil {
		return Report{}, fmt.Errorf("building image graph: %w", err)
	}
	graph.MarkPinned(g, opts.Keep)

	thresholdBytes, err := opts.Threshold.Resolve(opts.Capacity)
	if err != nil {
		return Report{}, fmt.Errorf("resolving threshold: %w", err)
	}

	usage := totalUsage(g)
	report := Report{UsageBefore: usage, ThresholdBytes: thresholdBytes}

	if usage <= thresholdBytes {
		report.UsageAfter = usage
		if err := st.Save(reconciled); err != nil {
			return report, fmt.Errorf("persisting state: %w", err)
		}
		return report, nil
	}

	candidates := selectCandidates(g, opts.MinAge, now())
	order := topoOrder(g, candidates)

	chunksSinceRequery := 0
	for usage > thresholdBytes && len(order) > 0 {
		n := opts.ChunkSize
		if n > len(order) {
			n = len(order)
		}
		chunk := order[:n]
		order = order[n:]

		for _, idx := range chunk {
			node := g.Nodes[idx]
			outcome, delErr := ad.DeleteImage(ctx, node.ID)
			switch outcome {
			case engine.DeleteOK:
				report.Deleted++
				usage -= node.SizeBytes
				delete(reconciled.Images, store.ImageID(node.ID))
			case engine.DeleteNotFound:
				report.SkippedNotFound++
				usage -= node.SizeBytes
				delete(reconciled.Images, store.ImageID(node.ID))
			case engine.DeleteHasChildren:
				report.SkippedHasChild++
				if log != nil {
					log.Debugf("vacuum: delete %s skipped, has surviving children", node.ID)
				}
			case engine.DeleteInUse:
				report.SkippedInUse++
				if log != nil {
					log.Debugf("vacuum: delete %s skipped, in use", node.ID)
				}
			default:
				if delErr != nil {
					return report, fmt.Errorf("deleting image %s: %w", node.ID, delErr)
				}
			}
		}

		chunksSinceRequery++
		if opts.RequeryEvery > 0 && chunksSinceRequery >= opts.RequeryEvery {
			chunksSinceRequery = 0
			if fresh, err := ad.ListImages(ctx); err == nil {
				usage = sumSizes(fresh)
			}
		}
	}

	if usage > thresholdBytes && len(order) == 0 {
		report.ExhaustedWithout = true
		if log != nil {
			log.Warnf("vacuum: exhausted candidates, usage %d still above threshold %d", usage, thresholdBytes)
		}
	}
	report.UsageAfter = usage

	if err := st.Save(reconciled); err != nil {
		return report, fmt.Errorf("persisting state: %w", err)
	}
	return report, nil
}

func totalUsage(g *graph.Graph) int64 {
	var total int64
	for _, n := range g.Nodes {
		total += n.SizeBytes
	}
	return total
}

func sumSizes(images []engine.Image) int64 {
	var total int64
	for _, img := range images {
		total += img.SizeBytes
	}
	return total
}

// selectCandidates returns node indices that are not in use, not pinned,
// and (if minAge > 0) last used more than minAge ago.
func selectCandidates(g *graph.Graph, minAge time.Duration, now time.Time) []int {
	var cutoff time.Time
	if minAge > 0 {
		cutoff = now.Add(-minAge)
	}
	var out []int
	for i, n := range g.Nodes {
		if n.InUse || n.Pinned {
			continue
		}
		if minAge > 0 && !g.LastUsed(i).Before(cutoff) {
			continue
		}
		out = append(out, i)
	}
	return out
}

// topoOrder produces a deletion order over candidates: ascending effective
// last-used timestamp, always honoring "a candidate's candidate-children
// come first" (invariant: no candidate is ever ordered before one of its
// own candidate children), stable on image id. This is Kahn's
// topological sort over the child-before-parent relation restricted to
// candidates, using (effective timestamp, id) as the tie-break priority
// among nodes that are simultaneously ready.
func topoOrder(g *graph.Graph, candidates []int) []int {
	isCandidate := make(map[int]bool, len(candidates))
	for _, i := range candidates {
		isCandidate[i] = true
	}

	remainingChildren := make(map[int]int, len(candidates))
	for _, i := range candidates {
		count := 0
		for _, c := range g.Children(i) {
			if isCandidate[c] {
				count++
			}
		}
		remainingChildren[i] = count
	}

	pq := &priorityQueue{g: g}
	heap.Init(pq)
	for _, i := range candidates {
		if remainingChildren[i] == 0 {
			heap.Push(pq, i)
		}
	}

	order := make([]int, 0, len(candidates))
	for pq.Len() > 0 {
		idx := heap.Pop(pq).(int)
		order = append(order, idx)
		parent := g.Nodes[idx].ParentIdx
		if parent >= 0 && isCandidate[parent] {
			remainingChildren[parent]--
			if remainingChildren[parent] == 0 {
				heap.Push(pq, parent)
			}
		}
	}
	return order
}

// priorityQueue orders ready node indices by (effective timestamp, id).
type priorityQueue struct {
	g     *graph.Graph
	items []int
}

func (pq *priorityQueue) Len() int { return len(pq.items) }

func (pq *priorityQueue) Less(i, j int) bool {
	a, b := pq.items[i], pq.items[j]
	ea, eb := pq.g.Effective(a), pq.g.Effective(b)
	if !ea.Equal(eb) {
		return ea.Before(eb)
	}
	return pq.g.Nodes[a].ID < pq.g.Nodes[b].ID
}

func (pq *priorityQueue) Swap(i, j int) { pq.items[i], pq.items[j] = pq.items[j], pq.items[i] }

func (pq *priorityQueue) Push(x any) { pq.items = append(pq.items, x.(int)) }

func (pq *priorityQueue) Pop() any {
	old := pq.items
	n := len(old)
	item := old[n-1]
	pq.items = old[:n-1]
	return item
}
