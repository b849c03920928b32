package qi

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/models"
	"github.com/seclens/seclens-engine/pkg/profiling"
)

// maxFallbackPairs caps the number of groups the global pair fallback may
// emit when neither components nor greedy extraction produced anything.
const maxFallbackPairs = 5

// adjacency maps a column ref to its correlated neighbours and the
// correlation strength of each edge.
type adjacency map[string]map[string]float64

// groupByGraph builds a correlation graph over the eligible columns and
// returns the member refs of each group, sorted within each group.
//
// Edges connect columns whose correlation meets the configured threshold.
// When no edges form at all, the threshold is relaxed once to
// max(0.5, threshold-0.1). Connected components become groups: undersized
// components are dropped, oversized ones are decomposed around their
// strongest hubs. If nothing survives, a bounded set of the strongest
// standalone pairs is emitted instead so near-threshold structure is not
// silently lost.
func groupByGraph(
	refs []string,
	matrix *profiling.CorrelationMatrix,
	cfg models.QuasiIdentifierConfig,
	logger *zap.Logger,
) [][]string {
	threshold := cfg.CorrelationThreshold

	adj, edges := buildAdjacency(refs, matrix, threshold)
	if edges == 0 && len(refs) >= 2 {
		relaxed := math.Max(0.5, threshold-0.1)
		if relaxed < threshold {
			logger.Debug("no correlation edges, relaxing threshold",
				zap.Float64("threshold", threshold),
				zap.Float64("relaxed", relaxed))
			threshold = relaxed
			adj, edges = buildAdjacency(refs, matrix, threshold)
		}
	}

	var groups [][]string
	if edges > 0 {
		for _, component := range connectedComponents(refs, adj) {
			switch {
			case len(component) < cfg.MinGroupSize:
				continue
			case len(component) <= cfg.MaxGroupSize:
				groups = append(groups, component)
			default:
				logger.Debug("decomposing oversized correlation component",
					zap.Int("size", len(component)),
					zap.Int("max_group_size", cfg.MaxGroupSize))
				groups = append(groups, decomposeComponent(component, adj, cfg)...)
			}
		}
	}

	if len(groups) == 0 {
		groups = strongestPairs(refs, matrix, 0.8*threshold, cfg, maxFallbackPairs)
		if len(groups) > 0 {
			logger.Debug("correlation components empty, using strongest pairs",
				zap.Int("pairs", len(groups)))
		}
	}
	return groups
}

// buildAdjacency returns the undirected correlation graph at the given
// threshold and the number of edges in it.
func buildAdjacency(refs []string, matrix *profiling.CorrelationMatrix, threshold float64) (adjacency, int) {
	adj := make(adjacency, len(refs))
	for _, ref := range refs {
		adj[ref] = make(map[string]float64)
	}

	edges := 0
	for i, a := range refs {
		for _, b := range refs[i+1:] {
			coeff := matrix.Coefficient(a, b)
			if coeff >= threshold {
				adj[a][b] = coeff
				adj[b][a] = coeff
				edges++
			}
		}
	}
	return adj, edges
}

// connectedComponents walks the graph breadth-first and returns each
// component with at least one edge, members sorted. Iteration order is
// fixed by sorting refs and neighbours, so output is deterministic.
func connectedComponents(refs []string, adj adjacency) [][]string {
	sorted := append([]string(nil), refs...)
	sort.Strings(sorted)

	visited := make(map[string]bool, len(sorted))
	var components [][]string

	for _, start := range sorted {
		if visited[start] || len(adj[start]) == 0 {
			continue
		}

		var component []string
		queue := []string{start}
		visited[start] = true
		for len(queue) > 0 {
			ref := queue[0]
			queue = queue[1:]
			component = append(component, ref)

			neighbours := make([]string, 0, len(adj[ref]))
			for n := range adj[ref] {
				neighbours = append(neighbours, n)
			}
			sort.Strings(neighbours)
			for _, n := range neighbours {
				if !visited[n] {
					visited[n] = true
					queue = append(queue, n)
				}
			}
		}

		sort.Strings(component)
		components = append(components, component)
	}
	return components
}

// decomposeComponent splits a component larger than maxGroupSize into
// subgroups. Columns with the highest weighted degree seed subgroups first
// and claim their strongest unclaimed neighbours. Seeds that cannot reach
// minGroupSize leave their members unclaimed for later seeds. If no seed
// forms a valid subgroup, greedy pair extraction over the component's edges
// takes over.
func decomposeComponent(component []string, adj adjacency, cfg models.QuasiIdentifierConfig) [][]string {
	inComponent := make(map[string]bool, len(component))
	for _, ref := range component {
		inComponent[ref] = true
	}

	weight := make(map[string]float64, len(component))
	for _, ref := range component {
		for n, w := range adj[ref] {
			if inComponent[n] {
				weight[ref] += w
			}
		}
	}

	seeds := append([]string(nil), component...)
	sort.Slice(seeds, func(i, j int) bool {
		if weight[seeds[i]] != weight[seeds[j]] {
			return weight[seeds[i]] > weight[seeds[j]]
		}
		return seeds[i] < seeds[j]
	})

	used := make(map[string]bool, len(component))
	var subgroups [][]string

	for _, seed := range seeds {
		if used[seed] {
			continue
		}

		neighbours := make([]string, 0, len(adj[seed]))
		for n := range adj[seed] {
			if inComponent[n] && !used[n] {
				neighbours = append(neighbours, n)
			}
		}
		sort.Slice(neighbours, func(i, j int) bool {
			if adj[seed][neighbours[i]] != adj[seed][neighbours[j]] {
				return adj[seed][neighbours[i]] > adj[seed][neighbours[j]]
			}
			return neighbours[i] < neighbours[j]
		})

		group := []string{seed}
		for _, n := range neighbours {
			if len(group) >= cfg.MaxGroupSize {
				break
			}
			group = append(group, n)
		}
		if len(group) < cfg.MinGroupSize {
			continue
		}

		for _, ref := range group {
			used[ref] = true
		}
		sort.Strings(group)
		subgroups = append(subgroups, group)
	}

	if len(subgroups) == 0 {
		subgroups = greedyPairs(component, adj, cfg)
	}
	return subgroups
}

type scoredEdge struct {
	a, b   string
	weight float64
}

func sortEdges(edges []scoredEdge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].weight != edges[j].weight {
			return edges[i].weight > edges[j].weight
		}
		if edges[i].a != edges[j].a {
			return edges[i].a < edges[j].a
		}
		return edges[i].b < edges[j].b
	})
}

// greedyPairs extracts disjoint pairs from a component, strongest edge
// first, and expands each pair into a triplet when an unused column
// correlates above threshold with both members.
func greedyPairs(component []string, adj adjacency, cfg models.QuasiIdentifierConfig) [][]string {
	var edges []scoredEdge
	for i, a := range component {
		for _, b := range component[i+1:] {
			if w, ok := adj[a][b]; ok {
				edges = append(edges, scoredEdge{a: a, b: b, weight: w})
			}
		}
	}
	sortEdges(edges)

	used := make(map[string]bool, len(component))
	var groups [][]string

	for _, e := range edges {
		if used[e.a] || used[e.b] {
			continue
		}
		group := []string{e.a, e.b}
		used[e.a], used[e.b] = true, true

		if cfg.MaxGroupSize >= 3 {
			if third := bestThird(component, adj, used, e.a, e.b); third != "" {
				group = append(group, third)
				used[third] = true
			}
		}

		if len(group) < cfg.MinGroupSize {
			continue
		}
		sort.Strings(group)
		groups = append(groups, group)
	}
	return groups
}

// bestThird finds the unused column most strongly connected to both pair
// members, requiring an edge to each. Returns "" when none qualifies.
func bestThird(component []string, adj adjacency, used map[string]bool, a, b string) string {
	best := ""
	bestWeight := 0.0
	for _, c := range component {
		if used[c] {
			continue
		}
		wa, okA := adj[a][c]
		wb, okB := adj[b][c]
		if !okA || !okB {
			continue
		}
		if w := wa + wb; w > bestWeight || (w == bestWeight && (best == "" || c < best)) {
			best = c
			bestWeight = w
		}
	}
	return best
}

// strongestPairs is the global fallback: up to limit disjoint pairs whose
// correlation is at least floor, strongest first.
func strongestPairs(
	refs []string,
	matrix *profiling.CorrelationMatrix,
	floor float64,
	cfg models.QuasiIdentifierConfig,
	limit int,
) [][]string {
	if cfg.MinGroupSize > 2 {
		return nil
	}

	var edges []scoredEdge
	for i, a := range refs {
		for _, b := range refs[i+1:] {
			if coeff := matrix.Coefficient(a, b); coeff >= floor {
				edges = append(edges, scoredEdge{a: a, b: b, weight: coeff})
			}
		}
	}
	sortEdges(edges)

	used := make(map[string]bool)
	var groups [][]string
	for _, e := range edges {
		if len(groups) >= limit {
			break
		}
		if used[e.a] || used[e.b] {
			continue
		}
		used[e.a], used[e.b] = true, true
		pair := []string{e.a, e.b}
		sort.Strings(pair)
		groups = append(groups, pair)
	}
	return groups
}
