package qi

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/models"
	"github.com/seclens/seclens-engine/pkg/profiling"
)

// retryClusterRadius is the widened neighbourhood radius used when the
// first clustering pass finds nothing.
const retryClusterRadius = 0.6

// Point labels used by dbscanLabels. Zero means not yet visited.
const (
	labelUnvisited = 0
	labelNoise     = -1
)

// groupByClustering clusters eligible columns with DBSCAN in correlation
// space, where the distance between two columns is 1 minus their
// correlation coefficient. The initial radius derives from the configured
// clustering distance threshold; when no cluster forms, one retry with a
// wider radius runs before giving up. Clusters outside the configured size
// bounds are discarded.
func groupByClustering(
	refs []string,
	matrix *profiling.CorrelationMatrix,
	cfg models.QuasiIdentifierConfig,
	logger *zap.Logger,
) [][]string {
	if len(refs) < 2 {
		return nil
	}

	sorted := append([]string(nil), refs...)
	sort.Strings(sorted)

	dist := func(i, j int) float64 {
		return 1 - matrix.Coefficient(sorted[i], sorted[j])
	}

	minPts := cfg.MinGroupSize
	if minPts < 2 {
		minPts = 2
	}

	radius := math.Min(0.5, cfg.ClusteringDistanceThreshold*1.5)
	labels := dbscanLabels(len(sorted), dist, radius, minPts)
	clusters := collectClusters(sorted, labels)

	if len(clusters) == 0 && radius < retryClusterRadius {
		logger.Debug("no clusters found, retrying with wider radius",
			zap.Float64("radius", radius),
			zap.Float64("retry_radius", retryClusterRadius))
		labels = dbscanLabels(len(sorted), dist, retryClusterRadius, minPts)
		clusters = collectClusters(sorted, labels)
	}

	var groups [][]string
	for _, cluster := range clusters {
		if len(cluster) < cfg.MinGroupSize || len(cluster) > cfg.MaxGroupSize {
			continue
		}
		groups = append(groups, cluster)
	}
	return groups
}

// dbscanLabels assigns a cluster label to each of n points. Labels are
// positive cluster ids, labelNoise for outliers. A point is a core point
// when its radius neighbourhood, itself included, holds at least minPts
// points; clusters grow from core points, and noise points reachable from
// a core point are adopted as border points.
func dbscanLabels(n int, dist func(i, j int) float64, radius float64, minPts int) []int {
	labels := make([]int, n)
	cluster := 0

	for i := 0; i < n; i++ {
		if labels[i] != labelUnvisited {
			continue
		}

		neighbours := neighboursWithin(n, dist, i, radius)
		if len(neighbours)+1 < minPts {
			labels[i] = labelNoise
			continue
		}

		cluster++
		labels[i] = cluster

		queue := append([]int(nil), neighbours...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]

			if labels[j] == labelNoise {
				labels[j] = cluster
				continue
			}
			if labels[j] != labelUnvisited {
				continue
			}
			labels[j] = cluster

			expansion := neighboursWithin(n, dist, j, radius)
			if len(expansion)+1 >= minPts {
				queue = append(queue, expansion...)
			}
		}
	}
	return labels
}

func neighboursWithin(n int, dist func(i, j int) float64, i int, radius float64) []int {
	var out []int
	for j := 0; j < n; j++ {
		if j == i {
			continue
		}
		if dist(i, j) <= radius {
			out = append(out, j)
		}
	}
	return out
}

// collectClusters maps labels back to refs, one sorted member list per
// cluster id, ordered by cluster id.
func collectClusters(refs []string, labels []int) [][]string {
	byID := make(map[int][]string)
	maxID := 0
	for i, label := range labels {
		if label <= 0 {
			continue
		}
		byID[label] = append(byID[label], refs[i])
		if label > maxID {
			maxID = label
		}
	}

	var clusters [][]string
	for id := 1; id <= maxID; id++ {
		members := byID[id]
		if len(members) == 0 {
			continue
		}
		sort.Strings(members)
		clusters = append(clusters, members)
	}
	return clusters
}
