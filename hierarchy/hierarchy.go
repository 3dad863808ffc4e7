// Package hierarchy infers heading levels from text block font sizes.
//
// Blocks are clustered by font size with a one-dimensional k-means. The most
// populous cluster is body text; clusters with a larger centroid become
// headings, the largest being level 1. Everything here is pure and
// deterministic for a given k.
package hierarchy

import (
	"math"
	"slices"

	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
)

const (
	maxIterations = 100
	convergence   = 0.01
	dedupEpsilon  = 0.05
	maxHeadings   = 6
)

// Cluster is a group of blocks sharing a font size centroid.
type Cluster struct {
	Centroid float64
	Blocks   []document.Block
}

// ClusterBlocks groups blocks into at most k font-size clusters, returned by
// descending centroid. Empty clusters are dropped. k must be in [1, 7].
func ClusterBlocks(blocks []document.Block, k int) ([]Cluster, error) {
	if k < 1 || k > 7 {
		return nil, kerr.Validation("hierarchy: k_clusters must be in [1, 7], got %d", k)
	}
	if len(blocks) == 0 {
		return nil, nil
	}
	k = min(k, len(blocks))

	sizes := make([]float64, 0, len(blocks))
	for _, b := range blocks {
		if !math.IsNaN(b.FontSize) && !math.IsInf(b.FontSize, 0) {
			sizes = append(sizes, b.FontSize)
		}
	}
	if len(sizes) == 0 {
		return nil, nil
	}
	centroids := initialCentroids(sizes, k)

	for range maxIterations {
		sums := make([]float64, len(centroids))
		counts := make([]int, len(centroids))
		for _, s := range sizes {
			i := nearest(centroids, s)
			sums[i] += s
			counts[i]++
		}
		converged := true
		for i := range centroids {
			if counts[i] == 0 {
				continue
			}
			next := sums[i] / float64(counts[i])
			if math.Abs(next-centroids[i]) >= convergence {
				converged = false
			}
			centroids[i] = next
		}
		if converged {
			break
		}
	}

	groups := make([][]document.Block, len(centroids))
	for _, b := range blocks {
		if math.IsNaN(b.FontSize) || math.IsInf(b.FontSize, 0) {
			continue
		}
		i := nearest(centroids, b.FontSize)
		groups[i] = append(groups[i], b)
	}
	var out []Cluster
	for i, g := range groups {
		if len(g) > 0 {
			out = append(out, Cluster{Centroid: centroids[i], Blocks: g})
		}
	}
	slices.SortStableFunc(out, func(a, b Cluster) int {
		switch {
		case a.Centroid > b.Centroid:
			return -1
		case a.Centroid < b.Centroid:
			return 1
		}
		return 0
	})
	return out, nil
}

// initialCentroids spreads k seeds over the distinct sizes in descending
// order, interpolating between the extremes when there are fewer than k.
func initialCentroids(sizes []float64, k int) []float64 {
	distinct := slices.Clone(sizes)
	slices.SortFunc(distinct, func(a, b float64) int {
		switch {
		case a > b:
			return -1
		case a < b:
			return 1
		}
		return 0
	})
	distinct = slices.CompactFunc(distinct, func(a, b float64) bool {
		return math.Abs(a-b) < dedupEpsilon
	})

	if len(distinct) >= k {
		step := len(distinct) / k
		c := make([]float64, k)
		for i := range c {
			c[i] = distinct[min(i*step, len(distinct)-1)]
		}
		return c
	}

	c := slices.Clone(distinct)
	hi, lo := distinct[0], distinct[len(distinct)-1]
	for len(c) < k {
		t := float64(len(c)) / float64(k-1)
		c = append(c, hi-t*(hi-lo))
	}
	slices.SortFunc(c, func(a, b float64) int {
		switch {
		case a > b:
			return -1
		case a < b:
			return 1
		}
		return 0
	})
	return c
}

func nearest(centroids []float64, v float64) int {
	best, dist := 0, math.Inf(1)
	for i, c := range centroids {
		if d := math.Abs(v - c); d < dist {
			best, dist = i, d
		}
	}
	return best
}

// AssignLevels returns one heading level per cluster: 0 for body text and
// for clusters smaller than body, 1..6 for larger clusters by descending
// centroid. clusters must be sorted as ClusterBlocks returns them.
func AssignLevels(clusters []Cluster) []int {
	levels := make([]int, len(clusters))
	if len(clusters) < 2 {
		return levels
	}
	body := 0
	for i, c := range clusters {
		if len(c.Blocks) > len(clusters[body].Blocks) {
			body = i
		}
	}
	level := 1
	for i, c := range clusters {
		if i == body || c.Centroid <= clusters[body].Centroid || level > maxHeadings {
			continue
		}
		levels[i] = level
		level++
	}
	return levels
}

// Elements clusters blocks and returns them as heading and paragraph
// elements in their original order. With includeBBox, each element carries
// its bounding box under the "bbox" metadata key.
func Elements(blocks []document.Block, k int, includeBBox bool) ([]document.Element, error) {
	clusters, err := ClusterBlocks(blocks, k)
	if err != nil {
		return nil, err
	}
	levels := AssignLevels(clusters)
	levelOf := make(map[float64]int, len(clusters))
	centroids := make([]float64, len(clusters))
	for i, c := range clusters {
		levelOf[c.Centroid] = levels[i]
		centroids[i] = c.Centroid
	}

	out := make([]document.Element, 0, len(blocks))
	for _, b := range blocks {
		if math.IsNaN(b.FontSize) || math.IsInf(b.FontSize, 0) {
			continue
		}
		lvl := levelOf[centroids[nearest(centroids, b.FontSize)]]
		el := document.Element{Type: document.ElementParagraph, Text: b.Text, PageNumber: b.Page}
		if lvl > 0 {
			el.Type = document.ElementHeading
			el.Level = lvl
		}
		if includeBBox && b.BBox != nil {
			el.Metadata = document.Metadata{"bbox": *b.BBox}
		}
		out = append(out, el)
	}
	return out, nil
}
