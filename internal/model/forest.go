package model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// eulerGamma is the Euler-Mascheroni constant used in the expected
// path-length normalizer.
const eulerGamma = 0.5772156649015329

// defaultSubsample is the per-tree subsample size. Trees are grown on
// at most this many points regardless of training set size.
const defaultSubsample = 256

// IsolationForest is an unsupervised anomaly detector. Each tree
// isolates points by recursive random axis-aligned splits; anomalous
// points isolate in fewer splits, giving them shorter average path
// lengths across the ensemble.
//
// Score convention matches the common library convention: ScoreSamples
// returns the negated anomaly score in [-1, 0], where values closer to
// -1 are more anomalous. The decision offset is calibrated so that the
// contamination fraction of the training set scores below it.
type IsolationForest struct {
	Estimators    int       `json:"estimators"`
	SubsampleSize int       `json:"subsampleSize"`
	Contamination float64   `json:"contamination"`
	Seed          int64     `json:"seed"`
	Offset        float64   `json:"offset"`
	Trees         []isoTree `json:"trees"`
}

// isoTree is a single isolation tree, stored as a flat node slice with
// child indices.
type isoTree struct {
	Nodes []treeNode `json:"nodes"`
}

// treeNode is one node of an isolation tree. Feature == -1 marks an
// external (leaf) node; Size is the number of training points that
// reached it.
type treeNode struct {
	Feature int     `json:"f"`
	Split   float64 `json:"s"`
	Left    int     `json:"l"`
	Right   int     `json:"r"`
	Size    int     `json:"n"`
}

// NewIsolationForest creates an unfitted forest.
func NewIsolationForest(estimators int, contamination float64, seed int64) *IsolationForest {
	if estimators <= 0 {
		estimators = 100
	}
	return &IsolationForest{
		Estimators:    estimators,
		SubsampleSize: defaultSubsample,
		Contamination: contamination,
		Seed:          seed,
	}
}

// Fit grows the ensemble on the given data and calibrates the decision
// offset at the contamination quantile of the training scores.
func (f *IsolationForest) Fit(data [][]float64) error {
	if len(data) == 0 {
		return fmt.Errorf("cannot fit forest on empty data")
	}

	psi := f.SubsampleSize
	if psi <= 0 || psi > len(data) {
		psi = len(data)
	}
	f.SubsampleSize = psi

	maxDepth := int(math.Ceil(math.Log2(float64(psi))))
	rng := rand.New(rand.NewSource(f.Seed))

	f.Trees = make([]isoTree, f.Estimators)
	for t := range f.Trees {
		// Subsample without replacement
		perm := rng.Perm(len(data))
		indices := perm[:psi]

		b := &treeBuilder{data: data, rng: rng, maxDepth: maxDepth}
		b.build(indices, 0)
		f.Trees[t] = isoTree{Nodes: b.nodes}
	}

	// Calibrate the decision threshold: the contamination fraction of
	// training points should score below the offset.
	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = f.ScoreSamples(row)
	}
	sort.Float64s(scores)
	f.Offset = quantile(scores, f.Contamination)

	return nil
}

// Predict classifies a sample: -1 for anomaly, +1 for normal.
func (f *IsolationForest) Predict(sample []float64) int {
	if f.ScoreSamples(sample) < f.Offset {
		return -1
	}
	return 1
}

// ScoreSamples returns the negated anomaly score for a sample, in
// [-1, 0]. More negative means more anomalous.
func (f *IsolationForest) ScoreSamples(sample []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}

	var total float64
	for i := range f.Trees {
		total += f.Trees[i].pathLength(sample)
	}
	avg := total / float64(len(f.Trees))

	// Anomaly score from the isolation forest paper: s = 2^(-E[h]/c(psi))
	s := math.Pow(2, -avg/avgPathLength(f.SubsampleSize))
	return -s
}

// Fitted reports whether the forest has trees.
func (f *IsolationForest) Fitted() bool {
	return len(f.Trees) > 0
}

// pathLength computes the path length of a sample through one tree,
// with the standard adjustment for unresolved external nodes.
func (t *isoTree) pathLength(sample []float64) float64 {
	depth := 0.0
	idx := 0
	for {
		node := t.Nodes[idx]
		if node.Feature < 0 {
			return depth + avgPathLength(node.Size)
		}
		if sample[node.Feature] < node.Split {
			idx = node.Left
		} else {
			idx = node.Right
		}
		depth++
	}
}

// avgPathLength is c(n): the expected path length of an unsuccessful
// BST search among n points, used to normalize scores and to credit
// external nodes that still hold multiple points.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

// treeBuilder grows one isolation tree over a set of row indices.
type treeBuilder struct {
	data     [][]float64
	rng      *rand.Rand
	maxDepth int
	nodes    []treeNode
}

// build appends the subtree for the given indices and returns its root
// node index.
func (b *treeBuilder) build(indices []int, depth int) int {
	if depth >= b.maxDepth || len(indices) <= 1 {
		return b.external(len(indices))
	}

	feature, lo, hi, ok := b.pickSplitFeature(indices)
	if !ok {
		// All points identical across every feature
		return b.external(len(indices))
	}

	split := lo + b.rng.Float64()*(hi-lo)

	var left, right []int
	for _, i := range indices {
		if b.data[i][feature] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return b.external(len(indices))
	}

	// Reserve the internal node before recursing so children get
	// higher indices.
	idx := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{Feature: feature, Split: split})
	b.nodes[idx].Left = b.build(left, depth+1)
	b.nodes[idx].Right = b.build(right, depth+1)
	return idx
}

func (b *treeBuilder) external(size int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{Feature: -1, Size: size})
	return idx
}

// pickSplitFeature chooses a random feature that still varies across
// the given points and returns its value range.
func (b *treeBuilder) pickSplitFeature(indices []int) (feature int, lo, hi float64, ok bool) {
	dims := len(b.data[indices[0]])
	candidates := make([]int, 0, dims)
	for j := 0; j < dims; j++ {
		min, max := b.featureRange(indices, j)
		if min < max {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return 0, 0, 0, false
	}

	feature = candidates[b.rng.Intn(len(candidates))]
	lo, hi = b.featureRange(indices, feature)
	return feature, lo, hi, true
}

func (b *treeBuilder) featureRange(indices []int, feature int) (float64, float64) {
	min := b.data[indices[0]][feature]
	max := min
	for _, i := range indices[1:] {
		v := b.data[i][feature]
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// quantile returns the linearly interpolated q-quantile of sorted
// values.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	frac := pos - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
