// Package forest implements a streaming half-space tree ensemble. Each
// tree partitions the unit feature cube with random splits and tracks how
// much of the recent stream landed in each cell; points falling into
// sparsely populated cells score as structural outliers. The signal is
// independent of any regression residual.
package forest

import "math/rand"

type split struct {
	feature   int
	threshold float64
}

// tree keeps two split arenas so a rebuild can draw fresh structure off
// to the side and swap it in with a single index flip. Nodes live in an
// implicit complete binary tree: children of i are 2i+1 and 2i+2.
type tree struct {
	splits [2][]split
	active int

	ref []float64 // mass per node from the last completed window, scored against
	cur []float64 // mass per node accumulating in the current window

	lo []float64 // per-feature range observed since the last structure draw
	hi []float64

	built bool // structure has been drawn
	refOK bool // ref holds one full window, the tree can score

	count   int // observations toward the next window boundary
	windows int // completed windows since the structure was drawn
}

// Forest is the per-stream ensemble. It is not safe for concurrent use;
// callers serialize access per key.
type Forest struct {
	trees        []tree
	dim          int
	height       int
	window       int
	rebuildEvery int
	nodes        int
	sizeLimit    float64
	rng          *rand.Rand
}

// New builds an ensemble over dim-dimensional points in the unit cube.
func New(dim int, opts ...Option) *Forest {
	if dim < 1 {
		dim = 1
	}
	f := &Forest{
		dim:          dim,
		height:       defaultHeight,
		window:       defaultWindow,
		rebuildEvery: defaultRebuildEvery,
	}
	cfg := options{trees: defaultTrees, seed: defaultSeed}
	for _, opt := range opts {
		opt(&cfg, f)
	}

	f.nodes = 1<<(f.height+1) - 1
	f.sizeLimit = 0.1 * float64(f.window)
	f.rng = rand.New(rand.NewSource(cfg.seed))

	f.trees = make([]tree, cfg.trees)
	for i := range f.trees {
		t := &f.trees[i]
		t.splits[0] = make([]split, f.nodes)
		t.splits[1] = make([]split, f.nodes)
		t.ref = make([]float64, f.nodes)
		t.cur = make([]float64, f.nodes)
		t.lo = make([]float64, f.dim)
		t.hi = make([]float64, f.dim)
		resetRanges(t)
		// Stagger window boundaries so rebuild warm-ups never blind the
		// whole ensemble at once.
		t.count = i * f.window / cfg.trees
	}
	return f
}

// Score rates one point against the reference windows, 0 for a typical
// point up to 1 for a point no recent mass resembles. Before any tree has
// a full reference window the forest reports 0.
func (f *Forest) Score(p []float64) float64 {
	if len(p) != f.dim {
		return 0
	}
	sum := 0.0
	capable := 0
	for i := range f.trees {
		t := &f.trees[i]
		if !t.built || !t.refOK {
			continue
		}
		sum += f.scoreTree(t, p)
		capable++
	}
	if capable == 0 {
		return 0
	}
	v := 1 - sum/float64(capable)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Observe folds one point into the current windows and advances each
// tree's lifecycle. Points of the wrong dimension are ignored.
func (f *Forest) Observe(p []float64) {
	if len(p) != f.dim {
		return
	}
	for i := range f.trees {
		t := &f.trees[i]
		for d := 0; d < f.dim; d++ {
			if p[d] < t.lo[d] {
				t.lo[d] = p[d]
			}
			if p[d] > t.hi[d] {
				t.hi[d] = p[d]
			}
		}
		if t.built {
			f.insert(t, p)
		}
		t.count++
		if t.count >= f.window {
			f.boundary(t)
		}
	}
}

// Ready reports whether at least one tree can score.
func (f *Forest) Ready() bool {
	for i := range f.trees {
		if f.trees[i].built && f.trees[i].refOK {
			return true
		}
	}
	return false
}

// scoreTree walks to the terminal node for p: the leaf, or the first node
// whose reference mass is too small to keep splitting meaningfully.
func (f *Forest) scoreTree(t *tree, p []float64) float64 {
	sp := t.splits[t.active]
	idx, depth := 0, 0
	for depth < f.height && t.ref[idx] >= f.sizeLimit {
		s := sp[idx]
		if p[s.feature] < s.threshold {
			idx = 2*idx + 1
		} else {
			idx = 2*idx + 2
		}
		depth++
	}
	v := t.ref[idx] * float64(int64(1)<<uint(depth)) / float64(f.window)
	if v > 1 {
		return 1
	}
	return v
}

// insert adds mass along p's root-to-leaf path in the current window.
func (f *Forest) insert(t *tree, p []float64) {
	sp := t.splits[t.active]
	idx, depth := 0, 0
	for {
		t.cur[idx]++
		if depth == f.height {
			return
		}
		s := sp[idx]
		if p[s.feature] < s.threshold {
			idx = 2*idx + 1
		} else {
			idx = 2*idx + 2
		}
		depth++
	}
}

// boundary handles a tree reaching the end of its window: first draw of
// the structure, periodic redraw from freshly observed ranges, or the
// promotion of the current window to reference.
func (f *Forest) boundary(t *tree) {
	t.count = 0

	if !t.built {
		f.drawSplits(t, t.splits[t.active])
		t.built = true
		t.windows = 0
		resetRanges(t)
		return
	}

	t.windows++
	if t.windows >= f.rebuildEvery {
		inactive := 1 - t.active
		f.drawSplits(t, t.splits[inactive])
		t.active = inactive
		zero(t.ref)
		zero(t.cur)
		t.refOK = false
		t.windows = 0
		resetRanges(t)
		return
	}

	t.ref, t.cur = t.cur, t.ref
	zero(t.cur)
	t.refOK = true
}

// drawSplits fills an arena with random splits over the ranges the tree
// observed since its last draw. Features never observed fall back to the
// unit interval.
func (f *Forest) drawSplits(t *tree, dst []split) {
	for i := range dst {
		feat := f.rng.Intn(f.dim)
		lo, hi := t.lo[feat], t.hi[feat]
		var thr float64
		switch {
		case lo > hi:
			thr = f.rng.Float64()
		case lo == hi:
			thr = lo
		default:
			thr = lo + f.rng.Float64()*(hi-lo)
		}
		dst[i] = split{feature: feat, threshold: thr}
	}
}

func resetRanges(t *tree) {
	for d := range t.lo {
		t.lo[d] = 1e308
		t.hi[d] = -1e308
	}
}

func zero(m []float64) {
	for i := range m {
		m[i] = 0
	}
}
