// Package predict implements the online headway regressor. It learns one
// observation at a time under a margin-insensitive hinge loss, so a single
// pass over the stream is all it ever needs.
package predict

import "math"

// Regressor is a passive-aggressive linear model over a fixed-dimension
// feature vector. Updates are bounded per step, so one wild observation
// cannot throw the weights far from the current fit.
type Regressor struct {
	epsilon float64
	reg     float64
	maxStep float64
	w       []float64
}

// New builds a regressor with zeroed weights for dim features.
func New(dim int, opts ...Option) *Regressor {
	if dim < 1 {
		dim = 1
	}
	r := &Regressor{
		epsilon: defaultEpsilon,
		reg:     defaultRegularization,
		maxStep: defaultMaxStep,
		w:       make([]float64, dim),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Predict returns the current estimate for x. A freshly built or reset
// model predicts 0.
func (r *Regressor) Predict(x []float64) float64 {
	pred := 0.0
	for i := 0; i < len(r.w) && i < len(x); i++ {
		pred += r.w[i] * x[i]
	}
	return pred
}

// Update folds one (x, y) pair into the weights. It reports false and
// leaves the model untouched when the inputs are non-finite or the update
// would produce non-finite weights; such rejections must never poison the
// model for later observations.
func (r *Regressor) Update(x []float64, y float64) bool {
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return false
	}
	for _, xi := range x {
		if math.IsNaN(xi) || math.IsInf(xi, 0) {
			return false
		}
	}

	pred := r.Predict(x)
	loss := math.Abs(y-pred) - r.epsilon
	if loss <= 0 {
		return true
	}

	normSq := 0.0
	for _, xi := range x {
		normSq += xi * xi
	}
	if normSq == 0 {
		return true
	}

	step := loss / (normSq + r.reg)
	if step > r.maxStep {
		step = r.maxStep
	}
	if y < pred {
		step = -step
	}

	for i := 0; i < len(r.w) && i < len(x); i++ {
		nw := r.w[i] + step*x[i]
		if math.IsNaN(nw) || math.IsInf(nw, 0) {
			return false
		}
	}
	for i := 0; i < len(r.w) && i < len(x); i++ {
		r.w[i] += step * x[i]
	}
	return true
}

// Reset zeroes the weights, returning the model to its untrained state.
func (r *Regressor) Reset() {
	for i := range r.w {
		r.w[i] = 0
	}
}

// Weights returns a copy of the current weight vector.
func (r *Regressor) Weights() []float64 {
	w := make([]float64, len(r.w))
	copy(w, r.w)
	return w
}

// Snapshot is the serializable state of a Regressor.
type Snapshot struct {
	Epsilon        float64
	Regularization float64
	MaxStep        float64
	Weights        []float64
}

// Snapshot captures the model for persistence.
func (r *Regressor) Snapshot() Snapshot {
	return Snapshot{
		Epsilon:        r.epsilon,
		Regularization: r.reg,
		MaxStep:        r.maxStep,
		Weights:        r.Weights(),
	}
}

// Restore rebuilds a regressor from a snapshot.
func Restore(snap Snapshot) *Regressor {
	r := New(len(snap.Weights),
		WithEpsilon(snap.Epsilon),
		WithRegularization(snap.Regularization),
		WithMaxStep(snap.MaxStep),
	)
	copy(r.w, snap.Weights)
	return r
}
