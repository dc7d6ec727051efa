package forest

const (
	defaultTrees        = 8
	defaultHeight       = 6
	defaultWindow       = 256
	defaultRebuildEvery = 4
	defaultSeed         = 1

	maxHeight = 20
)

type options struct {
	trees int
	seed  int64
}

// Option configures a Forest.
type Option func(*options, *Forest)

// WithTrees sets the ensemble size.
func WithTrees(n int) Option {
	return func(o *options, _ *Forest) {
		if n >= 1 {
			o.trees = n
		}
	}
}

// WithHeight sets the depth of every tree. Heights are clamped to keep
// the implicit node arena small.
func WithHeight(h int) Option {
	return func(_ *options, f *Forest) {
		if h >= 1 && h <= maxHeight {
			f.height = h
		}
	}
}

// WithWindow sets how many observations make up one mass window.
func WithWindow(w int) Option {
	return func(_ *options, f *Forest) {
		if w >= 8 {
			f.window = w
		}
	}
}

// WithRebuildEvery sets how many completed windows a structure serves
// before its splits are redrawn from fresh ranges.
func WithRebuildEvery(n int) Option {
	return func(_ *options, f *Forest) {
		if n >= 1 {
			f.rebuildEvery = n
		}
	}
}

// WithSeed fixes the random source so a stream replays identically.
func WithSeed(seed int64) Option {
	return func(o *options, _ *Forest) {
		o.seed = seed
	}
}
