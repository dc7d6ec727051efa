package drift

const (
	defaultDelta     = 0.002
	defaultMinWindow = 32
)

// Option configures a Detector.
type Option func(*Detector)

// WithDelta sets the detection confidence. Must lie in (0,1); smaller
// means fewer false alarms and slower detection.
func WithDelta(delta float64) Option {
	return func(d *Detector) {
		if delta > 0 && delta < 1 {
			d.delta = delta
		}
	}
}

// WithMinWindow sets how many observations must accumulate before any cut
// is considered.
func WithMinWindow(n int) Option {
	return func(d *Detector) {
		if n >= 8 {
			d.minWindow = n
		}
	}
}
