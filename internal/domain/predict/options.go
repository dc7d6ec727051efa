package predict

const (
	defaultEpsilon        = 1.0
	defaultRegularization = 1.0
	defaultMaxStep        = 50.0
)

// Option configures a Regressor.
type Option func(*Regressor)

// WithEpsilon sets the insensitivity margin in seconds. Residuals inside
// the margin trigger no weight movement.
func WithEpsilon(eps float64) Option {
	return func(r *Regressor) {
		if eps >= 0 {
			r.epsilon = eps
		}
	}
}

// WithRegularization sets the denominator damping of each update step.
func WithRegularization(reg float64) Option {
	return func(r *Regressor) {
		if reg > 0 {
			r.reg = reg
		}
	}
}

// WithMaxStep caps the per-update step size.
func WithMaxStep(maxStep float64) Option {
	return func(r *Regressor) {
		if maxStep > 0 {
			r.maxStep = maxStep
		}
	}
}
