package engine

import "github.com/headwindml/headwind/internal/domain/sketch"

// calibrator turns an absolute residual into a score in [0,1] by placing
// it against the key's own recent residual distribution. A residual only
// scores high once it clears what this key usually gets wrong by.
type calibrator struct {
	quantiles *sketch.Quantile
	minCount  int64
	smoothing float64
}

func newCalibrator(decay float64, minCount int, smoothing float64) *calibrator {
	return &calibrator{
		quantiles: sketch.NewQuantile(decay),
		minCount:  int64(minCount),
		smoothing: smoothing,
	}
}

// score records the residual first, then rates it. Recording first means
// a lone extreme residual slightly raises the bar it is judged against,
// which keeps the very first residuals from scoring as alarms.
func (c *calibrator) score(absResidual float64) float64 {
	c.quantiles.Observe(absResidual)
	if c.quantiles.Count() < c.minCount {
		return 0
	}
	q90 := c.quantiles.Query(0.90)
	q99 := c.quantiles.Query(0.99)
	return clip01((absResidual - q90) / (q99 - q90 + c.smoothing))
}

func (c *calibrator) reset() {
	c.quantiles.Reset()
}

func (c *calibrator) snapshot() sketch.QuantileSnapshot {
	return c.quantiles.Snapshot()
}

func (c *calibrator) restore(snap sketch.QuantileSnapshot) {
	c.quantiles = sketch.RestoreQuantile(snap)
}
