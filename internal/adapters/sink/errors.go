package sink

import "errors"

// Sentinel kinds for sink errors.
var (
	ErrOpen   = errors.New("sink open failed")
	ErrWrite  = errors.New("sink write failed")
	ErrClosed = errors.New("sink closed")
)
