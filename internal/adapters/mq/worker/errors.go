package worker

import "errors"

// ErrShutdownTimeout reports that lanes were still draining when the
// shutdown deadline passed.
var ErrShutdownTimeout = errors.New("worker pool shutdown timed out")
