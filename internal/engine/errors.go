// Package engine errors.
package engine

import "errors"

var (
	// ErrNoCheckpoint indicates no checkpoint file exists at the path.
	ErrNoCheckpoint = errors.New("checkpoint file not found")

	// ErrCheckpointCorrupt indicates the checkpoint could not be decoded.
	ErrCheckpointCorrupt = errors.New("checkpoint data corrupt")

	// ErrCheckpointWrite indicates the checkpoint could not be persisted.
	ErrCheckpointWrite = errors.New("checkpoint write failed")
)
