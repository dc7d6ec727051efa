package repository

import "errors"

// Sentinel kinds for read-model errors.
var (
	ErrInvalidLimit  = errors.New("invalid row limit")
	ErrInvalidWindow = errors.New("invalid query window")
)
