package model

import "github.com/rotisserie/eris"

var (
	// ErrNotFound is returned by stores when the requested row does
	// not exist.
	ErrNotFound = eris.New("model: not found")

	// ErrConflict is returned by SaveProfile when the stored version
	// no longer matches the version the caller read.
	ErrConflict = eris.New("model: concurrent write conflict")

	// ErrExtractionUnavailable marks a transient extraction failure;
	// the message that triggered it is handled without observations.
	ErrExtractionUnavailable = eris.New("model: extraction unavailable")
)
