package graph

import (
	"errors"
	"fmt"
)

// FunctionID identifies a function across every binary of an evaluation.
// IDs are global, not per binary.
type FunctionID int64

// BinarySide tells which binary of a two-binary comparison a function belongs to.
type BinarySide string

const (
	SideQuery  BinarySide = "query"
	SideTarget BinarySide = "target"
)

// Other returns the opposite side.
func (s BinarySide) Other() BinarySide {
	if s == SideQuery {
		return SideTarget
	}
	return SideQuery
}

// Function is the call graph node payload. Only ID takes part in matching;
// the rest is diagnostic.
type Function struct {
	ID      FunctionID `json:"id"`
	Name    string     `json:"name,omitempty"`
	Size    uint64     `json:"size,omitempty"`
	Address uint64     `json:"address,omitempty"`
}

var (
	// ErrMissingEdge is matched by every *MissingEdgeError.
	ErrMissingEdge = errors.New("missing similarity edge")

	// ErrUnknownFunction is returned for call graph queries on absent nodes.
	ErrUnknownFunction = errors.New("unknown function")

	// ErrInvalidWeight is returned when a NaN or infinite weight is inserted.
	ErrInvalidWeight = errors.New("invalid similarity weight")

	// ErrSelfEdge is returned when an edge would connect a function to itself.
	ErrSelfEdge = errors.New("similarity edge connects a function to itself")
)

// MissingEdgeError reports a similarity lookup for a pair that has no edge.
type MissingEdgeError struct {
	A FunctionID
	B FunctionID
}

func (e *MissingEdgeError) Error() string {
	return fmt.Sprintf("missing similarity edge between %d and %d", e.A, e.B)
}

func (e *MissingEdgeError) Is(target error) bool { return target == ErrMissingEdge }
