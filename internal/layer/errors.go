package layer

import (
	"fmt"
)

// ShapeError reports an input whose rank or feature count does not
// match what the layer was built for. Got and Want both appear in the
// message so the caller can see the actual and the expected size.
type ShapeError struct {
	Got  string
	Want string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("layer: shape mismatch: got %s, expected %s", e.Got, e.Want)
}

// StateError reports a gradient call issued before any training-mode
// forward pass cached the batch statistics it needs.
type StateError struct {
	Op string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("layer: %s called before any training forward pass", e.Op)
}
