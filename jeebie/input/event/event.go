package event

import "github.com/valerio/go-jeebie/jeebie/input/action"

// Type represents the type of input event
type Type int

const (
	Press   Type = iota // Button pressed down (debounced)
	Release             // Button released (debounced)
	Hold                // Continuous while pressed (not debounced)
)

// InputEvent pairs an action with the event type that triggered it.
type InputEvent struct {
	Action action.Action
	Type   Type
}
