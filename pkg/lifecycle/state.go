// Package lifecycle runs the gateway's long-lived components in order and
// tracks the service through a small state machine.
//
// The flow for a healthy gateway is:
//
//	Unknown → Starting → Running → Draining → Stopping → Stopped
//
// Draining keeps serving in-flight requests while readiness reports false,
// so load balancers stop routing new traffic before shutdown. Any
// non-terminal state may move to Failed, and both terminal states may move
// back to Starting.
//
// Lifecycle operations create OpenTelemetry spans under the scope
// "github.com/StricklySoft/stricklysoft-gateway/pkg/lifecycle".
package lifecycle

// State is the lifecycle state of a [Service].
//
// The zero value ("") is not a valid state; services start in
// [StateUnknown].
type State string

const (
	// StateUnknown is the state of a service that has never been started.
	StateUnknown State = "unknown"

	// StateStarting is set while components start.
	StateStarting State = "starting"

	// StateRunning is the only state in which [Service.Ready] is true.
	StateRunning State = "running"

	// StateDraining keeps components up but reports not ready.
	StateDraining State = "draining"

	// StateStopping is set while components stop.
	StateStopping State = "stopping"

	// StateStopped follows a clean shutdown.
	StateStopped State = "stopped"

	// StateFailed follows a component or hook failure.
	StateFailed State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Valid reports whether s is a recognized state.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateStarting, StateRunning, StateDraining,
		StateStopping, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is [StateStopped] or [StateFailed].
func (s State) IsTerminal() bool {
	switch s {
	case StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// validTransitions is the transition matrix:
//
//	Unknown  → Starting, Failed
//	Starting → Running, Failed, Stopping
//	Running  → Draining, Stopping, Failed
//	Draining → Running, Stopping, Failed
//	Stopping → Stopped, Failed
//	Stopped  → Starting
//	Failed   → Starting
var validTransitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateFailed, StateStopping},
	StateRunning:  {StateDraining, StateStopping, StateFailed},
	StateDraining: {StateRunning, StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether from may move to to. Same-state
// transitions are rejected.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
