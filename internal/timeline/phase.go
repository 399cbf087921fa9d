package timeline

// Phase identifies one step of the render pipeline. Phases always fire in
// declaration order, on a node first and then on its children.
type Phase int

const (
	PhaseBeforeRender Phase = iota
	PhasePropertiesRendered
	PhaseRendering
	PhaseAfterPropertiesRender
	PhaseEndRender
)

// Phases lists every phase in firing order.
var Phases = [...]Phase{
	PhaseBeforeRender,
	PhasePropertiesRendered,
	PhaseRendering,
	PhaseAfterPropertiesRender,
	PhaseEndRender,
}

func (p Phase) String() string {
	switch p {
	case PhaseBeforeRender:
		return "beforeRender"
	case PhasePropertiesRendered:
		return "propertiesRendered"
	case PhaseRendering:
		return "rendering"
	case PhaseAfterPropertiesRender:
		return "afterPropertiesRender"
	case PhaseEndRender:
		return "endRender"
	}
	return "unknownPhase"
}

// State is the lifecycle of a timeline node.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StatePlaying
	StateStopped
	StateComplete
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StateStopped:
		return "stopped"
	case StateComplete:
		return "complete"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknownState"
}
