package coord

// Phase is the state of a worker cycling through the ResourceArbiter.
//
//	Idle → Thinking → RequestingAdmission → AcquiringResources → Active → Releasing
//	                ↑                                                        │
//	                └────────────────────────────────────────────────────────┘
//	Releasing → Done after the last cycle (Idle → Done when there are no cycles).
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseThinking
	PhaseRequestingAdmission
	PhaseAcquiringResources
	PhaseActive
	PhaseReleasing
	PhaseDone
)

var phaseNames = [...]string{
	PhaseIdle:                "idle",
	PhaseThinking:            "thinking",
	PhaseRequestingAdmission: "requesting-admission",
	PhaseAcquiringResources:  "acquiring-resources",
	PhaseActive:              "active",
	PhaseReleasing:           "releasing",
	PhaseDone:                "done",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// CanTransition reports whether a worker may move from one phase to the next.
func CanTransition(from, to Phase) bool {
	switch from {
	case PhaseIdle:
		return to == PhaseThinking || to == PhaseDone
	case PhaseThinking:
		return to == PhaseRequestingAdmission
	case PhaseRequestingAdmission:
		return to == PhaseAcquiringResources
	case PhaseAcquiringResources:
		return to == PhaseActive
	case PhaseActive:
		return to == PhaseReleasing
	case PhaseReleasing:
		return to == PhaseThinking || to == PhaseDone
	}
	return false
}

// Observer receives every phase change of every worker. Implementations are
// called from the worker goroutine and must be safe for concurrent use.
type Observer interface {
	OnPhase(worker int, phase Phase)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(worker int, phase Phase)

func (f ObserverFunc) OnPhase(worker int, phase Phase) { f(worker, phase) }
