package viewer

// State is a viewer session lifecycle state.
type State string

const (
	StateOpening             State = "opening"
	StateIdle                State = "idle"
	StateTransitionRequested State = "transition_requested"
	StateAnimating           State = "animating"
	StateCommittingScene     State = "committing_scene"
	StateSceneLoadFailed     State = "scene_load_failed"
	StateEmpty               State = "empty"
	StateClosed              State = "closed"
)

// InFlight reports whether a transition is under way.
func (s State) InFlight() bool {
	return s == StateTransitionRequested || s == StateAnimating || s == StateCommittingScene
}

// EventKind is a state machine input.
type EventKind string

const (
	EvNavigate      EventKind = "navigate"
	EvEmptyTour     EventKind = "empty_tour"
	EvAnimate       EventKind = "animate"
	EvSkipAnimation EventKind = "skip_animation"
	EvAnimationDone EventKind = "animation_done"
	EvCommitted     EventKind = "committed"
	EvLoadFailed    EventKind = "load_failed"
	EvRecover       EventKind = "recover"
	EvRetry         EventKind = "retry"
	EvAbort         EventKind = "abort"
	EvClose         EventKind = "close"
)

// Transition is a single allowed edge in the session state machine.
type Transition struct {
	From  State
	To    State
	Event EventKind
}

var transitionsTable = []Transition{
	// Opening
	{From: StateOpening, To: StateTransitionRequested, Event: EvNavigate},
	{From: StateOpening, To: StateEmpty, Event: EvEmptyTour},

	// Navigation path
	{From: StateIdle, To: StateTransitionRequested, Event: EvNavigate},
	{From: StateTransitionRequested, To: StateAnimating, Event: EvAnimate},
	{From: StateTransitionRequested, To: StateCommittingScene, Event: EvSkipAnimation},
	{From: StateAnimating, To: StateCommittingScene, Event: EvAnimationDone},
	{From: StateCommittingScene, To: StateIdle, Event: EvCommitted},

	// Load failures surface before the animation starts or while committing.
	{From: StateTransitionRequested, To: StateSceneLoadFailed, Event: EvLoadFailed},
	{From: StateCommittingScene, To: StateSceneLoadFailed, Event: EvLoadFailed},
	{From: StateSceneLoadFailed, To: StateIdle, Event: EvRecover},
	{From: StateSceneLoadFailed, To: StateTransitionRequested, Event: EvRetry},

	// Live edits that invalidate the target
	{From: StateTransitionRequested, To: StateIdle, Event: EvAbort},
	{From: StateAnimating, To: StateIdle, Event: EvAbort},
	{From: StateCommittingScene, To: StateIdle, Event: EvAbort},

	// Teardown
	{From: StateOpening, To: StateClosed, Event: EvClose},
	{From: StateIdle, To: StateClosed, Event: EvClose},
	{From: StateTransitionRequested, To: StateClosed, Event: EvClose},
	{From: StateAnimating, To: StateClosed, Event: EvClose},
	{From: StateCommittingScene, To: StateClosed, Event: EvClose},
	{From: StateSceneLoadFailed, To: StateClosed, Event: EvClose},
	{From: StateEmpty, To: StateClosed, Event: EvClose},
}

// TransitionFor returns the allowed transition for a given state+event.
func TransitionFor(from State, ev EventKind) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}
