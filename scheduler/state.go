package scheduler

// State is the lifecycle stage of a Scheduler.
type State int32

const (
	// Passthrough relays every event as soon as it is intercepted. The
	// scheduler starts here and stays until the cluster is observed stable.
	Passthrough State = iota
	// Scheduling applies the installed schedule to consensus messages.
	Scheduling
	// Draining delivers every held event and admits no new holds.
	Draining
	// Stopped accepts no further submissions.
	Stopped
)

func (s State) String() string {
	switch s {
	case Passthrough:
		return "passthrough"
	case Scheduling:
		return "scheduling"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
