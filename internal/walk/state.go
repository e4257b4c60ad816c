package walk

import "errors"

// State is the controller lifecycle position.
type State int

const (
	Idle State = iota
	Starting
	Active
	Ending
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Starting:
		return "STARTING"
	case Active:
		return "ACTIVE"
	case Ending:
		return "ENDING"
	case Ended:
		return "ENDED"
	}
	return "UNKNOWN"
}

var (
	ErrNotIdle            = errors.New("walk: a session is already starting or active")
	ErrNotActive          = errors.New("walk: no active session")
	ErrAlreadyEnded       = errors.New("walk: session already ended")
	ErrNotEnded           = errors.New("walk: reset requires an ended session")
	ErrInvalidReason      = errors.New("walk: unknown end reason")
	ErrInvalidStart       = errors.New("walk: invalid start request")
	ErrEndNotAcknowledged = errors.New("walk: server did not acknowledge end")
)
