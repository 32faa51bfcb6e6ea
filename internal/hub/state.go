package hub

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
)

var ErrInvalidTransition = errors.New("invalid connection state transition")

// ConnState is the lifecycle of a single transport connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateClosed
)

// allowed transitions; Closed is terminal
var transitions = map[ConnState][]ConnState{
	StateConnecting:    {StateAuthenticated, StateClosed},
	StateAuthenticated: {StateClosed},
}

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// CanTransition reports whether moving from s to next is legal.
func (s ConnState) CanTransition(next ConnState) bool {
	return lo.Contains(transitions[s], next)
}

func checkTransition(from, to ConnState) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
