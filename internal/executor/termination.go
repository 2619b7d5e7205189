package executor

import "fmt"

// Termination is the explicit stop condition of a run.
type Termination struct {
	untilQuit bool
	max       int
}

// UntilQuit runs until some cell returns cell.Quit. Combine with Bounded to
// also cap the number of iterations.
func UntilQuit() Termination {
	return Termination{untilQuit: true}
}

// MaxIterations runs at most n iterations. A cell returning cell.Quit still
// ends the run early.
func MaxIterations(n int) Termination {
	return Termination{max: n}
}

// Bounded returns a copy of t that stops after at most n iterations.
func (t Termination) Bounded(n int) Termination {
	t.max = n
	return t
}

// Validate rejects conditions that can never be met or are meaningless.
func (t Termination) Validate() error {
	if t.max < 0 {
		return fmt.Errorf("iteration bound must not be negative, got %d", t.max)
	}
	if !t.untilQuit && t.max == 0 {
		return fmt.Errorf("termination needs an iteration bound or the quit condition")
	}
	return nil
}

// reached reports whether no further iteration may start.
func (t Termination) reached(completed int) bool {
	return t.max > 0 && completed >= t.max
}

func (t Termination) String() string {
	switch {
	case t.untilQuit && t.max > 0:
		return fmt.Sprintf("until quit (max %d iterations)", t.max)
	case t.untilQuit:
		return "until quit"
	default:
		return fmt.Sprintf("%d iterations", t.max)
	}
}
