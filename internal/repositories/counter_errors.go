package repositories

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCounter matches every CounterError.
var ErrInvalidCounter = errors.New("counter: invalid increment")

// CounterError reports an increment rejected before it reached a backend.
type CounterError struct {
	CounterID string
	Step      int64
	Reason    string
}

func (e *CounterError) Error() string {
	return fmt.Sprintf("counter %q step %d: %s", e.CounterID, e.Step, e.Reason)
}

func (e *CounterError) Is(target error) bool { return target == ErrInvalidCounter }

// NormalizeIncrement validates a CounterRepository.Next call for every backend. Ids become
// document keys so they may not contain a slash. A zero step means one; sequences never move
// backwards, so negative steps are rejected.
func NormalizeIncrement(counterID string, step int64) (string, int64, error) {
	id := strings.TrimSpace(counterID)
	switch {
	case id == "":
		return "", 0, &CounterError{CounterID: counterID, Step: step, Reason: "counter id is required"}
	case strings.Contains(id, "/"):
		return "", 0, &CounterError{CounterID: id, Step: step, Reason: "counter id must not contain '/'"}
	case step < 0:
		return "", 0, &CounterError{CounterID: id, Step: step, Reason: "step must not be negative"}
	case step == 0:
		step = 1
	}
	return id, step, nil
}
