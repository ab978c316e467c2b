package taskgraph

import (
	"errors"
	"fmt"
)

// Debug enables contract-violation assertions that are otherwise
// undefined behavior (multiple unconsumed bypass schedules, observer
// install/remove while runs are in flight). Off by
// default, matching the ambiguity the source leaves around observer
// install/remove races (see DESIGN.md, Open Question 1).
var Debug = false

// Configuration errors (fatal at construction).
var (
	ErrZeroWorkers = errors.New("taskgraph: domain requires at least one worker")
)

// Contract violations (programming errors). ErrCacheOccupied and
// ErrObserverBusy are asserted only when Debug is set; ErrForeignSteal is
// raised whenever a GPU-flow node is dispatched on a worker of another
// domain, whatever Debug says.
var (
	ErrCacheOccupied = errors.New("taskgraph: bypass cache slot already occupied")
	ErrForeignSteal  = errors.New("taskgraph: steal attempted on a deque not owned by caller")
	ErrObserverBusy  = errors.New("taskgraph: observer installed/removed while runs are in flight")
)

// TaskError wraps the first user-callable failure observed while running
// a topology. The runtime makes no guarantee about the state of other
// in-flight work once a TaskError is recorded; it is surfaced via the
// completion Future.
type TaskError struct {
	NodeName string
	Domain   Domain
	Panic    any
	Stack    []byte
}

func (e *TaskError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("taskgraph: node %q (%s) panicked: %v", e.NodeName, e.Domain, e.Panic)
	}
	return fmt.Sprintf("taskgraph: node %q (%s) failed", e.NodeName, e.Domain)
}

// Unwrap supports errors.Is/As against a wrapped underlying error when
// Panic itself is an error value.
func (e *TaskError) Unwrap() error {
	if err, ok := e.Panic.(error); ok {
		return err
	}
	return nil
}
