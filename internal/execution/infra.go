package execution

import "errors"

// infraError marks a failure of the engine's own collaborators, the event log
// or the scheduler, as opposed to an error returned by workflow code. An
// attempt that hits one is not classified as a workflow failure; its trigger
// task is left unacknowledged so the lease redelivers it.
type infraError struct {
	cause error
}

func (e *infraError) Error() string { return "infrastructure: " + e.cause.Error() }

func (e *infraError) Unwrap() error { return e.cause }

func infra(err error) error {
	if err == nil {
		return nil
	}
	return &infraError{cause: err}
}

func isInfra(err error) bool {
	var ie *infraError
	return errors.As(err, &ie)
}
