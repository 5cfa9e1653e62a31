package sshclient

import "fmt"

// ConnectionError reports a failed dial or connect timeout. It carries the
// target so callers can render an actionable message.
type ConnectionError struct {
	Host string
	Port int
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("ssh connection to %s:%d failed: %v", e.Host, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnectionError wraps err with the target that failed.
func NewConnectionError(target Target, err error) *ConnectionError {
	return &ConnectionError{Host: target.Host, Port: target.Port, Err: err}
}
