package zinguo

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthFailed means the cloud rejected the credentials or returned a
	// malformed login response. It does not heal without reconfiguration.
	ErrAuthFailed = errors.New("zinguo authentication failed")

	// ErrDeviceNotFound means the configured MAC is absent from the device list.
	ErrDeviceNotFound = errors.New("zinguo device not found")

	// ErrCommandFailed is wrapped by every CommandError.
	ErrCommandFailed = errors.New("zinguo command failed")

	// ErrClosed is returned once the coordinator has been shut down.
	ErrClosed = errors.New("zinguo coordinator closed")

	// errUnauthorized marks a 401 from a data endpoint (expired token).
	errUnauthorized = errors.New("zinguo token rejected")
)

// ErrorKind is the closed set of failure classes surfaced by the coordinator.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuthFailed
	KindTransient
	KindDeviceNotFound
	KindCommandFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthFailed:
		return "auth_failed"
	case KindTransient:
		return "transient"
	case KindDeviceNotFound:
		return "device_not_found"
	case KindCommandFailed:
		return "command_failed"
	default:
		return "unknown"
	}
}

// TransientError covers network failures, timeouts and unexpected statuses.
// The next scheduled poll retries; nothing loops on it.
type TransientError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("zinguo %s http %d: %s", e.Op, e.Status, strings.TrimSpace(e.Body))
	}
	return fmt.Sprintf("zinguo %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// CommandError is returned by Send when the control endpoint refuses a write.
type CommandError struct {
	Status int
	Body   string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("zinguo control failed: %v", e.Err)
	}
	return fmt.Sprintf("zinguo control http %d: %s", e.Status, strings.TrimSpace(e.Body))
}

func (e *CommandError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCommandFailed, e.Err}
	}
	return []error{ErrCommandFailed}
}

// Kind classifies err into one of the coordinator's failure classes.
func Kind(err error) ErrorKind {
	var transient *TransientError
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrAuthFailed):
		return KindAuthFailed
	case errors.Is(err, ErrCommandFailed):
		return KindCommandFailed
	case errors.Is(err, ErrDeviceNotFound):
		return KindDeviceNotFound
	case errors.As(err, &transient),
		errors.Is(err, errUnauthorized),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindUnknown
	}
}

// IsTerminal reports whether err requires new credentials before retrying helps.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrAuthFailed)
}
