package prober

import (
	"errors"
	"fmt"
)

var (
	ErrPingTimeout      = errors.New("ping timed out")
	ErrUnexpectedStatus = errors.New("unexpected status code")
)

// PingError reports a failed ping sequence against one target.
type PingError struct {
	Target string
	Method string
	Err    error
}

func (e *PingError) Error() string {
	return fmt.Sprintf("%s ping to %s failed: %v", e.Method, e.Target, e.Err)
}

func (e *PingError) Unwrap() error { return e.Err }

// TransferError reports a failed transfer of one URL. The URL is exactly the
// one that was passed in, so callers can map it back to its server.
type TransferError struct {
	URL string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %s failed: %v", e.URL, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
