package ontong

import (
	"errors"
	"fmt"
)

// Kind classifies a FetchError.
type Kind int

const (
	// KindTransport covers unreachable hosts, timeouts and broken bodies.
	KindTransport Kind = iota + 1
	// KindStatus is a non-2xx HTTP response.
	KindStatus
	// KindDecode is a 2xx response whose body has the wrong shape.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// FetchError is returned by every failing Client call.
type FetchError struct {
	Kind       Kind
	Op         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ontong %s: %s (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ontong %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf returns the Kind of err when it wraps a *FetchError, or 0.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
