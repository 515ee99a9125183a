package relay

import "errors"

var (
	// ErrSourceUnavailable means no playable source exists in the source context.
	ErrSourceUnavailable = errors.New("no source")
	// ErrCaptureFailed means a source exists but capturing from it failed.
	ErrCaptureFailed = errors.New("capture failed")
	// ErrOriginRejected means a page message failed the origin or window check.
	ErrOriginRejected = errors.New("origin rejected")
	// ErrRouteUnresolved means the coordinator knows no destination for a request.
	ErrRouteUnresolved = errors.New("route unresolved")
	// ErrUnknownKind means a message kind is not part of the relay vocabulary.
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrRequestTimeout means no reply arrived for a pending request in time.
	ErrRequestTimeout = errors.New("request timed out")

	ErrPortClosed = errors.New("port closed")
	ErrPortFull   = errors.New("port buffer full")
)

// ErrorCode is the wire form of an error carried by an ErrorReport.
type ErrorCode string

const (
	CodeSourceUnavailable ErrorCode = "source_unavailable"
	CodeCaptureFailed     ErrorCode = "capture_failed"
	CodeRouteUnresolved   ErrorCode = "route_unresolved"
	CodeTimeout           ErrorCode = "timeout"
	CodeInternal          ErrorCode = "internal"
)

// Err maps a code to its sentinel error.
func (c ErrorCode) Err() error {
	switch c {
	case CodeSourceUnavailable:
		return ErrSourceUnavailable
	case CodeCaptureFailed:
		return ErrCaptureFailed
	case CodeRouteUnresolved:
		return ErrRouteUnresolved
	case CodeTimeout:
		return ErrRequestTimeout
	default:
		return errors.New(string(c))
	}
}

// CodeOf maps err to the code used when reporting it across a context boundary.
func CodeOf(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrSourceUnavailable):
		return CodeSourceUnavailable
	case errors.Is(err, ErrCaptureFailed):
		return CodeCaptureFailed
	case errors.Is(err, ErrRouteUnresolved):
		return CodeRouteUnresolved
	case errors.Is(err, ErrRequestTimeout):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// Report converts err into an ErrorReport for request id.
func Report(id string, err error) ErrorReport {
	return ErrorReport{ID: id, Code: CodeOf(err), Message: err.Error()}
}
