package ami

import (
	"errors"
	"net"
)

// Classification buckets client failures into stable labels for logs and
// metrics. ClassRejected is never produced by Classify because a remote
// rejection arrives as a successful exchange; callers apply it when
// Result.Rejected reports true.
type Classification string

const (
	ClassOK           Classification = "ok"
	ClassConnection   Classification = "connection"
	ClassAuth         Classification = "auth"
	ClassTimeout      Classification = "timeout"
	ClassTruncated    Classification = "truncated"
	ClassFraming      Classification = "framing"
	ClassRejected     Classification = "rejected"
	ClassPrecondition Classification = "precondition"
)

// Classify maps any error surfaced by this package to its failure bucket.
func Classify(err error) Classification {
	switch {
	case err == nil:
		return ClassOK
	case errors.Is(err, ErrLoginFailed):
		return ClassAuth
	case errors.Is(err, ErrConnect):
		return ClassConnection
	case errors.Is(err, ErrTimeout):
		return ClassTimeout
	case errors.Is(err, ErrTruncated), errors.Is(err, ErrEndOfStream):
		return ClassTruncated
	case errors.Is(err, ErrFraming), errors.Is(err, ErrLineTooLong), errors.Is(err, ErrBlockTooLarge):
		return ClassFraming
	case errors.Is(err, ErrNotAuthenticated),
		errors.Is(err, ErrClosed),
		errors.Is(err, ErrDesynchronized),
		errors.Is(err, ErrRelogin),
		errors.Is(err, ErrCredentialsRequired),
		errors.Is(err, ErrAddressRequired),
		errors.Is(err, ErrActionRequired),
		errors.Is(err, ErrFieldInvalid):
		return ClassPrecondition
	default:
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return ClassTimeout
		}
		return ClassConnection
	}
}
