package adguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/edvin/revive/internal/model"
)

// Error is a failed call to the engine API.
type Error struct {
	Kind   model.FailureKind
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": " + string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf classifies err. Errors that are not engine errors are treated as
// unreachable engine, the conservative transient choice.
func KindOf(err error) model.FailureKind {
	if err == nil {
		return model.FailureNone
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.FailureConvergenceTimeout
	}
	return model.FailureEngineUnreachable
}

func kindForStatus(status int) model.FailureKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return model.FailureEngineAuth
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return model.FailureEngineUnreachable
	default:
		return model.FailureEngineRejected
	}
}

func kindForTransport(err error) model.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.FailureConvergenceTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return model.FailureConvergenceTimeout
	}
	return model.FailureEngineUnreachable
}
