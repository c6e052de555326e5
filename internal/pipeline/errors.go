package pipeline

import (
	"errors"
	"fmt"

	"edugate/internal/domain"
)

var (
	// ErrAuthExpired means a protected call got a 401 the pipeline could not
	// recover from; the session has been force-logged-out.
	ErrAuthExpired = errors.New("session expired")

	// ErrRefreshFailed means the refresh endpoint rejected us or returned an
	// unusable response; fatal to the session.
	ErrRefreshFailed = errors.New("credential refresh failed")

	// ErrNetworkUnreachable means the request never received a response.
	// Local failure; the caller may retry, the pipeline will not.
	ErrNetworkUnreachable = errors.New("cannot reach server")
)

// RoleMismatchError reports a request cancelled before dispatch because the
// decoded role claim does not match the path's requirement. It is a
// cancellation, not a server error: nothing reached the wire and no user
// alert is raised.
type RoleMismatchError struct {
	Path     string
	Required domain.Role
	Actual   domain.Role
}

func (e *RoleMismatchError) Error() string {
	return fmt.Sprintf("request to %s cancelled: requires role %s, session has %q", e.Path, e.Required, e.Actual)
}

// AuthInvalidError is a 401 from the login or refresh endpoint itself. The
// retry chain ends here; no refresh or logout is attempted.
type AuthInvalidError struct {
	Message string
}

func (e *AuthInvalidError) Error() string {
	return "authentication rejected: " + e.Message
}

// APIError is a structured >=400 response from any other endpoint.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}
