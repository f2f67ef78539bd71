package audience

import (
	"fmt"
	"net/http"

	"github.com/juju/errors"
)

// Problem titles the service returns that callers treat as no-ops.
const (
	TitleMemberExists     = "Member Exists"
	TitleMethodNotAllowed = "Method Not Allowed"
)

// APIError is an error response body (RFC 7807 problem details).
type APIError struct {
	Status   int    `json:"status"`
	Type     string `json:"type,omitempty"`
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("mailchimp: %d %s", e.Status, e.Title)
	}
	return fmt.Sprintf("mailchimp: %d %s: %s", e.Status, e.Title, e.Detail)
}

// Unwrap maps the response onto an error kind.
func (e *APIError) Unwrap() error {
	switch {
	case e.Title == TitleMemberExists:
		return errors.AlreadyExists
	case e.Status == http.StatusNotFound:
		return errors.NotFound
	case e.Status == http.StatusMethodNotAllowed, e.Title == TitleMethodNotAllowed:
		return errors.MethodNotAllowed
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool { return errors.Is(err, errors.NotFound) }

// IsMemberExists reports whether an add failed because the member exists.
func IsMemberExists(err error) bool { return errors.Is(err, errors.AlreadyExists) }

// IsMethodNotAllowed reports whether the member is already gone.
func IsMethodNotAllowed(err error) bool { return errors.Is(err, errors.MethodNotAllowed) }
