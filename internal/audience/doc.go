// Package audience is a client for the Mailchimp Marketing API v3 audience
// (list) member endpoints.
//
// Members are addressed by subscriber hash (see package identity). Error
// responses decode into *APIError, which unwraps to a juju/errors kind so
// callers classify failures with errors.Is:
//
//	404                         errors.NotFound
//	title "Member Exists"       errors.AlreadyExists
//	405 or "Method Not Allowed" errors.MethodNotAllowed
package audience
