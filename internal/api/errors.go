package api

import (
	"errors"
	"net/http"

	"audiofetch/internal/auth"
	"audiofetch/internal/media"
	"audiofetch/internal/quota"
)

// Kind groups request failures by where they came from.
type Kind string

const (
	KindInput        Kind = "input"
	KindAuth         Kind = "auth"
	KindQuota        Kind = "quota"
	KindCollaborator Kind = "collaborator"
	KindResource     Kind = "resource"
)

// Client-facing messages.
const (
	msgNoSecret      = "No secret provided"
	msgInvalidSecret = "Invalid secret provided"
	msgNoURL         = "No video URL provided"
	msgUnauthorized  = "Unauthorized"
	msgInvalidToken  = "Invalid or expired token"
	msgRateLimited   = "Rate limit exceeded. Try again later."
)

// RequestError is a classified request failure. Status and Message are what
// the client sees; Err keeps the cause for logs.
type RequestError struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e RequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return http.StatusText(e.Status)
}

func (e RequestError) Unwrap() error {
	return e.Err
}

// ValidationError reports bad caller input.
func ValidationError(message string) RequestError {
	return RequestError{Kind: KindInput, Status: http.StatusBadRequest, Message: message}
}

// ServiceUnavailableError reports a dependency that is not wired or reachable.
func ServiceUnavailableError(message string) RequestError {
	return RequestError{Kind: KindResource, Status: http.StatusServiceUnavailable, Message: message}
}

// classify maps err to the response it produces. It is the only place
// statuses are chosen for collaborator errors.
func classify(err error) RequestError {
	var requestErr RequestError
	if errors.As(err, &requestErr) {
		if requestErr.Status == 0 {
			requestErr.Status = http.StatusInternalServerError
		}
		return requestErr
	}

	if reason, ok := auth.DenialFrom(err); ok {
		if reason == auth.DenialMissing {
			return RequestError{Kind: KindInput, Status: http.StatusBadRequest, Message: msgNoSecret, Err: err}
		}
		return RequestError{Kind: KindAuth, Status: http.StatusForbidden, Message: msgInvalidSecret, Err: err}
	}

	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return RequestError{Kind: KindAuth, Status: http.StatusUnauthorized, Message: msgUnauthorized, Err: err}
	case errors.Is(err, auth.ErrInvalidToken):
		return RequestError{Kind: KindAuth, Status: http.StatusUnauthorized, Message: msgInvalidToken, Err: err}
	case errors.Is(err, quota.ErrStoreUnavailable):
		return RequestError{Kind: KindCollaborator, Status: http.StatusInternalServerError, Message: err.Error(), Err: err}
	}

	var failure *media.Failure
	if errors.As(err, &failure) {
		return RequestError{Kind: KindCollaborator, Status: http.StatusInternalServerError, Message: failure.Error(), Err: err}
	}

	return RequestError{Kind: KindResource, Status: http.StatusInternalServerError, Message: err.Error(), Err: err}
}
