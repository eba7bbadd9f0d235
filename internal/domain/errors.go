package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated signals that no valid token exists for the
	// requested connection and user; the caller must re-authorize.
	ErrNotAuthenticated = errors.New("bitrix24: not authenticated")
	// ErrRefreshFailed wraps a failed token refresh. The token has been
	// deactivated and its cache entry invalidated.
	ErrRefreshFailed = errors.New("bitrix24: token refresh failed")
	// ErrExchangeFailed indicates the authorization-code exchange was
	// rejected by the provider; no token was persisted.
	ErrExchangeFailed = errors.New("bitrix24: code exchange failed")
	// ErrConnectionNotFound signals an unknown connection name.
	ErrConnectionNotFound = errors.New("bitrix24: connection not found")
)

// APIError is a Bitrix24 REST error envelope tied to the method that
// produced it.
type APIError struct {
	Method      string
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("bitrix24 api error [%s]: %s (code: %s)", e.Method, e.Description, e.Code)
	}
	return fmt.Sprintf("bitrix24 api error [%s]: %s", e.Method, e.Code)
}

// TransportError wraps a failed HTTP round trip to Bitrix24 with the method
// being called for diagnosis.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bitrix24 transport error [%s]: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
