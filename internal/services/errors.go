// Package services defines the business logic for account onboarding and
// inbound message relay. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/controller layer.
package services

import "errors"

// Onboarding-related errors.
var (
	// ErrEmptyCode is returned when the OAuth callback is invoked without an
	// authorization code.
	ErrEmptyCode = errors.New("authorization code is empty")
)
