// Package common contains sentinel errors shared across the sync core.
package common

import "errors"

var (

	// repository/service errors
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")
	ErrorInvalidState  = errors.New("invalid state")

	// auth errors
	ErrorUnauthenticated = errors.New("not authenticated")
	ErrorForbidden       = errors.New("forbidden")

	// remote store errors
	ErrorRemoteUnavailable = errors.New("remote store unavailable")

	// document decoding errors
	ErrorDecode = errors.New("document decode error")
)
