package lnaddress

import "errors"

var (
	// ErrNullSession specifies that a wallet session is required.
	ErrNullSession = errors.New("wallet session must not be null")
	// ErrMissingBaseURL specifies that the registrar base URL is required.
	ErrMissingBaseURL = errors.New("registrar base url must not be null")
	// ErrUsernameConflict is returned when the requested username is held by
	// another wallet.
	ErrUsernameConflict = errors.New("username is already taken")
)
