package session

import "errors"

var (
	// ErrNullEngine specifies that a wallet engine is required.
	ErrNullEngine = errors.New("wallet engine must not be null")
	// ErrInvalidMnemonic is returned when the seed phrase fails checksum
	// validation. This error is never retried.
	ErrInvalidMnemonic = errors.New("invalid mnemonic phrase")
	// ErrNotConnected is returned when an operation requiring a live engine
	// handle is attempted while disconnected.
	ErrNotConnected = errors.New("wallet engine is not connected")
)
