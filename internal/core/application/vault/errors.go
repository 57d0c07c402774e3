package vault

import "errors"

var (
	// ErrNullStoreOpener specifies that a secure store opener is required.
	ErrNullStoreOpener = errors.New("store opener must not be null")
	// ErrNullKeyStore specifies that a key store is required.
	ErrNullKeyStore = errors.New("key store must not be null")
	// ErrUnlockFailed is returned when none of the supported encryption
	// schemes can open the vault.
	ErrUnlockFailed = errors.New("failed to unlock vault with any known key")
)
