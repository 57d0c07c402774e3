package wallet

import "errors"

var (
	// ErrNoWalletFound is returned when unlocking a user without a saved
	// mnemonic.
	ErrNoWalletFound = errors.New("no saved wallet found")
	// ErrInvalidMnemonic is returned when a phrase fails checksum
	// validation.
	ErrInvalidMnemonic = errors.New("invalid mnemonic phrase")
	// ErrNullVault specifies that a secret vault is required.
	ErrNullVault = errors.New("secret vault must not be null")
	// ErrNullSession specifies that a wallet session is required.
	ErrNullSession = errors.New("wallet session must not be null")
	// ErrNullSyncer specifies that an event syncer is required.
	ErrNullSyncer = errors.New("event syncer must not be null")
)
