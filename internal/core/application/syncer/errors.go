package syncer

import "errors"

// ErrNullSession specifies that a wallet session is required.
var ErrNullSession = errors.New("wallet session must not be null")
