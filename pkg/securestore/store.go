package securestore

import "errors"

var (
	// ErrPasswordRequired is returned when unlocking without a password.
	ErrPasswordRequired = errors.New("a password is required")
	// ErrInvalidPassword is returned when the given password does not match
	// the one the store was created with.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrStoreLocked is returned when operating on a locked store.
	ErrStoreLocked = errors.New("store is locked")
	// ErrMissingDataKey is returned when a data key is not provided.
	ErrMissingDataKey = errors.New("data key must not be null")
	// ErrMissingData is returned when a value is not provided.
	ErrMissingData = errors.New("data must not be null")
	// ErrForbiddenKey is returned when a key collides with the one reserved
	// for the encryption key.
	ErrForbiddenKey = errors.New("key is reserved and cannot be used")
)

// SecureStorage is a key/value DB that secures its content by encrypting
// the values of the pairs with a password-derived key.
type SecureStorage interface {
	// Lock locks the DB once unlocked.
	Lock()
	// Close closes the connection to the DB.
	Close() error
	// IsLocked returns whether the DB is (un)locked.
	IsLocked() bool
	// CreateUnlock creates or unlocks the DB with a password.
	CreateUnlock(password *[]byte) error
	// ChangePassword re-encrypts the whole DB under a new password. The
	// previous content stays authoritative if the rewrite fails.
	ChangePassword(oldPw, newPw []byte) error
	// AddToBucket adds the key/value entry to some bucket, creating the
	// bucket if needed. A nil bucket key targets the root bucket.
	AddToBucket(bucketKey, key, value []byte) error
	// GetFromBucket retrieves a key/value entry from some bucket. A missing
	// entry yields a nil value, not an error.
	GetFromBucket(bucketKey, key []byte) ([]byte, error)
	// GetAllFromBucket retrieves all key/value pairs contained by a bucket.
	GetAllFromBucket(bucketKey []byte) (map[string][]byte, error)
	// RemoveFromBucket removes a key/value pair from a bucket.
	RemoveFromBucket(bucketKey, key []byte) error
	// RemoveBucket removes a nested bucket and all its entries.
	RemoveBucket(bucketKey []byte) error
}
