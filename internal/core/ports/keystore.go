package ports

// KeyStore persists the per-user random encryption key that protects the
// wallet vault. It is a plain key/value store, the secrecy model relies on
// it living on the user's device only.
type KeyStore interface {
	// Get returns the value for the given key, or an empty string if the
	// key is not present.
	Get(key string) (string, error)
	Put(key, value string) error
	Close() error
}
