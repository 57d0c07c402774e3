// Package vault guards the wallet secrets at rest. Secrets live in a
// password-encrypted store, one file per user, and unlocking transparently
// upgrades stores still encrypted under one of the legacy key derivation
// schemes to the current random-key scheme.
package vault

import (
	"crypto/rand"
	"encoding/hex"

	log "github.com/sirupsen/logrus"

	"github.com/dgen-network/walletd/internal/core/ports"
	"github.com/dgen-network/walletd/pkg/securestore"
)

const (
	// encryptionKeyPrefix prefixes the key store entry holding the per-user
	// random vault password.
	encryptionKeyPrefix = "walletEncryptionKey_"
	// legacyStaticPrefix is the oldest derivation scheme, a constant prefix
	// concatenated with the user id.
	legacyStaticPrefix = "wallet-key-"
	// randomKeyLen is the byte length of a generated vault password.
	randomKeyLen = 32
)

var secretsBucket = []byte("wallet")

// unlockScheme is one supported way of deriving the vault password. Schemes
// are tried in order, the first one is the current scheme, the others are
// legacy ones a store gets silently migrated away from.
type unlockScheme struct {
	name     string
	password func(userID, current string) string
	migrate  bool
}

var unlockSchemes = []unlockScheme{
	{
		name:     "random-key",
		password: func(_, current string) string { return current },
	},
	{
		name:     "legacy-user-id",
		password: func(userID, _ string) string { return userID },
		migrate:  true,
	},
	{
		name: "legacy-static-key",
		password: func(userID, _ string) string {
			return legacyStaticPrefix + userID
		},
		migrate: true,
	},
}

// StoreOpener opens (or creates) the secure store backing a user's vault.
type StoreOpener func(userID string) (securestore.SecureStorage, error)

// Service exposes password-protected access to the wallet secrets.
type Service struct {
	openStore StoreOpener
	keyStore  ports.KeyStore
}

func NewService(opener StoreOpener, keyStore ports.KeyStore) (*Service, error) {
	if opener == nil {
		return nil, ErrNullStoreOpener
	}
	if keyStore == nil {
		return nil, ErrNullKeyStore
	}
	return &Service{openStore: opener, keyStore: keyStore}, nil
}

// WalletPassword returns the vault password for the given user. On first use
// a random key is generated and persisted in the key store. If the key store
// is unavailable the oldest derivation scheme is used so that the wallet
// stays reachable.
func (s *Service) WalletPassword(userID string) string {
	keyStoreKey := encryptionKeyPrefix + userID

	stored, err := s.keyStore.Get(keyStoreKey)
	if err != nil {
		log.WithError(err).Warn(
			"failed to read encryption key, falling back to static key",
		)
		return legacyStaticPrefix + userID
	}
	if len(stored) > 0 {
		return stored
	}

	buf := make([]byte, randomKeyLen)
	if _, err := rand.Read(buf); err != nil {
		log.WithError(err).Warn(
			"failed to generate encryption key, falling back to static key",
		)
		return legacyStaticPrefix + userID
	}
	password := hex.EncodeToString(buf)

	if err := s.keyStore.Put(keyStoreKey, password); err != nil {
		log.WithError(err).Warn(
			"failed to persist encryption key, falling back to static key",
		)
		return legacyStaticPrefix + userID
	}
	return password
}

// UnlockAndFetch unlocks the user's vault and returns the secret stored under
// storageKey. A vault without such secret yields an empty string, not an
// error. Vaults encrypted under a legacy scheme are re-encrypted under the
// given password on the way.
func (s *Service) UnlockAndFetch(
	userID, storageKey, password string,
) (string, error) {
	store, err := s.openStore(userID)
	if err != nil {
		return "", err
	}
	defer store.Close()

	if err := s.unlock(store, userID, password); err != nil {
		return "", err
	}

	value, err := store.GetFromBucket(secretsBucket, []byte(storageKey))
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// SaveSecret stores the secret under storageKey in the user's vault, creating
// the vault with the given password if it does not exist yet.
func (s *Service) SaveSecret(
	userID, storageKey, password, secret string,
) error {
	store, err := s.openStore(userID)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := s.unlock(store, userID, password); err != nil {
		return err
	}
	return store.AddToBucket(secretsBucket, []byte(storageKey), []byte(secret))
}

// ClearSecret removes the secret stored under storageKey from the user's
// vault. Clearing a secret that does not exist is not an error.
func (s *Service) ClearSecret(userID, storageKey, password string) error {
	store, err := s.openStore(userID)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := s.unlock(store, userID, password); err != nil {
		return err
	}
	return store.RemoveFromBucket(secretsBucket, []byte(storageKey))
}

// unlock tries every supported scheme in order. Once a legacy scheme opens
// the store, the content is re-encrypted under the current password. A failed
// migration is tolerated, the store stays usable under its legacy key and the
// upgrade is retried at the next unlock.
func (s *Service) unlock(
	store securestore.SecureStorage, userID, password string,
) error {
	for _, scheme := range unlockSchemes {
		candidate := scheme.password(userID, password)
		// The underlying cipher zeroes password buffers, every attempt
		// needs its own copy.
		pwd := []byte(candidate)
		err := store.CreateUnlock(&pwd)
		if err == securestore.ErrInvalidPassword {
			log.Debugf("vault unlock failed with scheme %s", scheme.name)
			continue
		}
		if err != nil {
			return err
		}

		if scheme.migrate {
			log.Infof(
				"migrating vault encryption from scheme %s", scheme.name,
			)
			if err := store.ChangePassword(
				[]byte(candidate), []byte(password),
			); err != nil {
				log.WithError(err).Warn(
					"failed to migrate vault encryption, keeping legacy key",
				)
			}
		}
		return nil
	}
	return ErrUnlockFailed
}
