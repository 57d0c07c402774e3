package vault_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dgen-network/walletd/internal/core/application/vault"
	"github.com/dgen-network/walletd/pkg/securestore"
	boltsecurestore "github.com/dgen-network/walletd/pkg/securestore/bolt"
)

const (
	testUserID     = "user-1234"
	testStorageKey = "walletMnemonic_user-1234"
	testMnemonic   = "abandon abandon abandon abandon abandon abandon " +
		"abandon abandon abandon abandon abandon about"
)

func TestSaveAndFetchSecret(t *testing.T) {
	svc, _ := newTestService(t)

	require.NoError(
		t, svc.SaveSecret(testUserID, testStorageKey, "pwd", testMnemonic),
	)

	secret, err := svc.UnlockAndFetch(testUserID, testStorageKey, "pwd")
	require.NoError(t, err)
	require.Equal(t, testMnemonic, secret)
}

func TestFetchMissingSecret(t *testing.T) {
	svc, _ := newTestService(t)

	secret, err := svc.UnlockAndFetch(testUserID, testStorageKey, "pwd")
	require.NoError(t, err)
	require.Empty(t, secret)
}

func TestClearSecret(t *testing.T) {
	svc, _ := newTestService(t)

	require.NoError(
		t, svc.SaveSecret(testUserID, testStorageKey, "pwd", testMnemonic),
	)
	require.NoError(t, svc.ClearSecret(testUserID, testStorageKey, "pwd"))

	secret, err := svc.UnlockAndFetch(testUserID, testStorageKey, "pwd")
	require.NoError(t, err)
	require.Empty(t, secret)
}

func TestUnlockFailsWithUnknownPassword(t *testing.T) {
	svc, _ := newTestService(t)

	require.NoError(
		t, svc.SaveSecret(testUserID, testStorageKey, "pwd", testMnemonic),
	)

	_, err := svc.UnlockAndFetch(testUserID, testStorageKey, "wrong")
	require.EqualError(t, err, vault.ErrUnlockFailed.Error())
}

func TestMigrationFromLegacySchemes(t *testing.T) {
	tests := []struct {
		name           string
		legacyPassword string
	}{
		{"user id key", testUserID},
		{"static key", "wallet-key-" + testUserID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener := newTestOpener(t)
			svc, err := vault.NewService(opener, newFakeKeyStore())
			require.NoError(t, err)

			seedVault(t, opener, tt.legacyPassword)

			// Unlocking with the current password migrates the vault.
			secret, err := svc.UnlockAndFetch(
				testUserID, testStorageKey, "current-pwd",
			)
			require.NoError(t, err)
			require.Equal(t, testMnemonic, secret)

			// The migration is one-shot: the legacy password no longer
			// opens the vault, the current one does.
			_, err = svc.UnlockAndFetch(
				testUserID, testStorageKey, tt.legacyPassword,
			)
			require.Error(t, err)

			secret, err = svc.UnlockAndFetch(
				testUserID, testStorageKey, "current-pwd",
			)
			require.NoError(t, err)
			require.Equal(t, testMnemonic, secret)
		})
	}
}

func TestWalletPassword(t *testing.T) {
	t.Run("generates and persists a random key", func(t *testing.T) {
		svc, keyStore := newTestService(t)

		pwd := svc.WalletPassword(testUserID)
		require.Len(t, pwd, 64)

		stored, err := keyStore.Get("walletEncryptionKey_" + testUserID)
		require.NoError(t, err)
		require.Equal(t, pwd, stored)

		// Stable across calls.
		require.Equal(t, pwd, svc.WalletPassword(testUserID))
	})

	t.Run("falls back to static key on key store failure", func(t *testing.T) {
		keyStore := newFakeKeyStore()
		keyStore.err = errors.New("disk failure")
		svc, err := vault.NewService(newTestOpener(t), keyStore)
		require.NoError(t, err)

		pwd := svc.WalletPassword(testUserID)
		require.Equal(t, "wallet-key-"+testUserID, pwd)
	})
}

func newTestService(t *testing.T) (*vault.Service, *fakeKeyStore) {
	keyStore := newFakeKeyStore()
	svc, err := vault.NewService(newTestOpener(t), keyStore)
	require.NoError(t, err)
	return svc, keyStore
}

func newTestOpener(t *testing.T) vault.StoreOpener {
	datadir := t.TempDir()
	return func(userID string) (securestore.SecureStorage, error) {
		return boltsecurestore.NewSecureStorage(
			datadir, fmt.Sprintf("wallet-%s.db", userID),
		)
	}
}

// seedVault writes the test mnemonic into a vault encrypted under the given
// legacy password, simulating a store produced by an older release.
func seedVault(t *testing.T, opener vault.StoreOpener, password string) {
	store, err := opener(testUserID)
	require.NoError(t, err)

	pwd := []byte(password)
	require.NoError(t, store.CreateUnlock(&pwd))
	require.NoError(t, store.AddToBucket(
		[]byte("wallet"), []byte(testStorageKey), []byte(testMnemonic),
	))
	require.NoError(t, store.Close())
}

type fakeKeyStore struct {
	values map[string]string
	err    error
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{values: make(map[string]string)}
}

func (s *fakeKeyStore) Get(key string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.values[key], nil
}

func (s *fakeKeyStore) Put(key, value string) error {
	if s.err != nil {
		return s.err
	}
	s.values[key] = value
	return nil
}

func (s *fakeKeyStore) Close() error { return nil }
