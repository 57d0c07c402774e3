package boltsecurestore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dgen-network/walletd/pkg/securestore"
	boltsecurestore "github.com/dgen-network/walletd/pkg/securestore/bolt"
)

var (
	password    = []byte("S3cur3P4ssw0rd")
	badPassword = []byte("wrongpassword")
	bucketKey   = []byte("wallet")
	dataKey     = []byte("mnemonic")
	dataValue   = []byte("legal winner thank year wave sausage worth useful legal winner thank yellow")
)

func TestCreateUnlockAndRetrieve(t *testing.T) {
	store := newTestStore(t)

	require.True(t, store.IsLocked())

	_, err := store.GetFromBucket(bucketKey, dataKey)
	require.EqualError(t, err, securestore.ErrStoreLocked.Error())

	pwd := clone(password)
	require.NoError(t, store.CreateUnlock(&pwd))
	require.False(t, store.IsLocked())

	require.NoError(t, store.AddToBucket(bucketKey, dataKey, dataValue))

	value, err := store.GetFromBucket(bucketKey, dataKey)
	require.NoError(t, err)
	require.Equal(t, dataValue, value)

	// Unknown keys and buckets yield nil, not an error.
	value, err = store.GetFromBucket(bucketKey, []byte("unknown"))
	require.NoError(t, err)
	require.Nil(t, value)
	value, err = store.GetFromBucket([]byte("unknown"), dataKey)
	require.NoError(t, err)
	require.Nil(t, value)

	store.Lock()
	require.True(t, store.IsLocked())

	badPwd := clone(badPassword)
	err = store.CreateUnlock(&badPwd)
	require.EqualError(t, err, securestore.ErrInvalidPassword.Error())

	pwd = clone(password)
	require.NoError(t, store.CreateUnlock(&pwd))
	value, err = store.GetFromBucket(bucketKey, dataKey)
	require.NoError(t, err)
	require.Equal(t, dataValue, value)
}

func TestChangePassword(t *testing.T) {
	store := newTestStore(t)

	pwd := clone(password)
	require.NoError(t, store.CreateUnlock(&pwd))
	require.NoError(t, store.AddToBucket(bucketKey, dataKey, dataValue))
	require.NoError(t, store.AddToBucket(nil, []byte("rootkey"), []byte("rootvalue")))

	// ChangePassword zeroes the buffers it derives keys from, hand it clones.
	newPassword := []byte("evenM0reS3cure")
	err := store.ChangePassword(clone(badPassword), clone(newPassword))
	require.EqualError(t, err, securestore.ErrInvalidPassword.Error())

	require.NoError(t, store.ChangePassword(clone(password), clone(newPassword)))

	// The store stays unlocked and the content is preserved.
	value, err := store.GetFromBucket(bucketKey, dataKey)
	require.NoError(t, err)
	require.Equal(t, dataValue, value)

	store.Lock()

	oldPwd := clone(password)
	err = store.CreateUnlock(&oldPwd)
	require.EqualError(t, err, securestore.ErrInvalidPassword.Error())

	newPwd := clone(newPassword)
	require.NoError(t, store.CreateUnlock(&newPwd))

	value, err = store.GetFromBucket(bucketKey, dataKey)
	require.NoError(t, err)
	require.Equal(t, dataValue, value)
	value, err = store.GetFromBucket(nil, []byte("rootkey"))
	require.NoError(t, err)
	require.Equal(t, []byte("rootvalue"), value)
}

func TestRemove(t *testing.T) {
	store := newTestStore(t)

	pwd := clone(password)
	require.NoError(t, store.CreateUnlock(&pwd))
	require.NoError(t, store.AddToBucket(bucketKey, dataKey, dataValue))

	require.NoError(t, store.RemoveFromBucket(bucketKey, dataKey))
	value, err := store.GetFromBucket(bucketKey, dataKey)
	require.NoError(t, err)
	require.Nil(t, value)

	// Removing missing entries or buckets is a no-op.
	require.NoError(t, store.RemoveFromBucket(bucketKey, dataKey))
	require.NoError(t, store.RemoveBucket([]byte("unknown")))
	require.NoError(t, store.RemoveBucket(bucketKey))
}

func TestGetAllFromBucket(t *testing.T) {
	store := newTestStore(t)

	pwd := clone(password)
	require.NoError(t, store.CreateUnlock(&pwd))
	require.NoError(t, store.AddToBucket(bucketKey, []byte("first"), []byte("1")))
	require.NoError(t, store.AddToBucket(bucketKey, []byte("second"), []byte("2")))

	all, err := store.GetAllFromBucket(bucketKey)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, []byte("1"), all["first"])
	require.Equal(t, []byte("2"), all["second"])
}

func newTestStore(t *testing.T) securestore.SecureStorage {
	store, err := boltsecurestore.NewSecureStorage(t.TempDir(), "test.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// clone returns a copy of the given password since snacl zeroes the buffer
// it derives keys from.
func clone(pwd []byte) []byte {
	return append([]byte{}, pwd...)
}
