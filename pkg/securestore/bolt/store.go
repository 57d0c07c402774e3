package boltsecurestore

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcwallet/snacl"
	bolt "go.etcd.io/bbolt"

	"github.com/dgen-network/walletd/pkg/securestore"
)

var (
	// rootBucketName is the name of the top level bucket holding both the
	// encryption key and the user data.
	rootBucketName = []byte("vault")

	// encryptionKeyID is the database key the encryption key is stored
	// under, marshaled with its salt and scrypt parameters.
	encryptionKeyID = []byte("enckey")
)

type boltSecureStorage struct {
	db *bolt.DB

	encKeyMtx sync.RWMutex
	encKey    *snacl.SecretKey
}

// NewSecureStorage creates a bbolt instance of the SecureStorage interface.
func NewSecureStorage(datadir, filename string) (securestore.SecureStorage, error) {
	if err := os.MkdirAll(datadir, os.ModeDir|0755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(
		filepath.Join(datadir, filename), 0600,
		&bolt.Options{Timeout: 5 * time.Second},
	)
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &boltSecureStorage{db: db}, nil
}

func (s *boltSecureStorage) IsLocked() bool {
	s.encKeyMtx.RLock()
	defer s.encKeyMtx.RUnlock()
	return s.encKey == nil
}

// Lock flushes the in-memory encryption key.
func (s *boltSecureStorage) Lock() {
	s.encKeyMtx.Lock()
	defer s.encKeyMtx.Unlock()
	if s.encKey != nil {
		s.encKey.Zero()
		s.encKey = nil
	}
}

// CreateUnlock sets an encryption key if one is not already set, otherwise it
// checks the password against the stored encryption key.
func (s *boltSecureStorage) CreateUnlock(password *[]byte) error {
	if !s.IsLocked() {
		return nil
	}
	if password == nil {
		return securestore.ErrPasswordRequired
	}

	s.encKeyMtx.Lock()
	defer s.encKeyMtx.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rootBucketName)
		dbKey := bucket.Get(encryptionKeyID)
		if len(dbKey) > 0 {
			// A key is already stored, try to unlock with the password.
			encKey := &snacl.SecretKey{}
			if err := encKey.Unmarshal(dbKey); err != nil {
				return err
			}
			if err := encKey.DeriveKey(password); err != nil {
				return securestore.ErrInvalidPassword
			}
			s.encKey = encKey
			return nil
		}

		// First unlock ever, derive and store a fresh encryption key.
		encKey, err := snacl.NewSecretKey(
			password, snacl.DefaultN, snacl.DefaultR, snacl.DefaultP,
		)
		if err != nil {
			return err
		}
		if err := bucket.Put(encryptionKeyID, encKey.Marshal()); err != nil {
			return err
		}
		s.encKey = encKey
		return nil
	})
}

// ChangePassword decrypts all the store's content with the current key and
// re-encrypts it with a key derived from the new password. The whole rewrite
// happens in a single transaction so a failure leaves the previous ciphertext
// untouched.
func (s *boltSecureStorage) ChangePassword(oldPw, newPw []byte) error {
	if s.IsLocked() {
		return securestore.ErrStoreLocked
	}
	if oldPw == nil || newPw == nil {
		return securestore.ErrPasswordRequired
	}

	s.encKeyMtx.Lock()
	defer s.encKeyMtx.Unlock()

	// Check that the old password is the one in use.
	if err := s.db.View(func(tx *bolt.Tx) error {
		dbKey := tx.Bucket(rootBucketName).Get(encryptionKeyID)
		if len(dbKey) <= 0 {
			return securestore.ErrInvalidPassword
		}
		encKey := &snacl.SecretKey{}
		if err := encKey.Unmarshal(dbKey); err != nil {
			return err
		}
		if err := encKey.DeriveKey(&oldPw); err != nil {
			return securestore.ErrInvalidPassword
		}
		return nil
	}); err != nil {
		return err
	}

	encKeyNew, err := snacl.NewSecretKey(
		&newPw, snacl.DefaultN, snacl.DefaultR, snacl.DefaultP,
	)
	if err != nil {
		return err
	}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(rootBucketName)
		if err := s.reencryptBucket(root, encKeyNew); err != nil {
			return err
		}
		return root.Put(encryptionKeyID, encKeyNew.Marshal())
	}); err != nil {
		return err
	}

	s.encKey.Zero()
	s.encKey = encKeyNew
	return nil
}

func (s *boltSecureStorage) reencryptBucket(
	bucket *bolt.Bucket, newKey *snacl.SecretKey,
) error {
	// Collect keys first, bbolt forbids mutating a bucket while iterating.
	keys := make([][]byte, 0)
	nested := make([][]byte, 0)
	if err := bucket.ForEach(func(k, v []byte) error {
		if v == nil {
			nested = append(nested, append([]byte{}, k...))
			return nil
		}
		if !bytes.Equal(k, encryptionKeyID) {
			keys = append(keys, append([]byte{}, k...))
		}
		return nil
	}); err != nil {
		return err
	}

	for _, k := range keys {
		decrypted, err := s.encKey.Decrypt(bucket.Get(k))
		if err != nil {
			return err
		}
		encrypted, err := newKey.Encrypt(decrypted)
		if err != nil {
			return err
		}
		if err := bucket.Put(k, encrypted); err != nil {
			return err
		}
	}

	for _, k := range nested {
		if err := s.reencryptBucket(bucket.Bucket(k), newKey); err != nil {
			return err
		}
	}
	return nil
}

// AddToBucket stores the provided data encrypted into the given bucket,
// creating the bucket if it does not exist yet.
func (s *boltSecureStorage) AddToBucket(bucketKey, key, value []byte) error {
	if s.IsLocked() {
		return securestore.ErrStoreLocked
	}
	if len(key) <= 0 {
		return securestore.ErrMissingDataKey
	}
	if bytes.Equal(key, encryptionKeyID) || bytes.Equal(bucketKey, encryptionKeyID) {
		return securestore.ErrForbiddenKey
	}
	if len(value) <= 0 {
		return securestore.ErrMissingData
	}

	s.encKeyMtx.RLock()
	defer s.encKeyMtx.RUnlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rootBucketName)
		if len(bucketKey) > 0 {
			var err error
			bucket, err = bucket.CreateBucketIfNotExists(bucketKey)
			if err != nil {
				return err
			}
		}

		encryptedValue, err := s.encKey.Encrypt(value)
		if err != nil {
			return err
		}
		return bucket.Put(key, encryptedValue)
	})
}

// GetFromBucket retrieves data for the given key and bucket. A missing bucket
// or entry yields a nil value.
func (s *boltSecureStorage) GetFromBucket(bucketKey, key []byte) ([]byte, error) {
	if s.IsLocked() {
		return nil, securestore.ErrStoreLocked
	}
	if len(key) <= 0 {
		return nil, securestore.ErrMissingDataKey
	}
	if bytes.Equal(key, encryptionKeyID) {
		return nil, securestore.ErrForbiddenKey
	}

	s.encKeyMtx.RLock()
	defer s.encKeyMtx.RUnlock()

	var value []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rootBucketName)
		if len(bucketKey) > 0 {
			bucket = bucket.Bucket(bucketKey)
			if bucket == nil {
				return nil
			}
		}

		encryptedValue := bucket.Get(key)
		if len(encryptedValue) <= 0 {
			return nil
		}

		v, err := s.encKey.Decrypt(encryptedValue)
		if err != nil {
			return err
		}
		value = append([]byte{}, v...)
		return nil
	}); err != nil {
		return nil, err
	}

	return value, nil
}

// GetAllFromBucket returns all data stored in the given bucket.
func (s *boltSecureStorage) GetAllFromBucket(bucketKey []byte) (map[string][]byte, error) {
	if s.IsLocked() {
		return nil, securestore.ErrStoreLocked
	}

	s.encKeyMtx.RLock()
	defer s.encKeyMtx.RUnlock()

	res := make(map[string][]byte)
	if err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rootBucketName)
		if len(bucketKey) > 0 {
			bucket = bucket.Bucket(bucketKey)
			if bucket == nil {
				return nil
			}
		}

		return bucket.ForEach(func(k, v []byte) error {
			if bytes.Equal(k, encryptionKeyID) || v == nil {
				return nil
			}
			value, err := s.encKey.Decrypt(v)
			if err != nil {
				return err
			}
			res[string(k)] = value
			return nil
		})
	}); err != nil {
		return nil, err
	}

	return res, nil
}

// RemoveFromBucket removes the entry identified by the given key from the
// given bucket. Removing a missing entry is not an error.
func (s *boltSecureStorage) RemoveFromBucket(bucketKey, key []byte) error {
	if s.IsLocked() {
		return securestore.ErrStoreLocked
	}
	if len(key) <= 0 {
		return securestore.ErrMissingDataKey
	}
	if bytes.Equal(key, encryptionKeyID) {
		return securestore.ErrForbiddenKey
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rootBucketName)
		if len(bucketKey) > 0 {
			bucket = bucket.Bucket(bucketKey)
			if bucket == nil {
				return nil
			}
		}
		return bucket.Delete(key)
	})
}

func (s *boltSecureStorage) RemoveBucket(bucketKey []byte) error {
	if s.IsLocked() {
		return securestore.ErrStoreLocked
	}
	if len(bucketKey) <= 0 {
		return securestore.ErrMissingDataKey
	}
	if bytes.Equal(bucketKey, encryptionKeyID) {
		return securestore.ErrForbiddenKey
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(rootBucketName).DeleteBucket(bucketKey)
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// Close locks the store and closes the underlying database.
func (s *boltSecureStorage) Close() error {
	s.Lock()
	return s.db.Close()
}
