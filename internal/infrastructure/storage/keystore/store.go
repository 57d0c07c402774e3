// Package keystore persists the per-user vault encryption keys in a local
// badger database.
package keystore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"

	"github.com/dgen-network/walletd/internal/core/ports"
)

type entry struct {
	Key   string `badgerhold:"key"`
	Value string
}

// Store is a badgerhold implementation of the ports.KeyStore interface.
type Store struct {
	db *badgerhold.Store
}

func NewStore(datadir string, logger badger.Logger) (ports.KeyStore, error) {
	opts := badger.DefaultOptions(filepath.Join(datadir, "keystore"))
	opts.Logger = logger

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          jsonEncode,
		Decoder:          jsonDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, fmt.Errorf("opening key store: %w", err)
	}
	return &Store{db}, nil
}

func (s *Store) Get(key string) (string, error) {
	var found entry
	if err := s.db.Get(key, &found); err != nil {
		if err == badgerhold.ErrNotFound {
			return "", nil
		}
		return "", err
	}
	return found.Value, nil
}

func (s *Store) Put(key, value string) error {
	return s.db.Upsert(key, entry{Key: key, Value: value})
}

func (s *Store) Close() error {
	return s.db.Close()
}

func jsonEncode(value interface{}) ([]byte, error) {
	var buff bytes.Buffer
	if err := json.NewEncoder(&buff).Encode(value); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

func jsonDecode(data []byte, value interface{}) error {
	return json.NewDecoder(bytes.NewReader(data)).Decode(value)
}
