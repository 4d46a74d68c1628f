// Package storage is the typed key-value contract the ABCI component uses
// to persist blocks, chain state, deposit intents, and the wallet's UTXO
// set. It is backed by go.etcd.io/bbolt the way chain/boltdb.BoltStore
// backs the beacon chain, one bucket ("namespace") per entity kind, all
// inside a single file.
package storage

import (
	"errors"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/fedvault/node/internal/log"
)

// Namespace names one bucket in the underlying bbolt database.
type Namespace string

const (
	NamespaceBlocks         Namespace = "blocks"
	NamespaceChainState     Namespace = "chain_state"
	NamespaceDepositIntents Namespace = "deposit_intents"
	NamespaceUtxos          Namespace = "utxos"
)

var allNamespaces = []Namespace{NamespaceBlocks, NamespaceChainState, NamespaceDepositIntents, NamespaceUtxos}

// ErrNotFound is returned by Get when the key is absent from the namespace.
var ErrNotFound = errors.New("storage: key not found")

// FileName is the on-disk file the store writes to within the configured
// database directory.
const FileName = "node.db"

// FilePermission is the permission bbolt opens its database file with.
const FilePermission = 0600

// Store is the typed key-value contract. It is accessed from the ABCI task
// only (spec §5): no other component opens the database directly.
type Store struct {
	db  *bolt.DB
	log log.Logger
}

// Open creates (or reopens) the bbolt database under dir, ensuring every
// namespace bucket exists.
func Open(dir string, l log.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(dir, FileName), FilePermission, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, ns := range allNamespaces {
			if _, err := tx.CreateBucketIfNotExists([]byte(ns)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, log: l}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes value under key in namespace ns, overwriting any prior value.
func (s *Store) Put(ns Namespace, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ns)).Put([]byte(key), value)
	})
}

// Get reads the value stored under key in namespace ns. It returns
// ErrNotFound when absent.
func (s *Store) Get(ns Namespace, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(ns)).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes key from namespace ns. Deleting an absent key is a no-op.
func (s *Store) Delete(ns Namespace, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ns)).Delete([]byte(key))
	})
}

// ForEach iterates every key/value pair in namespace ns in byte-sorted key
// order, stopping early if fn returns an error.
func (s *Store) ForEach(ns Namespace, fn func(key string, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ns)).ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}
