// Package checkpoint implements the embedded key-value store backing
// Cache.StoreState/LoadState: five (six, counting the scalar
// last_known_chain_block key in isolation from the tip_timestamp key)
// opaque binary blobs keyed by name, in a bucket-prefixed goleveldb
// store so it could in principle share a directory with other embedded
// store users without key collision.
package checkpoint

import (
	"github.com/btcsuite/goleveldb/leveldb"
	"github.com/btcsuite/goleveldb/leveldb/opt"
	pkgerrors "github.com/pkg/errors"
)

// Keys under which Cache.StoreState/LoadState persist each blob.
const (
	KeyLastKnownChainBlock        = "last_known_chain_block"
	KeyTipTimestamp               = "tip_timestamp"
	KeyBlocks                     = "blocks"
	KeyTransactions               = "transactions"
	KeyAcceptingBlockTransactions = "accepting_block_transactions"
	KeySeconds                    = "seconds"
)

// ErrMissingKey is returned by Get when the requested key has never
// been written; Cache.LoadState surfaces this as its "missing data"
// error.
var ErrMissingKey = pkgerrors.New("checkpoint: missing data for key")

// bucketPrefix namespaces every key this package writes, the same way
// dbaccess.reachabilityDataBucket namespaces reachability keys, so the
// checkpoint store could in principle share a directory with other
// embedded-store users without collision.
var bucketPrefix = []byte("kaspalytics-checkpoint/")

func bucketKey(key string) []byte {
	return append(append([]byte(nil), bucketPrefix...), key...)
}

// Store is an embedded key-value store rooted at a single directory.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if necessary) the checkpoint store at dir.
func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "opening checkpoint store at %s", dir)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes value under key, overwriting any previous value.
func (s *Store) Put(key string, value []byte) error {
	return s.db.Put(bucketKey(key), value, nil)
}

// Get reads the value stored under key. ErrMissingKey is returned if
// key was never written.
func (s *Store) Get(key string) ([]byte, error) {
	v, err := s.db.Get(bucketKey(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, ErrMissingKey
		}
		return nil, pkgerrors.Wrapf(err, "reading checkpoint key %s", key)
	}
	return v, nil
}

// Has reports whether key has ever been written.
func (s *Store) Has(key string) (bool, error) {
	ok, err := s.db.Has(bucketKey(key), nil)
	if err != nil {
		return false, pkgerrors.Wrapf(err, "checking checkpoint key %s", key)
	}
	return ok, nil
}
