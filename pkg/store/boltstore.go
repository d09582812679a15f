package store

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

const boltBucket = "glconnect"

// BoltBackend keeps every collection blob in a single bbolt bucket.
type BoltBackend struct {
	db *bbolt.DB
}

func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt file %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Load(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket([]byte(boltBucket)).Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}
		// bbolt memory is only valid inside the transaction
		out = append([]byte(nil), val...)
		return nil
	})
	return out, err
}

func (b *BoltBackend) Commit(_ context.Context, writes ...Write) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucket))
		for _, w := range writes {
			if w.Value == nil {
				if err := bucket.Delete([]byte(w.Key)); err != nil {
					return err
				}
				continue
			}
			if err := bucket.Put([]byte(w.Key), w.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}

var _ Backend = (*BoltBackend)(nil)
