package store

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/datastore"
)

const blobKind = "GlconnectBlob"

type blobEntity struct {
	Value []byte `datastore:",noindex"`
}

// DatastoreBackend stores each collection blob as one Cloud Datastore entity.
type DatastoreBackend struct {
	client *datastore.Client
}

func NewDatastoreBackend(client *datastore.Client) *DatastoreBackend {
	return &DatastoreBackend{client: client}
}

func (d *DatastoreBackend) key(name string) *datastore.Key {
	return datastore.NameKey(blobKind, name, nil)
}

func (d *DatastoreBackend) Load(ctx context.Context, key string) ([]byte, error) {
	var e blobEntity
	err := d.client.Get(ctx, d.key(key), &e)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("datastore get %s: %w", key, err)
	}
	return e.Value, nil
}

func (d *DatastoreBackend) Commit(ctx context.Context, writes ...Write) error {
	_, err := d.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var putKeys []*datastore.Key
		var putVals []*blobEntity
		var delKeys []*datastore.Key
		for _, w := range writes {
			if w.Value == nil {
				delKeys = append(delKeys, d.key(w.Key))
				continue
			}
			putKeys = append(putKeys, d.key(w.Key))
			putVals = append(putVals, &blobEntity{Value: w.Value})
		}
		if len(putKeys) > 0 {
			if _, err := tx.PutMulti(putKeys, putVals); err != nil {
				return err
			}
		}
		if len(delKeys) > 0 {
			if err := tx.DeleteMulti(delKeys); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("datastore commit: %w", err)
	}
	return nil
}

func (d *DatastoreBackend) Close() error {
	return d.client.Close()
}

var _ Backend = (*DatastoreBackend)(nil)
