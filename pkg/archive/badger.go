package archive

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// BadgerArchive keeps entries in an embedded badger database keyed by
// entry name.
type BadgerArchive struct {
	path string
	db   *badgerdb.DB
}

// OpenBadger opens the database at path. A read-only archive can be shared
// with another process that owns the database.
func OpenBadger(path string, readOnly bool) (*BadgerArchive, error) {
	opts := badgerdb.DefaultOptions(path).
		WithReadOnly(readOnly).
		WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger archive %s: %w", path, err)
	}
	return &BadgerArchive{path: path, db: db}, nil
}

// Name implements Archive.
func (b *BadgerArchive) Name() string { return "badger:" + b.path }

// Lookup implements Archive.
func (b *BadgerArchive) Lookup(_ context.Context, kind Kind, id uint32) ([]byte, bool, error) {
	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(EntryName(kind, id)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, false, nil
	}
	if errors.Is(err, badgerdb.ErrDBClosed) {
		return nil, false, ErrClosed
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger lookup %s: %w", EntryName(kind, id), err)
	}
	return data, true, nil
}

// Store implements Writer.
func (b *BadgerArchive) Store(_ context.Context, kind Kind, id uint32, data []byte) error {
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(EntryName(kind, id)), data)
	})
	if err != nil {
		return fmt.Errorf("badger store %s: %w", EntryName(kind, id), err)
	}
	return nil
}

// Close implements Archive.
func (b *BadgerArchive) Close() error {
	return b.db.Close()
}
