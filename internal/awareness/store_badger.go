package awareness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

// BadgerStore persists collections in a Badger key-value database. Keys are
// namespaced "collection/key" and values are JSON records, so the on-disk
// data stays inspectable with standard tooling.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens or creates a Badger database under dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	log.Debug().Str("dir", dir).Msg("badger store opened")
	return &BadgerStore{db: db}, nil
}

func badgerKey(col Collection, key string) []byte {
	return []byte(string(col) + "/" + key)
}

func badgerPrefix(col Collection) []byte {
	return []byte(string(col) + "/")
}

func (s *BadgerStore) put(col Collection, key string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", col, key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(col, key), data)
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", col, key, err)
	}
	return nil
}

func (s *BadgerStore) get(col Collection, key string, into any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(col, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, into)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", col, key, err)
	}
	return nil
}

func (s *BadgerStore) delete(col Collection, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(col, key))
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", col, key, err)
	}
	return nil
}

// PutContext writes the record as JSON under "collection/id".
func (s *BadgerStore) PutContext(_ context.Context, col Collection, rec *Context) error {
	return s.put(col, rec.ID, rec)
}

// GetContext reads one record, returning ErrKeyNotFound for missing ids.
func (s *BadgerStore) GetContext(_ context.Context, col Collection, id string) (*Context, error) {
	var rec Context
	if err := s.get(col, id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteContext removes one record. Missing ids are not an error.
func (s *BadgerStore) DeleteContext(_ context.Context, col Collection, id string) error {
	return s.delete(col, id)
}

// ListContexts scans the collection prefix and returns records oldest first.
func (s *BadgerStore) ListContexts(_ context.Context, col Collection) ([]*Context, error) {
	var records []*Context
	prefix := badgerPrefix(col)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec Context
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", col, err)
	}
	sortContexts(records)
	return records, nil
}

// PutReference stores one token's resolution in the references namespace.
func (s *BadgerStore) PutReference(_ context.Context, token string, rec ReferenceRecord) error {
	return s.put(CollectionReferences, token, rec)
}

// DeleteReference drops one token.
func (s *BadgerStore) DeleteReference(_ context.Context, token string) error {
	return s.delete(CollectionReferences, token)
}

// ListReferences scans the references namespace into a token-keyed map.
func (s *BadgerStore) ListReferences(_ context.Context) (map[string]ReferenceRecord, error) {
	out := make(map[string]ReferenceRecord)
	prefix := badgerPrefix(CollectionReferences)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			token := string(item.KeyCopy(nil)[len(prefix):])
			var rec ReferenceRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out[token] = rec
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	return out, nil
}

// Close flushes and closes the underlying database.
func (s *BadgerStore) Close() error {
	log.Debug().Msg("badger store closed")
	return s.db.Close()
}
