// Package badger adapts dgraph-io/badger as a table Store, for sessions whose
// tables are kept on disk and reopened across process restarts.
package badger

import (
	"context"
	"errors"

	bd "github.com/dgraph-io/badger/v4"
)

type Store struct {
	db      *bd.DB
	closeDB bool
}

type Config struct {
	// Path is the directory for the badger files. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// DB lets the caller share an already-open database. When set, Path and
	// InMemory are ignored and Close becomes a no-op unless CloseDB is true.
	DB      *bd.DB
	CloseDB bool
}

func New(cfg Config) (*Store, error) {
	if cfg.DB != nil {
		return &Store{db: cfg.DB, closeDB: cfg.CloseDB}, nil
	}
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("badger: path required unless in-memory")
	}
	opts := bd.DefaultOptions(cfg.Path).WithInMemory(cfg.InMemory)
	opts.Logger = nil
	db, err := bd.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, closeDB: true}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(txn *bd.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, bd.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, _ int64) (bool, error) {
	err := s.db.Update(func(txn *bd.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Del(_ context.Context, key string) error {
	return s.db.Update(func(txn *bd.Txn) error {
		err := txn.Delete([]byte(key))
		if errors.Is(err, bd.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (s *Store) Close(_ context.Context) error {
	if s.closeDB {
		return s.db.Close()
	}
	return nil
}
