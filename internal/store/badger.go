package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
)

type BadgerStore struct {
	db *badger.DB
}

// OpenBadger creates or opens a Badger store at dataDir/badger.
func OpenBadger(dataDir string) (*BadgerStore, error) {
	dir := filepath.Join(dataDir, "badger")
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	slog.Info("history store opened", "backend", BackendBadger, "path", dir)
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Put(ctx context.Context, recs []Record) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		enc, err := encodeChangeset(r.Changeset)
		if err != nil {
			return err
		}
		if err := wb.Set(changesetKey(r.Path, r.ID), enc); err != nil {
			return err
		}
		if err := wb.Set(pathKey(r.Path), nil); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (s *BadgerStore) History(ctx context.Context, q HistoryQuery) ([]vcs.Changeset, error) {
	var recs []Record
	prefix := scanPrefix(q)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			k := item.KeyCopy(nil)
			err := item.Value(func(v []byte) error {
				r, ok, err := decodeRecord(k, v)
				if err != nil {
					return fmt.Errorf("decode %q: %w", k, err)
				}
				if ok {
					recs = append(recs, r)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return selectHistory(recs, q)
}

func (s *BadgerStore) Paths(ctx context.Context) ([]string, error) {
	var paths []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(pathPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			paths = append(paths, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	sort.Strings(paths)
	return paths, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
