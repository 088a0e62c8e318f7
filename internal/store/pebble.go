package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
)

type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble creates or opens a Pebble store at dataDir/pebble.
func OpenPebble(dataDir string) (*PebbleStore, error) {
	dir := filepath.Join(dataDir, "pebble")
	db, err := pebble.Open(dir, &pebble.Options{
		MemTableSize:          16 << 20,
		L0CompactionThreshold: 8,
		MaxConcurrentCompactions: func() int {
			return 2
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble store: %w", err)
	}
	slog.Info("history store opened", "backend", BackendPebble, "path", dir)
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Put(ctx context.Context, recs []Record) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		enc, err := encodeChangeset(r.Changeset)
		if err != nil {
			return err
		}
		if err := b.Set(changesetKey(r.Path, r.ID), enc, nil); err != nil {
			return err
		}
		if err := b.Set(pathKey(r.Path), nil, nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (s *PebbleStore) History(ctx context.Context, q HistoryQuery) ([]vcs.Changeset, error) {
	prefix := scanPrefix(q)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var recs []Record
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, ok, err := decodeRecord(iter.Key(), iter.Value())
		if err != nil {
			return nil, fmt.Errorf("decode %q: %w", iter.Key(), err)
		}
		if ok {
			recs = append(recs, r)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return selectHistory(recs, q)
}

func (s *PebbleStore) Paths(ctx context.Context) ([]string, error) {
	prefix := []byte(pathPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var paths []string
	for iter.First(); iter.Valid(); iter.Next() {
		paths = append(paths, string(iter.Key()[len(prefix):]))
	}
	return paths, iter.Error()
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
