// Package store persists the changeset history served by the reference
// history service. Three backends share one contract: SQLite for the default
// single-file layout, Badger and Pebble for LSM-backed stores.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
)

const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendPebble = "pebble"
)

// Record attaches a changeset to one path it touched.
type Record struct {
	Path string
	vcs.Changeset
}

// HistoryQuery selects the history of a path.
type HistoryQuery struct {
	Path      string
	Recursion vcs.Recursion
	MaxID     int // 0 = latest
	MaxCount  int // 0 = unbounded
}

// Store is the data access layer for changeset history.
type Store interface {
	// Put inserts or replaces records. A record is keyed by (path, id).
	Put(ctx context.Context, recs []Record) error
	// History returns the changesets for q newest first. A path with no
	// records, directly or below it when recursing, yields ErrPathNotFound.
	History(ctx context.Context, q HistoryQuery) ([]vcs.Changeset, error)
	// Paths lists every path with at least one record, sorted.
	Paths(ctx context.Context) ([]string, error)
	Close() error
}

// Open creates or opens a store of the given backend under dataDir.
func Open(backend, dataDir string) (Store, error) {
	var (
		st  Store
		err error
	)
	switch strings.ToLower(backend) {
	case "", BackendSQLite:
		st, err = OpenSQLite(dataDir)
	case BackendBadger:
		st, err = OpenBadger(dataDir)
	case BackendPebble:
		st, err = OpenPebble(dataDir)
	default:
		return nil, fmt.Errorf("unknown store backend %q (expected sqlite, badger, pebble)", backend)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// HistoryQueryFor converts a client query into a store query.
func HistoryQueryFor(q vcs.HistoryQuery) (HistoryQuery, error) {
	maxID, err := vcs.ParseVersionSpec(q.Version)
	if err != nil {
		return HistoryQuery{}, err
	}
	rec := q.Recursion
	if rec == "" {
		rec = vcs.RecursionNone
	}
	return HistoryQuery{
		Path:      q.Path,
		Recursion: rec,
		MaxID:     maxID,
		MaxCount:  q.MaxCount,
	}, nil
}

// matchPath reports whether candidate falls under path for the recursion mode.
func matchPath(candidate, path string, rec vcs.Recursion) bool {
	if candidate == path {
		return true
	}
	if rec == vcs.RecursionNone || rec == "" {
		return false
	}
	rest, ok := strings.CutPrefix(candidate, strings.TrimSuffix(path, "/")+"/")
	if !ok || rest == "" {
		return false
	}
	if rec == vcs.RecursionOneLevel {
		return !strings.Contains(rest, "/")
	}
	return true
}

// selectHistory applies q to candidate records. Candidates may include paths
// that merely share a prefix with q.Path.
func selectHistory(recs []Record, q HistoryQuery) ([]vcs.Changeset, error) {
	matched := false
	seen := make(map[int]struct{}, len(recs))
	out := make([]vcs.Changeset, 0, len(recs))
	for _, r := range recs {
		if !matchPath(r.Path, q.Path, q.Recursion) {
			continue
		}
		matched = true
		if q.MaxID > 0 && r.ID > q.MaxID {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r.Changeset)
	}
	if !matched {
		return nil, &NotFoundError{Path: q.Path}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if q.MaxCount > 0 && len(out) > q.MaxCount {
		out = out[:q.MaxCount]
	}
	return out, nil
}
