package store

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
)

// SeedOptions controls synthetic history generation.
type SeedOptions struct {
	// Paths to populate. When empty, Files paths are generated under Root.
	Paths      []string
	Root       string
	Files      int
	Changesets int
	// MaxTouched bounds how many paths one changeset touches.
	MaxTouched int
	Seed       uint64
	Start      time.Time
	BatchSize  int
}

func (o *SeedOptions) defaults() {
	if o.Root == "" {
		o.Root = "$/Bench"
	}
	if o.Files <= 0 {
		o.Files = 50
	}
	if o.Changesets <= 0 {
		o.Changesets = 1000
	}
	if o.MaxTouched <= 0 {
		o.MaxTouched = 4
	}
	if o.Start.IsZero() {
		o.Start = time.Date(2010, time.April, 12, 9, 0, 0, 0, time.UTC)
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
}

// SeedStats reports what Seed wrote.
type SeedStats struct {
	Paths      []string
	Changesets int
	Records    int
}

var seedOwners = []string{
	`CORP\akhan`, `CORP\bsmith`, `CORP\cnguyen`, `CORP\dlopez`, `CORP\eokafor`, `CORP\fberg`,
}

// GeneratePaths returns n file paths spread over a few folders under root.
func GeneratePaths(root string, n int) []string {
	paths := make([]string, n)
	for i := range paths {
		paths[i] = fmt.Sprintf("%s/src/module%02d/File%03d.cs", root, i%8, i)
	}
	return paths
}

// Seed writes a deterministic synthetic history. Changeset i always touches
// path i mod len(paths), so every path has history once Changesets >= len(paths).
func Seed(ctx context.Context, st Store, o SeedOptions) (SeedStats, error) {
	o.defaults()
	paths := o.Paths
	if len(paths) == 0 {
		paths = GeneratePaths(o.Root, o.Files)
	}
	rng := rand.New(rand.NewPCG(o.Seed, o.Seed^0x9e3779b97f4a7c15))

	stats := SeedStats{Paths: paths}
	batch := make([]Record, 0, o.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := st.Put(ctx, batch); err != nil {
			return fmt.Errorf("seed batch: %w", err)
		}
		stats.Records += len(batch)
		batch = batch[:0]
		return nil
	}

	created := o.Start
	for id := 1; id <= o.Changesets; id++ {
		owner := seedOwners[rng.IntN(len(seedOwners))]
		created = created.Add(time.Duration(1+rng.IntN(180)) * time.Minute)
		cs := vcs.Changeset{
			ID:           id,
			Owner:        owner,
			Committer:    owner,
			Comment:      fmt.Sprintf("Changeset %d", id),
			CreationDate: created,
		}

		touched := map[string]struct{}{paths[(id-1)%len(paths)]: {}}
		for extra := rng.IntN(o.MaxTouched); extra > 0; extra-- {
			touched[paths[rng.IntN(len(paths))]] = struct{}{}
		}
		for p := range touched {
			batch = append(batch, Record{Path: p, Changeset: cs})
		}
		if len(batch) >= o.BatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
		stats.Changesets++
	}
	if err := flush(); err != nil {
		return stats, err
	}

	slog.Info("seeded history", "paths", len(paths), "changesets", stats.Changesets, "records", stats.Records)
	return stats, nil
}
