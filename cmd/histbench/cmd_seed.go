package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/internal/config"
	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/internal/store"
)

var (
	seedDataDir    string
	seedBackend    string
	seedRoot       string
	seedFiles      int
	seedChangesets int
	seedMaxTouched int
	seedValue      uint64
	seedManifest   string
	seedServer     string
	seedPathsFile  string
)

var seedCmd = &cobra.Command{
	Use:          "seed",
	Short:        "Write deterministic synthetic history into a store",
	SilenceUsage: true,
	RunE:         runSeed,
}

func init() {
	f := seedCmd.Flags()
	f.StringVar(&seedDataDir, "data-dir", "data", "Directory for the changeset store")
	f.StringVar(&seedBackend, "store", store.BackendSQLite, "Store backend: sqlite, badger or pebble")
	f.StringVar(&seedRoot, "root", "$/Bench", "Server folder generated paths live under")
	f.IntVar(&seedFiles, "files", 50, "Number of file paths to generate")
	f.IntVar(&seedChangesets, "changesets", 1000, "Number of changesets to generate")
	f.IntVar(&seedMaxTouched, "max-touched", 4, "Max paths touched by one changeset")
	f.Uint64Var(&seedValue, "seed", 1, "Random seed")
	f.StringVar(&seedPathsFile, "paths-file", "", "Seed these paths (manifest or text) instead of generated ones")
	f.StringVar(&seedManifest, "manifest", "", "Write the seeded paths to this manifest for bench --paths-file")
	f.StringVar(&seedServer, "manifest-server", "", "Server URL recorded in the manifest")
}

func runSeed(cmd *cobra.Command, args []string) error {
	if seedChangesets <= 0 {
		return fmt.Errorf("--changesets must be > 0")
	}
	opts := store.SeedOptions{
		Root:       seedRoot,
		Files:      seedFiles,
		Changesets: seedChangesets,
		MaxTouched: seedMaxTouched,
		Seed:       seedValue,
	}
	if seedPathsFile != "" {
		m, err := config.ReadPathsFile(seedPathsFile)
		if err != nil {
			return err
		}
		opts.Paths = m.Paths
	}

	st, err := store.Open(seedBackend, seedDataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := store.Seed(cmd.Context(), st, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d changesets over %d paths (%d records) into %s\n",
		stats.Changesets, len(stats.Paths), stats.Records, seedDataDir)

	if seedManifest != "" {
		if seedServer != "" {
			if err := config.ValidateEndpoint(seedServer); err != nil {
				return err
			}
		}
		if err := config.WriteManifest(seedManifest, &config.Manifest{Server: seedServer, Paths: stats.Paths}); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote manifest %s\n", seedManifest)
	}
	return nil
}
