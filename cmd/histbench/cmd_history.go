package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/pkg/vcs"
)

var (
	historyVersion   string
	historyRecursion string
	historyMaxCount  int
	historyJSON      bool
)

var historyCmd = &cobra.Command{
	Use:          "history <path>",
	Short:        "Run one history query and print the changeset ids",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runHistory,
}

func init() {
	addClientFlags(historyCmd)
	historyCmd.Flags().StringVar(&historyVersion, "version-spec", vcs.VersionLatest, "Version spec: T (latest) or C<changeset>")
	historyCmd.Flags().StringVar(&historyRecursion, "recursion", string(vcs.RecursionNone), "Recursion: none, one-level or full")
	historyCmd.Flags().IntVar(&historyMaxCount, "max-count", 0, "Return at most this many changesets (0 = all)")
	historyCmd.Flags().BoolVar(&historyJSON, "output-json", false, "Print full changesets as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	b, err := loadBench(cmd)
	if err != nil {
		return err
	}
	rec, err := vcs.ParseRecursion(historyRecursion)
	if err != nil {
		return err
	}
	connector, err := b.Connector()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	h, err := connector.Connect(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	q := vcs.HistoryQuery{
		Path:      args[0],
		Version:   historyVersion,
		Recursion: rec,
		MaxCount:  historyMaxCount,
	}
	history, err := h.QueryHistory(ctx, q)
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(vcs.HistoryResponse{Path: q.Path, Changesets: history, Count: len(history)})
	}
	ids := make([]string, len(history))
	for i, cs := range history {
		ids[i] = fmt.Sprint(cs.ID)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d changesets\n", q.Path, len(history))
	if len(ids) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(ids, " "))
	}
	return nil
}
