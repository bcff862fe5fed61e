package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newDatasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Manage feature record stores",
	}
	cmd.AddCommand(newDatasetImportCmd(), newDatasetStatsCmd())
	return cmd
}

func newDatasetImportCmd() *cobra.Command {
	var (
		jsonlPath string
		storeDir  string
		filter    string
		sync      bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import JSONL feature records into a key-value store",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := LoadRecords(DataSourceConfig{
				Type: "jsonl", Path: jsonlPath, Filter: filter,
			})
			if err != nil {
				return err
			}
			store, err := OpenFeatureStore(FeatureStoreOptions{Dir: storeDir, Sync: sync})
			if err != nil {
				return err
			}
			defer store.Close()

			for _, r := range records {
				if err := store.Put(r); err != nil {
					return fmt.Errorf("dataset: import %s: %w", r.ClientID, err)
				}
			}
			slog.Info("records imported", "count", len(records), "store", storeDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&jsonlPath, "jsonl", "", "JSONL input file")
	cmd.Flags().StringVar(&storeDir, "store", "", "Store directory")
	cmd.Flags().StringVar(&filter, "filter", "", "Optional CEL record filter")
	cmd.Flags().BoolVar(&sync, "sync", false, "Fsync every write")
	_ = cmd.MarkFlagRequired("jsonl")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}

func newDatasetStatsCmd() *cobra.Command {
	var storeDir string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print record and event counts for a store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := OpenFeatureStore(FeatureStoreOptions{Dir: storeDir})
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.All()
			if err != nil {
				return err
			}
			events := 0
			minLen, maxLen := 0, 0
			for i, r := range records {
				n := r.SeqLen()
				events += n
				if i == 0 || n < minLen {
					minLen = n
				}
				if n > maxLen {
					maxLen = n
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"records: %d\nevents: %d\nmin seq len: %d\nmax seq len: %d\n",
				len(records), events, minLen, maxLen)
			return nil
		},
	}
	cmd.Flags().StringVar(&storeDir, "store", "", "Store directory")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}
