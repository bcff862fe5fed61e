package main

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func newEmbeddingsCmd() *cobra.Command {
	var (
		modelPath  string
		sourceType string
		sourcePath string
		table      string
		filter     string
		outputPath string
		batchSize  int
		pcaDims    int
	)

	cmd := &cobra.Command{
		Use:   "embeddings",
		Short: "Export per-client embeddings from a trained model",
		Long: "Loads a weights checkpoint, encodes every record in the source to one\n" +
			"embedding, and writes them as CSV. With --pca the embeddings are first\n" +
			"projected onto their top principal components.",
		RunE: func(cmd *cobra.Command, args []string) error {
			obj, err := LoadObjective(modelPath)
			if err != nil {
				return err
			}
			slog.Info("model loaded", "module", obj.Name(), "path", modelPath)

			records, err := LoadRecords(DataSourceConfig{
				Type: sourceType, Path: sourcePath, Table: table, Filter: filter,
			})
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return fmt.Errorf("embeddings: source has no records")
			}
			for _, name := range obj.RequiredFeatures() {
				if _, ok := records[0].Features[name]; !ok {
					return fmt.Errorf("embeddings: source lacks required feature %q", name)
				}
			}

			ids, emb := encodeAll(obj, records, batchSize)
			if pcaDims > 0 {
				emb, err = PCA(emb, pcaDims)
				if err != nil {
					return err
				}
			}

			if err := writeEmbeddingsCSV(outputPath, ids, emb); err != nil {
				return err
			}
			slog.Info("embeddings written",
				"path", outputPath, "records", len(ids), "dim", emb.Shape()[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&modelPath, "model", "", "Weights checkpoint path")
	cmd.Flags().StringVar(&sourceType, "source-type", "jsonl", "Source backend: jsonl|pebble|sqlite")
	cmd.Flags().StringVar(&sourcePath, "source", "", "Source path (file, directory or database)")
	cmd.Flags().StringVar(&table, "table", "events", "Events table for the sqlite backend")
	cmd.Flags().StringVar(&filter, "filter", "", "Optional CEL record filter")
	cmd.Flags().StringVar(&outputPath, "output", "embeddings.csv", "Output CSV path")
	cmd.Flags().IntVar(&batchSize, "batch-size", 256, "Inference batch size")
	cmd.Flags().IntVar(&pcaDims, "pca", 0, "Project embeddings to this many principal components (0 = off)")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

// encodeAll encodes records in batches of one whole sequence each and
// stacks the per-record embeddings.
func encodeAll(obj Objective, records []FeatureRecord, batchSize int) ([]string, *Tensor) {
	if batchSize <= 0 {
		batchSize = 256
	}
	ids := make([]string, 0, len(records))
	var rows [][]float64
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]
		emb := obj.Encode(Collate(chunk))
		h := emb.Shape()[1]
		for i, r := range chunk {
			ids = append(ids, r.ClientID)
			row := make([]float64, h)
			copy(row, emb.data[i*h:(i+1)*h])
			rows = append(rows, row)
		}
	}
	h := len(rows[0])
	out := NewTensor(len(rows), h)
	for i, row := range rows {
		copy(out.data[i*h:(i+1)*h], row)
	}
	return ids, out
}

func writeEmbeddingsCSV(path string, ids []string, emb *Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("embeddings: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	h := emb.Shape()[1]
	header := make([]string, 1, h+1)
	header[0] = "client_id"
	for j := 0; j < h; j++ {
		header = append(header, "e"+strconv.Itoa(j))
	}
	if err := w.Write(header); err != nil {
		return err
	}
	row := make([]string, h+1)
	for i, id := range ids {
		row[0] = id
		for j := 0; j < h; j++ {
			row[j+1] = strconv.FormatFloat(emb.data[i*h+j], 'g', -1, 64)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
