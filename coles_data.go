package main

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/spf13/viper"
)

const colesDataModuleName = "ColesDataModuleTrain"

// ColesDataConfig is the data_module block for contrastive training.
type ColesDataConfig struct {
	Source        DataSourceConfig `mapstructure:"source"`
	SplitStrategy SampleSlices     `mapstructure:"split_strategy"`
	BatchSize     int              `mapstructure:"batch_size"`
	ValidRate     float64          `mapstructure:"valid_rate"`
	MinSeqLen     int              `mapstructure:"min_seq_len"`
	Prefetch      int              `mapstructure:"prefetch"`
}

// ColesDataModule feeds the contrastive objective: every record in a batch
// contributes SplitStrategy.SplitCount random sub-sequence views, labeled
// with the record's position in the batch so the loss can tell positives
// from negatives.
type ColesDataModule struct {
	cfg   ColesDataConfig
	obj   Objective
	rng   *rand.Rand
	train []FeatureRecord
	valid []FeatureRecord
}

// NewColesDataModule constructs the data module from its config block and
// the already-built objective.
func NewColesDataModule(cfg *viper.Viper, obj Objective, rng *rand.Rand) (DataModule, error) {
	var c ColesDataConfig
	if err := cfg.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("coles data: decode config: %w", err)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.SplitStrategy.SplitCount <= 0 {
		c.SplitStrategy.SplitCount = 5
	}
	if c.SplitStrategy.CntMin <= 0 {
		c.SplitStrategy.CntMin = 1
	}
	return &ColesDataModule{cfg: c, obj: obj, rng: rng}, nil
}

// Setup loads, filters and splits the source records.
func (dm *ColesDataModule) Setup(ctx context.Context) error {
	records, err := LoadRecords(dm.cfg.Source)
	if err != nil {
		return err
	}
	if dm.cfg.MinSeqLen > 0 {
		kept := records[:0]
		for _, r := range records {
			if r.SeqLen() >= dm.cfg.MinSeqLen {
				kept = append(kept, r)
			}
		}
		records = kept
	}
	if err := checkFeatures(records, dm.obj.RequiredFeatures()); err != nil {
		return err
	}
	dm.train, dm.valid = splitRecords(records, dm.cfg.ValidRate, dm.rng)
	if len(dm.train) == 0 {
		return fmt.Errorf("coles data: no training records after split")
	}
	return nil
}

// TrainBatches streams one shuffled epoch of view batches.
func (dm *ColesDataModule) TrainBatches(ctx context.Context) <-chan Batch {
	order := dm.rng.Perm(len(dm.train))
	return dm.batches(ctx, dm.train, order)
}

// ValidBatches streams the validation records in fixed order.
func (dm *ColesDataModule) ValidBatches(ctx context.Context) <-chan Batch {
	order := make([]int, len(dm.valid))
	for i := range order {
		order[i] = i
	}
	return dm.batches(ctx, dm.valid, order)
}

func (dm *ColesDataModule) batches(ctx context.Context, records []FeatureRecord, order []int) <-chan Batch {
	// A canceled epoch's producer can still be drawing when the next
	// stream starts, and rand.Rand is not safe for concurrent use. Seed
	// a dedicated rng here, on the caller's goroutine, so producers
	// never share state.
	rng := rand.New(rand.NewSource(dm.rng.Int63()))
	return streamBatches(ctx, dm.cfg.Prefetch, func(emit func(Batch) bool) {
		for start := 0; start < len(order); start += dm.cfg.BatchSize {
			end := start + dm.cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}
			var views []FeatureRecord
			var labels []int
			for origin, idx := range order[start:end] {
				r := records[idx]
				for _, sl := range dm.cfg.SplitStrategy.Split(r.SeqLen(), rng) {
					views = append(views, r.Slice(sl.Start, sl.Len))
					labels = append(labels, origin)
				}
			}
			if len(views) == 0 {
				continue
			}
			if !emit(Batch{Data: Collate(views), Labels: labels}) {
				return
			}
		}
	})
}
