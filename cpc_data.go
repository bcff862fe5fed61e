package main

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/spf13/viper"
)

const cpcDataModuleName = "CpcDataModuleTrain"

// CpcDataConfig is the data_module block for predictive training.
type CpcDataConfig struct {
	Source      DataSourceConfig `mapstructure:"source"`
	SeqLen      int              `mapstructure:"seq_len"`
	StepRate    float64          `mapstructure:"step_rate"`
	RandomShift int              `mapstructure:"random_shift"`
	RandomCrop  int              `mapstructure:"random_crop"`
	BatchSize   int              `mapstructure:"batch_size"`
	ValidRate   float64          `mapstructure:"valid_rate"`
	Prefetch    int              `mapstructure:"prefetch"`
}

// CpcDataModule feeds the predictive objective with fixed-width windows cut
// from each record by a sliding index, jittered per epoch by the random
// shift and crop settings.
type CpcDataModule struct {
	cfg          CpcDataConfig
	obj          Objective
	rng          *rand.Rand
	trainWindows *SlidingWindows
	validWindows *SlidingWindows
}

// NewCpcDataModule constructs the data module from its config block and the
// already-built objective.
func NewCpcDataModule(cfg *viper.Viper, obj Objective, rng *rand.Rand) (DataModule, error) {
	var c CpcDataConfig
	if err := cfg.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("cpc data: decode config: %w", err)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.SeqLen <= 0 {
		c.SeqLen = 64
	}
	if c.StepRate <= 0 {
		c.StepRate = 1.0
	}
	return &CpcDataModule{cfg: c, obj: obj, rng: rng}, nil
}

// Setup loads the source and builds the train and validation window
// indexes.
func (dm *CpcDataModule) Setup(ctx context.Context) error {
	records, err := LoadRecords(dm.cfg.Source)
	if err != nil {
		return err
	}
	// Windows narrower than the index step carry no usable prediction
	// targets; drop records shorter than the window outright.
	kept := records[:0]
	for _, r := range records {
		if r.SeqLen() >= dm.cfg.SeqLen {
			kept = append(kept, r)
		}
	}
	records = kept
	if err := checkFeatures(records, dm.obj.RequiredFeatures()); err != nil {
		return err
	}

	train, valid := splitRecords(records, dm.cfg.ValidRate, dm.rng)
	dm.trainWindows, err = NewSlidingWindows(train, dm.cfg.SeqLen, dm.cfg.StepRate,
		dm.cfg.RandomShift, dm.cfg.RandomCrop)
	if err != nil {
		return err
	}
	// Validation windows are deterministic: no shift, no crop.
	dm.validWindows, err = NewSlidingWindows(valid, dm.cfg.SeqLen, dm.cfg.StepRate, 0, 0)
	if err != nil {
		return err
	}
	if dm.trainWindows.Len() == 0 {
		return fmt.Errorf("cpc data: no training windows (seq_len %d too large for source?)", dm.cfg.SeqLen)
	}
	return nil
}

// TrainBatches streams one shuffled epoch of window batches.
func (dm *CpcDataModule) TrainBatches(ctx context.Context) <-chan Batch {
	order := dm.rng.Perm(dm.trainWindows.Len())
	return dm.batches(ctx, dm.trainWindows, order)
}

// ValidBatches streams the validation windows in fixed order.
func (dm *CpcDataModule) ValidBatches(ctx context.Context) <-chan Batch {
	order := make([]int, dm.validWindows.Len())
	for i := range order {
		order[i] = i
	}
	return dm.batches(ctx, dm.validWindows, order)
}

func (dm *CpcDataModule) batches(ctx context.Context, windows *SlidingWindows, order []int) <-chan Batch {
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
			samples := make([]FeatureRecord, 0, end-start)
			for _, idx := range order[start:end] {
				samples = append(samples, windows.Sample(idx, rng))
			}
			if !emit(Batch{Data: Collate(samples)}) {
				return
			}
		}
	})
}
