package main

import (
	"context"
	"fmt"
	"math/rand"
)

// DataModule produces the batches a training run consumes. Setup loads and
// splits the source records; the batch methods stream one epoch per call
// through a channel so consumption stays iterable regardless of source
// size. The channel is closed at end of epoch; cancel ctx to stop early
// without leaking the producer goroutine.
type DataModule interface {
	Setup(ctx context.Context) error
	TrainBatches(ctx context.Context) <-chan Batch
	ValidBatches(ctx context.Context) <-chan Batch
}

// streamBatches runs build on its own goroutine, emitting batches with the
// configured prefetch depth. Prefetch is a construction-time capability:
// zero means fully synchronous handoff, larger values let batch assembly
// run ahead of the training step.
func streamBatches(ctx context.Context, prefetch int, build func(emit func(Batch) bool)) <-chan Batch {
	if prefetch < 0 {
		prefetch = 0
	}
	out := make(chan Batch, prefetch)
	go func() {
		defer close(out)
		build(func(b Batch) bool {
			select {
			case out <- b:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return out
}

// splitRecords partitions records into train and validation sets, keeping
// validRate of them (at least one when the rate is positive) for
// validation. Records are shuffled first so the split is unbiased with
// ordered sources.
func splitRecords(records []FeatureRecord, validRate float64, rng *rand.Rand) (train, valid []FeatureRecord) {
	shuffled := make([]FeatureRecord, len(records))
	copy(shuffled, records)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	nValid := int(float64(len(shuffled)) * validRate)
	if validRate > 0 && nValid == 0 && len(shuffled) > 1 {
		nValid = 1
	}
	return shuffled[nValid:], shuffled[:nValid]
}

// checkFeatures verifies every required feature exists in the records.
// This is why data modules hold a reference to the objective: the encoder
// dictates what a collated batch must carry.
func checkFeatures(records []FeatureRecord, required []string) error {
	if len(records) == 0 {
		return fmt.Errorf("data module: source is empty")
	}
	for _, name := range required {
		if _, ok := records[0].Features[name]; !ok {
			return fmt.Errorf("data module: source lacks required feature %q", name)
		}
	}
	return nil
}
