package main

import (
	"context"
	"math/rand"
	"testing"
	"time"
)

func manyRecords(n, seqLen int) []FeatureRecord {
	out := make([]FeatureRecord, n)
	for i := range out {
		amounts := make([]float64, seqLen)
		mccs := make([]float64, seqLen)
		for j := range amounts {
			amounts[j] = float64(i*seqLen + j)
			mccs[j] = float64(j % 4)
		}
		out[i] = testRecord(string(rune('a'+i)), amounts, mccs)
	}
	return out
}

func TestSplitRecords(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	records := manyRecords(10, 4)

	train, valid := splitRecords(records, 0.2, rng)
	if len(train) != 8 || len(valid) != 2 {
		t.Errorf("split 0.2 gave %d/%d, want 8/2", len(train), len(valid))
	}

	train, valid = splitRecords(records, 0, rng)
	if len(train) != 10 || len(valid) != 0 {
		t.Errorf("split 0 gave %d/%d, want 10/0", len(train), len(valid))
	}

	// A positive rate keeps at least one record for validation.
	train, valid = splitRecords(records, 0.01, rng)
	if len(valid) != 1 || len(train) != 9 {
		t.Errorf("split 0.01 gave %d/%d, want 9/1", len(train), len(valid))
	}
}

func TestCheckFeatures(t *testing.T) {
	records := manyRecords(2, 3)
	if err := checkFeatures(records, []string{"amount", "mcc"}); err != nil {
		t.Errorf("required features present but rejected: %v", err)
	}
	if err := checkFeatures(records, []string{"amount", "country"}); err == nil {
		t.Errorf("missing feature accepted")
	}
	if err := checkFeatures(nil, nil); err == nil {
		t.Errorf("empty source accepted")
	}
}

func TestStreamBatchesDeliversAll(t *testing.T) {
	ch := streamBatches(context.Background(), 2, func(emit func(Batch) bool) {
		for i := 0; i < 5; i++ {
			if !emit(Batch{Labels: []int{i}}) {
				return
			}
		}
	})
	var got []int
	for b := range ch {
		got = append(got, b.Labels[0])
	}
	if len(got) != 5 {
		t.Fatalf("received %d batches, want 5", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("batch %d carried %d", i, v)
		}
	}
}

func TestStreamBatchesStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := streamBatches(ctx, 0, func(emit func(Batch) bool) {
		for i := 0; ; i++ {
			if !emit(Batch{Labels: []int{i}}) {
				return
			}
		}
	})

	<-ch
	<-ch
	cancel()

	// The producer must observe the cancel and close the channel.
	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop after cancel")
	}
}
