package main

import "testing"

func testRecord(id string, amounts []float64, mccs []float64) FeatureRecord {
	return FeatureRecord{
		ClientID: id,
		Features: map[string][]float64{
			"amount": amounts,
			"mcc":    mccs,
		},
	}
}

func TestCollatePadsToBatchMax(t *testing.T) {
	records := []FeatureRecord{
		testRecord("a", []float64{1, 2}, []float64{3, 1}),
		testRecord("b", []float64{5, 6, 7, 8}, []float64{0, 2, 2, 1}),
	}
	batch := Collate(records)

	if batch.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", batch.Len())
	}
	lens := batch.SeqLens()
	if lens[0] != 2 || lens[1] != 4 {
		t.Fatalf("SeqLens() = %v, want [2 4]", lens)
	}

	amount := batch.Keyed()["amount"]
	if s := amount.Shape(); s[0] != 2 || s[1] != 4 {
		t.Fatalf("amount shape = %v, want [2 4]", s)
	}
	want := []float64{1, 2, 0, 0, 5, 6, 7, 8}
	for i, w := range want {
		if amount.data[i] != w {
			t.Errorf("amount[%d] = %g, want %g", i, amount.data[i], w)
		}
	}
}

func TestCollateEmptyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Collate of empty slice did not panic")
		}
	}()
	Collate(nil)
}

func TestValidateRejectsRaggedFeatures(t *testing.T) {
	r := FeatureRecord{
		ClientID: "bad",
		Features: map[string][]float64{
			"amount": {1, 2, 3},
			"mcc":    {1, 2},
		},
	}
	if err := r.Validate(); err == nil {
		t.Errorf("Validate accepted ragged feature lengths")
	}
	if err := testRecord("ok", []float64{1}, []float64{2}).Validate(); err != nil {
		t.Errorf("Validate rejected aligned record: %v", err)
	}
}

func TestSliceSharesBacking(t *testing.T) {
	r := testRecord("a", []float64{1, 2, 3, 4}, []float64{5, 6, 7, 8})
	sub := r.Slice(1, 2)
	if sub.SeqLen() != 2 {
		t.Fatalf("Slice SeqLen = %d, want 2", sub.SeqLen())
	}
	if sub.Features["amount"][0] != 2 {
		t.Errorf("slice amount[0] = %g, want 2", sub.Features["amount"][0])
	}
	r.Features["amount"][1] = 99
	if sub.Features["amount"][0] != 99 {
		t.Errorf("slice did not share backing array")
	}
}

func TestSeqLenEmptyRecord(t *testing.T) {
	r := FeatureRecord{ClientID: "empty", Features: map[string][]float64{}}
	if r.SeqLen() != 0 {
		t.Errorf("SeqLen of empty record = %d, want 0", r.SeqLen())
	}
}
