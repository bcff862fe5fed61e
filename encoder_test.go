package main

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func testEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Embeddings:    map[string]EmbeddingSpec{"mcc": {In: 4, Out: 2}},
		NumericValues: map[string]string{"amount": "log"},
		HiddenSize:    4,
	}
}

func TestEncoderConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  EncoderConfig
		ok   bool
	}{
		{"valid", testEncoderConfig(), true},
		{"no features", EncoderConfig{HiddenSize: 4}, false},
		{"bad table size", EncoderConfig{
			Embeddings: map[string]EmbeddingSpec{"mcc": {In: 0, Out: 2}},
			HiddenSize: 4,
		}, false},
		{"bad transform", EncoderConfig{
			NumericValues: map[string]string{"amount": "sqrt"},
			HiddenSize:    4,
		}, false},
		{"bad hidden size", EncoderConfig{
			NumericValues: map[string]string{"amount": "identity"},
			HiddenSize:    0,
		}, false},
	}
	for _, tc := range cases {
		err := tc.cfg.validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: invalid config accepted", tc.name)
		}
	}
}

func TestTrxEncoderForward(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	enc, err := NewTrxEncoder(testEncoderConfig(), rng)
	if err != nil {
		t.Fatal(err)
	}
	batch := Collate([]FeatureRecord{
		testRecord("a", []float64{0, 10}, []float64{1, 3}),
	})
	x := enc.Forward(batch)
	if s := x.Shape(); s[0] != 2 || s[1] != 3 {
		t.Fatalf("x shape = %v, want [2 3]", s)
	}

	// Categorical columns come first in sorted feature order: the first
	// event looks up table row 1.
	table := enc.tables["mcc"]
	for j := 0; j < 2; j++ {
		if x.At(0, j) != table.At(1, j) {
			t.Errorf("x[0][%d] = %g, want table row 1 value %g", j, x.At(0, j), table.At(1, j))
		}
	}
	// Numeric column carries the signed log transform.
	if got, want := x.At(1, 2), math.Log1p(10); math.Abs(got-want) > 1e-12 {
		t.Errorf("x[1][2] = %g, want log1p(10) = %g", got, want)
	}
	if x.At(0, 2) != 0 {
		t.Errorf("x[0][2] = %g, want log1p(0) = 0", x.At(0, 2))
	}
}

func TestClampIndex(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	enc, err := NewTrxEncoder(testEncoderConfig(), rng)
	if err != nil {
		t.Fatal(err)
	}
	if got := enc.clampIndex(-3, 4); got != 0 {
		t.Errorf("clampIndex(-3, 4) = %d, want 0", got)
	}
	if got := enc.clampIndex(9, 4); got != 1 {
		t.Errorf("clampIndex(9, 4) = %d, want 1", got)
	}
	if got := enc.clampIndex(2, 4); got != 2 {
		t.Errorf("clampIndex(2, 4) = %d, want 2", got)
	}
}

func TestSignedLog1p(t *testing.T) {
	if got := signedLog1p(-5); math.Abs(got+math.Log1p(5)) > 1e-12 {
		t.Errorf("signedLog1p(-5) = %g, want %g", got, -math.Log1p(5))
	}
	if signedLog1p(0) != 0 {
		t.Errorf("signedLog1p(0) = %g, want 0", signedLog1p(0))
	}
}

func TestRequiredFeaturesSorted(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	enc, err := NewSeqEncoder(testEncoderConfig(), rng)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"amount", "mcc"}
	if got := enc.RequiredFeatures(); !reflect.DeepEqual(got, want) {
		t.Errorf("RequiredFeatures() = %v, want %v", got, want)
	}
}

func TestPooledUnitNorm(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	enc, err := NewSeqEncoder(testEncoderConfig(), rng)
	if err != nil {
		t.Fatal(err)
	}
	batch := Collate([]FeatureRecord{
		testRecord("a", []float64{1, 2, 3}, []float64{0, 1, 2}),
		testRecord("b", []float64{4, 5}, []float64{3, 0}),
	})
	y, _ := enc.Pooled(batch)
	if s := y.Shape(); s[0] != 2 || s[1] != 4 {
		t.Fatalf("y shape = %v, want [2 4]", s)
	}
	for i := 0; i < 2; i++ {
		norm := 0.0
		for j := 0; j < 4; j++ {
			norm += y.At(i, j) * y.At(i, j)
		}
		norm = math.Sqrt(norm)
		if math.Abs(norm-1) > 1e-9 {
			t.Errorf("embedding %d norm = %g, want 1", i, norm)
		}
	}
}

func TestPooledIgnoresPadding(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	enc, err := NewSeqEncoder(testEncoderConfig(), rng)
	if err != nil {
		t.Fatal(err)
	}

	makeBatch := func(padAmount, padMcc float64) *PaddedBatch {
		amount := NewTensor(1, 4)
		copy(amount.data, []float64{1, 2, padAmount, padAmount})
		mcc := NewTensor(1, 4)
		copy(mcc.data, []float64{0, 1, padMcc, padMcc})
		return NewPaddedBatch(map[string]*Tensor{"amount": amount, "mcc": mcc}, []int{2})
	}

	y1, _ := enc.Pooled(makeBatch(0, 0))
	y2, _ := enc.Pooled(makeBatch(999, 3))
	if !y1.Equal(y2) {
		t.Errorf("padding contents changed pooled embedding:\n%v\nvs\n%v", y1, y2)
	}
}

func TestPooledBackwardAccumulatesGrads(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	enc, err := NewSeqEncoder(testEncoderConfig(), rng)
	if err != nil {
		t.Fatal(err)
	}
	batch := Collate([]FeatureRecord{
		testRecord("a", []float64{1, 2, 3}, []float64{1, 2, 3}),
	})
	y, cache := enc.Pooled(batch)
	gradY := NewTensor(y.Shape()...)
	for i := range gradY.data {
		gradY.data[i] = 1
	}
	enc.PooledBackward(cache, gradY)

	nonzero := func(p *Tensor) bool {
		for _, g := range p.grad {
			if g != 0 {
				return true
			}
		}
		return false
	}
	if !nonzero(enc.w1) || !nonzero(enc.w2) {
		t.Errorf("MLP weights received no gradient")
	}
	if !nonzero(enc.trx.tables["mcc"]) {
		t.Errorf("embedding table received no gradient")
	}
	// Table rows never looked up stay untouched: index 0 is unused here.
	table := enc.trx.tables["mcc"]
	for j := 0; j < 2; j++ {
		if table.GradAt(0, j) != 0 {
			t.Errorf("unused table row 0 received gradient %g", table.GradAt(0, j))
		}
	}
}
