package main

import (
	"math"
	"testing"
)

func TestPCAShape(t *testing.T) {
	emb := NewTensor(5, 4)
	for i := range emb.data {
		emb.data[i] = float64(i%7) - 3
	}
	out, err := PCA(emb, 2)
	if err != nil {
		t.Fatal(err)
	}
	if s := out.Shape(); s[0] != 5 || s[1] != 2 {
		t.Errorf("PCA shape = %v, want [5 2]", s)
	}
}

func TestPCAErrors(t *testing.T) {
	emb := NewTensor(5, 4)
	if _, err := PCA(emb, 0); err == nil {
		t.Errorf("k = 0 accepted")
	}
	if _, err := PCA(emb, 5); err == nil {
		t.Errorf("k > dim accepted")
	}
	if _, err := PCA(NewTensor(1, 4), 2); err == nil {
		t.Errorf("single embedding accepted")
	}
	if _, err := PCA(NewTensor(2, 3, 4), 2); err == nil {
		t.Errorf("3D input accepted")
	}
}

func TestPCAPreservesColinearDistances(t *testing.T) {
	// Points on a line in 3D project onto one component with pairwise
	// distances intact.
	n := 6
	emb := NewTensor(n, 3)
	for i := 0; i < n; i++ {
		s := float64(i)
		emb.data[i*3+0] = 1 * s
		emb.data[i*3+1] = 2 * s
		emb.data[i*3+2] = 2 * s
	}
	out, err := PCA(emb, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < n; i++ {
		got := math.Abs(out.data[i] - out.data[i-1])
		// Consecutive points are 3 apart along the line.
		if math.Abs(got-3) > 1e-9 {
			t.Errorf("projected gap %d = %g, want 3", i, got)
		}
	}
}
