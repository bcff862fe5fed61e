package main

import (
	"github.com/klauspost/cpuid/v2"
)

// Inner compute kernels for the hot loops in MatMul and the similarity
// matrices. The wide variants are written so the compiler can keep four
// independent accumulator chains in flight; they only pay off on cores with
// fused multiply-add and wide vector units, so selection is gated on CPU
// feature detection at startup.

type computeKernels struct {
	name string
	dot  func(a, b []float64) float64
	axpy func(alpha float64, x, y []float64)
}

var kernels = detectKernels()

func detectKernels() computeKernels {
	if cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3) || cpuid.CPU.Supports(cpuid.ASIMD) {
		return computeKernels{name: "wide", dot: dotWide, axpy: axpyWide}
	}
	return computeKernels{name: "generic", dot: dotGeneric, axpy: axpyGeneric}
}

func dotGeneric(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// dotWide unrolls by four with independent accumulators, breaking the
// serial dependence on a single sum.
func dotWide(a, b []float64) float64 {
	var s0, s1, s2, s3 float64
	n := len(a) &^ 3
	for i := 0; i < n; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	sum := s0 + s1 + s2 + s3
	for i := n; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func axpyGeneric(alpha float64, x, y []float64) {
	for i := range x {
		y[i] += alpha * x[i]
	}
}

func axpyWide(alpha float64, x, y []float64) {
	n := len(x) &^ 3
	for i := 0; i < n; i += 4 {
		y[i] += alpha * x[i]
		y[i+1] += alpha * x[i+1]
		y[i+2] += alpha * x[i+2]
		y[i+3] += alpha * x[i+3]
	}
	for i := n; i < len(x); i++ {
		y[i] += alpha * x[i]
	}
}
