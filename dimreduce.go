package main

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// PCA projects embeddings (N, D) onto their top-k principal components via
// thin SVD of the column-centered matrix. Used by the embeddings command to
// make trained sequence embeddings plottable.
func PCA(embeddings *Tensor, k int) (*Tensor, error) {
	if embeddings.Dims() != 2 {
		return nil, fmt.Errorf("pca: embeddings must be 2D, got %dD", embeddings.Dims())
	}
	n, d := embeddings.shape[0], embeddings.shape[1]
	if k <= 0 || k > d {
		return nil, fmt.Errorf("pca: components must be in [1, %d], got %d", d, k)
	}
	if n < 2 {
		return nil, fmt.Errorf("pca: need at least 2 embeddings, got %d", n)
	}

	centered := make([]float64, n*d)
	for j := 0; j < d; j++ {
		mean := 0.0
		for i := 0; i < n; i++ {
			mean += embeddings.data[i*d+j]
		}
		mean /= float64(n)
		for i := 0; i < n; i++ {
			centered[i*d+j] = embeddings.data[i*d+j] - mean
		}
	}

	a := mat.NewDense(n, d, centered)
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, fmt.Errorf("pca: svd failed to converge")
	}
	var v mat.Dense
	svd.VTo(&v)

	// Project onto the first k right singular vectors.
	proj := mat.NewDense(d, k, nil)
	proj.Copy(v.Slice(0, d, 0, k))
	var out mat.Dense
	out.Mul(a, proj)

	result := NewTensor(n, k)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			result.data[i*k+j] = out.At(i, j)
		}
	}
	return result, nil
}
