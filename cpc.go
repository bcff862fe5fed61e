package main

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"github.com/spf13/viper"
)

// CPC: contrastive predictive coding over event sequences. The encoder
// produces per-event encodings z_t; a causal context c_t (running mean of
// z_1..z_t) is scored against future encodings through one bilinear
// predictor per horizon k:
//
//	score(i, t, k, j) = c_{i,t}ᵀ W_k z_{j,t+k}
//
// For each anchor (i, t, k) the InfoNCE target is the anchor's own future
// step among the batch's candidates at the same offset; every other
// sequence's step at that offset is a negative.

const cpcModuleName = "CpcModule"

// CpcConfig is the objective's slice of the params block.
type CpcConfig struct {
	Encoder      EncoderConfig `mapstructure:"encoder" json:"encoder"`
	ForwardSteps int           `mapstructure:"forward_steps" json:"forward_steps"`
}

// CpcModule is the predictive objective over a per-event sequence encoder.
type CpcModule struct {
	cfg   CpcConfig
	enc   *SeqEncoder
	preds []*Tensor // (H, H), one per horizon
}

// NewCpcModule constructs the objective from the params config block.
func NewCpcModule(params *viper.Viper, rng *rand.Rand) (Objective, error) {
	var cfg CpcConfig
	if err := params.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cpc: decode params: %w", err)
	}
	return newCpcFromConfig(cfg, rng)
}

func newCpcFromConfig(cfg CpcConfig, rng *rand.Rand) (*CpcModule, error) {
	if cfg.ForwardSteps == 0 {
		cfg.ForwardSteps = 3
	}
	if cfg.ForwardSteps < 1 {
		return nil, fmt.Errorf("cpc: forward_steps must be positive, got %d", cfg.ForwardSteps)
	}
	enc, err := NewSeqEncoder(cfg.Encoder, rng)
	if err != nil {
		return nil, err
	}
	h := enc.HiddenSize()
	preds := make([]*Tensor, cfg.ForwardSteps)
	for k := range preds {
		preds[k] = NewTensorRand(rng, 1/math.Sqrt(float64(h)), h, h)
	}
	return &CpcModule{cfg: cfg, enc: enc, preds: preds}, nil
}

func loadCpcModule(rawCfg json.RawMessage, tensors map[string]*Tensor) (*CpcModule, error) {
	var cfg CpcConfig
	if err := json.Unmarshal(rawCfg, &cfg); err != nil {
		return nil, fmt.Errorf("cpc: decode checkpoint config: %w", err)
	}
	m, err := newCpcFromConfig(cfg, rand.New(rand.NewSource(0)))
	if err != nil {
		return nil, err
	}
	if err := restoreParameters(m.namedParameters(), tensors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CpcModule) Name() string { return cpcModuleName }

func (m *CpcModule) Parameters() []*Tensor {
	return append(m.enc.Parameters(), m.preds...)
}

func (m *CpcModule) namedParameters() []namedTensor {
	out := m.enc.namedParameters()
	for k, w := range m.preds {
		out = append(out, namedTensor{fmt.Sprintf("cpc.pred.%d", k+1), w})
	}
	return out
}

func (m *CpcModule) RequiredFeatures() []string { return m.enc.RequiredFeatures() }

// Step computes the InfoNCE loss for one batch and accumulates gradients.
func (m *CpcModule) Step(batch Batch) (float64, error) {
	return m.run(batch.Data, true)
}

// Validate computes the loss without gradients.
func (m *CpcModule) Validate(batch Batch) (float64, error) {
	return m.run(batch.Data, false)
}

func (m *CpcModule) run(data *PaddedBatch, train bool) (float64, error) {
	z, cache := m.enc.Steps(data)
	b, t, h := cache.b, cache.t, m.enc.HiddenSize()
	lengths := data.SeqLens()

	c := m.contexts(z, b, t, h, lengths)

	var gradC, gradZ *Tensor
	predGrads := make([]*Tensor, len(m.preds))
	if train {
		gradC = NewTensor(b*t, h)
		gradZ = NewTensor(b*t, h)
		for k := range predGrads {
			predGrads[k] = NewTensor(h, h)
		}
	}

	total := 0.0
	count := 0
	scores := make([]float64, b)
	probs := make([]float64, b)
	u := make([][]float64, b) // W_k z_j per candidate
	for k := 1; k <= m.cfg.ForwardSteps; k++ {
		w := m.preds[k-1]
		gw := predGrads[k-1]
		for ti := 0; ti+k < t; ti++ {
			// Candidates need a real event at offset ti+k.
			var cand []int
			for j := 0; j < b; j++ {
				if ti+k < lengths[j] {
					cand = append(cand, j)
				}
			}
			if len(cand) < 2 {
				continue
			}

			for _, j := range cand {
				zj := z.data[(j*t+ti+k)*h : (j*t+ti+k+1)*h]
				uj := make([]float64, h)
				for a := 0; a < h; a++ {
					uj[a] = kernels.dot(w.data[a*h:(a+1)*h], zj)
				}
				u[j] = uj
			}

			for _, i := range cand {
				ci := c.data[(i*t+ti)*h : (i*t+ti+1)*h]
				maxv := math.Inf(-1)
				for _, j := range cand {
					scores[j] = kernels.dot(ci, u[j])
					if scores[j] > maxv {
						maxv = scores[j]
					}
				}
				sumExp := 0.0
				for _, j := range cand {
					probs[j] = math.Exp(scores[j] - maxv)
					sumExp += probs[j]
				}
				lse := maxv + math.Log(sumExp)
				total += lse - scores[i]
				count++

				if !train {
					continue
				}
				gc := gradC.data[(i*t+ti)*h : (i*t+ti+1)*h]
				// vi = W_kᵀ c_i, shared by every negative's z-gradient.
				vi := make([]float64, h)
				for a := 0; a < h; a++ {
					kernels.axpy(ci[a], w.data[a*h:(a+1)*h], vi)
				}
				// wsum accumulates sum_j g_j z_j for the W_k gradient.
				wsum := make([]float64, h)
				for _, j := range cand {
					g := probs[j] / sumExp
					if j == i {
						g -= 1
					}
					kernels.axpy(g, u[j], gc)
					zj := z.data[(j*t+ti+k)*h : (j*t+ti+k+1)*h]
					kernels.axpy(g, zj, wsum)
					gz := gradZ.data[(j*t+ti+k)*h : (j*t+ti+k+1)*h]
					kernels.axpy(g, vi, gz)
				}
				for a := 0; a < h; a++ {
					kernels.axpy(ci[a], wsum, gw.data[a*h:(a+1)*h])
				}
			}
		}
	}

	if count == 0 {
		return 0, fmt.Errorf("cpc: no prediction targets in batch (sequences too short for forward_steps=%d)",
			m.cfg.ForwardSteps)
	}
	loss := total / float64(count)
	if !train {
		return loss, nil
	}

	inv := 1 / float64(count)
	for k, gw := range predGrads {
		for i := range gw.data {
			m.preds[k].grad[i] += inv * gw.data[i]
		}
	}

	// Route context gradients back to the encodings: c_t is the running
	// mean of z_1..z_t, so z_s collects grad(c_t)/(t+1) for every t >= s.
	for bi := 0; bi < b; bi++ {
		n := lengths[bi]
		if n > t {
			n = t
		}
		acc := make([]float64, h)
		for ti := n - 1; ti >= 0; ti-- {
			gc := gradC.data[(bi*t+ti)*h : (bi*t+ti+1)*h]
			kernels.axpy(1/float64(ti+1), gc, acc)
			gz := gradZ.data[(bi*t+ti)*h : (bi*t+ti+1)*h]
			for a := 0; a < h; a++ {
				gz[a] += acc[a]
			}
		}
	}
	for i := range gradZ.data {
		gradZ.data[i] *= inv
	}

	m.enc.StepsBackward(cache, gradZ)
	return loss, nil
}

// contexts computes the causal running-mean context for every valid step.
func (m *CpcModule) contexts(z *Tensor, b, t, h int, lengths []int) *Tensor {
	c := NewTensor(b*t, h)
	sum := make([]float64, h)
	for bi := 0; bi < b; bi++ {
		n := lengths[bi]
		if n > t {
			n = t
		}
		for a := range sum {
			sum[a] = 0
		}
		for ti := 0; ti < n; ti++ {
			zrow := z.data[(bi*t+ti)*h : (bi*t+ti+1)*h]
			for a := 0; a < h; a++ {
				sum[a] += zrow[a]
			}
			crow := c.data[(bi*t+ti)*h : (bi*t+ti+1)*h]
			inv := 1 / float64(ti+1)
			for a := 0; a < h; a++ {
				crow[a] = sum[a] * inv
			}
		}
	}
	return c
}

// Encode returns the final context vector per sequence: the running mean of
// per-event encodings at the last valid step.
func (m *CpcModule) Encode(batch *PaddedBatch) *Tensor {
	z, cache := m.enc.Steps(batch)
	b, t, h := cache.b, cache.t, m.enc.HiddenSize()
	lengths := batch.SeqLens()
	c := m.contexts(z, b, t, h, lengths)

	out := NewTensor(b, h)
	for bi := 0; bi < b; bi++ {
		n := lengths[bi]
		if n > t {
			n = t
		}
		if n == 0 {
			continue
		}
		copy(out.data[bi*h:(bi+1)*h], c.data[(bi*t+n-1)*h:(bi*t+n)*h])
	}
	return out
}

// SaveWeights persists the encoder and predictor weights plus config.
func (m *CpcModule) SaveWeights(path string) error {
	return writeWeights(path, cpcModuleName, m.cfg, m.namedParameters())
}
