package main

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"github.com/spf13/viper"
)

// CoLES: contrastive learning over augmented sub-sequence views. Each
// record contributes several random slices; embeddings of slices cut from
// the same record are pulled together, everything else in the batch is
// pushed apart through a temperature-scaled softmax over cosine
// similarities.

const colesModuleName = "CoLESModule"

// ColesConfig is the objective's slice of the params block.
type ColesConfig struct {
	Encoder     EncoderConfig `mapstructure:"encoder" json:"encoder"`
	Temperature float64       `mapstructure:"temperature" json:"temperature"`
}

// CoLESModule is the contrastive objective over a pooled sequence encoder.
type CoLESModule struct {
	cfg ColesConfig
	enc *SeqEncoder
}

// NewCoLESModule constructs the objective from the params config block.
func NewCoLESModule(params *viper.Viper, rng *rand.Rand) (Objective, error) {
	var cfg ColesConfig
	if err := params.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("coles: decode params: %w", err)
	}
	return newCoLESFromConfig(cfg, rng)
}

func newCoLESFromConfig(cfg ColesConfig, rng *rand.Rand) (*CoLESModule, error) {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.05
	}
	if cfg.Temperature < 0 {
		return nil, fmt.Errorf("coles: temperature must be positive, got %g", cfg.Temperature)
	}
	enc, err := NewSeqEncoder(cfg.Encoder, rng)
	if err != nil {
		return nil, err
	}
	return &CoLESModule{cfg: cfg, enc: enc}, nil
}

func loadCoLESModule(rawCfg json.RawMessage, tensors map[string]*Tensor) (*CoLESModule, error) {
	var cfg ColesConfig
	if err := json.Unmarshal(rawCfg, &cfg); err != nil {
		return nil, fmt.Errorf("coles: decode checkpoint config: %w", err)
	}
	m, err := newCoLESFromConfig(cfg, rand.New(rand.NewSource(0)))
	if err != nil {
		return nil, err
	}
	if err := restoreParameters(m.enc.namedParameters(), tensors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CoLESModule) Name() string { return colesModuleName }

func (m *CoLESModule) Parameters() []*Tensor { return m.enc.Parameters() }

func (m *CoLESModule) RequiredFeatures() []string { return m.enc.RequiredFeatures() }

// Step computes the contrastive loss for one batch of views and accumulates
// gradients. Labels must carry the origin index of every view.
func (m *CoLESModule) Step(batch Batch) (float64, error) {
	return m.run(batch, true)
}

// Validate computes the loss without gradients.
func (m *CoLESModule) Validate(batch Batch) (float64, error) {
	return m.run(batch, false)
}

func (m *CoLESModule) run(batch Batch, train bool) (float64, error) {
	if len(batch.Labels) != batch.Data.Len() {
		return 0, fmt.Errorf("coles: batch has %d labels for %d views",
			len(batch.Labels), batch.Data.Len())
	}
	y, cache := m.enc.Pooled(batch.Data)
	loss, gradY := colesLoss(y, batch.Labels, m.cfg.Temperature, train)
	if train && gradY != nil {
		m.enc.PooledBackward(cache, gradY)
	}
	return loss, nil
}

// Encode returns the pooled, normalized embedding per sequence.
func (m *CoLESModule) Encode(batch *PaddedBatch) *Tensor {
	y, _ := m.enc.Pooled(batch)
	return y
}

// SaveWeights persists the encoder weights and config.
func (m *CoLESModule) SaveWeights(path string) error {
	return writeWeights(path, colesModuleName, m.cfg, m.enc.namedParameters())
}

// colesLoss computes the softmax contrastive loss over normalized
// embeddings y (B, H). For anchor i the positive set is every other view
// with the same label; the denominator runs over all other views:
//
//	L_i = -(1/|P(i)|) sum_{p in P(i)} log( exp(s_ip) / sum_{k!=i} exp(s_ik) )
//
// with s = (y yᵀ)/temperature. Anchors without positives are skipped.
// When wantGrad is set, the gradient with respect to y is returned.
func colesLoss(y *Tensor, labels []int, temperature float64, wantGrad bool) (float64, *Tensor) {
	b, h := y.shape[0], y.shape[1]

	// Similarity rows on demand; B is small enough to keep the full matrix.
	sims := make([][]float64, b)
	for i := 0; i < b; i++ {
		sims[i] = make([]float64, b)
		yi := y.data[i*h : (i+1)*h]
		for k := 0; k < b; k++ {
			if k == i {
				continue
			}
			sims[i][k] = kernels.dot(yi, y.data[k*h:(k+1)*h]) / temperature
		}
	}

	var gradY *Tensor
	if wantGrad {
		gradY = NewTensor(b, h)
	}

	// First pass counts anchors so gradients carry the final 1/A scale.
	anchors := 0
	positives := make([]int, b)
	for i := 0; i < b; i++ {
		for k := 0; k < b; k++ {
			if k != i && labels[k] == labels[i] {
				positives[i]++
			}
		}
		if positives[i] > 0 {
			anchors++
		}
	}
	if anchors == 0 {
		return 0, gradY
	}
	invA := 1 / float64(anchors)

	total := 0.0
	for i := 0; i < b; i++ {
		if positives[i] == 0 {
			continue
		}
		row := sims[i]

		maxv := math.Inf(-1)
		for k := 0; k < b; k++ {
			if k != i && row[k] > maxv {
				maxv = row[k]
			}
		}
		sumExp := 0.0
		for k := 0; k < b; k++ {
			if k != i {
				sumExp += math.Exp(row[k] - maxv)
			}
		}
		lse := maxv + math.Log(sumExp)

		invP := 1 / float64(positives[i])
		for k := 0; k < b; k++ {
			if k != i && labels[k] == labels[i] {
				total += (lse - row[k]) * invP
			}
		}

		if gradY == nil {
			continue
		}
		yi := y.data[i*h : (i+1)*h]
		gi := gradY.data[i*h : (i+1)*h]
		for k := 0; k < b; k++ {
			if k == i {
				continue
			}
			g := math.Exp(row[k]-lse) * invA
			if labels[k] == labels[i] {
				g -= invP * invA
			}
			scale := g / temperature
			yk := y.data[k*h : (k+1)*h]
			gk := gradY.data[k*h : (k+1)*h]
			for j := 0; j < h; j++ {
				gi[j] += scale * yk[j]
				gk[j] += scale * yi[j]
			}
		}
	}

	return total * invA, gradY
}
