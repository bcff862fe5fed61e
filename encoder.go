package main

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// EmbeddingSpec sizes one categorical feature's embedding table:
// In is the dictionary size, Out the embedding width.
type EmbeddingSpec struct {
	In  int `mapstructure:"in" json:"in"`
	Out int `mapstructure:"out" json:"out"`
}

// EncoderConfig describes how raw event features become vectors.
type EncoderConfig struct {
	// Embeddings maps categorical feature names to table sizes.
	Embeddings map[string]EmbeddingSpec `mapstructure:"embeddings" json:"embeddings"`
	// NumericValues maps continuous feature names to a transform:
	// "identity" or "log" (signed log1p, robust to heavy-tailed amounts).
	NumericValues map[string]string `mapstructure:"numeric_values" json:"numeric_values"`
	// HiddenSize is the width of per-event encodings and of the final
	// sequence embedding.
	HiddenSize int `mapstructure:"hidden_size" json:"hidden_size"`
}

func (c EncoderConfig) validate() error {
	if len(c.Embeddings) == 0 && len(c.NumericValues) == 0 {
		return fmt.Errorf("encoder: no features configured")
	}
	for name, spec := range c.Embeddings {
		if spec.In <= 0 || spec.Out <= 0 {
			return fmt.Errorf("encoder: embedding %q needs positive in/out, got %d/%d",
				name, spec.In, spec.Out)
		}
	}
	for name, tr := range c.NumericValues {
		if tr != "identity" && tr != "log" {
			return fmt.Errorf("encoder: numeric %q has unknown transform %q", name, tr)
		}
	}
	if c.HiddenSize <= 0 {
		return fmt.Errorf("encoder: hidden_size must be positive, got %d", c.HiddenSize)
	}
	return nil
}

// inputDim is the width of the concatenated per-event vector.
func (c EncoderConfig) inputDim() int {
	d := len(c.NumericValues)
	for _, spec := range c.Embeddings {
		d += spec.Out
	}
	return d
}

// TrxEncoder turns one event into a vector: each categorical feature is an
// embedding-table lookup, each numeric feature a transformed scalar, and
// the pieces are concatenated in sorted feature order.
type TrxEncoder struct {
	cfg      EncoderConfig
	catNames []string
	numNames []string
	tables   map[string]*Tensor // (In, Out) per categorical feature
	offsets  map[string]int     // feature -> first column in the event vector
	dim      int
}

// NewTrxEncoder builds the encoder with tables drawn from N(0, 0.02^2).
func NewTrxEncoder(cfg EncoderConfig, rng *rand.Rand) (*TrxEncoder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &TrxEncoder{
		cfg:     cfg,
		tables:  make(map[string]*Tensor, len(cfg.Embeddings)),
		offsets: make(map[string]int, len(cfg.Embeddings)+len(cfg.NumericValues)),
	}
	for name := range cfg.Embeddings {
		e.catNames = append(e.catNames, name)
	}
	sort.Strings(e.catNames)
	for name := range cfg.NumericValues {
		e.numNames = append(e.numNames, name)
	}
	sort.Strings(e.numNames)

	off := 0
	for _, name := range e.catNames {
		spec := cfg.Embeddings[name]
		e.tables[name] = NewTensorRand(rng, 0.02, spec.In, spec.Out)
		e.offsets[name] = off
		off += spec.Out
	}
	for _, name := range e.numNames {
		e.offsets[name] = off
		off++
	}
	e.dim = off
	return e, nil
}

// RequiredFeatures returns the feature names the encoder consumes.
func (e *TrxEncoder) RequiredFeatures() []string {
	out := make([]string, 0, len(e.catNames)+len(e.numNames))
	out = append(out, e.catNames...)
	out = append(out, e.numNames...)
	sort.Strings(out)
	return out
}

// Forward encodes a keyed batch to (B*T, dim), flattened along time so the
// downstream per-event MLP is a single matmul. Padded positions encode to
// zero rows apart from table row 0 contributions; they are excluded from
// gradients and losses via the batch mask.
func (e *TrxEncoder) Forward(batch *PaddedBatch) *Tensor {
	b, t := batch.dims()
	x := NewTensor(b*t, e.dim)
	for _, name := range e.catNames {
		feat, ok := batch.Keyed()[name]
		if !ok {
			panic(fmt.Sprintf("encoder: batch missing feature %q", name))
		}
		table := e.tables[name]
		spec := e.cfg.Embeddings[name]
		off := e.offsets[name]
		for i := 0; i < b*t; i++ {
			idx := e.clampIndex(int(feat.data[i]), spec.In)
			copy(x.data[i*e.dim+off:i*e.dim+off+spec.Out],
				table.data[idx*spec.Out:(idx+1)*spec.Out])
		}
	}
	for _, name := range e.numNames {
		feat, ok := batch.Keyed()[name]
		if !ok {
			panic(fmt.Sprintf("encoder: batch missing feature %q", name))
		}
		off := e.offsets[name]
		logTransform := e.cfg.NumericValues[name] == "log"
		for i := 0; i < b*t; i++ {
			v := feat.data[i]
			if logTransform {
				v = signedLog1p(v)
			}
			x.data[i*e.dim+off] = v
		}
	}
	return x
}

// Backward scatters gradX (B*T, dim) into the embedding tables. Only valid
// positions (t < length[i]) contribute; numeric columns carry no parameters.
func (e *TrxEncoder) Backward(batch *PaddedBatch, gradX *Tensor) {
	_, maxT := batch.dims()
	lengths := batch.SeqLens()
	for _, name := range e.catNames {
		feat := batch.Keyed()[name]
		table := e.tables[name]
		spec := e.cfg.Embeddings[name]
		off := e.offsets[name]
		for bi, n := range lengths {
			if n > maxT {
				n = maxT
			}
			for ti := 0; ti < n; ti++ {
				i := bi*maxT + ti
				idx := e.clampIndex(int(feat.data[i]), spec.In)
				grow := table.grad[idx*spec.Out : (idx+1)*spec.Out]
				xrow := gradX.data[i*e.dim+off : i*e.dim+off+spec.Out]
				for j := range grow {
					grow[j] += xrow[j]
				}
			}
		}
	}
}

func (e *TrxEncoder) clampIndex(idx, in int) int {
	if idx < 0 {
		return 0
	}
	if idx >= in {
		return idx % in
	}
	return idx
}

func signedLog1p(v float64) float64 {
	if v < 0 {
		return -math.Log1p(-v)
	}
	return math.Log1p(v)
}

// SeqEncoder maps a padded batch of events to per-event encodings and to a
// pooled, L2-normalized sequence embedding. The per-event path is a
// two-layer MLP over TrxEncoder outputs; the pooled path masks out padding
// and averages the valid per-event encodings.
type SeqEncoder struct {
	trx    *TrxEncoder
	w1     *Tensor // (dim, hidden)
	b1     *Tensor // (1, hidden)
	w2     *Tensor // (hidden, hidden)
	b2     *Tensor // (1, hidden)
	hidden int
}

// NewSeqEncoder builds the encoder stack from config.
func NewSeqEncoder(cfg EncoderConfig, rng *rand.Rand) (*SeqEncoder, error) {
	trx, err := NewTrxEncoder(cfg, rng)
	if err != nil {
		return nil, err
	}
	h := cfg.HiddenSize
	return &SeqEncoder{
		trx:    trx,
		w1:     NewTensorRand(rng, 1/math.Sqrt(float64(trx.dim)), trx.dim, h),
		b1:     NewTensor(1, h),
		w2:     NewTensorRand(rng, 1/math.Sqrt(float64(h)), h, h),
		b2:     NewTensor(1, h),
		hidden: h,
	}, nil
}

// HiddenSize returns the embedding width.
func (s *SeqEncoder) HiddenSize() int { return s.hidden }

// RequiredFeatures returns the features the encoder consumes.
func (s *SeqEncoder) RequiredFeatures() []string { return s.trx.RequiredFeatures() }

// Parameters returns all trainable tensors in a stable order.
func (s *SeqEncoder) Parameters() []*Tensor {
	params := make([]*Tensor, 0, len(s.trx.catNames)+4)
	for _, name := range s.trx.catNames {
		params = append(params, s.trx.tables[name])
	}
	return append(params, s.w1, s.b1, s.w2, s.b2)
}

// namedParameters pairs parameters with stable checkpoint names.
func (s *SeqEncoder) namedParameters() []namedTensor {
	out := make([]namedTensor, 0, len(s.trx.catNames)+4)
	for _, name := range s.trx.catNames {
		out = append(out, namedTensor{"trx.emb." + name, s.trx.tables[name]})
	}
	out = append(out,
		namedTensor{"seq.w1", s.w1},
		namedTensor{"seq.b1", s.b1},
		namedTensor{"seq.w2", s.w2},
		namedTensor{"seq.b2", s.b2},
	)
	return out
}

// stepCache holds forward activations needed by the backward pass.
type stepCache struct {
	batch  *PaddedBatch
	x      *Tensor // (B*T, dim) trx output
	h1pre  *Tensor // (B*T, hidden) pre-activation
	z      *Tensor // (B*T, hidden) per-event encodings
	b, t   int
	pooled *Tensor   // (B, hidden) masked mean, pooled path only
	norms  []float64 // per-sequence norm of pooled, pooled path only
	y      *Tensor   // (B, hidden) normalized embeddings, pooled path only
}

// Steps encodes every event: z = ReLU(x W1 + b1) W2 + b2, shape (B*T, hidden).
func (s *SeqEncoder) Steps(batch *PaddedBatch) (*Tensor, *stepCache) {
	b, t := batch.dims()
	x := s.trx.Forward(batch)
	h1pre := addBias(MatMul(x, s.w1), s.b1)
	h1 := ReLU(h1pre)
	z := addBias(MatMul(h1, s.w2), s.b2)
	return z, &stepCache{batch: batch, x: x, h1pre: h1pre, z: z, b: b, t: t}
}

// StepsBackward propagates gradZ (B*T, hidden) through the per-event MLP
// into the encoder parameters. gradZ must be zero at padded positions.
func (s *SeqEncoder) StepsBackward(cache *stepCache, gradZ *Tensor) {
	h1 := ReLU(cache.h1pre)

	// z = h1 W2 + b2
	accumulateGrad(s.w2, MatMul(Transpose(h1), gradZ))
	accumulateGrad(s.b2, colSum(gradZ))
	gradH1 := MatMul(gradZ, Transpose(s.w2))

	// h1 = relu(h1pre)
	for i, v := range cache.h1pre.data {
		if v <= 0 {
			gradH1.data[i] = 0
		}
	}

	// h1pre = x W1 + b1
	accumulateGrad(s.w1, MatMul(Transpose(cache.x), gradH1))
	accumulateGrad(s.b1, colSum(gradH1))
	gradX := MatMul(gradH1, Transpose(s.w1))

	s.trx.Backward(cache.batch, gradX)
}

// Pooled returns L2-normalized sequence embeddings (B, hidden): the masked
// mean of per-event encodings, projected onto the unit sphere so downstream
// similarities are cosines.
func (s *SeqEncoder) Pooled(batch *PaddedBatch) (*Tensor, *stepCache) {
	z, cache := s.Steps(batch)
	b, t, h := cache.b, cache.t, s.hidden
	lengths := batch.SeqLens()

	pooled := NewTensor(b, h)
	for bi := 0; bi < b; bi++ {
		n := lengths[bi]
		if n > t {
			n = t
		}
		if n == 0 {
			continue
		}
		row := pooled.data[bi*h : (bi+1)*h]
		for ti := 0; ti < n; ti++ {
			zrow := z.data[(bi*t+ti)*h : (bi*t+ti+1)*h]
			for j := range row {
				row[j] += zrow[j]
			}
		}
		inv := 1 / float64(n)
		for j := range row {
			row[j] *= inv
		}
	}

	y := NewTensor(b, h)
	norms := make([]float64, b)
	for bi := 0; bi < b; bi++ {
		row := pooled.data[bi*h : (bi+1)*h]
		norm := math.Sqrt(kernels.dot(row, row))
		if norm < 1e-12 {
			norm = 1e-12
		}
		norms[bi] = norm
		yrow := y.data[bi*h : (bi+1)*h]
		for j := range row {
			yrow[j] = row[j] / norm
		}
	}

	cache.pooled = pooled
	cache.norms = norms
	cache.y = y
	return y, cache
}

// PooledBackward propagates gradY (B, hidden), the loss gradient with
// respect to the normalized embeddings, back through normalization, mean
// pooling and the per-event MLP.
func (s *SeqEncoder) PooledBackward(cache *stepCache, gradY *Tensor) {
	b, t, h := cache.b, cache.t, s.hidden
	lengths := cache.batch.SeqLens()

	// y = pooled / ||pooled||: grad_pooled = (gy - (gy . y) y) / norm.
	gradPooled := NewTensor(b, h)
	for bi := 0; bi < b; bi++ {
		gy := gradY.data[bi*h : (bi+1)*h]
		yrow := cache.y.data[bi*h : (bi+1)*h]
		dotGY := kernels.dot(gy, yrow)
		gp := gradPooled.data[bi*h : (bi+1)*h]
		inv := 1 / cache.norms[bi]
		for j := range gp {
			gp[j] = (gy[j] - dotGY*yrow[j]) * inv
		}
	}

	// Mean pooling: each valid step receives grad_pooled / n.
	gradZ := NewTensor(b*t, h)
	for bi := 0; bi < b; bi++ {
		n := lengths[bi]
		if n > t {
			n = t
		}
		if n == 0 {
			continue
		}
		inv := 1 / float64(n)
		gp := gradPooled.data[bi*h : (bi+1)*h]
		for ti := 0; ti < n; ti++ {
			gz := gradZ.data[(bi*t+ti)*h : (bi*t+ti+1)*h]
			for j := range gz {
				gz[j] = gp[j] * inv
			}
		}
	}

	s.StepsBackward(cache, gradZ)
}

// addBias adds a (1, n) bias row to every row of a 2D tensor.
func addBias(x, bias *Tensor) *Tensor {
	n := x.shape[1]
	if bias.shape[1] != n {
		panic("tensor: bias width mismatch")
	}
	c := NewTensor(x.shape...)
	for i := 0; i < x.shape[0]; i++ {
		row := x.data[i*n : (i+1)*n]
		out := c.data[i*n : (i+1)*n]
		for j := range row {
			out[j] = row[j] + bias.data[j]
		}
	}
	return c
}

// colSum sums a 2D tensor over rows into a (1, n) tensor.
func colSum(x *Tensor) *Tensor {
	n := x.shape[1]
	c := NewTensor(1, n)
	for i := 0; i < x.shape[0]; i++ {
		row := x.data[i*n : (i+1)*n]
		for j := range row {
			c.data[j] += row[j]
		}
	}
	return c
}

// accumulateGrad adds g's data into t's gradient buffer.
func accumulateGrad(t *Tensor, g *Tensor) {
	if !shapeEqual(t.shape, g.shape) {
		panic(fmt.Sprintf("tensor: grad shape mismatch %v vs %v", t.shape, g.shape))
	}
	for i := range t.grad {
		t.grad[i] += g.data[i]
	}
}
