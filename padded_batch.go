package main

import "fmt"

// Device identifies where a batch's arrays live. The pure-Go build only has
// host memory, but batches still carry a placement tag so transfer semantics
// (new instance, source untouched) hold wherever an accelerated backend is
// plugged in underneath.
type Device string

// DeviceCPU is host memory, the default placement for collated batches.
const DeviceCPU Device = "cpu"

// PayloadKind tags the payload variant carried by a PaddedBatch.
type PayloadKind int

const (
	// PayloadKeyed is a mapping from feature name to a (B, T) tensor:
	// categorical index tensors or continuous-value tensors. This is the
	// input format for the encoder pipeline.
	PayloadKeyed PayloadKind = iota
	// PayloadDense is a single (B, T) feature tensor.
	PayloadDense
	// PayloadEmbedded is a (B, T, H) tensor of already-encoded events,
	// the intermediate format between encoder stages.
	PayloadEmbedded
)

// PaddedBatch carries one mini-batch of variable-length event sequences,
// right-padded along the time axis to a common width T. Only the first
// length[i] positions of sequence i are valid; everything at or past
// length[i] is padding and must be excluded from losses via SeqLenMask.
//
// A batch is built once by a collate step, read during one training or
// inference step, and discarded. Construction performs no validation that
// length[i] <= T; that is the collator's responsibility.
type PaddedBatch struct {
	kind   PayloadKind
	keyed  map[string]*Tensor
	single *Tensor
	length []int
	device Device
}

// NewPaddedBatch wraps a keyed payload: feature name -> (B, T) tensor.
func NewPaddedBatch(payload map[string]*Tensor, length []int) *PaddedBatch {
	return &PaddedBatch{kind: PayloadKeyed, keyed: payload, length: length, device: DeviceCPU}
}

// NewDensePaddedBatch wraps a single payload tensor. A 2D (B, T) tensor is
// tagged PayloadDense, a 3D (B, T, H) tensor PayloadEmbedded.
func NewDensePaddedBatch(payload *Tensor, length []int) *PaddedBatch {
	kind := PayloadDense
	if payload.Dims() == 3 {
		kind = PayloadEmbedded
	} else if payload.Dims() != 2 {
		panic(fmt.Sprintf("padded batch: payload must be 2D or 3D, got %dD", payload.Dims()))
	}
	return &PaddedBatch{kind: kind, single: payload, length: length, device: DeviceCPU}
}

// Len returns the batch size, the number of sequences.
func (b *PaddedBatch) Len() int { return len(b.length) }

// Kind returns the payload variant tag.
func (b *PaddedBatch) Kind() PayloadKind { return b.kind }

// SeqLens returns the true (unpadded) length of each sequence.
func (b *PaddedBatch) SeqLens() []int { return b.length }

// Device returns the batch's current placement.
func (b *PaddedBatch) Device() Device { return b.device }

// Keyed returns the feature-name payload mapping. Nil unless PayloadKeyed.
func (b *PaddedBatch) Keyed() map[string]*Tensor { return b.keyed }

// Payload returns the single payload tensor. Nil for PayloadKeyed batches.
func (b *PaddedBatch) Payload() *Tensor { return b.single }

// dims derives (B, T) from the payload. For keyed payloads any value works:
// all feature tensors share the batch shape (not checked, and undefined
// behavior for an empty mapping, matching the collation contract).
func (b *PaddedBatch) dims() (int, int) {
	switch b.kind {
	case PayloadKeyed:
		for _, t := range b.keyed {
			return t.shape[0], t.shape[1]
		}
		panic("padded batch: empty keyed payload")
	default:
		return b.single.shape[0], b.single.shape[1]
	}
}

// SeqLenMask returns a (B, T) 0/1 tensor where mask[i][t] == 1 iff
// t < length[i], i.e. position t of sequence i holds a real event.
func (b *PaddedBatch) SeqLenMask() *Tensor {
	batch, maxTime := b.dims()
	mask := NewTensor(batch, maxTime)
	for i := 0; i < batch; i++ {
		n := b.length[i]
		if n > maxTime {
			n = maxTime
		}
		for t := 0; t < n; t++ {
			mask.data[i*maxTime+t] = 1
		}
	}
	return mask
}

// To returns a new batch with every array copied to the target device,
// leaving the receiver untouched. nonBlocking is a performance hint only;
// the host backend always copies eagerly, and asynchronous backends owe
// validity of the result at their next synchronization point.
func (b *PaddedBatch) To(device Device, nonBlocking bool) *PaddedBatch {
	_ = nonBlocking
	out := &PaddedBatch{kind: b.kind, device: device}
	out.length = make([]int, len(b.length))
	copy(out.length, b.length)
	switch b.kind {
	case PayloadKeyed:
		out.keyed = make(map[string]*Tensor, len(b.keyed))
		for k, t := range b.keyed {
			out.keyed[k] = t.Clone()
		}
	default:
		out.single = b.single.Clone()
	}
	return out
}
