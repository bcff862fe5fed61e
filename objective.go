package main

// Batch is what data modules hand the trainer: a padded batch of sequences
// plus, for contrastive objectives, the origin index of each view. Views
// sharing an origin are positives; Labels is nil for objectives that build
// their targets from sequence order alone.
type Batch struct {
	Data   *PaddedBatch
	Labels []int
}

// Objective is the trainable model plus its loss definition. Step runs one
// forward/backward pass and leaves gradients accumulated in Parameters();
// the trainer owns zeroing, clipping and the optimizer update.
type Objective interface {
	// Name is the registry identifier, recorded in checkpoints.
	Name() string
	// Parameters returns all trainable tensors in a stable order.
	Parameters() []*Tensor
	// RequiredFeatures lists the feature names batches must carry; data
	// modules validate their sources against it during setup.
	RequiredFeatures() []string
	// Step computes the training loss for one batch and accumulates
	// gradients into Parameters().
	Step(batch Batch) (float64, error)
	// Validate computes the loss without touching gradients.
	Validate(batch Batch) (float64, error)
	// Encode maps a padded batch to one embedding per sequence (B, H).
	Encode(batch *PaddedBatch) *Tensor
	// SaveWeights persists model weights only; no optimizer or trainer
	// state goes into the checkpoint.
	SaveWeights(path string) error
}
