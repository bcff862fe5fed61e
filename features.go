package main

import (
	"fmt"
	"sort"
)

// FeatureRecord is one client's event history: a mapping from feature name
// to one value per event. Categorical features hold embedding-table indices
// (stored as whole float64s), continuous features hold raw values. All
// series in a record have the same length, one entry per event in time
// order.
type FeatureRecord struct {
	ClientID string               `json:"client_id"`
	Features map[string][]float64 `json:"features"`
}

// SeqLen returns the number of events in the record.
func (r FeatureRecord) SeqLen() int {
	for _, v := range r.Features {
		return len(v)
	}
	return 0
}

// Slice returns a sub-record covering events [start, start+n).
// The returned series share backing arrays with the original.
func (r FeatureRecord) Slice(start, n int) FeatureRecord {
	out := FeatureRecord{ClientID: r.ClientID, Features: make(map[string][]float64, len(r.Features))}
	for k, v := range r.Features {
		out.Features[k] = v[start : start+n]
	}
	return out
}

// featureNames returns the record's feature names in sorted order, so that
// collation and encoding walk features deterministically.
func (r FeatureRecord) featureNames() []string {
	names := make([]string, 0, len(r.Features))
	for k := range r.Features {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every series in the record has the same length.
func (r FeatureRecord) Validate() error {
	n := -1
	for k, v := range r.Features {
		if n == -1 {
			n = len(v)
			continue
		}
		if len(v) != n {
			return fmt.Errorf("record %s: feature %q has %d events, expected %d",
				r.ClientID, k, len(v), n)
		}
	}
	return nil
}

// Collate right-pads a set of records to the batch maximum length and
// returns them as a keyed PaddedBatch. Padding positions are zero-filled;
// downstream consumers must exclude them via the batch's SeqLenMask.
// All records must carry the same feature set (taken from the first record).
func Collate(records []FeatureRecord) *PaddedBatch {
	if len(records) == 0 {
		panic("collate: empty batch")
	}
	lengths := make([]int, len(records))
	maxTime := 0
	for i, r := range records {
		lengths[i] = r.SeqLen()
		if lengths[i] > maxTime {
			maxTime = lengths[i]
		}
	}
	payload := make(map[string]*Tensor, len(records[0].Features))
	for _, name := range records[0].featureNames() {
		t := NewTensor(len(records), maxTime)
		for i, r := range records {
			series := r.Features[name]
			copy(t.data[i*maxTime:i*maxTime+len(series)], series)
		}
		payload[name] = t
	}
	return NewPaddedBatch(payload, lengths)
}
