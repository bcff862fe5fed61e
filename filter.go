package main

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// recordFilter wraps a compiled CEL program used to select which feature
// records enter a training run. When the expression is empty the filter is
// disabled and admits everything.
//
// Exposed variables:
//
//	client_id  string              record identifier
//	seq_len    int                 number of events in the record
//	features   map[string]list     raw per-feature series
//	mean       map[string]double   per-feature mean over events
type recordFilter struct {
	prog    cel.Program
	enabled bool
}

func newRecordFilter(expr string) (recordFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return recordFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("client_id", cel.StringType),
		cel.Variable("seq_len", cel.IntType),
		cel.Variable("features", cel.DynType),
		cel.Variable("mean", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return recordFilter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return recordFilter{}, fmt.Errorf("record filter: %w", iss.Err())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return recordFilter{}, fmt.Errorf("record filter: %w", err)
	}
	return recordFilter{prog: prog, enabled: true}, nil
}

// Admit reports whether the record passes the filter. Evaluation errors
// reject the record rather than aborting the load.
func (f recordFilter) Admit(r FeatureRecord) bool {
	if !f.enabled {
		return true
	}
	means := make(map[string]float64, len(r.Features))
	feats := make(map[string]any, len(r.Features))
	for k, v := range r.Features {
		feats[k] = v
		sum := 0.0
		for _, x := range v {
			sum += x
		}
		if len(v) > 0 {
			means[k] = sum / float64(len(v))
		}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"client_id": r.ClientID,
		"seq_len":   int64(r.SeqLen()),
		"features":  feats,
		"mean":      means,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
