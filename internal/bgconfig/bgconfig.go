// Package bgconfig decodes build/solve options for the Flat Background from
// a generic map, the way config.go decodes remote_state and generate blocks
// via mapstructure.Decode, with cty used to validate numeric/bool values
// that arrive as interface{} from a dynamic source (HCL, JSON, env vars).
package bgconfig

import (
	"github.com/mitchellh/mapstructure"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/antelope-go/tarjanbg/internal/errors"
)

// Solver names one of the three LCI solve strategies a Flat Background can
// use. Iterative and spsolve apply to both the foreground and the
// background solve; factorize applies to the background solve only, and
// the foreground solve then runs iteratively.
type Solver string

const (
	// SolverIterative computes Σ Af^k u via a bounded power series.
	SolverIterative Solver = "iterative"
	// SolverSpsolve computes a direct sparse solve per query, uncached.
	SolverSpsolve Solver = "spsolve"
	// SolverFactorize computes and caches an LU factorization on first use.
	SolverFactorize Solver = "factorize"
)

// Options configures how a Flat Background is built and how it solves.
type Options struct {
	// PreferredProvider breaks ties when a flow/direction pair resolves to
	// more than one candidate termination, by process ref prefix match.
	PreferredProvider string `mapstructure:"preferred_provider"`
	// FlattenAf requests that intra-SCC entries be split out of Af so the
	// foreground matrix is strictly triangular after renumbering.
	FlattenAf bool `mapstructure:"flatten_af"`
	// Quiet suppresses info-level build/solve logging.
	Quiet bool `mapstructure:"quiet"`
	// Threshold is the iterative solver's convergence bound: stop once the
	// latest term's L1 norm, relative to the running sum of the term norms,
	// falls below it.
	Threshold float64 `mapstructure:"threshold"`
	// MaxIter bounds the iterative solver's term count regardless of
	// convergence.
	MaxIter int `mapstructure:"max_iter"`
	// Solver selects the LCI solve strategy (see Solver).
	Solver Solver `mapstructure:"solver"`
	// SaveAfter, if non-empty, is a filesystem path the Flat Background is
	// serialized to immediately after a successful build.
	SaveAfter string `mapstructure:"save_after"`
	// Trace enables telemetry spans/counters for build and solve.
	Trace bool `mapstructure:"trace"`
}

// Defaults returns the configuration a Flat Background build uses when no
// overrides are supplied.
func Defaults() Options {
	return Options{
		FlattenAf: true,
		Threshold: 1e-8,
		MaxIter:   100,
		Solver:    SolverIterative,
		Trace:     false,
	}
}

// FromMap decodes raw (typically parsed from JSON, HCL, or environment
// variables upstream) over Defaults(), validating the numeric and boolean
// fields via cty conversion so a string "true" or "1e-8" from an
// environment variable decodes the same as a native bool/float64.
func FromMap(raw map[string]any) (Options, error) {
	opts := Defaults()
	if raw == nil {
		return opts, nil
	}

	normalized, err := normalize(raw)
	if err != nil {
		return Options{}, err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Options{}, errors.WithStackTrace(err)
	}
	if err := decoder.Decode(normalized); err != nil {
		return Options{}, errors.WithStackTrace(err)
	}

	return opts, nil
}

// normalize coerces the handful of fields that must survive a round trip
// through a dynamic value source into their native Go types using cty's
// conversion rules, matching the leniency HCL attribute decoding gives
// terragrunt's own config maps.
func normalize(raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}

	if v, ok := out["threshold"]; ok {
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		out["threshold"] = f
	}
	if v, ok := out["max_iter"]; ok {
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		out["max_iter"] = int(f)
	}
	if v, ok := out["flatten_af"]; ok {
		b, err := toBool(v)
		if err != nil {
			return nil, err
		}
		out["flatten_af"] = b
	}
	if v, ok := out["quiet"]; ok {
		b, err := toBool(v)
		if err != nil {
			return nil, err
		}
		out["quiet"] = b
	}
	if v, ok := out["trace"]; ok {
		b, err := toBool(v)
		if err != nil {
			return nil, err
		}
		out["trace"] = b
	}

	return out, nil
}

func toFloat(v any) (float64, error) {
	val, err := gocty(v)
	if err != nil {
		return 0, err
	}
	converted, err := convert.Convert(val, cty.Number)
	if err != nil {
		return 0, errors.WithStackTrace(err)
	}
	f, _ := converted.AsBigFloat().Float64()
	return f, nil
}

func toBool(v any) (bool, error) {
	val, err := gocty(v)
	if err != nil {
		return false, err
	}
	converted, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, errors.WithStackTrace(err)
	}
	return converted.True(), nil
}

func gocty(v any) (cty.Value, error) {
	switch t := v.(type) {
	case string:
		return cty.StringVal(t), nil
	case bool:
		return cty.BoolVal(t), nil
	case int:
		return cty.NumberIntVal(int64(t)), nil
	case int64:
		return cty.NumberIntVal(t), nil
	case float64:
		return cty.NumberFloatVal(t), nil
	default:
		return cty.NilVal, errors.New(errors.InvalidReferenceError{Got: "unsupported option value type"})
	}
}
