// Package query normalizes the several argument shapes a caller may hand
// the Flat Background's methods into the single (process_ref, flow_ref)
// pair every background query method is keyed by, the Go equivalent of
// implementation.py's TarjanBackgroundImplementation._check_ref.
package query

import (
	"github.com/antelope-go/tarjanbg/internal/errors"
	"github.com/antelope-go/tarjanbg/internal/external"
)

// Ref is a reference exchange: the (process, flow) pair a caller may pass
// directly instead of a process ref plus a flow selector, along with
// whether it is actually a reference exchange of its process.
type Ref struct {
	ProcessRef string
	FlowRef    string
	IsRef      bool
}

// Surface normalizes argument shapes against an Index/Inventory pair,
// resolving a bare process ref plus an optional flow selector into a
// concrete flow ref via the process's own reference exchanges.
type Surface struct {
	Index     external.Index
	Inventory external.Inventory
}

// FromProcessRef accepts a process external ref and an optional flow
// selector (empty string picks the process's sole reference exchange; a
// non-empty selector must match one of its reference flows by FlowRef)
// and returns the normalized (process_ref, flow_ref) pair.
func (s Surface) FromProcessRef(processRef, flowSelector string) (string, string, error) {
	entity, err := s.Index.Get(processRef)
	if err != nil {
		return "", "", errors.New(errors.InvalidReferenceError{Got: processRef})
	}
	p, ok := entity.(external.Process)
	if !ok {
		return "", "", errors.New(errors.InvalidReferenceError{Got: processRef})
	}
	return s.FromProcess(p, flowSelector)
}

// FromProcess accepts a resolved Process entity directly, skipping the
// Index lookup FromProcessRef needs, and resolves its reference flow the
// same way.
func (s Surface) FromProcess(p external.Process, flowSelector string) (string, string, error) {
	var match string
	count := 0
	for ex := range s.Inventory.ReferenceExchanges(p) {
		if flowSelector == "" || ex.FlowRef == flowSelector {
			match = ex.FlowRef
			count++
			if flowSelector != "" {
				break
			}
		}
	}

	switch {
	case count == 0:
		return "", "", errors.New(errors.InvalidReferenceError{Got: "no matching reference exchange for " + p.Ref()})
	case count > 1:
		return "", "", errors.New(errors.AmbiguousTerminationError{FlowRef: flowSelector, Candidates: count})
	default:
		return p.Ref(), match, nil
	}
}

// FromExchange accepts an already-known reference exchange — the direct
// analogue of _check_ref's "exchange argument" branch — and returns it
// unchanged if it actually is one.
func FromExchange(ref Ref) (string, string, error) {
	if !ref.IsRef {
		return "", "", errors.New(errors.InvalidReferenceError{Got: "exchange argument must be a reference exchange"})
	}
	return ref.ProcessRef, ref.FlowRef, nil
}
