// Package model defines the core graph vocabulary shared by the ordering
// engine, the matrix assembler, and the flat background: product flows,
// exterior refs, and the persisted TermRef/ExchDef shapes that connect them.
package model

import (
	"fmt"
	"strings"

	"github.com/antelope-go/tarjanbg/internal/errors"
)

// Direction is the sense of an exchange, always taken with respect to the
// node that declares it.
type Direction int

const (
	// DirectionInput marks an exchange flowing into its declaring node.
	DirectionInput Direction = iota
	// DirectionOutput marks an exchange flowing out of its declaring node.
	DirectionOutput
)

// String renders a Direction the way it is persisted in a TermRef.
func (d Direction) String() string {
	if d == DirectionOutput {
		return "Output"
	}
	return "Input"
}

// Complement returns the opposite direction.
func (d Direction) Complement() Direction {
	if d == DirectionOutput {
		return DirectionInput
	}
	return DirectionOutput
}

// ParseDirection accepts the two persisted spellings, "Input" and "Output".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "Input":
		return DirectionInput, nil
	case "Output":
		return DirectionOutput, nil
	default:
		return 0, errors.New(errors.InvalidDirectionError{Value: s})
	}
}

// ContextKey is a hierarchical environmental compartment path, e.g.
// ["air", "urban air close to ground"].
type ContextKey []string

// Join produces the "; "-joined persisted form of a context key. An empty
// key joins to the empty string, which is the sentinel for "no context" /
// cutoff.
func (k ContextKey) Join() string {
	return strings.Join(k, "; ")
}

// SplitContextKey reverses Join, including for the legacy empty-segment
// forms that may appear in older ordering manifests.
func SplitContextKey(s string) ContextKey {
	if s == "" {
		return nil
	}
	return ContextKey(strings.Split(s, "; "))
}

// Classification distinguishes exterior refs for the emissions/cutoffs split
// (see DESIGN.md for the resolved Open Question).
type Classification int

const (
	// ClassElementary marks an XR whose context is canonical and elementary.
	ClassElementary Classification = iota
	// ClassNonElementary marks an XR terminated in a non-elementary context.
	ClassNonElementary
	// ClassCutoff marks an XR with no resolvable termination at all.
	ClassCutoff
)

// IsCutoff reports whether this classification belongs in a "cutoffs" view
// (anything that isn't a canonical elementary flow).
func (c Classification) IsCutoff() bool { return c != ClassElementary }

// PFKey uniquely identifies a ProductFlow by (process_ref, flow_ref).
type PFKey struct {
	ProcessRef string
	FlowRef    string
}

// ProductFlow names one reference exchange of one process.
type ProductFlow struct {
	ProcessRef string
	FlowRef    string
	Direction  Direction
}

// Key returns the map key used by the foreground/background indices.
func (p ProductFlow) Key() PFKey {
	return PFKey{ProcessRef: p.ProcessRef, FlowRef: p.FlowRef}
}

// XRKey uniquely identifies an ExteriorRef by (flow_ref, direction, context).
type XRKey struct {
	FlowRef   string
	Direction Direction
	Context   string
}

// ExteriorRef names one environmental or cut-off exchange.
type ExteriorRef struct {
	FlowRef        string
	Direction      Direction
	Context        ContextKey
	Classification Classification
}

// Key returns the map key used by the exterior index.
func (x ExteriorRef) Key() XRKey {
	return XRKey{FlowRef: x.FlowRef, Direction: x.Direction, Context: x.Context.Join()}
}

// NoSCC is the scc_id sentinel for a PF that belongs to no non-trivial SCC.
const NoSCC = ""

// TermRef is the persisted form of a PF or an XR: (flow_ref, direction,
// term_ref, scc_id). For a PF, term_ref is the process's external
// reference; for an XR, term_ref is the "; "-joined context path.
type TermRef struct {
	FlowRef   string
	Direction Direction
	TermRef   string
	SCCID     string
}

// InSCC reports whether this TermRef's scc_id is the non-sentinel value.
func (t TermRef) InSCC() bool { return t.SCCID != NoSCC }

func (t TermRef) String() string {
	return fmt.Sprintf("%s(%s)@%s", t.FlowRef, t.Direction, t.TermRef)
}

// TerminationKind distinguishes what an ExchDef or an internal exchange row
// resolved to.
type TerminationKind int

const (
	// TerminationCutoff marks an unresolved (null) termination.
	TerminationCutoff TerminationKind = iota
	// TerminationProcess marks a termination resolved to a producing process.
	TerminationProcess
	// TerminationContext marks a termination resolved to an environmental
	// compartment.
	TerminationContext
)

// Termination is the resolved target of an exchange row: a producing
// process, a context, or nothing (cutoff).
type Termination struct {
	Kind       TerminationKind
	ProcessRef string
	Context    ContextKey
}

// ExchDef is one fully-terminated exchange, the unit yielded by every
// traversal and solve query in the Flat Background.
type ExchDef struct {
	NodeRef     string
	FlowRef     string
	Direction   Direction
	Termination Termination
	Value       float64
}
