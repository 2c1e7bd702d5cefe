// Package external defines the contract of the LCI database the ordering
// engine and matrix assembler traverse. It names only the collaborator
// surface — an Index of processes/flows/contexts and an Inventory of
// terminated exchanges — that a real provider (an antelope-style catalog,
// an ecoinvent import, or any other LCI data source) must satisfy. This
// package implements no provider itself.
package external

import (
	"iter"

	"github.com/antelope-go/tarjanbg/internal/model"
)

// Entity is any addressable object an Index can resolve a reference to.
type Entity interface {
	// Ref returns the canonical external reference string for this entity.
	Ref() string
}

// Process is a unit process: a named node with one or more reference
// exchanges and an exchange list terminated against other processes or
// contexts.
type Process interface {
	Entity
	// Name is a human-readable label, not used for identity.
	Name() string
}

// Context is an environmental compartment, addressed by its hierarchical
// ContextKey.
type Context interface {
	Key() model.ContextKey
	// Elementary reports whether flows terminating here count as
	// elementary (as opposed to a non-elementary "intermediate" bucket
	// some providers use for unresolved cross-database references).
	Elementary() bool
}

// FlowRef names a flow independent of any particular exchange.
type FlowRef = string

// Exchange is one row of a process's reference-exchange list: the flows a
// process could be queried by.
type Exchange struct {
	Process   Process
	FlowRef   FlowRef
	Direction model.Direction
}

// ExchangeRow is one row of a process's dependent-exchange inventory: what
// it consumes or emits per unit of its reference flow.
type ExchangeRow struct {
	FlowRef     FlowRef
	Direction   model.Direction
	Value       float64
	Termination model.Termination
}

// Index resolves references to entities, contexts, and the universe of
// processes a build may seed from.
type Index interface {
	// Get resolves an external reference to an Entity, or returns an
	// errors.InvalidReferenceError-kinded error if ref names nothing.
	Get(ref string) (Entity, error)
	// GetContext resolves a context key to its Context, or an
	// errors.InvalidReferenceError-kinded error if key names nothing.
	GetContext(key model.ContextKey) (Context, error)
	// Processes iterates every process this Index knows about, in
	// provider-defined order.
	Processes() iter.Seq[Process]
}

// Inventory supplies the per-process data the ordering engine traverses:
// what a process could be invoked by, what it consumes/emits per unit
// invocation, and who else could supply a given flow.
type Inventory interface {
	// ReferenceExchanges iterates the flows/directions a process can be
	// invoked through.
	ReferenceExchanges(p Process) iter.Seq[Exchange]
	// Inventory iterates a process's dependent exchanges per unit of the
	// given reference flow.
	Inventory(p Process, refFlow FlowRef) iter.Seq[ExchangeRow]
	// Terminate iterates every process that could supply flow in the
	// given direction, for ambiguity detection and preferred-provider
	// tie-break.
	Terminate(flow FlowRef, dir model.Direction) iter.Seq[Process]
}
