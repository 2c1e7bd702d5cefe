// Package ordering computes the Tarjan ordering of a process-exchange
// graph: an iterative discovery traversal, an iterative strongly-connected
// -components pass, background/foreground classification, and the
// row>col-respecting renumbering the Matrix Assembler depends on. It never
// recurses — the same constraint terragrunt's own internal/component graph
// and internal/runner/runnerpool queue satisfy with explicit worklists,
// because a real LCI database's dependency depth routinely exceeds a host
// stack.
package ordering

import (
	"context"

	"github.com/antelope-go/tarjanbg/internal/external"
	"github.com/antelope-go/tarjanbg/internal/log"
	"github.com/antelope-go/tarjanbg/internal/model"
	"github.com/antelope-go/tarjanbg/internal/telemetry"
)

// Entry is one nonzero coefficient bound for a sparse matrix. Row and Col
// are indices into whichever dimension (foreground, background, or
// exterior) the owning matrix is defined over.
type Entry struct {
	Row int
	Col int
	Val float64
}

// Graph is the complete ordered, classified output of a build: the three
// renumbered node lists, the scc_id each node carries (empty for nodes in
// no non-trivial SCC), and the raw triplets for all five named matrices.
type Graph struct {
	Foreground []model.ProductFlow
	Background []model.ProductFlow
	Exterior   []model.ExteriorRef

	SCCOf map[model.PFKey]string

	Af []Entry // foreground -> foreground
	Ad []Entry // background -> foreground column
	Bf []Entry // exterior  -> foreground column
	A  []Entry // background -> background
	B  []Entry // exterior  -> background column
}

// Engine discovers and orders the reachable process-exchange graph against
// an external Index/Inventory pair.
type Engine struct {
	Index     external.Index
	Inventory external.Inventory
	// PreferredProvider breaks ambiguous terminations by process ref
	// prefix; empty disables the tie-break.
	PreferredProvider string

	Log       log.Logger
	Telemeter *telemetry.Telemeter
}

// rawNode is a node in discovery-index space, before classification and
// renumbering.
type rawNode struct {
	pf       model.ProductFlow
	exchRows []external.ExchangeRow
}

// rawEdge is one traversal-discovered dependency, still in discovery-index
// space.
type rawEdge struct {
	col       int // the node being expanded
	toNode    int // -1 if this edge targets an exterior ref, not a node
	toXR      model.ExteriorRef
	direction model.Direction // direction of the exchange w.r.t. col's node
	value     float64
}

// Build runs the full discovery/Tarjan/classification/renumbering pipeline
// starting from every reference exchange of every process the Index knows
// about, mirroring add_all_ref_products against a BackgroundEngine.
func (e *Engine) Build(ctx context.Context) (*Graph, error) {
	var seeds []model.ProductFlow
	for p := range e.Index.Processes() {
		for ex := range e.Inventory.ReferenceExchanges(p) {
			seeds = append(seeds, model.ProductFlow{
				ProcessRef: p.Ref(),
				FlowRef:    ex.FlowRef,
				Direction:  ex.Direction,
			})
		}
	}
	return e.BuildFrom(ctx, seeds)
}

// BuildFrom runs the pipeline starting from an explicit seed set, for
// callers (tests, or a partial-database build) that don't want every
// process in the Index treated as a root.
func (e *Engine) BuildFrom(ctx context.Context, seeds []model.ProductFlow) (*Graph, error) {
	d := &discovery{
		engine:  e,
		ctx:     ctx,
		indexOf: make(map[model.PFKey]int),
	}

	seedIdx := make([]int, 0, len(seeds))
	for _, s := range seeds {
		seedIdx = append(seedIdx, d.nodeIndex(s))
	}

	d.run()

	t := &tarjan{d: d}
	t.run()

	return classify(d, t, seedIdx), nil
}

// discovery performs the iterative DFS that assigns every reachable
// product flow a discovery index and records its raw outbound edges.
type discovery struct {
	engine  *Engine
	ctx     context.Context
	nodes   []rawNode
	indexOf map[model.PFKey]int
	edges   []rawEdge

	// xrOf dedupes exterior refs across the whole traversal.
	xrOf map[model.XRKey]int
	xrs  []model.ExteriorRef

	frontier []int
}

func (d *discovery) nodeIndex(pf model.ProductFlow) int {
	key := pf.Key()
	if idx, ok := d.indexOf[key]; ok {
		return idx
	}
	idx := len(d.nodes)
	d.nodes = append(d.nodes, rawNode{pf: pf})
	d.indexOf[key] = idx
	d.frontier = append(d.frontier, idx)
	return idx
}

func (d *discovery) xrIndex(xr model.ExteriorRef) int {
	if d.xrOf == nil {
		d.xrOf = make(map[model.XRKey]int)
	}
	key := xr.Key()
	if idx, ok := d.xrOf[key]; ok {
		return idx
	}
	idx := len(d.xrs)
	d.xrs = append(d.xrs, xr)
	d.xrOf[key] = idx
	return idx
}

// run drains the discovery work stack. Nodes discovered while expanding the
// current node are pushed onto the same stack and the most recently
// discovered node is expanded next, so the walk is depth-first without any
// recursion.
func (d *discovery) run() {
	for len(d.frontier) > 0 {
		n := len(d.frontier) - 1
		col := d.frontier[n]
		d.frontier = d.frontier[:n]
		d.expand(col)
	}
}

func (d *discovery) expand(col int) {
	node := &d.nodes[col]
	if node.exchRows != nil {
		return // already expanded (can happen if seeded twice)
	}

	proc, err := d.engine.Index.Get(node.pf.ProcessRef)
	if err != nil {
		if d.engine.Log != nil {
			d.engine.Log.Warnf("ordering: cannot resolve process %s: %v", node.pf.ProcessRef, err)
		}
		return
	}
	p, ok := proc.(external.Process)
	if !ok {
		return
	}

	for row := range d.engine.Inventory.Inventory(p, node.pf.FlowRef) {
		node.exchRows = append(node.exchRows, row)
		d.resolveRow(col, row)
	}
	if node.exchRows == nil {
		node.exchRows = []external.ExchangeRow{}
	}
}

func (d *discovery) resolveRow(col int, row external.ExchangeRow) {
	switch row.Termination.Kind {
	case model.TerminationProcess:
		target := d.nodeIndex(model.ProductFlow{
			ProcessRef: row.Termination.ProcessRef,
			FlowRef:    row.FlowRef,
			Direction:  row.Direction.Complement(),
		})
		d.edges = append(d.edges, rawEdge{col: col, toNode: target, direction: row.Direction, value: row.Value})
	case model.TerminationContext:
		xr := model.ExteriorRef{
			FlowRef:        row.FlowRef,
			Direction:      row.Direction,
			Context:        row.Termination.Context,
			Classification: classifyContext(d.engine, row.Termination.Context),
		}
		xi := d.xrIndex(xr)
		d.edges = append(d.edges, rawEdge{col: col, toNode: -1, toXR: d.xrs[xi], direction: row.Direction, value: row.Value})
	default:
		d.resolveCutoff(col, row)
	}
}

// resolveCutoff handles an exchange row with no declared termination: it
// attempts a preferred-provider tie-break against every candidate the
// Inventory can name, and otherwise records an untermed cutoff exterior
// ref so the build never aborts on an unresolved exchange.
func (d *discovery) resolveCutoff(col int, row external.ExchangeRow) {
	var candidates []external.Process
	for p := range d.engine.Inventory.Terminate(row.FlowRef, row.Direction.Complement()) {
		candidates = append(candidates, p)
	}

	switch len(candidates) {
	case 0:
		xr := model.ExteriorRef{FlowRef: row.FlowRef, Direction: row.Direction, Classification: model.ClassCutoff}
		xi := d.xrIndex(xr)
		d.edges = append(d.edges, rawEdge{col: col, toNode: -1, toXR: d.xrs[xi], direction: row.Direction, value: row.Value})
	case 1:
		target := d.nodeIndex(model.ProductFlow{
			ProcessRef: candidates[0].Ref(),
			FlowRef:    row.FlowRef,
			Direction:  row.Direction.Complement(),
		})
		d.edges = append(d.edges, rawEdge{col: col, toNode: target, direction: row.Direction, value: row.Value})
	default:
		pick := preferredOf(candidates, d.engine.PreferredProvider)
		if d.engine.Telemeter != nil {
			d.engine.Telemeter.RecordAmbiguous(d.ctx, row.FlowRef)
		}
		if pick == nil {
			if d.engine.Log != nil {
				d.engine.Log.Warnf("ordering: ambiguous termination for flow %s (%d candidates), no preferred provider matched", row.FlowRef, len(candidates))
			}
			xr := model.ExteriorRef{FlowRef: row.FlowRef, Direction: row.Direction, Classification: model.ClassCutoff}
			xi := d.xrIndex(xr)
			d.edges = append(d.edges, rawEdge{col: col, toNode: -1, toXR: d.xrs[xi], direction: row.Direction, value: row.Value})
			return
		}
		target := d.nodeIndex(model.ProductFlow{
			ProcessRef: pick.Ref(),
			FlowRef:    row.FlowRef,
			Direction:  row.Direction.Complement(),
		})
		d.edges = append(d.edges, rawEdge{col: col, toNode: target, direction: row.Direction, value: row.Value})
	}
}

func preferredOf(candidates []external.Process, preferred string) external.Process {
	if preferred == "" {
		return nil
	}
	for _, c := range candidates {
		if hasPrefix(c.Ref(), preferred) {
			return c
		}
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// classifyContext decides whether a context termination is elementary,
// non-elementary, or unresolvable, consulting the Index when possible.
func classifyContext(e *Engine, ctx model.ContextKey) model.Classification {
	if len(ctx) == 0 {
		return model.ClassCutoff
	}
	c, err := e.Index.GetContext(ctx)
	if err != nil {
		return model.ClassNonElementary
	}
	if c.Elementary() {
		return model.ClassElementary
	}
	return model.ClassNonElementary
}
