package background

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/antelope-go/tarjanbg/internal/errors"
	"github.com/antelope-go/tarjanbg/internal/model"
)

// nonzeroCol yields (row, value) for every nonzero entry of column col in
// m, in row order. Every matrix this package holds implements mat.Matrix
// via its Dims/At methods, so this works uniformly over *sparse.CSC.
func nonzeroCol(m mat.Matrix, col int) []struct {
	Row int
	Val float64
} {
	if m == nil {
		return nil
	}
	rows, _ := m.Dims()
	var out []struct {
		Row int
		Val float64
	}
	for r := 0; r < rows; r++ {
		if v := m.At(r, col); v != 0 {
			out = append(out, struct {
				Row int
				Val float64
			}{r, v})
		}
	}
	return out
}

func nonzeroRow(m mat.Matrix, row int) []int {
	if m == nil {
		return nil
	}
	_, cols := m.Dims()
	var out []int
	for c := 0; c < cols; c++ {
		if m.At(row, c) != 0 {
			out = append(out, c)
		}
	}
	return out
}

// direction inversion and sign recovery mirrors _generate_exch_defs: a
// negative stored coefficient keeps the target's own direction, a
// non-negative one complements it.
func readDirValue(stored float64, targetDir model.Direction) (model.Direction, float64) {
	if stored < 0 {
		return targetDir, -stored
	}
	return targetDir.Complement(), stored
}

func (fb *FlatBackground) exchDefsFG(nodeRef string, col int, entries []struct {
	Row int
	Val float64
}) []model.ExchDef {
	out := make([]model.ExchDef, 0, len(entries))
	for _, e := range entries {
		term := fb.fg[e.Row]
		dir, val := readDirValue(e.Val, term.Direction)
		out = append(out, model.ExchDef{
			NodeRef: nodeRef, FlowRef: term.FlowRef, Direction: dir,
			Termination: model.Termination{Kind: model.TerminationProcess, ProcessRef: term.TermRef},
			Value:       val,
		})
	}
	return out
}

func (fb *FlatBackground) exchDefsBG(nodeRef string, entries []struct {
	Row int
	Val float64
}) []model.ExchDef {
	out := make([]model.ExchDef, 0, len(entries))
	for _, e := range entries {
		term := fb.bg[e.Row]
		dir, val := readDirValue(e.Val, term.Direction)
		out = append(out, model.ExchDef{
			NodeRef: nodeRef, FlowRef: term.FlowRef, Direction: dir,
			Termination: model.Termination{Kind: model.TerminationProcess, ProcessRef: term.TermRef},
			Value:       val,
		})
	}
	return out
}

// Emissions are stored at face value: the exterior ref's own direction is
// its natural direction, with no sign or complement trade on either the
// write or the read side.
func (fb *FlatBackground) emDefs(nodeRef string, entries []struct {
	Row int
	Val float64
}) []model.ExchDef {
	out := make([]model.ExchDef, 0, len(entries))
	for _, e := range entries {
		term := fb.ex[e.Row]
		out = append(out, model.ExchDef{
			NodeRef: nodeRef, FlowRef: term.FlowRef, Direction: term.Direction,
			Termination: model.Termination{Kind: model.TerminationContext, Context: term.Context},
			Value:       e.Val,
		})
	}
	return out
}

// Dependencies yields a node's direct foreground and background
// dependencies, one ExchDef per nonzero matrix entry.
func (fb *FlatBackground) Dependencies(processRef, flowRef string) ([]model.ExchDef, error) {
	idx, isBG, err := fb.indexOf(processRef, flowRef)
	if err != nil {
		return nil, err
	}
	if isBG {
		if fb.a == nil {
			return nil, nil
		}
		return fb.exchDefsBG(processRef, nonzeroCol(fb.a, idx)), nil
	}
	out := fb.exchDefsFG(processRef, idx, nonzeroCol(fb.af, idx))
	out = append(out, fb.exchDefsBG(processRef, nonzeroCol(fb.ad, idx))...)
	return out, nil
}

// Exterior yields a node's direct exterior (environmental/cutoff)
// exchanges.
func (fb *FlatBackground) Exterior(processRef, flowRef string) ([]model.ExchDef, error) {
	idx, isBG, err := fb.indexOf(processRef, flowRef)
	if err != nil {
		return nil, err
	}
	if isBG {
		if fb.b == nil {
			return nil, nil
		}
		return fb.emDefs(processRef, nonzeroCol(fb.b, idx)), nil
	}
	return fb.emDefs(processRef, nonzeroCol(fb.bf, idx)), nil
}

// Consumers yields every node that directly depends on (process, flow).
func (fb *FlatBackground) Consumers(processRef, flowRef string) ([]model.TermRef, error) {
	idx, isBG, err := fb.indexOf(processRef, flowRef)
	if err != nil {
		return nil, err
	}
	var out []model.TermRef
	if isBG {
		for _, c := range nonzeroRow(fb.ad, idx) {
			out = append(out, fb.fg[c])
		}
		for _, c := range nonzeroRow(fb.a, idx) {
			out = append(out, fb.bg[c])
		}
	} else {
		for _, c := range nonzeroRow(fb.af, idx) {
			out = append(out, fb.fg[c])
		}
	}
	return out, nil
}

// Emitters yields every node that directly emits flowRef in the given
// direction (nil matches either direction) and, optionally, context. By
// default only XRs classified elementary are considered (the "emissions"
// half of the emissions/cutoffs split); pass widen=true to also match
// non-elementary and cutoff XRs, mirroring emitters(flow, direction=None,
// ...) against the full exterior.
func (fb *FlatBackground) Emitters(flowRef string, direction *model.Direction, context model.ContextKey, widen bool) []model.TermRef {
	seen := map[model.PFKey]model.TermRef{}
	for idx, xr := range fb.ex {
		if xr.FlowRef != flowRef {
			continue
		}
		if direction != nil && xr.Direction != *direction {
			continue
		}
		if !widen && xr.Classification != model.ClassElementary {
			continue
		}
		if context != nil && xr.Context.Join() != context.Join() {
			continue
		}
		for _, c := range nonzeroRow(fb.bf, idx) {
			t := fb.fg[c]
			seen[model.PFKey{ProcessRef: t.TermRef, FlowRef: t.FlowRef}] = t
		}
		for _, c := range nonzeroRow(fb.b, idx) {
			t := fb.bg[c]
			seen[model.PFKey{ProcessRef: t.TermRef, FlowRef: t.FlowRef}] = t
		}
	}
	out := make([]model.TermRef, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	return out
}

// Emissions yields a node's direct exterior exchanges restricted to XRs
// classified elementary, the Go equivalent of the original's emissions().
func (fb *FlatBackground) Emissions(processRef, flowRef string) ([]model.ExchDef, error) {
	return fb.exteriorFiltered(processRef, flowRef, func(c model.Classification) bool {
		return c == model.ClassElementary
	})
}

// Cutoffs yields a node's direct exterior exchanges that did not resolve to
// a canonical elementary flow — a non-elementary context or a fully
// unresolved termination — the Go equivalent of the original's cutoffs().
func (fb *FlatBackground) Cutoffs(processRef, flowRef string) ([]model.ExchDef, error) {
	return fb.exteriorFiltered(processRef, flowRef, model.Classification.IsCutoff)
}

// exteriorFiltered restricts Exterior's result to the XRs whose
// Classification satisfies keep.
func (fb *FlatBackground) exteriorFiltered(processRef, flowRef string, keep func(model.Classification) bool) ([]model.ExchDef, error) {
	all, err := fb.Exterior(processRef, flowRef)
	if err != nil {
		return nil, err
	}
	out := make([]model.ExchDef, 0, len(all))
	for _, e := range all {
		idx, ok := fb.exIndex[model.XRKey{FlowRef: e.FlowRef, Direction: e.Direction, Context: e.Termination.Context.Join()}]
		if ok && keep(fb.ex[idx].Classification) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Foreground traverses the foreground graph rooted at (process, flow),
// yielding one ExchDef per matrix entry (traverse=false) or per traversal
// link (traverse=true, which may revisit a node already seen). traverse=true
// is only safe to call on a Flat Background built with FlattenAf: Af is
// strictly triangular only after flattening, so an unflattened cyclic SCC
// makes the queue below grow without bound.
func (fb *FlatBackground) Foreground(processRef, flowRef string, traverse, exterior bool) ([]model.ExchDef, error) {
	idx, isBG, err := fb.indexOf(processRef, flowRef)
	if err != nil {
		return nil, err
	}
	if isBG {
		return nil, errors.New(errors.NotImplementedError{Feature: "foreground traversal of a background node"})
	}

	root := fb.fg[idx]
	out := []model.ExchDef{{
		NodeRef: processRef, FlowRef: flowRef, Direction: root.Direction,
		Termination: model.Termination{Kind: model.TerminationProcess, ProcessRef: processRef},
		Value:       1.0,
	}}

	colsSeen := map[int]bool{idx: true}
	queue := []int{idx}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		node := fb.fg[current]

		for _, e := range nonzeroCol(fb.af, current) {
			if colsSeen[e.Row] {
				if traverse {
					queue = append(queue, e.Row)
				}
			} else {
				colsSeen[e.Row] = true
				queue = append(queue, e.Row)
			}
			term := fb.fg[e.Row]
			dir, val := readDirValue(e.Val, term.Direction)
			out = append(out, model.ExchDef{
				NodeRef: node.TermRef, FlowRef: term.FlowRef, Direction: dir,
				Termination: model.Termination{Kind: model.TerminationProcess, ProcessRef: term.TermRef},
				Value:       val,
			})
		}

		out = append(out, fb.exchDefsBG(node.TermRef, nonzeroCol(fb.ad, current))...)

		if exterior {
			out = append(out, fb.emDefs(node.TermRef, nonzeroCol(fb.bf, current))...)
		}
	}

	return out, nil
}

// xTilde computes the foreground activity vector for a unit demand of
// (process, flow): Σ Af^k·e_i.
func (fb *FlatBackground) xTilde(ctx context.Context, idx int) *mat.VecDense {
	e := unitVector(fb.Pdim(), idx)
	return fb.iterate(ctx, fb.af, e, fb.opts.Solver)
}

// AD computes the background demand vector induced by a unit of (process,
// flow): Ad·x̃ for a foreground node, or its direct background dependency
// row for a background node.
func (fb *FlatBackground) AD(ctx context.Context, processRef, flowRef string) ([]model.ExchDef, error) {
	idx, isBG, err := fb.indexOf(processRef, flowRef)
	if err != nil {
		return nil, err
	}
	if isBG {
		return fb.Dependencies(processRef, flowRef)
	}
	if fb.Ndim() == 0 {
		return nil, nil
	}
	xt := fb.xTilde(ctx, idx)
	adTilde := mulVec(fb.ad, xt)
	return fb.exchDefsBG(processRef, denseVecNonzero(adTilde)), nil
}

// BF computes the exterior vector induced by a unit of (process, flow):
// Bf·x̃ for a foreground node, or its direct exterior row for a background
// node.
func (fb *FlatBackground) BF(ctx context.Context, processRef, flowRef string) ([]model.ExchDef, error) {
	idx, isBG, err := fb.indexOf(processRef, flowRef)
	if err != nil {
		return nil, err
	}
	if isBG {
		return fb.Exterior(processRef, flowRef)
	}
	xt := fb.xTilde(ctx, idx)
	bfTilde := mulVec(fb.bf, xt)
	return fb.emDefs(processRef, denseVecNonzero(bfTilde)), nil
}

func denseVecNonzero(v *mat.VecDense) []struct {
	Row int
	Val float64
} {
	var out []struct {
		Row int
		Val float64
	}
	for i := 0; i < v.Len(); i++ {
		if x := v.AtVec(i); x != 0 {
			out = append(out, struct {
				Row int
				Val float64
			}{i, x})
		}
	}
	return out
}

// LCI computes the full life-cycle inventory for a unit of (process,
// flow): every exterior exchange induced directly or indirectly.
func (fb *FlatBackground) LCI(ctx context.Context, processRef, flowRef string) ([]model.ExchDef, error) {
	bx, err := fb.computeLCI(ctx, processRef, flowRef)
	if err != nil {
		return nil, err
	}
	return fb.emDefs(processRef, denseVecNonzero(bx)), nil
}

func (fb *FlatBackground) computeLCI(ctx context.Context, processRef, flowRef string) (*mat.VecDense, error) {
	idx, isBG, err := fb.indexOf(processRef, flowRef)
	if err != nil {
		return nil, err
	}
	if isBG {
		if !fb.complete() {
			return nil, errors.New(errors.NoLciDatabaseError{Op: "lci"})
		}
		ad := unitVector(fb.Ndim(), idx)
		return fb.computeBgLCI(ctx, ad), nil
	}

	xt := fb.xTilde(ctx, idx)
	bfTilde := mulVec(fb.bf, xt)
	if fb.complete() {
		adTilde := mulVec(fb.ad, xt)
		bx := fb.computeBgLCI(ctx, adTilde)
		bx.AddVec(bx, bfTilde)
		return bx, nil
	}
	return bfTilde, nil
}

// UnitScores returns the foreground and background unit impact scores
// given a characterization row vector indexed over exterior refs. By
// default the characterization is applied only over XRs classified
// elementary, per the emissions/cutoffs split; pass widen=true to
// characterize the full exterior, non-elementary and cutoff XRs included.
// s is nil when there is no background partition.
func (fb *FlatBackground) UnitScores(charVector *mat.VecDense, widen bool) (sf, s *mat.VecDense) {
	cv := charVector
	if !widen {
		cv = fb.maskElementary(charVector)
	}
	sfOut := mat.NewVecDense(fb.Pdim(), nil)
	sfOut.MulVec(fb.bf.T(), cv)
	if fb.b == nil {
		if fb.Ndim() == 0 {
			return sfOut, nil
		}
		return sfOut, mat.NewVecDense(fb.Ndim(), nil)
	}
	sOut := mat.NewVecDense(fb.Ndim(), nil)
	sOut.MulVec(fb.b.T(), cv)
	return sfOut, sOut
}

// maskElementary zeroes every entry of v whose exterior index is not
// classified elementary, leaving the rest untouched.
func (fb *FlatBackground) maskElementary(v *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(v.Len(), nil)
	for i := 0; i < v.Len(); i++ {
		if i < len(fb.ex) && fb.ex[i].Classification == model.ClassElementary {
			out.SetVec(i, v.AtVec(i))
		}
	}
	return out
}

// ActivityLevels returns the foreground and background activity levels
// resulting from a unit of the designated process. x is nil when there is
// no background partition.
func (fb *FlatBackground) ActivityLevels(ctx context.Context, processRef, flowRef string) (xf, x *mat.VecDense, err error) {
	idx, isBG, err := fb.indexOf(processRef, flowRef)
	if err != nil {
		return nil, nil, err
	}
	if isBG {
		ad := unitVector(fb.Ndim(), idx)
		xf = mat.NewVecDense(fb.Pdim(), nil)
		x = fb.iterate(ctx, fb.a, ad, fb.opts.Solver)
		return xf, x, nil
	}
	xf = fb.xTilde(ctx, idx)
	if fb.Ndim() == 0 {
		return xf, nil, nil
	}
	adTilde := mulVec(fb.ad, xf)
	x = fb.iterate(ctx, fb.a, adTilde, fb.opts.Solver)
	return xf, x, nil
}

// IterativeTrace reports, for diagnostics, how many power-series terms a
// unit solve for (process, flow) takes to converge under the configured
// threshold — a supplemental query beyond flat_background.py's surface,
// useful for tuning bgconfig.Options.MaxIter against a real database.
func (fb *FlatBackground) IterativeTrace(ctx context.Context, processRef, flowRef string) (iterations int, converged bool, err error) {
	idx, isBG, err := fb.indexOf(processRef, flowRef)
	if err != nil {
		return 0, false, err
	}
	a := fb.af
	dim := fb.Pdim()
	if isBG {
		a = fb.a
		dim = fb.Ndim()
	}
	if a == nil {
		return 0, true, nil
	}

	threshold := fb.opts.Threshold
	if threshold <= 0 {
		threshold = 1e-8
	}
	maxIter := fb.opts.MaxIter
	if maxIter <= 0 {
		maxIter = 100
	}

	y := unitVector(dim, idx)
	sumTotal := 0.0
	for iterations < maxIter {
		y = mulVec(a, y)
		inc := l1Norm(y)
		if inc == 0 {
			return iterations, true, nil
		}
		sumTotal += inc
		iterations++
		if inc/sumTotal < threshold {
			return iterations, true, nil
		}
	}
	return iterations, false, nil
}
