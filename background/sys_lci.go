package background

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/antelope-go/tarjanbg/internal/model"
)

// DemandRow is one row of an arbitrary demand bundle passed to SysLCI: an
// exchange whose termination may or may not be known to this Flat
// Background.
type DemandRow struct {
	NodeRef     string
	FlowRef     string
	Direction   model.Direction
	Termination model.Termination
	Value       float64
}

// checkDirn mirrors _check_dirn: a demand row's value is taken as positive
// when the row's direction is the complement of the term's canonical
// direction (an Input row against an Output term), negative otherwise.
func checkDirn(termDir, exchDir model.Direction) float64 {
	if exchDir.Complement() == termDir {
		return 1
	}
	return -1
}

// SysLCI solves an arbitrary heterogeneous demand bundle against this
// Flat Background, classifying every row into a foreground/background
// termination it resolves, or a missed row (context-terminated or
// unterminated) returned verbatim in input order. It never fails on an
// unresolvable row — the Go equivalent of sys_lci's "missed" bucket.
func (fb *FlatBackground) SysLCI(ctx context.Context, demand []DemandRow) (resolved, missed []model.ExchDef) {
	var nodeRef string

	fgDmd := map[int]float64{}
	bgDmd := map[int]float64{}

	for _, x := range demand {
		if nodeRef == "" {
			nodeRef = x.NodeRef
		}

		switch x.Termination.Kind {
		case model.TerminationContext:
			missed = append(missed, model.ExchDef{
				NodeRef: x.NodeRef, FlowRef: x.FlowRef, Direction: x.Direction,
				Termination: x.Termination, Value: x.Value,
			})
			continue
		case model.TerminationCutoff:
			missed = append(missed, model.ExchDef{
				NodeRef: x.NodeRef, FlowRef: x.FlowRef, Direction: x.Direction,
				Termination: x.Termination, Value: x.Value,
			})
			continue
		}

		key := model.PFKey{ProcessRef: x.Termination.ProcessRef, FlowRef: x.FlowRef}
		if idx, ok := fb.fgIndex[key]; ok {
			fgDmd[idx] += x.Value * checkDirn(fb.fg[idx].Direction, x.Direction)
			continue
		}
		if idx, ok := fb.bgIndex[key]; ok {
			bgDmd[idx] += x.Value * checkDirn(fb.bg[idx].Direction, x.Direction)
			continue
		}
		missed = append(missed, model.ExchDef{
			NodeRef: x.NodeRef, FlowRef: x.FlowRef, Direction: x.Direction,
			Termination: x.Termination, Value: x.Value,
		})
	}

	xDmd := mat.NewVecDense(fb.Pdim(), nil)
	for idx, v := range fgDmd {
		xDmd.SetVec(idx, v)
	}

	xTilde := fb.iterate(ctx, fb.af, xDmd, fb.opts.Solver)
	bx := mulVec(fb.bf, xTilde)

	if fb.Ndim() > 0 {
		adTilde := mulVec(fb.ad, xTilde)
		for idx, v := range bgDmd {
			adTilde.SetVec(idx, adTilde.AtVec(idx)+v)
		}
		bx.AddVec(bx, fb.computeBgLCI(ctx, adTilde))
	}

	resolved = fb.emDefs(nodeRef, denseVecNonzero(bx))
	return resolved, missed
}
