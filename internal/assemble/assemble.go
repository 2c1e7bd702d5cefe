// Package assemble turns an ordering.Graph's triplet lists into the five
// named sparse matrices a Flat Background solves over. It is a pure
// function of its input: no traversal, no classification, just
// triplet-to-CSC accumulation (plus, when requested, the flattening
// transform that folds foreground cycles into a Leontief inverse) — the
// same separation of concerns the InmAP SLCA code draws between building an
// emissions inventory and turning it into a gonum matrix for a solve.
package assemble

import (
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/antelope-go/tarjanbg/internal/model"
	"github.com/antelope-go/tarjanbg/internal/ordering"
)

// Matrices holds the five named sparse matrices a Flat Background is built
// from. A and B are nil when the background partition was never
// discovered (no background nodes reachable, i.e. ndim == 0).
type Matrices struct {
	Af *sparse.CSC // foreground -> foreground
	Ad *sparse.CSC // background -> foreground
	Bf *sparse.CSC // exterior  -> foreground
	A  *sparse.CSC // background -> background, nil if ndim == 0
	B  *sparse.CSC // exterior  -> background, nil if ndim == 0
}

// Build accumulates g's triplet lists into CSC matrices, summing duplicate
// (row, col) entries exactly as a DOK accumulator would. When flatten is
// true, Af's intra-SCC entries are first split out and folded into
// Af/Ad/Bf via the Leontief inverse of the cyclic part, so the returned Af
// is strictly triangular over g's renumbering (unless that inverse does
// not exist; see flattenInPlace) — the Go equivalent of
// flat_background.py's flatten/split_af/_determine_scc_inds.
func Build(g *ordering.Graph, flatten bool) Matrices {
	pdim := len(g.Foreground)
	ndim := len(g.Background)
	mdim := len(g.Exterior)

	afEntries := g.Af
	var sccEntries []ordering.Entry
	if flatten && pdim > 0 {
		afEntries, sccEntries = splitAf(g)
	}

	m := Matrices{
		Af: fromEntries(pdim, pdim, afEntries),
		Ad: fromEntries(ndim, pdim, g.Ad),
		Bf: fromEntries(mdim, pdim, g.Bf),
	}
	if ndim > 0 {
		m.A = fromEntries(ndim, ndim, g.A)
		m.B = fromEntries(mdim, ndim, g.B)
	}

	if len(sccEntries) > 0 {
		flattenInPlace(&m, pdim, sccEntries)
	}

	return m
}

// splitAf partitions Af's raw triplets the way _determine_scc_inds/split_af
// do: an entry whose row and column both belong to the same non-trivial
// foreground SCC is cyclic (Af_scc); every other entry is already acyclic
// (Af_non), including edges that cross between two different SCCs or leave
// an SCC entirely.
func splitAf(g *ordering.Graph) (nonEntries, sccEntries []ordering.Entry) {
	sccLabel := make([]string, len(g.Foreground))
	for i, pf := range g.Foreground {
		sccLabel[i] = g.SCCOf[pf.Key()]
	}

	nonEntries = make([]ordering.Entry, 0, len(g.Af))
	for _, e := range g.Af {
		if sccLabel[e.Row] != model.NoSCC && sccLabel[e.Row] == sccLabel[e.Col] {
			sccEntries = append(sccEntries, e)
		} else {
			nonEntries = append(nonEntries, e)
		}
	}
	return nonEntries, sccEntries
}

// flattenInPlace computes inv = (I - Af_scc)^-1 from sccEntries and
// right-multiplies Af, Ad, and Bf by it, replacing them in m; an Ad or Bf
// with no rows is left as is. A singular (I - Af_scc) (a degenerate unit
// cycle) puts the split-out entries back into Af, unflattened, rather than
// failing the whole build.
func flattenInPlace(m *Matrices, pdim int, sccEntries []ordering.Entry) {
	afScc := mat.NewDense(pdim, pdim, nil)
	for _, e := range sccEntries {
		afScc.Set(e.Row, e.Col, afScc.At(e.Row, e.Col)+e.Val)
	}

	ima := identityMinusDense(afScc)
	var inv mat.Dense
	if err := inv.Inverse(ima); err != nil {
		var restored mat.Dense
		restored.Add(m.Af, afScc)
		m.Af = denseToSparse(&restored)
		return
	}

	m.Af = rightMultiply(m.Af, &inv)
	if r, _ := m.Ad.Dims(); r > 0 {
		m.Ad = rightMultiply(m.Ad, &inv)
	}
	if r, _ := m.Bf.Dims(); r > 0 {
		m.Bf = rightMultiply(m.Bf, &inv)
	}
}

// identityMinusDense mirrors background/solve.go's identityMinus: I - m,
// computed densely since a Leontief inverse needs a concrete factorization
// target, not the read-only mat.Matrix interface a sparse.CSC satisfies.
func identityMinusDense(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	out.Scale(-1, m)
	for i := 0; i < r && i < c; i++ {
		out.Set(i, i, out.At(i, i)+1)
	}
	return out
}

// rightMultiply computes csc·inv densely and converts the product back to
// a sparse CSC, dropping exact zeros.
func rightMultiply(csc *sparse.CSC, inv *mat.Dense) *sparse.CSC {
	var out mat.Dense
	out.Mul(csc, inv)
	return denseToSparse(&out)
}

func denseToSparse(d *mat.Dense) *sparse.CSC {
	r, c := d.Dims()
	dok := sparse.NewDOK(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := d.At(i, j); v != 0 {
				dok.Set(i, j, v)
			}
		}
	}
	return dok.ToCSC()
}

func fromEntries(rows, cols int, entries []ordering.Entry) *sparse.CSC {
	dok := sparse.NewDOK(rows, cols)
	for _, e := range entries {
		if e.Val == 0 {
			continue
		}
		dok.Set(e.Row, e.Col, dok.At(e.Row, e.Col)+e.Val)
	}
	return dok.ToCSC()
}
