package background

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/antelope-go/tarjanbg/internal/bgconfig"
)

// luCache holds the one-shot LU factorization of (I - A) used by
// bgconfig.SolverFactorize, the Go equivalent of scipy's factorized(ima)
// cached on first use in _compute_bg_lci.
type luCache struct {
	lu  mat.LU
	dim int
}

func unitVector(dim, idx int) *mat.VecDense {
	v := mat.NewVecDense(dim, nil)
	if dim > 0 {
		v.SetVec(idx, 1)
	}
	return v
}

// denseFrom copies any mat.Matrix into a *mat.Dense, the bridge this
// package uses wherever gonum needs a concrete Dense (LU factorization,
// direct solve) rather than the generic Matrix interface a sparse.CSC
// satisfies for read-only ops like MulVec.
func denseFrom(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	d := mat.NewDense(r, c, nil)
	d.Copy(m)
	return d
}

func identityMinus(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := denseFrom(m)
	out.Scale(-1, out)
	for i := 0; i < r && i < c; i++ {
		out.Set(i, i, out.At(i, i)+1)
	}
	return out
}

// l1Norm sums the absolute value of every element of v.
func l1Norm(v *mat.VecDense) float64 {
	sum := 0.0
	for i := 0; i < v.Len(); i++ {
		x := v.AtVec(i)
		if x < 0 {
			x = -x
		}
		sum += x
	}
	return sum
}

func mulVec(a mat.Matrix, x *mat.VecDense) *mat.VecDense {
	r, _ := a.Dims()
	out := mat.NewVecDense(r, nil)
	out.MulVec(a, x)
	return out
}

// iterate computes Σ a^k·y via a bounded power series, stopping early on
// exact convergence (inc==0) or once the latest term's relative L1 norm
// falls under threshold, exactly as _iterate_a_matrix does. A nil a (no
// background reachable) returns y unchanged as the zeroth term.
func (fb *FlatBackground) iterate(ctx context.Context, a mat.Matrix, y *mat.VecDense, solver bgconfig.Solver) *mat.VecDense {
	if a == nil {
		return y
	}

	if solver == bgconfig.SolverSpsolve {
		ima := identityMinus(a)
		var x mat.Dense
		if err := x.Solve(ima, y); err != nil {
			if fb.log != nil {
				fb.log.Warnf("background: spsolve failed, falling back to iterative: %v", err)
			}
		} else {
			r, _ := x.Dims()
			out := mat.NewVecDense(r, nil)
			for i := 0; i < r; i++ {
				out.SetVec(i, x.At(i, 0))
			}
			return out
		}
	}

	threshold := fb.opts.Threshold
	if threshold <= 0 {
		threshold = 1e-8
	}
	maxIter := fb.opts.MaxIter
	if maxIter <= 0 {
		maxIter = 100
	}

	r, _ := a.Dims()
	total := mat.NewVecDense(r, nil)
	cur := y
	sumTotal := 0.0
	iterations := 0

	for iterations < maxIter {
		total.AddVec(total, cur)
		cur = mulVec(a, cur)
		inc := l1Norm(cur)
		if inc == 0 {
			break
		}
		sumTotal += inc
		if inc/sumTotal < threshold {
			break
		}
		iterations++
	}

	if iterations >= maxIter {
		if fb.log != nil {
			fb.log.Warnf("background: iterative solve did not converge within %d iterations, returning the partial sum", maxIter)
		}
		if fb.tel != nil {
			fb.tel.RecordNonConvergence(ctx, "", iterations)
		}
	}

	return total
}

// ensureFactorization lazily computes and caches the LU factorization of
// (I - A), the first-writer-wins mutable state this type permits.
func (fb *FlatBackground) ensureFactorization() *luCache {
	fb.luOnce.Do(func() {
		if fb.a == nil {
			return
		}
		ima := identityMinus(fb.a)
		var lu mat.LU
		lu.Factorize(ima)
		dim, _ := fb.a.Dims()
		fb.lu = &luCache{lu: lu, dim: dim}
	})
	return fb.lu
}

// computeBgLCI solves the background system for ad (a demand vector
// indexed over background nodes) and returns B·x, the Go equivalent of
// _compute_bg_lci.
func (fb *FlatBackground) computeBgLCI(ctx context.Context, ad *mat.VecDense) *mat.VecDense {
	if fb.a == nil {
		return mat.NewVecDense(fb.Mdim(), nil)
	}

	var x *mat.VecDense
	if fb.opts.Solver == bgconfig.SolverFactorize {
		cache := fb.ensureFactorization()
		if cache != nil {
			var solved mat.Dense
			if err := cache.lu.Solve(&solved, false, ad); err == nil {
				out := mat.NewVecDense(cache.dim, nil)
				for i := 0; i < cache.dim; i++ {
					out.SetVec(i, solved.At(i, 0))
				}
				x = out
			} else if fb.log != nil {
				fb.log.Warnf("background: factorized solve failed, falling back to iterative: %v", err)
			}
		}
	}
	if x == nil {
		x = fb.iterate(ctx, fb.a, ad, fb.opts.Solver)
	}

	return mulVec(fb.b, x)
}
