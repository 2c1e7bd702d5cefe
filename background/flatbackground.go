// Package background implements the Flat Background: an immutable,
// serializable, ordered representation of a process-exchange graph,
// queryable without re-running the ordering engine. It is the Go
// counterpart of flat_background.py's FlatBackground class — same five
// named matrices, same TermRef-indexed foreground/background/exterior
// lists, same query surface — rebuilt around this module's ordering and
// assemble packages instead of scipy.
package background

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/james-bowman/sparse"

	"github.com/antelope-go/tarjanbg/internal/assemble"
	"github.com/antelope-go/tarjanbg/internal/bgconfig"
	"github.com/antelope-go/tarjanbg/internal/errors"
	"github.com/antelope-go/tarjanbg/internal/external"
	"github.com/antelope-go/tarjanbg/internal/log"
	"github.com/antelope-go/tarjanbg/internal/matfile"
	"github.com/antelope-go/tarjanbg/internal/model"
	"github.com/antelope-go/tarjanbg/internal/ordering"
	"github.com/antelope-go/tarjanbg/internal/ordmanifest"
	"github.com/antelope-go/tarjanbg/internal/telemetry"
)

// FlatBackground is the static, ordered result of one Tarjan build. Every
// field is populated once at construction; the only field that mutates
// afterward is the cached LU factorization, guarded by sync.Once, exactly
// the "first writer wins, then read-only" rule the teacher's config cache
// fields follow.
type FlatBackground struct {
	fg []model.TermRef
	bg []model.TermRef
	ex []model.ExteriorRef

	fgIndex map[model.PFKey]int
	bgIndex map[model.PFKey]int
	exIndex map[model.XRKey]int

	af, ad, bf *sparse.CSC
	a, b       *sparse.CSC // nil if background partition is empty

	opts bgconfig.Options
	log  log.Logger
	tel  *telemetry.Telemeter

	luOnce sync.Once
	lu     *luCache
}

// ContextResolver maps a persisted context path back to a canonical
// ContextKey, mirroring FlatBackground.map_contexts against an index.
type ContextResolver interface {
	GetContext(key model.ContextKey) (external.Context, error)
}

// Build runs the ordering engine and matrix assembler against idx/inv and
// wraps the result in a FlatBackground, the Go equivalent of
// FlatBackground.from_query.
func Build(ctx context.Context, idx external.Index, inv external.Inventory, opts bgconfig.Options, l log.Logger) (*FlatBackground, error) {
	var tel *telemetry.Telemeter
	if opts.Trace {
		tel = telemetry.New()
	}
	if l == nil {
		if opts.Quiet {
			l = log.NewQuiet()
		} else {
			l = log.New()
		}
	}

	// runID correlates every span and log line this build emits, the way
	// terragrunt tags a whole run's telemetry with one id rather than
	// leaving spans to correlate solely on parent/child linkage.
	runID := uuid.NewString()
	l = l.WithField("run_id", runID)

	eng := &ordering.Engine{
		Index:             idx,
		Inventory:         inv,
		PreferredProvider: opts.PreferredProvider,
		Log:               l,
		Telemeter:         tel,
	}

	var graph *ordering.Graph
	err := traceSpan(ctx, tel, "background.build", map[string]any{"run_id": runID}, func(ctx context.Context) error {
		g, err := eng.Build(ctx)
		if err != nil {
			return err
		}
		graph = g
		return nil
	})
	if err != nil {
		return nil, err
	}

	mats := assemble.Build(graph, opts.FlattenAf)

	fb := fromGraph(graph, mats, opts, l, tel)

	if opts.SaveAfter != "" {
		if err := fb.Save(opts.SaveAfter); err != nil {
			l.Warnf("background: save_after failed: %v", err)
		}
	}

	return fb, nil
}

func traceSpan(ctx context.Context, tel *telemetry.Telemeter, name string, attrs map[string]any, fn func(context.Context) error) error {
	if tel == nil {
		return fn(ctx)
	}
	return tel.Span(ctx, name, attrs, fn)
}

func fromGraph(g *ordering.Graph, mats assemble.Matrices, opts bgconfig.Options, l log.Logger, tel *telemetry.Telemeter) *FlatBackground {
	fb := &FlatBackground{
		af: mats.Af, ad: mats.Ad, bf: mats.Bf, a: mats.A, b: mats.B,
		opts: opts, log: l, tel: tel,
	}

	fb.fg = make([]model.TermRef, len(g.Foreground))
	fb.fgIndex = make(map[model.PFKey]int, len(g.Foreground))
	for i, pf := range g.Foreground {
		fb.fg[i] = toTermRef(pf, g.SCCOf)
		fb.fgIndex[pf.Key()] = i
	}

	fb.bg = make([]model.TermRef, len(g.Background))
	fb.bgIndex = make(map[model.PFKey]int, len(g.Background))
	for i, pf := range g.Background {
		fb.bg[i] = toTermRef(pf, g.SCCOf)
		fb.bgIndex[pf.Key()] = i
	}

	fb.ex = append([]model.ExteriorRef(nil), g.Exterior...)
	fb.exIndex = make(map[model.XRKey]int, len(g.Exterior))
	for i, xr := range g.Exterior {
		fb.exIndex[xr.Key()] = i
	}

	return fb
}

func toTermRef(pf model.ProductFlow, sccOf map[model.PFKey]string) model.TermRef {
	scc := sccOf[pf.Key()]
	return model.TermRef{
		FlowRef:   pf.FlowRef,
		Direction: pf.Direction,
		TermRef:   pf.ProcessRef,
		SCCID:     scc,
	}
}

// Dims.
func (fb *FlatBackground) Pdim() int { return len(fb.fg) }
func (fb *FlatBackground) Ndim() int { return len(fb.bg) }
func (fb *FlatBackground) Mdim() int { return len(fb.ex) }

// ForegroundRefs, Background, ExteriorRefs return the ordered
// TermRef/ExteriorRef lists, in final matrix-index order.
func (fb *FlatBackground) ForegroundRefs() []model.TermRef   { return fb.fg }
func (fb *FlatBackground) Background() []model.TermRef       { return fb.bg }
func (fb *FlatBackground) ExteriorRefs() []model.ExteriorRef { return fb.ex }

func (fb *FlatBackground) complete() bool { return fb.a != nil && fb.b != nil }

// indexOf resolves a (process_ref, flow_ref) pair to its matrix index and
// whether it's a foreground or background node.
func (fb *FlatBackground) indexOf(processRef, flowRef string) (idx int, isBackground bool, err error) {
	key := model.PFKey{ProcessRef: processRef, FlowRef: flowRef}
	if i, ok := fb.fgIndex[key]; ok {
		return i, false, nil
	}
	if i, ok := fb.bgIndex[key]; ok {
		return i, true, nil
	}
	return 0, false, errors.New(errors.UnknownTerminationError{NodeRef: processRef, FlowRef: flowRef})
}

// IsInBackground reports whether (processRef, flowRef) resolved to a
// background node.
func (fb *FlatBackground) IsInBackground(processRef, flowRef string) bool {
	_, isBG, err := fb.indexOf(processRef, flowRef)
	return err == nil && isBG
}

// IsProcessBackground reports whether every reference flow of processRef
// known to this Flat Background is background-classified; a supplemental
// convenience query beyond the single (process, flow) granularity
// flat_background.py exposes.
func (fb *FlatBackground) IsProcessBackground(processRef string) bool {
	found := false
	for _, t := range fb.fg {
		if t.TermRef == processRef {
			return false
		}
	}
	for _, t := range fb.bg {
		if t.TermRef == processRef {
			found = true
		}
	}
	return found
}

// IsInSCC reports whether (processRef, flowRef) belongs to a non-trivial
// SCC.
func (fb *FlatBackground) IsInSCC(processRef, flowRef string) bool {
	idx, isBG, err := fb.indexOf(processRef, flowRef)
	if err != nil {
		return false
	}
	if isBG {
		return fb.bg[idx].InSCC()
	}
	return fb.fg[idx].InSCC()
}

// Save persists this Flat Background to base+".mat" and
// base+ordmanifest.Suffix (a base already ending in ".mat" is taken as the
// .mat path), holding a gofrs/flock lock on the .mat path plus ".lock" for
// the duration of both writes. The .mat file is written first; if the
// manifest write then fails, the .mat file stays in place.
func (fb *FlatBackground) Save(base string) error {
	ext := filepath.Ext(base)
	if ext != "" && ext != ".mat" {
		return errors.New(errors.UnsupportedFiletypeError{Path: base, Ext: ext})
	}
	matPath := base
	if ext == "" {
		matPath = base + ".mat"
	}

	lockPath := matPath + ".lock"
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return errors.WithStackTrace(err)
	}
	if !locked {
		return errors.Errorf("background: could not acquire lock on %s", lockPath)
	}
	defer fl.Unlock()
	defer os.Remove(lockPath)

	f, err := os.Create(matPath)
	if err != nil {
		return errors.WithStackTrace(err)
	}
	vars := []matfile.Named{
		{Name: "Af", Matrix: fb.af},
		{Name: "Ad", Matrix: fb.ad},
		{Name: "Bf", Matrix: fb.bf},
	}
	if fb.complete() {
		vars = append(vars, matfile.Named{Name: "A", Matrix: fb.a}, matfile.Named{Name: "B", Matrix: fb.b})
	}
	if err := matfile.Write(f, vars); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.WithStackTrace(err)
	}

	return ordmanifest.Write(matPath[:len(matPath)-len(".mat")], ordmanifest.Manifest{
		Foreground: fb.fg,
		Background: fb.bg,
		Exterior:   fb.fg2ex(),
	})
}

// fg2ex adapts the exterior list's ExteriorRef shape to the TermRef shape
// the manifest persists, mirroring _make_term_ext's '; '-joined context
// serialization.
func (fb *FlatBackground) fg2ex() []model.TermRef {
	out := make([]model.TermRef, len(fb.ex))
	for i, x := range fb.ex {
		out[i] = model.TermRef{
			FlowRef:   x.FlowRef,
			Direction: x.Direction,
			TermRef:   x.Context.Join(),
		}
	}
	return out
}

// Restore loads a Flat Background previously written by Save. resolver, if
// non-nil, is asked for each exterior ref's context, and the ref is
// classified elementary when that context reports itself elementary;
// without it, every exterior ref is classified non-elementary, so
// Emissions and the default (widen=false) Emitters and UnitScores views
// match none of them.
func Restore(base string, opts bgconfig.Options, l log.Logger, resolver ContextResolver) (*FlatBackground, error) {
	ext := filepath.Ext(base)
	matPath := base
	if ext == "" {
		matPath = base + ".mat"
	} else if ext != ".mat" {
		return nil, errors.New(errors.UnsupportedFiletypeError{Path: base, Ext: ext})
	}

	f, err := os.Open(matPath)
	if err != nil {
		return nil, errors.WithStackTrace(err)
	}
	defer f.Close()

	named, err := matfile.Read(f)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*sparse.CSC, len(named))
	for _, n := range named {
		byName[n.Name] = n.Matrix
	}

	manifestBase := matPath
	if ext == "" {
		manifestBase = base
	} else {
		manifestBase = base[:len(base)-len(ext)]
	}
	mf, err := ordmanifest.Read(manifestBase + ext)
	if err != nil {
		mf, err = ordmanifest.Read(manifestBase)
		if err != nil {
			return nil, err
		}
	}

	if l == nil {
		l = log.New()
	}

	fb := &FlatBackground{
		af: byName["Af"], ad: byName["Ad"], bf: byName["Bf"],
		a: byName["A"], b: byName["B"],
		opts: opts, log: l,
	}

	fb.fg = mf.Foreground
	fb.fgIndex = make(map[model.PFKey]int, len(fb.fg))
	for i, t := range fb.fg {
		fb.fgIndex[model.PFKey{ProcessRef: t.TermRef, FlowRef: t.FlowRef}] = i
	}

	fb.bg = mf.Background
	fb.bgIndex = make(map[model.PFKey]int, len(fb.bg))
	for i, t := range fb.bg {
		fb.bgIndex[model.PFKey{ProcessRef: t.TermRef, FlowRef: t.FlowRef}] = i
	}

	fb.ex = make([]model.ExteriorRef, len(mf.Exterior))
	fb.exIndex = make(map[model.XRKey]int, len(fb.ex))
	for i, t := range mf.Exterior {
		ctxKey := model.SplitContextKey(t.TermRef)
		class := model.ClassNonElementary
		if resolver != nil {
			if c, err := resolver.GetContext(ctxKey); err == nil && c.Elementary() {
				class = model.ClassElementary
			}
		}
		fb.ex[i] = model.ExteriorRef{FlowRef: t.FlowRef, Direction: t.Direction, Context: ctxKey, Classification: class}
		fb.exIndex[fb.ex[i].Key()] = i
	}

	return fb, nil
}

// String renders a short diagnostic summary, useful in logs.
func (fb *FlatBackground) String() string {
	return fmt.Sprintf("FlatBackground(pdim=%d, ndim=%d, mdim=%d)", fb.Pdim(), fb.Ndim(), fb.Mdim())
}
