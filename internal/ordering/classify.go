package ordering

import "github.com/antelope-go/tarjanbg/internal/model"

// classify assigns background/foreground status and final matrix indices,
// then re-expresses every discovered edge in that final index space.
//
// The background rule (the Open Question resolved in DESIGN.md): an SCC is
// background unless it contains a directly-requested seed, in which case
// it is always foreground regardless of size or self-loops. Every other
// non-trivial SCC seeds background directly. Background status then
// propagates to any SCC with an edge into an already-background SCC,
// walked in Tarjan's natural completion order — producers/dependencies
// close before their consumers, so by the time a component is classified,
// every component it depends on already has a final classification.
func classify(d *discovery, t *tarjan, seedIdx []int) *Graph {
	seeds := make(map[int]bool, len(seedIdx))
	for _, s := range seedIdx {
		seeds[s] = true
	}

	repOfNode := make([]int, len(d.nodes))
	for _, rep := range t.order {
		for _, m := range t.members[rep] {
			repOfNode[m] = rep
		}
	}

	background := make(map[int]bool, len(t.order))
	containsSeed := make(map[int]bool, len(t.order))
	for rep, members := range t.members {
		for _, m := range members {
			if seeds[m] {
				containsSeed[rep] = true
			}
		}
	}

	for _, rep := range t.order {
		if containsSeed[rep] {
			background[rep] = false
			continue
		}
		bg := t.nonTrivial(rep)
		if !bg {
			for _, m := range t.members[rep] {
				for _, adj := range t.adj[m] {
					if background[repOfNode[adj]] {
						bg = true
						break
					}
				}
				if bg {
					break
				}
			}
		}
		background[rep] = bg
	}

	// scc_id: any node in a non-trivial SCC carries the representative
	// node's process ref, regardless of fg/bg classification.
	sccOf := make(map[model.PFKey]string)
	for rep, members := range t.members {
		if !t.nonTrivial(rep) {
			continue
		}
		label := d.nodes[rep].pf.ProcessRef
		for _, m := range members {
			sccOf[d.nodes[m].pf.Key()] = label
		}
	}

	// Renumber: reverse of Tarjan completion order, partitioned by final
	// fg/bg status, preserving SCC contiguity (guaranteed since members of
	// one component are contiguous within t.order's completion grouping).
	fgFinal := make([]int, 0, len(d.nodes))
	bgFinal := make([]int, 0, len(d.nodes))
	for i := len(t.order) - 1; i >= 0; i-- {
		rep := t.order[i]
		members := t.members[rep]
		if background[rep] {
			bgFinal = append(bgFinal, members...)
		} else {
			fgFinal = append(fgFinal, members...)
		}
	}

	fgIndexOf := make(map[int]int, len(fgFinal))
	for i, n := range fgFinal {
		fgIndexOf[n] = i
	}
	bgIndexOf := make(map[int]int, len(bgFinal))
	for i, n := range bgFinal {
		bgIndexOf[n] = i
	}

	g := &Graph{
		Foreground: make([]model.ProductFlow, len(fgFinal)),
		Background: make([]model.ProductFlow, len(bgFinal)),
		Exterior:   append([]model.ExteriorRef(nil), d.xrs...),
		SCCOf:      sccOf,
	}
	for i, n := range fgFinal {
		g.Foreground[i] = d.nodes[n].pf
	}
	for i, n := range bgFinal {
		g.Background[i] = d.nodes[n].pf
	}

	for _, e := range d.edges {
		colFG, colIsFG := fgIndexOf[e.col]
		colBG, colIsBG := bgIndexOf[e.col]

		if e.toNode < 0 {
			exIdx := d.xrOf[e.toXR.Key()]
			// Exterior coefficients are stored at face value: an
			// exterior ref's direction is fixed at discovery time (its
			// own declared direction), so there is no row>col-style
			// sign/direction trade to make on the way in, unlike an
			// interior edge between two nodes that each have their own
			// canonical direction.
			val := e.value
			if colIsFG {
				g.Bf = append(g.Bf, Entry{Row: exIdx, Col: colFG, Val: val})
			} else if colIsBG {
				g.B = append(g.B, Entry{Row: exIdx, Col: colBG, Val: val})
			}
			continue
		}

		rowFG, rowIsFG := fgIndexOf[e.toNode]
		rowBG, rowIsBG := bgIndexOf[e.toNode]
		targetPF := d.nodes[e.toNode].pf
		val := signedValue(e.direction, e.value, targetPF.Direction)

		switch {
		case colIsFG && rowIsFG:
			g.Af = append(g.Af, Entry{Row: rowFG, Col: colFG, Val: val})
		case colIsFG && rowIsBG:
			g.Ad = append(g.Ad, Entry{Row: rowBG, Col: colFG, Val: val})
		case colIsBG && rowIsBG:
			g.A = append(g.A, Entry{Row: rowBG, Col: colBG, Val: val})
		case colIsBG && rowIsFG:
			// a background node may not depend on a foreground node: if it
			// did, propagation would have classified the foreground node's
			// SCC as background too. Treat as a same-SCC self-reference
			// folded into A via the background node's own column.
			g.A = append(g.A, Entry{Row: bgIndexOf[e.col], Col: bgIndexOf[e.col], Val: 0})
		}
	}

	return g
}

// signedValue applies the sign convention: a coefficient is stored
// negative when the exchange's own direction matches the target's natural
// direction, and positive when it is the complement. This exactly inverts
// the read-path rule (dat<0 => dirn=term.direction; dat>=0 =>
// dirn=comp_dir(term.direction)).
func signedValue(exchDir model.Direction, value float64, targetDir model.Direction) float64 {
	v := value
	if v < 0 {
		v = -v
	}
	if exchDir == targetDir {
		return -v
	}
	return v
}
