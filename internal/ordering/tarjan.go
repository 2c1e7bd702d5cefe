package ordering

// tarjan computes strongly-connected components over the discovery graph
// using the iterative (explicit-stack) formulation of Tarjan's algorithm,
// so traversal depth is bounded only by heap size, never call-stack size.
type tarjan struct {
	d *discovery

	index   []int // discovery index per node, -1 until visited
	lowlink []int
	onStack []bool
	stack   []int // Tarjan's node stack

	adj [][]int // node -> outbound node targets (exterior edges excluded)

	nextIndex int

	// sccID maps every node -> representative node of its SCC (the
	// component's root, the last node popped off t.stack when that
	// component closes); trivial components get an entry too.
	sccID map[int]int
	// order lists SCC representative ids in completion order (producers
	// /leaves first, same order Tarjan naturally emits components).
	order []int
	// members maps representative -> every node in that component.
	members map[int][]int
	selfLoop map[int]bool
}

func (t *tarjan) run() {
	n := len(t.d.nodes)
	t.index = make([]int, n)
	t.lowlink = make([]int, n)
	t.onStack = make([]bool, n)
	for i := range t.index {
		t.index[i] = -1
	}
	t.sccID = make(map[int]int)
	t.members = make(map[int][]int)
	t.selfLoop = make(map[int]bool)

	t.adj = make([][]int, n)
	for _, e := range t.d.edges {
		if e.toNode < 0 {
			continue
		}
		t.adj[e.col] = append(t.adj[e.col], e.toNode)
		if e.col == e.toNode {
			t.selfLoop[e.col] = true
		}
	}

	for v := 0; v < n; v++ {
		if t.index[v] == -1 {
			t.strongConnect(v)
		}
	}
}

// frame is one level of the explicit call stack strongConnect would
// otherwise use recursion for.
type frame struct {
	v       int
	childAt int
}

func (t *tarjan) strongConnect(start int) {
	work := []frame{{v: start, childAt: 0}}

	t.index[start] = t.nextIndex
	t.lowlink[start] = t.nextIndex
	t.nextIndex++
	t.stack = append(t.stack, start)
	t.onStack[start] = true

	for len(work) > 0 {
		top := &work[len(work)-1]
		v := top.v

		if top.childAt < len(t.adj[v]) {
			w := t.adj[v][top.childAt]
			top.childAt++

			if t.index[w] == -1 {
				t.index[w] = t.nextIndex
				t.lowlink[w] = t.nextIndex
				t.nextIndex++
				t.stack = append(t.stack, w)
				t.onStack[w] = true
				work = append(work, frame{v: w, childAt: 0})
				continue
			} else if t.onStack[w] {
				if t.index[w] < t.lowlink[v] {
					t.lowlink[v] = t.index[w]
				}
			}
			continue
		}

		// all children visited: close v's frame.
		work = work[:len(work)-1]
		if len(work) > 0 {
			parent := &work[len(work)-1]
			if t.lowlink[v] < t.lowlink[parent.v] {
				t.lowlink[parent.v] = t.lowlink[v]
			}
		}

		if t.lowlink[v] == t.index[v] {
			var members []int
			for {
				n := len(t.stack) - 1
				w := t.stack[n]
				t.stack = t.stack[:n]
				t.onStack[w] = false
				members = append(members, w)
				if w == v {
					break
				}
			}
			rep := v
			for _, m := range members {
				t.sccID[m] = rep
			}
			t.members[rep] = members
			t.order = append(t.order, rep)
		}
	}
}

// nonTrivial reports whether the SCC rooted at rep has more than one member
// or a self-loop on its single member.
func (t *tarjan) nonTrivial(rep int) bool {
	members := t.members[rep]
	if len(members) > 1 {
		return true
	}
	return t.selfLoop[members[0]]
}
