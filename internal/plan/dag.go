package plan

// Node is a step with its derived dependency information.
type Node struct {
	Step  Step
	Index int
	Deps  []StepID
	Wave  int
}

// DAG is the validated dependency graph of a plan. Nodes keep plan order.
type DAG struct {
	plan  *Plan
	nodes []*Node
	index map[StepID]*Node
	waves [][]StepID
}

// Analyze validates the plan and derives its dependency graph.
//
// Checks run in this order: empty plan, invalid or duplicate ids, references
// to unknown steps, cycles, references to steps that do not appear earlier.
func Analyze(p *Plan) (*DAG, error) {
	if p == nil || len(p.Steps) == 0 {
		return nil, &PlanError{Kind: KindEmptyPlan}
	}

	d := &DAG{
		plan:  p,
		nodes: make([]*Node, len(p.Steps)),
		index: make(map[StepID]*Node, len(p.Steps)),
	}
	for i, s := range p.Steps {
		if s.ID == "" {
			return nil, &PlanError{Kind: KindInvalidStep, Step: s.ID, Detail: "missing id"}
		}
		if s.Tool == "" {
			return nil, &PlanError{Kind: KindInvalidStep, Step: s.ID, Detail: "missing tool"}
		}
		if _, dup := d.index[s.ID]; dup {
			return nil, &PlanError{Kind: KindDuplicateStep, Step: s.ID}
		}
		n := &Node{Step: s, Index: i, Deps: s.DependsOn()}
		d.nodes[i] = n
		d.index[s.ID] = n
	}

	for _, n := range d.nodes {
		for _, dep := range n.Deps {
			if _, ok := d.index[dep]; !ok {
				return nil, &PlanError{Kind: KindDanglingReference, Step: n.Step.ID, Ref: dep}
			}
		}
	}

	if cycle := d.findCycle(); cycle != nil {
		return nil, &PlanError{Kind: KindCyclicDependency, Step: cycle[0], Cycle: cycle}
	}

	for _, n := range d.nodes {
		for _, dep := range n.Deps {
			if d.index[dep].Index > n.Index {
				return nil, &PlanError{
					Kind:   KindDanglingReference,
					Step:   n.Step.ID,
					Ref:    dep,
					Detail: "referenced step appears later in the plan",
				}
			}
		}
	}

	// Every dependency is earlier, so one pass in plan order assigns waves.
	for _, n := range d.nodes {
		for _, dep := range n.Deps {
			if w := d.index[dep].Wave + 1; w > n.Wave {
				n.Wave = w
			}
		}
		for len(d.waves) <= n.Wave {
			d.waves = append(d.waves, nil)
		}
		d.waves[n.Wave] = append(d.waves[n.Wave], n.Step.ID)
	}
	return d, nil
}

// findCycle runs a depth-first search with a recursion stack and returns
// the first cycle found, closed by repeating its first id.
func (d *DAG) findCycle() []StepID {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[StepID]int, len(d.nodes))
	var stack []StepID

	var visit func(id StepID) []StepID
	visit = func(id StepID) []StepID {
		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range d.index[id].Deps {
			switch state[dep] {
			case visiting:
				for i, s := range stack {
					if s == dep {
						cycle := append([]StepID{}, stack[i:]...)
						return append(cycle, dep)
					}
				}
			case unvisited:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, n := range d.nodes {
		if state[n.Step.ID] == unvisited {
			if c := visit(n.Step.ID); c != nil {
				return c
			}
		}
	}
	return nil
}

// Plan returns the analyzed plan.
func (d *DAG) Plan() *Plan { return d.plan }

// Nodes returns the nodes in plan order.
func (d *DAG) Nodes() []*Node { return d.nodes }

// Node looks up a step by id.
func (d *DAG) Node(id StepID) (*Node, bool) {
	n, ok := d.index[id]
	return n, ok
}

func (d *DAG) Len() int { return len(d.nodes) }

// Waves groups step ids by wave number, each wave in plan order.
func (d *DAG) Waves() [][]StepID { return d.waves }

// Dependents returns the steps that directly consume id's output.
func (d *DAG) Dependents(id StepID) []StepID {
	var out []StepID
	for _, n := range d.nodes {
		for _, dep := range n.Deps {
			if dep == id {
				out = append(out, n.Step.ID)
				break
			}
		}
	}
	return out
}
