// Package harness is the model-based conformance test harness (C8): it
// drives a broker.Broker+dispatch.Dispatcher pair through an in-memory
// transport.Pair, tracking which sequences of controllable actions have
// already been explored so repeated runs favour untried paths. It does not
// measure which MQTT conformance statements a run exercised.
//
// The teacher repo has no equivalent; this package is grounded on
// _examples/original_source/interoperability/mbt/main.py's TraceNodes/Traces
// (a dynamic tree of choice points), translated into an explicit arena
// of nodes per Design Note "Trace tree of explored paths".
package harness

// NodeIndex addresses a Node in a Trace's arena. The zero value is invalid;
// valid indices start at 1 (index 0 is reserved to mean "no node").
type NodeIndex int

// ActionKey identifies one outgoing arc from a trace node: an action name
// plus its argument tuple, matching the source's tuple([action] + args) key.
type ActionKey struct {
	Action string
	Args   string // args rendered to a stable string; exact values don't matter, only equality
}

// Node is one point in the trace tree: a state reached after some prefix of
// actions, with arcs to the states reachable from it.
type Node struct {
	arcs      map[ActionKey]NodeIndex
	used      bool // has this node been reached by a completed action?
	leaf      bool // did a run end here (Trace.Restart marks this)?
	arcsAdded bool // have this node's outgoing arcs already been enumerated?
}

// Trace is the dynamic tree of every path explored so far, avoiding repeats.
// It is not safe for concurrent use; one Trace belongs to one exploration
// loop.
type Trace struct {
	nodes []*Node // arena; nodes[0] is unused, root is nodes[1]
	cur   NodeIndex
}

// NewTrace creates a Trace with just its root node.
func NewTrace() *Trace {
	t := &Trace{nodes: make([]*Node, 1, 64)}
	root := &Node{arcs: make(map[ActionKey]NodeIndex)}
	root.used = true
	t.nodes = append(t.nodes, root)
	t.cur = 1
	return t
}

func (t *Trace) node(i NodeIndex) *Node { return t.nodes[i] }

// Root returns the index of the trace's root node.
func (t *Trace) Root() NodeIndex { return 1 }

// Current returns the index of the node the trace is presently at.
func (t *Trace) Current() NodeIndex { return t.cur }

// Restart marks the current node as a leaf (this run's end of the line) and
// returns the trace to its root, ready for the next run.
func (t *Trace) Restart() {
	t.node(t.cur).leaf = true
	t.cur = t.Root()
}

// AddArcs enumerates, for the current node only (and only once), the arcs
// available to leave this state.
func (t *Trace) AddArcs(keys []ActionKey) {
	cur := t.node(t.cur)
	if cur.arcsAdded {
		return
	}
	for _, k := range keys {
		t.nodes = append(t.nodes, &Node{arcs: make(map[ActionKey]NodeIndex)})
		cur.arcs[k] = NodeIndex(len(t.nodes) - 1)
	}
	cur.arcsAdded = true
}

// SelectAction moves the trace to the child reached by key, marking it used.
func (t *Trace) SelectAction(key ActionKey) {
	next := t.node(t.cur).arcs[key]
	t.node(next).used = true
	t.cur = next
}

// IsFree reports whether node or some node below it has not been reached
// yet, returning the index of the first such node a depth-first walk meets;
// leaf nodes and everything below them are skipped. It
// walks an explicit stack rather than recursing, so a long-running
// exploration's trace depth never blows the Go call stack.
func (t *Trace) IsFree(node NodeIndex) (NodeIndex, bool) {
	stack := []NodeIndex{node}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		cur := t.node(n)
		if cur.leaf {
			continue
		}
		if !cur.used {
			return n, true
		}
		for _, child := range cur.arcs {
			stack = append(stack, child)
		}
	}
	return 0, false
}

// FindNextPath returns one outgoing arc key from the current node that still
// leads to an untried path, chosen uniformly at random from the free set,
// optionally filtered first by cb (the model's selectCallback, e.g. "always
// prefer a pending PUBREL arc"). It reports false if every arc from the
// current node is fully explored.
func (t *Trace) FindNextPath(cb SelectCallback) (ActionKey, bool) {
	cur := t.node(t.cur)

	var free []ActionKey
	for key, child := range cur.arcs {
		if _, ok := t.IsFree(child); ok {
			free = append(free, key)
		}
	}
	if len(free) == 0 {
		return ActionKey{}, false
	}
	if cb != nil {
		free = cb(free)
		if len(free) == 0 {
			return ActionKey{}, false
		}
	}
	return free[randIndex(len(free))], true
}

// SelectCallback lets a model restrict or reorder the set of free arcs
// before one is chosen, matching the source's selectCallback hook (used
// there to force "process PUBREL as soon as it's enabled").
type SelectCallback func(free []ActionKey) []ActionKey

// PreferPubrel is a SelectCallback that, whenever a PUBREL action is among
// the free choices, restricts the choice to PUBREL actions only -- matching
// the source's policy of completing in-flight QoS 2 exchanges before trying
// new paths.
func PreferPubrel(free []ActionKey) []ActionKey {
	var pubrels []ActionKey
	for _, k := range free {
		if k.Action == "Pubrel" {
			pubrels = append(pubrels, k)
		}
	}
	if len(pubrels) > 0 {
		return pubrels
	}
	return free
}
