package crdt

import "sort"

// textHeadID is the fixed id of the invisible head vertex. It must be
// identical on every replica so insert anchors line up.
const textHeadID = "_head"

// textVertex is one immutable segment of file content. Segments are
// anchored after their origin vertex; concurrent inserts at the same
// origin order newest-first.
type textVertex struct {
	ID      string
	Val     string
	Origin  string
	Next    string
	Ts      int64
	Deleted bool
}

// Text is a replicated growable array of string segments. All mutation
// arrives through operations replayed by the owning Doc, so two
// replicas that apply the same op set render the same string.
type Text struct {
	vertices map[string]*textVertex
	head     string

	// origin id -> children sorted newest-first
	edges map[string][]*textVertex

	// resetTs and resetActor identify the last applied reset. Operations
	// older than the reset are dropped: a reset must win outright, and
	// concurrent resets break ties on actor like any register.
	resetTs    int64
	resetActor string
}

func newText() *Text {
	head := &textVertex{ID: textHeadID, Deleted: true}
	return &Text{
		vertices: map[string]*textVertex{textHeadID: head},
		head:     textHeadID,
		edges:    make(map[string][]*textVertex),
	}
}

// String renders the live segments in order.
func (t *Text) String() string {
	var out []byte
	curr := t.head
	for curr != "" {
		v := t.vertices[curr]
		if v == nil {
			break
		}
		if !v.Deleted {
			out = append(out, v.Val...)
		}
		curr = v.Next
	}
	return string(out)
}

// Len returns the rendered length in bytes.
func (t *Text) Len() int {
	total := 0
	curr := t.head
	for curr != "" {
		v := t.vertices[curr]
		if v == nil {
			break
		}
		if !v.Deleted {
			total += len(v.Val)
		}
		curr = v.Next
	}
	return total
}

// liveVertices returns the visible segments in render order.
func (t *Text) liveVertices() []*textVertex {
	var out []*textVertex
	curr := t.head
	for curr != "" {
		v := t.vertices[curr]
		if v == nil {
			break
		}
		if !v.Deleted {
			out = append(out, v)
		}
		curr = v.Next
	}
	return out
}

// applyInsert integrates one insert. Re-applying a known vertex is a
// no-op; an insert whose origin vanished under a reset is dropped, the
// reset wins.
func (t *Text) applyInsert(id, origin, val string, ts int64) {
	if _, exists := t.vertices[id]; exists {
		return
	}
	originVertex := t.vertices[origin]
	if originVertex == nil {
		return
	}

	v := &textVertex{ID: id, Val: val, Origin: origin, Ts: ts}
	t.vertices[id] = v
	t.edges[origin] = insertChildSorted(t.edges[origin], v)

	// Splice into the linear order: first among its siblings directly
	// after the origin, otherwise after the rightmost descendant of the
	// sibling to its left.
	rank := 0
	for i, child := range t.edges[origin] {
		if child.ID == id {
			rank = i
			break
		}
	}

	var insertPos *textVertex
	if rank == 0 {
		insertPos = originVertex
	} else {
		insertPos = t.traverseRightMost(t.edges[origin][rank-1])
	}

	v.Next = insertPos.Next
	insertPos.Next = v.ID
}

// applyRemove tombstones a vertex. Unknown ids are ignored so removes
// racing a reset stay harmless.
func (t *Text) applyRemove(id string) {
	if v, ok := t.vertices[id]; ok && id != t.head {
		v.Deleted = true
	}
}

// applyReset discards the whole body and seeds a fresh one. Last write
// wins between concurrent resets; anything older than the surviving
// reset anchors on vanished vertices and is dropped on arrival.
func (t *Text) applyReset(seedID, content string, ts int64, actor string) {
	if ts < t.resetTs || (ts == t.resetTs && actor <= t.resetActor) {
		return
	}
	t.resetTs = ts
	t.resetActor = actor

	head := &textVertex{ID: textHeadID, Deleted: true}
	t.vertices = map[string]*textVertex{textHeadID: head}
	t.head = textHeadID
	t.edges = make(map[string][]*textVertex)

	if content != "" {
		t.applyInsert(seedID, textHeadID, content, ts)
	}
}

func childComesBefore(left, right *textVertex) bool {
	if left.Ts != right.Ts {
		return left.Ts > right.Ts
	}
	return left.ID > right.ID
}

// insertChildSorted inserts one child into a newest-first sibling list.
func insertChildSorted(children []*textVertex, v *textVertex) []*textVertex {
	idx := sort.Search(len(children), func(i int) bool {
		return childComesBefore(v, children[i])
	})
	children = append(children, nil)
	copy(children[idx+1:], children[idx:])
	children[idx] = v
	return children
}

// traverseRightMost finds the rightmost vertex in the subtree rooted at node.
func (t *Text) traverseRightMost(node *textVertex) *textVertex {
	curr := node
	for {
		children := t.edges[curr.ID]
		if len(children) == 0 {
			return curr
		}
		curr = children[len(children)-1]
	}
}
