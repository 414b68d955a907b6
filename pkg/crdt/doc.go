// Package crdt implements the replicated document shared by the two
// overlay branches: a tree of file and folder nodes with last-write-wins
// metadata and a mergeable text body per file.
//
// A Doc is purely local state. It records every local mutation as an
// operation, seals batches of operations on Commit, and exchanges state
// with other replicas through opaque snapshot and update blobs. Two docs
// cloned from the same snapshot and then edited independently converge
// when they import each other's updates.
package crdt

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/codewithcheese/agent-sandbox-sub001/pkg/hlc"
)

var (
	// ErrNodeNotFound indicates an operation referenced a node id absent from the doc.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNotFile indicates a text operation targeted a folder node.
	ErrNotFile = errors.New("node is not a file")
	// ErrInvalidOp indicates an operation with an unknown kind or malformed fields.
	ErrInvalidOp = errors.New("invalid operation")
	// ErrUnknownFormat indicates an imported blob that is neither a snapshot nor an update.
	ErrUnknownFormat = errors.New("unknown blob format")
)

// RootID is the well-known id of the synthetic root folder. Every
// replica starts with the root already present so that node ids created
// under it line up across branches without coordination.
const RootID = "_root"

// Metadata keys carried by nodes.
const (
	MetaName    = "name"
	MetaDeleted = "del"
)

const deletedFlag = "1"

// VersionVector maps actor id to the highest committed batch sequence
// observed from that actor.
type VersionVector map[string]uint64

// Clone returns an independent copy.
func (v VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(v))
	for actor, seq := range v {
		out[actor] = seq
	}
	return out
}

// Covers reports whether the vector already includes seq from actor.
func (v VersionVector) Covers(actor string, seq uint64) bool {
	return v[actor] >= seq
}

// reg is a last-write-wins register. Ties on timestamp break on the
// writing actor so merges stay commutative.
type reg struct {
	Val   string
	Ts    int64
	Actor string
}

func (r *reg) set(val string, ts int64, actor string) {
	if ts > r.Ts || (ts == r.Ts && actor > r.Actor) {
		r.Val = val
		r.Ts = ts
		r.Actor = actor
	}
}

// Node is one file or folder entry. Its id is stable for the whole
// lifetime of the entry, across renames, moves, and branch boundaries.
type Node struct {
	ID  string
	Dir bool

	parent reg
	name   reg
	del    reg
	body   *Text
}

// ParentID returns the id of the owning folder, or "" for the root.
func (n *Node) ParentID() string { return n.parent.Val }

// Name returns the current name among its siblings.
func (n *Node) Name() string { return n.name.Val }

// Deleted reports whether the node carries a tombstone.
func (n *Node) Deleted() bool { return n.del.Val == deletedFlag }

// Body returns the text container, creating it lazily for files.
// Folders have no body.
func (n *Node) Body() *Text {
	if n.Dir {
		return nil
	}
	if n.body == nil {
		n.body = newText()
	}
	return n.body
}

// Doc is one replica of the document tree. Actor identifies the origin
// of its local edits; the clock orders every metadata and text decision.
type Doc struct {
	Actor string
	Clock *hlc.Clock

	nodes   map[string]*Node
	version VersionVector
	batches []Batch
	pending []Op
}

// NewDoc creates an empty document owned by actor. The root folder is
// implicit and identical on every replica.
func NewDoc(actor string) *Doc {
	root := &Node{ID: RootID, Dir: true}
	return &Doc{
		Actor:   actor,
		Clock:   hlc.New(),
		nodes:   map[string]*Node{RootID: root},
		version: make(VersionVector),
	}
}

// NewDocFromSnapshot creates a document owned by actor and loads a
// snapshot blob into it.
func NewDocFromSnapshot(actor string, blob []byte) (*Doc, error) {
	d := NewDoc(actor)
	if err := d.Import(blob); err != nil {
		return nil, err
	}
	return d, nil
}

// Root returns the synthetic root node.
func (d *Doc) Root() *Node { return d.nodes[RootID] }

// Node returns the node with the given id, or nil.
func (d *Doc) Node(id string) *Node { return d.nodes[id] }

// NodeIDs returns every node id in the doc, root included, in no
// particular order.
func (d *Doc) NodeIDs() []string {
	ids := make([]string, 0, len(d.nodes))
	for id := range d.nodes {
		ids = append(ids, id)
	}
	return ids
}

// Children returns every node whose current parent is parentID,
// tombstoned entries included, sorted by name for determinism.
func (d *Doc) Children(parentID string) []*Node {
	var out []*Node
	for _, n := range d.nodes {
		if n.ID != RootID && n.ParentID() == parentID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// LiveChild returns the non-tombstoned child of parentID named name, or nil.
func (d *Doc) LiveChild(parentID, name string) *Node {
	for _, n := range d.nodes {
		if n.ID != RootID && n.ParentID() == parentID && n.Name() == name && !n.Deleted() {
			return n
		}
	}
	return nil
}

// ChildByName returns any child of parentID named name, preferring a
// live one over a tombstoned one.
func (d *Doc) ChildByName(parentID, name string) *Node {
	var dead *Node
	for _, n := range d.nodes {
		if n.ID == RootID || n.ParentID() != parentID || n.Name() != name {
			continue
		}
		if !n.Deleted() {
			return n
		}
		dead = n
	}
	return dead
}

// PathOf computes the current /-separated path of a node by walking its
// parent chain. Returns false if the node is missing or detached from
// the root.
func (d *Doc) PathOf(id string) (string, bool) {
	if id == RootID {
		return "/", true
	}
	var segs []string
	curr := id
	for curr != RootID {
		n := d.nodes[curr]
		if n == nil {
			return "", false
		}
		segs = append(segs, n.Name())
		curr = n.ParentID()
		if len(segs) > len(d.nodes) {
			// Parent cycle from a merge conflict; treat as detached.
			return "", false
		}
	}
	var b strings.Builder
	for i := len(segs) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(segs[i])
	}
	return b.String(), true
}

// NodeText returns the rendered text of a file node, or "" for folders
// and missing nodes.
func (d *Doc) NodeText(id string) string {
	n := d.nodes[id]
	if n == nil || n.Dir || n.body == nil {
		return ""
	}
	return n.body.String()
}

// Version returns a copy of the committed version vector.
func (d *Doc) Version() VersionVector {
	return d.version.Clone()
}

// Commit seals all pending local operations into one addressable batch.
// A doc with no pending operations commits nothing. Exported blobs only
// carry committed batches, so callers must commit before exporting.
func (d *Doc) Commit() {
	if len(d.pending) == 0 {
		return
	}
	seq := d.version[d.Actor] + 1
	d.version[d.Actor] = seq
	d.batches = append(d.batches, Batch{Actor: d.Actor, Seq: seq, Ops: d.pending})
	d.pending = nil
}

// ensureNode returns the node with the given id, creating a bare
// placeholder when an operation from another actor arrives before the
// create it depends on. The create fills the placeholder in later.
func (d *Doc) ensureNode(id string) *Node {
	n := d.nodes[id]
	if n == nil {
		n = &Node{ID: id}
		d.nodes[id] = n
	}
	return n
}

func newNodeID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuidv7: %w", err)
	}
	return id.String(), nil
}
