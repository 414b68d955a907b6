package overlay

import (
	"sort"

	"github.com/codewithcheese/agent-sandbox-sub001/pkg/crdt"
)

// ChangeType classifies one divergence between master and staging.
type ChangeType uint8

const (
	ChangeIdentical ChangeType = iota
	ChangeAdded
	ChangeModified
	ChangeDeleted
)

func (t ChangeType) String() string {
	switch t {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	default:
		return "identical"
	}
}

// Change is one computed divergence. Path is the staging branch's
// current path for the entry. A pure rename surfaces as modified;
// consumers that need the old path correlate through NodeID, which is
// stable across branches.
type Change struct {
	Path   string
	Type   ChangeType
	NodeID string
}

// Changes returns the raw classification of every tracked entry,
// identical ones included.
func (o *Overlay) Changes() []Change {
	return o.changes
}

// FileChanges returns the externally visible change list: everything
// except identical entries.
func (o *Overlay) FileChanges() []Change {
	out := make([]Change, 0, len(o.changes))
	for _, c := range o.changes {
		if c.Type != ChangeIdentical {
			out = append(out, c)
		}
	}
	return out
}

// recompute rebuilds the change list from scratch by walking the union
// of node identities in both branches. O(n) per invocation; the list is
// rebuilt after every mutation rather than maintained incrementally.
func (o *Overlay) recompute() {
	o.changes = computeChanges(o.master, o.staging)
}

// computeChanges is a pure function over the two branch documents.
func computeChanges(master, staging *crdt.Doc) []Change {
	seen := make(map[string]bool)
	var out []Change

	classify := func(id string) {
		if id == crdt.RootID || seen[id] {
			return
		}
		seen[id] = true

		m := master.Node(id)
		s := staging.Node(id)

		switch {
		case m == nil && s == nil:
			return

		case m == nil:
			// Staging-only entry: proposed addition, unless it was
			// also deleted in staging (a net no-op).
			path, ok := staging.PathOf(id)
			if !ok {
				return
			}
			if s.Deleted() {
				out = append(out, Change{Path: path, Type: ChangeIdentical, NodeID: id})
				return
			}
			out = append(out, Change{Path: path, Type: ChangeAdded, NodeID: id})

		case s == nil:
			// Master-only entry: staging has never seen it. Reported
			// against master's path since staging has none.
			path, ok := master.PathOf(id)
			if !ok || m.Deleted() {
				return
			}
			out = append(out, Change{Path: path, Type: ChangeDeleted, NodeID: id})

		default:
			path, ok := staging.PathOf(id)
			if !ok {
				return
			}
			c := Change{Path: path, NodeID: id}
			switch {
			case s.Deleted() && !m.Deleted():
				c.Type = ChangeDeleted
			case !s.Deleted() && m.Deleted():
				c.Type = ChangeAdded
			case s.Deleted() && m.Deleted():
				c.Type = ChangeIdentical
			case s.Name() != m.Name() || s.ParentID() != m.ParentID():
				// Renames and moves surface as modified.
				c.Type = ChangeModified
			case !s.Dir && staging.NodeText(id) != master.NodeText(id):
				c.Type = ChangeModified
			default:
				c.Type = ChangeIdentical
			}
			out = append(out, c)
		}
	}

	for _, id := range staging.NodeIDs() {
		classify(id)
	}
	for _, id := range master.NodeIDs() {
		classify(id)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out
}
