package crdt

import "fmt"

// OpKind selects which mutation an Op carries. Ops are flat structs
// multiplexed by kind so one codec covers the whole log.
type OpKind uint8

const (
	// OpCreate creates a node. Ref is the parent id, Str the name, Dir the kind.
	OpCreate OpKind = iota + 1
	// OpMove reparents a node. Ref is the new parent id.
	OpMove
	// OpMeta writes one metadata register. Ref is the key, Str the value.
	OpMeta
	// OpTextInsert inserts a text segment. Vertex is the new vertex id,
	// Ref the origin vertex it anchors after, Str the payload.
	OpTextInsert
	// OpTextRemove tombstones a text vertex named by Vertex.
	OpTextRemove
	// OpTextReset discards the whole text body and starts a fresh one
	// seeded with Str. Vertex names the seed vertex.
	OpTextReset
)

// Op is one replicated mutation. Ts and Actor order concurrent writes.
type Op struct {
	Kind   OpKind `msgpack:"k"`
	Node   string `msgpack:"n"`
	Actor  string `msgpack:"a"`
	Ts     int64  `msgpack:"t"`
	Ref    string `msgpack:"r,omitempty"`
	Str    string `msgpack:"s,omitempty"`
	Vertex string `msgpack:"x,omitempty"`
	Dir    bool   `msgpack:"d,omitempty"`
}

// Batch is one committed group of operations from a single actor.
// Sequence numbers are dense per actor.
type Batch struct {
	Actor string `msgpack:"actor"`
	Seq   uint64 `msgpack:"seq"`
	Ops   []Op   `msgpack:"ops"`
}

// apply integrates one operation into local state. It is idempotent and
// tolerant of cross-actor arrival order: operations on a node that has
// not been created yet build a placeholder which the create fills in.
func (d *Doc) apply(op Op) error {
	d.Clock.Update(op.Ts)

	switch op.Kind {
	case OpCreate:
		n := d.ensureNode(op.Node)
		n.Dir = op.Dir
		n.parent.set(op.Ref, op.Ts, op.Actor)
		n.name.set(op.Str, op.Ts, op.Actor)

	case OpMove:
		n := d.ensureNode(op.Node)
		n.parent.set(op.Ref, op.Ts, op.Actor)

	case OpMeta:
		n := d.ensureNode(op.Node)
		switch op.Ref {
		case MetaName:
			n.name.set(op.Str, op.Ts, op.Actor)
		case MetaDeleted:
			n.del.set(op.Str, op.Ts, op.Actor)
		default:
			return fmt.Errorf("%w: meta key %q", ErrInvalidOp, op.Ref)
		}

	case OpTextInsert:
		n := d.ensureNode(op.Node)
		if n.Dir {
			return ErrNotFile
		}
		if n.body == nil {
			n.body = newText()
		}
		n.body.applyInsert(op.Vertex, op.Ref, op.Str, op.Ts)

	case OpTextRemove:
		n := d.ensureNode(op.Node)
		if n.Dir {
			return ErrNotFile
		}
		if n.body == nil {
			n.body = newText()
		}
		n.body.applyRemove(op.Vertex)

	case OpTextReset:
		n := d.ensureNode(op.Node)
		if n.Dir {
			return ErrNotFile
		}
		if n.body == nil {
			n.body = newText()
		}
		n.body.applyReset(op.Vertex, op.Str, op.Ts, op.Actor)

	default:
		return ErrInvalidOp
	}
	return nil
}

// record applies a local operation and buffers it for the next Commit.
func (d *Doc) record(op Op) error {
	if err := d.apply(op); err != nil {
		return err
	}
	d.pending = append(d.pending, op)
	return nil
}
