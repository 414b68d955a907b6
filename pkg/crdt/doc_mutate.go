package crdt

import "fmt"

// CreateNode creates a node under parentID with a fresh id and returns it.
func (d *Doc) CreateNode(parentID, name string, dir bool) (string, error) {
	id, err := newNodeID()
	if err != nil {
		return "", err
	}
	if err := d.CreateNodeAt(id, parentID, name, dir); err != nil {
		return "", err
	}
	return id, nil
}

// CreateNodeAt creates a node with an explicit id. The sync protocol
// uses this to recreate a node on the other branch without minting a
// new identity.
func (d *Doc) CreateNodeAt(id, parentID, name string, dir bool) error {
	if _, ok := d.nodes[parentID]; !ok {
		return fmt.Errorf("%w: parent %s", ErrNodeNotFound, parentID)
	}
	return d.record(Op{
		Kind:  OpCreate,
		Node:  id,
		Ref:   parentID,
		Str:   name,
		Dir:   dir,
		Ts:    d.Clock.Now(),
		Actor: d.Actor,
	})
}

// MoveNode reparents a node under newParentID.
func (d *Doc) MoveNode(id, newParentID string) error {
	if _, ok := d.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if _, ok := d.nodes[newParentID]; !ok {
		return fmt.Errorf("%w: parent %s", ErrNodeNotFound, newParentID)
	}
	return d.record(Op{
		Kind:  OpMove,
		Node:  id,
		Ref:   newParentID,
		Ts:    d.Clock.Now(),
		Actor: d.Actor,
	})
}

// SetName renames a node in place.
func (d *Doc) SetName(id, name string) error {
	if _, ok := d.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return d.record(Op{
		Kind:  OpMeta,
		Node:  id,
		Ref:   MetaName,
		Str:   name,
		Ts:    d.Clock.Now(),
		Actor: d.Actor,
	})
}

// SetDeleted writes or clears the tombstone flag.
func (d *Doc) SetDeleted(id string, deleted bool) error {
	if _, ok := d.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	val := ""
	if deleted {
		val = deletedFlag
	}
	return d.record(Op{
		Kind:  OpMeta,
		Node:  id,
		Ref:   MetaDeleted,
		Str:   val,
		Ts:    d.Clock.Now(),
		Actor: d.Actor,
	})
}

// fileBody resolves id to a file node's text container for editing.
func (d *Doc) fileBody(id string) (*Text, error) {
	n := d.nodes[id]
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if n.Dir {
		return nil, ErrNotFile
	}
	return n.Body(), nil
}
