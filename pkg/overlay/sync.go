package overlay

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/codewithcheese/agent-sandbox-sub001/pkg/crdt"
)

// SyncPath pulls the real file system's current state for one path into
// master and forwards it into staging. Master's text follows the
// container's natural merge, so pending staging edits to other regions
// survive and overlapping edits resolve positionally. A path missing
// from disk is treated as an external delete.
func (o *Overlay) SyncPath(ctx context.Context, path string) error {
	segs, err := parseFilePath(path)
	if err != nil {
		return err
	}

	exists, err := o.vault.FileExists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		node := resolve(o.master, segs, false)
		if node == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if err := o.master.SetDeleted(node.ID, true); err != nil {
			return err
		}
		o.log.Debug("synced external delete", zap.String("path", joinPath(segs)))
		return o.commitMasterAndForward()
	}

	content, err := o.vault.ReadFile(ctx, path)
	if err != nil {
		return err
	}

	node := resolve(o.master, segs, true)
	if node == nil {
		if _, err := o.importFileFromDisk(ctx, segs); err != nil {
			return err
		}
		o.finish()
		return nil
	}
	if node.Dir {
		return fmt.Errorf("%w: %s is a folder", ErrBadPath, path)
	}

	if node.Deleted() {
		if err := o.master.SetDeleted(node.ID, false); err != nil {
			return err
		}
	}
	if err := o.master.SetText(node.ID, content); err != nil {
		return err
	}
	o.log.Debug("synced external edit", zap.String("path", joinPath(segs)))
	return o.commitMasterAndForward()
}

// Approve promotes staging-side changes into master. Text is force-set
// last-write-wins: approval is a human decision and must win outright
// over the container's concurrent-merge behavior. Master's update is
// then replayed into staging so the approved entries stop showing as
// pending.
func (o *Overlay) Approve(changes ...Change) error {
	// Validate every change against the current list before mutating
	// anything, so a failed approval leaves both branches untouched.
	for _, ch := range changes {
		if err := o.ensureCurrent(ch); err != nil {
			return err
		}
		if err := o.checkApprovable(ch); err != nil {
			o.log.Warn("approval precondition failed",
				zap.String("path", ch.Path),
				zap.String("type", ch.Type.String()),
				zap.Error(err))
			return err
		}
	}

	for _, ch := range changes {
		var err error
		switch ch.Type {
		case ChangeAdded:
			err = o.approveAdded(ch)
		case ChangeDeleted:
			err = o.approveDeleted(ch)
		case ChangeModified:
			err = o.approveModified(ch)
		default:
			err = fmt.Errorf("%w: %s", ErrStaleChange, ch.Path)
		}
		if err != nil {
			return err
		}
		o.log.Debug("approved change",
			zap.String("path", ch.Path),
			zap.String("type", ch.Type.String()))
	}
	return o.commitMasterAndForward()
}

// ApproveAll approves every pending change.
func (o *Overlay) ApproveAll() error {
	return o.Approve(o.FileChanges()...)
}

// Reject discards one staging-side change. The staging node is restored
// to master's state (or tombstoned, for an addition); master is never
// mutated.
func (o *Overlay) Reject(change Change) error {
	if err := o.ensureCurrent(change); err != nil {
		return err
	}

	s := o.staging.Node(change.NodeID)
	if s == nil {
		// A master-only entry has no staging state to discard.
		return fmt.Errorf("%w: %s", ErrStaleChange, change.Path)
	}

	var err error
	switch change.Type {
	case ChangeAdded:
		err = o.staging.SetDeleted(change.NodeID, true)
	case ChangeDeleted, ChangeModified:
		err = o.restoreStagingFromMaster(change.NodeID)
	default:
		err = fmt.Errorf("%w: %s", ErrStaleChange, change.Path)
	}
	if err != nil {
		return err
	}
	o.log.Debug("rejected change",
		zap.String("path", change.Path),
		zap.String("type", change.Type.String()))
	o.finish()
	return nil
}

// RejectAll discards every pending change. Rejections that move entries
// can shift later paths, so the list is re-fetched after each one.
func (o *Overlay) RejectAll() error {
	limit := len(o.FileChanges()) + 1
	for i := 0; i < limit; i++ {
		list := o.FileChanges()
		if len(list) == 0 {
			return nil
		}
		if err := o.Reject(list[0]); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: change list did not drain", ErrStaleChange)
}

// ensureCurrent verifies the change is still present in the computed
// list; approvals and rejections of vanished changes fail loudly.
func (o *Overlay) ensureCurrent(ch Change) error {
	for _, curr := range o.changes {
		if curr.NodeID == ch.NodeID && curr.Type == ch.Type && curr.Path == ch.Path {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (%s)", ErrStaleChange, ch.Path, ch.Type)
}

// checkApprovable enforces identity preconditions before any mutation.
func (o *Overlay) checkApprovable(ch Change) error {
	switch ch.Type {
	case ChangeModified:
		if o.master.Node(ch.NodeID) == nil {
			return fmt.Errorf("%w: %s missing from master", ErrIdentityMismatch, ch.Path)
		}
		s := o.staging.Node(ch.NodeID)
		if s == nil || s.Deleted() {
			return fmt.Errorf("%w: %s", ErrStaleChange, ch.Path)
		}
		// A rename only promotes when the staging entry at the
		// destination is unambiguously the node master would rename.
		// An independently created namesake must not be merged in.
		for _, sibling := range o.staging.Children(s.ParentID()) {
			if sibling.ID != s.ID && !sibling.Deleted() && sibling.Name() == s.Name() {
				return fmt.Errorf("%w: %s is occupied by an unrelated entry", ErrIdentityMismatch, ch.Path)
			}
		}
	case ChangeAdded:
		if s := o.staging.Node(ch.NodeID); s == nil || s.Deleted() {
			return fmt.Errorf("%w: %s", ErrStaleChange, ch.Path)
		}
	}
	return nil
}

func (o *Overlay) approveAdded(ch Change) error {
	s := o.staging.Node(ch.NodeID)
	parentID, err := o.adoptStagingAncestors(ch.NodeID)
	if err != nil {
		return err
	}

	m := o.master.Node(ch.NodeID)
	if m == nil {
		if err := o.master.CreateNodeAt(ch.NodeID, parentID, s.Name(), s.Dir); err != nil {
			return err
		}
	} else {
		// Resurrection of a master-deleted entry.
		if m.Deleted() {
			if err := o.master.SetDeleted(ch.NodeID, false); err != nil {
				return err
			}
		}
		if err := o.alignMasterMeta(ch.NodeID); err != nil {
			return err
		}
	}

	if !s.Dir {
		if approved := o.staging.NodeText(ch.NodeID); approved != o.master.NodeText(ch.NodeID) {
			return o.master.ResetText(ch.NodeID, approved)
		}
	}
	return nil
}

func (o *Overlay) approveDeleted(ch Change) error {
	if o.master.Node(ch.NodeID) == nil {
		return nil
	}
	return o.master.SetDeleted(ch.NodeID, true)
}

func (o *Overlay) approveModified(ch Change) error {
	segs, err := parseFilePath(ch.Path)
	if err != nil {
		return err
	}

	// An unrelated master entry occupying the approved destination is
	// removed permanently: the approved rename wins the path.
	if occ := resolve(o.master, segs, false); occ != nil && occ.ID != ch.NodeID {
		if err := o.master.SetDeleted(occ.ID, true); err != nil {
			return err
		}
	}

	if _, err := o.adoptStagingAncestors(ch.NodeID); err != nil {
		return err
	}
	if err := o.alignMasterMeta(ch.NodeID); err != nil {
		return err
	}

	s := o.staging.Node(ch.NodeID)
	if !s.Dir {
		if approved := o.staging.NodeText(ch.NodeID); approved != o.master.NodeText(ch.NodeID) {
			return o.master.ResetText(ch.NodeID, approved)
		}
	}
	return nil
}

// alignMasterMeta copies staging's name, parent, and tombstone onto the
// master node with fresh master timestamps.
func (o *Overlay) alignMasterMeta(id string) error {
	m := o.master.Node(id)
	s := o.staging.Node(id)
	if m == nil || s == nil {
		return fmt.Errorf("%w: %s", ErrIdentityMismatch, id)
	}
	if m.Name() != s.Name() {
		if err := o.master.SetName(id, s.Name()); err != nil {
			return err
		}
	}
	if m.ParentID() != s.ParentID() {
		if err := o.master.MoveNode(id, s.ParentID()); err != nil {
			return err
		}
	}
	if m.Deleted() && !s.Deleted() {
		if err := o.master.SetDeleted(id, false); err != nil {
			return err
		}
	}
	return nil
}

// adoptStagingAncestors ensures every folder on the staging node's
// parent chain exists in master under the same identity, so approved
// entries land at the same path with the same folder nodes.
func (o *Overlay) adoptStagingAncestors(id string) (string, error) {
	s := o.staging.Node(id)
	if s == nil {
		return "", fmt.Errorf("%w: %s", ErrIdentityMismatch, id)
	}

	var chain []string
	for curr := s.ParentID(); curr != "" && curr != crdt.RootID; {
		n := o.staging.Node(curr)
		if n == nil {
			return "", fmt.Errorf("%w: detached parent chain for %s", ErrIdentityMismatch, id)
		}
		chain = append(chain, curr)
		if len(chain) > len(o.staging.NodeIDs()) {
			return "", fmt.Errorf("%w: parent cycle above %s", ErrIdentityMismatch, id)
		}
		curr = n.ParentID()
	}

	parentID := crdt.RootID
	for i := len(chain) - 1; i >= 0; i-- {
		anc := o.staging.Node(chain[i])
		if m := o.master.Node(anc.ID); m == nil {
			if err := o.master.CreateNodeAt(anc.ID, parentID, anc.Name(), true); err != nil {
				return "", err
			}
		} else {
			if m.Deleted() {
				if err := o.master.SetDeleted(anc.ID, false); err != nil {
					return "", err
				}
			}
			if err := o.alignMasterMeta(anc.ID); err != nil {
				return "", err
			}
		}
		parentID = anc.ID
	}
	return s.ParentID(), nil
}

// restoreStagingFromMaster resets a staging node's name, parent,
// tombstone, and text to master's current state. Text restores through
// the normal splice path so the containers keep their shared lineage.
func (o *Overlay) restoreStagingFromMaster(id string) error {
	m := o.master.Node(id)
	s := o.staging.Node(id)
	if m == nil || s == nil {
		return fmt.Errorf("%w: %s", ErrStaleChange, id)
	}
	if s.Name() != m.Name() {
		if err := o.staging.SetName(id, m.Name()); err != nil {
			return err
		}
	}
	if s.ParentID() != m.ParentID() {
		if err := o.staging.MoveNode(id, m.ParentID()); err != nil {
			return err
		}
	}
	if s.Deleted() != m.Deleted() {
		if err := o.staging.SetDeleted(id, m.Deleted()); err != nil {
			return err
		}
	}
	if !s.Dir {
		if master := o.master.NodeText(id); master != o.staging.NodeText(id) {
			if err := o.staging.SetText(id, master); err != nil {
				return err
			}
		}
	}
	return nil
}

// commitMasterAndForward seals master's batch, replays it into staging,
// and publishes the recomputed change list.
func (o *Overlay) commitMasterAndForward() error {
	o.master.Commit()
	if err := o.forwardMaster(); err != nil {
		return err
	}
	o.finish()
	return nil
}
