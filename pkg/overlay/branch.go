package overlay

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/codewithcheese/agent-sandbox-sub001/pkg/crdt"
)

// branchKind is the typed two-variant branch handle. Views are bound to
// one branch at construction; there is no string dispatch anywhere.
type branchKind uint8

const (
	branchMaster branchKind = iota + 1
	branchStaging
)

func (k branchKind) String() string {
	if k == branchMaster {
		return "master"
	}
	return "staging"
}

// BranchView exposes path-based file operations against one branch.
// Paths absent from the branch fall through to the vault.
type BranchView struct {
	ov   *Overlay
	doc  *crdt.Doc
	kind branchKind
}

// File is a resolved file entry. NodeID is empty for untracked files
// served straight from the vault.
type File struct {
	NodeID  string
	Path    string
	Content string
}

// Folder is a resolved folder entry. NodeID is empty for untracked
// folders served straight from the vault.
type Folder struct {
	NodeID string
	Path   string
}

// other returns the opposite branch's document.
func (b *BranchView) other() *crdt.Doc {
	if b.kind == branchMaster {
		return b.ov.staging
	}
	return b.ov.master
}

// FileByPath resolves a file, skipping tombstoned nodes. Untracked
// paths are served from the vault without importing them.
func (b *BranchView) FileByPath(ctx context.Context, path string) (*File, error) {
	segs, err := parseFilePath(path)
	if err != nil {
		return nil, err
	}
	if node := resolve(b.doc, segs, false); node != nil {
		if node.Dir {
			return nil, fmt.Errorf("%w: %s is a folder", ErrNotFound, path)
		}
		return &File{NodeID: node.ID, Path: joinPath(segs), Content: b.doc.NodeText(node.ID)}, nil
	}

	exists, err := b.ov.vault.FileExists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	content, err := b.ov.vault.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return &File{Path: joinPath(segs), Content: content}, nil
}

// FolderByPath resolves a folder, skipping tombstoned nodes, falling
// through to the vault for untracked paths.
func (b *BranchView) FolderByPath(ctx context.Context, path string) (*Folder, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return &Folder{NodeID: crdt.RootID, Path: "/"}, nil
	}
	if node := resolve(b.doc, segs, false); node != nil {
		if !node.Dir {
			return nil, fmt.Errorf("%w: %s is a file", ErrNotFound, path)
		}
		return &Folder{NodeID: node.ID, Path: joinPath(segs)}, nil
	}

	exists, err := b.ov.vault.FolderExists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return &Folder{Path: joinPath(segs)}, nil
}

// Create adds a new file. It fails if the path is already present in
// this branch or exists on disk: silently shadowing untracked content
// would hide it from review. Creating over this branch's own tombstone
// resurrects the node in place, the path is tracked, not shadowed.
func (b *BranchView) Create(ctx context.Context, path, content string) error {
	segs, err := parseFilePath(path)
	if err != nil {
		return err
	}
	node := resolve(b.doc, segs, true)
	if node != nil && !node.Deleted() {
		return fmt.Errorf("%w: %s", ErrPathExists, path)
	}
	if node != nil && !node.Dir {
		if err := b.doc.SetDeleted(node.ID, false); err != nil {
			return err
		}
		if err := b.doc.SetText(node.ID, content); err != nil {
			return err
		}
		b.ov.log.Debug("recreated file",
			zap.String("branch", b.kind.String()),
			zap.String("path", joinPath(segs)))
		b.ov.finish()
		return nil
	}

	exists, err := b.ov.vault.FileExists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrShadowsDisk, path)
	}

	parentID, err := ensureFolder(b.doc, segs[:len(segs)-1])
	if err != nil {
		return err
	}
	id, err := b.doc.CreateNode(parentID, segs[len(segs)-1], false)
	if err != nil {
		return err
	}
	if content != "" {
		if err := b.doc.SetText(id, content); err != nil {
			return err
		}
	}
	b.ov.log.Debug("created file",
		zap.String("branch", b.kind.String()),
		zap.String("path", joinPath(segs)))
	b.ov.finish()
	return nil
}

// CreateFolder adds a new folder, failing on in-branch or on-disk
// collisions. Like Create, it resurrects this branch's own tombstone.
func (b *BranchView) CreateFolder(ctx context.Context, path string) error {
	segs, err := parseFilePath(path)
	if err != nil {
		return err
	}
	node := resolve(b.doc, segs, true)
	if node != nil && !node.Deleted() {
		return fmt.Errorf("%w: %s", ErrPathExists, path)
	}
	if node != nil && node.Dir {
		if err := b.doc.SetDeleted(node.ID, false); err != nil {
			return err
		}
		b.ov.log.Debug("recreated folder",
			zap.String("branch", b.kind.String()),
			zap.String("path", joinPath(segs)))
		b.ov.finish()
		return nil
	}

	exists, err := b.ov.vault.FolderExists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrShadowsDisk, path)
	}

	if _, err := ensureFolder(b.doc, segs); err != nil {
		return err
	}
	b.ov.log.Debug("created folder",
		zap.String("branch", b.kind.String()),
		zap.String("path", joinPath(segs)))
	b.ov.finish()
	return nil
}

// Modify updates a file's content. An untracked file is imported from
// disk first; a write to a tombstoned path clears the tombstone and
// resurrects the node as a fresh write.
func (b *BranchView) Modify(ctx context.Context, path, content string) error {
	segs, err := parseFilePath(path)
	if err != nil {
		return err
	}

	node := resolve(b.doc, segs, true)
	if node != nil && node.Dir {
		return fmt.Errorf("%w: %s is a folder", ErrBadPath, path)
	}
	if node == nil {
		id, err := b.ov.importFileFromDisk(ctx, segs)
		if err != nil {
			return err
		}
		node = b.doc.Node(id)
	}

	if node.Deleted() {
		if err := b.doc.SetDeleted(node.ID, false); err != nil {
			return err
		}
	}
	if err := b.doc.SetText(node.ID, content); err != nil {
		return err
	}
	b.ov.log.Debug("modified file",
		zap.String("branch", b.kind.String()),
		zap.String("path", joinPath(segs)))
	b.ov.finish()
	return nil
}

// Delete tombstones a file or an empty folder. Folder emptiness is
// judged across both branches by identity: an entry this branch renamed
// away still lives in the counterpart and blocks the delete.
func (b *BranchView) Delete(ctx context.Context, path string) error {
	segs, err := parseFilePath(path)
	if err != nil {
		return err
	}

	node := resolve(b.doc, segs, true)
	if node != nil && node.Deleted() {
		// Already gone in this branch. Falling through to an import
		// here would mint a second identity for the same path.
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if node == nil {
		id, err := b.ov.importEntryFromDisk(ctx, segs)
		if err != nil {
			return err
		}
		node = b.doc.Node(id)
	}

	if node.Dir && b.folderHasLiveEntries(node.ID) {
		return fmt.Errorf("%w: %s", ErrFolderNotEmpty, path)
	}
	if err := b.doc.SetDeleted(node.ID, true); err != nil {
		return err
	}
	b.ov.log.Debug("deleted",
		zap.String("branch", b.kind.String()),
		zap.String("path", joinPath(segs)),
		zap.Bool("folder", node.Dir))
	b.ov.finish()
	return nil
}

// Rename moves a node to a new path, keeping its identity. The
// destination must be free in this branch.
func (b *BranchView) Rename(ctx context.Context, path, newPath string) error {
	srcSegs, err := parseFilePath(path)
	if err != nil {
		return err
	}
	dstSegs, err := parseFilePath(newPath)
	if err != nil {
		return err
	}
	if resolve(b.doc, dstSegs, false) != nil {
		return fmt.Errorf("%w: %s", ErrDestinationExists, newPath)
	}

	node := resolve(b.doc, srcSegs, true)
	if node != nil && node.Deleted() {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if node == nil {
		id, err := b.ov.importFileFromDisk(ctx, srcSegs)
		if err != nil {
			return err
		}
		node = b.doc.Node(id)
	}

	if node.Dir && pathContainsNode(dstSegs, b.doc, node.ID) {
		return fmt.Errorf("%w: cannot move %s into its own subtree", ErrBadPath, path)
	}

	parentID, err := ensureFolder(b.doc, dstSegs[:len(dstSegs)-1])
	if err != nil {
		return err
	}
	if err := b.doc.MoveNode(node.ID, parentID); err != nil {
		return err
	}
	if err := b.doc.SetName(node.ID, dstSegs[len(dstSegs)-1]); err != nil {
		return err
	}
	b.ov.log.Debug("renamed",
		zap.String("branch", b.kind.String()),
		zap.String("from", joinPath(srcSegs)),
		zap.String("to", joinPath(dstSegs)))
	b.ov.finish()
	return nil
}

// EnsureFolder idempotently creates all missing ancestors for a path.
func (b *BranchView) EnsureFolder(path string) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}
	if _, err := ensureFolder(b.doc, segs); err != nil {
		return err
	}
	b.ov.finish()
	return nil
}

// Binary content, copy, and trash are permanently unsupported: the
// overlay diffs and merges text only. Callers route these straight to
// the real file system.

func (b *BranchView) ReadBinary(context.Context, string) ([]byte, error) {
	return nil, ErrBinaryUnsupported
}

func (b *BranchView) WriteBinary(context.Context, string, []byte) error {
	return ErrBinaryUnsupported
}

func (b *BranchView) Copy(context.Context, string, string) error {
	return ErrCopyUnsupported
}

func (b *BranchView) Trash(context.Context, string) error {
	return ErrTrashUnsupported
}

// folderHasLiveEntries reports whether any entry, in either branch,
// still lives under the folder. An entry found only in the counterpart
// branch counts unless this branch tombstoned it.
func (b *BranchView) folderHasLiveEntries(folderID string) bool {
	for _, n := range b.doc.Children(folderID) {
		if !n.Deleted() {
			return true
		}
	}
	for _, m := range b.other().Children(folderID) {
		if m.Deleted() {
			continue
		}
		local := b.doc.Node(m.ID)
		if local == nil || !local.Deleted() {
			return true
		}
	}
	return false
}

// importEntryFromDisk imports an untracked disk path, file or folder,
// into master and forwards it to staging.
func (o *Overlay) importEntryFromDisk(ctx context.Context, segs []string) (string, error) {
	path := joinPath(segs)
	isFile, err := o.vault.FileExists(ctx, path)
	if err != nil {
		return "", err
	}
	if isFile {
		return o.importFileFromDisk(ctx, segs)
	}
	isDir, err := o.vault.FolderExists(ctx, path)
	if err != nil {
		return "", err
	}
	if !isDir {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	id, err := o.ensureMasterFolder(segs)
	if err != nil {
		return "", err
	}
	o.master.Commit()
	if err := o.forwardMaster(); err != nil {
		return "", err
	}
	o.log.Debug("imported folder from disk", zap.String("path", path))
	return id, nil
}

// importFileFromDisk pulls an untracked file into master and forwards
// it to staging, so it becomes tracked and identical in both branches.
// A path master already tracks keeps its node; import never mints a
// second identity for the same file.
func (o *Overlay) importFileFromDisk(ctx context.Context, segs []string) (string, error) {
	path := joinPath(segs)
	if existing := resolve(o.master, segs, false); existing != nil && !existing.Dir {
		return existing.ID, nil
	}
	exists, err := o.vault.FileExists(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	content, err := o.vault.ReadFile(ctx, path)
	if err != nil {
		return "", err
	}

	parentID, err := o.ensureMasterFolder(segs[:len(segs)-1])
	if err != nil {
		return "", err
	}
	id, err := o.master.CreateNode(parentID, segs[len(segs)-1], false)
	if err != nil {
		return "", err
	}
	if content != "" {
		if err := o.master.SetText(id, content); err != nil {
			return "", err
		}
	}
	o.master.Commit()
	if err := o.forwardMaster(); err != nil {
		return "", err
	}
	o.log.Debug("imported from disk", zap.String("path", path))
	return id, nil
}

// ensureMasterFolder creates missing master ancestors. When staging
// already holds a live folder at the same path the master copy adopts
// staging's identity, so the two branches keep one node per folder.
func (o *Overlay) ensureMasterFolder(segs []string) (string, error) {
	currID := crdt.RootID
	for i, seg := range segs {
		if child := o.master.LiveChild(currID, seg); child != nil {
			if !child.Dir {
				return "", fmt.Errorf("%w: %s is a file", ErrPathExists, joinPath(segs[:i+1]))
			}
			currID = child.ID
			continue
		}
		if s := resolve(o.staging, segs[:i+1], false); s != nil && s.Dir {
			if err := o.master.CreateNodeAt(s.ID, currID, seg, true); err != nil {
				return "", err
			}
			currID = s.ID
			continue
		}
		id, err := o.master.CreateNode(currID, seg, true)
		if err != nil {
			return "", err
		}
		currID = id
	}
	return currID, nil
}

// ensureFolder creates missing ancestors inside one branch.
func ensureFolder(doc *crdt.Doc, segs []string) (string, error) {
	currID := crdt.RootID
	for i, seg := range segs {
		if child := doc.LiveChild(currID, seg); child != nil {
			if !child.Dir {
				return "", fmt.Errorf("%w: %s is a file", ErrPathExists, joinPath(segs[:i+1]))
			}
			currID = child.ID
			continue
		}
		id, err := doc.CreateNode(currID, seg, true)
		if err != nil {
			return "", err
		}
		currID = id
	}
	return currID, nil
}

// resolve walks segs from the root. With includeDead it will surface a
// tombstoned final entry; live entries are always preferred.
func resolve(doc *crdt.Doc, segs []string, includeDead bool) *crdt.Node {
	currID := crdt.RootID
	var node *crdt.Node
	for i, seg := range segs {
		var child *crdt.Node
		if includeDead {
			child = doc.ChildByName(currID, seg)
		} else {
			child = doc.LiveChild(currID, seg)
		}
		if child == nil {
			return nil
		}
		if i < len(segs)-1 && !child.Dir {
			return nil
		}
		currID = child.ID
		node = child
	}
	return node
}

// pathContainsNode reports whether any ancestor folder along segs is
// the given node, i.e. the destination sits inside the node's subtree.
func pathContainsNode(segs []string, doc *crdt.Doc, id string) bool {
	currID := crdt.RootID
	for i := 0; i < len(segs)-1; i++ {
		child := doc.LiveChild(currID, segs[i])
		if child == nil {
			return false
		}
		if child.ID == id {
			return true
		}
		currID = child.ID
	}
	return false
}

// parsePath validates and splits a /-separated path. The empty tail of
// a root path yields zero segments.
func parsePath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrBadPath)
	}
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasSuffix(trimmed, "/") {
		return nil, fmt.Errorf("%w: trailing separator in %q", ErrBadPath, path)
	}
	segs := strings.Split(trimmed, "/")
	for _, seg := range segs {
		switch seg {
		case "":
			return nil, fmt.Errorf("%w: empty segment in %q", ErrBadPath, path)
		case ".", "..":
			return nil, fmt.Errorf("%w: %q", ErrPathTraversal, path)
		}
	}
	return segs, nil
}

// parseFilePath is parsePath for paths that must name an entry, not the root.
func parseFilePath(path string) ([]string, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: root is not a file path", ErrBadPath)
	}
	return segs, nil
}

func joinPath(segs []string) string {
	if len(segs) == 0 {
		return "/"
	}
	return "/" + strings.Join(segs, "/")
}
