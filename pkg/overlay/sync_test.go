package overlay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncPathMergesExternalEdit(t *testing.T) {
	ov, fv := newTestOverlay(t, map[string]string{"/notes/idea.md": "Hello"})
	ctx := context.Background()

	require.NoError(t, ov.Staging().Modify(ctx, "/notes/idea.md", "Hello\n\nAI line"))
	require.Len(t, ov.FileChanges(), 1)

	// The user edits the file outside the overlay.
	fv.files["/notes/idea.md"] = "Hello\n\n# Vault note"
	require.NoError(t, ov.SyncPath(ctx, "/notes/idea.md"))

	// Master mirrors disk exactly.
	mf, err := ov.Master().FileByPath(ctx, "/notes/idea.md")
	require.NoError(t, err)
	assert.Equal(t, "Hello\n\n# Vault note", mf.Content)

	// Staging keeps both sides of the concurrent edit.
	sf, err := ov.Staging().FileByPath(ctx, "/notes/idea.md")
	require.NoError(t, err)
	assert.Contains(t, sf.Content, "AI line")
	assert.Contains(t, sf.Content, "# Vault note")

	changes := ov.FileChanges()
	require.Len(t, changes, 1, "still exactly one pending change")
	assert.Equal(t, "/notes/idea.md", changes[0].Path)
	assert.Equal(t, ChangeModified, changes[0].Type)
}

func TestSyncPathLeavesUnrelatedPendingEditsAlone(t *testing.T) {
	ov, fv := newTestOverlay(t, map[string]string{
		"/a.md": "alpha",
		"/b.md": "beta",
	})
	ctx := context.Background()

	require.NoError(t, ov.Staging().Modify(ctx, "/a.md", "alpha agent"))
	before := ov.FileChanges()
	require.Len(t, before, 1)

	fv.files["/b.md"] = "beta external"
	require.NoError(t, ov.SyncPath(ctx, "/b.md"))

	after := ov.FileChanges()
	require.Len(t, after, 1)
	assert.Equal(t, before[0], after[0], "pending change for /a.md untouched")

	sf, err := ov.Staging().FileByPath(ctx, "/b.md")
	require.NoError(t, err)
	assert.Equal(t, "beta external", sf.Content, "external edit flows into the agent's view")
}

func TestSyncPathExternalDelete(t *testing.T) {
	ov, fv := newTestOverlay(t, map[string]string{"/gone.md": "bye"})
	ctx := context.Background()

	// Track it first.
	_, err := ov.Staging().FileByPath(ctx, "/gone.md")
	require.NoError(t, err)
	require.NoError(t, ov.Staging().Modify(ctx, "/gone.md", "bye!"))

	delete(fv.files, "/gone.md")
	require.NoError(t, ov.SyncPath(ctx, "/gone.md"))

	_, err = ov.Master().FileByPath(ctx, "/gone.md")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = ov.Staging().FileByPath(ctx, "/gone.md")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApproveModified(t *testing.T) {
	ov, _ := newTestOverlay(t, map[string]string{"/a.md": "v1"})
	ctx := context.Background()

	require.NoError(t, ov.Staging().Modify(ctx, "/a.md", "v2"))
	changes := ov.FileChanges()
	require.Len(t, changes, 1)

	require.NoError(t, ov.Approve(changes[0]))

	mf, err := ov.Master().FileByPath(ctx, "/a.md")
	require.NoError(t, err)
	assert.Equal(t, "v2", mf.Content)
	assert.Empty(t, ov.FileChanges(), "approved change stops showing as pending")
}

func TestApproveAdded(t *testing.T) {
	ov, _ := newTestOverlay(t, nil)
	ctx := context.Background()

	require.NoError(t, ov.Staging().Create(ctx, "/docs/new.md", "fresh"))
	changes := ov.FileChanges()

	require.NoError(t, ov.Approve(changes...))
	assert.Empty(t, ov.FileChanges())

	mf, err := ov.Master().FileByPath(ctx, "/docs/new.md")
	require.NoError(t, err)
	assert.Equal(t, "fresh", mf.Content)

	sf, err := ov.Staging().FileByPath(ctx, "/docs/new.md")
	require.NoError(t, err)
	assert.Equal(t, mf.NodeID, sf.NodeID, "master adopts staging's identity")
}

func TestApproveDeleted(t *testing.T) {
	ov, _ := newTestOverlay(t, map[string]string{"/a.md": "v1"})
	ctx := context.Background()

	require.NoError(t, ov.Staging().Delete(ctx, "/a.md"))
	changes := ov.FileChanges()
	require.Len(t, changes, 1)
	require.Equal(t, ChangeDeleted, changes[0].Type)

	require.NoError(t, ov.Approve(changes[0]))
	assert.Empty(t, ov.FileChanges())

	// Absent from the overlay even though the vault still has it.
	mf, err := ov.Master().FileByPath(ctx, "/a.md")
	require.NoError(t, err)
	assert.Empty(t, mf.NodeID, "only the untracked disk copy remains visible")
}

func TestApproveRenamePreservesIdentity(t *testing.T) {
	ov, _ := newTestOverlay(t, map[string]string{"/a.md": "content"})
	ctx := context.Background()

	require.NoError(t, ov.Staging().Rename(ctx, "/a.md", "/b.md"))
	oldID := ov.FileChanges()[0].NodeID

	require.NoError(t, ov.ApproveAll())
	assert.Empty(t, ov.FileChanges())

	mf, err := ov.Master().FileByPath(ctx, "/b.md")
	require.NoError(t, err)
	assert.Equal(t, oldID, mf.NodeID, "identity survives the approved rename")

	// The old path is gone from both branches; only disk still has it.
	ma, err := ov.Master().FileByPath(ctx, "/a.md")
	require.NoError(t, err)
	assert.Empty(t, ma.NodeID)
	sa, err := ov.Staging().FileByPath(ctx, "/a.md")
	require.NoError(t, err)
	assert.Empty(t, sa.NodeID)
}

func TestApproveRenameIntoNewFolder(t *testing.T) {
	ov, _ := newTestOverlay(t, map[string]string{"/a.md": "content"})
	ctx := context.Background()

	require.NoError(t, ov.Staging().Rename(ctx, "/a.md", "/archive/2026/a.md"))
	require.NoError(t, ov.ApproveAll())
	assert.Empty(t, ov.FileChanges())

	mf, err := ov.Master().FileByPath(ctx, "/archive/2026/a.md")
	require.NoError(t, err)
	assert.Equal(t, "content", mf.Content)
}

func TestApproveRenameIdentityMismatch(t *testing.T) {
	ov, fv := newTestOverlay(t, map[string]string{"/a.md": "content"})
	ctx := context.Background()

	require.NoError(t, ov.Staging().Rename(ctx, "/a.md", "/b.md"))
	renameChange := ov.FileChanges()[0]

	// An unrelated /b.md appears on disk and is synced in: staging now
	// holds two entries named b.md, and the approval must fail loudly
	// instead of merging unrelated files.
	fv.files["/b.md"] = "unrelated"
	require.NoError(t, ov.SyncPath(ctx, "/b.md"))

	current := findChange(t, ov, renameChange.NodeID)
	err := ov.Approve(current)
	assert.ErrorIs(t, err, ErrIdentityMismatch)
}

func TestApproveStaleChange(t *testing.T) {
	ov, _ := newTestOverlay(t, map[string]string{"/a.md": "v1"})
	ctx := context.Background()

	require.NoError(t, ov.Staging().Modify(ctx, "/a.md", "v2"))
	ch := ov.FileChanges()[0]

	require.NoError(t, ov.Approve(ch))
	assert.ErrorIs(t, ov.Approve(ch), ErrStaleChange)
	assert.ErrorIs(t, ov.Reject(ch), ErrStaleChange)
}

func TestRejectModified(t *testing.T) {
	ov, _ := newTestOverlay(t, map[string]string{"/a.md": "v1"})
	ctx := context.Background()

	require.NoError(t, ov.Staging().Modify(ctx, "/a.md", "v2"))
	require.NoError(t, ov.Reject(ov.FileChanges()[0]))

	assert.Empty(t, ov.FileChanges())
	sf, err := ov.Staging().FileByPath(ctx, "/a.md")
	require.NoError(t, err)
	assert.Equal(t, "v1", sf.Content, "staging reverts to master's content")

	mf, err := ov.Master().FileByPath(ctx, "/a.md")
	require.NoError(t, err)
	assert.Equal(t, "v1", mf.Content, "master never mutates on reject")
}

func TestRejectAdded(t *testing.T) {
	ov, _ := newTestOverlay(t, nil)
	ctx := context.Background()

	require.NoError(t, ov.Staging().Create(ctx, "/new.md", "x"))
	require.NoError(t, ov.Reject(ov.FileChanges()[0]))

	assert.Empty(t, ov.FileChanges())
	_, err := ov.Staging().FileByPath(ctx, "/new.md")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectDeleted(t *testing.T) {
	ov, _ := newTestOverlay(t, map[string]string{"/a.md": "v1"})
	ctx := context.Background()

	require.NoError(t, ov.Staging().Delete(ctx, "/a.md"))
	require.NoError(t, ov.Reject(ov.FileChanges()[0]))

	assert.Empty(t, ov.FileChanges())
	sf, err := ov.Staging().FileByPath(ctx, "/a.md")
	require.NoError(t, err)
	assert.Equal(t, "v1", sf.Content)
}

func TestRejectRename(t *testing.T) {
	ov, _ := newTestOverlay(t, map[string]string{"/a.md": "content"})
	ctx := context.Background()

	require.NoError(t, ov.Staging().Rename(ctx, "/a.md", "/b.md"))
	require.NoError(t, ov.Reject(ov.FileChanges()[0]))

	assert.Empty(t, ov.FileChanges())
	sf, err := ov.Staging().FileByPath(ctx, "/a.md")
	require.NoError(t, err)
	assert.NotEmpty(t, sf.NodeID, "entry is back at its master path")
	_, err = ov.Staging().FileByPath(ctx, "/b.md")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectAllDrainsChanges(t *testing.T) {
	ov, _ := newTestOverlay(t, map[string]string{"/a.md": "v1", "/b.md": "v1"})
	ctx := context.Background()

	require.NoError(t, ov.Staging().Modify(ctx, "/a.md", "v2"))
	require.NoError(t, ov.Staging().Rename(ctx, "/b.md", "/c.md"))
	require.NoError(t, ov.Staging().Create(ctx, "/d.md", "new"))
	require.Len(t, ov.FileChanges(), 3)

	require.NoError(t, ov.RejectAll())
	assert.Empty(t, ov.FileChanges())
}

func TestApproveAllMixedChanges(t *testing.T) {
	ov, _ := newTestOverlay(t, map[string]string{"/a.md": "v1", "/b.md": "v1"})
	ctx := context.Background()

	require.NoError(t, ov.Staging().Modify(ctx, "/a.md", "v2"))
	require.NoError(t, ov.Staging().Delete(ctx, "/b.md"))
	require.NoError(t, ov.Staging().Create(ctx, "/c.md", "new"))

	require.NoError(t, ov.ApproveAll())
	assert.Empty(t, ov.FileChanges())

	mf, err := ov.Master().FileByPath(ctx, "/a.md")
	require.NoError(t, err)
	assert.Equal(t, "v2", mf.Content)
	mc, err := ov.Master().FileByPath(ctx, "/c.md")
	require.NoError(t, err)
	assert.Equal(t, "new", mc.Content)
}

// findChange locates the current change entry for a node id.
func findChange(t *testing.T, ov *Overlay, nodeID string) Change {
	t.Helper()
	for _, ch := range ov.FileChanges() {
		if ch.NodeID == nodeID {
			return ch
		}
	}
	t.Fatalf("no current change for node %s", nodeID)
	return Change{}
}
