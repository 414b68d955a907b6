package main_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/codewithcheese/agent-sandbox-sub001/pkg/overlay"
	"github.com/codewithcheese/agent-sandbox-sub001/pkg/store"
	"github.com/codewithcheese/agent-sandbox-sub001/pkg/vault"
)

func writeVaultFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// The full lifecycle of one agent edit: the agent edits a tracked file,
// the user edits the same file on disk, the external edit syncs in
// without losing the agent's work, and the surviving change is approved.
func TestAgentEditLifecycle(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "notes/idea.md", "Hello")

	v, err := vault.NewDirVault(root)
	if err != nil {
		t.Fatal(err)
	}
	ov, err := overlay.New(v)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := ov.Staging().Modify(ctx, "/notes/idea.md", "Hello\n\nAI line"); err != nil {
		t.Fatal(err)
	}

	// The user appends a heading outside the overlay.
	writeVaultFile(t, root, "notes/idea.md", "Hello\n\n# Vault note")
	if err := ov.SyncPath(ctx, "/notes/idea.md"); err != nil {
		t.Fatal(err)
	}

	mf, err := ov.Master().FileByPath(ctx, "/notes/idea.md")
	if err != nil {
		t.Fatal(err)
	}
	if mf.Content != "Hello\n\n# Vault note" {
		t.Errorf("master should mirror disk, got %q", mf.Content)
	}

	sf, err := ov.Staging().FileByPath(ctx, "/notes/idea.md")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sf.Content, "AI line") || !strings.Contains(sf.Content, "# Vault note") {
		t.Errorf("staging should keep both edits, got %q", sf.Content)
	}

	changes := ov.FileChanges()
	if len(changes) != 1 || changes[0].Type != overlay.ChangeModified {
		t.Fatalf("expected one modified change, got %v", changes)
	}

	if err := ov.Approve(changes[0]); err != nil {
		t.Fatal(err)
	}
	if got := len(ov.FileChanges()); got != 0 {
		t.Errorf("expected no pending changes after approve, got %d", got)
	}

	mf, err = ov.Master().FileByPath(ctx, "/notes/idea.md")
	if err != nil {
		t.Fatal(err)
	}
	if mf.Content != sf.Content {
		t.Errorf("approved master content %q should match staging %q", mf.Content, sf.Content)
	}
}

// A rename keeps the entry's identity from staging through approval
// into master, and a rejected rename restores the original path.
func TestRenameAndRejectFlows(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "a.md", "content")

	v, err := vault.NewDirVault(root)
	if err != nil {
		t.Fatal(err)
	}
	ov, err := overlay.New(v)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := ov.Staging().Rename(ctx, "/a.md", "/b.md"); err != nil {
		t.Fatal(err)
	}
	changes := ov.FileChanges()
	if len(changes) != 1 || changes[0].Type != overlay.ChangeModified {
		t.Fatalf("rename should surface as one modified change, got %v", changes)
	}
	id := changes[0].NodeID

	if err := ov.Reject(changes[0]); err != nil {
		t.Fatal(err)
	}
	sf, err := ov.Staging().FileByPath(ctx, "/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if sf.NodeID != id {
		t.Errorf("rejected rename should restore the same entry, got %s want %s", sf.NodeID, id)
	}

	if err := ov.Staging().Rename(ctx, "/a.md", "/b.md"); err != nil {
		t.Fatal(err)
	}
	if err := ov.ApproveAll(); err != nil {
		t.Fatal(err)
	}
	mf, err := ov.Master().FileByPath(ctx, "/b.md")
	if err != nil {
		t.Fatal(err)
	}
	if mf.NodeID != id {
		t.Errorf("approved rename should keep identity, got %s want %s", mf.NodeID, id)
	}
}

// Sessions survive a full process restart: save through one Badger
// store, close it, reopen the same directory, and load.
func TestSessionSurvivesRestart(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "doc.md", "v1")
	dataDir := t.TempDir()

	v, err := vault.NewDirVault(root)
	if err != nil {
		t.Fatal(err)
	}

	kv, err := store.NewBadgerStore(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	sessions := store.NewSessionStore(kv)

	ov, err := overlay.New(v)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := ov.Staging().Modify(ctx, "/doc.md", "v2 proposed"); err != nil {
		t.Fatal(err)
	}
	if err := ov.Staging().Create(ctx, "/new/extra.md", "fresh"); err != nil {
		t.Fatal(err)
	}
	want := ov.FileChanges()

	if err := sessions.Save("work", ov); err != nil {
		t.Fatal(err)
	}
	if err := kv.Close(); err != nil {
		t.Fatal(err)
	}

	kv, err = store.NewBadgerStore(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer kv.Close()
	sessions = store.NewSessionStore(kv)

	restored, err := sessions.Load("work", v)
	if err != nil {
		t.Fatal(err)
	}
	got := restored.FileChanges()
	if len(got) != len(want) {
		t.Fatalf("expected %d changes after restart, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d: got %v want %v", i, got[i], want[i])
		}
	}

	if _, err := sessions.Load("missing", v); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	// The restored session keeps working against the live vault.
	if err := restored.ApproveAll(); err != nil {
		t.Fatal(err)
	}
	mf, err := restored.Master().FileByPath(context.Background(), "/new/extra.md")
	if err != nil {
		t.Fatal(err)
	}
	if mf.Content != "fresh" {
		t.Errorf("approved new file content = %q", mf.Content)
	}
}
