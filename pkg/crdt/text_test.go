package crdt

import (
	"strings"
	"testing"
	"time"
)

func newFileDoc(t *testing.T, actor, name, content string) (*Doc, string) {
	t.Helper()
	d := NewDoc(actor)
	id, err := d.CreateNode(RootID, name, false)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if content != "" {
		if err := d.SetText(id, content); err != nil {
			t.Fatalf("set text failed: %v", err)
		}
	}
	return d, id
}

func TestInsertSplitsSegment(t *testing.T) {
	d, id := newFileDoc(t, "a", "f.md", "HelloWorld")

	if err := d.InsertText(id, 5, ", "); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if got := d.NodeText(id); got != "Hello, World" {
		t.Fatalf("expected %q, got %q", "Hello, World", got)
	}
}

func TestDeleteAcrossSegments(t *testing.T) {
	d, id := newFileDoc(t, "a", "f.md", "one")
	if err := d.InsertText(id, 3, "two"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := d.InsertText(id, 6, "three"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if got := d.NodeText(id); got != "onetwothree" {
		t.Fatalf("setup mismatch: %q", got)
	}

	// Spans the tail of the first segment through the head of the last.
	if err := d.DeleteText(id, 2, 7); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if got := d.NodeText(id); got != "onee" {
		t.Fatalf("expected %q, got %q", "onee", got)
	}
}

func TestSetTextSplice(t *testing.T) {
	d, id := newFileDoc(t, "a", "f.md", "Hello world")

	if err := d.SetText(id, "Hello brave world"); err != nil {
		t.Fatalf("set text failed: %v", err)
	}
	if got := d.NodeText(id); got != "Hello brave world" {
		t.Fatalf("got %q", got)
	}

	if err := d.SetText(id, "Hey brave world"); err != nil {
		t.Fatalf("set text failed: %v", err)
	}
	if got := d.NodeText(id); got != "Hey brave world" {
		t.Fatalf("got %q", got)
	}

	// Identical content is a no-op.
	before := len(d.pending)
	if err := d.SetText(id, "Hey brave world"); err != nil {
		t.Fatalf("set text failed: %v", err)
	}
	if len(d.pending) != before {
		t.Fatal("identical SetText must not emit ops")
	}
}

func TestConcurrentTextEditsConverge(t *testing.T) {
	a, id := newFileDoc(t, "a", "f.md", "Hello")
	a.Commit()

	snap, _ := a.ExportSnapshot()
	b, err := NewDocFromSnapshot("b", snap)
	if err != nil {
		t.Fatalf("clone failed: %v", err)
	}

	if err := a.SetText(id, "Hello\n\nfrom a"); err != nil {
		t.Fatalf("edit on a failed: %v", err)
	}
	a.Commit()

	time.Sleep(2 * time.Millisecond)
	if err := b.SetText(id, "Hello\n\nfrom b"); err != nil {
		t.Fatalf("edit on b failed: %v", err)
	}
	b.Commit()

	updA, _ := a.ExportUpdate(b.Version())
	updB, _ := b.ExportUpdate(a.Version())
	if err := a.Import(updB); err != nil {
		t.Fatalf("import into a failed: %v", err)
	}
	if err := b.Import(updA); err != nil {
		t.Fatalf("import into b failed: %v", err)
	}

	textA, textB := a.NodeText(id), b.NodeText(id)
	if textA != textB {
		t.Fatalf("divergence:\na=%q\nb=%q", textA, textB)
	}
	if !strings.Contains(textA, "from a") || !strings.Contains(textA, "from b") {
		t.Fatalf("merge lost an edit: %q", textA)
	}
}

func TestResetWinsOverConcurrentEdit(t *testing.T) {
	a, id := newFileDoc(t, "a", "f.md", "base")
	a.Commit()

	snap, _ := a.ExportSnapshot()
	b, err := NewDocFromSnapshot("b", snap)
	if err != nil {
		t.Fatalf("clone failed: %v", err)
	}

	// b keeps editing the old body while a resets it.
	if err := b.SetText(id, "base plus"); err != nil {
		t.Fatalf("edit on b failed: %v", err)
	}
	b.Commit()

	if err := a.ResetText(id, "approved"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	a.Commit()

	updA, _ := a.ExportUpdate(b.Version())
	updB, _ := b.ExportUpdate(a.Version())
	if err := a.Import(updB); err != nil {
		t.Fatalf("import into a failed: %v", err)
	}
	if err := b.Import(updA); err != nil {
		t.Fatalf("import into b failed: %v", err)
	}

	if got := a.NodeText(id); got != "approved" {
		t.Fatalf("reset did not win on a: %q", got)
	}
	if got := b.NodeText(id); got != "approved" {
		t.Fatalf("reset did not win on b: %q", got)
	}
}

func TestConcurrentResetsTiebreakOnActor(t *testing.T) {
	// Two resets carrying the same timestamp must pick the same winner on
	// every replica regardless of arrival order.
	ts := int64(100)

	x := newText()
	x.applyReset("seed-a", "from a", ts, "a")
	x.applyReset("seed-b", "from b", ts, "b")

	y := newText()
	y.applyReset("seed-b", "from b", ts, "b")
	y.applyReset("seed-a", "from a", ts, "a")

	if got := x.String(); got != "from b" {
		t.Fatalf("expected the higher actor to win, got %q", got)
	}
	if x.String() != y.String() {
		t.Fatalf("divergence: x=%q y=%q", x.String(), y.String())
	}
}

func TestLargeContentTakesLinePath(t *testing.T) {
	line := strings.Repeat("x", 99) + "\n"
	lines := 1000
	content := strings.Repeat(line, lines) // ~100k chars

	d, id := newFileDoc(t, "a", "big.md", "")
	d.Commit()

	if err := d.SetText(id, content); err != nil {
		t.Fatalf("set text failed: %v", err)
	}
	// One insert per line, not per character.
	if got := len(d.pending); got > lines+5 {
		t.Fatalf("expected roughly one op per line, got %d ops", got)
	}
	if d.NodeText(id) != content {
		t.Fatal("content mismatch after line-path SetText")
	}

	// Touching one middle line must not rewrite the rest.
	d.Commit()
	changed := strings.Replace(content, line, "middle edit\n", 1)
	if err := d.SetText(id, changed); err != nil {
		t.Fatalf("set text failed: %v", err)
	}
	if got := len(d.pending); got > 10 {
		t.Fatalf("single-line edit generated %d ops", got)
	}
	if d.NodeText(id) != changed {
		t.Fatal("content mismatch after single-line edit")
	}
}
