package crdt

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOutOfRange indicates a text position outside the current content.
var ErrOutOfRange = errors.New("text position out of range")

// largeTextThreshold is the content size, in bytes, above which SetText
// switches from character splicing to whole-line replacement. Character
// granularity on very large bodies generates pathological op counts.
const largeTextThreshold = 50000

// InsertText inserts s at byte position pos in the file's body.
func (d *Doc) InsertText(id string, pos int, s string) error {
	t, err := d.fileBody(id)
	if err != nil {
		return err
	}
	if pos < 0 || pos > t.Len() {
		return fmt.Errorf("%w: insert at %d, length %d", ErrOutOfRange, pos, t.Len())
	}
	if s == "" {
		return nil
	}
	return d.insertSegmentsAt(id, t, pos, []string{s})
}

// DeleteText removes n bytes starting at pos.
func (d *Doc) DeleteText(id string, pos, n int) error {
	t, err := d.fileBody(id)
	if err != nil {
		return err
	}
	if pos < 0 || n < 0 || pos+n > t.Len() {
		return fmt.Errorf("%w: delete [%d,%d), length %d", ErrOutOfRange, pos, pos+n, t.Len())
	}
	if n == 0 {
		return nil
	}
	return d.deleteTextRange(id, t, pos, n)
}

// SetText replaces the file's content, expressed as the smallest splice
// the container can carry. Small bodies splice at character granularity;
// bodies past largeTextThreshold replace whole lines, one vertex per
// line, keeping op counts proportional to lines rather than characters.
func (d *Doc) SetText(id, content string) error {
	t, err := d.fileBody(id)
	if err != nil {
		return err
	}
	old := t.String()
	if old == content {
		return nil
	}
	if len(old) >= largeTextThreshold || len(content) >= largeTextThreshold {
		return d.setTextByLine(id, t, old, content)
	}

	p := commonPrefix(old, content)
	s := commonSuffix(old[p:], content[p:])
	delLen := len(old) - p - s
	ins := content[p : len(content)-s]

	if delLen > 0 {
		if err := d.deleteTextRange(id, t, p, delLen); err != nil {
			return err
		}
	}
	if ins != "" {
		return d.insertSegmentsAt(id, t, p, []string{ins})
	}
	return nil
}

// ResetText throws the whole container away and starts over with the
// given content. Unlike SetText this does not merge with concurrent
// edits: any edit that raced the reset is discarded when it arrives.
func (d *Doc) ResetText(id, content string) error {
	if _, err := d.fileBody(id); err != nil {
		return err
	}
	seed, err := newNodeID()
	if err != nil {
		return err
	}
	return d.record(Op{
		Kind:   OpTextReset,
		Node:   id,
		Vertex: seed,
		Str:    content,
		Ts:     d.Clock.Now(),
		Actor:  d.Actor,
	})
}

// setTextByLine replaces the divergent middle of the content line by line.
func (d *Doc) setTextByLine(id string, t *Text, old, content string) error {
	oldLines := splitLines(old)
	newLines := splitLines(content)

	p := 0
	for p < len(oldLines) && p < len(newLines) && oldLines[p] == newLines[p] {
		p++
	}
	s := 0
	for s < len(oldLines)-p && s < len(newLines)-p &&
		oldLines[len(oldLines)-1-s] == newLines[len(newLines)-1-s] {
		s++
	}

	delStart := 0
	for _, line := range oldLines[:p] {
		delStart += len(line)
	}
	delLen := 0
	for _, line := range oldLines[p : len(oldLines)-s] {
		delLen += len(line)
	}

	if delLen > 0 {
		if err := d.deleteTextRange(id, t, delStart, delLen); err != nil {
			return err
		}
	}
	middle := newLines[p : len(newLines)-s]
	if len(middle) > 0 {
		return d.insertSegmentsAt(id, t, delStart, middle)
	}
	return nil
}

// insertSegmentsAt inserts segments, in order, starting at byte pos.
// If pos falls inside an existing segment that segment is tombstoned
// and its retained fragments reinserted around the new content; replay
// then consists of plain inserts and removes only.
func (d *Doc) insertSegmentsAt(id string, t *Text, pos int, segs []string) error {
	anchor := t.head
	acc := 0
	var victim *textVertex
	off := 0

	for _, v := range t.liveVertices() {
		if pos <= acc {
			break
		}
		if pos < acc+len(v.Val) {
			victim = v
			off = pos - acc
			break
		}
		acc += len(v.Val)
		anchor = v.ID
		if pos == acc {
			break
		}
	}

	if victim != nil {
		if err := d.recordTextRemove(id, victim.ID); err != nil {
			return err
		}
		chain := make([]string, 0, len(segs)+2)
		chain = append(chain, victim.Val[:off])
		chain = append(chain, segs...)
		chain = append(chain, victim.Val[off:])
		return d.recordTextInsertChain(id, victim.ID, chain)
	}
	return d.recordTextInsertChain(id, anchor, segs)
}

// deleteTextRange tombstones [pos, pos+n). Partially covered segments
// are tombstoned whole and their retained fragment reinserted.
func (d *Doc) deleteTextRange(id string, t *Text, pos, n int) error {
	end := pos + n
	acc := 0
	for _, v := range t.liveVertices() {
		vStart, vEnd := acc, acc+len(v.Val)
		acc = vEnd
		if vEnd <= pos {
			continue
		}
		if vStart >= end {
			break
		}

		if err := d.recordTextRemove(id, v.ID); err != nil {
			return err
		}
		cutStart := max(pos, vStart) - vStart
		cutEnd := min(end, vEnd) - vStart
		retained := v.Val[:cutStart] + v.Val[cutEnd:]
		if retained != "" {
			if err := d.recordTextInsertChain(id, v.ID, []string{retained}); err != nil {
				return err
			}
		}
	}
	return nil
}

// recordTextInsertChain inserts segments one after another, each
// anchored on the previous, starting after anchor.
func (d *Doc) recordTextInsertChain(id, anchor string, segs []string) error {
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		vid, err := newNodeID()
		if err != nil {
			return err
		}
		op := Op{
			Kind:   OpTextInsert,
			Node:   id,
			Vertex: vid,
			Ref:    anchor,
			Str:    seg,
			Ts:     d.Clock.Now(),
			Actor:  d.Actor,
		}
		if err := d.record(op); err != nil {
			return err
		}
		anchor = vid
	}
	return nil
}

func (d *Doc) recordTextRemove(id, vertex string) error {
	return d.record(Op{
		Kind:   OpTextRemove,
		Node:   id,
		Vertex: vertex,
		Ts:     d.Clock.Now(),
		Actor:  d.Actor,
	})
}

func commonPrefix(a, b string) int {
	i := 0
	for i < len(a) && i < len(b) && a[i] == b[i] {
		i++
	}
	return i
}

func commonSuffix(a, b string) int {
	i := 0
	for i < len(a) && i < len(b) && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}

// splitLines splits s into segments that each retain their trailing
// newline, so concatenating them reproduces s exactly.
func splitLines(s string) []string {
	lines := strings.SplitAfter(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
