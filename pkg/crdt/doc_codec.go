package crdt

import (
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// Blob formats. Both carry committed batches; a snapshot carries the
// full log, an update only the batches unseen by the requesting vector.
const (
	formatSnapshot = "sandbox/snapshot/v1"
	formatUpdate   = "sandbox/update/v1"
)

type envelope struct {
	Format  string  `msgpack:"format"`
	Batches []Batch `msgpack:"batches"`
}

// ExportSnapshot serializes the full committed history as an opaque,
// self-describing blob. Pending uncommitted operations are not included.
func (d *Doc) ExportSnapshot() ([]byte, error) {
	return msgpack.Marshal(&envelope{
		Format:  formatSnapshot,
		Batches: d.batches,
	})
}

// ExportUpdate serializes every committed batch not yet covered by
// since, ordered per actor so the receiver can replay without gaps.
func (d *Doc) ExportUpdate(since VersionVector) ([]byte, error) {
	var out []Batch
	for _, b := range d.batches {
		if !since.Covers(b.Actor, b.Seq) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Actor != out[j].Actor {
			return out[i].Actor < out[j].Actor
		}
		return out[i].Seq < out[j].Seq
	})
	return msgpack.Marshal(&envelope{
		Format:  formatUpdate,
		Batches: out,
	})
}

// Import advances the doc by a snapshot or update blob. Batches already
// covered by the local version vector are skipped, so importing the
// same blob twice is a no-op and snapshot/update arrival order does not
// matter. Imported batches join the local log so later snapshots of
// this doc carry them too.
func (d *Doc) Import(blob []byte) error {
	var env envelope
	if err := msgpack.Unmarshal(blob, &env); err != nil {
		return fmt.Errorf("decode blob: %w", err)
	}
	switch env.Format {
	case formatSnapshot, formatUpdate:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, env.Format)
	}

	for _, b := range env.Batches {
		if d.version.Covers(b.Actor, b.Seq) {
			continue
		}
		for _, op := range b.Ops {
			if err := d.apply(op); err != nil {
				return fmt.Errorf("apply batch %s/%d: %w", b.Actor, b.Seq, err)
			}
		}
		if d.version[b.Actor] < b.Seq {
			d.version[b.Actor] = b.Seq
		}
		d.batches = append(d.batches, b)
	}
	d.repairCycles()
	return nil
}

// repairCycles resolves parent cycles created by concurrent cross-actor
// moves. Within each cycle the edge with the lowest (timestamp, actor)
// pair is cut and that node reattaches under the root. Every replica
// holds identical registers after import, so every replica cuts the
// same edge; the register keeps its timestamp, so replaying the cut
// move does not reapply it.
func (d *Doc) repairCycles() {
	const (
		walking = 1
		done    = 2
	)
	state := make(map[string]uint8, len(d.nodes))
	state[RootID] = done

	for id := range d.nodes {
		if state[id] != 0 {
			continue
		}
		var stack []string
		curr := id
		for curr != "" && state[curr] == 0 {
			n := d.nodes[curr]
			if n == nil {
				break
			}
			state[curr] = walking
			stack = append(stack, curr)
			curr = n.ParentID()
		}

		if curr != "" && state[curr] == walking {
			start := len(stack) - 1
			for stack[start] != curr {
				start--
			}
			victim := stack[start]
			for _, m := range stack[start+1:] {
				vp := &d.nodes[victim].parent
				mp := &d.nodes[m].parent
				if mp.Ts < vp.Ts || (mp.Ts == vp.Ts && mp.Actor < vp.Actor) {
					victim = m
				}
			}
			d.nodes[victim].parent.Val = RootID
		}

		for _, s := range stack {
			state[s] = done
		}
	}
}
