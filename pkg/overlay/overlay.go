// Package overlay maintains two parallel document trees over one vault:
// master mirrors the real file system, staging holds an agent's proposed
// edits. Edits accumulate in staging, are diffed against master at file
// granularity, and individually promoted into master on approval or
// discarded on rejection. Neither branch ever writes to disk.
package overlay

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/codewithcheese/agent-sandbox-sub001/pkg/crdt"
	"github.com/codewithcheese/agent-sandbox-sub001/pkg/vault"
)

// Branch actor ids. Each branch attributes its edits to its own origin
// so merges between the two stay deterministic.
const (
	masterActor  = "master"
	stagingActor = "staging"
)

// Overlay owns the two branch documents and the vault they shadow.
// It is not safe for concurrent use; callers serialize access.
type Overlay struct {
	vault   vault.Vault
	log     *zap.Logger
	master  *crdt.Doc
	staging *crdt.Doc

	observer func([]Change)
	changes  []Change
}

// Option configures an Overlay.
type Option func(*Overlay)

// WithLogger attaches a structured logger. Defaults to a nop logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Overlay) { o.log = l }
}

// WithObserver registers a callback invoked synchronously with the
// filtered change list after every committed mutation.
func WithObserver(fn func([]Change)) Option {
	return func(o *Overlay) { o.observer = fn }
}

// New creates an empty overlay over v. Staging is cloned from master's
// initial snapshot so the two branches share every identity they start
// with.
func New(v vault.Vault, opts ...Option) (*Overlay, error) {
	master := crdt.NewDoc(masterActor)
	snap, err := master.ExportSnapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot master: %w", err)
	}
	staging, err := crdt.NewDocFromSnapshot(stagingActor, snap)
	if err != nil {
		return nil, fmt.Errorf("clone staging: %w", err)
	}

	o := &Overlay{
		vault:   v,
		log:     zap.NewNop(),
		master:  master,
		staging: staging,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.recompute()
	return o, nil
}

// Snapshot is the opaque persistent form of an overlay: one blob per
// branch. It round-trips through Load.
type Snapshot struct {
	Master  []byte `msgpack:"master"`
	Staging []byte `msgpack:"staging"`
}

// snapshotWire is a method-less alias so msgpack encodes the fields
// instead of re-entering MarshalBinary/UnmarshalBinary.
type snapshotWire Snapshot

// MarshalBinary serializes the snapshot for embedding in host records.
func (s Snapshot) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal(snapshotWire(s))
}

// UnmarshalBinary restores a snapshot serialized by MarshalBinary.
func (s *Snapshot) UnmarshalBinary(data []byte) error {
	return msgpack.Unmarshal(data, (*snapshotWire)(s))
}

// Snapshot exports both branches. Call it only between operations;
// every public operation commits before returning, so there is never a
// pending half-batch to lose.
func (o *Overlay) Snapshot() (Snapshot, error) {
	master, err := o.master.ExportSnapshot()
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot master: %w", err)
	}
	staging, err := o.staging.ExportSnapshot()
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot staging: %w", err)
	}
	return Snapshot{Master: master, Staging: staging}, nil
}

// Load reconstructs an overlay from a snapshot over the given vault.
func Load(v vault.Vault, snap Snapshot, opts ...Option) (*Overlay, error) {
	master, err := crdt.NewDocFromSnapshot(masterActor, snap.Master)
	if err != nil {
		return nil, fmt.Errorf("load master: %w", err)
	}
	staging, err := crdt.NewDocFromSnapshot(stagingActor, snap.Staging)
	if err != nil {
		return nil, fmt.Errorf("load staging: %w", err)
	}

	o := &Overlay{
		vault:   v,
		log:     zap.NewNop(),
		master:  master,
		staging: staging,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.recompute()
	return o, nil
}

// Master returns the branch view mirroring the real file system.
func (o *Overlay) Master() *BranchView {
	return &BranchView{ov: o, doc: o.master, kind: branchMaster}
}

// Staging returns the branch view holding proposed edits.
func (o *Overlay) Staging() *BranchView {
	return &BranchView{ov: o, doc: o.staging, kind: branchStaging}
}

// forwardMaster replays master's new batches into staging so staging
// always contains master's history. Pending unrelated staging edits are
// untouched; overlapping text edits merge positionally.
func (o *Overlay) forwardMaster() error {
	upd, err := o.master.ExportUpdate(o.staging.Version())
	if err != nil {
		return fmt.Errorf("export master update: %w", err)
	}
	if err := o.staging.Import(upd); err != nil {
		return fmt.Errorf("import into staging: %w", err)
	}
	return nil
}

// finish seals both branches' pending mutations, recomputes the change
// list, and notifies the observer. Every public mutation ends here so
// observers always see a consistent set.
func (o *Overlay) finish() {
	o.master.Commit()
	o.staging.Commit()
	o.recompute()
	if o.observer != nil {
		o.observer(o.FileChanges())
	}
}
