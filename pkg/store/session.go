package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/codewithcheese/agent-sandbox-sub001/pkg/overlay"
	"github.com/codewithcheese/agent-sandbox-sub001/pkg/vault"
)

var (
	// ErrSessionNotFound is returned when no session exists under the id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrBadSessionID is returned for empty ids or ids containing '/'.
	ErrBadSessionID = errors.New("invalid session id")
)

const (
	sessionKeyPrefix = "session/"
	metaKeyPrefix    = "meta/"
)

// SessionMeta describes one saved session without loading its snapshot.
type SessionMeta struct {
	ID             string    `msgpack:"id"`
	SavedAt        time.Time `msgpack:"saved_at"`
	PendingChanges int       `msgpack:"pending_changes"`
}

// sessionRecord is the stored snapshot payload.
type sessionRecord struct {
	Snapshot []byte `msgpack:"snapshot"`
}

// SessionStore persists overlay sessions in a Store. Each session
// occupies two keys: session/<id> holds the snapshot blob, meta/<id> a
// small listing record, so List never deserializes full snapshots.
type SessionStore struct {
	store Store
	log   *zap.Logger
}

// SessionOption configures a SessionStore.
type SessionOption func(*SessionStore)

// WithSessionLogger attaches a logger. Defaults to a nop logger.
func WithSessionLogger(log *zap.Logger) SessionOption {
	return func(ss *SessionStore) {
		if log != nil {
			ss.log = log
		}
	}
}

// NewSessionStore wraps a Store with session persistence.
func NewSessionStore(s Store, opts ...SessionOption) *SessionStore {
	ss := &SessionStore{store: s, log: zap.NewNop()}
	for _, opt := range opts {
		opt(ss)
	}
	return ss
}

// Save snapshots the overlay and writes it under id, replacing any
// previous save with the same id.
func (ss *SessionStore) Save(id string, ov *overlay.Overlay) error {
	if err := checkSessionID(id); err != nil {
		return err
	}

	snap, err := ov.Snapshot()
	if err != nil {
		return err
	}
	blob, err := snap.MarshalBinary()
	if err != nil {
		return err
	}
	record, err := msgpack.Marshal(sessionRecord{Snapshot: blob})
	if err != nil {
		return err
	}
	meta, err := msgpack.Marshal(SessionMeta{
		ID:             id,
		SavedAt:        time.Now().UTC(),
		PendingChanges: len(ov.FileChanges()),
	})
	if err != nil {
		return err
	}

	err = ss.store.Update(func(tx Tx) error {
		if err := tx.Set([]byte(sessionKeyPrefix+id), record, 0); err != nil {
			return err
		}
		return tx.Set([]byte(metaKeyPrefix+id), meta, 0)
	})
	if err != nil {
		return err
	}
	ss.log.Debug("saved session",
		zap.String("session", id),
		zap.Int("snapshot_bytes", len(blob)))
	return nil
}

// Load restores the session saved under id against the given vault.
func (ss *SessionStore) Load(id string, v vault.Vault, opts ...overlay.Option) (*overlay.Overlay, error) {
	if err := checkSessionID(id); err != nil {
		return nil, err
	}

	var record sessionRecord
	err := ss.store.View(func(tx Tx) error {
		raw, err := tx.Get([]byte(sessionKeyPrefix + id))
		if err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
			}
			return err
		}
		return msgpack.Unmarshal(raw, &record)
	})
	if err != nil {
		return nil, err
	}

	var snap overlay.Snapshot
	if err := snap.UnmarshalBinary(record.Snapshot); err != nil {
		return nil, err
	}
	ov, err := overlay.Load(v, snap, opts...)
	if err != nil {
		return nil, err
	}
	ss.log.Debug("loaded session", zap.String("session", id))
	return ov, nil
}

// List returns metadata for every saved session, ordered by id.
func (ss *SessionStore) List() ([]SessionMeta, error) {
	var out []SessionMeta
	err := ss.store.View(func(tx Tx) error {
		it := tx.NewIterator([]byte(metaKeyPrefix))
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			_, raw, err := it.Item()
			if err != nil {
				return err
			}
			var meta SessionMeta
			if err := msgpack.Unmarshal(raw, &meta); err != nil {
				return err
			}
			out = append(out, meta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a saved session.
func (ss *SessionStore) Delete(id string) error {
	if err := checkSessionID(id); err != nil {
		return err
	}
	return ss.store.Update(func(tx Tx) error {
		if _, err := tx.Get([]byte(sessionKeyPrefix + id)); err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
			}
			return err
		}
		if err := tx.Delete([]byte(sessionKeyPrefix + id)); err != nil {
			return err
		}
		return tx.Delete([]byte(metaKeyPrefix + id))
	})
}

func checkSessionID(id string) error {
	if id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: %q", ErrBadSessionID, id)
	}
	return nil
}
