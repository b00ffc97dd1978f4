package buffer

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/trancendos/syncbridge/internal/logging"
)

// MirroredStore writes through to a primary store and best-effort
// copies every append and status update to a mirror, typically the
// Notion dashboard. Mirror failures are logged, never surfaced: the
// primary's durability is the buffer's durability.
//
// The primary-to-mirror id mapping lives in memory only, so status
// updates for records appended before the current process started are
// mirrored as misses. The mirror is an audit feed, not a replica.
type MirroredStore struct {
	primary Store
	mirror  Store
	log     *logging.Logger

	mu  sync.Mutex
	ids map[string]string
}

// NewMirroredStore wraps primary with a best-effort mirror.
func NewMirroredStore(primary, mirror Store, log *logging.Logger) *MirroredStore {
	return &MirroredStore{
		primary: primary,
		mirror:  mirror,
		log:     log.Named("mirror"),
		ids:     make(map[string]string),
	}
}

// Append implements Store.
func (m *MirroredStore) Append(ctx context.Context, in Input) (string, error) {
	id, err := m.primary.Append(ctx, in)
	if err != nil {
		return "", err
	}

	mirrorID, merr := m.mirror.Append(ctx, in)
	if merr != nil {
		m.log.Warn(ctx, "mirror append failed", zap.String("record_id", id), zap.Error(merr))
		return id, nil
	}
	m.mu.Lock()
	m.ids[id] = mirrorID
	m.mu.Unlock()
	return id, nil
}

// UpdateStatus implements Store.
func (m *MirroredStore) UpdateStatus(ctx context.Context, id string, status SyncStatus, validated bool, errorLog string) error {
	if err := m.primary.UpdateStatus(ctx, id, status, validated, errorLog); err != nil {
		return err
	}

	m.mu.Lock()
	mirrorID, ok := m.ids[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if merr := m.mirror.UpdateStatus(ctx, mirrorID, status, validated, errorLog); merr != nil {
		m.log.Warn(ctx, "mirror update failed", zap.String("record_id", id), zap.Error(merr))
	}
	return nil
}

// Query implements Store, reading from the primary only.
func (m *MirroredStore) Query(ctx context.Context, f Filter) ([]ActionRecord, error) {
	return m.primary.Query(ctx, f)
}

// Stats implements Store, reading from the primary only.
func (m *MirroredStore) Stats(ctx context.Context) (Stats, error) {
	return m.primary.Stats(ctx)
}

// Close closes both stores.
func (m *MirroredStore) Close() error {
	err := m.primary.Close()
	if merr := m.mirror.Close(); err == nil {
		err = merr
	}
	return err
}
