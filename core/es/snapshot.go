package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/esk-go/ports/kv"
)

var (
	ErrSnapshotterUnconfigured = errors.New("no snapshotter configured")
	ErrSnapshotNotFound        = errors.New("snapshot not found")
)

const (
	snapshotSchemaVersion = 1

	SnapshotEncodingJSON   = "json"
	SnapshotEncodingCustom = "custom"
)

type (
	Snapshot struct {
		SnapshotID string `json:"snapshot_id"`

		ObjID      string  `json:"obj_id"`
		ObjType    string  `json:"obj_type"`
		ObjVersion Version `json:"obj_version"`

		// StreamSeq is the store sequence of the last event folded into Data.
		StreamSeq uint64 `json:"stream_seq"`

		CreatedAt     time.Time `json:"created_at"`
		SchemaVersion int       `json:"schema_version"`
		Encoding      string    `json:"encoding"`
		Sealed        bool      `json:"sealed"`
		Data          []byte    `json:"data"`
	}

	// Snapshottable aggregates control their own snapshot encoding.
	// Others are encoded as JSON. RestoreSnapshot replaces the whole state,
	// Trigger relies on it to undo a failed batch.
	Snapshottable interface {
		Snapshot() (data []byte, err error)
		RestoreSnapshot(data []byte) error
	}

	// Snapshotter keeps the latest snapshot per aggregate ID.
	Snapshotter interface {
		SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
		LoadSnapshot(ctx context.Context, objID string) (*Snapshot, error)
	}
)

func (s *Snapshot) logAttrs() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("id", s.SnapshotID),
		slog.String("obj_type", s.ObjType),
		slog.String("obj_id", s.ObjID),
		s.ObjVersion.SlogAttrWithKey("obj_version"),
		slog.Uint64("seq", s.StreamSeq),
		slog.Time("created_at", s.CreatedAt),
		slog.Bool("sealed", s.Sealed),
		slog.Int("size", len(s.Data)),
	)
}

func (s *Snapshot) aad() []byte {
	return identityAAD("snapshot", s.ObjType, s.ObjID, s.ObjVersion, s.Encoding)
}

// newSnapshot captures the persisted state of agg. Aggregates with pending
// events cannot be snapshotted.
func newSnapshot(ser *Serializer, agg Aggregate) (*Snapshot, error) {
	if len(agg.Pending()) != 0 {
		return nil, errors.New("aggregate has pending events")
	}
	if agg.GetVersion() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAggregateNotFound, agg.GetID())
	}

	var (
		data     []byte
		err      error
		encoding = SnapshotEncodingJSON
	)
	if s, ok := agg.(Snapshottable); ok {
		data, err = s.Snapshot()
		encoding = SnapshotEncodingCustom
	} else {
		data, err = json.Marshal(agg)
	}
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	ss := &Snapshot{
		SnapshotID:    gonanoid.Must(),
		ObjID:         agg.GetID(),
		ObjType:       agg.GetAggType(),
		ObjVersion:    agg.GetVersion(),
		StreamSeq:     agg.GetSeq(),
		CreatedAt:     time.Now().UTC(),
		SchemaVersion: snapshotSchemaVersion,
		Encoding:      encoding,
		Sealed:        ser.Encrypted(),
	}
	if ss.Data, err = ser.seal(data, ss.aad()); err != nil {
		return nil, fmt.Errorf("seal snapshot: %w", err)
	}
	return ss, nil
}

// restoreSnapshot applies ss onto the zero-value agg.
func restoreSnapshot(ser *Serializer, agg Aggregate, ss *Snapshot) error {
	if ss.ObjType != agg.GetAggType() {
		return fmt.Errorf("%w: snapshot of %s restored onto %s", ErrAggregateTypeMismatch, ss.ObjType, agg.GetAggType())
	}
	if ss.Sealed != ser.Encrypted() {
		return fmt.Errorf("%w: snapshot %s sealed=%t", ErrDecryption, ss.SnapshotID, ss.Sealed)
	}
	data, err := ser.open(ss.Data, ss.aad())
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", ss.SnapshotID, err)
	}

	agg.setID(ss.ObjID)
	switch ss.Encoding {
	case SnapshotEncodingCustom:
		s, ok := agg.(Snapshottable)
		if !ok {
			return fmt.Errorf("%w: %s cannot restore custom snapshot", ErrDeserialization, ss.ObjType)
		}
		err = s.RestoreSnapshot(data)
	case SnapshotEncodingJSON:
		err = json.Unmarshal(data, agg)
	default:
		err = fmt.Errorf("unknown snapshot encoding %q", ss.Encoding)
	}
	if err != nil {
		return fmt.Errorf("%w: restore snapshot: %w", ErrDeserialization, err)
	}
	agg.setVersion(ss.ObjVersion)
	agg.markPersisted(ss.ObjVersion, ss.StreamSeq)
	return nil
}

// === In-Memory Snapshotter ===

type InMemorySnapshotter struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
}

func NewInMemorySnapshotter() *InMemorySnapshotter {
	return &InMemorySnapshotter{snapshots: map[string]*Snapshot{}}
}

func (i *InMemorySnapshotter) SaveSnapshot(_ context.Context, snapshot *Snapshot) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	cp := *snapshot
	i.snapshots[snapshot.ObjID] = &cp
	return nil
}

func (i *InMemorySnapshotter) LoadSnapshot(_ context.Context, objID string) (*Snapshot, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	s, ok := i.snapshots[objID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	cp := *s
	return &cp, nil
}

// === KeyValue Snapshotter ===

// KeyValueSnapshotter stores snapshots as JSON documents in a kv.Store.
type KeyValueSnapshotter struct {
	store kv.Store
	ttl   time.Duration
}

type KeyValueSnapshotterOption func(*KeyValueSnapshotter)

// WithSnapshotTTL expires stored snapshots after ttl, if the store supports
// per-key expiry.
func WithSnapshotTTL(ttl time.Duration) KeyValueSnapshotterOption {
	return func(s *KeyValueSnapshotter) { s.ttl = ttl }
}

func NewKeyValueSnapshotter(store kv.Store, opts ...KeyValueSnapshotterOption) *KeyValueSnapshotter {
	s := &KeyValueSnapshotter{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func snapshotKey(objID string) string { return "snapshot." + objID }

func (k *KeyValueSnapshotter) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	return kv.Put(ctx, k.store, snapshotKey(snapshot.ObjID), snapshot, kv.PutOptions{TTL: k.ttl})
}

func (k *KeyValueSnapshotter) LoadSnapshot(ctx context.Context, objID string) (*Snapshot, error) {
	ss, err := kv.Get[Snapshot](ctx, k.store, snapshotKey(objID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return &ss, nil
}

// === options ===

type SnapshotterOption valueOption[Snapshotter]

func WithSnapshotter(s Snapshotter) SnapshotterOption { return SnapshotterOption{v: s} }

func (o SnapshotterOption) applyToEnv(e *envOptions)       { e.snapshotter = o.v }
func (o SnapshotterOption) applyToRepository(r *repoOpts) { r.snapshotter = o.v }

var (
	_ Snapshotter = (*InMemorySnapshotter)(nil)
	_ Snapshotter = (*KeyValueSnapshotter)(nil)
)
