package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"

	"github.com/codewandler/esk-go/core/perkey"
)

type (
	Repository interface {
		// Get reconstructs the aggregate with the given ID. Its concrete type
		// is resolved from the stored topic.
		Get(ctx context.Context, aggID string, opts ...GetOption) (Aggregate, error)
		// Load replays the history of agg.GetID() onto the zero-value agg.
		Load(ctx context.Context, agg Aggregate, opts ...GetOption) error
		// Save appends the pending events of agg and returns them. On any
		// failure the pending events stay buffered.
		Save(ctx context.Context, agg Aggregate, opts ...SaveOption) ([]Event, error)
		// MostRecent returns the last persisted event of an aggregate.
		MostRecent(ctx context.Context, aggID string) (Event, error)
		CreateSnapshot(ctx context.Context, agg Aggregate) (*Snapshot, error)
		Serializer() *Serializer
	}
)

// repository rehydrates aggregates and persists new events with optimistic concurrency.
type repository struct {
	log         *slog.Logger
	store       EventStore
	serializer  *Serializer
	snapshotter Snapshotter
	metrics     ESMetrics
	getOpts     []GetOption
	saveOpts    []SaveOption
}

func NewRepository(
	store EventStore,
	serializer *Serializer,
	opts ...RepositoryOption,
) Repository {
	options := newRepoOpts(opts...)
	return &repository{
		log:         options.log.With(slog.String("repo", fmt.Sprintf("%T", store))),
		store:       store,
		serializer:  serializer,
		snapshotter: options.snapshotter,
		metrics:     options.metrics,
		getOpts:     options.getOpts,
		saveOpts:    options.saveOpts,
	}
}

func (r *repository) Serializer() *Serializer { return r.serializer }

func (r *repository) Get(ctx context.Context, aggID string, opts ...GetOption) (Aggregate, error) {
	if aggID == "" {
		return nil, errors.New("aggregate id is empty")
	}
	return r.load(ctx, aggID, nil, opts...)
}

func (r *repository) Load(ctx context.Context, agg Aggregate, opts ...GetOption) error {
	aggID := agg.GetID()
	if aggID == "" {
		return errors.New("aggregate id is empty")
	}
	if agg.GetVersion() != 0 || len(agg.Pending()) != 0 {
		return errors.New("aggregate is not in its initial state")
	}
	_, err := r.load(ctx, aggID, agg, opts...)
	return err
}

// load reconstructs aggID into agg. A nil agg is instantiated from the
// registry once its topic is known.
func (r *repository) load(ctx context.Context, aggID string, agg Aggregate, opts ...GetOption) (Aggregate, error) {
	options := newGetOptions(slices.Concat(r.getOpts, opts)...)
	if options.bounded && options.atVersion == 0 {
		return nil, fmt.Errorf("%w: %s at version 0", ErrAggregateNotFound, aggID)
	}

	log := r.log.With(slog.Group("agg", slog.String("id", aggID)))
	log.Debug("loading", options.logAttrs())

	if agg != nil {
		defer r.metrics.RepoLoadDuration(agg.GetAggType()).ObserveDuration()
	}

	if options.snapshot {
		restored, err := r.applySnapshot(ctx, aggID, agg, options)
		if err != nil {
			return nil, err
		}
		if restored != nil {
			agg = restored
			log.Debug(
				"snapshot applied",
				slog.Uint64("seq", agg.GetSeq()),
				agg.GetVersion().SlogAttr(),
			)
		}
	}

	from := FirstVersion
	readTopic := "any"
	if agg != nil {
		from = agg.GetVersion().Next()
		readTopic = agg.GetAggType()
	}
	readTimer := r.metrics.StoreReadDuration(readTopic)
	for rec, err := range r.store.Read(ctx, aggID, options.readOptions(from)...) {
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", aggID, err)
		}
		if agg == nil {
			if agg, err = r.serializer.Registry().New(rec.Topic); err != nil {
				return nil, err
			}
		}
		ev, err := r.serializer.FromRecord(rec)
		if err != nil {
			return nil, err
		}
		if err := replayOne(agg, ev, rec.Seq); err != nil {
			return nil, err
		}
	}

	readTimer.ObserveDuration()

	if agg == nil || agg.GetVersion() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAggregateNotFound, aggID)
	}

	log.Debug(
		"loaded",
		slog.String("type", agg.GetAggType()),
		slog.Uint64("seq", agg.GetSeq()),
		agg.GetVersion().SlogAttr(),
	)
	return agg, nil
}

// applySnapshot restores the stored snapshot of aggID if it is usable for
// options. It returns nil if there is none.
func (r *repository) applySnapshot(ctx context.Context, aggID string, agg Aggregate, options repoGetOptions) (Aggregate, error) {
	if r.snapshotter == nil {
		return nil, ErrSnapshotterUnconfigured
	}

	var ss *Snapshot
	err := func() (err error) {
		if agg != nil {
			defer r.metrics.SnapshotLoadDuration(agg.GetAggType()).ObserveDuration()
		}
		ss, err = r.snapshotter.LoadSnapshot(ctx, aggID)
		return
	}()
	if err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if options.bounded && ss.ObjVersion > options.atVersion {
		return nil, nil
	}

	if agg == nil {
		if agg, err = r.serializer.Registry().New(ss.ObjType); err != nil {
			return nil, err
		}
	}
	if err := restoreSnapshot(r.serializer, agg, ss); err != nil {
		return nil, err
	}
	return agg, nil
}

func (r *repository) Save(ctx context.Context, agg Aggregate, opts ...SaveOption) ([]Event, error) {
	pending := agg.Pending()
	if len(pending) == 0 {
		return nil, nil
	}
	aggType := agg.GetAggType()
	if aggType == "" {
		return nil, errors.New("aggregate type is empty")
	}
	aggID := agg.GetID()
	if aggID == "" {
		return nil, errors.New("aggregate id is empty")
	}

	saveOptions := newSaveOptions(slices.Concat(r.saveOpts, opts)...)
	defer r.metrics.RepoSaveDuration(aggType).ObserveDuration()

	records := make([]Record, 0, len(pending))
	for _, ev := range pending {
		rec, err := r.serializer.ToRecord(ev)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	res, err := func() (*AppendResult, error) {
		defer r.metrics.StoreAppendDuration(aggType).ObserveDuration()
		return r.store.Append(ctx, records)
	}()
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			r.metrics.ConcurrencyConflict(aggType)
		}
		return nil, fmt.Errorf("failed to save agg_type=%s agg_id=%s: %w", aggType, aggID, err)
	}
	if res == nil {
		return nil, errors.New("append returned nil result")
	}

	last := pending[len(pending)-1].Version
	agg.markPersisted(last, res.LastSeq)
	r.metrics.EventsAppended(aggType, len(pending))

	r.log.Debug(
		"saved",
		slog.Group(
			"agg",
			slog.String("id", aggID),
			slog.String("type", aggType),
			slog.Uint64("seq", agg.GetSeq()),
			agg.GetVersion().SlogAttr(),
		),
		slog.Int("num_events", len(pending)),
	)

	// snapshot failures do not fail the save
	if saveOptions.snapshot {
		if _, err := r.CreateSnapshot(ctx, agg); err != nil {
			r.log.Warn("snapshot failed", slog.String("agg_id", aggID), slog.Any("error", err))
		}
	}

	return pending, nil
}

func (r *repository) MostRecent(ctx context.Context, aggID string) (Event, error) {
	rec, err := r.store.MostRecent(ctx, aggID)
	if err != nil {
		return Event{}, err
	}
	return r.serializer.FromRecord(rec)
}

func (r *repository) CreateSnapshot(ctx context.Context, agg Aggregate) (*Snapshot, error) {
	if r.snapshotter == nil {
		return nil, ErrSnapshotterUnconfigured
	}
	defer r.metrics.SnapshotSaveDuration(agg.GetAggType()).ObserveDuration()

	ss, err := newSnapshot(r.serializer, agg)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot: %w", err)
	}
	if err = r.snapshotter.SaveSnapshot(ctx, ss); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	r.log.Debug("snapshot saved", ss.logAttrs())
	return ss, nil
}

var _ Repository = (*repository)(nil)

// === TypedRepository ===

type (
	TypedRepository[T Aggregate] interface {
		GetAggType() string
		New() T
		Load(ctx context.Context, a T, opts ...GetOption) error
		GetByID(ctx context.Context, aggID string, opts ...GetOption) (T, error)
		Save(ctx context.Context, agg T, opts ...SaveOption) ([]Event, error)
		// Create builds a new aggregate from its creation event and saves it.
		Create(ctx context.Context, payload any, opts ...CreateOption) (T, []Event, error)
		// WithTransaction loads aggID, runs fn and saves the events fn
		// triggered. Calls for the same ID are serialized within this
		// process. Conflicts with other writers are returned, not retried.
		// A transaction whose ctx ends while it is queued never commits.
		WithTransaction(ctx context.Context, aggID string, fn func(T) error, opts ...SaveOption) ([]Event, error)
		Close()
	}
)

type typedRepo[T Aggregate] struct {
	r     Repository
	log   *slog.Logger
	sched *perkey.Scheduler[string]
}

func (t *typedRepo[T]) New() T { return New[T]() }

func (t *typedRepo[T]) GetAggType() string { return t.New().GetAggType() }

func (t *typedRepo[T]) Load(ctx context.Context, a T, opts ...GetOption) error {
	return t.r.Load(ctx, a, opts...)
}

func (t *typedRepo[T]) GetByID(ctx context.Context, aggID string, opts ...GetOption) (a T, err error) {
	if aggID == "" {
		return a, errors.New("aggregate id is empty")
	}
	agg := t.New()
	agg.setID(aggID)
	if err = t.r.Load(ctx, agg, opts...); err != nil {
		return
	}
	return agg, nil
}

func (t *typedRepo[T]) Save(ctx context.Context, agg T, opts ...SaveOption) ([]Event, error) {
	return t.r.Save(ctx, agg, opts...)
}

func (t *typedRepo[T]) Create(ctx context.Context, payload any, opts ...CreateOption) (a T, events []Event, err error) {
	agg, err := Create[T](payload, opts...)
	if err != nil {
		return
	}
	if events, err = t.r.Save(ctx, agg); err != nil {
		return
	}
	t.log.Debug("created", slog.String("id", agg.GetID()))
	return agg, events, nil
}

// WithTransaction hands events back through a channel: a task abandoned by
// its caller may still run, and must not write to the caller's results.
func (t *typedRepo[T]) WithTransaction(ctx context.Context, aggID string, fn func(T) error, opts ...SaveOption) ([]Event, error) {
	saved := make(chan []Event, 1)
	err := t.sched.DoContext(ctx, aggID, func() error {
		// the caller may have given up while the task was queued
		if err := ctx.Err(); err != nil {
			return err
		}
		agg, err := t.GetByID(ctx, aggID)
		if err != nil {
			return err
		}
		if err := fn(agg); err != nil {
			return err
		}
		events, err := t.r.Save(ctx, agg, opts...)
		if err != nil {
			return err
		}
		saved <- events
		return nil
	})
	if err != nil {
		return nil, err
	}
	return <-saved, nil
}

func (t *typedRepo[T]) Close() { t.sched.Close() }

// NewTypedRepository creates a repository for T over store. T is
// registered with the serializer's registry.
func NewTypedRepository[T Aggregate](store EventStore, serializer *Serializer, opts ...RepositoryOption) TypedRepository[T] {
	options := newRepoOpts(opts...)
	return NewTypedRepositoryFrom[T](options.log, NewRepository(store, serializer, opts...))
}

func NewTypedRepositoryFrom[T Aggregate](log *slog.Logger, r Repository) TypedRepository[T] {
	proto := New[T]()
	r.Serializer().Registry().Register(proto)
	return &typedRepo[T]{
		r:     r,
		log:   log.With(slog.String("repo", reflect.TypeOf(proto).String())),
		sched: perkey.New[string](),
	}
}
