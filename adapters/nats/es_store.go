package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/esk-go/core/es"
)

const (
	defaultSubjectPrefix = "esk.es"
	defaultStreamName    = "ESK_ES"
	defaultNamespace     = "default"
	fetchBatchSize       = 256
	fetchMaxWait         = 2 * time.Second

	// JetStream rejects a publish whose expected last subject sequence is stale.
	errCodeWrongLastSequence jetstream.ErrorCode = 10071
)

var ErrInvalidSubjectToken = errors.New("invalid subject token")

type EventStoreConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix is the prefix used to store events
	StreamName    string
	// Namespace isolates aggregates of several stores sharing one stream.
	Namespace string
	// Storage defaults to file storage.
	Storage jetstream.StorageType
}

// EventStore keeps events in a JetStream stream, one subject per aggregate.
// Each append publishes a single message holding the whole batch, so a
// batch is stored all or nothing. Concurrency control uses the expected last
// sequence per subject.
type EventStore struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	streamName    string
}

func NewEventStore(cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}
	if err := validateToken(namespace); err != nil {
		return nil, fmt.Errorf("namespace: %w", err)
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("namespace", namespace),
	)

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log.Debug("ensuring stream")

	stream, streamInfo, err := ensureStream(js, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
		Storage:  cfg.Storage,
		FirstSeq: 1,
	})
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log.Debug("ensured", slog.Uint64("last_seq", streamInfo.State.LastSeq))

	return &EventStore{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		log:           log,
		stream:        stream,
		subjectPrefix: subjectPrefix + "." + namespace,
		streamName:    streamName,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) Append(ctx context.Context, records []es.Record) (*es.AppendResult, error) {
	if err := es.ValidateBatch(records); err != nil {
		return nil, err
	}

	var (
		aggID = records[0].AggregateID
		first = records[0].Version
	)
	subject, err := e.subjectForAggregate(aggID)
	if err != nil {
		return nil, err
	}

	last, lastSubjectSeq, err := e.lastOf(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	var lastVersion es.Version
	if last != nil {
		lastVersion = last.Version
	}
	if first <= lastVersion {
		return nil, es.NewConflictError(aggID, first, nil)
	}
	if first != lastVersion.Next() {
		return nil, fmt.Errorf("%w: aggregate %s at version %d, append starts at %d", es.ErrStreamCorrupt, aggID, lastVersion, first)
	}

	msg := natsgo.NewMsg(subject)
	msg.Header.Set("x-aggregate-id", aggID)
	msg.Header.Set("x-topic", records[0].Topic)
	msg.Header.Set("x-first-version", fmt.Sprint(first))
	msg.Data, err = json.Marshal(records)
	if err != nil {
		return nil, err
	}

	ack, err := e.js.PublishMsg(
		ctx,
		msg,
		jetstream.WithMsgID(records[0].ID),
		jetstream.WithExpectLastSequencePerSubject(lastSubjectSeq),
	)
	if err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == errCodeWrongLastSequence {
			return nil, es.NewConflictError(aggID, first, err)
		}
		return nil, fmt.Errorf("failed to append to subject %s: %w", subject, err)
	}
	if ack.Duplicate {
		return nil, es.NewConflictError(aggID, first, errors.New("duplicate message id"))
	}

	e.log.Debug(
		"append",
		slog.String("aggregate_id", aggID),
		slog.Uint64("seq", ack.Sequence),
		slog.Int("num_events", len(records)),
	)
	return &es.AppendResult{FirstSeq: ack.Sequence, LastSeq: ack.Sequence}, nil
}

func (e *EventStore) Read(ctx context.Context, aggregateID string, opts ...es.ReadOption) iter.Seq2[es.Record, error] {
	options := es.NewReadOptions(opts...)
	subject, err := e.subjectForAggregate(aggregateID)
	if err != nil {
		return es.ErrSeq(err)
	}

	return func(yield func(es.Record, error) bool) {
		startAt := time.Now()
		_, endSeq, err := e.lastOf(ctx, subject)
		if err != nil {
			yield(es.Record{}, err)
			return
		}
		if endSeq == 0 {
			return
		}

		cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
			DeliverPolicy:  jetstream.DeliverAllPolicy,
			FilterSubjects: []string{subject},
		})
		if err != nil {
			yield(es.Record{}, err)
			return
		}

		for batch, err := range fetchUntil(ctx, cc, endSeq, 0) {
			if err != nil {
				yield(es.Record{}, err)
				return
			}
			for _, rec := range batch {
				if options.Exhausted(rec.Version) {
					return
				}
				if !options.Contains(rec.Version) {
					continue
				}
				if !yield(rec, nil) {
					return
				}
			}
		}

		e.log.Debug(
			"read",
			slog.String("aggregate_id", aggregateID),
			slog.Duration("duration", time.Since(startAt)),
		)
	}
}

func (e *EventStore) MostRecent(ctx context.Context, aggregateID string) (es.Record, error) {
	subject, err := e.subjectForAggregate(aggregateID)
	if err != nil {
		return es.Record{}, err
	}
	last, _, err := e.lastOf(ctx, subject)
	if err != nil {
		return es.Record{}, err
	}
	if last == nil {
		return es.Record{}, fmt.Errorf("%w: %s", es.ErrAggregateNotFound, aggregateID)
	}
	return *last, nil
}

// Notifications lists the records of this namespace. All records of one
// append share the stream sequence of their message.
func (e *EventStore) Notifications(ctx context.Context, afterSeq uint64, limit int) ([]es.Record, error) {
	filter := e.subjectPrefix + ".>"
	lm, err := e.stream.GetLastMsgForSubject(ctx, filter)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if lm.Sequence <= afterSeq {
		return nil, nil
	}

	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:    afterSeq + 1,
		FilterSubjects: []string{filter},
	})
	if err != nil {
		return nil, err
	}

	var out []es.Record
	for batch, err := range fetchUntil(ctx, cc, lm.Sequence, limit) {
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// fetchUntil yields the decoded batches of cc up to stream sequence endSeq,
// or until at least limit records were yielded if limit > 0.
func fetchUntil(ctx context.Context, cc jetstream.Consumer, endSeq uint64, limit int) iter.Seq2[[]es.Record, error] {
	return func(yield func([]es.Record, error) bool) {
		count := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			mb, err := cc.Fetch(fetchBatchSize, jetstream.FetchMaxWait(fetchMaxWait))
			if err != nil {
				yield(nil, err)
				return
			}
			empty := true
			for msg := range mb.Messages() {
				empty = false
				batch, seq, err := decodeMsg(msg)
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(batch, nil) {
					return
				}
				count += len(batch)
				if seq >= endSeq || (limit > 0 && count >= limit) {
					return
				}
			}
			if err := mb.Error(); err != nil && !errors.Is(err, natsgo.ErrTimeout) {
				yield(nil, err)
				return
			}
			if empty {
				yield(nil, fmt.Errorf("%w: stream ended before sequence %d", es.ErrStreamCorrupt, endSeq))
				return
			}
		}
	}
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (s jetstream.Stream, si *jetstream.StreamInfo, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err = js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err = s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

func decodeMsg(msg jetstream.Msg) ([]es.Record, uint64, error) {
	md, err := msg.Metadata()
	if err != nil {
		return nil, 0, err
	}
	batch, err := decodeBatch(msg.Data(), md.Sequence.Stream)
	return batch, md.Sequence.Stream, err
}

func decodeBatch(data []byte, seq uint64) ([]es.Record, error) {
	var batch []es.Record
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("%w: message %d: %w", es.ErrStreamCorrupt, seq, err)
	}
	for i := range batch {
		batch[i].Seq = seq
	}
	return batch, nil
}

// lastOf returns the highest version record on subject and the stream
// sequence of its message. Both are zero if the subject is empty.
func (e *EventStore) lastOf(ctx context.Context, subject string) (*es.Record, uint64, error) {
	lm, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	batch, err := decodeBatch(lm.Data, lm.Sequence)
	if err != nil {
		return nil, 0, err
	}
	if len(batch) == 0 {
		return nil, 0, fmt.Errorf("%w: empty message %d", es.ErrStreamCorrupt, lm.Sequence)
	}
	return &batch[len(batch)-1], lm.Sequence, nil
}

func (e *EventStore) subjectForAggregate(aggregateID string) (string, error) {
	if err := validateToken(aggregateID); err != nil {
		return "", fmt.Errorf("aggregate id %q: %w", aggregateID, err)
	}
	return e.subjectPrefix + "." + aggregateID, nil
}

// validateToken accepts strings usable as one subject token.
func validateToken(s string) error {
	if s == "" || strings.ContainsAny(s, ".*> \t\r\n") {
		return ErrInvalidSubjectToken
	}
	return nil
}

var (
	_ es.EventStore      = (*EventStore)(nil)
	_ es.NotificationLog = (*EventStore)(nil)
)
