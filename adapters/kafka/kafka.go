// Package kafka forwards stored events to a Kafka topic. Messages are keyed
// by aggregate id so one aggregate's events keep their order within a
// partition. Payload bytes are the record data as stored, sealed when the
// serializer has a cipher.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/codewandler/esk-go/core/es"
)

const (
	HeaderID          = "esk-id"
	HeaderAggregateID = "esk-aggregate-id"
	HeaderVersion     = "esk-version"
	HeaderType        = "esk-type"
	HeaderTopic       = "esk-topic"
	HeaderEncrypted   = "esk-encrypted"
)

// Writer is the subset of *kafkago.Writer used by Publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type Config struct {
	Brokers []string
	Topic   string
}

// NewWriter returns a writer that hashes keys onto partitions and waits for
// all in-sync replicas.
func NewWriter(cfg Config) (*kafkago.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}, nil
}

type Publisher struct {
	w          Writer
	serializer *es.Serializer
	log        *slog.Logger
}

func NewPublisher(w Writer, serializer *es.Serializer, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{w: w, serializer: serializer, log: log.With(slog.String("publisher", "kafka"))}
}

// PublishRecords writes records in order as one batch.
func (p *Publisher) PublishRecords(ctx context.Context, records ...es.Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, 0, len(records))
	for _, rec := range records {
		msgs = append(msgs, p.message(rec))
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d records: %w", len(msgs), err)
	}
	p.log.Debug("published", slog.Int("num_records", len(msgs)))
	return nil
}

// Publish encodes events, e.g. the ones returned by Repository.Save, and
// writes them.
func (p *Publisher) Publish(ctx context.Context, events ...es.Event) error {
	records := make([]es.Record, 0, len(events))
	for _, ev := range events {
		rec, err := p.serializer.ToRecord(ev)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	return p.PublishRecords(ctx, records...)
}

// Handle lets a Publisher run as a consumer handler, relaying the
// notification log to Kafka.
func (p *Publisher) Handle(msgCtx es.MsgCtx) error {
	return p.PublishRecords(msgCtx.Context(), msgCtx.Record())
}

func (p *Publisher) Close() error { return p.w.Close() }

func (p *Publisher) message(rec es.Record) kafkago.Message {
	return kafkago.Message{
		Key:   []byte(rec.AggregateID),
		Value: rec.Data,
		Time:  rec.OccurredAt,
		Headers: []kafkago.Header{
			{Key: HeaderID, Value: []byte(rec.ID)},
			{Key: HeaderAggregateID, Value: []byte(rec.AggregateID)},
			{Key: HeaderVersion, Value: []byte(strconv.FormatUint(rec.Version.Uint64(), 10))},
			{Key: HeaderType, Value: []byte(rec.Type)},
			{Key: HeaderTopic, Value: []byte(rec.Topic)},
			{Key: HeaderEncrypted, Value: []byte(strconv.FormatBool(p.serializer.Encrypted()))},
		},
	}
}

// RecordFromMessage restores the record carried by msg. Seq is not
// transported.
func RecordFromMessage(msg kafkago.Message) (es.Record, error) {
	rec := es.Record{Data: msg.Value, OccurredAt: msg.Time.UTC()}
	for _, h := range msg.Headers {
		switch h.Key {
		case HeaderID:
			rec.ID = string(h.Value)
		case HeaderAggregateID:
			rec.AggregateID = string(h.Value)
		case HeaderType:
			rec.Type = string(h.Value)
		case HeaderTopic:
			rec.Topic = string(h.Value)
		case HeaderVersion:
			v, err := strconv.ParseUint(string(h.Value), 10, 64)
			if err != nil {
				return es.Record{}, fmt.Errorf("%w: version header: %v", es.ErrDeserialization, err)
			}
			rec.Version = es.Version(v)
		}
	}
	if err := rec.Validate(); err != nil {
		return es.Record{}, err
	}
	return rec, nil
}

var _ es.Handler = (*Publisher)(nil)
