package es

import (
	"errors"
	"fmt"
	"strconv"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/esk-go/core/cipher"
	"github.com/codewandler/esk-go/internal/codec"
)

// IDGenerator is a function that generates unique IDs for records.
type IDGenerator func() string

// DefaultIDGenerator returns the default ID generator using nanoid.
func DefaultIDGenerator() IDGenerator {
	return func() string { return gonanoid.Must() }
}

// Serializer converts events to records and back. With a cipher configured,
// encoded payloads are sealed; the record identity is bound as additional
// data so a sealed payload cannot be moved to another record.
type Serializer struct {
	registry    *Registry
	codec       codec.Codec
	cipher      cipher.Cipher
	idGenerator IDGenerator
}

type (
	serializerOpts struct {
		codec       codec.Codec
		cipher      cipher.Cipher
		idGenerator IDGenerator
	}
	SerializerOption interface{ applyToSerializer(*serializerOpts) }
)

func NewSerializer(registry *Registry, opts ...SerializerOption) *Serializer {
	options := serializerOpts{
		codec:       codec.JSON(),
		idGenerator: DefaultIDGenerator(),
	}
	for _, opt := range opts {
		opt.applyToSerializer(&options)
	}
	return &Serializer{
		registry:    registry,
		codec:       options.codec,
		cipher:      options.cipher,
		idGenerator: options.idGenerator,
	}
}

func (s *Serializer) Registry() *Registry { return s.registry }
func (s *Serializer) Encrypted() bool     { return s.cipher != nil }

// ToRecord encodes ev. The returned record has no Seq yet.
func (s *Serializer) ToRecord(ev Event) (Record, error) {
	data, err := s.codec.Marshal(ev.Payload)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", ev.Type, err)
	}
	rec := Record{
		ID:          s.idGenerator(),
		AggregateID: ev.AggregateID,
		Version:     ev.Version,
		Type:        ev.Type,
		Topic:       ev.Topic,
		OccurredAt:  ev.OccurredAt,
	}
	if s.cipher != nil {
		data, err = s.cipher.Seal(data, recordAAD(rec))
		if err != nil {
			return Record{}, fmt.Errorf("seal %s: %w", ev.Type, err)
		}
	}
	rec.Data = data
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// FromRecord reverses ToRecord. Authentication failures are ErrDecryption;
// unparsable payloads and unknown event types are ErrDeserialization.
func (s *Serializer) FromRecord(rec Record) (Event, error) {
	payload, err := s.registry.NewPayload(rec.Topic, rec.Type)
	if err != nil {
		return Event{}, fmt.Errorf("%w: record %s: %w", ErrDeserialization, rec.ID, err)
	}
	data := rec.Data
	if s.cipher != nil {
		data, err = s.cipher.Open(data, recordAAD(rec))
		if err != nil {
			return Event{}, fmt.Errorf("%w: record %s: %w", ErrDecryption, rec.ID, err)
		}
	}
	if err := s.codec.Unmarshal(data, payload); err != nil {
		return Event{}, fmt.Errorf("%w: record %s (%s): %w", ErrDeserialization, rec.ID, rec.Type, err)
	}
	return Event{
		AggregateID: rec.AggregateID,
		Version:     rec.Version,
		Type:        rec.Type,
		Topic:       rec.Topic,
		OccurredAt:  rec.OccurredAt,
		Payload:     payload,
	}, nil
}

// seal and open are used for snapshot payloads.
func (s *Serializer) seal(data, aad []byte) ([]byte, error) {
	if s.cipher == nil {
		return data, nil
	}
	return s.cipher.Seal(data, aad)
}

func (s *Serializer) open(data, aad []byte) ([]byte, error) {
	if s.cipher == nil {
		return data, nil
	}
	out, err := s.cipher.Open(data, aad)
	if err != nil {
		if errors.Is(err, cipher.ErrOpen) {
			return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
		}
		return nil, err
	}
	return out, nil
}

func recordAAD(r Record) []byte {
	return identityAAD("event", r.Topic, r.AggregateID, r.Version, r.Type)
}

func identityAAD(kind, topic, id string, v Version, detail string) []byte {
	b := make([]byte, 0, len(kind)+len(topic)+len(id)+len(detail)+24)
	b = append(b, kind...)
	b = append(b, 0)
	b = append(b, topic...)
	b = append(b, 0)
	b = append(b, id...)
	b = append(b, 0)
	b = strconv.AppendUint(b, uint64(v), 10)
	b = append(b, 0)
	b = append(b, detail...)
	return b
}

// === options ===

type (
	CodecOption  valueOption[codec.Codec]
	CipherOption valueOption[cipher.Cipher]
)

// WithCodec selects the payload encoding. JSON is the default.
func WithCodec(c codec.Codec) CodecOption { return CodecOption{v: c} }

// WithCipher enables sealing of payloads and snapshots. The key lives in
// the cipher and is never written to a record.
func WithCipher(c cipher.Cipher) CipherOption { return CipherOption{v: c} }

// WithIDGenerator sets the generator for record IDs.
func WithIDGenerator(gen IDGenerator) IDGeneratorOption { return IDGeneratorOption{v: gen} }

type IDGeneratorOption valueOption[IDGenerator]

func (o CodecOption) applyToSerializer(s *serializerOpts)       { s.codec = o.v }
func (o CipherOption) applyToSerializer(s *serializerOpts)      { s.cipher = o.v }
func (o IDGeneratorOption) applyToSerializer(s *serializerOpts) { s.idGenerator = o.v }
