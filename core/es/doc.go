// Package es is an event-sourcing kernel: aggregates whose state is derived
// only by replaying their own ordered event history.
//
// # Aggregates
//
// An aggregate embeds [BaseAggregate] and declares its topic and a table of
// mutation rules, one per event type:
//
//	type Account struct {
//	    es.BaseAggregate
//	    owner   string
//	    balance int64
//	}
//
//	var accountMutations = es.NewMutations(
//	    es.On(func(a *Account, e *Opened) error { a.owner = e.Owner; return nil }),
//	    es.On(func(a *Account, e *Deposited) error { a.balance += e.Amount; return nil }),
//	)
//
//	func (a *Account) GetAggType() string          { return "account" }
//	func (a *Account) Mutations() *es.Mutations    { return accountMutations }
//	func (a *Account) Deposit(amount int64) error  { return es.Trigger(a, &Deposited{Amount: amount}) }
//
// [Create] assigns an identifier and triggers the creation event at version
// 1. [Trigger] validates, stamps the next version, applies and buffers new
// events as pending.
//
// # Storage
//
// An [EventStore] keeps [Record]s, the serialized form of events produced by
// a [Serializer]. Uniqueness of (aggregate ID, version) is the only
// concurrency control: an append that collides fails as a whole with a
// [*ConflictError]. [NewInMemoryStore] is the reference store; SQL and NATS
// JetStream stores live under adapters/.
//
// # Repository
//
// A [Repository] reconstructs aggregates by replay, optionally starting from
// a [Snapshot], and saves pending events:
//
//	repo := es.NewTypedRepository[*Account](store, es.NewSerializer(registry))
//	acc, err := repo.GetByID(ctx, id)
//	_ = acc.Deposit(10)
//	events, err := repo.Save(ctx, acc)
//
// [WithAtVersion] reads an aggregate as of a past version. Conflicts are
// never retried; reload and decide again.
//
// # Encryption
//
// With [WithCipher], payloads and snapshots are sealed with an AEAD cipher.
// The record identity is authenticated as additional data; any tampering is
// reported as [ErrDecryption] on read.
//
// # Consumers
//
// Stores implementing [NotificationLog] can feed a [Consumer], which
// delivers records in store order to a [Handler] and keeps a checkpoint.
package es
