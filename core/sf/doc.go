// Package sf deduplicates concurrent calls that share a key.
//
// While a call for a key is in flight, later callers for the same key wait
// for it and receive its result instead of running their own.
//
//	var loads sf.Group[*Snapshot]
//	ss, _, err := loads.Do(aggID, func() (*Snapshot, error) {
//	    return store.LoadSnapshot(ctx, aggID)
//	})
package sf
