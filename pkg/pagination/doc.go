// Package pagination implements the batched reveal state machine of the feed.
//
// A Paginator owns the full record set, fetched once elsewhere, and a cursor
// into it. The revealed records are always the prefix up to the cursor.
//
// States:
//
//	Idle ──Advance──▶ Loading ──after RevealDelay──▶ Idle | Exhausted
//	Idle ──Fail──▶ Failed
//
// Load seeds the first BatchSize records synchronously and moves straight to
// Exhausted when nothing is left. Advance is a no-op, never an error, while
// Loading, once Exhausted or Failed, and after Dispose; only one reveal can be
// in flight, so batches appear strictly in order.
//
// Example usage:
//
//	p := pagination.New(pagination.DefaultConfig())
//	unsubscribe := p.Subscribe(func(s pagination.Snapshot) { render(s) })
//	defer unsubscribe()
//	_ = p.Load(records)   // first 5 records revealed
//	p.Advance()           // next 5 after 500ms
//
// Dispose cancels a pending reveal; a reveal that already fired is dropped.
package pagination
