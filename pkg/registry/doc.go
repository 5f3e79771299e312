// Package registry maintains the set of upstream payment proxy servers and
// decides which one should handle the next checkout.
//
// The Registry tracks a monetary capacity ceiling per server, keeps a single
// sticky "selected" pointer, and fails over to an alternative server when the
// current one exhausts its capacity. Selection is sticky-but-capped: while
// the selected server is under its limit it is returned unchanged, which
// avoids flapping; once exhausted, the best alternative is chosen by
// (priority, least-recently-used, id) and the pointer moves.
//
// # Consistency model
//
// Callers are request-scoped and share only the store. Usage accounting is
// deliberately relaxed: AddServerUsage reads the record, applies an atomic
// per-record add, and then runs its threshold check against the value it
// read. Two concurrent payments can both pass the check, so usage may
// transiently exceed the capacity limit by the sum of in-flight amounts
// before the server is deactivated. This trades strict enforcement for
// checkout availability and must not be tightened without also moving the
// check into the store's write path.
//
// The single-selected invariant is maintained by every write path clearing
// all selection flags before setting one, so it holds after any
// interleaving even though which writer wins is not deterministic.
package registry
