// Package storage provides persistence backends for proxy server records.
//
// Two implementations are provided:
//
//   - Memory: an in-memory backend for tests and ephemeral deployments.
//   - SQLite: a durable single-instance backend using WAL journaling.
//
// Both implement the Store interface. The Store is intentionally a thin
// row-level CRUD abstraction: selection and capacity decisions live in the
// registry package, the store only guarantees atomic per-record updates and
// the orderings the registry asks for.
package storage
