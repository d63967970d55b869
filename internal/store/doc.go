// Package store provides the SQLite-backed local cache and action journal
// for syncmap.
//
// The store keeps two tables:
//   - Entities: the last confirmed field values per (plural, id), stamped
//     with the highest seq they reflect
//   - Journal: every local action submitted to the server, and its outcome
//
// # Ordering
//
// All ordering uses seq INTEGER (logical clock), never timestamps. List
// queries order by seq ASC, id ASC COLLATE BINARY so identical databases
// produce identical results.
//
// Save never moves an entity backwards: a row stamped with a newer seq
// than the incoming entry is left untouched.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//
// Field maps are stored as RFC 8785 canonical JSON.
package store
