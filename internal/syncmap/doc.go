// Package syncmap implements the reactive synchronized store engine.
//
// The engine keeps in-memory entity stores consistent with a remote,
// possibly offline, event-sourced backend reached through a Client.
//
// ARCHITECTURE:
//
//   - Registry: process-wide cache of one Store per (template, id). Creates
//     stores on demand, reference counts them through Handles, and tears them
//     down after a grace delay once the last Handle is released.
//   - Store: one entity. Tracks loading/loaded/error status, per-field
//     confirmed values and pending local changes, and notifies observers.
//   - Reconciler: stamps local mutations with the Lamport clock, applies them
//     optimistically, sends them through the Client and confirms or rolls
//     them back when the server answers.
//   - FilterStore: live ordered view over the stores of one template that
//     match a Predicate, maintained incrementally.
//   - Channels: reference-counted server-side subscriptions keyed by
//     (channel, filter), with errors routed to every owner.
//
// CONCURRENCY:
//
// Everything in this package runs on a single loop.Loop. Methods are not
// safe for concurrent use and must be called from a task on that loop.
// Client callbacks arrive as loop tasks, so a store is never observed in a
// torn state. Cache reads run off-loop through loop.Async and post their
// results back.
//
// ORDERING:
//
// Every field keeps a confirmed value and a list of pending local changes,
// each stamped with a Lamport seq. The visible value is the one with the
// greatest seq among them, so confirmation, rejection and remote changes can
// arrive in any order and still converge: a confirmation or rejection of an
// older change never overwrites a newer pending one.
package syncmap
