// Package harness runs syncmap scenarios against the in-process test server.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	specs:
//	  - templates.cue
//	user: "10"
//	seed:
//	  - template: posts
//	    id: "1"
//	    fields: { projectId: 1, title: "A" }
//	    seq: 1
//	steps:
//	  - op: filter
//	    name: mine
//	    template: posts
//	    where: { projectId: 1 }
//	  - op: change
//	    template: posts
//	    id: "1"
//	    fields: { title: "B" }
//	  - op: expect_filter
//	    name: mine
//	    expect: { ids: ["1"], loading: false }
//
// Specs are CUE template files, relative to the scenario file. Seed
// entities are written to the server before the first step.
//
// # Operations
//
//	create, change, delete   local actions through the registry
//	push                     a change by another client (verb, seq)
//	open, release            acquire or drop a named store handle
//	filter, set_filter       create a named filter or replace its predicate
//	close_filter             close a named filter
//	undo_next                reject the next synced action with reason
//	freeze, resume           hold and release server processing
//	disconnect, connect      drop and restore the connection
//	expect_store             check a store's status, error and fields
//	expect_filter            check a filter's ids, loading flag and errors
//
// # Determinism
//
// Every step is followed by loop.Drain. Action IDs come from a fixed
// generator ("a1", "a2", ...), cache reads run inline, and the clock
// starts at zero, so the same scenario always produces the same trace.
// Golden traces are compared with goldie; regenerate them with
//
//	go test ./internal/harness -update
package harness
