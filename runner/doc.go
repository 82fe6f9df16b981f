// Package runner turns the event stream of a remote test engine into live run
// results.
//
// A Controller owns one run. It checks the engine version, starts the run on a producer
// goroutine and drains the engine's event source on a second goroutine. The first
// event of a run (pre-run) is flattened into result records by BuildRecords; every
// post-test event is merged into its record by a ResultStore and counted by a
// Tracker; the post-run event carries the authoritative summary and ends the run.
//
// Observers never touch live state. They read deep-copied Snapshots, either on
// demand or through a Subscription whose mailbox only ever holds the newest one.
package runner
