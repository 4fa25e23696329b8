// Package migration drives the incremental move of the dataset between
// storage layouts.
//
// A code-replacement event may request a layout. [Plan] compares it with
// the authoritative layout and the migration in progress, and
// [Controller.Request] applies the outcome through the state. After that,
// each [Controller.Tick] copies one bounded batch in ascending key order.
// The source stays authoritative until the last batch, so cancelling by
// requesting the source layout again never loses data.
//
// Phases:
//
//	Idle ──request──▶ Migrating ──last batch──▶ Completed
//	                      │
//	                      └──request source──▶ RolledBack
package migration
