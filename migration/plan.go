package migration

import (
	"fmt"

	"github.com/hupe1980/stablestate/schema"
)

// Phase is the controller state.
type Phase int

const (
	// Idle means no migration is in progress.
	Idle Phase = iota
	// Migrating means batches are being copied.
	Migrating
	// Completed means the last migration finished and its target is authoritative.
	Completed
	// RolledBack means the last migration was cancelled.
	RolledBack
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Migrating:
		return "migrating"
	case Completed:
		return "completed"
	case RolledBack:
		return "rolled-back"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Decision is the outcome of Plan.
type Decision int

const (
	// Noop leaves everything as it is.
	Noop Decision = iota
	// Start begins a migration to the requested layout.
	Start
	// Continue keeps the migration in progress.
	Continue
	// Cancel abandons the migration in progress.
	Cancel
	// Redirect abandons the migration in progress and starts one to the
	// requested layout.
	Redirect
)

func (d Decision) String() string {
	switch d {
	case Noop:
		return "noop"
	case Start:
		return "start"
	case Continue:
		return "continue"
	case Cancel:
		return "cancel"
	case Redirect:
		return "redirect"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Plan decides what a request does. current is the authoritative layout,
// target the layout being migrated to (nil when idle) and requested the
// layout asked for by the event (nil when it asks for nothing).
func Plan(current schema.Label, target, requested *schema.Label) Decision {
	if requested == nil {
		if target != nil {
			return Continue
		}
		return Noop
	}
	if target == nil {
		if *requested == current {
			return Noop
		}
		return Start
	}
	switch *requested {
	case *target:
		return Continue
	case current:
		return Cancel
	default:
		return Redirect
	}
}
