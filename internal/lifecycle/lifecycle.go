// Package lifecycle owns the form-instance status state machine. The
// permitted-action table is data supplied by configuration so the server, CLI
// and any client agree on one source of truth instead of deriving booleans
// from the status string at call sites.
package lifecycle

import (
	"fmt"

	"atriumforms/internal/domain"
)

type Action string

const (
	ActionSave     Action = "save"
	ActionSubmit   Action = "submit"
	ActionWithdraw Action = "withdraw"
	ActionReopen   Action = "reopen"
	ActionBehandel Action = "behandel"
	ActionAfhandel Action = "afhandel"
)

// actionOrder fixes a stable listing order for Allowed.
var actionOrder = []Action{ActionSave, ActionSubmit, ActionWithdraw, ActionReopen, ActionBehandel, ActionAfhandel}

// InvalidTransitionError names the refused action and the current status.
type InvalidTransitionError struct {
	Action Action
	Status string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("action %s not permitted from status %s", e.Action, e.Status)
}

// Target returns the status an action transitions to. Save keeps the current
// status; ok is false for it.
func Target(a Action) (string, bool) {
	switch a {
	case ActionSubmit:
		return domain.StatusIngediend, true
	case ActionWithdraw:
		return domain.StatusIngetrokken, true
	case ActionReopen:
		return domain.StatusConcept, true
	case ActionBehandel:
		return domain.StatusInBehandeling, true
	case ActionAfhandel:
		return domain.StatusAfgehandeld, true
	}
	return "", false
}

// Controller guards transitions against a status -> permitted actions table.
type Controller struct {
	table map[string]map[Action]bool
}

// New builds a controller from a raw table (status -> action names), the shape
// config.ActionTable returns.
func New(table map[string][]string) Controller {
	c := Controller{table: make(map[string]map[Action]bool, len(table))}
	for status, actions := range table {
		set := make(map[Action]bool, len(actions))
		for _, a := range actions {
			set[Action(a)] = true
		}
		c.table[status] = set
	}
	return c
}

// Guard returns nil when the action is permitted from the status and an
// InvalidTransitionError otherwise. It never silently no-ops.
func (c Controller) Guard(status string, a Action) error {
	if c.table[status][a] {
		return nil
	}
	return InvalidTransitionError{Action: a, Status: status}
}

// Allowed lists the actions permitted from a status in a stable order.
func (c Controller) Allowed(status string) []Action {
	set := c.table[status]
	out := make([]Action, 0, len(set))
	for _, a := range actionOrder {
		if set[a] {
			out = append(out, a)
		}
	}
	return out
}
