// Package reveal implements the identity-disclosure lifecycle of a thread.
//
// States only ever move forward:
//
//	hidden --request--> request_pending --approve--> approved
//	hidden --------------approve----------------> approved
//
// Repeating a transition that already happened is an idempotent no-op, never
// an error. Approved is terminal.
package reveal

import (
	"errors"

	"github.com/sandy-echo/echo-backend/internal/models"
)

// ErrNotOwner is returned by Approve when the configured guard rejects the
// acting identity.
var ErrNotOwner = errors.New("only the thread owner may approve a reveal")

// Guard decides whether actorID may approve reveal for the given thread.
// Authorization itself lives outside the state machine; the guard is the
// precondition hook the caller wires in.
type Guard func(thread *models.Thread, actorID string) bool

// OwnerGuard allows the approval when the actor id matches the thread owner,
// or when no actor id was supplied (the transport does not authenticate
// callers; an unattributed approve is accepted as the owner acting from the
// dashboard link).
func OwnerGuard(thread *models.Thread, actorID string) bool {
	return actorID == "" || actorID == thread.OwnerID
}

// Machine evaluates transitions against a thread's current state. It never
// mutates the thread; callers apply the returned state through the store,
// which re-validates monotonicity at write time.
type Machine struct {
	approveGuard Guard
}

func NewMachine(guard Guard) *Machine {
	if guard == nil {
		guard = OwnerGuard
	}
	return &Machine{approveGuard: guard}
}

// Initial returns the reveal state a new thread starts in: approved when the
// privacy mode auto-reveals, hidden otherwise.
func Initial(mode models.PrivacyMode) models.RevealState {
	if mode == models.PrivacyAutoReveal {
		return models.RevealApproved
	}
	return models.RevealHidden
}

// Request evaluates a receiver's reveal request. changed reports whether the
// state actually advances; a repeat request or a request against an approved
// thread re-confirms the current state without a transition.
func (m *Machine) Request(thread *models.Thread) (next models.RevealState, changed bool) {
	if thread.RevealState == models.RevealHidden {
		return models.RevealRequestPending, true
	}
	return thread.RevealState, false
}

// Approve evaluates an owner's approval. Valid from hidden or
// request_pending; approving an approved thread is a no-op.
func (m *Machine) Approve(thread *models.Thread, actorID string) (next models.RevealState, changed bool, err error) {
	if !m.approveGuard(thread, actorID) {
		return thread.RevealState, false, ErrNotOwner
	}
	if thread.RevealState == models.RevealApproved {
		return models.RevealApproved, false, nil
	}
	return models.RevealApproved, true, nil
}
