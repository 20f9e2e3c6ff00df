// Package breaker implements the book-wide pause switch.
package breaker

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrPaused       = errors.New("order book is paused")
	ErrInvalidState = errors.New("invalid circuit breaker transition")
	ErrUnauthorized = errors.New("caller is not privileged")
)

type State uint8

const (
	Active State = iota
	Paused
)

func (s State) String() string {
	if s == Paused {
		return "paused"
	}
	return "active"
}

// Op names a mutating operation the breaker may gate.
type Op string

const (
	OpPlace    Op = "place"
	OpCancel   Op = "cancel"
	OpWithdraw Op = "withdraw"
)

// Authorizer decides who may flip the breaker and bypass it.
type Authorizer interface {
	IsPrivileged(caller common.Address) bool
}

// OwnerAuthorizer grants privilege to a fixed set of addresses.
type OwnerAuthorizer struct {
	owners map[common.Address]struct{}
}

func NewOwnerAuthorizer(owners ...common.Address) *OwnerAuthorizer {
	a := &OwnerAuthorizer{owners: make(map[common.Address]struct{}, len(owners))}
	for _, o := range owners {
		a.owners[o] = struct{}{}
	}
	return a
}

func (a *OwnerAuthorizer) IsPrivileged(caller common.Address) bool {
	_, ok := a.owners[caller]
	return ok
}

// Policy lists which operations are refused while paused. Cancel is always refused.
type Policy struct {
	BlockPlace    bool
	BlockWithdraw bool
}

func DefaultPolicy() Policy {
	return Policy{BlockPlace: true}
}

// Breaker is not safe for concurrent use; the exchange serializes access.
type Breaker struct {
	state  State
	auth   Authorizer
	policy Policy
}

func New(auth Authorizer, policy Policy) *Breaker {
	return &Breaker{state: Active, auth: auth, policy: policy}
}

func (b *Breaker) State() State { return b.state }

// SetState overwrites the state when loading persisted data.
func (b *Breaker) SetState(s State) { b.state = s }

func (b *Breaker) IsPrivileged(caller common.Address) bool {
	return b.auth != nil && b.auth.IsPrivileged(caller)
}

// CanPause validates a pause without applying it.
func (b *Breaker) CanPause(caller common.Address) error {
	if !b.IsPrivileged(caller) {
		return fmt.Errorf("pause: %w", ErrUnauthorized)
	}
	if b.state == Paused {
		return fmt.Errorf("pause while paused: %w", ErrInvalidState)
	}
	return nil
}

// CanUnpause validates an unpause without applying it.
func (b *Breaker) CanUnpause(caller common.Address) error {
	if !b.IsPrivileged(caller) {
		return fmt.Errorf("unpause: %w", ErrUnauthorized)
	}
	if b.state == Active {
		return fmt.Errorf("unpause while active: %w", ErrInvalidState)
	}
	return nil
}

func (b *Breaker) Pause(caller common.Address) error {
	if err := b.CanPause(caller); err != nil {
		return err
	}
	b.state = Paused
	return nil
}

func (b *Breaker) Unpause(caller common.Address) error {
	if err := b.CanUnpause(caller); err != nil {
		return err
	}
	b.state = Active
	return nil
}

// Blocks reports whether op is refused while paused under the current policy.
func (b *Breaker) Blocks(op Op) bool {
	switch op {
	case OpCancel:
		return true
	case OpPlace:
		return b.policy.BlockPlace
	case OpWithdraw:
		return b.policy.BlockWithdraw
	default:
		return true
	}
}

// Check returns ErrPaused when the book is paused, op is gated and caller is not privileged.
func (b *Breaker) Check(caller common.Address, op Op) error {
	if b.state != Paused || !b.Blocks(op) || b.IsPrivileged(caller) {
		return nil
	}
	return fmt.Errorf("%s: %w", op, ErrPaused)
}
