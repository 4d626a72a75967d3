package fsm

import "github.com/buildtall-systems/ticketbot/internal/provider"

// Outcome is the typed result an action hands to the transition table.
// Its concrete type depends on the state that produced it.
type Outcome interface {
	isOutcome()
}

// NoOutcome is returned by actions whose transition is unconditional.
type NoOutcome struct{}

// CodeOutcome carries a classified provider response.
type CodeOutcome struct {
	provider.Response
}

// FlagOutcome is a yes/no result: ticket purchasable, order finalized.
type FlagOutcome bool

func (NoOutcome) isOutcome()   {}
func (CodeOutcome) isOutcome() {}
func (FlagOutcome) isOutcome() {}

// Guard decides whether a rule applies to an outcome.
type Guard func(Outcome) bool

// Always matches any outcome.
func Always(Outcome) bool { return true }

// CodeIs matches a CodeOutcome with the given code.
func CodeIs(code provider.Code) Guard {
	return func(o Outcome) bool {
		co, ok := o.(CodeOutcome)
		return ok && co.Code == code
	}
}

// FlagIs matches a FlagOutcome with the given value.
func FlagIs(want bool) Guard {
	return func(o Outcome) bool {
		f, ok := o.(FlagOutcome)
		return ok && bool(f) == want
	}
}
