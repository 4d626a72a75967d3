package fsm

import (
	"fmt"

	"github.com/looplab/fsm"

	"github.com/buildtall-systems/ticketbot/internal/provider"
)

// Rule is one row of the transition table. Rules for the same state are
// tried in order; the first whose guard matches wins.
type Rule struct {
	Trigger Trigger
	From    State
	To      State
	Label   string
	When    Guard
}

func (r Rule) event() string {
	return fmt.Sprintf("%s:%s", r.Trigger, r.To)
}

// Rules returns the purchase workflow's transition table.
func Rules() []Rule {
	return []Rule{
		{TriggerNext, StateStart, StateAwaitingSaleWindow, "always", Always},

		{TriggerWaitAvailable, StateAwaitingSaleWindow, StateAcquiringToken, "always", Always},

		{TriggerQueryToken, StateAcquiringToken, StateSubmittingOrder, "success", CodeIs(provider.CodeSuccess)},
		{TriggerQueryToken, StateAcquiringToken, StateResolvingChallenge, "needs verification", CodeIs(provider.CodeNeedsVerification)},
		{TriggerQueryToken, StateAcquiringToken, StateAcquiringToken, "retry", Always},

		{TriggerRiskProcess, StateResolvingChallenge, StateAcquiringToken, "success", CodeIs(provider.CodeSuccess)},
		{TriggerRiskProcess, StateResolvingChallenge, StateResolvingChallenge, "retry", Always},

		{TriggerQueryTicket, StateAwaitingInventory, StateSubmittingOrder, "purchasable", FlagIs(true)},
		{TriggerQueryTicket, StateAwaitingInventory, StateAwaitingInventory, "sold out", FlagIs(false)},

		{TriggerCreateOrder, StateSubmittingOrder, StateConfirmingOrder, "success", CodeIs(provider.CodeSuccess)},
		{TriggerCreateOrder, StateSubmittingOrder, StateAcquiringToken, "token expired", CodeIs(provider.CodeTokenExpired)},
		{TriggerCreateOrder, StateSubmittingOrder, StateAwaitingInventory, "inventory exhausted", CodeIs(provider.CodeInventoryExhausted)},
		{TriggerCreateOrder, StateSubmittingOrder, StateSubmittingOrder, "hold", CodeIs(provider.CodeTransientHold)},
		{TriggerCreateOrder, StateSubmittingOrder, StateSubmittingOrder, "retry", Always},

		{TriggerCreateStatus, StateConfirmingOrder, StateDone, "finalized", FlagIs(true)},
		{TriggerCreateStatus, StateConfirmingOrder, StateSubmittingOrder, "not finalized", FlagIs(false)},
	}
}

// Resolve returns the first rule leaving from that matches outcome.
func Resolve(rules []Rule, from State, outcome Outcome) (Rule, error) {
	for _, r := range rules {
		if r.From == from && r.When(outcome) {
			return r, nil
		}
	}
	return Rule{}, fmt.Errorf("%w: state %s, outcome %#v", ErrNoTransition, from, outcome)
}

// events turns the table into the edge list the underlying machine
// enforces. Rules sharing a trigger and destination collapse into a single
// event.
func events(rules []Rule) fsm.Events {
	bySource := map[string][]string{}
	var order []string
	for _, r := range rules {
		name := r.event()
		if _, ok := bySource[name]; !ok {
			order = append(order, name)
		}
		src := string(r.From)
		if !contains(bySource[name], src) {
			bySource[name] = append(bySource[name], src)
		}
	}

	dst := map[string]string{}
	for _, r := range rules {
		dst[r.event()] = string(r.To)
	}

	evs := make(fsm.Events, 0, len(order))
	for _, name := range order {
		evs = append(evs, fsm.EventDesc{Name: name, Src: bySource[name], Dst: dst[name]})
	}
	return evs
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
