package fsm

// State is a phase of the purchase workflow.
type State string

const (
	StateStart              State = "start"
	StateAwaitingSaleWindow State = "awaiting_sale_window"
	StateAcquiringToken     State = "acquiring_token"
	StateResolvingChallenge State = "resolving_challenge"
	StateAwaitingInventory  State = "awaiting_inventory"
	StateSubmittingOrder    State = "submitting_order"
	StateConfirmingOrder    State = "confirming_order"
	StateDone               State = "done"
)

func (s State) String() string { return string(s) }

// IsTerminal reports whether no trigger leaves s.
func (s State) IsTerminal() bool { return s == StateDone }

// Trigger fires the action of exactly one state.
type Trigger string

const (
	TriggerNext          Trigger = "next"
	TriggerWaitAvailable Trigger = "wait_available"
	TriggerQueryToken    Trigger = "query_token"
	TriggerRiskProcess   Trigger = "risk_process"
	TriggerQueryTicket   Trigger = "query_ticket"
	TriggerCreateOrder   Trigger = "create_order"
	TriggerCreateStatus  Trigger = "create_status"
)

func (t Trigger) String() string { return string(t) }

var triggers = map[State]Trigger{
	StateStart:              TriggerNext,
	StateAwaitingSaleWindow: TriggerWaitAvailable,
	StateAcquiringToken:     TriggerQueryToken,
	StateResolvingChallenge: TriggerRiskProcess,
	StateAwaitingInventory:  TriggerQueryTicket,
	StateSubmittingOrder:    TriggerCreateOrder,
	StateConfirmingOrder:    TriggerCreateStatus,
}

// TriggerFor returns the trigger that runs the action of s.
func TriggerFor(s State) (Trigger, bool) {
	t, ok := triggers[s]
	return t, ok
}
