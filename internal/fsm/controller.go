// Package fsm drives the purchase workflow: one action per state, a typed
// outcome per action, and an explicit table mapping outcomes to the next
// state.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/buildtall-systems/ticketbot/internal/clock"
	"github.com/buildtall-systems/ticketbot/internal/countdown"
	"github.com/buildtall-systems/ticketbot/internal/provider"
)

// Provider is the ticketing backend as the workflow sees it.
type Provider interface {
	SaleStart(ctx context.Context) (time.Time, error)
	WarmInventoryCache(ctx context.Context) (provider.Response, bool, error)
	PollInventory(ctx context.Context) (provider.Response, bool, error)
	AcquireToken(ctx context.Context) (provider.Response, error)
	PendingChallenge(ctx context.Context) (provider.Response, provider.Challenge, error)
	SubmitChallengeProof(ctx context.Context, proof provider.Proof) (provider.Response, error)
	ConfirmChallengeByPhone(ctx context.Context) (provider.Response, error)
	SubmitOrder(ctx context.Context) (provider.Response, error)
	SubmitOrderStatusQuery(ctx context.Context) (bool, error)
	PollOrderFinalized(ctx context.Context) (bool, error)
}

// Solver answers image challenges.
type Solver interface {
	Solve(ctx context.Context, payload provider.ChallengePayload) (provider.Proof, error)
}

type RunConfig struct {
	// GraceWindow after the sale opens during which inventory shortages
	// are expected and logged quietly.
	GraceWindow time.Duration
	// HoldBackoff is slept after the provider puts an order on hold, and
	// between failed attempts to read the sale start time.
	HoldBackoff time.Duration
}

func DefaultRunConfig() RunConfig {
	return RunConfig{
		GraceWindow: 5 * time.Minute,
		HoldBackoff: 4880 * time.Millisecond,
	}
}

// Step describes one fired trigger.
type Step struct {
	Seq     int
	Trigger Trigger
	From    State
	To      State
	Rule    string
	Outcome Outcome
	At      time.Time
}

// Observer is told about every step after the state has changed.
type Observer interface {
	Observe(ctx context.Context, step Step)
}

type ObserverFunc func(ctx context.Context, step Step)

func (f ObserverFunc) Observe(ctx context.Context, step Step) { f(ctx, step) }

// Controller owns the workflow state and the session data that lives
// outside the provider client.
type Controller struct {
	cfg       RunConfig
	provider  Provider
	solver    Solver
	clock     clock.Clock
	countdown *countdown.Scheduler
	logger    *zap.Logger
	rules     []Rule
	machine   *fsm.FSM
	observers []Observer

	countdownOpts []countdown.Option

	saleStart        time.Time
	tokenCacheWarmed bool
	seq              int
}

type Option func(*Controller)

func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(ctl *Controller) { ctl.logger = l }
}

func WithObserver(o Observer) Option {
	return func(ctl *Controller) { ctl.observers = append(ctl.observers, o) }
}

func WithCountdownOptions(opts ...countdown.Option) Option {
	return func(ctl *Controller) { ctl.countdownOpts = append(ctl.countdownOpts, opts...) }
}

func NewController(cfg RunConfig, p Provider, s Solver, opts ...Option) *Controller {
	c := &Controller{
		cfg:      cfg,
		provider: p,
		solver:   s,
		clock:    clock.System{},
		logger:   zap.NewNop(),
		rules:    Rules(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("fsm")
	c.countdown = countdown.New(c.clock, c.logger, c.countdownOpts...)

	c.machine = fsm.NewFSM(
		string(StateStart),
		events(c.rules),
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.logger.Debug("entered state", zap.String("from", e.Src), zap.String("to", e.Dst))
			},
		},
	)
	return c
}

func (c *Controller) State() State {
	return State(c.machine.Current())
}

// SaleStart is the sale opening time read during AwaitingSaleWindow, or
// the zero time before that.
func (c *Controller) SaleStart() time.Time { return c.saleStart }

// Fire runs the action of the current state and moves to the state the
// transition table picks for its outcome. trigger must be the one
// belonging to the current state.
func (c *Controller) Fire(ctx context.Context, trigger Trigger) error {
	from := c.State()
	if from.IsTerminal() {
		return ErrTerminal
	}
	if want, ok := TriggerFor(from); !ok || want != trigger {
		return fmt.Errorf("%w: %s in %s", ErrWrongTrigger, trigger, from)
	}

	outcome, err := c.act(ctx, from)
	if err != nil {
		return err
	}

	rule, err := Resolve(c.rules, from, outcome)
	if err != nil {
		return err
	}

	if err := c.machine.Event(ctx, rule.event()); err != nil {
		var same fsm.NoTransitionError
		if !errors.As(err, &same) {
			return fmt.Errorf("firing %s: %w", trigger, err)
		}
	}

	c.seq++
	step := Step{
		Seq:     c.seq,
		Trigger: trigger,
		From:    from,
		To:      rule.To,
		Rule:    rule.Label,
		Outcome: outcome,
		At:      c.clock.Now(),
	}
	for _, o := range c.observers {
		o.Observe(ctx, step)
	}
	return nil
}

// Run fires triggers until the workflow reaches Done, an action aborts,
// or ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("purchase workflow started", zap.Stringer("state", c.State()))
	for {
		state := c.State()
		if state.IsTerminal() {
			c.logger.Info("purchase workflow finished", zap.Int("steps", c.seq))
			return nil
		}
		trigger, ok := TriggerFor(state)
		if !ok {
			return fmt.Errorf("%w: no trigger for %s", ErrNoTransition, state)
		}
		if err := c.Fire(ctx, trigger); err != nil {
			return err
		}
	}
}

func (c *Controller) act(ctx context.Context, state State) (Outcome, error) {
	switch state {
	case StateStart:
		return NoOutcome{}, nil
	case StateAwaitingSaleWindow:
		return c.awaitSaleWindow(ctx)
	case StateAcquiringToken:
		return c.acquireToken(ctx)
	case StateResolvingChallenge:
		return c.resolveChallenge(ctx)
	case StateAwaitingInventory:
		return c.awaitInventory(ctx)
	case StateSubmittingOrder:
		return c.submitOrder(ctx)
	case StateConfirmingOrder:
		return c.confirmOrder(ctx)
	default:
		return nil, fmt.Errorf("%w: no action for %s", ErrNoTransition, state)
	}
}
