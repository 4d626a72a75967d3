package fsm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/buildtall-systems/ticketbot/internal/clock"
	"github.com/buildtall-systems/ticketbot/internal/provider"
)

func (c *Controller) awaitSaleWindow(ctx context.Context) (Outcome, error) {
	start, err := c.fetchSaleStart(ctx)
	if err != nil {
		return nil, err
	}
	c.saleStart = start
	c.logger.Info("sale start time", zap.Time("sale_start", start))

	if _, err := c.countdown.WaitUntil(ctx, start); err != nil {
		return nil, err
	}
	return NoOutcome{}, nil
}

func (c *Controller) fetchSaleStart(ctx context.Context) (time.Time, error) {
	for {
		start, err := c.provider.SaleStart(ctx)
		if err == nil {
			return start, nil
		}
		if ctx.Err() != nil {
			return time.Time{}, ctx.Err()
		}
		var status *provider.StatusError
		if errors.As(err, &status) {
			if abort := c.abortIfFatal(StateAwaitingSaleWindow, status.Response); abort != nil {
				return time.Time{}, abort
			}
		}
		c.logger.Warn("reading sale start failed, retrying", zap.Error(err), zap.Duration("backoff", c.cfg.HoldBackoff))
		if err := c.clock.Sleep(ctx, c.cfg.HoldBackoff); err != nil {
			return time.Time{}, err
		}
	}
}

func (c *Controller) acquireToken(ctx context.Context) (Outcome, error) {
	resp, err := c.provider.AcquireToken(ctx)
	if err != nil {
		if resp, err = c.transportFailure(ctx, "acquire token", err); err != nil {
			return nil, err
		}
	}
	if abort := c.abortIfFatal(StateAcquiringToken, resp); abort != nil {
		return nil, abort
	}

	switch resp.Code {
	case provider.CodeSuccess:
		c.logger.Info("purchase token acquired")
	case provider.CodeNeedsVerification:
		c.logger.Warn("verification required before a token is issued")
	default:
		c.logger.Error("acquiring token failed, retrying", responseFields(resp)...)
	}

	if !c.tokenCacheWarmed {
		c.tokenCacheWarmed = true
		if err := c.warmInventoryCache(ctx); err != nil {
			return nil, err
		}
	}
	return CodeOutcome{resp}, nil
}

func (c *Controller) warmInventoryCache(ctx context.Context) error {
	resp, _, err := c.provider.WarmInventoryCache(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("warming inventory cache failed", zap.Error(err))
		return nil
	}
	if abort := c.abortIfFatal(StateAcquiringToken, resp); abort != nil {
		return abort
	}
	c.logger.Debug("inventory cache warmed", responseFields(resp)...)
	return nil
}

func (c *Controller) resolveChallenge(ctx context.Context) (Outcome, error) {
	resp, challenge, err := c.provider.PendingChallenge(ctx)
	if err != nil {
		if resp, err = c.transportFailure(ctx, "fetch challenge", err); err != nil {
			return nil, err
		}
		return CodeOutcome{resp}, nil
	}
	if abort := c.abortIfFatal(StateResolvingChallenge, resp); abort != nil {
		return nil, abort
	}
	if !resp.OK() {
		c.logger.Error("fetching challenge failed", responseFields(resp)...)
		return CodeOutcome{resp}, nil
	}

	if !challenge.Supported() {
		c.logger.Error("unsupported challenge type", zap.String("kind", string(challenge.Kind)))
		return CodeOutcome{provider.Response{Code: provider.CodeUnclassified, Reason: "unsupported challenge type"}}, nil
	}

	var result provider.Response
	switch challenge.Kind {
	case provider.ChallengeNone:
		c.logger.Info("verification already completed elsewhere")
		result = resp
	case provider.ChallengeGeetest:
		c.logger.Info("solving image challenge")
		proof, err := c.solver.Solve(ctx, challenge.Payload)
		if err != nil {
			if result, err = c.transportFailure(ctx, "solve challenge", err); err != nil {
				return nil, err
			}
			break
		}
		if result, err = c.provider.SubmitChallengeProof(ctx, proof); err != nil {
			if result, err = c.transportFailure(ctx, "submit challenge proof", err); err != nil {
				return nil, err
			}
		}
	case provider.ChallengePhone:
		c.logger.Info("confirming challenge by phone", zap.String("phone", challenge.Payload.Phone))
		if result, err = c.provider.ConfirmChallengeByPhone(ctx); err != nil {
			if result, err = c.transportFailure(ctx, "confirm by phone", err); err != nil {
				return nil, err
			}
		}
	}

	if abort := c.abortIfFatal(StateResolvingChallenge, result); abort != nil {
		return nil, abort
	}
	if result.OK() {
		c.logger.Info("verification passed")
	} else {
		c.logger.Error("verification failed, retrying", responseFields(result)...)
	}
	return CodeOutcome{result}, nil
}

func (c *Controller) awaitInventory(ctx context.Context) (Outcome, error) {
	resp, purchasable, err := c.provider.PollInventory(ctx)
	if err != nil {
		if _, err = c.transportFailure(ctx, "poll inventory", err); err != nil {
			return nil, err
		}
		return FlagOutcome(false), nil
	}
	if abort := c.abortIfFatal(StateAwaitingInventory, resp); abort != nil {
		return nil, abort
	}
	if !resp.OK() {
		c.logger.Error("polling inventory failed", responseFields(resp)...)
		return FlagOutcome(false), nil
	}
	if purchasable {
		c.logger.Info("tickets available")
	} else {
		c.logger.Warn("tickets sold out, polling")
	}
	return FlagOutcome(purchasable), nil
}

func (c *Controller) submitOrder(ctx context.Context) (Outcome, error) {
	resp, err := c.provider.SubmitOrder(ctx)
	if err != nil {
		if resp, err = c.transportFailure(ctx, "submit order", err); err != nil {
			return nil, err
		}
	}
	if abort := c.abortIfFatal(StateSubmittingOrder, resp); abort != nil {
		return nil, abort
	}

	switch resp.Code {
	case provider.CodeSuccess:
		c.logger.Info("order created")
	case provider.CodeTokenExpired:
		c.logger.Warn("purchase token expired, reacquiring", responseFields(resp)...)
	case provider.CodeInventoryExhausted:
		if c.inGraceWindow() {
			c.logger.Info("inventory short while sale opens, retrying", responseFields(resp)...)
		} else {
			c.logger.Warn("inventory exhausted", responseFields(resp)...)
		}
	case provider.CodeTransientHold:
		c.logger.Error("order held by provider, backing off", zap.Duration("backoff", c.cfg.HoldBackoff))
		if err := c.clock.Sleep(ctx, c.cfg.HoldBackoff); err != nil {
			return nil, err
		}
	default:
		if resp.Raw == provider.RawUnpaidOrder || resp.Raw == provider.RawUnpaidOrderAlt {
			c.logger.Warn("an unpaid order already exists for this account", responseFields(resp)...)
		} else {
			c.logger.Error("order submission failed, retrying", responseFields(resp)...)
		}
	}
	return CodeOutcome{resp}, nil
}

func (c *Controller) confirmOrder(ctx context.Context) (Outcome, error) {
	ready, err := c.provider.SubmitOrderStatusQuery(ctx)
	if err != nil {
		if _, err = c.transportFailure(ctx, "query order status", err); err != nil {
			return nil, err
		}
		return FlagOutcome(false), nil
	}
	if !ready {
		c.logger.Warn("order status not ready, resubmitting")
		return FlagOutcome(false), nil
	}

	finalized, err := c.provider.PollOrderFinalized(ctx)
	if err != nil {
		if _, err = c.transportFailure(ctx, "poll order", err); err != nil {
			return nil, err
		}
		return FlagOutcome(false), nil
	}
	if finalized {
		c.logger.Info("order finalized")
	} else {
		c.logger.Warn("order not finalized, resubmitting")
	}
	return FlagOutcome(finalized), nil
}

// inGraceWindow reports whether the sale opened less than GraceWindow ago.
func (c *Controller) inGraceWindow() bool {
	if c.saleStart.IsZero() {
		return false
	}
	return !clock.HasElapsed(c.clock.Now(), c.saleStart, c.cfg.GraceWindow)
}

func (c *Controller) abortIfFatal(state State, resp provider.Response) error {
	if resp.Code != provider.CodeFatal {
		return nil
	}
	c.logger.Error("unrecoverable provider response, stopping", append(responseFields(resp), zap.Stringer("state", state))...)
	return &AbortError{State: state, Raw: resp.Raw, Reason: resp.Reason, Message: resp.Message}
}

// transportFailure turns a failed call into an unclassified response so
// the workflow retries it. Cancellation is passed through instead.
func (c *Controller) transportFailure(ctx context.Context, call string, err error) (provider.Response, error) {
	if ctx.Err() != nil {
		return provider.Response{}, ctx.Err()
	}
	c.logger.Error("provider call failed", zap.String("call", call), zap.Error(err))
	return provider.Response{Code: provider.CodeUnclassified, Message: err.Error()}, nil
}

func responseFields(resp provider.Response) []zap.Field {
	fields := []zap.Field{
		zap.Stringer("code", resp.Code),
		zap.Int("raw_code", resp.Raw),
	}
	if resp.Message != "" {
		fields = append(fields, zap.String("message", resp.Message))
	}
	if resp.Reason != "" {
		fields = append(fields, zap.String("reason", resp.Reason))
	}
	return fields
}
