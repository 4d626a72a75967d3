package fsm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/buildtall-systems/ticketbot/internal/provider"
)

var errTransport = errors.New("connection reset")

// callLimit stops runaway scripts instead of hanging the test binary.
const callLimit = 500

type challengeReply struct {
	resp      provider.Response
	challenge provider.Challenge
}

// fakeProvider replays scripted replies. Each queue yields its entries in
// order and then keeps repeating the last one.
type fakeProvider struct {
	mu sync.Mutex

	saleStart     time.Time
	saleStartErrs []error
	tokens        []provider.Response
	tokenErrs     []error
	challenges    []challengeReply
	proofs        []provider.Response
	phones        []provider.Response
	inventory     []bool
	inventoryResp []provider.Response
	orders        []provider.Response
	orderErrs     []error
	statusReady   []bool
	finalized     []bool
	warm          provider.Response

	calls     map[string]int
	last      string
	proofSeen []provider.Proof
	cancel    context.CancelFunc
}

func newFakeProvider(saleStart time.Time) *fakeProvider {
	return &fakeProvider{
		saleStart: saleStart,
		warm:      okResp(),
		calls:     map[string]int{},
	}
}

func okResp() provider.Response {
	return provider.NewResponse(provider.OpCreateOrder, provider.RawOK, "")
}

func respOf(op provider.Operation, raw int) provider.Response {
	return provider.NewResponse(op, raw, "scripted")
}

func next[T any](q *[]T) T {
	var zero T
	if len(*q) == 0 {
		return zero
	}
	v := (*q)[0]
	if len(*q) > 1 {
		*q = (*q)[1:]
	}
	return v
}

func (p *fakeProvider) record(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[name]++
	p.last = name
	total := 0
	for _, n := range p.calls {
		total += n
	}
	if total > callLimit && p.cancel != nil {
		p.cancel()
	}
}

func (p *fakeProvider) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *fakeProvider) lastCall() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *fakeProvider) SaleStart(ctx context.Context) (time.Time, error) {
	p.record("SaleStart")
	if len(p.saleStartErrs) > 0 {
		err := p.saleStartErrs[0]
		p.saleStartErrs = p.saleStartErrs[1:]
		return time.Time{}, err
	}
	return p.saleStart, nil
}

func (p *fakeProvider) WarmInventoryCache(ctx context.Context) (provider.Response, bool, error) {
	p.record("WarmInventoryCache")
	return p.warm, true, nil
}

func (p *fakeProvider) PollInventory(ctx context.Context) (provider.Response, bool, error) {
	p.record("PollInventory")
	resp := okResp()
	if len(p.inventoryResp) > 0 {
		resp = next(&p.inventoryResp)
	}
	return resp, next(&p.inventory), nil
}

func (p *fakeProvider) AcquireToken(ctx context.Context) (provider.Response, error) {
	p.record("AcquireToken")
	if len(p.tokenErrs) > 0 {
		err := p.tokenErrs[0]
		p.tokenErrs = p.tokenErrs[1:]
		if err != nil {
			return provider.Response{}, err
		}
	}
	return next(&p.tokens), nil
}

func (p *fakeProvider) PendingChallenge(ctx context.Context) (provider.Response, provider.Challenge, error) {
	p.record("PendingChallenge")
	r := next(&p.challenges)
	return r.resp, r.challenge, nil
}

func (p *fakeProvider) SubmitChallengeProof(ctx context.Context, proof provider.Proof) (provider.Response, error) {
	p.record("SubmitChallengeProof")
	p.proofSeen = append(p.proofSeen, proof)
	return next(&p.proofs), nil
}

func (p *fakeProvider) ConfirmChallengeByPhone(ctx context.Context) (provider.Response, error) {
	p.record("ConfirmChallengeByPhone")
	return next(&p.phones), nil
}

func (p *fakeProvider) SubmitOrder(ctx context.Context) (provider.Response, error) {
	p.record("SubmitOrder")
	if len(p.orderErrs) > 0 {
		err := p.orderErrs[0]
		p.orderErrs = p.orderErrs[1:]
		if err != nil {
			return provider.Response{}, err
		}
	}
	return next(&p.orders), nil
}

func (p *fakeProvider) SubmitOrderStatusQuery(ctx context.Context) (bool, error) {
	p.record("SubmitOrderStatusQuery")
	return next(&p.statusReady), nil
}

func (p *fakeProvider) PollOrderFinalized(ctx context.Context) (bool, error) {
	p.record("PollOrderFinalized")
	return next(&p.finalized), nil
}

type fakeSolver struct {
	calls    int
	payloads []provider.ChallengePayload
	err      error
}

func (s *fakeSolver) Solve(ctx context.Context, payload provider.ChallengePayload) (provider.Proof, error) {
	s.calls++
	s.payloads = append(s.payloads, payload)
	if s.err != nil {
		return provider.Proof{}, s.err
	}
	return provider.Proof{Challenge: payload.Challenge, Validate: "v-" + payload.Challenge, Seccode: "v-" + payload.Challenge + "|jordan"}, nil
}
