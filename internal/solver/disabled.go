package solver

import (
	"context"

	"github.com/buildtall-systems/ticketbot/internal/provider"
)

// Disabled is used when no solver is configured. Every image challenge
// fails and is retried, which only helps if the provider later falls back
// to another challenge type.
type Disabled struct{}

func (Disabled) Solve(context.Context, provider.ChallengePayload) (provider.Proof, error) {
	return provider.Proof{}, ErrNotConfigured
}
