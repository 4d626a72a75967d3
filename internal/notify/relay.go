package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"
)

// ErrNoRelays indicates no relay URLs were configured.
var ErrNoRelays = errors.New("no relays configured")

// Publisher sends a signed event somewhere it can be read.
type Publisher interface {
	Publish(ctx context.Context, event *nostr.Event) error
}

// RelayPublisher connects to each relay for the duration of one publish.
// Notifications are rare, so no connection is held open between them.
type RelayPublisher struct {
	relayURLs []string
	logger    *zap.Logger
}

func NewRelayPublisher(relayURLs []string, logger *zap.Logger) *RelayPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayPublisher{relayURLs: relayURLs, logger: logger}
}

// Publish sends event to every relay and succeeds if at least one accepts it.
func (p *RelayPublisher) Publish(ctx context.Context, event *nostr.Event) error {
	if len(p.relayURLs) == 0 {
		return ErrNoRelays
	}

	var lastErr error
	var published int

	for _, url := range p.relayURLs {
		relay, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			lastErr = err
			p.logger.Warn("relay connect failed", zap.String("relay", url), zap.Error(err))
			continue
		}

		err = relay.Publish(ctx, *event)
		_ = relay.Close()
		if err != nil {
			lastErr = err
			p.logger.Warn("publish failed", zap.String("relay", url), zap.Error(err))
			continue
		}
		published++
	}

	if published == 0 {
		return fmt.Errorf("failed to publish to any relay: %w", lastErr)
	}

	p.logger.Info("published notification", zap.String("event_id", event.ID), zap.Int("relays", published))
	return nil
}
