// Package notify tells the operator how a purchase run ended by sending a
// Nostr direct message.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/keyer"
	"github.com/nbd-wtf/go-nostr/nip19"
	"go.uber.org/zap"
)

// ErrInvalidRecipient indicates the operator key is neither an npub nor hex.
var ErrInvalidRecipient = errors.New("invalid recipient public key")

// Sender is anything that can deliver a text notification.
type Sender interface {
	Notify(ctx context.Context, message string) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// Notifier gift-wraps messages for one recipient and publishes them.
type Notifier struct {
	kr           nostr.Keyer
	senderHex    string
	recipientHex string
	publisher    Publisher
	logger       *zap.Logger
}

// New builds a Notifier signing with secretHex and addressing recipient,
// given as an npub or a hex public key.
func New(ctx context.Context, secretHex, recipient string, publisher Publisher, logger *zap.Logger) (*Notifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	kr, err := keyer.NewPlainKeySigner(secretHex)
	if err != nil {
		return nil, fmt.Errorf("creating keyer: %w", err)
	}
	senderHex, err := kr.GetPublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("deriving public key: %w", err)
	}

	recipientHex, err := ParseRecipient(recipient)
	if err != nil {
		return nil, err
	}

	return &Notifier{
		kr:           kr,
		senderHex:    senderHex,
		recipientHex: recipientHex,
		publisher:    publisher,
		logger:       logger.Named("notify"),
	}, nil
}

// ParseRecipient returns the hex public key for an npub or hex string.
func ParseRecipient(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "npub") {
		prefix, value, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
		}
		hex, ok := value.(string)
		if prefix != "npub" || !ok {
			return "", fmt.Errorf("%w: unexpected %s", ErrInvalidRecipient, prefix)
		}
		return hex, nil
	}
	if !nostr.IsValidPublicKey(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, s)
	}
	return s, nil
}

// Notify wraps message for the recipient and publishes it.
func (n *Notifier) Notify(ctx context.Context, message string) error {
	event, err := WrapMessage(ctx, n.kr, n.senderHex, n.recipientHex, message)
	if err != nil {
		return err
	}
	if err := n.publisher.Publish(ctx, event); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}
	n.logger.Debug("notification sent", zap.String("event_id", event.ID))
	return nil
}
