// Package notify delivers cycle-completion notices to an operator channel.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/services/strategy/dca"
)

const sendTimeout = 10 * time.Second

// Notifier sends a plain-text message.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts messages through a channel webhook.
type Discord struct {
	session   webhookExecutor
	webhookID string
	token     string
}

func NewDiscord(webhookID, token string) (*Discord, error) {
	if webhookID == "" || token == "" {
		return nil, errors.New("discord webhook id and token are required")
	}

	session, err := discordgo.New("")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord session")
	}

	return &Discord{session: session, webhookID: webhookID, token: token}, nil
}

func (d *Discord) Notify(ctx context.Context, message string) error {
	_, err := d.session.WebhookExecute(d.webhookID, d.token, false,
		&discordgo.WebhookParams{Content: message}, discordgo.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "failed to execute discord webhook")
	}
	return nil
}

// New returns a Discord notifier when credentials are set, otherwise Nop.
func New(webhookID, token string) (Notifier, error) {
	if webhookID == "" && token == "" {
		return Nop{}, nil
	}
	return NewDiscord(webhookID, token)
}

// CompletionMessage renders a completed cycle.
func CompletionMessage(c dca.CycleCompletion) string {
	sell := "unknown"
	if c.SellPrice.Valid {
		sell = c.SellPrice.Decimal.String()
	}

	return fmt.Sprintf("%s cycle #%d complete: sold %s at %s (avg %s), pnl %s; next cycle #%d is %s",
		c.Symbol, c.CycleID, c.QuantitySold.String(), sell, c.AveragePurchasePrice.String(),
		c.RealizedPnL.StringFixed(2), c.NextCycleID, c.NextStatus)
}

// CompletionHook adapts n to the reconciler completion callback.
// Delivery runs in the background and failures are only logged.
func CompletionHook(l *zap.Logger, n Notifier) func(ctx context.Context, c dca.CycleCompletion) {
	return func(ctx context.Context, c dca.CycleCompletion) {
		msg := CompletionMessage(c)
		go func() {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
			defer cancel()

			if err := n.Notify(sendCtx, msg); err != nil {
				l.Warn("failed to send cycle notification",
					zap.String("symbol", c.Symbol), zap.Int64("cycle_id", c.CycleID), zap.Error(err))
			}
		}()
	}
}
