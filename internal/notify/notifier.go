// Package notify forwards order transitions to chat channels. The Notifier
// listens on the order channel of the signal bus and dispatches the events
// an operator asked for to every registered sender (Telegram, Discord).
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// DefaultEvents are forwarded when no event filter is configured.
var DefaultEvents = []domain.OrderEventType{
	domain.OrderEventFilled,
	domain.OrderEventCancelled,
	domain.OrderEventExpired,
}

// Notifier dispatches order updates to one or more Senders. Demo orders are
// skipped unless includeDemo is set.
type Notifier struct {
	senders     []Sender
	events      map[domain.OrderEventType]bool
	includeDemo bool
	logger      *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in events are forwarded; an empty list means
// DefaultEvents.
func NewNotifier(senders []Sender, events []string, includeDemo bool, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.OrderEventType]bool)
	for _, e := range events {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			allowed[domain.OrderEventType(e)] = true
		}
	}
	if len(allowed) == 0 {
		for _, e := range DefaultEvents {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:     senders,
		events:      allowed,
		includeDemo: includeDemo,
		logger:      logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is registered.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Run subscribes to domain.ChannelOrder and forwards updates until ctx is
// done. Malformed payloads and sender failures are logged and skipped.
func (n *Notifier) Run(ctx context.Context, bus domain.SignalBus) error {
	msgs, err := bus.Subscribe(ctx, domain.ChannelOrder)
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}
	n.logger.InfoContext(ctx, "notifier: started", slog.Int("senders", len(n.senders)))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			var u domain.OrderUpdate
			if err := json.Unmarshal(payload, &u); err != nil {
				n.logger.WarnContext(ctx, "notifier: malformed order update", slog.String("error", err.Error()))
				continue
			}
			_ = n.Notify(ctx, u)
		}
	}
}

// Notify sends u to all senders if it passes the event and mode filters.
func (n *Notifier) Notify(ctx context.Context, u domain.OrderUpdate) error {
	if !n.events[u.Event] || (u.Demo && !n.includeDemo) {
		n.logger.DebugContext(ctx, "notifier: event filtered out",
			slog.String("event", string(u.Event)),
			slog.String("order_id", u.Order.ID),
		)
		return nil
	}
	title, message := Format(u)
	return n.dispatch(ctx, title, message)
}

// Format renders an order update as a title and a plain text body.
func Format(u domain.OrderUpdate) (string, string) {
	mode := "live"
	if u.Demo {
		mode = "demo"
	}
	title := fmt.Sprintf("Order %s (%s)", u.Event, mode)
	if u.Event == domain.OrderEventFilled && u.Order.Status == domain.OrderStatusActive {
		title = fmt.Sprintf("Order partially filled (%s)", mode)
	}

	o := u.Order
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\nchain: %d\nmaker: %s\n", o.ID, o.ChainID, o.Maker)
	fmt.Fprintf(&b, "sell: %s of %s\nbuy: %s of %s\n", amount(o.MakingAmount), o.MakerAsset, amount(o.TakingAmount), o.TakerAsset)
	fmt.Fprintf(&b, "filled: %s\nremaining: %s\nstatus: %s", amount(o.FilledAmount), amount(o.RemainingAmount), o.Status)
	return title, b.String()
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the remaining senders; failures are joined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notifier: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notifier: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	return errors.Join(errs...)
}
