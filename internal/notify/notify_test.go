package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/limitdesk/internal/cache/memory"
	"github.com/alanyoungcy/limitdesk/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func update(event domain.OrderEventType, status domain.OrderStatus, demo bool) domain.OrderUpdate {
	return domain.OrderUpdate{
		Event: event,
		Demo:  demo,
		Order: domain.LimitOrder{
			ID:              "0xabc",
			ChainID:         1,
			Maker:           "0x1111111111111111111111111111111111111111",
			MakingAmount:    big.NewInt(100),
			TakingAmount:    big.NewInt(200),
			FilledAmount:    big.NewInt(40),
			RemainingAmount: big.NewInt(60),
			Status:          status,
		},
	}
}

func TestNotifyFiltersEventsAndDemo(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, nil, false, discard())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, update(domain.OrderEventCreated, domain.OrderStatusActive, false)))
	require.NoError(t, n.Notify(ctx, update(domain.OrderEventFilled, domain.OrderStatusFilled, true)))
	require.NoError(t, n.Notify(ctx, update(domain.OrderEventFilled, domain.OrderStatusActive, false)))
	require.NoError(t, n.Notify(ctx, update(domain.OrderEventCancelled, domain.OrderStatusCancelled, false)))

	assert.Equal(t, []string{"Order partially filled (live)", "Order cancelled (live)"}, rec.sent())
}

func TestNotifyCustomEventsIncludeDemo(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, []string{" Created "}, true, discard())

	require.NoError(t, n.Notify(context.Background(), update(domain.OrderEventCreated, domain.OrderStatusActive, true)))
	require.NoError(t, n.Notify(context.Background(), update(domain.OrderEventFilled, domain.OrderStatusFilled, true)))

	assert.Equal(t, []string{"Order created (demo)"}, rec.sent())
}

func TestNotifyContinuesPastFailingSender(t *testing.T) {
	bad := &recordingSender{err: errors.New("down")}
	good := &recordingSender{}
	n := NewNotifier([]Sender{bad, good}, nil, false, discard())

	err := n.Notify(context.Background(), update(domain.OrderEventExpired, domain.OrderStatusExpired, false))
	assert.ErrorContains(t, err, "recording: down")
	assert.Len(t, good.sent(), 1)
}

func TestFormatHandlesMissingAmounts(t *testing.T) {
	u := update(domain.OrderEventCancelled, domain.OrderStatusCancelled, false)
	u.Order.FilledAmount = nil

	title, body := Format(u)
	assert.Equal(t, "Order cancelled (live)", title)
	assert.Contains(t, body, "filled: 0\n")
	assert.Contains(t, body, "remaining: 60")
}

func TestRunForwardsBusUpdates(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, nil, false, discard())
	bus := cachemem.NewSignalBus()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx, bus) }()

	payload, err := json.Marshal(update(domain.OrderEventFilled, domain.OrderStatusFilled, false))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, domain.ChannelOrder, payload)
		_ = bus.Publish(ctx, domain.ChannelOrder, []byte("{not json"))
		return len(rec.sent()) > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notifier did not stop")
	}
	assert.Equal(t, "Order filled (live)", rec.sent()[0])
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "TOKEN", "42")
	require.NoError(t, s.Send(context.Background(), "title", "body"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "title\nbody", got["text"])
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	assert.ErrorContains(t, err, "discord: unexpected status 429: slow down")
}
