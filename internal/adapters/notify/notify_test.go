package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

type mockLogger struct {
	mu    sync.Mutex
	warns []string
	infos []string
	errs  int
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warns = append(m.warns, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs++
}

type mockChannel struct {
	mu    sync.Mutex
	sent  []domain.Event
	block chan struct{}
	err   error
}

func (m *mockChannel) Name() string { return "mock" }

func (m *mockChannel) Send(ctx context.Context, ev domain.Event) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, ev)
	return m.err
}

func (m *mockChannel) Sent() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Event(nil), m.sent...)
}

var _ ports.Notifier = (*Dispatcher)(nil)

func TestDispatcher_DeliversToAllChannels(t *testing.T) {
	logger := &mockLogger{}
	a, b := &mockChannel{}, &mockChannel{err: errors.New("down")}
	d, err := NewDispatcher(Config{Logger: logger}, a, b)
	require.NoError(t, err)

	d.Notify(context.Background(), domain.Event{Kind: domain.EventOrderFilled, Title: "Order filled"})
	require.NoError(t, d.Close(context.Background()))

	require.Len(t, a.Sent(), 1)
	assert.False(t, a.Sent()[0].At.IsZero())
	assert.Len(t, b.Sent(), 1)
	assert.Equal(t, 1, logger.errs)

	// after close, events are ignored
	d.Notify(context.Background(), domain.Event{Kind: domain.EventSystem})
	assert.Len(t, a.Sent(), 1)
}

func TestDispatcher_NeverBlocks(t *testing.T) {
	logger := &mockLogger{}
	slow := &mockChannel{block: make(chan struct{})}
	d, err := NewDispatcher(Config{Logger: logger, QueueSize: 2}, slow)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Notify(context.Background(), domain.Event{Kind: domain.EventSignal})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a slow channel")
	}
	// one event held by the worker, two queued
	assert.GreaterOrEqual(t, d.Dropped(), 7)

	close(slow.block)
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 10-d.Dropped(), len(slow.Sent()))
}

func TestDispatcher_CloseHonoursContext(t *testing.T) {
	slow := &mockChannel{block: make(chan struct{})}
	d, err := NewDispatcher(Config{Logger: &mockLogger{}}, slow)
	require.NoError(t, err)
	d.Notify(context.Background(), domain.Event{Kind: domain.EventSystem})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, d.Close(ctx))
	close(slow.block)
}

func TestTelegramChannel_Send(t *testing.T) {
	var got map[string]interface{}
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewTelegramChannel("token", "42")
	ch.baseURL = srv.URL
	err := ch.Send(context.Background(), domain.Event{
		Kind: domain.EventRiskRejected, Level: domain.LevelWarning, Title: "Risk rejected",
		Market: "KR", Instrument: "005930", Message: "daily loss halt",
	})
	require.NoError(t, err)
	assert.Equal(t, "/bottoken/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "Markdown", got["parse_mode"])
	assert.Contains(t, got["text"], "daily loss halt")

	assert.NoError(t, NewTelegramChannel("", "").Send(context.Background(), domain.Event{}))
}

func TestTelegramChannel_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ch := NewTelegramChannel("bad", "42")
	ch.baseURL = srv.URL
	assert.Error(t, ch.Send(context.Background(), domain.Event{Title: "x"}))
}

func TestFormatEvent(t *testing.T) {
	text := FormatEvent(domain.Event{
		Kind: domain.EventDailySummary, Level: domain.LevelInfo, Title: "Daily summary",
		Market: "US", Fields: map[string]string{"wins": "2", "losses": "1"},
	})
	assert.Equal(t, "ℹ️ *[DAILY_SUMMARY] Daily summary*\nUS \n\n- *losses*: 1\n- *wins*: 2", text)
}

func TestLogChannel(t *testing.T) {
	logger := &mockLogger{}
	ch := NewLogChannel(logger)
	require.NoError(t, ch.Send(context.Background(), domain.Event{Level: domain.LevelError, Title: "Cycle failed"}))
	require.NoError(t, ch.Send(context.Background(), domain.Event{Level: domain.LevelInfo, Title: "Order filled"}))
	assert.Equal(t, []string{"Cycle failed"}, logger.warns)
	assert.Contains(t, logger.infos, "Order filled")
}
