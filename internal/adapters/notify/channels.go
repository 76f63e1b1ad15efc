package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

const telegramAPI = "https://api.telegram.org"

// TelegramChannel posts events to a Telegram chat through the Bot API.
type TelegramChannel struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// NewTelegramChannel returns a channel for the given bot and chat.
func NewTelegramChannel(botToken, chatID string) *TelegramChannel {
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

// Send posts the formatted event. Unconfigured channels are a no-op.
func (t *TelegramChannel) Send(ctx context.Context, ev domain.Event) error {
	if t.botToken == "" || t.chatID == "" {
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       FormatEvent(ev),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram api failed with status: %d", resp.StatusCode)
	}
	return nil
}

// FormatEvent renders ev as Markdown with fields in key order.
func FormatEvent(ev domain.Event) string {
	icon := "ℹ️"
	switch ev.Level {
	case domain.LevelWarning:
		icon = "⚠️"
	case domain.LevelError:
		icon = "❌"
	case domain.LevelCritical:
		icon = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *[%s] %s*", icon, ev.Kind, ev.Title)
	if ev.Market != "" || ev.Instrument != "" {
		fmt.Fprintf(&b, "\n%s %s", ev.Market, ev.Instrument)
	}
	if ev.Message != "" {
		fmt.Fprintf(&b, "\n\n%s", ev.Message)
	}
	if len(ev.Fields) > 0 {
		keys := make([]string, 0, len(ev.Fields))
		for k := range ev.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- *%s*: %s", k, ev.Fields[k])
		}
	}
	return b.String()
}

// LogChannel writes events to the application log; always configured so
// events are visible even without a chat channel.
type LogChannel struct {
	logger ports.Logger
}

// NewLogChannel returns a channel backed by logger.
func NewLogChannel(logger ports.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Name() string {
	return "log"
}

func (l *LogChannel) Send(ctx context.Context, ev domain.Event) error {
	fields := map[string]interface{}{
		"kind":       ev.Kind,
		"market":     ev.Market,
		"instrument": ev.Instrument,
		"detail":     ev.Message,
	}
	for k, v := range ev.Fields {
		fields[k] = v
	}
	switch ev.Level {
	case domain.LevelError, domain.LevelCritical, domain.LevelWarning:
		l.logger.Warn(ctx, ev.Title, fields)
	default:
		l.logger.Info(ctx, ev.Title, fields)
	}
	return nil
}
