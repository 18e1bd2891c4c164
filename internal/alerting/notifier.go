package alerting

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// maxListedFailures bounds the failure lines in one message; Telegram caps
// messages at 4096 characters.
const maxListedFailures = 40

// Notification 封装一次同步运行的结果。
type Notification struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Series   int
	// Inserted maps table name to rows inserted.
	Inserted map[string]int64
	// Failed maps series id to "status: message".
	Failed        map[string]string
	AdditionalMsg string
}

// Notifier 定义通知输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 通知器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("run_id", note.RunID).
		Int("failed", len(note.Failed)).
		Msg("同步报告已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[fredsync] ")
	if len(note.Failed) == 0 {
		builder.WriteString("sync ok\n")
	} else {
		builder.WriteString(fmt.Sprintf("sync finished with %d failed series\n", len(note.Failed)))
	}
	builder.WriteString(fmt.Sprintf("Run: %s\n", note.RunID))
	if !note.Finished.IsZero() {
		builder.WriteString(fmt.Sprintf("Finished: %s UTC (%s)\n",
			note.Finished.UTC().Format(time.RFC3339), note.Finished.Sub(note.Started).Round(time.Second)))
	}
	builder.WriteString(fmt.Sprintf("Series: %d\n", note.Series))

	tables := make([]string, 0, len(note.Inserted))
	for t := range note.Inserted {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		builder.WriteString(fmt.Sprintf("Inserted %s: %d\n", t, note.Inserted[t]))
	}

	if len(note.Failed) > 0 {
		ids := make([]string, 0, len(note.Failed))
		for id := range note.Failed {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		builder.WriteString("Failed:\n")
		for i, id := range ids {
			if i == maxListedFailures {
				builder.WriteString(fmt.Sprintf("... and %d more\n", len(ids)-i))
				break
			}
			builder.WriteString(fmt.Sprintf("- %s: %s\n", id, note.Failed[id]))
		}
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
