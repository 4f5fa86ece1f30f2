package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mklein/backhaul/internal/models"
	"github.com/rs/zerolog"
)

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Telegram sends run reports through the Telegram bot API.
type Telegram struct {
	httpClient HTTPClient
	cfg        models.TelegramConfig
	baseURL    string
	logger     zerolog.Logger
}

// NewTelegram creates a new Telegram channel.
func NewTelegram(logger zerolog.Logger, cfg models.TelegramConfig) *Telegram {
	return &Telegram{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cfg:        cfg,
		baseURL:    "https://api.telegram.org",
		logger:     logger,
	}
}

// NewTelegramWithClient creates a new Telegram channel with a custom HTTP
// client and base URL (for testing).
func NewTelegramWithClient(logger zerolog.Logger, cfg models.TelegramConfig, client HTTPClient, baseURL string) *Telegram {
	return &Telegram{
		httpClient: client,
		cfg:        cfg,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// Name implements Channel.
func (t *Telegram) Name() string {
	return "telegram"
}

// sendMessageRequest is the request body for the Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Send implements Channel.
func (t *Telegram) Send(ctx context.Context, rep models.RunReport) error {
	reqBody := sendMessageRequest{
		ChatID:    t.cfg.ChatID,
		Text:      formatTelegram(rep),
		ParseMode: "HTML",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

//nolint:gocognit // plain formatting of every report section
func formatTelegram(rep models.RunReport) string {
	var b bytes.Buffer

	switch rep.Status {
	case models.StatusSuccess:
		b.WriteString("✅ <b>Backup Successful</b>\n\n")
	case models.StatusPartialSuccess:
		b.WriteString("⚠️ <b>Backup Partially Successful</b>\n\n")
	default:
		b.WriteString("❌ <b>Backup Failed</b>\n\n")
	}

	b.WriteString(fmt.Sprintf("⏰ <b>Started:</b> %s\n", rep.StartedAt.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("⏱ <b>Duration:</b> %s\n", rep.Duration.Round(time.Second)))

	if rep.FailureReason != "" {
		b.WriteString(fmt.Sprintf("\n<b>Reason:</b> <code>%s</code>\n", escapeHTML(rep.FailureReason)))
	}

	if len(rep.Sources) > 0 {
		b.WriteString("\n<b>📦 Sources:</b>\n")
		for _, e := range rep.Sources {
			if e.Err != nil {
				b.WriteString(fmt.Sprintf("  • %s — packaging failed\n", escapeHTML(e.Source)))
				continue
			}
			delivered := 0
			for _, o := range e.Outcomes {
				if o.Effective() {
					delivered++
				}
			}
			size := ""
			if e.Archive != nil {
				size = ", " + humanize.Bytes(uint64(e.Archive.SizeBytes))
			}
			b.WriteString(fmt.Sprintf("  • %s — %d/%d targets%s\n",
				escapeHTML(e.Source), delivered, len(e.Outcomes), size))
		}
	}

	if len(rep.Deletions) > 0 {
		b.WriteString("\n<b>🗑 Retention:</b>\n")
		for _, d := range rep.Deletions {
			b.WriteString(fmt.Sprintf("  • %s: %d deleted of %d found\n",
				escapeHTML(d.Target), d.Deleted, d.Found))
		}
	}

	return b.String()
}

// escapeHTML escapes the characters Telegram's HTML parse mode treats specially.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	return strings.ReplaceAll(s, ">", "&gt;")
}
