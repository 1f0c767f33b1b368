package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

// TelegramNotifier delivers notifications through the Telegram bot API.
// Notifications with a thumbnail go out as sendPhoto with a caption;
// text-only ones as sendMessage.
type TelegramNotifier struct {
	BaseURL string

	botToken string
	chatID   string
	client   *http.Client
}

var _ Notifier = (*TelegramNotifier)(nil)

// NewTelegram creates a notifier for the given bot token and chat.
func NewTelegram(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		BaseURL:  "https://api.telegram.org",
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Send delivers one notification.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if t.botToken == "" || t.chatID == "" {
		return fmt.Errorf("telegram bot token or chat ID not configured")
	}

	text := fmt.Sprintf("<b>%s</b>\n%s", n.Title, n.Body)

	if n.ThumbnailPath != "" {
		photo, err := os.ReadFile(n.ThumbnailPath)
		if err == nil {
			return t.sendPhoto(ctx, photo, text)
		}
		// Thumbnail missing is not fatal; fall back to text.
	}
	return t.sendMessage(ctx, text)
}

func (t *TelegramNotifier) sendMessage(ctx context.Context, text string) error {
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.methodURL("sendMessage"), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req)
}

func (t *TelegramNotifier) sendPhoto(ctx context.Context, photo []byte, caption string) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	if err := w.WriteField("chat_id", t.chatID); err != nil {
		return err
	}
	if err := w.WriteField("caption", caption); err != nil {
		return err
	}
	if err := w.WriteField("parse_mode", "HTML"); err != nil {
		return err
	}
	part, err := w.CreateFormFile("photo", "event.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(photo); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.methodURL("sendPhoto"), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return t.do(req)
}

func (t *TelegramNotifier) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.BaseURL, t.botToken, method)
}

func (t *TelegramNotifier) do(req *http.Request) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var wire struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&wire); err != nil {
		return fmt.Errorf("telegram response: %w", err)
	}
	if !wire.OK {
		return fmt.Errorf("telegram API error %d: %s", wire.ErrorCode, wire.Description)
	}
	return nil
}
