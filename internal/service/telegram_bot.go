package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/voteverify/voteverify/internal/config"
)

type botResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

type BotInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type keyboardButton struct {
	Text           string `json:"text"`
	RequestContact bool   `json:"request_contact,omitempty"`
}

type replyKeyboard struct {
	Keyboard        [][]keyboardButton `json:"keyboard"`
	ResizeKeyboard  bool               `json:"resize_keyboard"`
	OneTimeKeyboard bool               `json:"one_time_keyboard"`
}

// TelegramBot is a thin Bot API client.
type TelegramBot struct {
	client *resty.Client
	token  string
	logger *logrus.Logger
}

func NewTelegramBot(cfg *config.TelegramConfig, timeout time.Duration, logger *logrus.Logger) *TelegramBot {
	return &TelegramBot{
		client: resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(timeout),
		token:  cfg.BotToken,
		logger: logger,
	}
}

// redact strips the request URL, which embeds the bot token, from a transport error.
func (b *TelegramBot) redact(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	return strings.ReplaceAll(err.Error(), b.token, "<redacted>")
}

func (b *TelegramBot) Configured() bool {
	return b.token != ""
}

func (b *TelegramBot) call(ctx context.Context, method string, payload any, result any) error {
	if !b.Configured() {
		return &ConfigError{Message: "Telegram bot token is not configured"}
	}

	var out botResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/bot%s/%s", b.token, method))
	if err != nil {
		b.logger.WithField("cause", b.redact(err)).WithField("method", method).Warn("Telegram request failed")
		return fmt.Errorf("telegram %s request failed", method)
	}

	if !out.OK {
		if out.Description != "" {
			return errors.New(out.Description)
		}
		return fmt.Errorf("telegram %s failed with status %d", method, resp.StatusCode())
	}

	if result != nil && len(out.Result) > 0 {
		if err := json.Unmarshal(out.Result, result); err != nil {
			return fmt.Errorf("failed to decode telegram %s result: %w", method, err)
		}
	}
	return nil
}

// SendMessage posts Markdown text to a chat and returns the new message id.
func (b *TelegramBot) SendMessage(ctx context.Context, chatID, text string) (int64, error) {
	var sent struct {
		MessageID int64 `json:"message_id"`
	}
	err := b.call(ctx, "sendMessage", map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}, &sent)
	return sent.MessageID, err
}

// RequestContact shows a one-time keyboard asking the user to share their phone number.
func (b *TelegramBot) RequestContact(ctx context.Context, chatID string) error {
	return b.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    "Please share your phone number to continue:",
		"reply_markup": replyKeyboard{
			Keyboard:        [][]keyboardButton{{{Text: "Share my phone number", RequestContact: true}}},
			ResizeKeyboard:  true,
			OneTimeKeyboard: true,
		},
	}, nil)
}

func (b *TelegramBot) SetWebhook(ctx context.Context, url, secretToken string) error {
	payload := map[string]any{
		"url":             url,
		"allowed_updates": []string{"message"},
	}
	if secretToken != "" {
		payload["secret_token"] = secretToken
	}
	return b.call(ctx, "setWebhook", payload, nil)
}

func (b *TelegramBot) GetMe(ctx context.Context) (*BotInfo, error) {
	var info BotInfo
	if err := b.call(ctx, "getMe", map[string]any{}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
