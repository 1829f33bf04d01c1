package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"alertrelay/internal/domain"
	"alertrelay/internal/templatefmt"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// MaxMessageRunes bounds one outbound message below the provider's 4096 limit.
const MaxMessageRunes = 4000

// Gateway delivers one rendered message to one destination.
// Params: context, resolved destination, and HTML text.
// Returns: nil or an error matching domain.ErrDelivery.
type Gateway interface {
	Send(ctx context.Context, dest domain.Destination, text string) error
}

// TelegramGateway sends messages through the Telegram Bot API.
// Params: bot token, API base URL, and per-send timeout.
// Returns: Gateway implementation.
type TelegramGateway struct {
	client  *tgbot.Bot
	timeout time.Duration
	initErr error
}

// NewTelegramGateway creates Telegram gateway; a missing token surfaces on first Send.
// Params: bot token, API base URL, and per-send timeout.
// Returns: initialized gateway.
func NewTelegramGateway(botToken, apiBase string, timeout time.Duration) *TelegramGateway {
	gateway := &TelegramGateway{timeout: timeout}

	if strings.TrimSpace(botToken) == "" {
		gateway.initErr = errors.New("telegram bot token is required")
		return gateway
	}

	options := []tgbot.Option{tgbot.WithSkipGetMe()}
	if base := strings.TrimRight(apiBase, "/"); base != "" {
		options = append(options, tgbot.WithServerURL(base))
	}
	botClient, err := tgbot.New(botToken, options...)
	if err != nil {
		gateway.initErr = fmt.Errorf("init telegram bot: %w", err)
		return gateway
	}
	gateway.client = botClient
	return gateway
}

// Send posts text to chat (and forum topic when set) with HTML parse mode.
// Params: context, destination, and message text.
// Returns: DeliveryError on missing config, timeout, transport, or API failure.
func (g *TelegramGateway) Send(ctx context.Context, dest domain.Destination, text string) error {
	if g.initErr != nil {
		return domain.Delivery(g.initErr)
	}
	if dest.Empty() {
		return domain.Delivery(errors.New("no chat id configured"))
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	request := &tgbot.SendMessageParams{
		ChatID:    normalizeChatID(dest.ChatID),
		Text:      templatefmt.Truncate(text, MaxMessageRunes),
		ParseMode: tgmodels.ParseModeHTML,
	}
	if dest.TopicID > 0 {
		request.MessageThreadID = dest.TopicID
	}

	sent, err := g.client.SendMessage(ctx, request)
	if err != nil {
		return domain.Delivery(fmt.Errorf("telegram send: %w", err))
	}
	if sent == nil || sent.ID <= 0 {
		return domain.Delivery(errors.New("telegram send returned empty message id"))
	}
	return nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps channel usernames as string.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}

// LocalAlert is the internal relay payload.
type LocalAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// LocalClient posts local alerts to the relay's internal endpoint.
type LocalClient struct {
	url    string
	client *http.Client
}

// NewLocalClient creates relay client.
// Params: full endpoint URL and request timeout.
// Returns: client.
func NewLocalClient(url string, timeout time.Duration) *LocalClient {
	return &LocalClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Post sends one local alert; any non-2xx status is a failure.
// Params: context and alert title/body.
// Returns: DeliveryError on transport or status failure.
func (c *LocalClient) Post(ctx context.Context, title, body string) error {
	payload, err := json.Marshal(LocalAlert{Title: title, Body: body})
	if err != nil {
		return fmt.Errorf("encode local alert: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build local alert request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.client.Do(request)
	if err != nil {
		return domain.Delivery(fmt.Errorf("local alert post: %w", err))
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return domain.Delivery(unexpectedHTTPStatusError("local alert", response))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

// unexpectedHTTPStatusError formats non-2xx HTTP response with optional body.
// Params: prefix label and HTTP response.
// Returns: status-only or status+body error.
func unexpectedHTTPStatusError(prefix string, response *http.Response) error {
	rawBody, readErr := io.ReadAll(io.LimitReader(response.Body, 4<<10))
	if readErr != nil {
		return fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	}
	trimmedBody := strings.TrimSpace(string(rawBody))
	if trimmedBody == "" {
		return fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	}
	return fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
}
