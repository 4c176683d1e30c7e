package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"retreat-photos/pkg/metrics"
	"retreat-photos/pkg/retry"
)

const (
	DefaultBaseURL = "https://api.telegram.org"

	// MaxMessageLength is the platform's limit on one text message, in characters.
	MaxMessageLength = 4096
)

var (
	ErrBotBlocked   = errors.New("bot was blocked by the recipient")
	ErrChatNotFound = errors.New("chat not found")
)

type SendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type APIResponse struct {
	OK          bool                   `json:"ok"`
	Result      map[string]interface{} `json:"result,omitempty"`
	ErrorCode   int                    `json:"error_code,omitempty"`
	Description string                 `json:"description,omitempty"`
	Parameters  *ResponseParameters    `json:"parameters,omitempty"`
}

type ResponseParameters struct {
	RetryAfter int `json:"retry_after,omitempty"`
}

// BotClient sends bot messages. Each failure is tagged with its retry
// classification so callers can tell blocked recipients from outages.
type BotClient struct {
	client  *http.Client
	baseURL string
	token   string
	policy  retry.Policy
}

type Config struct {
	BotToken string
	BaseURL  string
	Timeout  time.Duration
	Policy   retry.Policy
}

func NewBotClient(cfg Config) *BotClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &BotClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   cfg.BotToken,
		policy:  cfg.Policy,
	}
}

// SendMessage delivers text to chatID. format is a parse mode ("HTML",
// "MarkdownV2") or empty for plain text.
func (c *BotClient) SendMessage(ctx context.Context, chatID, text, format string) error {
	text, format = FitMessage(text, format)
	msg := SendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             format,
		DisableWebPagePreview: true,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = retry.Do(ctx, c.policy, func(ctx context.Context) (struct{}, error) {
		start := time.Now()
		_, err := c.call(ctx, "sendMessage", payload)
		metrics.ObserveProvider("telegram", "send_message", start, err)
		return struct{}{}, err
	})
	return err
}

// GetMe returns the bot's username. Used by the health check and to build
// deep links when no username is configured.
func (c *BotClient) GetMe(ctx context.Context) (string, error) {
	start := time.Now()
	resp, err := c.call(ctx, "getMe", []byte("{}"))
	metrics.ObserveProvider("telegram", "get_me", start, err)
	if err != nil {
		return "", err
	}
	username, _ := resp.Result["username"].(string)
	return username, nil
}

func (c *BotClient) call(ctx context.Context, method string, payload []byte) (*APIResponse, error) {
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.Transient(fmt.Errorf("failed to call %s: %w", method, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("failed to read response: %w", err))
	}

	var apiResp APIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		if resp.StatusCode >= 500 {
			return nil, retry.Transient(fmt.Errorf("telegram API error (status %d)", resp.StatusCode))
		}
		return nil, retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}

	if apiResp.OK {
		return &apiResp, nil
	}

	code := apiResp.ErrorCode
	if code == 0 {
		code = resp.StatusCode
	}
	return nil, classifyError(code, apiResp.Description, apiResp.Parameters)
}

// classifyError maps a Bot API failure onto a retry outcome.
func classifyError(code int, description string, params *ResponseParameters) error {
	lower := strings.ToLower(description)
	base := fmt.Errorf("telegram API error %d: %s", code, description)

	switch {
	case code == http.StatusForbidden || strings.Contains(lower, "blocked") || strings.Contains(lower, "deactivated"):
		return retry.Refused(fmt.Errorf("%w: %s", ErrBotBlocked, description))
	case code == http.StatusTooManyRequests:
		if params != nil && params.RetryAfter > 0 {
			return retry.After(time.Duration(params.RetryAfter)*time.Second, base)
		}
		return retry.Transient(base)
	case code >= 500:
		return retry.Transient(base)
	case code == http.StatusBadRequest && strings.Contains(lower, "chat not found"):
		return retry.Permanent(fmt.Errorf("%w: %s", ErrChatNotFound, description))
	default:
		return retry.Permanent(base)
	}
}

// Truncate cuts s to at most limit characters, marking the cut with an ellipsis.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// FitMessage makes text fit one message. A formatted text that is too long
// is sent as plain text, since a cut could land inside a tag or entity and
// the platform rejects unbalanced markup.
func FitMessage(text, format string) (string, string) {
	if len([]rune(text)) <= MaxMessageLength {
		return text, format
	}
	if strings.EqualFold(format, "HTML") {
		text = html.UnescapeString(htmlTag.ReplaceAllString(text, ""))
	}
	return Truncate(text, MaxMessageLength), ""
}

// EscapeHTML escapes the three characters the HTML parse mode reserves.
func EscapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
