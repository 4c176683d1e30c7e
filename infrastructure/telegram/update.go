package telegram

import (
	"strconv"
	"strings"
)

// Update is the subset of a Bot API update the webhook reads.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *InboundMsg    `json:"message,omitempty"`
	EditedMessage *InboundMsg    `json:"edited_message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type InboundMsg struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from,omitempty"`
	Text      string `json:"text"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

type CallbackQuery struct {
	ID      string      `json:"id"`
	Data    string      `json:"data"`
	Message *InboundMsg `json:"message,omitempty"`
}

// ChatAndText extracts the chat and text to act on. ok is false for updates
// that carry neither, e.g. membership changes.
func (u Update) ChatAndText() (chatID string, text string, ok bool) {
	switch {
	case u.Message != nil:
		return strconv.FormatInt(u.Message.Chat.ID, 10), strings.TrimSpace(u.Message.Text), true
	case u.EditedMessage != nil:
		return strconv.FormatInt(u.EditedMessage.Chat.ID, 10), strings.TrimSpace(u.EditedMessage.Text), true
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil:
		return strconv.FormatInt(u.CallbackQuery.Message.Chat.ID, 10), strings.TrimSpace(u.CallbackQuery.Data), true
	}
	return "", "", false
}
