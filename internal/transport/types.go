package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
}

// ChatTarget identifies a delivery destination.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// String renders the target as a destination string ("<chat>" or
// "<chat>/<thread>"). This is the encoding kept in the subscription
// store, so it must stay stable across releases.
func (t ChatTarget) String() string {
	if t.ThreadID != 0 {
		return strconv.FormatInt(t.ChatID, 10) + "/" + strconv.Itoa(t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// ParseTarget parses a destination string produced by ChatTarget.String.
func ParseTarget(s string) (ChatTarget, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ChatTarget{}, fmt.Errorf("empty destination")
	}
	chatPart, threadPart, hasThread := strings.Cut(s, "/")
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return ChatTarget{}, fmt.Errorf("invalid destination %q: %w", s, err)
	}
	t := ChatTarget{ChatID: chatID}
	if hasThread {
		th, err := strconv.Atoi(threadPart)
		if err != nil {
			return ChatTarget{}, fmt.Errorf("invalid destination thread %q: %w", s, err)
		}
		t.ThreadID = th
	}
	return t, nil
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// BotCommand is one entry in the chat client's command menu.
type BotCommand struct {
	Command     string
	Description string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
