// Package bot formats holiday messages and runs the per-chat
// announcement workflow on top of a messaging transport.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"holiday-telegram-bot/holiday"
)

// Messenger is the messaging transport the announcer drives.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
	PinMessage(ctx context.Context, chatID int64, messageID int) error
	UnpinMessage(ctx context.Context, chatID int64, messageID int) error
	ChatTitle(ctx context.Context, chatID int64) (string, error)
	SetChatTitle(ctx context.Context, chatID int64, title string) error
}

// PinStore remembers the pinned message per chat and the undecorated
// chat title.
type PinStore interface {
	MessageID(chatID int64) (int, bool)
	SetMessageID(chatID int64, messageID int) error
	OriginalChatTitle() (string, bool)
	SetOriginalChatTitle(title string) error
}

// Decorator maps holiday names to emoji.
type Decorator interface {
	EmojiFor(name string) (string, bool)
	Decorate(name string) string
}

// leadingDecoration matches emoji and punctuation prefixed to a chat
// title by a previous announcement run.
var leadingDecoration = regexp.MustCompile(`^[^\p{L}\p{N}]+`)

// FormatHolidayList renders a query result as a chat message.
func FormatHolidayList(res *holiday.Result, decorate func(string) string) string {
	if res == nil {
		return "Ошибка при получении праздников."
	}
	if !res.HasData() {
		if res.Notice != "" {
			return res.Notice
		}
		return "Праздников не найдено."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Праздники на %s", res.Date.Format("02.01.2006")))
	for _, h := range res.Holidays {
		sb.WriteString("\n- ")
		sb.WriteString(decorate(h))
	}
	return sb.String()
}

// Announcer posts the daily holiday announcement to a chat: unpin the
// previous announcement, refresh the chat title decoration, send, pin,
// remember the new message id.
type Announcer struct {
	messenger Messenger
	store     PinStore
	decorator Decorator
}

// NewAnnouncer creates an announcer.
func NewAnnouncer(messenger Messenger, store PinStore, decorator Decorator) *Announcer {
	return &Announcer{
		messenger: messenger,
		store:     store,
		decorator: decorator,
	}
}

// Announce runs the workflow for one chat. Only a failed send aborts
// it; every other step failure is logged and the workflow continues.
func (a *Announcer) Announce(ctx context.Context, chatID int64, res *holiday.Result) error {
	text, selectedEmoji := a.composeAnnouncement(res)

	if prevID, ok := a.store.MessageID(chatID); ok {
		if err := a.messenger.UnpinMessage(ctx, chatID, prevID); err != nil {
			slog.Warn("failed to unpin previous announcement",
				"chat_id", chatID, "message_id", prevID, "error", err)
		}
	}

	if selectedEmoji != "" {
		a.updateChatTitle(ctx, chatID, selectedEmoji)
	}

	msgID, err := a.messenger.SendMessage(ctx, chatID, text)
	if err != nil {
		return fmt.Errorf("send announcement to chat %d: %w", chatID, err)
	}

	if err := a.messenger.PinMessage(ctx, chatID, msgID); err != nil {
		slog.Warn("failed to pin announcement", "chat_id", chatID, "message_id", msgID, "error", err)
	}
	if err := a.store.SetMessageID(chatID, msgID); err != nil {
		slog.Warn("failed to record announcement message id", "chat_id", chatID, "error", err)
	}
	return nil
}

// composeAnnouncement picks the holiday to announce and its emoji.
func (a *Announcer) composeAnnouncement(res *holiday.Result) (text, selectedEmoji string) {
	if res == nil {
		return "Ошибка при получении праздников.", ""
	}
	if !res.HasData() {
		if res.Notice != "" {
			return res.Notice, ""
		}
		return "Праздников не найдено.", ""
	}

	selected, _ := holiday.SelectAutopostHoliday(res.Holidays)
	em, ok := a.decorator.EmojiFor(selected)
	if !ok {
		em = "🎉"
	}
	return fmt.Sprintf("%s Сегодня %s!", em, selected), em
}

// updateChatTitle prefixes the chat title with the day's emoji while
// preserving the undecorated title across runs. A manually renamed
// chat becomes the new original.
func (a *Announcer) updateChatTitle(ctx context.Context, chatID int64, em string) {
	current, err := a.messenger.ChatTitle(ctx, chatID)
	if err != nil {
		slog.Warn("failed to read chat title", "chat_id", chatID, "error", err)
		return
	}

	cleaned := strings.TrimSpace(leadingDecoration.ReplaceAllString(current, ""))
	orig, ok := a.store.OriginalChatTitle()
	if !ok || (cleaned != "" && cleaned != orig) {
		orig = cleaned
		if err := a.store.SetOriginalChatTitle(orig); err != nil {
			slog.Warn("failed to store original chat title", "chat_id", chatID, "error", err)
		}
	}

	newTitle := em
	if orig != "" {
		newTitle = em + " " + orig
	}
	if newTitle == current {
		return
	}
	if err := a.messenger.SetChatTitle(ctx, chatID, newTitle); err != nil {
		slog.Warn("failed to set chat title", "chat_id", chatID, "title", newTitle, "error", err)
	}
}
