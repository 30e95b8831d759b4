package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"holiday-telegram-bot/bot"
	"holiday-telegram-bot/cache"
	"holiday-telegram-bot/calend"
	"holiday-telegram-bot/config"
	"holiday-telegram-bot/emoji"
	"holiday-telegram-bot/holiday"
	"holiday-telegram-bot/scheduler"
)

func main() {
	// Set up structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	slog.Info("starting holiday bot")

	// Load configuration
	configPath := config.GetConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	slog.Info("config loaded", "path", configPath)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		slog.Error("failed to load timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	// Bind the persisted holiday cache; a legacy single message id is
	// migrated under the first configured chat.
	store, err := cache.Load(cfg.CachePath, cfg.AutopostTime, cfg.ChatIDs[0], time.Now().In(loc))
	if err != nil {
		slog.Error("failed to load holiday cache", "path", cfg.CachePath, "error", err)
		os.Exit(1)
	}
	slog.Info("holiday cache loaded", "path", cfg.CachePath, "autopost_time", store.AutopostTime())

	client := calend.NewClient(
		calend.WithTimeout(time.Duration(cfg.FetchTimeoutSecs) * time.Second),
	)
	defer client.Close()

	service := holiday.NewService(store, client, loc, holiday.WithSourceURL(client.BaseURL()))
	emojiTable := emoji.LoadTable(cfg.EmojiPath)

	// Initialize Telegram bot
	tgBot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		slog.Error("failed to initialize Telegram bot", "error", err)
		os.Exit(1)
	}
	slog.Info("telegram bot initialized", "username", tgBot.Self.UserName)

	app := &App{
		cfg:        cfg,
		loc:        loc,
		store:      store,
		service:    service,
		emojiTable: emojiTable,
		tgBot:      tgBot,
	}
	app.announcer = bot.NewAnnouncer(&telegramMessenger{tgBot}, store, emojiTable)

	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Nightly refresh pre-fetches the lookahead pair before midnight.
	nightly := scheduler.NewNightly(loc)
	if err := nightly.Schedule(cfg.NightlyRefresh, func() {
		refreshCtx, cancelRefresh := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancelRefresh()
		if _, err := service.Refresh(refreshCtx); err != nil {
			slog.Warn("nightly refresh failed", "error", err)
		}
	}); err != nil {
		slog.Error("failed to schedule nightly refresh", "error", err)
		os.Exit(1)
	}
	nightly.Start()
	defer nightly.Stop()
	slog.Info("nightly refresh scheduled", "time", cfg.NightlyRefresh, "timezone", cfg.Timezone)

	// Autopost loop wakes at the configured time of day or when the
	// setting changes.
	autopost := scheduler.NewAutopost(store, loc, app.runAutopost)
	go func() {
		if err := autopost.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("autopost loop stopped", "error", err)
		}
	}()

	slog.Info("starting bot polling")
	app.run(ctx)
	slog.Info("bot stopped")
}

// App holds all application dependencies.
type App struct {
	cfg        *config.Config
	loc        *time.Location
	store      *cache.Store
	service    *holiday.Service
	emojiTable *emoji.Table
	tgBot      *tgbotapi.BotAPI
	announcer  *bot.Announcer
}

func (a *App) run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := a.tgBot.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		a.tgBot.StopReceivingUpdates()
	}()

	for update := range updates {
		if update.Message != nil {
			a.handleMessage(ctx, update.Message)
		}
		if update.InlineQuery != nil {
			a.handleInlineQuery(ctx, update.InlineQuery)
		}
	}
}

// runAutopost is the announcement workflow fired by the scheduler.
func (a *App) runAutopost(ctx context.Context) error {
	fireCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	res := a.service.GetToday(fireCtx, false)

	var errs []error
	for _, chatID := range a.cfg.ChatIDs {
		if err := a.announcer.Announce(fireCtx, chatID, res); err != nil {
			slog.Warn("autopost failed for chat", "chat_id", chatID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		return
	}

	chatID := msg.Chat.ID
	slog.Info("received command", "chat_id", chatID, "command", msg.Command())

	switch msg.Command() {
	case "start", "help":
		a.reply(chatID, "Бот ежедневных праздников.\n\n"+
			"/today — праздники на сегодня\n"+
			"/date ГГГГ-ММ-ДД — праздники на дату\n"+
			"/settime ЧЧ:ММ — время автопоста\n"+
			"/refresh — принудительное обновление")
	case "today":
		res := a.service.GetToday(ctx, false)
		a.reply(chatID, bot.FormatHolidayList(res, a.emojiTable.Decorate))
	case "date":
		a.handleDateCommand(ctx, chatID, strings.TrimSpace(msg.CommandArguments()))
	case "settime":
		a.handleSetTimeCommand(chatID, strings.TrimSpace(msg.CommandArguments()))
	case "refresh":
		res := a.service.GetToday(ctx, true)
		a.reply(chatID, bot.FormatHolidayList(res, a.emojiTable.Decorate))
	}
}

func (a *App) handleDateCommand(ctx context.Context, chatID int64, arg string) {
	date, err := time.ParseInLocation(cache.ISODate, arg, a.loc)
	if err != nil {
		a.reply(chatID, "Укажите дату в формате ГГГГ-ММ-ДД, например /date 2025-01-01")
		return
	}

	res, err := a.service.EnsureForDate(ctx, date)
	if err != nil {
		slog.Warn("date lookup failed", "date", arg, "error", err)
		a.reply(chatID, "Не удалось получить данные о праздниках.")
		return
	}
	a.reply(chatID, bot.FormatHolidayList(res, a.emojiTable.Decorate))
}

func (a *App) handleSetTimeCommand(chatID int64, arg string) {
	normalized, err := a.store.SetAutopostTime(arg)
	if err != nil {
		if errors.Is(err, cache.ErrInvalidTime) {
			a.reply(chatID, "Время должно быть в формате ЧЧ:ММ.")
		} else {
			slog.Warn("failed to update autopost time", "error", err)
			a.reply(chatID, "Не удалось сохранить настройку.")
		}
		return
	}
	a.reply(chatID, fmt.Sprintf("Время автопоста обновлено: %s", normalized))
}

func (a *App) handleInlineQuery(ctx context.Context, query *tgbotapi.InlineQuery) {
	res := a.service.GetToday(ctx, false)
	content := bot.FormatHolidayList(res, a.emojiTable.Decorate)

	article := tgbotapi.NewInlineQueryResultArticle("today_holidays", "Праздники сегодня", content)
	article.Description = strings.SplitN(content, "\n", 2)[0]

	inline := tgbotapi.InlineConfig{
		InlineQueryID: query.ID,
		Results:       []interface{}{article},
		CacheTime:     30,
	}
	if _, err := a.tgBot.Request(inline); err != nil {
		slog.Warn("failed to answer inline query", "error", err)
	}
}

func (a *App) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := a.tgBot.Send(msg); err != nil {
		slog.Warn("failed to send message", "chat_id", chatID, "error", err)
	}
}

// telegramMessenger adapts the Telegram API to the announcer's
// Messenger interface.
type telegramMessenger struct {
	bot *tgbotapi.BotAPI
}

func (m *telegramMessenger) SendMessage(_ context.Context, chatID int64, text string) (int, error) {
	sent, err := m.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (m *telegramMessenger) PinMessage(_ context.Context, chatID int64, messageID int) error {
	_, err := m.bot.Request(tgbotapi.PinChatMessageConfig{
		ChatID:    chatID,
		MessageID: messageID,
	})
	return err
}

func (m *telegramMessenger) UnpinMessage(_ context.Context, chatID int64, messageID int) error {
	_, err := m.bot.Request(tgbotapi.UnpinChatMessageConfig{
		ChatID:    chatID,
		MessageID: messageID,
	})
	return err
}

func (m *telegramMessenger) ChatTitle(_ context.Context, chatID int64) (string, error) {
	chat, err := m.bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return "", err
	}
	return chat.Title, nil
}

func (m *telegramMessenger) SetChatTitle(_ context.Context, chatID int64, title string) error {
	_, err := m.bot.Request(tgbotapi.SetChatTitleConfig{
		ChatID: chatID,
		Title:  title,
	})
	return err
}
