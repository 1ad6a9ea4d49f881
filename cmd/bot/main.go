package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/korjavin/schedulebot/pkg/calendar"
	"github.com/korjavin/schedulebot/pkg/config"
	"github.com/korjavin/schedulebot/pkg/dialog"
	"github.com/korjavin/schedulebot/pkg/history"
	"github.com/korjavin/schedulebot/pkg/logger"
	"github.com/korjavin/schedulebot/pkg/messages"
	"github.com/korjavin/schedulebot/pkg/openai"
	"github.com/korjavin/schedulebot/pkg/planner"
	"github.com/korjavin/schedulebot/pkg/prefs"
	"github.com/korjavin/schedulebot/pkg/schedule"
	"github.com/korjavin/schedulebot/pkg/storage"
	"github.com/korjavin/schedulebot/pkg/telegram"
	"github.com/korjavin/schedulebot/pkg/timeutil"
)

// handleTimeout bounds the work done for one incoming message
const handleTimeout = 2 * time.Minute

func main() {
	log := logger.Global
	log.Info("Starting scheduling bot...")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	store, err := storage.New(cfg.DataDir)
	if err != nil {
		log.Error("Failed to initialize storage: %v", err)
		os.Exit(1)
	}
	defer store.Close()
	store.StartGCRoutine(10 * time.Minute)

	normalizer := timeutil.NewNormalizer(cfg.Location)
	openaiClient := openai.New(cfg.OpenAIAPIKey, cfg.OpenAIAPIBase, cfg.OpenAIModel, normalizer)

	calendarClient, err := calendar.New(context.Background(), cfg.GoogleCredentialsPath, cfg.CalendarID, cfg.Location)
	if err != nil {
		log.Error("Failed to initialize calendar client: %v", err)
		os.Exit(1)
	}

	prefsManager := prefs.New(store, cfg.Location, cfg.BusinessStart, cfg.BusinessEnd)
	historyTracker := history.New(store)
	messageService := messages.New(openaiClient, cfg.Location)
	plannerService := planner.New(calendarClient, normalizer)

	bot, err := telegram.New(cfg.BotToken)
	if err != nil {
		log.Error("Failed to initialize Telegram bot: %v", err)
		os.Exit(1)
	}

	manager := dialog.New(calendarClient, openaiClient, plannerService, bot,
		historyTracker, prefsManager, messageService, cfg.DialogTTL)

	commandHandlers := map[string]telegram.CommandHandler{
		"start": func(message *tgbotapi.Message) {
			ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
			defer cancel()
			bot.Send(message.Chat.ID, messageService.Welcome(ctx))
		},
		"agenda": func(message *tgbotapi.Message) {
			chatID := message.Chat.ID
			loc := prefsManager.Location(chatID)
			day := time.Now().In(loc)

			ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
			defer cancel()

			dayStart, dayEnd := timeutil.DayBounds(day, loc)
			events, err := calendarClient.ListEvents(ctx, dayStart, dayEnd)
			if err != nil {
				log.Error("Failed to list events for chat %d: %v", chatID, err)
				bot.Send(chatID, messageService.ProcessingError("I couldn't read your calendar right now"))
				return
			}
			bot.Send(chatID, messageService.Agenda(day, events))
		},
		"free": func(message *tgbotapi.Message) {
			chatID := message.Chat.ID
			loc := prefsManager.Location(chatID)
			day := time.Now().In(loc)

			ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
			defer cancel()

			bhStart, bhEnd := prefsManager.BusinessHours(chatID)
			winStart, winEnd := timeutil.DayWindow(day, bhStart, bhEnd, loc)
			busy, err := calendarClient.ListEvents(ctx, winStart, winEnd)
			if err != nil {
				log.Error("Failed to list events for chat %d: %v", chatID, err)
				bot.Send(chatID, messageService.ProcessingError("I couldn't read your calendar right now"))
				return
			}
			gaps := schedule.FreeGaps(schedule.Window{Start: winStart, End: winEnd}, 30*time.Minute, busy)
			bot.Send(chatID, messageService.FreeSlots(day, gaps))
		},
		"timezone": func(message *tgbotapi.Message) {
			chatID := message.Chat.ID
			arg := strings.TrimSpace(message.CommandArguments())
			if arg == "" {
				bot.Send(chatID, "Usage: /timezone Europe/Berlin")
				return
			}
			if err := prefsManager.SetTimezone(chatID, arg); err != nil {
				bot.Send(chatID, "I don't recognize that timezone. Use a tz database name like Europe/Berlin.")
				return
			}
			bot.Send(chatID, "✅ Timezone set to "+arg)
		},
		"hours": func(message *tgbotapi.Message) {
			chatID := message.Chat.ID
			fields := strings.Fields(message.CommandArguments())
			if len(fields) != 2 {
				bot.Send(chatID, "Usage: /hours 9 18")
				return
			}
			startHour, err1 := strconv.Atoi(fields[0])
			endHour, err2 := strconv.Atoi(fields[1])
			if err1 != nil || err2 != nil {
				bot.Send(chatID, "Usage: /hours 9 18")
				return
			}
			if err := prefsManager.SetBusinessHours(chatID, startHour, endHour); err != nil {
				bot.Send(chatID, "Those hours don't look right. The start must be before the end, within 0..24.")
				return
			}
			bot.Send(chatID, "✅ Business hours updated")
		},
	}

	defaultHandler := func(message *tgbotapi.Message) {
		chatID := message.Chat.ID
		text := message.Text
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
			defer cancel()
			manager.HandleMessage(ctx, chatID, text)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Shutting down...")
		bot.Stop()
		store.Close()
		os.Exit(0)
	}()

	log.Info("Bot is now running. Press CTRL-C to exit.")
	if err := bot.Start(commandHandlers, defaultHandler); err != nil {
		log.Error("Error running bot: %v", err)
		os.Exit(1)
	}
}
