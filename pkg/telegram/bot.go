package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/korjavin/schedulebot/pkg/logger"
)

// Bot represents a Telegram bot instance
type Bot struct {
	api    *tgbotapi.BotAPI
	logger *logger.Logger
}

// CommandHandler is a function that handles a Telegram command
type CommandHandler func(message *tgbotapi.Message)

// MessageHandler is a function that handles a plain text message
type MessageHandler func(message *tgbotapi.Message)

// New creates a new Telegram bot instance
func New(token string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	bot := &Bot{
		api:    api,
		logger: logger.New(""),
	}

	bot.logger.Info("Telegram bot created: @%s", api.Self.UserName)
	return bot, nil
}

// Start starts the bot and listens for updates. Commands go to the matching
// command handler; every other text message goes to the default handler.
func (b *Bot) Start(commandHandlers map[string]CommandHandler, defaultHandler MessageHandler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}
		message := update.Message

		if message.IsCommand() {
			command := message.Command()
			if handler, ok := commandHandlers[command]; ok {
				b.logger.Info("Handling command: %s from user %s", command, message.From.UserName)
				handler(message)
			} else {
				b.logger.Info("Ignoring unknown command: %s", command)
			}
			continue
		}

		if message.Text != "" && defaultHandler != nil {
			defaultHandler(message)
		}
	}

	return nil
}

// Stop stops receiving updates, which makes Start return
func (b *Bot) Stop() {
	b.api.StopReceivingUpdates()
}

// Send sends a Markdown-formatted text message to a chat
func (b *Bot) Send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
